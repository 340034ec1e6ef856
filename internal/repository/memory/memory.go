// Package memory implements repository.Repository with in-memory maps.
// Used for testing and development; not suitable for production.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"coverx/internal/models"
)

type Store struct {
	mu sync.RWMutex

	products      map[string]*models.Product
	productStates map[string]*models.ProductState
	coverage      map[string]*models.CoveragePosition // eventID|holder
	hedgePos      map[string]*models.HedgePosition    // eventID|venue
	hedgeBooks    map[string]*models.HedgeBook
	prices        map[string]*models.PriceSnapshot
	venues        map[string]*models.Venue
	assignments   map[string][]models.OracleAssignment
	reports       map[string]*models.OracleReport // eventID|oracleID
	outcomes      map[string]*models.EventOutcome
	days          map[string]*models.ResolutionDay
	pools         map[string]*models.PoolState
	shares        map[string]*models.PoolShare // pool|holder
	layers        map[string]*models.Layer
	breakers      map[string]*models.BreakerState
	changes       map[string]*models.PendingChange
	settings      map[string]*models.Setting

	nextID uint64
}

func New() *Store {
	return &Store{
		products:      map[string]*models.Product{},
		productStates: map[string]*models.ProductState{},
		coverage:      map[string]*models.CoveragePosition{},
		hedgePos:      map[string]*models.HedgePosition{},
		hedgeBooks:    map[string]*models.HedgeBook{},
		prices:        map[string]*models.PriceSnapshot{},
		venues:        map[string]*models.Venue{},
		assignments:   map[string][]models.OracleAssignment{},
		reports:       map[string]*models.OracleReport{},
		outcomes:      map[string]*models.EventOutcome{},
		days:          map[string]*models.ResolutionDay{},
		pools:         map[string]*models.PoolState{},
		shares:        map[string]*models.PoolShare{},
		layers:        map[string]*models.Layer{},
		breakers:      map[string]*models.BreakerState{},
		changes:       map[string]*models.PendingChange{},
		settings:      map[string]*models.Setting{},
	}
}

func key2(a, b string) string { return a + "|" + b }

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

// --- Products ---------------------------------------------------------------

func (s *Store) CreateProduct(_ context.Context, item *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[item.EventID]; ok {
		return fmt.Errorf("product %s already exists", item.EventID)
	}
	cp := *item
	s.products[item.EventID] = &cp
	return nil
}

func (s *Store) GetProduct(_ context.Context, eventID string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.products[eventID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveProduct(_ context.Context, item *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.products[item.EventID] = &cp
	return nil
}

func (s *Store) ListProducts(_ context.Context, activeOnly bool) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *Store) GetProductState(_ context.Context, eventID string) (*models.ProductState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.productStates[eventID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveProductState(_ context.Context, item *models.ProductState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.productStates[item.EventID] = &cp
	return nil
}

// --- Coverage positions -----------------------------------------------------

func (s *Store) GetCoveragePosition(_ context.Context, eventID, holder string) (*models.CoveragePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.coverage[key2(eventID, holder)]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveCoveragePosition(_ context.Context, item *models.CoveragePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	if cp.ID == 0 {
		cp.ID = s.id()
	}
	s.coverage[key2(item.EventID, item.Holder)] = &cp
	return nil
}

func (s *Store) SumCoverageUnits(_ context.Context, eventID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, pos := range s.coverage {
		if pos.EventID == eventID {
			sum = sum.Add(pos.Units)
		}
	}
	return sum, nil
}

// --- Hedge ledger -----------------------------------------------------------

func (s *Store) GetHedgePosition(_ context.Context, eventID, venue string) (*models.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.hedgePos[key2(eventID, venue)]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveHedgePosition(_ context.Context, item *models.HedgePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	if cp.ID == 0 {
		cp.ID = s.id()
	}
	s.hedgePos[key2(item.EventID, item.Venue)] = &cp
	return nil
}

func (s *Store) ListHedgePositions(_ context.Context, eventID string) ([]models.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HedgePosition
	for _, pos := range s.hedgePos {
		if pos.EventID == eventID {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out, nil
}

func (s *Store) GetHedgeBook(_ context.Context, eventID string) (*models.HedgeBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.hedgeBooks[eventID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveHedgeBook(_ context.Context, item *models.HedgeBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.hedgeBooks[item.EventID] = &cp
	return nil
}

func (s *Store) GetPriceSnapshot(_ context.Context, eventID string) (*models.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.prices[eventID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SavePriceSnapshot(_ context.Context, item *models.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.prices[item.EventID] = &cp
	return nil
}

func (s *Store) ListVenues(_ context.Context) ([]models.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Venue, 0, len(s.venues))
	for _, v := range s.venues {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetVenue(_ context.Context, name string) (*models.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.venues[name]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveVenue(_ context.Context, item *models.Venue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.venues[item.Name] = &cp
	return nil
}

// --- Oracle ledger ----------------------------------------------------------

func (s *Store) ReplaceOracleAssignments(_ context.Context, eventID string, items []models.OracleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]models.OracleAssignment, len(items))
	copy(cp, items)
	s.assignments[eventID] = cp
	return nil
}

func (s *Store) ListOracleAssignments(_ context.Context, eventID string) ([]models.OracleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.assignments[eventID]
	out := make([]models.OracleAssignment, len(items))
	copy(out, items)
	return out, nil
}

func (s *Store) GetOracleReport(_ context.Context, eventID, oracleID string) (*models.OracleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.reports[key2(eventID, oracleID)]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveOracleReport(_ context.Context, item *models.OracleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key2(item.EventID, item.OracleID)
	if _, ok := s.reports[k]; ok {
		return fmt.Errorf("report for %s/%s already exists", item.EventID, item.OracleID)
	}
	cp := *item
	if cp.ID == 0 {
		cp.ID = s.id()
	}
	s.reports[k] = &cp
	return nil
}

func (s *Store) ListOracleReports(_ context.Context, eventID string) ([]models.OracleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.OracleReport
	for _, r := range s.reports {
		if r.EventID == eventID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.Before(out[j].ReportedAt) })
	return out, nil
}

func (s *Store) GetEventOutcome(_ context.Context, eventID string) (*models.EventOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.outcomes[eventID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveEventOutcome(_ context.Context, item *models.EventOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.outcomes[item.EventID] = &cp
	return nil
}

func (s *Store) GetResolutionDay(_ context.Context, day string) (*models.ResolutionDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.days[day]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveResolutionDay(_ context.Context, item *models.ResolutionDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.days[item.Day] = &cp
	return nil
}

// --- Pools and layers -------------------------------------------------------

func (s *Store) GetPoolState(_ context.Context, name string) (*models.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.pools[name]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SavePoolState(_ context.Context, item *models.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.pools[item.Name] = &cp
	return nil
}

func (s *Store) GetPoolShare(_ context.Context, pool, holder string) (*models.PoolShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.shares[key2(pool, holder)]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SavePoolShare(_ context.Context, item *models.PoolShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	if cp.ID == 0 {
		cp.ID = s.id()
	}
	s.shares[key2(item.Pool, item.Holder)] = &cp
	return nil
}

func (s *Store) GetLayer(_ context.Context, eventID string) (*models.Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.layers[eventID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveLayer(_ context.Context, item *models.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.layers[item.EventID] = &cp
	return nil
}

// --- Breakers ---------------------------------------------------------------

func (s *Store) GetBreakerState(_ context.Context, id string) (*models.BreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.breakers[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveBreakerState(_ context.Context, item *models.BreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.breakers[item.ID] = &cp
	return nil
}

func (s *Store) ListBreakerStates(_ context.Context) ([]models.BreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BreakerState, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Governance -------------------------------------------------------------

func (s *Store) SavePendingChange(_ context.Context, item *models.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.changes[item.ID] = &cp
	return nil
}

func (s *Store) GetPendingChange(_ context.Context, id string) (*models.PendingChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.changes[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) ListPendingChanges(_ context.Context, pendingOnly bool) ([]models.PendingChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PendingChange
	for _, c := range s.changes {
		if pendingOnly && c.AppliedAt != nil {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.Before(out[j].ProposedAt) })
	return out, nil
}

func (s *Store) GetSetting(_ context.Context, key string) (*models.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) SaveSetting(_ context.Context, item *models.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.settings[item.Key] = &cp
	return nil
}
