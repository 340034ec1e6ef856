package gormrepository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coverx/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Products ---------------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, item *models.Product) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetProduct(ctx context.Context, eventID string) (*models.Product, error) {
	var item models.Product
	err := s.db.WithContext(ctx).First(&item, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveProduct(ctx context.Context, item *models.Product) error {
	return s.save(ctx, item)
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := s.db.WithContext(ctx).Model(&models.Product{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var items []models.Product
	if err := query.Order("created_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetProductState(ctx context.Context, eventID string) (*models.ProductState, error) {
	var item models.ProductState
	err := s.db.WithContext(ctx).First(&item, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveProductState(ctx context.Context, item *models.ProductState) error {
	return s.save(ctx, item)
}

// --- Coverage positions -----------------------------------------------------

func (s *Store) GetCoveragePosition(ctx context.Context, eventID, holder string) (*models.CoveragePosition, error) {
	var item models.CoveragePosition
	err := s.db.WithContext(ctx).
		First(&item, "event_id = ? AND holder = ?", eventID, holder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveCoveragePosition(ctx context.Context, item *models.CoveragePosition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "holder"}},
		UpdateAll: true,
	}).Create(item).Error
}

func (s *Store) SumCoverageUnits(ctx context.Context, eventID string) (decimal.Decimal, error) {
	var raw *string
	err := s.db.WithContext(ctx).
		Model(&models.CoveragePosition{}).
		Where("event_id = ?", eventID).
		Select("SUM(units)::text").
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

// --- Hedge ledger -----------------------------------------------------------

func (s *Store) GetHedgePosition(ctx context.Context, eventID, venue string) (*models.HedgePosition, error) {
	var item models.HedgePosition
	err := s.db.WithContext(ctx).
		First(&item, "event_id = ? AND venue = ?", eventID, venue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveHedgePosition(ctx context.Context, item *models.HedgePosition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "venue"}},
		UpdateAll: true,
	}).Create(item).Error
}

func (s *Store) ListHedgePositions(ctx context.Context, eventID string) ([]models.HedgePosition, error) {
	var items []models.HedgePosition
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("venue asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetHedgeBook(ctx context.Context, eventID string) (*models.HedgeBook, error) {
	var item models.HedgeBook
	err := s.db.WithContext(ctx).First(&item, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveHedgeBook(ctx context.Context, item *models.HedgeBook) error {
	return s.save(ctx, item)
}

func (s *Store) GetPriceSnapshot(ctx context.Context, eventID string) (*models.PriceSnapshot, error) {
	var item models.PriceSnapshot
	err := s.db.WithContext(ctx).First(&item, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePriceSnapshot(ctx context.Context, item *models.PriceSnapshot) error {
	return s.save(ctx, item)
}

func (s *Store) ListVenues(ctx context.Context) ([]models.Venue, error) {
	var items []models.Venue
	if err := s.db.WithContext(ctx).Order("name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetVenue(ctx context.Context, name string) (*models.Venue, error) {
	var item models.Venue
	err := s.db.WithContext(ctx).First(&item, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveVenue(ctx context.Context, item *models.Venue) error {
	return s.save(ctx, item)
}

// --- Oracle ledger ----------------------------------------------------------

func (s *Store) ReplaceOracleAssignments(ctx context.Context, eventID string, items []models.OracleAssignment) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", eventID).Delete(&models.OracleAssignment{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

func (s *Store) ListOracleAssignments(ctx context.Context, eventID string) ([]models.OracleAssignment, error) {
	var items []models.OracleAssignment
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("oracle_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetOracleReport(ctx context.Context, eventID, oracleID string) (*models.OracleReport, error) {
	var item models.OracleReport
	err := s.db.WithContext(ctx).
		First(&item, "event_id = ? AND oracle_id = ?", eventID, oracleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveOracleReport(ctx context.Context, item *models.OracleReport) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListOracleReports(ctx context.Context, eventID string) ([]models.OracleReport, error) {
	var items []models.OracleReport
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("reported_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetEventOutcome(ctx context.Context, eventID string) (*models.EventOutcome, error) {
	var item models.EventOutcome
	err := s.db.WithContext(ctx).First(&item, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveEventOutcome(ctx context.Context, item *models.EventOutcome) error {
	return s.save(ctx, item)
}

func (s *Store) GetResolutionDay(ctx context.Context, day string) (*models.ResolutionDay, error) {
	var item models.ResolutionDay
	err := s.db.WithContext(ctx).First(&item, "day = ?", day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveResolutionDay(ctx context.Context, item *models.ResolutionDay) error {
	return s.save(ctx, item)
}

// --- Pools and layers -------------------------------------------------------

func (s *Store) GetPoolState(ctx context.Context, name string) (*models.PoolState, error) {
	var item models.PoolState
	err := s.db.WithContext(ctx).First(&item, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePoolState(ctx context.Context, item *models.PoolState) error {
	return s.save(ctx, item)
}

func (s *Store) GetPoolShare(ctx context.Context, pool, holder string) (*models.PoolShare, error) {
	var item models.PoolShare
	err := s.db.WithContext(ctx).
		First(&item, "pool = ? AND holder = ?", pool, holder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePoolShare(ctx context.Context, item *models.PoolShare) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool"}, {Name: "holder"}},
		UpdateAll: true,
	}).Create(item).Error
}

func (s *Store) GetLayer(ctx context.Context, eventID string) (*models.Layer, error) {
	var item models.Layer
	err := s.db.WithContext(ctx).First(&item, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveLayer(ctx context.Context, item *models.Layer) error {
	return s.save(ctx, item)
}

// --- Breakers ---------------------------------------------------------------

func (s *Store) GetBreakerState(ctx context.Context, id string) (*models.BreakerState, error) {
	var item models.BreakerState
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveBreakerState(ctx context.Context, item *models.BreakerState) error {
	return s.save(ctx, item)
}

func (s *Store) ListBreakerStates(ctx context.Context) ([]models.BreakerState, error) {
	var items []models.BreakerState
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Governance -------------------------------------------------------------

func (s *Store) SavePendingChange(ctx context.Context, item *models.PendingChange) error {
	return s.save(ctx, item)
}

func (s *Store) GetPendingChange(ctx context.Context, id string) (*models.PendingChange, error) {
	var item models.PendingChange
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPendingChanges(ctx context.Context, pendingOnly bool) ([]models.PendingChange, error) {
	query := s.db.WithContext(ctx).Model(&models.PendingChange{})
	if pendingOnly {
		query = query.Where("applied_at IS NULL")
	}
	var items []models.PendingChange
	if err := query.Order("proposed_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var item models.Setting
	err := s.db.WithContext(ctx).First(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveSetting(ctx context.Context, item *models.Setting) error {
	return s.save(ctx, item)
}

// save upserts a row keyed by its primary key.
func (s *Store) save(ctx context.Context, item any) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}
