// Package oracle tracks per-event oracle committees, collects their signed
// outcome reports, and resolves events by weighted majority. A resolution
// only becomes final for payout purposes once its dispute window has passed
// undisputed.
package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"coverx/internal/config"
	"coverx/internal/fault"
	"coverx/internal/metrics"
	"coverx/internal/models"
	"coverx/internal/repository"
)

// MetricFailures is the counter fed to the oracle failure-rate breaker.
const MetricFailures = "oracle_failures"

// StatsSink accumulates failure counts. Nil disables recording.
type StatsSink interface {
	Add(name string, delta float64)
}

// Assignment is one committee seat supplied by governance.
type Assignment struct {
	OracleID string
	Kind     string
	Weight   int
}

type Service struct {
	Repo       repository.Repository
	Logger     *zap.Logger
	Cfg        config.OracleConfig
	Validators map[string]ProofValidator
	Stats      StatsSink

	// Now is swapped in tests.
	Now func() time.Time
}

func NewService(repo repository.Repository, logger *zap.Logger, cfg config.OracleConfig) *Service {
	validators := map[string]ProofValidator{}
	for _, v := range []ProofValidator{
		PriceFeedValidator{MaxAge: cfg.ProofMaxAge},
		OptimisticValidator{},
		DisputeGameValidator{},
	} {
		validators[v.Kind()] = v
	}
	return &Service{
		Repo:       repo,
		Logger:     logger,
		Cfg:        cfg,
		Validators: validators,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// ConfigureEventOracles installs the committee for an event, replacing any
// previous one. Rejected once the event has resolved.
func (s *Service) ConfigureEventOracles(ctx context.Context, eventID string, seats []Assignment) error {
	const op = "oracle.configure"
	if !models.IsEventID(eventID) {
		return fault.Newf(fault.KindValidation, op, "malformed event id %q", eventID)
	}
	if len(seats) < s.Cfg.MinOracles || len(seats) > s.Cfg.MaxOracles {
		return fault.Newf(fault.KindValidation, op, "committee size %d outside [%d,%d]", len(seats), s.Cfg.MinOracles, s.Cfg.MaxOracles)
	}
	totalWeight := 0
	seen := map[string]bool{}
	for _, seat := range seats {
		if seat.OracleID == "" {
			return fault.New(fault.KindValidation, op, "empty oracle id")
		}
		if seen[seat.OracleID] {
			return fault.Newf(fault.KindValidation, op, "duplicate oracle %q", seat.OracleID)
		}
		seen[seat.OracleID] = true
		if seat.Weight < 1 || seat.Weight > 100 {
			return fault.Newf(fault.KindValidation, op, "oracle %q weight %d outside [1,100]", seat.OracleID, seat.Weight)
		}
		totalWeight += seat.Weight
	}
	if totalWeight < s.Cfg.MinTotalWeight {
		return fault.Newf(fault.KindValidation, op, "total weight %d below minimum %d", totalWeight, s.Cfg.MinTotalWeight)
	}

	outcome, err := s.Repo.GetEventOutcome(ctx, eventID)
	if err != nil {
		return err
	}
	if outcome != nil && outcome.Resolved {
		return fault.New(fault.KindPolicy, op, "event already resolved")
	}

	items := make([]models.OracleAssignment, 0, len(seats))
	for _, seat := range seats {
		items = append(items, models.OracleAssignment{
			EventID:  eventID,
			OracleID: seat.OracleID,
			Kind:     seat.Kind,
			Weight:   seat.Weight,
		})
	}
	if err := s.Repo.ReplaceOracleAssignments(ctx, eventID, items); err != nil {
		return err
	}
	s.Logger.Info("oracle committee configured",
		zap.String("event_id", eventID),
		zap.Int("seats", len(seats)),
		zap.Int("total_weight", totalWeight))
	return nil
}

// ReportOutcome records one oracle's vote and re-evaluates consensus. Each
// oracle reports at most once per event; reports after resolution are
// rejected, as are reports once the daily resolution cap is saturated.
func (s *Service) ReportOutcome(ctx context.Context, eventID, oracleID string, outcome bool, proof datatypes.JSON) error {
	const op = "oracle.report"
	now := s.Now()

	seats, err := s.Repo.ListOracleAssignments(ctx, eventID)
	if err != nil {
		return err
	}
	var seat *models.OracleAssignment
	for i := range seats {
		if seats[i].OracleID == oracleID {
			seat = &seats[i]
			break
		}
	}
	if seat == nil {
		return fault.Newf(fault.KindValidation, op, "oracle %q is not on the committee for %s", oracleID, eventID)
	}

	existing, err := s.Repo.GetEventOutcome(ctx, eventID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Resolved {
		return fault.New(fault.KindPolicy, op, "event already resolved")
	}

	day, err := s.Repo.GetResolutionDay(ctx, now.Format("2006-01-02"))
	if err != nil {
		return err
	}
	if day != nil && day.Count >= s.Cfg.MaxResolutionsPerDay {
		return fault.New(fault.KindTripped, op, "daily resolution cap reached")
	}

	if prior, err := s.Repo.GetOracleReport(ctx, eventID, oracleID); err != nil {
		return err
	} else if prior != nil {
		return fault.Newf(fault.KindPolicy, op, "oracle %q already reported for %s", oracleID, eventID)
	}

	if validator, ok := s.Validators[seat.Kind]; ok {
		if err := validator.Validate(proof, now); err != nil {
			if s.Stats != nil {
				s.Stats.Add(MetricFailures, 1)
			}
			return err
		}
	}

	if err := s.Repo.SaveOracleReport(ctx, &models.OracleReport{
		EventID:    eventID,
		OracleID:   oracleID,
		Outcome:    outcome,
		Proof:      proof,
		ReportedAt: now,
	}); err != nil {
		return err
	}
	result := "no"
	if outcome {
		result = "yes"
	}
	metrics.OracleReports.WithLabelValues(result).Inc()
	s.Logger.Info("oracle report accepted",
		zap.String("event_id", eventID),
		zap.String("oracle_id", oracleID),
		zap.Bool("outcome", outcome))

	return s.evaluate(ctx, eventID, seats, now)
}

// evaluate recomputes weighted consensus from the stored reports and flips
// the outcome to resolved when quorum and majority are both met. A strict
// weight tie never resolves.
func (s *Service) evaluate(ctx context.Context, eventID string, seats []models.OracleAssignment, now time.Time) error {
	reports, err := s.Repo.ListOracleReports(ctx, eventID)
	if err != nil {
		return err
	}

	weightOf := map[string]int{}
	totalWeight := 0
	for _, seat := range seats {
		weightOf[seat.OracleID] = seat.Weight
		totalWeight += seat.Weight
	}

	var yesWeight, noWeight int
	for _, r := range reports {
		if r.Outcome {
			yesWeight += weightOf[r.OracleID]
		} else {
			noWeight += weightOf[r.OracleID]
		}
	}

	// Quorum: enough of the committee has spoken.
	if len(reports)*100 < s.Cfg.QuorumPct*len(seats) {
		return nil
	}
	if yesWeight == noWeight {
		return nil
	}
	winning, winningWeight := true, yesWeight
	if noWeight > yesWeight {
		winning, winningWeight = false, noWeight
	}
	// Majority is measured against the configured weight, not the reported
	// weight, so missing reports count against resolution.
	if winningWeight*100 < s.Cfg.MajorityPct*totalWeight {
		return nil
	}

	deadline := now.Add(s.Cfg.DisputeWindow)
	confidence := decimal.NewFromInt(int64(winningWeight)).Div(decimal.NewFromInt(int64(totalWeight)))
	outcome := &models.EventOutcome{
		EventID:         eventID,
		Resolved:        true,
		Outcome:         winning,
		Confidence:      confidence,
		ConsensusWeight: winningWeight,
		ResolvedAt:      &now,
		DisputeDeadline: &deadline,
	}
	if err := s.Repo.SaveEventOutcome(ctx, outcome); err != nil {
		return err
	}
	if err := s.bumpResolutionDay(ctx, now); err != nil {
		return err
	}
	s.Logger.Info("event resolved by consensus",
		zap.String("event_id", eventID),
		zap.Bool("outcome", winning),
		zap.String("confidence", confidence.String()),
		zap.Time("dispute_deadline", deadline))
	return nil
}

func (s *Service) bumpResolutionDay(ctx context.Context, now time.Time) error {
	key := now.Format("2006-01-02")
	day, err := s.Repo.GetResolutionDay(ctx, key)
	if err != nil {
		return err
	}
	if day == nil {
		day = &models.ResolutionDay{Day: key}
	}
	day.Count++
	return s.Repo.SaveResolutionDay(ctx, day)
}

// RaiseDispute flags a resolved outcome inside its dispute window and
// extends the deadline by a full window. A disputed outcome is withheld from
// settlement until an operator rules.
func (s *Service) RaiseDispute(ctx context.Context, eventID string) error {
	const op = "oracle.dispute"
	outcome, err := s.Repo.GetEventOutcome(ctx, eventID)
	if err != nil {
		return err
	}
	if outcome == nil || !outcome.Resolved {
		return fault.New(fault.KindValidation, op, "event is not resolved")
	}
	now := s.Now()
	if outcome.DisputeDeadline == nil || now.After(*outcome.DisputeDeadline) {
		return fault.New(fault.KindPolicy, op, "dispute window has closed")
	}
	if outcome.Disputed {
		return fault.New(fault.KindPolicy, op, "already disputed")
	}
	extended := now.Add(s.Cfg.DisputeWindow)
	outcome.Disputed = true
	outcome.DisputeDeadline = &extended
	if err := s.Repo.SaveEventOutcome(ctx, outcome); err != nil {
		return err
	}
	s.Logger.Warn("outcome disputed",
		zap.String("event_id", eventID),
		zap.Time("extended_deadline", extended))
	return nil
}

// ResolveDispute is the operator ruling on a disputed outcome. The ruling is
// final: full confidence, no further dispute window.
func (s *Service) ResolveDispute(ctx context.Context, eventID string, finalOutcome bool) error {
	const op = "oracle.resolve_dispute"
	outcome, err := s.Repo.GetEventOutcome(ctx, eventID)
	if err != nil {
		return err
	}
	if outcome == nil || !outcome.Disputed {
		return fault.New(fault.KindValidation, op, "event has no open dispute")
	}
	now := s.Now()
	outcome.Outcome = finalOutcome
	outcome.Disputed = false
	outcome.Confidence = decimal.NewFromInt(1)
	outcome.ResolvedAt = &now
	outcome.DisputeDeadline = nil
	if err := s.Repo.SaveEventOutcome(ctx, outcome); err != nil {
		return err
	}
	s.Logger.Warn("dispute ruled", zap.String("event_id", eventID), zap.Bool("outcome", finalOutcome))
	return nil
}

// EmergencyResolve force-resolves an event by operator action, bypassing
// consensus. The result is immediately final.
func (s *Service) EmergencyResolve(ctx context.Context, eventID string, outcome bool) error {
	const op = "oracle.emergency_resolve"
	if !models.IsEventID(eventID) {
		return fault.Newf(fault.KindValidation, op, "malformed event id %q", eventID)
	}
	existing, err := s.Repo.GetEventOutcome(ctx, eventID)
	if err != nil {
		return err
	}
	now := s.Now()
	record := &models.EventOutcome{EventID: eventID}
	if existing != nil {
		record = existing
	}
	record.Resolved = true
	record.Outcome = outcome
	record.Confidence = decimal.NewFromInt(1)
	record.Disputed = false
	record.ResolvedAt = &now
	record.DisputeDeadline = nil
	if err := s.Repo.SaveEventOutcome(ctx, record); err != nil {
		return err
	}
	if err := s.bumpResolutionDay(ctx, now); err != nil {
		return err
	}
	s.Logger.Warn("event emergency-resolved", zap.String("event_id", eventID), zap.Bool("outcome", outcome))
	return nil
}

// Final returns the outcome once it is settlement-grade: resolved,
// undisputed, and past the dispute window (or ruled final). Callers that
// cannot yet rely on the outcome get a policy fault.
func (s *Service) Final(ctx context.Context, eventID string) (*models.EventOutcome, error) {
	const op = "oracle.final"
	outcome, err := s.Repo.GetEventOutcome(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if outcome == nil || !outcome.Resolved {
		return nil, fault.New(fault.KindPolicy, op, "event is not resolved")
	}
	if outcome.Disputed {
		return nil, fault.New(fault.KindPolicy, op, "outcome is under dispute")
	}
	if outcome.DisputeDeadline != nil && s.Now().Before(*outcome.DisputeDeadline) {
		return nil, fault.New(fault.KindPolicy, op, "dispute window still open")
	}
	return outcome, nil
}

// Status returns the raw outcome record for observers, resolved or not.
func (s *Service) Status(ctx context.Context, eventID string) (*models.EventOutcome, []models.OracleReport, error) {
	outcome, err := s.Repo.GetEventOutcome(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	reports, err := s.Repo.ListOracleReports(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	return outcome, reports, nil
}
