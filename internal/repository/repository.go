package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"coverx/internal/models"
)

// Repository is the persistence surface for the risk and settlement engine.
// The gorm implementation is the source of truth; the memory implementation
// backs tests and development.
type Repository interface {
	// Products.
	CreateProduct(ctx context.Context, item *models.Product) error
	GetProduct(ctx context.Context, eventID string) (*models.Product, error)
	SaveProduct(ctx context.Context, item *models.Product) error
	ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)

	GetProductState(ctx context.Context, eventID string) (*models.ProductState, error)
	SaveProductState(ctx context.Context, item *models.ProductState) error

	// Coverage positions.
	GetCoveragePosition(ctx context.Context, eventID, holder string) (*models.CoveragePosition, error)
	SaveCoveragePosition(ctx context.Context, item *models.CoveragePosition) error
	SumCoverageUnits(ctx context.Context, eventID string) (decimal.Decimal, error)

	// Hedge ledger.
	GetHedgePosition(ctx context.Context, eventID, venue string) (*models.HedgePosition, error)
	SaveHedgePosition(ctx context.Context, item *models.HedgePosition) error
	ListHedgePositions(ctx context.Context, eventID string) ([]models.HedgePosition, error)
	GetHedgeBook(ctx context.Context, eventID string) (*models.HedgeBook, error)
	SaveHedgeBook(ctx context.Context, item *models.HedgeBook) error

	GetPriceSnapshot(ctx context.Context, eventID string) (*models.PriceSnapshot, error)
	SavePriceSnapshot(ctx context.Context, item *models.PriceSnapshot) error

	ListVenues(ctx context.Context) ([]models.Venue, error)
	GetVenue(ctx context.Context, name string) (*models.Venue, error)
	SaveVenue(ctx context.Context, item *models.Venue) error

	// Oracle ledger.
	ReplaceOracleAssignments(ctx context.Context, eventID string, items []models.OracleAssignment) error
	ListOracleAssignments(ctx context.Context, eventID string) ([]models.OracleAssignment, error)
	GetOracleReport(ctx context.Context, eventID, oracleID string) (*models.OracleReport, error)
	SaveOracleReport(ctx context.Context, item *models.OracleReport) error
	ListOracleReports(ctx context.Context, eventID string) ([]models.OracleReport, error)
	GetEventOutcome(ctx context.Context, eventID string) (*models.EventOutcome, error)
	SaveEventOutcome(ctx context.Context, item *models.EventOutcome) error
	GetResolutionDay(ctx context.Context, day string) (*models.ResolutionDay, error)
	SaveResolutionDay(ctx context.Context, item *models.ResolutionDay) error

	// Capital pools and layers.
	GetPoolState(ctx context.Context, name string) (*models.PoolState, error)
	SavePoolState(ctx context.Context, item *models.PoolState) error
	GetPoolShare(ctx context.Context, pool, holder string) (*models.PoolShare, error)
	SavePoolShare(ctx context.Context, item *models.PoolShare) error
	GetLayer(ctx context.Context, eventID string) (*models.Layer, error)
	SaveLayer(ctx context.Context, item *models.Layer) error

	// Breakers.
	GetBreakerState(ctx context.Context, id string) (*models.BreakerState, error)
	SaveBreakerState(ctx context.Context, item *models.BreakerState) error
	ListBreakerStates(ctx context.Context) ([]models.BreakerState, error)

	// Governance.
	SavePendingChange(ctx context.Context, item *models.PendingChange) error
	GetPendingChange(ctx context.Context, id string) (*models.PendingChange, error)
	ListPendingChanges(ctx context.Context, pendingOnly bool) ([]models.PendingChange, error)
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	SaveSetting(ctx context.Context, item *models.Setting) error
}
