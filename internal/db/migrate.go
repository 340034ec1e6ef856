package db

import (
	"coverx/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Product{},
		&models.ProductState{},
		&models.CoveragePosition{},
		&models.Venue{},
		&models.HedgePosition{},
		&models.HedgeBook{},
		&models.PriceSnapshot{},
		&models.OracleAssignment{},
		&models.OracleReport{},
		&models.EventOutcome{},
		&models.ResolutionDay{},
		&models.PoolState{},
		&models.PoolShare{},
		&models.Layer{},
		&models.BreakerState{},
		&models.PendingChange{},
		&models.Setting{},
	)
}
