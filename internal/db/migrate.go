package db

import (
	"pollmarket/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}
	return db.Gorm.AutoMigrate(
		&models.User{},
		&models.Poll{},
		&models.Vote{},
		&models.PayoutRecord{},
		&models.SeasonStat{},
		&models.Candle{},
		&models.SystemSetting{},
	)
}
