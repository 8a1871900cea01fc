// Package migrations provides database migration management for drift.
package migrations

import (
	"github.com/driftserve/drift/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.MediaProfileRecord{},
				&models.MediaHealthRecord{},
				&models.ClientDetectionRule{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"client_detection_rules",
				"media_health_records",
				"media_profile_records",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
