package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/hpckit/alloc-notifier/internal/repository"
)

// Migrate applies the notifier's own schema. The allocations table is owned
// by the accounting platform and is never touched here; this service only
// reads it.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_scan_runs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ScanRunModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scan_runs_created_at ON scan_runs (created_at DESC)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ScanRunModel{})
			},
		},
	})

	return m.Migrate()
}
