package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/6587027/VipStore-sub001/models"
)

//go:embed sql/*.sql
var embedded embed.FS

func newProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectPostgres, db, fsys)
}

// Up applies every pending postgres migration and returns the versions applied.
func Up(ctx context.Context, db *sql.DB) ([]int64, error) {
	provider, err := newProvider(db)
	if err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: up: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

func Status(ctx context.Context, db *sql.DB) ([]*goose.MigrationStatus, error) {
	provider, err := newProvider(db)
	if err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return provider.Status(ctx)
}

// Apply brings the schema up to date: goose migrations on postgres, gorm
// AutoMigrate on sqlite.
func Apply(ctx context.Context, db *gorm.DB, driver string) error {
	if driver == models.DriverSQLite {
		return models.AutoMigrateAll(db)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	_, err = Up(ctx, sqlDB)
	return err
}
