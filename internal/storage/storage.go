package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
)

// Store is an opened, migrated repository and the engine it runs on.
type Store struct {
	clinic.Repository
	Driver string
}

// Open connects to the configured engine and applies the schema. When the
// primary engine cannot be reached and a fallback is configured, the fallback
// is tried once. There is no switching after startup.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Store, error) {
	repo, err := openDriver(ctx, cfg, cfg.StorageDriver)
	if err == nil {
		return migrate(ctx, repo, cfg.StorageDriver)
	}
	if cfg.StorageFallback == "" {
		return nil, err
	}

	logger.Warn("primary storage unavailable, using fallback",
		zap.String("driver", cfg.StorageDriver),
		zap.String("fallback", cfg.StorageFallback),
		zap.Error(err),
	)

	repo, fbErr := openDriver(ctx, cfg, cfg.StorageFallback)
	if fbErr != nil {
		return nil, fmt.Errorf("%w; fallback: %v", err, fbErr)
	}
	return migrate(ctx, repo, cfg.StorageFallback)
}

func openDriver(ctx context.Context, cfg config.Config, driver string) (clinic.Repository, error) {
	switch driver {
	case config.DriverPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
		if err != nil {
			return nil, err
		}
		return clinic.NewPgRepository(pool), nil

	case config.DriverMySQL:
		conn, err := db.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		repo, err := clinic.NewSQLRepository(conn, clinic.DialectMySQL)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return repo, nil

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		repo, err := clinic.NewSQLRepository(conn, clinic.DialectSQLite)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

func migrate(ctx context.Context, repo clinic.Repository, driver string) (*Store, error) {
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("migrate %s: %w", driver, err)
	}
	return &Store{Repository: repo, Driver: driver}, nil
}
