package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pool sizing is modest: the API surface is thin and the harvester ingests
// one item at a time, so PRS never needs a large pool.
const (
	defaultMaxConns     = 10
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 15 * time.Minute
)

// DB wraps the pgxpool shared by every repository. Mutations run through
// InTx; reads outside a transaction reach the pool via QuerierFrom.
type DB struct {
	*pgxpool.Pool
}

// Config tunes the connection pool.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewConnection opens and pings the pool, then looks for the PostGIS
// extension the spatial repositories depend on. A missing extension is only
// a warning here because the first migration installs it.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConnections
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = defaultMaxConns
	}
	if poolCfg.MaxConnLifetime <= 0 {
		poolCfg.MaxConnLifetime = defaultConnLifetime
	}
	if poolCfg.MaxConnIdleTime <= 0 {
		poolCfg.MaxConnIdleTime = defaultConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var postgisVersion string
	err = pool.QueryRow(ctx,
		`SELECT extversion FROM pg_extension WHERE extname = 'postgis'`).Scan(&postgisVersion)
	if err != nil {
		logger.Warn("PostGIS extension not installed; spatial queries will fail until migrations run")
	} else {
		logger.Info("connected to database", zap.String("postgis_version", postgisVersion))
	}

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
