// Package store is the persistent store gateway: typed upserts and range
// reads over sqlx against PostgreSQL, with native ON CONFLICT conflict
// handling on every uniqueness key.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds the connection settings.
type Config struct {
	URL          string        `yaml:"store_url"`
	PoolSize     int           `yaml:"store_pool_size"`
	PoolOverflow int           `yaml:"store_pool_overflow"`
	PoolTimeout  time.Duration `yaml:"store_pool_timeout_s"`
	PoolRecycle  time.Duration `yaml:"store_pool_recycle_s"`
	QueryTimeout time.Duration `yaml:"query_timeout_s"`
}

// DefaultConfig returns reasonable pool defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:     10,
		PoolOverflow: 5,
		PoolTimeout:  30 * time.Second,
		PoolRecycle:  30 * time.Minute,
		QueryTimeout: 10 * time.Second,
	}
}

// Open dials the store and applies pool limits.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store_url is required")
	}
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize + cfg.PoolOverflow)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(cfg.PoolRecycle)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PoolTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return db, nil
}
