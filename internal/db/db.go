package db

import (
	"context"
	"fmt"
	"time"

	"timeclock/internal/config"
	"timeclock/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the PostgreSQL backend. It implements attendance.Store,
// attendance.ScheduleStore and the employee directory used by the bot and
// the HTTP API.
type DB struct {
	*pgxpool.Pool
}

func New(ctx context.Context, config config.DatabaseConfig) (*DB, error) {
	// Create a configuration object
	cfg, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Configure connection pool and statement cache
	cfg.MaxConns = config.MaxConns
	cfg.MinConns = config.MinConns
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &DB{pool}, nil
}

// Migrate applies the embedded schema files in order. Every file is
// idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := migrations.Ordered()
	if err != nil {
		return fmt.Errorf("error listing migrations: %w", err)
	}
	for _, name := range names {
		sql, err := migrations.Read(name)
		if err != nil {
			return fmt.Errorf("error reading migration %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("error executing migration %s: %w", name, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}
