// Package postgres implements the durable cache tier on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jpyc-onchain-lab/internal/storage"
	"jpyc-onchain-lab/internal/storage/migrations"
)

const (
	applicationName = "jpyc-onchain-lab"

	// The cache tier holds a handful of keys; a small pool is enough.
	defaultMaxConns    = 4
	defaultConnTimeout = 5 * time.Second
)

// Pool is the connection pool shared by the postgres stores.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server. Settings already present in
// the DSN (pool_max_conns, application_name) win over the defaults.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.ConnConfig.ConnectTimeout == 0 {
		cfg.ConnConfig.ConnectTimeout = defaultConnTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Migrate creates the cache_entries table if it does not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	ms, err := migrations.Postgres()
	if err != nil {
		return err
	}
	return migrations.Apply(ctx, func(ctx context.Context, stmt string) error {
		_, err := p.Exec(ctx, stmt)
		return err
	}, ms)
}

// SQLSTATE codes reported when the server has no room for a write.
var capacityCodes = map[string]bool{
	"53100": true, // disk_full
	"53200": true, // out_of_memory
	"54000": true, // program_limit_exceeded
}

// translate maps driver errors onto the storage sentinels.
func translate(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && capacityCodes[pgErr.Code] {
		return fmt.Errorf("%s: %w (%s)", op, storage.ErrCapacityExceeded, pgErr.Code)
	}
	return fmt.Errorf("%s: %w", op, err)
}
