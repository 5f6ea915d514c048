// Package postgres implements the storage interfaces on PostgreSQL using
// pgx.
package postgres

import (
	"context"
	"fmt"
	"net"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/preorder/db"
	"github.com/xenking/preorder/internal/domain/order"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// normalizeStatusSQL rewrites rows left in the legacy status vocabulary to
// the canonical names, using the same normalization as order.ParseStatus.
const normalizeStatusSQL = `UPDATE orders AS o SET status = m.canonical
	FROM unnest($1::text[], $2::text[]) AS m(spelling, canonical)
	WHERE lower(replace(replace(btrim(o.status), '-', '_'), ' ', '_')) = m.spelling
		AND o.status <> m.canonical`

// RunMigrations executes the embedded DDL schema against the pool and
// rewrites legacy order statuses.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	if _, err := NormalizeStatuses(ctx, pool); err != nil {
		return err
	}
	return nil
}

// NormalizeStatuses rewrites every order whose stored status is a legacy
// spelling and reports how many rows changed.
func NormalizeStatuses(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	spellings := order.Spellings()
	from := make([]string, 0, len(spellings))
	to := make([]string, 0, len(spellings))
	for raw, s := range spellings {
		from = append(from, raw)
		to = append(to, string(s))
	}
	tag, err := pool.Exec(ctx, normalizeStatusSQL, from, to)
	if err != nil {
		return 0, classify(err, "normalize order statuses")
	}
	return int(tag.RowsAffected()), nil
}

// classify marks connectivity failures with order.ErrUnavailable so callers
// can tell a lost database from a bad query.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isConnectivity(err) {
		return fmt.Errorf("%s: %w: %w", msg, order.ErrUnavailable, err)
	}
	return errors.Wrap(err, msg)
}

func isConnectivity(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception; 57P01..03: server shutting down.
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:3] == "57P")
	}
	return false
}
