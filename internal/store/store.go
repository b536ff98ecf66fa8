// Package store provides the data access layer. All coordination between
// worker processes happens through this package: the claim and complete
// operations are single atomic statements using pgx native SQL, so the
// database rows themselves act as the mutual-exclusion primitive. Dynamic
// list queries use squirrel; everything else is hand-written SQL.
package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// psql is the squirrel statement builder configured for Postgres
// ($1-style placeholders).
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is the central data access object backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need raw access
// (health checks, test assertions).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// withTx runs fn inside a pgx transaction. The transaction is committed if
// fn returns nil, rolled back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on panic or fn error
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
