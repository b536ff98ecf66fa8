// Package testutil starts a Postgres testcontainer with all migrations
// applied. Use NewTestDB(t) in integration tests that need a real database.
package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/cananengin/pg-workflow-queue/internal/store"
	"github.com/cananengin/pg-workflow-queue/migrations"
)

// TestDB wraps a Store backed by a throwaway Postgres container.
type TestDB struct {
	*store.Store
}

// NewTestDB starts a Postgres testcontainer, runs all migrations, and returns
// a TestDB backed by it. The container and pool are cleaned up via t.Cleanup.
// The pool uses pgx's default extended query protocol.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	return newTestDB(t, pgx.QueryExecModeCacheStatement)
}

// NewSimpleProtocolTestDB is NewTestDB with QueryExecModeSimpleProtocol
// forced on the pool, matching the binary's default DB_QUERY_EXEC_MODE.
// Parameter encoding differs between the protocols, so statements binding
// jsonb or interval values need coverage under this mode too.
func NewSimpleProtocolTestDB(t *testing.T) *TestDB {
	t.Helper()
	return newTestDB(t, pgx.QueryExecModeSimpleProtocol)
}

func newTestDB(t *testing.T, execMode pgx.QueryExecMode) *TestDB {
	t.Helper()
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("workflow_queue_test"),
		tcpostgres.WithUsername("workflow_queue_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	// Same migration pattern as the binary's migrate subcommand: embedded
	// SQL files through golang-migrate over the pgx stdlib adapter.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse db url: %v", err)
	}
	poolCfg.ConnConfig.DefaultQueryExecMode = execMode

	db := stdlib.OpenDB(*poolCfg.ConnConfig)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		t.Fatalf("migration driver: %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{Store: store.New(pool)}
}
