// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tuckshop-za/tuckshop/migrations"
)

// One container per test binary; the testcontainers reaper removes it when
// the process exits.
var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// Postgres returns a migrated, empty database for an integration test.
//
//	db := testutil.Postgres(t)
//
// POSTGRES_URL points at an existing database. Without it, TESTCONTAINERS=1
// starts a disposable postgres container; otherwise the test is skipped.
// Application tables are truncated before the test runs and the handle is
// closed when it ends.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		if os.Getenv("TESTCONTAINERS") != "1" {
			t.Skip("set POSTGRES_URL or TESTCONTAINERS=1 to run postgres tests")
		}
		containerOnce.Do(func() { containerDSN, containerErr = startContainer(ctx) })
		if containerErr != nil {
			t.Fatalf("pgtest: start postgres container: %v", containerErr)
		}
		dsn = containerDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("pgtest: ping: %v", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		t.Fatalf("pgtest: goose provider: %v", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		t.Fatalf("pgtest: migrate: %v", err)
	}
	if err := truncate(ctx, db); err != nil {
		t.Fatalf("pgtest: truncate: %v", err)
	}
	return db
}

func startContainer(ctx context.Context) (string, error) {
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tuckshop_test"),
		tcpostgres.WithUsername("tuckshop"),
		tcpostgres.WithPassword("tuckshop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return "", err
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return "", err
	}
	return dsn, nil
}

// truncate empties the application tables, leaving goose's bookkeeping.
func truncate(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `
		SELECT quote_ident(tablename) FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'goose_db_version'`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil || len(tables) == 0 {
		return err
	}
	_, err = db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" RESTART IDENTITY CASCADE") // #nosec G202 -- names from pg_tables
	return err
}
