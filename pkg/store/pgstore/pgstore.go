// Package pgstore implements the billing stores on PostgreSQL via pgx.
//
// Every state change goes through Commit, which updates the subscription
// row conditionally on its (status, current_period_end) snapshot and
// appends the accompanying ledger record in the same transaction. Overlapping
// renewal passes therefore cannot both advance a period.
package pgstore

import (
	"context"
	"embed"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/membership"
	"github.com/dmitrymomot/speakbill/pkg/pg"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationsDir is the directory inside Migrations holding goose files.
const MigrationsDir = "migrations"

// Migrations returns the embedded goose migrations.
func Migrations() embed.FS {
	return migrations
}

// Migrate applies the embedded migrations to pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, migrations, MigrationsDir, cfg, log)
}

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements subscription.Store, ledger.Ledger, membership.Source and
// plan.Source.
type Store struct {
	db DB
}

// New creates a Store on db.
func New(db DB) *Store {
	return &Store{db: db}
}

var (
	_ subscription.Store = (*Store)(nil)
	_ ledger.Ledger      = (*Store)(nil)
	_ membership.Source  = (*Store)(nil)
	_ plan.Source        = (*Store)(nil)
)
