package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	// Registers the pgx5:// database scheme.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/wadesk/internal/config"
	"github.com/memohai/wadesk/internal/db"
	"github.com/memohai/wadesk/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB is the PostgreSQL store driver.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB connects to postgres and applies pending migrations.
func NewDB(ctx context.Context, cfg config.PostgresConfig) (store.Driver, error) {
	if err := Migrate(cfg, true); err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &DB{pool: pool}, nil
}

// New wraps an existing pool without migrating.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Migrate runs all up migrations, or a single down step when up is false.
func Migrate(cfg config.PostgresConfig, up bool) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, db.MigrateURL(cfg))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	if up {
		err = m.Up()
	} else {
		err = m.Steps(-1)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// args collects positional parameters and hands out $n placeholders.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func parseUUID(id string) (pgtype.UUID, error) {
	if id == "" {
		return pgtype.UUID{}, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid uuid %q: %w", id, err)
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}
