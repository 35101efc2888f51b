package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
)

//go:embed schema.sql
var Schema string

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Postgres is the production Store. It expects a *sql.DB opened with the pgx
// stdlib driver.
type Postgres struct {
	db  *sql.DB
	clk clock.Clock
}

func NewPostgres(db *sql.DB, clk clock.Clock) *Postgres {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Postgres{db: db, clk: clk}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	dbtx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		_ = dbtx.Rollback()
	}()

	if err := fn(ctx, &pgTx{tx: dbtx, clk: p.clk}); err != nil {
		return err
	}
	return mapError(dbtx.Commit())
}

// mapError translates driver errors into the store's sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Message)
		}
	}
	return err
}

type pgTx struct {
	tx  *sql.Tx
	clk clock.Clock
}

// jsonArg renders a JSON column argument; empty payloads become an empty object.
func jsonArg(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
