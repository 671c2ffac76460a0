package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalEntry records one completed operation for audit.
type JournalEntry struct {
	OperationID    uuid.UUID
	Kind           string // "deposit" or "withdrawal"
	Principal      string
	Asset          string
	NativeAmount   decimal.Decimal
	CanonicalValue decimal.Decimal
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	CreatedAt      time.Time
}

// Journal is an append-only audit store. Recording is advisory: a journal
// failure does not roll back committed state, mirroring event publication.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
}

// NopJournal discards entries. Used when no database is configured and in
// tests.
type NopJournal struct{}

func (NopJournal) Record(ctx context.Context, e JournalEntry) error { return nil }

// PostgresJournal appends operation rows to Postgres.
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal creates a journal over db.
func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vault_journal (
			operation_id    UUID PRIMARY KEY,
			kind            TEXT NOT NULL,
			principal       TEXT NOT NULL,
			asset           TEXT NOT NULL,
			native_amount   NUMERIC NOT NULL,
			canonical_value NUMERIC NOT NULL,
			balance_before  NUMERIC NOT NULL,
			balance_after   NUMERIC NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}
	return nil
}

// Record appends one entry.
func (j *PostgresJournal) Record(ctx context.Context, e JournalEntry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO vault_journal
		 (operation_id, kind, principal, asset, native_amount, canonical_value, balance_before, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.OperationID, e.Kind, e.Principal, e.Asset,
		e.NativeAmount, e.CanonicalValue, e.BalanceBefore, e.BalanceAfter,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}
