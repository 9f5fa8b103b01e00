/*
Package sqlite provides a SQLite-backed implementation of billing.Repository.

PURPOSE:
  Production persistence for the billing core. Every atomic operation the
  core needs (publish a run, record a receipt, advance a counter) is a
  single SQLite transaction.

KEY TABLES:
  societies:              tenants + bill/receipt counters
  policy_configurations:  versioned policy documents
  heading_definitions:    per-society charge lines
  members, member_heading_amounts
  billing_runs:           one row per generation attempt
  member_bills:           one row per (run, member)
  receipts:               immutable payments

CONSTRAINTS:
  - idx_unique_published_lot: at most one published run per (society, lot)
  - idx_unique_receipt_number: receipt numbers unique per society
  - member_bills.version: optimistic lock for receipt application

COUNTERS:
  Receipt numbers use UPDATE ... RETURNING, an atomic increment-and-fetch.
  The bill counter is moved by compare-and-set inside the publish
  transaction.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  transaction never waits on a reader holding another connection. Inside
  WithTx every read goes through the transaction.

MIGRATION:
  Schema is managed by golang-migrate from the embedded migrations/
  directory and applied on New().

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements billing.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path and applies
// migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" a single database and serializes writers
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return Open(db), nil
}

// Open wraps an already-migrated database.
func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies every pending embedded migration.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m.Close would close db too; only the source is released here.
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset clears all data (for demo reloads).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"receipts", "member_bills", "billing_runs", "member_heading_amounts", "members", "heading_definitions", "policy_configurations", "societies"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// inTx runs fn in a transaction. Caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetSociety(ctx context.Context, id billing.SocietyID) (*billing.Society, error) {
	return getSociety(ctx, ts.tx, id)
}

func (ts *txStore) GetPolicyConfiguration(ctx context.Context, id billing.SocietyID, asOf generic.TimePoint) (*billing.PolicyConfiguration, error) {
	return policyAsOf(ctx, ts.tx, id, asOf)
}

func (ts *txStore) ListMembers(ctx context.Context, id billing.SocietyID) ([]billing.Member, error) {
	return listMembers(ctx, ts.tx, id, true)
}

func (ts *txStore) ListHeadingDefinitions(ctx context.Context, id billing.SocietyID) ([]billing.HeadingDefinition, error) {
	return listHeadings(ctx, ts.tx, id)
}

func (ts *txStore) ListMemberHeadingAmounts(ctx context.Context, id billing.MemberID) ([]billing.MemberHeadingAmount, error) {
	return listMemberHeadings(ctx, ts.tx, id)
}

func (ts *txStore) GetPriorBill(ctx context.Context, id billing.MemberID, beforeLot int) (*billing.MemberBill, error) {
	return priorBill(ctx, ts.tx, id, beforeLot)
}

func (ts *txStore) IsLotPublished(ctx context.Context, id billing.SocietyID, lot int) (bool, error) {
	return lotPublished(ctx, ts.tx, id, lot)
}

func (ts *txStore) LatestPublishedRun(ctx context.Context, id billing.SocietyID) (*billing.BillingRun, error) {
	return latestPublishedRun(ctx, ts.tx, id)
}

func (ts *txStore) PersistBillingRun(ctx context.Context, pub billing.Publication) error {
	return persistRun(ctx, ts.tx, pub)
}

func (ts *txStore) RecordFailedRun(ctx context.Context, run billing.BillingRun) error {
	return insertRun(ctx, ts.tx, run)
}

func (ts *txStore) GetMemberBill(ctx context.Context, id billing.BillID) (*billing.MemberBill, error) {
	return getBill(ctx, ts.tx, id)
}

func (ts *txStore) PersistReceiptAndBillUpdate(ctx context.Context, r billing.Receipt, b billing.MemberBill, expectedVersion int) error {
	return persistReceipt(ctx, ts.tx, r, b, expectedVersion)
}

func (ts *txStore) NextReceiptNumber(ctx context.Context, id billing.SocietyID) (int, error) {
	return nextReceiptNumber(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil || tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func datePtr(ns sql.NullString) *generic.TimePoint {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	tp, err := generic.ParseDate(ns.String)
	if err != nil {
		return nil
	}
	return &tp
}

func parseDate(s string) generic.TimePoint {
	tp, _ := generic.ParseDate(s)
	return tp
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// mapError turns driver errors into generic sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%v: %w", err, generic.ErrDuplicate)
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%v: %w", err, generic.ErrConcurrentModification)
		}
	}
	return err
}

var (
	_ billing.Repository = (*Store)(nil)
	_ billing.Store      = (*txStore)(nil)
)
