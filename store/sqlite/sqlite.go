/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  One database holds the cash-flow ledger and the booking tables the
  reconciliation engine reads. The same Store value satisfies every
  contract the engine and the API need.

INTERFACES IMPLEMENTED:
  cashflow.Store:        ledger entries
  booking.Reader:        appointments, service links, services
  booking.StatusWriter:  atomic status swap
  reconcile.RunStore:    repair run history
  api.RoleResolver:      user roles for the admin guard

KEY TABLES:
  cash_flow:             flat ledger, amounts in major units (TEXT decimal)
  appointments:          booking rows, status stored canonical lowercase
  services:              catalogue, prices in minor units
  appointment_services:  ordered appointment -> service links
  reconciliation_runs:   ValidateAndFix history
  user_roles:            user id -> role

INDEXES:
  idx_cash_flow_appointment is UNIQUE on appointment_id WHERE NOT NULL.
  It closes the check-then-insert race: the second concurrent insert for
  an appointment fails and is reported as cashflow.ErrDuplicateAppointment.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/cashflow.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - booking.go: booking tables
  - store/postgres: the same contracts on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/cashflow-engine/cashflow"
	"github.com/warp/cashflow-engine/reconcile"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Cash flow ledger
	CREATE TABLE IF NOT EXISTS cash_flow (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('INCOME', 'EXPENSE', 'PRODUCT_SALE', 'REFUND')),
		category TEXT NOT NULL DEFAULT 'service',
		description TEXT NOT NULL DEFAULT '',
		appointment_id INTEGER,
		product_id INTEGER,
		professional_id INTEGER,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one entry per appointment
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_flow_appointment
		ON cash_flow(appointment_id) WHERE appointment_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_cash_flow_date
		ON cash_flow(date);
	CREATE INDEX IF NOT EXISTS idx_cash_flow_type
		ON cash_flow(type);
	CREATE INDEX IF NOT EXISTS idx_cash_flow_category
		ON cash_flow(category);

	-- Service catalogue
	CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		price INTEGER NOT NULL DEFAULT 0
	);

	-- Appointments
	CREATE TABLE IF NOT EXISTS appointments (
		id INTEGER PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'scheduled',
		date TEXT NOT NULL,
		completed_at TEXT,
		professional_id INTEGER,
		client_name TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_appointments_status
		ON appointments(status);
	CREATE INDEX IF NOT EXISTS idx_appointments_date
		ON appointments(date);

	CREATE TABLE IF NOT EXISTS appointment_services (
		appointment_id INTEGER NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
		service_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (appointment_id, position)
	);

	-- Repair runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		trigger TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		with_transaction INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error_details_json TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at);

	-- User roles
	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT PRIMARY KEY,
		role TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CASH FLOW STORE (cashflow.Store interface)
// =============================================================================

const entryColumns = `id, date, amount, type, category, description,
	appointment_id, product_id, professional_id, created_at`

// Insert adds an entry to the ledger.
func (s *Store) Insert(ctx context.Context, tx cashflow.NewTransaction) (cashflow.Entry, error) {
	tx, err := tx.Normalize()
	if err != nil {
		return cashflow.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_flow
		(date, amount, type, category, description, appointment_id, product_id, professional_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.Date.Format(cashflow.DateLayout),
		tx.Amount.String(),
		string(tx.Type),
		tx.Category,
		tx.Description,
		nullInt(tx.AppointmentID),
		nullInt(tx.ProductID),
		nullInt(tx.ProfessionalID),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return cashflow.Entry{}, cashflow.ErrDuplicateAppointment
		}
		return cashflow.Entry{}, fmt.Errorf("failed to insert cash flow entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return cashflow.Entry{}, fmt.Errorf("failed to read inserted id: %w", err)
	}

	return cashflow.Entry{
		ID:             id,
		Date:           tx.Date,
		Amount:         tx.Amount,
		Type:           tx.Type,
		Category:       tx.Category,
		Description:    tx.Description,
		AppointmentID:  tx.AppointmentID,
		ProductID:      tx.ProductID,
		ProfessionalID: tx.ProfessionalID,
		CreatedAt:      createdAt.Truncate(time.Second),
	}, nil
}

// Delete removes an entry and returns the deleted row.
func (s *Store) Delete(ctx context.Context, id int64) (cashflow.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cashflow.Entry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	row := sqlTx.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM cash_flow WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cashflow.Entry{}, cashflow.ErrEntryNotFound
	}
	if err != nil {
		return cashflow.Entry{}, err
	}

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM cash_flow WHERE id = ?", id); err != nil {
		return cashflow.Entry{}, fmt.Errorf("failed to delete cash flow entry: %w", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return cashflow.Entry{}, err
	}
	return e, nil
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, id int64) (cashflow.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM cash_flow WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cashflow.Entry{}, cashflow.ErrEntryNotFound
	}
	return e, err
}

// List returns entries matching the filter, ordered by date then id.
func (s *Store) List(ctx context.Context, filter cashflow.Filter) ([]cashflow.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.From != nil {
		where = append(where, "date >= ?")
		args = append(args, filter.From.Format(cashflow.DateLayout))
	}
	if filter.To != nil {
		where = append(where, "date <= ?")
		args = append(args, filter.To.Format(cashflow.DateLayout))
	}
	if filter.Type != nil {
		where = append(where, "type = ?")
		args = append(args, string(*filter.Type))
	}
	if filter.Category != nil {
		where = append(where, "category = ?")
		args = append(args, *filter.Category)
	}
	if filter.AppointmentID != nil {
		where = append(where, "appointment_id = ?")
		args = append(args, *filter.AppointmentID)
	}

	query := "SELECT " + entryColumns + " FROM cash_flow"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flow: %w", err)
	}
	defer rows.Close()

	entries := []cashflow.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExistsForAppointment checks if an entry references the appointment.
func (s *Store) ExistsForAppointment(ctx context.Context, appointmentID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cash_flow WHERE appointment_id = ?",
		appointmentID,
	).Scan(&count)

	return count > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (cashflow.Entry, error) {
	var (
		e                                        cashflow.Entry
		date, amount, entryType, createdAt       string
		appointmentID, productID, professionalID sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &date, &amount, &entryType, &e.Category, &e.Description,
		&appointmentID, &productID, &professionalID, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan cash flow entry: %w", err)
	}

	if e.Date, err = time.Parse(cashflow.DateLayout, date); err != nil {
		return e, fmt.Errorf("entry %d has malformed date %q: %w", e.ID, date, err)
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return e, fmt.Errorf("entry %d has malformed amount %q: %w", e.ID, amount, err)
	}
	e.Type = cashflow.EntryType(entryType)
	e.AppointmentID = int64Ptr(appointmentID)
	e.ProductID = int64Ptr(productID)
	e.ProfessionalID = int64Ptr(professionalID)
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return e, fmt.Errorf("entry %d has malformed created_at %q: %w", e.ID, createdAt, err)
	}
	return e, nil
}

// =============================================================================
// RECONCILIATION RUNS STORE (reconcile.RunStore interface)
// =============================================================================

// runTimeLayout sorts lexicographically, unlike RFC3339Nano.
const runTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SaveRun records a repair run.
func (s *Store) SaveRun(ctx context.Context, run reconcile.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	details, err := json.Marshal(run.Report.ErrorDetails)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, trigger, started_at, finished_at,
			total, with_transaction, created, skipped, errors, error_details_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, string(run.Trigger),
		run.StartedAt.UTC().Format(runTimeLayout), run.FinishedAt.UTC().Format(runTimeLayout),
		run.Report.Total, run.Report.WithTransaction, run.Report.Created,
		run.Report.Skipped, run.Report.Errors, string(details), nullString(run.Err),
	)
	return err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]reconcile.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger, started_at, finished_at, total, with_transaction,
			created, skipped, errors, error_details_json, error
		FROM reconciliation_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []reconcile.Run{}
	for rows.Next() {
		var (
			r                   reconcile.Run
			trigger             string
			startedAt, finished string
			details, runErr     sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &trigger, &startedAt, &finished,
			&r.Report.Total, &r.Report.WithTransaction, &r.Report.Created,
			&r.Report.Skipped, &r.Report.Errors, &details, &runErr,
		); err != nil {
			return nil, err
		}
		r.Trigger = reconcile.Trigger(trigger)
		if r.StartedAt, err = time.Parse(runTimeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(runTimeLayout, finished); err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", r.ID, err)
		}
		r.Err = runErr.String
		r.Report.ErrorDetails = []reconcile.ItemError{}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &r.Report.ErrorDetails); err != nil {
				return nil, fmt.Errorf("run %s error details: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// USER ROLES (api.RoleResolver interface)
// =============================================================================

// SaveUserRole assigns a role to a user.
func (s *Store) SaveUserRole(ctx context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET role = excluded.role
	`, userID, role)
	return err
}

// ResolveRole returns the user's role, or "" when the user has none.
func (s *Store) ResolveRole(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var role string
	err := s.db.QueryRowContext(ctx, "SELECT role FROM user_roles WHERE user_id = ?", userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used by the scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"cash_flow", "appointment_services", "appointments", "services", "reconciliation_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
