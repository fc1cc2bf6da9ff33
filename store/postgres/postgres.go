// Package postgres implements the cash-flow, booking and run stores on
// PostgreSQL through the pgx database/sql driver.
//
// The contracts match store/sqlite. Differences: amounts are NUMERIC(14,2),
// dates are DATE, and SwapStatus locks the appointment row with
// SELECT ... FOR UPDATE instead of a process mutex.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
	"github.com/warp/cashflow-engine/reconcile"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

// New connects, pings and migrates.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cash_flow (
			id BIGSERIAL PRIMARY KEY,
			date DATE NOT NULL,
			amount NUMERIC(14,2) NOT NULL CHECK (amount >= 0),
			type TEXT NOT NULL CHECK (type IN ('INCOME', 'EXPENSE', 'PRODUCT_SALE', 'REFUND')),
			category TEXT NOT NULL DEFAULT 'service',
			description TEXT NOT NULL DEFAULT '',
			appointment_id BIGINT,
			product_id BIGINT,
			professional_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_flow_appointment
			ON cash_flow(appointment_id) WHERE appointment_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_cash_flow_date ON cash_flow(date);

		CREATE TABLE IF NOT EXISTS services (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			price BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS appointments (
			id BIGINT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'scheduled',
			date DATE NOT NULL,
			completed_at TIMESTAMPTZ,
			professional_id BIGINT,
			client_name TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status);

		CREATE TABLE IF NOT EXISTS appointment_services (
			appointment_id BIGINT NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
			service_id BIGINT NOT NULL,
			position INT NOT NULL,
			PRIMARY KEY (appointment_id, position)
		);

		CREATE TABLE IF NOT EXISTS reconciliation_runs (
			id UUID PRIMARY KEY,
			trigger TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			total INT NOT NULL DEFAULT 0,
			with_transaction INT NOT NULL DEFAULT 0,
			created INT NOT NULL DEFAULT 0,
			skipped INT NOT NULL DEFAULT 0,
			errors INT NOT NULL DEFAULT 0,
			error_details JSONB NOT NULL DEFAULT '[]',
			error TEXT
		);

		CREATE TABLE IF NOT EXISTS user_roles (
			user_id TEXT PRIMARY KEY,
			role TEXT NOT NULL
		);
	`)
	return err
}

// --- cash flow ---

const entryColumns = `id, date, amount, type, category, description,
	appointment_id, product_id, professional_id, created_at`

func (s *Store) Insert(ctx context.Context, tx cashflow.NewTransaction) (cashflow.Entry, error) {
	tx, err := tx.Normalize()
	if err != nil {
		return cashflow.Entry{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO cash_flow
			(date, amount, type, category, description, appointment_id, product_id, professional_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+entryColumns,
		tx.Date, tx.Amount, string(tx.Type), tx.Category, tx.Description,
		nullInt(tx.AppointmentID), nullInt(tx.ProductID), nullInt(tx.ProfessionalID),
	)
	e, err := scanEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			return cashflow.Entry{}, cashflow.ErrDuplicateAppointment
		}
		return cashflow.Entry{}, err
	}
	return e, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (cashflow.Entry, error) {
	row := s.db.QueryRowContext(ctx, `DELETE FROM cash_flow WHERE id = $1 RETURNING `+entryColumns, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cashflow.Entry{}, cashflow.ErrEntryNotFound
	}
	return e, err
}

func (s *Store) Get(ctx context.Context, id int64) (cashflow.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM cash_flow WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cashflow.Entry{}, cashflow.ErrEntryNotFound
	}
	return e, err
}

func (s *Store) List(ctx context.Context, filter cashflow.Filter) ([]cashflow.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.From != nil {
		add("date >= $%d", cashflow.DateOnly(*filter.From))
	}
	if filter.To != nil {
		add("date <= $%d", cashflow.DateOnly(*filter.To))
	}
	if filter.Type != nil {
		add("type = $%d", string(*filter.Type))
	}
	if filter.Category != nil {
		add("category = $%d", *filter.Category)
	}
	if filter.AppointmentID != nil {
		add("appointment_id = $%d", *filter.AppointmentID)
	}

	query := `SELECT ` + entryColumns + ` FROM cash_flow`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]cashflow.Entry, 0, 64)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ExistsForAppointment(ctx context.Context, appointmentID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM cash_flow WHERE appointment_id = $1)`, appointmentID,
	).Scan(&exists)
	return exists, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (cashflow.Entry, error) {
	var (
		e                                        cashflow.Entry
		amount                                   decimal.Decimal
		entryType                                string
		appointmentID, productID, professionalID sql.NullInt64
	)
	if err := row.Scan(
		&e.ID, &e.Date, &amount, &entryType, &e.Category, &e.Description,
		&appointmentID, &productID, &professionalID, &e.CreatedAt,
	); err != nil {
		return e, err
	}
	e.Date = cashflow.DateOnly(e.Date)
	e.Amount = amount
	e.Type = cashflow.EntryType(entryType)
	e.AppointmentID = int64Ptr(appointmentID)
	e.ProductID = int64Ptr(productID)
	e.ProfessionalID = int64Ptr(professionalID)
	return e, nil
}

// --- booking ---

const appointmentColumns = `id, status, date, completed_at, professional_id, client_name`

func (s *Store) GetAppointment(ctx context.Context, id int64) (booking.Appointment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (s *Store) GetAppointments(ctx context.Context, filter booking.AppointmentFilter) ([]booking.Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Date != nil {
		add("date = $%d", cashflow.DateOnly(*filter.Date))
	}
	if filter.ProfessionalID != nil {
		add("professional_id = $%d", *filter.ProfessionalID)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []booking.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		// stored rows may hold any alias of a status
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

func (s *Store) GetAppointmentServices(ctx context.Context, appointmentID int64) ([]booking.ServiceRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service_id FROM appointment_services WHERE appointment_id = $1 ORDER BY position`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []booking.ServiceRef
	for rows.Next() {
		var ref booking.ServiceRef
		if err := rows.Scan(&ref.ServiceID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) GetService(ctx context.Context, id int64) (booking.Service, error) {
	var svc booking.Service
	err := s.db.QueryRowContext(ctx, `SELECT id, name, price FROM services WHERE id = $1`, id).
		Scan(&svc.ID, &svc.Name, &svc.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Service{}, fmt.Errorf("%w: %d", booking.ErrServiceNotFound, id)
	}
	return svc, err
}

// SwapStatus locks the row, reads it, writes the new status and commits.
func (s *Store) SwapStatus(ctx context.Context, id int64, status booking.Status, completedAt time.Time) (booking.Appointment, error) {
	status, err := booking.Normalize(status)
	if err != nil {
		return booking.Appointment{}, err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return booking.Appointment{}, err
	}
	defer sqlTx.Rollback()

	before, err := scanAppointment(sqlTx.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return booking.Appointment{}, err
	}

	var completed sql.NullTime
	switch {
	case status.IsCompleted() && before.Status.IsCompleted() && before.CompletedAt != nil:
		completed = sql.NullTime{Time: *before.CompletedAt, Valid: true}
	case status.IsCompleted():
		completed = sql.NullTime{Time: completedAt, Valid: true}
	}

	if _, err := sqlTx.ExecContext(ctx,
		`UPDATE appointments SET status = $1, completed_at = $2, updated_at = now() WHERE id = $3`,
		string(status), completed, id,
	); err != nil {
		return booking.Appointment{}, err
	}

	if err := sqlTx.Commit(); err != nil {
		return booking.Appointment{}, err
	}
	return before, nil
}

func (s *Store) SaveService(ctx context.Context, svc booking.Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price
	`, svc.ID, svc.Name, svc.Price)
	return err
}

func (s *Store) SaveAppointment(ctx context.Context, a booking.Appointment, serviceIDs []int64) error {
	status, err := booking.Normalize(a.Status)
	if err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()
	var completedAt sql.NullTime
	if a.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *a.CompletedAt, Valid: true}
	}

	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO appointments (id, status, date, completed_at, professional_id, client_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			date = EXCLUDED.date,
			completed_at = EXCLUDED.completed_at,
			professional_id = EXCLUDED.professional_id,
			client_name = EXCLUDED.client_name,
			updated_at = now()
	`, a.ID, string(status), cashflow.DateOnly(a.Date), completedAt, nullInt(a.ProfessionalID), a.ClientName); err != nil {
		return err
	}

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM appointment_services WHERE appointment_id = $1`, a.ID); err != nil {
		return err
	}
	for i, serviceID := range serviceIDs {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO appointment_services (appointment_id, service_id, position) VALUES ($1, $2, $3)`,
			a.ID, serviceID, i,
		); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func scanAppointment(row scanner) (booking.Appointment, error) {
	var (
		a              booking.Appointment
		status         string
		completedAt    sql.NullTime
		professionalID sql.NullInt64
	)
	err := row.Scan(&a.ID, &status, &a.Date, &completedAt, &professionalID, &a.ClientName)
	if errors.Is(err, sql.ErrNoRows) {
		return a, booking.ErrAppointmentNotFound
	}
	if err != nil {
		return a, err
	}
	a.Status = booking.MustParseStatus(status)
	a.Date = cashflow.DateOnly(a.Date)
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		a.CompletedAt = &t
	}
	a.ProfessionalID = int64Ptr(professionalID)
	return a, nil
}

// --- runs and roles ---

func (s *Store) SaveRun(ctx context.Context, run reconcile.Run) error {
	details, err := json.Marshal(run.Report.ErrorDetails)
	if err != nil {
		return err
	}
	var runErr sql.NullString
	if run.Err != "" {
		runErr = sql.NullString{String: run.Err, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, trigger, started_at, finished_at,
			total, with_transaction, created, skipped, errors, error_details, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID, string(run.Trigger), run.StartedAt, run.FinishedAt,
		run.Report.Total, run.Report.WithTransaction, run.Report.Created,
		run.Report.Skipped, run.Report.Errors, string(details), runErr,
	)
	return err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]reconcile.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger, started_at, finished_at, total, with_transaction,
			created, skipped, errors, error_details, error
		FROM reconciliation_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []reconcile.Run{}
	for rows.Next() {
		var (
			r       reconcile.Run
			trigger string
			details []byte
			runErr  sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &trigger, &r.StartedAt, &r.FinishedAt,
			&r.Report.Total, &r.Report.WithTransaction, &r.Report.Created,
			&r.Report.Skipped, &r.Report.Errors, &details, &runErr,
		); err != nil {
			return nil, err
		}
		r.Trigger = reconcile.Trigger(trigger)
		r.Err = runErr.String
		r.Report.ErrorDetails = []reconcile.ItemError{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &r.Report.ErrorDetails); err != nil {
				return nil, fmt.Errorf("run %s error details: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) SaveUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
	`, userID, role)
	return err
}

func (s *Store) ResolveRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`TRUNCATE cash_flow, appointment_services, appointments, services, reconciliation_runs RESTART IDENTITY`)
	return err
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
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
