package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
)

// =============================================================================
// BOOKING READER (booking.Reader interface)
// =============================================================================

const appointmentColumns = `id, status, date, completed_at, professional_id, client_name`

// GetAppointment retrieves an appointment by ID.
func (s *Store) GetAppointment(ctx context.Context, id int64) (booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+appointmentColumns+" FROM appointments WHERE id = ?", id)
	return scanAppointment(row)
}

// GetAppointments returns appointments matching the filter, ordered by id.
// The status filter is applied after scanning because stored rows may hold
// any alias of a status.
func (s *Store) GetAppointments(ctx context.Context, filter booking.AppointmentFilter) ([]booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Date != nil {
		where = append(where, "date = ?")
		args = append(args, filter.Date.Format(cashflow.DateLayout))
	}
	if filter.ProfessionalID != nil {
		where = append(where, "professional_id = ?")
		args = append(args, *filter.ProfessionalID)
	}

	query := "SELECT " + appointmentColumns + " FROM appointments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var appointments []booking.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

// GetAppointmentServices returns the service links of an appointment in order.
func (s *Store) GetAppointmentServices(ctx context.Context, appointmentID int64) ([]booking.ServiceRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT service_id FROM appointment_services WHERE appointment_id = ? ORDER BY position ASC",
		appointmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointment services: %w", err)
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

// GetService retrieves a service by ID.
func (s *Store) GetService(ctx context.Context, id int64) (booking.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var svc booking.Service
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, price FROM services WHERE id = ?", id,
	).Scan(&svc.ID, &svc.Name, &svc.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Service{}, fmt.Errorf("%w: %d", booking.ErrServiceNotFound, id)
	}
	return svc, err
}

// =============================================================================
// STATUS WRITER (booking.StatusWriter interface)
// =============================================================================

// SwapStatus reads and updates the status inside one transaction, so the
// returned snapshot is exactly the state the write replaced.
func (s *Store) SwapStatus(ctx context.Context, id int64, status booking.Status, completedAt time.Time) (booking.Appointment, error) {
	status, err := booking.Normalize(status)
	if err != nil {
		return booking.Appointment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return booking.Appointment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	before, err := scanAppointment(sqlTx.QueryRowContext(ctx,
		"SELECT "+appointmentColumns+" FROM appointments WHERE id = ?", id))
	if err != nil {
		return booking.Appointment{}, err
	}

	var completed sql.NullString
	switch {
	case status.IsCompleted() && before.Status.IsCompleted() && before.CompletedAt != nil:
		completed = nullString(before.CompletedAt.UTC().Format(time.RFC3339))
	case status.IsCompleted():
		completed = nullString(completedAt.UTC().Format(time.RFC3339))
	}

	_, err = sqlTx.ExecContext(ctx,
		"UPDATE appointments SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?",
		string(status), completed, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return booking.Appointment{}, fmt.Errorf("failed to update appointment status: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return booking.Appointment{}, err
	}
	return before, nil
}

// =============================================================================
// BOOKING WRITES (scenario loader)
// =============================================================================

// SaveService upserts a catalogue service.
func (s *Store) SaveService(ctx context.Context, svc booking.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, price) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, price = excluded.price
	`, svc.ID, svc.Name, svc.Price)
	return err
}

// SaveAppointment upserts an appointment and replaces its service links.
func (s *Store) SaveAppointment(ctx context.Context, a booking.Appointment, serviceIDs []int64) error {
	status, err := booking.Normalize(a.Status)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var completedAt sql.NullString
	if a.CompletedAt != nil {
		completedAt = nullString(a.CompletedAt.UTC().Format(time.RFC3339))
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO appointments (id, status, date, completed_at, professional_id, client_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			date = excluded.date,
			completed_at = excluded.completed_at,
			professional_id = excluded.professional_id,
			client_name = excluded.client_name,
			updated_at = excluded.updated_at
	`,
		a.ID, string(status), a.Date.Format(cashflow.DateLayout), completedAt,
		nullInt(a.ProfessionalID), a.ClientName, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save appointment: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM appointment_services WHERE appointment_id = ?", a.ID); err != nil {
		return err
	}
	for i, serviceID := range serviceIDs {
		if _, err := sqlTx.ExecContext(ctx,
			"INSERT INTO appointment_services (appointment_id, service_id, position) VALUES (?, ?, ?)",
			a.ID, serviceID, i,
		); err != nil {
			return fmt.Errorf("failed to link service %d: %w", serviceID, err)
		}
	}

	return sqlTx.Commit()
}

func scanAppointment(row scanner) (booking.Appointment, error) {
	var (
		a              booking.Appointment
		status, date   string
		completedAt    sql.NullString
		professionalID sql.NullInt64
	)

	err := row.Scan(&a.ID, &status, &date, &completedAt, &professionalID, &a.ClientName)
	if errors.Is(err, sql.ErrNoRows) {
		return a, booking.ErrAppointmentNotFound
	}
	if err != nil {
		return a, fmt.Errorf("failed to scan appointment: %w", err)
	}

	// rows written by older clients may carry any alias
	a.Status = booking.MustParseStatus(status)
	if a.Date, err = time.Parse(cashflow.DateLayout, date); err != nil {
		return a, fmt.Errorf("appointment %d date: %w", a.ID, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return a, fmt.Errorf("appointment %d completed_at: %w", a.ID, err)
		}
		a.CompletedAt = &t
	}
	a.ProfessionalID = int64Ptr(professionalID)
	return a, nil
}
