/*
Package reconcile keeps the cash-flow ledger consistent with appointment status.

INVARIANT:
  Every completed appointment has exactly one INCOME entry referencing it,
  whose amount is the sum of its service prices in major units. No other
  appointment has one.

TRANSITION RULE:
  old, new are canonical statuses (booking.ParseStatus).

    !completed -> completed   record an entry
    completed  -> !completed  remove the entry
    anything else             nothing

  A flip-flop (completed -> cancelled -> completed) deletes and recreates;
  entries are never updated in place.

IDEMPOTENCE:
  HasTransaction guards every insert, and the store's unique index on
  appointment_id catches the concurrent case. ErrDuplicateAppointment from
  the store is the "already recorded" signal, not a failure.

ERROR POLICY:
  RecordAppointmentTransaction and RemoveAppointmentTransaction return
  store errors. UpdateStatus and ApplyTransition never fail because of the
  ledger: the status change wins, the ledger error is logged and reported
  in the Outcome, and ValidateAndFix repairs the gap later.

SEE ALSO:
  - repair.go: ValidateAndFix batch pass
  - cashflow/store.go: ledger persistence
  - booking/types.go: Reader and StatusWriter contracts
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
)

const (
	descriptionPrefix   = "Serviços: "
	descriptionFallback = "Serviços concluídos"
)

// Action is the ledger mutation a status transition calls for.
type Action string

const (
	ActionNone   Action = "none"
	ActionRecord Action = "record"
	ActionRemove Action = "remove"
)

// Decide applies the transition rule to canonical statuses.
func Decide(oldStatus, newStatus booking.Status) Action {
	wasCompleted := oldStatus.IsCompleted()
	isCompleted := newStatus.IsCompleted()
	switch {
	case isCompleted && !wasCompleted:
		return ActionRecord
	case wasCompleted && !isCompleted:
		return ActionRemove
	default:
		return ActionNone
	}
}

// Outcome reports what a status transition did to the ledger.
type Outcome struct {
	Appointment    booking.Appointment // after the transition
	PreviousStatus booking.Status
	Action         Action
	Entry          *cashflow.Entry // created or removed entry, nil when nothing changed
	LedgerErr      error           // ledger failure that did not block the status change
}

// Engine is the reconciliation engine.
type Engine struct {
	Ledger  cashflow.Store
	Booking booking.Reader
	Status  booking.StatusWriter // optional, required by UpdateStatus
	Runs    RunStore             // optional, records repair runs
	Logger  *zap.Logger
	Now     func() time.Time

	repairMu sync.Mutex
}

func NewEngine(ledger cashflow.Store, reader booking.Reader, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		Ledger:  ledger,
		Booking: reader,
		Logger:  logger.Named("reconcile"),
		Now:     time.Now,
	}
	if w, ok := reader.(booking.StatusWriter); ok {
		e.Status = w
	}
	if r, ok := ledger.(RunStore); ok {
		e.Runs = r
	}
	return e
}

// HasTransaction reports whether a ledger entry references the appointment.
func (e *Engine) HasTransaction(ctx context.Context, appointmentID int64) (bool, error) {
	return e.Ledger.ExistsForAppointment(ctx, appointmentID)
}

// RecordAppointmentTransaction creates the income entry for a completed
// appointment. Returns nil without error when the appointment already has
// an entry or there is nothing to bill.
func (e *Engine) RecordAppointmentTransaction(ctx context.Context, appointmentID int64, services []booking.PricedService, date time.Time) (*cashflow.Entry, error) {
	exists, err := e.HasTransaction(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("check existing entry for appointment %d: %w", appointmentID, err)
	}
	if exists {
		e.Logger.Debug("appointment already has a cash flow entry", zap.Int64("appointment_id", appointmentID))
		return nil, nil
	}
	return e.insertIncome(ctx, appointmentID, services, date)
}

// insertIncome is the insert half of RecordAppointmentTransaction.
// The unique index is the final word on duplicates.
func (e *Engine) insertIncome(ctx context.Context, appointmentID int64, services []booking.PricedService, date time.Time) (*cashflow.Entry, error) {
	cents := TotalMinorUnits(services)
	if len(services) == 0 || cents == 0 {
		e.Logger.Debug("nothing to bill", zap.Int64("appointment_id", appointmentID))
		return nil, nil
	}

	entry, err := e.Ledger.Insert(ctx, cashflow.NewTransaction{
		Date:          date,
		Amount:        cashflow.FromMinorUnits(cents),
		Type:          cashflow.TypeIncome,
		Category:      cashflow.DefaultCategory,
		Description:   Describe(services),
		AppointmentID: &appointmentID,
	})
	if errors.Is(err, cashflow.ErrDuplicateAppointment) {
		e.Logger.Debug("concurrent insert won", zap.Int64("appointment_id", appointmentID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record income for appointment %d: %w", appointmentID, err)
	}

	e.Logger.Info("recorded appointment income",
		zap.Int64("appointment_id", appointmentID),
		zap.Int64("entry_id", entry.ID),
		zap.String("amount", entry.Amount.StringFixed(2)),
	)
	return &entry, nil
}

// RemoveAppointmentTransaction deletes the entry referencing the appointment
// and returns it. Returns nil without error when there is none.
func (e *Engine) RemoveAppointmentTransaction(ctx context.Context, appointmentID int64) (*cashflow.Entry, error) {
	entries, err := e.Ledger.List(ctx, cashflow.Filter{AppointmentID: &appointmentID})
	if err != nil {
		return nil, fmt.Errorf("list entries for appointment %d: %w", appointmentID, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	deleted, err := e.Ledger.Delete(ctx, entries[0].ID)
	if errors.Is(err, cashflow.ErrEntryNotFound) {
		// removed by a concurrent request
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remove entry %d for appointment %d: %w", entries[0].ID, appointmentID, err)
	}

	e.Logger.Info("removed appointment income",
		zap.Int64("appointment_id", appointmentID),
		zap.Int64("entry_id", deleted.ID),
	)
	return &deleted, nil
}

// ApplyTransition performs the ledger side of a status change that has
// already been persisted. oldStatus must be the status read inside the write
// and newStatus the status that was written; apt supplies the other fields.
func (e *Engine) ApplyTransition(ctx context.Context, apt booking.Appointment, oldStatus, newStatus booking.Status) Outcome {
	apt.Status = newStatus
	out := Outcome{
		Appointment:    apt,
		PreviousStatus: oldStatus,
		Action:         Decide(oldStatus, newStatus),
	}
	log := e.Logger.With(
		zap.Int64("appointment_id", apt.ID),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(newStatus)),
	)

	switch out.Action {
	case ActionRecord:
		services, err := booking.ResolveServices(ctx, e.Booking, apt.ID)
		if err != nil {
			out.LedgerErr = fmt.Errorf("resolve services: %w", err)
			break
		}
		out.Entry, out.LedgerErr = e.RecordAppointmentTransaction(ctx, apt.ID, services, apt.LedgerDate())
	case ActionRemove:
		out.Entry, out.LedgerErr = e.RemoveAppointmentTransaction(ctx, apt.ID)
	}

	if out.LedgerErr != nil {
		log.Error("ledger update failed, status change kept", zap.Error(out.LedgerErr))
	} else {
		log.Debug("status transition reconciled", zap.String("action", string(out.Action)))
	}
	return out
}

// UpdateStatus writes the new status and reconciles the ledger against the
// status snapshotted inside the same write. Only the status write can fail.
func (e *Engine) UpdateStatus(ctx context.Context, appointmentID int64, status booking.Status) (Outcome, error) {
	if e.Status == nil {
		return Outcome{}, errors.New("reconcile: no status writer configured")
	}
	status, err := booking.Normalize(status)
	if err != nil {
		return Outcome{}, err
	}

	before, err := e.Status.SwapStatus(ctx, appointmentID, status, e.Now().UTC())
	if err != nil {
		return Outcome{}, err
	}

	// the re-read only supplies completed_at and the other fields; the
	// transition is always decided on the status this call wrote
	apt, err := e.Booking.GetAppointment(ctx, appointmentID)
	if err != nil {
		apt = before
		if status.IsCompleted() && !before.Status.IsCompleted() {
			now := e.Now().UTC()
			apt.CompletedAt = &now
		}
	}
	return e.ApplyTransition(ctx, apt, before.Status, status), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// TotalMinorUnits sums service prices in cents.
func TotalMinorUnits(services []booking.PricedService) int64 {
	var total int64
	for _, s := range services {
		total += s.Price
	}
	return total
}

// Describe builds the entry description from service names.
func Describe(services []booking.PricedService) string {
	names := make([]string, 0, len(services))
	for _, s := range services {
		if n := strings.TrimSpace(s.Name); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return descriptionFallback
	}
	return descriptionPrefix + strings.Join(names, ", ")
}
