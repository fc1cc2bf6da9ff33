package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/cashflow-engine/booking"
)

// Report summarises one ValidateAndFix pass.
type Report struct {
	Total           int
	WithTransaction int
	Created         int
	Skipped         int // completed but nothing to bill, or a linked service is gone
	Errors          int
	ErrorDetails    []ItemError
}

// ItemError records a failure for one appointment.
type ItemError struct {
	AppointmentID int64
	Error         string
}

// Trigger says who started a repair run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Run is a recorded repair pass.
type Run struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Report     Report
	Err        string // set when the pass could not run at all
}

// RunStore persists repair run history.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// ValidateAndFix inserts the missing income entry for every completed
// appointment. It never removes or alters entries, so it is safe to run
// repeatedly. Appointments are processed one at a time; a failure on one
// is recorded in the report and the pass continues.
func (e *Engine) ValidateAndFix(ctx context.Context) (Report, error) {
	completed := booking.StatusCompleted
	appointments, err := e.Booking.GetAppointments(ctx, booking.AppointmentFilter{Status: &completed})
	if err != nil {
		return Report{}, fmt.Errorf("list completed appointments: %w", err)
	}

	report := Report{Total: len(appointments), ErrorDetails: []ItemError{}}
	for _, apt := range appointments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.repairOne(ctx, apt, &report); err != nil {
			report.Errors++
			report.ErrorDetails = append(report.ErrorDetails, ItemError{
				AppointmentID: apt.ID,
				Error:         err.Error(),
			})
			e.Logger.Warn("repair failed for appointment", zap.Int64("appointment_id", apt.ID), zap.Error(err))
		}
	}

	e.Logger.Info("validate and fix finished",
		zap.Int("total", report.Total),
		zap.Int("with_transaction", report.WithTransaction),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

func (e *Engine) repairOne(ctx context.Context, apt booking.Appointment, report *Report) error {
	exists, err := e.HasTransaction(ctx, apt.ID)
	if err != nil {
		return err
	}
	if exists {
		report.WithTransaction++
		return nil
	}

	services, err := booking.ResolveServices(ctx, e.Booking, apt.ID)
	if booking.IsNotFound(err) {
		e.Logger.Warn("skipping appointment with missing booking data",
			zap.Int64("appointment_id", apt.ID), zap.Error(err))
		report.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	if TotalMinorUnits(services) == 0 {
		report.Skipped++
		return nil
	}

	entry, err := e.insertIncome(ctx, apt.ID, services, apt.LedgerDate())
	if err != nil {
		return err
	}
	if entry == nil {
		// another writer recorded it between the check and the insert
		report.WithTransaction++
		return nil
	}
	report.Created++
	return nil
}

// RunRepair runs ValidateAndFix and records the run. Concurrent calls are
// serialised so the scheduler and the admin trigger never overlap.
func (e *Engine) RunRepair(ctx context.Context, trigger Trigger) (Run, error) {
	e.repairMu.Lock()
	defer e.repairMu.Unlock()

	run := Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: e.Now().UTC(),
	}
	report, err := e.ValidateAndFix(ctx)
	run.Report = report
	run.FinishedAt = e.Now().UTC()
	if err != nil {
		run.Err = err.Error()
	}

	if e.Runs != nil {
		if saveErr := e.Runs.SaveRun(ctx, run); saveErr != nil {
			e.Logger.Warn("failed to record repair run", zap.String("run_id", run.ID), zap.Error(saveErr))
		}
	}
	return run, err
}
