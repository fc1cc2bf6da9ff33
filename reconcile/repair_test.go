package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
	"github.com/warp/cashflow-engine/reconcile"
)

// flakyReader fails service lookups for one appointment.
type flakyReader struct {
	*booking.Memory
	failFor int64
}

func (f *flakyReader) GetAppointmentServices(ctx context.Context, appointmentID int64) ([]booking.ServiceRef, error) {
	if appointmentID == f.failFor {
		return nil, errors.New("service lookup timed out")
	}
	return f.Memory.GetAppointmentServices(ctx, appointmentID)
}

type memoryRuns struct {
	runs []reconcile.Run
}

func (m *memoryRuns) SaveRun(_ context.Context, run reconcile.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryRuns) ListRuns(_ context.Context, _ int) ([]reconcile.Run, error) {
	return m.runs, nil
}

func completed(id int64) booking.Appointment {
	return booking.Appointment{ID: id, Status: booking.StatusCompleted, Date: march10}
}

func TestValidateAndFix_Completeness(t *testing.T) {
	// GIVEN: 5 completed appointments, 2 already recorded, 1 with zero value,
	// plus a scheduled one that must be ignored
	engine, ledger, bookings := newTestEngine(t)
	ctx := context.Background()

	for id := int64(1); id <= 4; id++ {
		bookings.SaveAppointment(completed(id), 1, 2)
	}
	bookings.SaveAppointment(completed(5), 3)
	bookings.SaveAppointment(booking.Appointment{ID: 6, Status: booking.StatusScheduled, Date: march10}, 1)

	for _, id := range []int64{1, 2} {
		_, err := engine.RecordAppointmentTransaction(ctx, id, priced(), march10)
		require.NoError(t, err)
	}

	// WHEN
	report, err := engine.ValidateAndFix(ctx)
	require.NoError(t, err)

	// THEN: N=5, K=2, zero=1 -> created 2
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 2, report.WithTransaction)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Errors)
	assert.Empty(t, report.ErrorDetails)
	assert.Equal(t, 4, ledger.Len())

	exists, err := engine.HasTransaction(ctx, 6)
	require.NoError(t, err)
	assert.False(t, exists, "scheduled appointments are not billed")
}

func TestValidateAndFix_IdempotentRerun(t *testing.T) {
	engine, ledger, bookings := newTestEngine(t)
	ctx := context.Background()
	bookings.SaveAppointment(completed(1), 1)
	bookings.SaveAppointment(completed(2), 2)

	_, err := engine.ValidateAndFix(ctx)
	require.NoError(t, err)

	report, err := engine.ValidateAndFix(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 2, report.WithTransaction)
	assert.Equal(t, 2, ledger.Len())
}

func TestValidateAndFix_PartialFailureIsolation(t *testing.T) {
	// GIVEN: appointment 2's service lookup throws
	engine, ledger, bookings := newTestEngine(t)
	for id := int64(1); id <= 3; id++ {
		bookings.SaveAppointment(completed(id), 1)
	}
	engine.Booking = &flakyReader{Memory: bookings, failFor: 2}

	// WHEN
	report, err := engine.ValidateAndFix(context.Background())

	// THEN: the others are repaired and the failure is reported
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Errors)
	require.Len(t, report.ErrorDetails, 1)
	assert.Equal(t, int64(2), report.ErrorDetails[0].AppointmentID)
	assert.Contains(t, report.ErrorDetails[0].Error, "timed out")
	assert.Equal(t, 2, ledger.Len())
}

func TestValidateAndFix_UsesCompletedAt(t *testing.T) {
	engine, ledger, bookings := newTestEngine(t)
	done := march10.AddDate(0, 0, 2)
	apt := completed(1)
	apt.CompletedAt = &done
	bookings.SaveAppointment(apt, 1)

	_, err := engine.ValidateAndFix(context.Background())
	require.NoError(t, err)

	entries, err := ledger.List(context.Background(), cashflow.Filter{AppointmentID: cashflow.Int64Ptr(1)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, done, entries[0].Date)
}

func TestRunRepair_RecordsRun(t *testing.T) {
	engine, _, bookings := newTestEngine(t)
	runs := &memoryRuns{}
	engine.Runs = runs
	bookings.SaveAppointment(completed(1), 1)

	run, err := engine.RunRepair(context.Background(), reconcile.TriggerManual)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, reconcile.TriggerManual, run.Trigger)
	assert.Equal(t, 1, run.Report.Created)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, run.ID, runs.runs[0].ID)
}

func TestValidateAndFix_MissingServiceIsSkippedNotFailed(t *testing.T) {
	// GIVEN: appointment 1 links a service that was deleted from the catalogue,
	// appointment 2's service lookup fails with a store error
	engine, ledger, bookings := newTestEngine(t)
	bookings.SaveAppointment(completed(1), 1, 99)
	bookings.SaveAppointment(completed(2), 1)
	bookings.SaveAppointment(completed(3), 2)
	engine.Booking = &flakyReader{Memory: bookings, failFor: 2}

	// WHEN
	report, err := engine.ValidateAndFix(context.Background())

	// THEN: the missing service is a skip, the store failure is an error
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Errors)
	require.Len(t, report.ErrorDetails, 1)
	assert.Equal(t, int64(2), report.ErrorDetails[0].AppointmentID)
	assert.Equal(t, 1, ledger.Len())
}

func TestValidateAndFix_FindsLegacyStatusSpellings(t *testing.T) {
	// GIVEN: completed appointments stored under older spellings
	engine, ledger, bookings := newTestEngine(t)
	for id, raw := range map[int64]string{1: "COMPLETED", 2: "done", 3: "concluído"} {
		bookings.SaveAppointment(booking.Appointment{ID: id, Status: booking.Status(raw), Date: march10}, 1)
	}
	bookings.SaveAppointment(booking.Appointment{ID: 4, Status: "Cancelado", Date: march10}, 1)

	// WHEN
	report, err := engine.ValidateAndFix(context.Background())

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Created)
	assert.Equal(t, 3, ledger.Len())
}
