package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
	"github.com/warp/cashflow-engine/cashflow/store"
	"github.com/warp/cashflow-engine/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march10 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*reconcile.Engine, *store.Memory, *booking.Memory) {
	t.Helper()
	ledger := store.NewMemory()
	bookings := booking.NewMemory()
	bookings.SaveService(booking.Service{ID: 1, Name: "Corte", Price: 3000})
	bookings.SaveService(booking.Service{ID: 2, Name: "Barba", Price: 2000})
	bookings.SaveService(booking.Service{ID: 3, Name: "Cortesia", Price: 0})

	engine := reconcile.NewEngine(ledger, bookings, nil)
	engine.Now = func() time.Time { return march10.Add(18 * time.Hour) }
	return engine, ledger, bookings
}

func priced() []booking.PricedService {
	return []booking.PricedService{
		{ID: 1, Name: "Corte", Price: 3000},
		{ID: 2, Name: "Barba", Price: 2000},
	}
}

// failingLedger wraps a store and fails selected operations.
type failingLedger struct {
	cashflow.Store
	insertErr error
	listErr   error
}

func (f *failingLedger) Insert(ctx context.Context, tx cashflow.NewTransaction) (cashflow.Entry, error) {
	if f.insertErr != nil {
		return cashflow.Entry{}, f.insertErr
	}
	return f.Store.Insert(ctx, tx)
}

func (f *failingLedger) List(ctx context.Context, filter cashflow.Filter) ([]cashflow.Entry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.List(ctx, filter)
}

// =============================================================================
// RECORD / REMOVE
// =============================================================================

func TestRecord_Idempotent(t *testing.T) {
	// GIVEN: an appointment without an entry
	engine, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	// WHEN: recording twice
	first, err := engine.RecordAppointmentTransaction(ctx, 1, priced(), march10)
	require.NoError(t, err)
	second, err := engine.RecordAppointmentTransaction(ctx, 1, priced(), march10)
	require.NoError(t, err)

	// THEN: one entry, second call is a no-op
	require.NotNil(t, first)
	assert.Nil(t, second)
	assert.Equal(t, 1, ledger.Len())

	assert.True(t, first.Amount.Equal(decimal.NewFromInt(50)), "5000 cents -> 50.00")
	assert.Equal(t, cashflow.TypeIncome, first.Type)
	assert.Equal(t, "service", first.Category)
	assert.Equal(t, "Serviços: Corte, Barba", first.Description)
	assert.Equal(t, march10, first.Date)
	require.NotNil(t, first.AppointmentID)
	assert.Equal(t, int64(1), *first.AppointmentID)
}

func TestRecord_ZeroValueGuard(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.RecordAppointmentTransaction(ctx, 1, nil, march10)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = engine.RecordAppointmentTransaction(ctx, 1, []booking.PricedService{{ID: 3, Name: "Cortesia", Price: 0}}, march10)
	require.NoError(t, err)
	assert.Nil(t, entry)

	assert.Equal(t, 0, ledger.Len())
}

func TestRecord_DescriptionFallback(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	entry, err := engine.RecordAppointmentTransaction(context.Background(), 1,
		[]booking.PricedService{{ID: 9, Price: 1500}}, march10)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Serviços concluídos", entry.Description)
}

func TestRecord_DuplicateFromStoreIsNoop(t *testing.T) {
	// GIVEN: the existence check misses but the unique index fires
	engine, _, _ := newTestEngine(t)
	engine.Ledger = &failingLedger{Store: store.NewMemory(), insertErr: cashflow.ErrDuplicateAppointment}

	entry, err := engine.RecordAppointmentTransaction(context.Background(), 1, priced(), march10)
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecord_StoreFailurePropagates(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	boom := errors.New("connection reset")
	engine.Ledger = &failingLedger{Store: store.NewMemory(), insertErr: boom}

	_, err := engine.RecordAppointmentTransaction(context.Background(), 1, priced(), march10)
	assert.ErrorIs(t, err, boom)
}

func TestRemove_Idempotent(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	// no entry: nothing happens
	removed, err := engine.RemoveAppointmentTransaction(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, removed)

	created, err := engine.RecordAppointmentTransaction(ctx, 1, priced(), march10)
	require.NoError(t, err)

	removed, err = engine.RemoveAppointmentTransaction(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, created.ID, removed.ID)
	assert.Equal(t, 0, ledger.Len())

	removed, err = engine.RemoveAppointmentTransaction(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

// =============================================================================
// TRANSITION RULE
// =============================================================================

func TestDecide(t *testing.T) {
	tests := []struct {
		from, to booking.Status
		want     reconcile.Action
	}{
		{booking.StatusScheduled, booking.StatusCompleted, reconcile.ActionRecord},
		{booking.StatusConfirmed, booking.StatusCompleted, reconcile.ActionRecord},
		{booking.StatusCancelled, booking.StatusCompleted, reconcile.ActionRecord},
		{booking.StatusCompleted, booking.StatusCancelled, reconcile.ActionRemove},
		{booking.StatusCompleted, booking.StatusScheduled, reconcile.ActionRemove},
		{booking.StatusScheduled, booking.StatusConfirmed, reconcile.ActionNone},
		{booking.StatusCompleted, booking.StatusCompleted, reconcile.ActionNone},
		{booking.StatusCancelled, booking.StatusScheduled, reconcile.ActionNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile.Decide(tt.from, tt.to))
		})
	}
}

func TestUpdateStatus_RoundTrip(t *testing.T) {
	// GIVEN: a scheduled appointment with 5000 cents of services
	engine, ledger, bookings := newTestEngine(t)
	bookings.SaveAppointment(booking.Appointment{ID: 7, Status: booking.StatusScheduled, Date: march10}, 1, 2)
	ctx := context.Background()

	// WHEN: scheduled -> completed
	out, err := engine.UpdateStatus(ctx, 7, booking.StatusCompleted)
	require.NoError(t, err)

	// THEN: one entry of 50.00
	assert.Equal(t, reconcile.ActionRecord, out.Action)
	assert.Equal(t, booking.StatusScheduled, out.PreviousStatus)
	require.NotNil(t, out.Entry)
	assert.True(t, out.Entry.Amount.Equal(decimal.NewFromInt(50)))
	first := out.Entry.ID

	// WHEN: completed -> cancelled
	out, err = engine.UpdateStatus(ctx, 7, booking.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ActionRemove, out.Action)
	assert.Equal(t, 0, ledger.Len())

	// WHEN: cancelled -> completed
	out, err = engine.UpdateStatus(ctx, 7, booking.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ActionRecord, out.Action)
	require.NotNil(t, out.Entry)
	assert.NotEqual(t, first, out.Entry.ID, "entry is recreated, not restored")
	assert.True(t, out.Entry.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 1, ledger.Len())
}

func TestUpdateStatus_CompletedToCompletedIsNoop(t *testing.T) {
	engine, ledger, bookings := newTestEngine(t)
	bookings.SaveAppointment(booking.Appointment{ID: 7, Status: booking.StatusScheduled, Date: march10}, 1)
	ctx := context.Background()

	_, err := engine.UpdateStatus(ctx, 7, booking.StatusCompleted)
	require.NoError(t, err)

	out, err := engine.UpdateStatus(ctx, 7, booking.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ActionNone, out.Action)
	assert.Nil(t, out.Entry)
	assert.Equal(t, 1, ledger.Len())
}

func TestUpdateStatus_UsesCompletedAtAsDate(t *testing.T) {
	engine, _, bookings := newTestEngine(t)
	earlier := march10.AddDate(0, 0, -3)
	bookings.SaveAppointment(booking.Appointment{ID: 7, Status: booking.StatusConfirmed, Date: earlier}, 1)

	out, err := engine.UpdateStatus(context.Background(), 7, booking.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, out.Entry)
	assert.Equal(t, march10, out.Entry.Date, "CompletedAt set by the status write wins over the booking date")
}

func TestUpdateStatus_LedgerFailureDoesNotBlockStatus(t *testing.T) {
	// GIVEN: a ledger that fails every insert
	engine, _, bookings := newTestEngine(t)
	engine.Ledger = &failingLedger{Store: store.NewMemory(), insertErr: errors.New("db down")}
	bookings.SaveAppointment(booking.Appointment{ID: 7, Status: booking.StatusScheduled, Date: march10}, 1)
	ctx := context.Background()

	// WHEN
	out, err := engine.UpdateStatus(ctx, 7, booking.StatusCompleted)

	// THEN: status change succeeds, the ledger error is reported
	require.NoError(t, err)
	assert.Error(t, out.LedgerErr)
	apt, err := bookings.GetAppointment(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, apt.Status)
}

// overtakenReader reports a status written by a later request when the
// engine re-reads the appointment.
type overtakenReader struct {
	*booking.Memory
	later booking.Status
}

func (r *overtakenReader) GetAppointment(ctx context.Context, id int64) (booking.Appointment, error) {
	a, err := r.Memory.GetAppointment(ctx, id)
	a.Status = r.later
	return a, err
}

func TestUpdateStatus_DecidesOnWrittenStatus(t *testing.T) {
	// GIVEN: another request cancels the appointment between the write and the re-read
	engine, ledger, bookings := newTestEngine(t)
	bookings.SaveAppointment(booking.Appointment{ID: 7, Status: booking.StatusScheduled, Date: march10}, 1)
	engine.Booking = &overtakenReader{Memory: bookings, later: booking.StatusCancelled}

	// WHEN
	out, err := engine.UpdateStatus(context.Background(), 7, booking.StatusCompleted)

	// THEN: the transition this call wrote is the one reconciled
	require.NoError(t, err)
	assert.Equal(t, reconcile.ActionRecord, out.Action)
	assert.Equal(t, booking.StatusCompleted, out.Appointment.Status)
	assert.Equal(t, 1, ledger.Len())
}

func TestUpdateStatus_AcceptsAliases(t *testing.T) {
	engine, ledger, bookings := newTestEngine(t)
	bookings.SaveAppointment(booking.Appointment{ID: 7, Status: booking.StatusScheduled, Date: march10}, 1)
	ctx := context.Background()

	out, err := engine.UpdateStatus(ctx, 7, "Concluído")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, out.Appointment.Status)
	assert.Equal(t, 1, ledger.Len())

	_, err = engine.UpdateStatus(ctx, 7, "archived")
	assert.ErrorIs(t, err, booking.ErrUnknownStatus)
}

func TestUpdateStatus_UnknownAppointment(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.UpdateStatus(context.Background(), 404, booking.StatusCompleted)
	assert.ErrorIs(t, err, booking.ErrAppointmentNotFound)
}
