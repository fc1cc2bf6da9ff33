package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashflow-engine/cashflow"
)

func linked(appointmentID int64) cashflow.NewTransaction {
	return cashflow.NewTransaction{
		Date:          time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.NewFromInt(50),
		Type:          cashflow.TypeIncome,
		AppointmentID: cashflow.Int64Ptr(appointmentID),
	}
}

func TestMemory_InsertAssignsIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.Insert(ctx, linked(1))
	require.NoError(t, err)
	b, err := m.Insert(ctx, linked(2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.Equal(t, cashflow.DefaultCategory, a.Category)
}

func TestMemory_UniqueAppointment(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Insert(ctx, linked(1))
	require.NoError(t, err)

	_, err = m.Insert(ctx, linked(1))
	assert.ErrorIs(t, err, cashflow.ErrDuplicateAppointment)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_UniqueAppointment_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Insert(ctx, linked(42))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, m.Len(), "only one insert may win")
}

func TestMemory_DeleteFreesAppointment(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e, err := m.Insert(ctx, linked(1))
	require.NoError(t, err)

	deleted, err := m.Delete(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, deleted.ID)

	exists, err := m.ExistsForAppointment(ctx, 1)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.Insert(ctx, linked(1))
	assert.NoError(t, err, "appointment can be linked again after removal")

	_, err = m.Delete(ctx, 999)
	assert.ErrorIs(t, err, cashflow.ErrEntryNotFound)
}

func TestMemory_ManualEntriesDoNotCollide(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Insert(ctx, cashflow.NewTransaction{
			Date:   time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			Amount: decimal.NewFromInt(5),
			Type:   cashflow.TypeExpense,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.Len())
}
