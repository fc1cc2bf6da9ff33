/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario leaves the ledger in the expected state, so
	the scenarios double as integration tests of the engine over SQLite.
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
)

func TestScenario_BusyWeek(t *testing.T) {
	ts := newTestServer(t, RouterOptions{})
	ctx := context.Background()

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "busy-week"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// three billable completed appointments: 35, 35+25, 25+15
	income := cashflow.TypeIncome
	entries, err := ts.store.List(ctx, cashflow.Filter{Type: &income})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, cashflow.Balance(entries).Equal(cashflow.FromMinorUnits(13500)))

	// the zero-value "Retorno" appointment completed without an entry
	has, err := ts.handler.Engine.HasTransaction(ctx, 4)
	require.NoError(t, err)
	assert.False(t, has)

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	current := decode[ScenarioDTO](t, rec)
	assert.Equal(t, "busy-week", current.ID)

	// validate finds nothing to do
	run := NewRepairScheduler(ts.handler.Engine, nil).RunNow(ctx)
	assert.Equal(t, 4, run.Report.Total)
	assert.Equal(t, 3, run.Report.WithTransaction)
	assert.Equal(t, 1, run.Report.Skipped)
	assert.Zero(t, run.Report.Created)
}

func TestScenario_DriftedLedger(t *testing.T) {
	ts := newTestServer(t, RouterOptions{})
	ctx := context.Background()
	require.NoError(t, ts.handler.loadScenario(ctx, "drifted-ledger"))

	rec := ts.do(t, http.MethodPost, "/api/admin/cash-flow/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[RunDTO](t, rec)

	// N=4 completed, K=1 already recorded, one zero-value
	assert.Equal(t, 4, run.Report.Total)
	assert.Equal(t, 1, run.Report.WithTransaction)
	assert.Equal(t, 2, run.Report.Created)
	assert.Equal(t, 1, run.Report.Skipped)
	assert.Zero(t, run.Report.Errors)

	// repaired entries carry the completion date
	entries, err := ts.store.List(ctx, cashflow.Filter{AppointmentID: cashflow.Int64Ptr(3)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	apt, err := ts.store.GetAppointment(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, cashflow.DateOnly(*apt.CompletedAt), entries[0].Date)
	assert.Equal(t, "Serviços: Pigmentação", entries[0].Description)
}

func TestScenario_FlipFlop(t *testing.T) {
	ts := newTestServer(t, RouterOptions{})
	ctx := context.Background()
	require.NoError(t, ts.handler.loadScenario(ctx, "flip-flop"))

	entries, err := ts.store.List(ctx, cashflow.Filter{AppointmentID: cashflow.Int64Ptr(1)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(cashflow.FromMinorUnits(6000)))

	apt, err := ts.store.GetAppointment(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, apt.Status)
}

func TestScenario_ReloadResets(t *testing.T) {
	ts := newTestServer(t, RouterOptions{})
	ctx := context.Background()
	require.NoError(t, ts.handler.loadScenario(ctx, "busy-week"))
	require.NoError(t, ts.handler.loadScenario(ctx, "flip-flop"))

	entries, err := ts.store.List(ctx, cashflow.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	role, err := ts.store.ResolveRole(ctx, DemoAdminUserID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestScenario_Unknown(t *testing.T) {
	ts := newTestServer(t, RouterOptions{})
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	assert.Len(t, list, len(scenarios))
}

func TestScenario_ConcurrentLoadAndRead(t *testing.T) {
	// GIVEN: loads, resets and reads of the current scenario racing each other
	ts := newTestServer(t, RouterOptions{})
	ids := []string{"flip-flop", "busy-week", "drifted-ledger"}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}(ids[i%len(ids)])
		go func() {
			defer wg.Done()
			rec := ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	// THEN: the last completed load is the current one
	rec := ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	current := decode[ScenarioDTO](t, rec)
	assert.Contains(t, ids, current.ID)
}

func TestMondayOf(t *testing.T) {
	sunday := time.Date(2025, time.March, 16, 0, 0, 0, 0, time.UTC)
	wednesday := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, monday, mondayOf(sunday))
	assert.Equal(t, monday, mondayOf(wednesday))
	assert.Equal(t, monday, mondayOf(monday))
}
