/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	barbershop data: a service catalogue, appointments in every status,
	and the matching ledger.

AVAILABLE SCENARIOS:

	busy-week:      A week of appointments reconciled through the engine,
	                plus rent and supplies expenses and a product sale
	drifted-ledger: Completed appointments whose income entries are missing,
	                for exercising validate-and-fix
	flip-flop:      One appointment completed, cancelled and completed again

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create services and the demo admin user
 3. Create appointments as scheduled
 4. Move them through statuses with the engine, so the ledger follows
 5. Optionally add manual transactions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-week"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - reconcile/engine.go: UpdateStatus
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
)

// DemoAdminUserID is given the admin role by every scenario.
const DemoAdminUserID = "demo-admin"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "busy-week",
		Name:        "Busy Week",
		Description: "A week of appointments in every status with expenses and a product sale",
	},
	{
		ID:          "drifted-ledger",
		Name:        "Drifted Ledger",
		Description: "Completed appointments missing their income entries; run validate to repair",
	},
	{
		ID:          "flip-flop",
		Name:        "Status Flip-Flop",
		Description: "One appointment completed, cancelled and completed again",
	},
}

var demoServices = []booking.Service{
	{ID: 1, Name: "Corte", Price: 3500},
	{ID: 2, Name: "Barba", Price: 2500},
	{ID: 3, Name: "Sobrancelha", Price: 1500},
	{ID: 4, Name: "Pigmentação", Price: 4000},
	{ID: 5, Name: "Retorno", Price: 0},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", req.ScenarioID)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

var errUnknownScenario = errors.New("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context, time.Time) error
	switch id {
	case "busy-week":
		load = h.loadBusyWeekScenario
	case "drifted-ledger":
		load = h.loadDriftedLedgerScenario
	case "flip-flop":
		load = h.loadFlipFlopScenario
	default:
		return errUnknownScenario
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.Roles.Reset()
	if err := h.seedCatalogue(ctx); err != nil {
		return err
	}

	monday := mondayOf(cashflow.DateOnly(time.Now().UTC()))
	if err := load(ctx, monday); err != nil {
		return err
	}

	h.currentScenario = id
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

func (h *Handler) seedCatalogue(ctx context.Context) error {
	for _, svc := range demoServices {
		if err := h.Store.SaveService(ctx, svc); err != nil {
			return fmt.Errorf("save service %d: %w", svc.ID, err)
		}
	}
	return h.Store.SaveUserRole(ctx, DemoAdminUserID, RoleAdmin)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoAppointment struct {
	id       int64
	day      int
	client   string
	services []int64
	statuses []booking.Status // applied in order through the engine
}

func (h *Handler) applyAppointments(ctx context.Context, monday time.Time, apts []demoAppointment) error {
	for _, a := range apts {
		apt := booking.Appointment{
			ID:         a.id,
			Status:     booking.StatusScheduled,
			Date:       monday.AddDate(0, 0, a.day),
			ClientName: a.client,
		}
		if err := h.Store.SaveAppointment(ctx, apt, a.services); err != nil {
			return fmt.Errorf("save appointment %d: %w", a.id, err)
		}
		for _, status := range a.statuses {
			out, err := h.Engine.UpdateStatus(ctx, a.id, status)
			if err != nil {
				return fmt.Errorf("appointment %d to %s: %w", a.id, status, err)
			}
			if out.LedgerErr != nil {
				return fmt.Errorf("appointment %d ledger: %w", a.id, out.LedgerErr)
			}
		}
	}
	return nil
}

func (h *Handler) loadBusyWeekScenario(ctx context.Context, monday time.Time) error {
	done := []booking.Status{booking.StatusConfirmed, booking.StatusCompleted}
	err := h.applyAppointments(ctx, monday, []demoAppointment{
		{id: 1, day: 0, client: "João", services: []int64{1}, statuses: done},
		{id: 2, day: 0, client: "Pedro", services: []int64{1, 2}, statuses: done},
		{id: 3, day: 1, client: "Lucas", services: []int64{2, 3}, statuses: done},
		{id: 4, day: 1, client: "Mateus", services: []int64{5}, statuses: done},
		{id: 5, day: 2, client: "Rafael", services: []int64{1, 4}, statuses: []booking.Status{booking.StatusConfirmed}},
		{id: 6, day: 3, client: "Gabriel", services: []int64{1}, statuses: []booking.Status{booking.StatusCancelled}},
		{id: 7, day: 4, client: "Thiago", services: []int64{1, 2, 3}},
	})
	if err != nil {
		return err
	}

	manual := []cashflow.NewTransaction{
		{Date: monday, Amount: decimal.NewFromInt(1200), Type: cashflow.TypeExpense, Category: "rent", Description: "Aluguel"},
		{Date: monday.AddDate(0, 0, 1), Amount: decimal.RequireFromString("89.90"), Type: cashflow.TypeExpense, Category: "supplies", Description: "Lâminas e toalhas"},
		{Date: monday.AddDate(0, 0, 2), Amount: decimal.RequireFromString("45.00"), Type: cashflow.TypeProductSale, Category: "product", Description: "Pomada modeladora", ProductID: cashflow.Int64Ptr(10)},
		{Date: monday.AddDate(0, 0, 3), Amount: decimal.RequireFromString("35.00"), Type: cashflow.TypeRefund, Category: "service", Description: "Estorno de corte"},
	}
	for _, tx := range manual {
		if _, err := h.Store.Insert(ctx, tx); err != nil {
			return fmt.Errorf("insert %s: %w", tx.Description, err)
		}
	}
	return nil
}

// loadDriftedLedgerScenario writes completed appointments straight to the
// store, bypassing the engine, so none of them has an income entry.
func (h *Handler) loadDriftedLedgerScenario(ctx context.Context, monday time.Time) error {
	if err := h.applyAppointments(ctx, monday, []demoAppointment{
		{id: 1, day: 0, client: "João", services: []int64{1}, statuses: []booking.Status{booking.StatusCompleted}},
	}); err != nil {
		return err
	}

	drifted := []struct {
		id       int64
		services []int64
	}{
		{2, []int64{1, 2}},
		{3, []int64{4}},
		{4, []int64{5}},
	}
	for i, d := range drifted {
		completedAt := monday.AddDate(0, 0, i+1).Add(17 * time.Hour)
		apt := booking.Appointment{
			ID:          d.id,
			Status:      booking.StatusCompleted,
			Date:        monday.AddDate(0, 0, i+1),
			CompletedAt: &completedAt,
			ClientName:  fmt.Sprintf("Cliente %d", d.id),
		}
		if err := h.Store.SaveAppointment(ctx, apt, d.services); err != nil {
			return fmt.Errorf("save appointment %d: %w", d.id, err)
		}
	}
	return nil
}

func (h *Handler) loadFlipFlopScenario(ctx context.Context, monday time.Time) error {
	return h.applyAppointments(ctx, monday, []demoAppointment{
		{id: 1, day: 0, client: "João", services: []int64{1, 2}, statuses: []booking.Status{
			booking.StatusCompleted, booking.StatusCancelled, booking.StatusCompleted,
		}},
	})
}

func mondayOf(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
