/*
handlers.go - HTTP API handlers for the cash-flow subsystem

PURPOSE:
  Exposes the ledger, the summary aggregator and the reconciliation engine
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to domain logic.

ENDPOINTS:
  Cash flow:
    GET    /api/cash-flow                 List entries (start_date, end_date, type, category, appointment_id)
    POST   /api/cash-flow                 Record a manual transaction
    DELETE /api/cash-flow/{id}            Delete a manual entry
    GET    /api/cash-flow/balance         Signed balance over a date range
    GET    /api/cash-flow/summary         Totals and per-category breakdown

  Appointments:
    GET    /api/appointments/{id}         Appointment with resolved services
    PUT    /api/appointments/{id}/status  Change status and reconcile the ledger

  Admin:
    POST   /api/admin/cash-flow/validate  Run validate-and-fix now
    GET    /api/admin/cash-flow/runs      Repair run history

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Entry or appointment not found
  - 409: Conflict (appointment-linked entry)
  - 500: Internal errors

STATUS UPDATES:
  A status change is reported as successful whenever the status write
  succeeded, even if the ledger side effect failed. The failure is logged,
  returned in ledger_error, and repaired by the next validate-and-fix run.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
	"github.com/warp/cashflow-engine/logging"
	"github.com/warp/cashflow-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the handlers need from persistence. Both
// store/sqlite and store/postgres implement it.
type Store interface {
	cashflow.Store
	booking.Reader
	booking.StatusWriter
	reconcile.RunStore
	RoleResolver

	SaveService(ctx context.Context, svc booking.Service) error
	SaveAppointment(ctx context.Context, a booking.Appointment, serviceIDs []int64) error
	SaveUserRole(ctx context.Context, userID, role string) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Engine     *reconcile.Engine
	Aggregator *cashflow.Aggregator
	Roles      *RoleCache
	Logger     *zap.Logger

	// scenarioMu guards currentScenario and serialises scenario loads and resets
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires the engine and aggregator over a single store.
func NewHandler(store Store, roles *RoleCache, logger *zap.Logger) *Handler {
	logger = logging.OrNop(logger)
	if roles == nil {
		roles = NewRoleCache(0)
	}
	return &Handler{
		Store:      store,
		Engine:     reconcile.NewEngine(store, store, logger),
		Aggregator: cashflow.NewAggregator(store),
		Roles:      roles,
		Logger:     logger.Named("api"),
	}
}

// =============================================================================
// CASH FLOW HANDLERS
// =============================================================================

// ListCashFlow returns ledger entries matching the query filters.
// GET /api/cash-flow
func (h *Handler) ListCashFlow(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	entries, err := h.Store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cash flow", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

// GetCashFlowBalance returns the signed balance over an inclusive date range.
// GET /api/cash-flow/balance
func (h *Handler) GetCashFlowBalance(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	balance, err := h.Aggregator.CalculateBalance(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to calculate balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		Balance:   money(balance),
		StartDate: datePtr(from),
		EndDate:   datePtr(to),
	})
}

// GetCashFlowSummary returns totals and the per-category breakdown.
// GET /api/cash-flow/summary
func (h *Handler) GetCashFlowSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	summary, err := h.Aggregator.GetSummary(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// CreateCashFlowEntry records a manual transaction with no appointment link.
// POST /api/cash-flow
func (h *Handler) CreateCashFlowEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	entry, err := h.Store.Insert(r.Context(), tx)
	if err != nil {
		writeError(w, statusFor(err), "Failed to record transaction", err)
		return
	}

	h.Logger.Info("manual transaction recorded",
		zap.Int64("entry_id", entry.ID),
		zap.String("type", string(entry.Type)),
		zap.String("amount", money(entry.Amount)),
	)
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

func (req CreateEntryRequest) toTransaction() (cashflow.NewTransaction, error) {
	var missing []string
	if strings.TrimSpace(req.Date) == "" {
		missing = append(missing, "date")
	}
	if req.Amount == nil {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(req.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(req.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(req.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return cashflow.NewTransaction{}, fmt.Errorf("%w: missing %s", cashflow.ErrInvalidEntry, strings.Join(missing, ", "))
	}

	date, err := cashflow.ParseDate(req.Date)
	if err != nil {
		return cashflow.NewTransaction{}, fmt.Errorf("%w: date must be YYYY-MM-DD", cashflow.ErrInvalidEntry)
	}
	entryType, err := cashflow.ParseEntryType(req.Type)
	if err != nil {
		return cashflow.NewTransaction{}, err
	}

	return cashflow.NewTransaction{
		Date:        date,
		Amount:      *req.Amount,
		Type:        entryType,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
	}.Normalize()
}

// DeleteCashFlowEntry removes a manual entry. Entries linked to an
// appointment are owned by the reconciliation engine and are refused.
// DELETE /api/cash-flow/{id}
func (h *Handler) DeleteCashFlowEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	entry, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get entry", err)
		return
	}
	if entry.AppointmentID != nil {
		writeError(w, http.StatusConflict, "Entry is linked to an appointment",
			fmt.Sprintf("change the status of appointment %d instead", *entry.AppointmentID))
		return
	}

	if _, err := h.Store.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), "Failed to delete entry", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// =============================================================================
// APPOINTMENT HANDLERS
// =============================================================================

// GetAppointment returns an appointment with its resolved services.
// GET /api/appointments/{id}
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid appointment id", err)
		return
	}

	apt, err := h.Store.GetAppointment(ctx, id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get appointment", err)
		return
	}

	services, err := booking.ResolveServices(ctx, h.Store, id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to resolve services", err)
		return
	}

	hasTx, err := h.Engine.HasTransaction(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check ledger", err)
		return
	}

	dto := toAppointmentDTO(apt, services)
	dto.HasTransaction = hasTx
	writeJSON(w, http.StatusOK, dto)
}

// UpdateAppointmentStatus changes the status and reconciles the ledger.
// PUT /api/appointments/{id}/status
func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid appointment id", err)
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status, err := booking.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}

	out, err := h.Engine.UpdateStatus(r.Context(), id, status)
	if err != nil {
		writeError(w, statusFor(err), "Failed to update status", err)
		return
	}

	resp := StatusUpdateDTO{
		Appointment:    toAppointmentDTO(out.Appointment, nil),
		PreviousStatus: string(out.PreviousStatus),
		LedgerAction:   string(out.Action),
	}
	if out.Entry != nil {
		e := toEntryDTO(*out.Entry)
		resp.Entry = &e
	}
	if out.LedgerErr != nil {
		resp.LedgerError = out.LedgerErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ValidateCashFlow runs validate-and-fix and returns the aggregate report.
// POST /api/admin/cash-flow/validate
func (h *Handler) ValidateCashFlow(w http.ResponseWriter, r *http.Request) {
	run, err := h.Engine.RunRepair(r.Context(), reconcile.TriggerManual)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Validation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// ListRepairRuns returns the most recent repair runs.
// GET /api/admin/cash-flow/runs?limit=N
func (h *Handler) ListRepairRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", v)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list repair runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.Roles.Reset()
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message}
	switch d := details.(type) {
	case nil:
	case error:
		resp.Details = d.Error()
	default:
		resp.Details = d
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cashflow.ErrDuplicateAppointment):
		return http.StatusConflict
	case cashflow.IsNotFound(err), booking.IsNotFound(err):
		return http.StatusNotFound
	case cashflow.IsClientError(err), errors.Is(err, booking.ErrUnknownStatus):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q is not a positive integer", s)
	}
	return id, nil
}

func parseOptionalDate(r *http.Request, key string) (*time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	t, err := cashflow.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD", key)
	}
	return &t, nil
}

func parseRange(r *http.Request) (from, to *time.Time, err error) {
	if from, err = parseOptionalDate(r, "start_date"); err != nil {
		return nil, nil, err
	}
	if to, err = parseOptionalDate(r, "end_date"); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, errors.New("end_date is before start_date")
	}
	return from, to, nil
}

func parseFilter(r *http.Request) (cashflow.Filter, error) {
	var (
		f   cashflow.Filter
		err error
	)
	if f.From, f.To, err = parseRange(r); err != nil {
		return f, err
	}

	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		t, err := cashflow.ParseEntryType(v)
		if err != nil {
			return f, err
		}
		f.Type = &t
	}
	if v := q.Get("category"); v != "" {
		f.Category = &v
	}
	if v := q.Get("appointment_id"); v != "" {
		id, err := parseID(v)
		if err != nil {
			return f, fmt.Errorf("appointment_id: %w", err)
		}
		f.AppointmentID = &id
	}
	return f, nil
}
