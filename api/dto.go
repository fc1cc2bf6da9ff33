/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger and booking models from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are rendered as strings with two decimals ("50.00") so clients
  never see binary floating point rounding. Requests accept either a JSON
  number or a string.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cashflow-engine/booking"
	"github.com/warp/cashflow-engine/cashflow"
	"github.com/warp/cashflow-engine/reconcile"
)

// =============================================================================
// CASH FLOW
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID             int64  `json:"id"`
	Date           string `json:"date"`
	Amount         string `json:"amount"`
	Type           string `json:"type"`
	Category       string `json:"category"`
	Description    string `json:"description"`
	AppointmentID  *int64 `json:"appointment_id"`
	ProductID      *int64 `json:"product_id,omitempty"`
	ProfessionalID *int64 `json:"professional_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// CreateEntryRequest is the body of POST /api/cash-flow.
type CreateEntryRequest struct {
	Date        string           `json:"date"`
	Amount      *decimal.Decimal `json:"amount"`
	Type        string           `json:"type"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
}

// BalanceDTO is the response of GET /api/cash-flow/balance.
type BalanceDTO struct {
	Balance   string  `json:"balance"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
}

// SummaryDTO is the response of GET /api/cash-flow/summary.
type SummaryDTO struct {
	TotalIncome  string               `json:"total_income"`
	TotalExpense string               `json:"total_expense"`
	Balance      string               `json:"balance"`
	Categories   []CategorySummaryDTO `json:"categories"`
	StartDate    *string              `json:"start_date"`
	EndDate      *string              `json:"end_date"`
}

type CategorySummaryDTO struct {
	Category string `json:"category"`
	Income   string `json:"income"`
	Expense  string `json:"expense"`
	Balance  string `json:"balance"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReportDTO is the aggregate result of a validate-and-fix pass.
type ReportDTO struct {
	Total           int            `json:"total"`
	WithTransaction int            `json:"with_transaction"`
	Created         int            `json:"created"`
	Skipped         int            `json:"skipped"`
	Errors          int            `json:"errors"`
	ErrorDetails    []ItemErrorDTO `json:"error_details"`
}

type ItemErrorDTO struct {
	AppointmentID int64  `json:"appointment_id"`
	Error         string `json:"error"`
}

// RunDTO is one recorded repair run.
type RunDTO struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at"`
	Report     ReportDTO `json:"report"`
	Error      string    `json:"error,omitempty"`
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

// UpdateStatusRequest is the body of PUT /api/appointments/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ServiceDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// AppointmentDTO represents an appointment with its resolved services.
type AppointmentDTO struct {
	ID             int64        `json:"id"`
	Status         string       `json:"status"`
	Date           string       `json:"date"`
	CompletedAt    *string      `json:"completed_at"`
	ProfessionalID *int64       `json:"professional_id,omitempty"`
	ClientName     string       `json:"client_name"`
	Services       []ServiceDTO `json:"services,omitempty"`
	Total          string       `json:"total,omitempty"`
	HasTransaction bool         `json:"has_transaction"`
}

// StatusUpdateDTO is the response of a status change. The status change
// always succeeded when this is returned; LedgerError reports a ledger
// side effect that failed and will be picked up by the next repair run.
type StatusUpdateDTO struct {
	Appointment    AppointmentDTO `json:"appointment"`
	PreviousStatus string         `json:"previous_status"`
	LedgerAction   string         `json:"ledger_action"`
	Entry          *EntryDTO      `json:"entry,omitempty"`
	LedgerError    string         `json:"ledger_error,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func datePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(cashflow.DateLayout)
	return &s
}

func toEntryDTO(e cashflow.Entry) EntryDTO {
	return EntryDTO{
		ID:             e.ID,
		Date:           e.Date.Format(cashflow.DateLayout),
		Amount:         money(e.Amount),
		Type:           string(e.Type),
		Category:       e.Category,
		Description:    e.Description,
		AppointmentID:  e.AppointmentID,
		ProductID:      e.ProductID,
		ProfessionalID: e.ProfessionalID,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []cashflow.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toSummaryDTO(s cashflow.Summary) SummaryDTO {
	dto := SummaryDTO{
		TotalIncome:  money(s.TotalIncome),
		TotalExpense: money(s.TotalExpense),
		Balance:      money(s.Balance),
		Categories:   make([]CategorySummaryDTO, len(s.Categories)),
		StartDate:    datePtr(s.Period.From),
		EndDate:      datePtr(s.Period.To),
	}
	for i, c := range s.Categories {
		dto.Categories[i] = CategorySummaryDTO{
			Category: c.Category,
			Income:   money(c.Income),
			Expense:  money(c.Expense),
			Balance:  money(c.Balance),
		}
	}
	return dto
}

func toReportDTO(r reconcile.Report) ReportDTO {
	dto := ReportDTO{
		Total:           r.Total,
		WithTransaction: r.WithTransaction,
		Created:         r.Created,
		Skipped:         r.Skipped,
		Errors:          r.Errors,
		ErrorDetails:    make([]ItemErrorDTO, len(r.ErrorDetails)),
	}
	for i, e := range r.ErrorDetails {
		dto.ErrorDetails[i] = ItemErrorDTO{AppointmentID: e.AppointmentID, Error: e.Error}
	}
	return dto
}

func toRunDTO(run reconcile.Run) RunDTO {
	return RunDTO{
		ID:         run.ID,
		Trigger:    string(run.Trigger),
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: run.FinishedAt.UTC().Format(time.RFC3339),
		Report:     toReportDTO(run.Report),
		Error:      run.Err,
	}
}

func toAppointmentDTO(a booking.Appointment, services []booking.PricedService) AppointmentDTO {
	dto := AppointmentDTO{
		ID:             a.ID,
		Status:         string(a.Status),
		Date:           a.Date.Format(cashflow.DateLayout),
		ProfessionalID: a.ProfessionalID,
		ClientName:     a.ClientName,
	}
	if a.CompletedAt != nil {
		s := a.CompletedAt.UTC().Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	if len(services) > 0 {
		dto.Services = make([]ServiceDTO, len(services))
		for i, s := range services {
			dto.Services[i] = ServiceDTO{ID: s.ID, Name: s.Name, Price: money(cashflow.FromMinorUnits(s.Price))}
		}
		dto.Total = money(cashflow.FromMinorUnits(reconcile.TotalMinorUnits(services)))
	}
	return dto
}
