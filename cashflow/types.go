/*
Package cashflow provides the flat financial ledger of the barbershop.

PURPOSE:
  A cash-flow entry records one signed financial event: income from a
  completed appointment, an expense, a product sale or a refund. The
  ledger is a flat list of entries; there is no double-entry bookkeeping.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: a persisted ledger row (amount in MAJOR units)
  - EntryType: INCOME, EXPENSE, PRODUCT_SALE, REFUND
  - NewTransaction: the shape accepted by Store.Insert
  - Filter: listing criteria (date range, type, category, appointment)

UNIT BOUNDARY:
  Appointment and service prices live in MINOR units (cents, int64).
  Ledger amounts live in MAJOR units (decimal.Decimal). The conversion
  happens exactly once, in FromMinorUnits, at the point of insertion.

APPOINTMENT LINK:
  At most one entry may reference a given non-null AppointmentID. Stores
  enforce this with a unique index and report ErrDuplicateAppointment.

SEE ALSO:
  - store.go: persistence interface
  - summary.go: balance and summary aggregation
  - reconcile/engine.go: keeps appointment-linked entries consistent
*/
package cashflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCategory is used when a transaction is recorded without a category.
const DefaultCategory = "service"

// DateLayout is the calendar date format used for storage and the API.
const DateLayout = "2006-01-02"

// =============================================================================
// ENTRY TYPE
// =============================================================================

type EntryType string

const (
	TypeIncome      EntryType = "INCOME"
	TypeExpense     EntryType = "EXPENSE"
	TypeProductSale EntryType = "PRODUCT_SALE"
	TypeRefund      EntryType = "REFUND"
)

// EntryTypes lists every valid entry type.
var EntryTypes = []EntryType{TypeIncome, TypeExpense, TypeProductSale, TypeRefund}

// ParseEntryType accepts any casing and returns the canonical uppercase type.
func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, s)
	}
	return t, nil
}

func (t EntryType) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeProductSale, TypeRefund:
		return true
	}
	return false
}

// Sign returns +1 for money coming in and -1 for money going out.
func (t EntryType) Sign() int {
	switch t {
	case TypeIncome, TypeProductSale:
		return 1
	case TypeExpense, TypeRefund:
		return -1
	}
	return 0
}

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one ledger row. Amount is always in major currency units.
type Entry struct {
	ID             int64
	Date           time.Time
	Amount         decimal.Decimal
	Type           EntryType
	Category       string
	Description    string
	AppointmentID  *int64
	ProductID      *int64
	ProfessionalID *int64
	CreatedAt      time.Time
}

// Signed returns the amount with the sign implied by the entry type.
func (e Entry) Signed() decimal.Decimal {
	if e.Type.Sign() < 0 {
		return e.Amount.Neg()
	}
	return e.Amount
}

// NewTransaction is the insert shape for Store.Insert.
type NewTransaction struct {
	Date           time.Time
	Amount         decimal.Decimal
	Type           EntryType
	Category       string
	Description    string
	AppointmentID  *int64
	ProductID      *int64
	ProfessionalID *int64
}

// Normalize applies defaults and validates the transaction.
// Stores call this before persisting.
func (n NewTransaction) Normalize() (NewTransaction, error) {
	t, err := ParseEntryType(string(n.Type))
	if err != nil {
		return n, err
	}
	n.Type = t
	if n.Amount.IsNegative() {
		return n, fmt.Errorf("%w: amount must not be negative", ErrInvalidAmount)
	}
	if strings.TrimSpace(n.Category) == "" {
		n.Category = DefaultCategory
	}
	if n.Date.IsZero() {
		return n, fmt.Errorf("%w: date is required", ErrInvalidEntry)
	}
	n.Date = DateOnly(n.Date)
	return n, nil
}

// =============================================================================
// FILTER
// =============================================================================

// Filter selects entries. Nil fields match everything; the date range is inclusive.
type Filter struct {
	From          *time.Time
	To            *time.Time
	Type          *EntryType
	Category      *string
	AppointmentID *int64
}

// Matches reports whether e satisfies the filter. Used by in-memory stores.
func (f Filter) Matches(e Entry) bool {
	d := DateOnly(e.Date)
	if f.From != nil && d.Before(DateOnly(*f.From)) {
		return false
	}
	if f.To != nil && d.After(DateOnly(*f.To)) {
		return false
	}
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.AppointmentID != nil && (e.AppointmentID == nil || *e.AppointmentID != *f.AppointmentID) {
		return false
	}
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

// FromMinorUnits converts cents to a major-unit decimal (5000 -> 50.00).
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func Int64Ptr(v int64) *int64 { return &v }
