package cashflow

import "errors"

var (
	// ErrEntryNotFound is returned when a ledger entry id does not exist.
	ErrEntryNotFound = errors.New("cash flow entry not found")

	// ErrDuplicateAppointment is returned when an entry already references
	// the appointment. Callers treat it as the idempotence signal.
	ErrDuplicateAppointment = errors.New("appointment already has a cash flow entry")

	// ErrInvalidEntryType is returned for a type outside INCOME, EXPENSE,
	// PRODUCT_SALE and REFUND.
	ErrInvalidEntryType = errors.New("invalid cash flow entry type")

	// ErrInvalidAmount is returned for negative amounts. The sign comes from the type.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidEntry is returned for any other malformed transaction.
	ErrInvalidEntry = errors.New("invalid cash flow entry")
)

// IsNotFound returns true if the error indicates a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEntryType) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEntry)
}
