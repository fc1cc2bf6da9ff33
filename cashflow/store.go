package cashflow

import "context"

// Store persists ledger entries.
//
// There is no Update. Entries are inserted and removed; an appointment that
// flips back to completed gets a fresh entry.
type Store interface {
	// Insert persists a transaction and returns the row with its generated id.
	// Returns ErrDuplicateAppointment if AppointmentID is already referenced.
	Insert(ctx context.Context, tx NewTransaction) (Entry, error)

	// Delete removes an entry and returns it, or ErrEntryNotFound.
	Delete(ctx context.Context, id int64) (Entry, error)

	Get(ctx context.Context, id int64) (Entry, error)

	// List returns matching entries ordered by date, then id.
	List(ctx context.Context, filter Filter) ([]Entry, error)

	ExistsForAppointment(ctx context.Context, appointmentID int64) (bool, error)
}
