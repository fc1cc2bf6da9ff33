package booking

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrServiceNotFound     = errors.New("service not found")

	// ErrUnknownStatus is returned by ParseStatus for strings outside the alias table.
	ErrUnknownStatus = errors.New("unknown appointment status")
)

// IsNotFound returns true if the error indicates a missing appointment or service.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAppointmentNotFound) ||
		errors.Is(err, ErrServiceNotFound)
}
