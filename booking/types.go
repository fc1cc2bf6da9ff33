/*
Package booking describes the appointment side of the barbershop as seen
by the cash-flow engine.

The booking subsystem owns appointments and services. This package only
defines the records the engine reads and the two narrow contracts it
consumes:

  Reader        read appointments, their service links and priced services
  StatusWriter  swap an appointment status and report the previous one

Prices are always in minor units (cents).
*/
package booking

import (
	"context"
	"time"
)

// Appointment is a booking row.
type Appointment struct {
	ID             int64
	Status         Status
	Date           time.Time
	CompletedAt    *time.Time
	ProfessionalID *int64
	ClientName     string
}

// LedgerDate is the date an income entry for this appointment carries:
// CompletedAt when set, otherwise the appointment date.
func (a Appointment) LedgerDate() time.Time {
	if a.CompletedAt != nil && !a.CompletedAt.IsZero() {
		return *a.CompletedAt
	}
	return a.Date
}

// Service is a priced service from the catalogue.
type Service struct {
	ID    int64
	Name  string
	Price int64 // minor units
}

// ServiceRef links an appointment to a service.
type ServiceRef struct {
	ServiceID int64
}

// PricedService is a resolved service line of an appointment.
type PricedService struct {
	ID    int64
	Name  string
	Price int64 // minor units
}

// AppointmentFilter narrows GetAppointments. Nil fields match everything.
type AppointmentFilter struct {
	Status         *Status
	Date           *time.Time
	ProfessionalID *int64
}

// Reader is read-only access to booking data.
type Reader interface {
	GetAppointment(ctx context.Context, id int64) (Appointment, error)
	GetAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	GetAppointmentServices(ctx context.Context, appointmentID int64) ([]ServiceRef, error)
	GetService(ctx context.Context, id int64) (Service, error)
}

// StatusWriter persists status changes.
type StatusWriter interface {
	// SwapStatus reads the current status and writes the new one atomically,
	// returning the appointment as it was before the write. completedAt is
	// stored when entering completed and cleared when leaving it.
	SwapStatus(ctx context.Context, id int64, status Status, completedAt time.Time) (before Appointment, err error)
}

// ResolveServices loads the priced services of an appointment in link order.
func ResolveServices(ctx context.Context, r Reader, appointmentID int64) ([]PricedService, error) {
	refs, err := r.GetAppointmentServices(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	services := make([]PricedService, 0, len(refs))
	for _, ref := range refs {
		svc, err := r.GetService(ctx, ref.ServiceID)
		if err != nil {
			return nil, err
		}
		services = append(services, PricedService{ID: svc.ID, Name: svc.Name, Price: svc.Price})
	}
	return services, nil
}
