package booking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Reader and StatusWriter for tests and dev.
type Memory struct {
	mu           sync.RWMutex
	appointments map[int64]Appointment
	services     map[int64]Service
	links        map[int64][]ServiceRef
}

func NewMemory() *Memory {
	return &Memory{
		appointments: make(map[int64]Appointment),
		services:     make(map[int64]Service),
		links:        make(map[int64][]ServiceRef),
	}
}

func (m *Memory) SaveService(s Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

// SaveAppointment stores an appointment and replaces its service links.
func (m *Memory) SaveAppointment(a Appointment, serviceIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = a
	refs := make([]ServiceRef, len(serviceIDs))
	for i, id := range serviceIDs {
		refs[i] = ServiceRef{ServiceID: id}
	}
	m.links[a.ID] = refs
}

func (m *Memory) GetAppointment(_ context.Context, id int64) (Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return Appointment{}, ErrAppointmentNotFound
	}
	return canonical(a), nil
}

func (m *Memory) GetAppointments(_ context.Context, filter AppointmentFilter) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if filter.Status != nil && !filter.Status.Matches(string(a.Status)) {
			continue
		}
		if filter.Date != nil && !sameDay(a.Date, *filter.Date) {
			continue
		}
		if filter.ProfessionalID != nil && (a.ProfessionalID == nil || *a.ProfessionalID != *filter.ProfessionalID) {
			continue
		}
		result = append(result, canonical(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetAppointmentServices(_ context.Context, appointmentID int64) ([]ServiceRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.appointments[appointmentID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	return append([]ServiceRef(nil), m.links[appointmentID]...), nil
}

func (m *Memory) GetService(_ context.Context, id int64) (Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return Service{}, ErrServiceNotFound
	}
	return s, nil
}

func (m *Memory) SwapStatus(_ context.Context, id int64, status Status, completedAt time.Time) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, ok := m.appointments[id]
	if !ok {
		return Appointment{}, ErrAppointmentNotFound
	}
	status, err := Normalize(status)
	if err != nil {
		return Appointment{}, err
	}
	before = canonical(before)
	after := before
	after.Status = status
	if status.IsCompleted() {
		if !before.Status.IsCompleted() {
			t := completedAt
			after.CompletedAt = &t
		}
	} else {
		after.CompletedAt = nil
	}
	m.appointments[id] = after
	return before, nil
}

// canonical mirrors the SQL stores, which parse whatever spelling a row holds.
func canonical(a Appointment) Appointment {
	a.Status = MustParseStatus(string(a.Status))
	return a
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
