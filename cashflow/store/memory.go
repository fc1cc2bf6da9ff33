// Package store provides in-memory cashflow.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/cashflow-engine/cashflow"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	nextID        int64
	entries       map[int64]cashflow.Entry
	byAppointment map[int64]int64 // appointment id -> entry id
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		nextID:        1,
		entries:       make(map[int64]cashflow.Entry),
		byAppointment: make(map[int64]int64),
		now:           time.Now,
	}
}

// Insert checks the appointment link and writes under one lock, so two
// concurrent inserts for the same appointment cannot both succeed.
func (m *Memory) Insert(_ context.Context, tx cashflow.NewTransaction) (cashflow.Entry, error) {
	tx, err := tx.Normalize()
	if err != nil {
		return cashflow.Entry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.AppointmentID != nil {
		if _, taken := m.byAppointment[*tx.AppointmentID]; taken {
			return cashflow.Entry{}, cashflow.ErrDuplicateAppointment
		}
	}

	e := cashflow.Entry{
		ID:             m.nextID,
		Date:           tx.Date,
		Amount:         tx.Amount,
		Type:           tx.Type,
		Category:       tx.Category,
		Description:    tx.Description,
		AppointmentID:  copyID(tx.AppointmentID),
		ProductID:      copyID(tx.ProductID),
		ProfessionalID: copyID(tx.ProfessionalID),
		CreatedAt:      m.now().UTC(),
	}
	m.nextID++
	m.entries[e.ID] = e
	if e.AppointmentID != nil {
		m.byAppointment[*e.AppointmentID] = e.ID
	}
	return e, nil
}

func (m *Memory) Delete(_ context.Context, id int64) (cashflow.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return cashflow.Entry{}, cashflow.ErrEntryNotFound
	}
	delete(m.entries, id)
	if e.AppointmentID != nil {
		delete(m.byAppointment, *e.AppointmentID)
	}
	return e, nil
}

func (m *Memory) Get(_ context.Context, id int64) (cashflow.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return cashflow.Entry{}, cashflow.ErrEntryNotFound
	}
	return e, nil
}

func (m *Memory) List(_ context.Context, filter cashflow.Filter) ([]cashflow.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []cashflow.Entry{}
	for _, e := range m.entries {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) ExistsForAppointment(_ context.Context, appointmentID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byAppointment[appointmentID]
	return ok, nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
