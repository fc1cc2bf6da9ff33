package booking

import (
	"fmt"
	"strings"
)

// Status is the canonical appointment status.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// statusAliases is the single conversion table for status strings coming
// from the UI, the database and older rows. Keys are lowercase.
var statusAliases = map[string]Status{
	"scheduled": StatusScheduled,
	"pending":   StatusScheduled,
	"agendado":  StatusScheduled,

	"confirmed":  StatusConfirmed,
	"confirmado": StatusConfirmed,

	"completed": StatusCompleted,
	"complete":  StatusCompleted,
	"done":      StatusCompleted,
	"finished":  StatusCompleted,
	"concluido": StatusCompleted,
	"concluído": StatusCompleted,

	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"cancelado": StatusCancelled,
}

// ParseStatus maps any known spelling to its canonical Status.
func ParseStatus(s string) (Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// MustParseStatus is ParseStatus for trusted values. Unknown strings map to
// scheduled so a bad row never looks completed.
func MustParseStatus(s string) Status {
	st, err := ParseStatus(s)
	if err != nil {
		return StatusScheduled
	}
	return st
}

// Normalize returns the canonical form of a status about to be written.
// An empty status is scheduled.
func Normalize(s Status) (Status, error) {
	if strings.TrimSpace(string(s)) == "" {
		return StatusScheduled, nil
	}
	return ParseStatus(string(s))
}

// Matches reports whether a stored status string is any spelling of s.
func (s Status) Matches(stored string) bool {
	st, err := ParseStatus(stored)
	return err == nil && st == s
}

func (s Status) IsCompleted() bool { return s == StatusCompleted }

func (s Status) String() string { return string(s) }
