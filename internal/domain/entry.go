package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntryStatus represents the delivery state of a single batch entry.
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusSuccess EntryStatus = "success"
	EntryStatusFailed  EntryStatus = "failed"
)

func (s EntryStatus) String() string { return string(s) }

func (s EntryStatus) IsValid() bool {
	switch s {
	case EntryStatusPending, EntryStatusSuccess, EntryStatusFailed:
		return true
	}
	return false
}

func ParseEntryStatusFromString(s string) (EntryStatus, error) {
	st := EntryStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid entry status %q", ErrValidation, s)
	}
	return st, nil
}

// Entry is one notification to one target within a batch. Its ID is derived
// from the caller's business keys, so re-creating the same logical batch
// always yields the same entry set.
type Entry struct {
	ID            string          `json:"id"`
	Status        EntryStatus     `json:"status"`
	AttemptCount  int             `json:"attempt_count"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Terminal reports whether the entry may never be mutated again.
func (e *Entry) Terminal() bool {
	return e.Status == EntryStatusSuccess || e.Status == EntryStatusFailed
}

func (e *Entry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: entry id is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid entry status %q", ErrValidation, e.Status)
	}
	if e.AttemptCount < 0 {
		return fmt.Errorf("%w: entry %q has negative attempt count", ErrValidation, e.ID)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: entry %q has no payload", ErrValidation, e.ID)
	}
	return nil
}
