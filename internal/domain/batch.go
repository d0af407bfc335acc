package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a batch, derived from its
// entry partition: completed when nothing is pending and nothing failed,
// partial when nothing is pending but some entries failed, in_progress
// otherwise.
type BatchStatus string

const (
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusPartial    BatchStatus = "partial"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusInProgress, BatchStatusCompleted, BatchStatusPartial:
		return true
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// BatchTimestampFormat stamps batch IDs and record file names. UTC,
// second precision, lexicographically sortable.
const BatchTimestampFormat = "20060102T150405Z"

// NormalizeNotificationType lowercases and trims a caller-supplied category
// label and rejects anything unsafe to embed in a batch ID or file name.
func NormalizeNotificationType(s string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return "", fmt.Errorf("%w: notification type is required", ErrValidation)
	}
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return "", fmt.Errorf("%w: notification type %q contains invalid character %q", ErrValidation, s, r)
		}
	}
	return normalized, nil
}

// BatchIDFor derives the stable identifier for one run of a notification type.
func BatchIDFor(notificationType string, createdAt time.Time) string {
	return fmt.Sprintf("%s_%s", notificationType, createdAt.UTC().Format(BatchTimestampFormat))
}

// BatchMetadata describes one batch record. The count fields and Status are
// derived from the entry list; Recompute keeps them consistent.
type BatchMetadata struct {
	BatchID          string      `json:"batch_id"`
	NotificationType string      `json:"notification_type"`
	CreatedAt        time.Time   `json:"created_at"`
	TotalCount       int         `json:"total_count"`
	SuccessCount     int         `json:"success_count"`
	FailedCount      int         `json:"failed_count"`
	PendingCount     int         `json:"pending_count"`
	Status           BatchStatus `json:"status"`
}

// Batch is the persisted unit of work: metadata plus the ordered entry list.
// Entry order is the delivery schedule and is never reordered.
type Batch struct {
	Metadata BatchMetadata `json:"metadata"`
	Entries  []*Entry      `json:"notifications"`
}

// Entry returns the entry with the given ID, if present.
func (b *Batch) Entry(id string) (*Entry, bool) {
	for _, e := range b.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Recompute refreshes the derived metadata counts and status from the entry
// list. Stored counts are never treated as authority: callers recompute after
// every mutation and again after loading a record.
func (b *Batch) Recompute() {
	var success, failed, pending int
	for _, e := range b.Entries {
		switch e.Status {
		case EntryStatusSuccess:
			success++
		case EntryStatusFailed:
			failed++
		default:
			pending++
		}
	}

	b.Metadata.TotalCount = len(b.Entries)
	b.Metadata.SuccessCount = success
	b.Metadata.FailedCount = failed
	b.Metadata.PendingCount = pending

	switch {
	case pending == 0 && failed == 0:
		b.Metadata.Status = BatchStatusCompleted
	case pending == 0:
		b.Metadata.Status = BatchStatusPartial
	default:
		b.Metadata.Status = BatchStatusInProgress
	}
}

// Validate checks structural well-formedness of a batch record. A record that
// fails here must be rejected outright, never defaulted or partially trusted.
func (b *Batch) Validate() error {
	if strings.TrimSpace(b.Metadata.BatchID) == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if _, err := NormalizeNotificationType(b.Metadata.NotificationType); err != nil {
		return err
	}
	if b.Metadata.CreatedAt.IsZero() {
		return fmt.Errorf("%w: batch created_at is required", ErrValidation)
	}
	if !b.Metadata.Status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", ErrValidation, b.Metadata.Status)
	}

	seen := make(map[string]struct{}, len(b.Entries))
	for _, e := range b.Entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate entry id %q", ErrValidation, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// BatchSummary is the read-only projection shown to operators after a run.
type BatchSummary struct {
	BatchID string      `json:"batch_id"`
	Total   int         `json:"total"`
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Pending int         `json:"pending"`
	Status  BatchStatus `json:"status"`
}

// Summary projects the batch's current counts. Recompute first if entries
// were mutated since the last save.
func (b *Batch) Summary() BatchSummary {
	return BatchSummary{
		BatchID: b.Metadata.BatchID,
		Total:   b.Metadata.TotalCount,
		Success: b.Metadata.SuccessCount,
		Failed:  b.Metadata.FailedCount,
		Pending: b.Metadata.PendingCount,
		Status:  b.Metadata.Status,
	}
}
