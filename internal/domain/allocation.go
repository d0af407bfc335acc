package domain

import (
	"fmt"
	"strings"
	"time"
)

// AllocationStatus mirrors the state column of the accounting platform's
// allocations table. This service only ever reads active allocations.
type AllocationStatus string

const (
	AllocationStatusActive  AllocationStatus = "active"
	AllocationStatusExpired AllocationStatus = "expired"
	AllocationStatusRevoked AllocationStatus = "revoked"
)

func (s AllocationStatus) String() string { return string(s) }

func (s AllocationStatus) IsValid() bool {
	switch s {
	case AllocationStatusActive, AllocationStatusExpired, AllocationStatusRevoked:
		return true
	}
	return false
}

func ParseAllocationStatusFromString(s string) (AllocationStatus, error) {
	st := AllocationStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid allocation status %q", ErrValidation, s)
	}
	return st, nil
}

// Allocation is the read model over the parent platform's compute-time
// grants. The schema is owned by the accounting application; this service
// never writes to it.
type Allocation struct {
	ID              string
	Project         string
	Owner           string
	Recipient       string
	CPUHoursGranted float64
	Status          AllocationStatus
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// ExpiryNotice is the payload shape emitted by the expiry scanner. The engine
// treats it as opaque bytes; providers unmarshal it to compose messages.
type ExpiryNotice struct {
	AllocationID    string    `json:"allocation_id"`
	Project         string    `json:"project"`
	Owner           string    `json:"owner"`
	Recipient       string    `json:"recipient"`
	CPUHoursGranted float64   `json:"cpu_hours_granted"`
	ExpiresAt       time.Time `json:"expires_at"`
	DaysLeft        int       `json:"days_left"`
}
