package domain

import "time"

// ScanRun records one executed expiry scan for one warning window on one
// calendar day. A zero-result scan produces no batch record, so the ledger is
// the only proof the (window, day) pair was covered.
type ScanRun struct {
	ID            string
	WindowDays    int
	ScanDate      time.Time
	DueCount      int
	BatchLocation *string
	CreatedAt     time.Time
}
