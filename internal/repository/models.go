package repository

import (
	"time"

	"github.com/hpckit/alloc-notifier/internal/domain"
)

// AllocationModel is the read model over the accounting platform's
// allocations table. The schema is owned by the parent application.
type AllocationModel struct {
	ID              string                  `gorm:"type:uuid;primaryKey"`
	Project         string                  `gorm:"type:varchar(255);not null"`
	Owner           string                  `gorm:"type:varchar(255);not null"`
	Recipient       string                  `gorm:"type:varchar(255);not null"`
	CPUHoursGranted float64                 `gorm:"not null"`
	Status          domain.AllocationStatus `gorm:"type:varchar(20);not null"`
	ExpiresAt       time.Time               `gorm:"type:timestamptz;not null"`
	CreatedAt       time.Time
}

func (AllocationModel) TableName() string {
	return "allocations"
}

func allocationModelToDomain(m *AllocationModel) *domain.Allocation {
	if m == nil {
		return nil
	}

	return &domain.Allocation{
		ID:              m.ID,
		Project:         m.Project,
		Owner:           m.Owner,
		Recipient:       m.Recipient,
		CPUHoursGranted: m.CPUHoursGranted,
		Status:          m.Status,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
	}
}

// ScanRunModel is the persistence model for the scan_runs ledger.
type ScanRunModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	WindowDays    int       `gorm:"not null;uniqueIndex:idx_scan_runs_window_date"`
	ScanDate      time.Time `gorm:"type:date;not null;uniqueIndex:idx_scan_runs_window_date"`
	DueCount      int       `gorm:"not null;default:0"`
	BatchLocation *string   `gorm:"type:varchar(512)"`
	CreatedAt     time.Time
}

func (ScanRunModel) TableName() string {
	return "scan_runs"
}

func scanRunModelFromDomain(r *domain.ScanRun) *ScanRunModel {
	if r == nil {
		return nil
	}

	return &ScanRunModel{
		ID:            r.ID,
		WindowDays:    r.WindowDays,
		ScanDate:      r.ScanDate,
		DueCount:      r.DueCount,
		BatchLocation: r.BatchLocation,
		CreatedAt:     r.CreatedAt,
	}
}

func scanRunModelToDomain(m *ScanRunModel) *domain.ScanRun {
	if m == nil {
		return nil
	}

	return &domain.ScanRun{
		ID:            m.ID,
		WindowDays:    m.WindowDays,
		ScanDate:      m.ScanDate,
		DueCount:      m.DueCount,
		BatchLocation: m.BatchLocation,
		CreatedAt:     m.CreatedAt,
	}
}
