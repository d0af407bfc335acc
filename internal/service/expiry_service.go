package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpckit/alloc-notifier/internal/domain"
	"github.com/hpckit/alloc-notifier/internal/repository"
)

// ExpiryWindowType is the notification type label for a scan window, e.g.
// "expiry-7d". It doubles as the window component of each entry's identity.
func ExpiryWindowType(windowDays int) string {
	return fmt.Sprintf("expiry-%dd", windowDays)
}

// ExpiryService turns the allocation table into notification requests: for a
// window of N days it picks the allocations expiring exactly N days out and
// shapes one expiry notice per allocation.
type ExpiryService struct {
	allocations repository.AllocationRepository
	logger      *zap.Logger
	now         func() time.Time
}

func NewExpiryService(allocations repository.AllocationRepository, logger *zap.Logger) (*ExpiryService, error) {
	if allocations == nil {
		return nil, fmt.Errorf("allocation repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExpiryService{
		allocations: allocations,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ExpiryService) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// DueRequests returns one request per allocation that expires inside the
// banded window (now + (N-1) days, now + N days]. Bands do not overlap, so a
// daily scan sees each allocation exactly once per configured window.
func (s *ExpiryService) DueRequests(ctx context.Context, windowDays int) ([]domain.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("%w: window days must be positive, got %d", domain.ErrValidation, windowDays)
	}

	now := s.now().UTC()
	from := now.Add(time.Duration(windowDays-1) * 24 * time.Hour)
	to := now.Add(time.Duration(windowDays) * 24 * time.Hour)

	allocations, err := s.allocations.ExpiringBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to scan expiring allocations: %w", err)
	}

	window := ExpiryWindowType(windowDays)
	requests := make([]domain.Request, 0, len(allocations))
	for _, alloc := range allocations {
		notice := domain.ExpiryNotice{
			AllocationID:    alloc.ID,
			Project:         alloc.Project,
			Owner:           alloc.Owner,
			Recipient:       alloc.Recipient,
			CPUHoursGranted: alloc.CPUHoursGranted,
			ExpiresAt:       alloc.ExpiresAt,
			DaysLeft:        windowDays,
		}
		payload, err := json.Marshal(notice)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal expiry notice for allocation %s: %w", alloc.ID, err)
		}
		requests = append(requests, domain.Request{
			Keys:    []string{alloc.ID, window},
			Payload: payload,
		})
	}

	s.logger.Debug("expiry scan completed",
		zap.Int("windowDays", windowDays),
		zap.Int("due", len(requests)),
	)

	return requests, nil
}
