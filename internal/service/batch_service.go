package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpckit/alloc-notifier/internal/domain"
	"github.com/hpckit/alloc-notifier/internal/observability"
	"github.com/hpckit/alloc-notifier/internal/repository"
)

const (
	defaultMaxRetries = 3
	maxBatchSize      = 1000
)

// BatchService owns the lifetime of a batch record: creating it with
// deterministic entry identities, selecting what still needs an attempt, and
// recording per-entry outcomes with a durable save after every mutation.
type BatchService struct {
	store      repository.BatchStore
	maxRetries int
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewBatchService(store repository.BatchStore, maxRetries int, logger *zap.Logger) (*BatchService, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		store:      store,
		maxRetries: maxRetries,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetNow replaces the clock. The daemon pins it to day granularity so a
// rescan of the same window lands on the same batch identity.
func (s *BatchService) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *BatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *BatchService) MaxRetries() int { return s.maxRetries }

// CreateBatch builds an all-pending batch record from the given requests and
// persists it. Entry IDs are derived from the request keys, so the same
// logical input always produces the same batch content. When a record
// already exists at the derived location, the returned location points at it
// and the error wraps domain.ErrAlreadyExists.
func (s *BatchService) CreateBatch(
	ctx context.Context,
	notificationType string,
	requests []domain.Request,
) (*domain.Batch, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	normalized, err := domain.NormalizeNotificationType(notificationType)
	if err != nil {
		return nil, "", err
	}
	if len(requests) == 0 {
		return nil, "", fmt.Errorf("%w: batch must include at least one request", domain.ErrValidation)
	}
	if len(requests) > maxBatchSize {
		return nil, "", fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	entries := make([]*domain.Entry, 0, len(requests))
	seen := make(map[string]bool, len(requests))
	for i := range requests {
		req := requests[i]
		if err := req.Validate(); err != nil {
			return nil, "", fmt.Errorf("request %d: %w", i, err)
		}
		id, err := req.EntryID()
		if err != nil {
			return nil, "", fmt.Errorf("request %d: %w", i, err)
		}
		if seen[id] {
			return nil, "", fmt.Errorf("%w: duplicate entry id %q", domain.ErrValidation, id)
		}
		seen[id] = true

		entries = append(entries, &domain.Entry{
			ID:      id,
			Status:  domain.EntryStatusPending,
			Payload: req.Payload,
		})
	}

	createdAt := s.now().UTC()
	batch := &domain.Batch{
		Metadata: domain.BatchMetadata{
			BatchID:          domain.BatchIDFor(normalized, createdAt),
			NotificationType: normalized,
			CreatedAt:        createdAt,
		},
		Entries: entries,
	}
	batch.Recompute()

	location, err := s.store.Create(batch)
	if err != nil {
		// A record already on disk means an earlier run got here first.
		// Hand back its location so the caller can resume it.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, s.store.Location(batch.Metadata), err
		}
		return nil, "", err
	}

	if s.metrics != nil {
		s.metrics.IncBatchCreated(normalized)
	}

	s.logger.Info("batch created",
		zap.String("batchId", batch.Metadata.BatchID),
		zap.String("notificationType", normalized),
		zap.Int("entries", len(entries)),
		zap.String("location", location),
	)

	return batch, location, nil
}

func (s *BatchService) LoadBatch(ctx context.Context, location string) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("%w: batch location is required", domain.ErrValidation)
	}
	return s.store.Load(strings.TrimSpace(location))
}

// Pending returns the entries still eligible for an attempt, in the order
// they were inserted.
func (s *BatchService) Pending(batch *domain.Batch) []*domain.Entry {
	if batch == nil {
		return nil
	}
	pending := make([]*domain.Entry, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		if entry.Status == domain.EntryStatusPending && entry.AttemptCount < s.maxRetries {
			pending = append(pending, entry)
		}
	}
	return pending
}

// RecordResult applies one attempt outcome to an entry and saves the whole
// record before returning. Terminal entries are never touched again. A nil
// attemptErr marks success; otherwise the entry stays pending until the
// attempt budget is spent, at which point it becomes failed.
func (s *BatchService) RecordResult(ctx context.Context, batch *domain.Batch, entryID string, attemptErr error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if batch == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return fmt.Errorf("%w: entry id is required", domain.ErrValidation)
	}

	entry, ok := batch.Entry(entryID)
	if !ok {
		return fmt.Errorf("%w: entry %q is not part of batch %s", domain.ErrNotFound, entryID, batch.Metadata.BatchID)
	}
	if entry.Terminal() {
		return fmt.Errorf("%w: entry %q already reached terminal status %s", domain.ErrConflict, entryID, entry.Status)
	}

	prev := *entry

	attemptedAt := s.now().UTC()
	entry.AttemptCount++
	entry.LastAttemptAt = &attemptedAt
	if attemptErr == nil {
		entry.Status = domain.EntryStatusSuccess
		entry.LastError = ""
	} else {
		entry.LastError = attemptErr.Error()
		if entry.AttemptCount >= s.maxRetries {
			entry.Status = domain.EntryStatusFailed
		}
	}

	// The save is the durability point. If it fails the in-memory record
	// must match what is on disk, so the mutation is undone.
	if err := s.store.Save(batch); err != nil {
		*entry = prev
		batch.Recompute()
		return fmt.Errorf("failed to persist result for entry %q: %w", entryID, err)
	}

	s.logger.Debug("attempt recorded",
		zap.String("batchId", batch.Metadata.BatchID),
		zap.String("entryId", entryID),
		zap.String("status", entry.Status.String()),
		zap.Int("attemptCount", entry.AttemptCount),
	)

	return nil
}

func (s *BatchService) Summary(batch *domain.Batch) domain.BatchSummary {
	if batch == nil {
		return domain.BatchSummary{}
	}
	return batch.Summary()
}

func (s *BatchService) ListIncomplete(ctx context.Context) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.store.ListIncomplete()
}

// ValidateDirectory confirms the batch directory is usable before any work
// that would need to persist into it.
func (s *BatchService) ValidateDirectory(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.store.ValidateDir()
}
