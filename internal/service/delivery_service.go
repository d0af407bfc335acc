package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpckit/alloc-notifier/internal/domain"
	"github.com/hpckit/alloc-notifier/internal/observability"
	"github.com/hpckit/alloc-notifier/internal/provider"
	"github.com/hpckit/alloc-notifier/internal/ratelimit"
)

// RunResult is what every delivery pass hands back: the final counts plus the
// record location an operator needs to inspect or resume the batch.
type RunResult struct {
	Summary  domain.BatchSummary
	Location string
}

// DeliveryService drives one batch through a delivery pass: create or load
// the record, walk the pending entries in order, send each payload, and
// record every outcome before moving on. Entries fail in isolation; only a
// persistence failure or context cancellation stops a pass.
type DeliveryService struct {
	batches  *BatchService
	provider provider.Provider
	limiter  ratelimit.Limiter
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewDeliveryService(
	batches *BatchService,
	p provider.Provider,
	limiter ratelimit.Limiter,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if limiter == nil {
		limiter = ratelimit.NewTokenBucket(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		batches:  batches,
		provider: p,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *DeliveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Run creates a batch for the given requests and delivers it. The batch
// directory is checked before anything is sent, so a storage problem never
// surfaces halfway through a pass. If the batch record already exists the
// run resumes it instead; re-running the same logical input never creates
// duplicate entries or discards recorded progress.
func (s *DeliveryService) Run(ctx context.Context, notificationType string, requests []domain.Request) (*RunResult, error) {
	ctx, logger := s.beginRun(ctx)

	if err := s.batches.ValidateDirectory(ctx); err != nil {
		return nil, err
	}

	batch, location, err := s.batches.CreateBatch(ctx, notificationType, requests)
	if errors.Is(err, domain.ErrAlreadyExists) && location != "" {
		logger.Info("batch record already exists, resuming",
			zap.String("location", location),
		)
		batch, err = s.batches.LoadBatch(ctx, location)
		if err != nil {
			return nil, err
		}
		return s.deliver(ctx, batch, location, logger)
	}
	if err != nil {
		return nil, err
	}

	return s.deliver(ctx, batch, location, logger)
}

// Resume loads an existing batch record and delivers whatever is still
// pending in it.
func (s *DeliveryService) Resume(ctx context.Context, location string) (*RunResult, error) {
	ctx, logger := s.beginRun(ctx)

	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: batch location is required", domain.ErrValidation)
	}

	if err := s.batches.ValidateDirectory(ctx); err != nil {
		return nil, err
	}

	batch, err := s.batches.LoadBatch(ctx, location)
	if err != nil {
		return nil, err
	}

	return s.deliver(ctx, batch, location, logger)
}

func (s *DeliveryService) beginRun(ctx context.Context) (context.Context, *zap.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithRunID(ctx, uuid.NewString())
	return ctx, observability.WithContextLogger(s.logger, ctx)
}

func (s *DeliveryService) deliver(ctx context.Context, batch *domain.Batch, location string, logger *zap.Logger) (*RunResult, error) {
	pending := s.batches.Pending(batch)

	logger.Info("delivery pass started",
		zap.String("batchId", batch.Metadata.BatchID),
		zap.String("notificationType", batch.Metadata.NotificationType),
		zap.Int("pending", len(pending)),
		zap.String("location", location),
	)

	providerName := s.provider.Name()
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return s.result(batch, location), err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return s.result(batch, location), fmt.Errorf("rate limiter wait failed: %w", err)
		}

		sendStart := s.now()
		sendErr := s.provider.Send(ctx, entry.Payload)
		if s.metrics != nil {
			s.metrics.ObserveSendDuration(providerName, s.now().Sub(sendStart))
			s.metrics.IncSendAttempt(providerName, sendErr == nil)
		}
		if sendErr != nil {
			logger.Warn("send failed",
				zap.String("entryId", entry.ID),
				zap.Int("attempt", entry.AttemptCount+1),
				zap.Error(sendErr),
			)
		}

		// Once a send has been attempted its outcome must land on disk;
		// an unrecordable outcome poisons the whole record, so it stops
		// the pass.
		if err := s.batches.RecordResult(ctx, batch, entry.ID, sendErr); err != nil {
			return s.result(batch, location), err
		}

		if entry.Status == domain.EntryStatusFailed && s.metrics != nil {
			s.metrics.IncEntryFailed(batch.Metadata.NotificationType)
		}
	}

	result := s.result(batch, location)
	logger.Info("delivery pass finished",
		zap.String("batchId", batch.Metadata.BatchID),
		zap.String("status", result.Summary.Status.String()),
		zap.Int("success", result.Summary.Success),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("pending", result.Summary.Pending),
	)

	return result, nil
}

func (s *DeliveryService) result(batch *domain.Batch, location string) *RunResult {
	return &RunResult{
		Summary:  s.batches.Summary(batch),
		Location: location,
	}
}
