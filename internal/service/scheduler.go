package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpckit/alloc-notifier/internal/domain"
	"github.com/hpckit/alloc-notifier/internal/observability"
	"github.com/hpckit/alloc-notifier/internal/repository"
)

const defaultScanInterval = time.Hour

// Scheduler is the daemon's periodic pass: first resume any batch records
// with work left in them, then run the expiry scan for each configured
// warning window. The scan ledger keeps a (window, day) pair from being
// scanned twice, so restarts and overlapping ticks stay idempotent.
type Scheduler struct {
	delivery *DeliveryService
	batches  *BatchService
	expiry   *ExpiryService
	ledger   repository.ScanRunRepository
	windows  []int
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewScheduler(
	delivery *DeliveryService,
	batches *BatchService,
	expiry *ExpiryService,
	ledger repository.ScanRunRepository,
	windows []int,
	interval time.Duration,
	logger *zap.Logger,
) (*Scheduler, error) {
	if delivery == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if expiry == nil {
		return nil, fmt.Errorf("expiry service is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("scan run repository is required")
	}
	if len(windows) == 0 {
		windows = []int{7, 1}
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		delivery: delivery,
		batches:  batches,
		expiry:   expiry,
		ledger:   ledger,
		windows:  windows,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Scheduler) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial pass so interrupted batches and an overdue scan day do
	// not wait for the first ticker edge.
	if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler pass failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	if err := s.resumeIncomplete(ctx); err != nil {
		return err
	}

	for _, windowDays := range s.windows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.scanWindow(ctx, windowDays); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("window scan failed",
				zap.Int("windowDays", windowDays),
				zap.Error(err),
			)
		}
	}

	s.updateIncompleteGauge(ctx)
	return nil
}

// resumeIncomplete finishes what earlier runs left behind. Records whose
// attempt budget is already spent stay on disk for operator review; only
// records with live pending entries are driven again.
func (s *Scheduler) resumeIncomplete(ctx context.Context) error {
	locations, err := s.batches.ListIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("failed to list incomplete batches: %w", err)
	}

	for _, location := range locations {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := s.batches.LoadBatch(ctx, location)
		if err != nil {
			s.logger.Warn("skipping unreadable batch record",
				zap.String("location", location),
				zap.Error(err),
			)
			continue
		}
		if len(s.batches.Pending(batch)) == 0 {
			continue
		}

		result, err := s.delivery.Resume(ctx, location)
		if err != nil {
			s.logger.Warn("failed to resume batch",
				zap.String("location", location),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("batch resumed",
			zap.String("batchId", result.Summary.BatchID),
			zap.String("status", result.Summary.Status.String()),
			zap.Int("success", result.Summary.Success),
			zap.Int("failed", result.Summary.Failed),
			zap.Int("pending", result.Summary.Pending),
		)
	}

	return nil
}

func (s *Scheduler) scanWindow(ctx context.Context, windowDays int) error {
	scanDate := s.scanDate()

	exists, err := s.ledger.Exists(ctx, windowDays, scanDate)
	if err != nil {
		return fmt.Errorf("failed to check scan ledger: %w", err)
	}
	if exists {
		s.logger.Debug("window already scanned today",
			zap.Int("windowDays", windowDays),
			zap.Time("scanDate", scanDate),
		)
		return nil
	}

	requests, err := s.expiry.DueRequests(ctx, windowDays)
	if err != nil {
		return err
	}

	run := &domain.ScanRun{
		WindowDays: windowDays,
		ScanDate:   scanDate,
		DueCount:   len(requests),
	}

	if len(requests) > 0 {
		result, err := s.delivery.Run(ctx, ExpiryWindowType(windowDays), requests)
		if err != nil {
			// Leave the ledger untouched so the next tick tries again;
			// any record already created will be resumed, not duplicated.
			return fmt.Errorf("failed to deliver expiry batch: %w", err)
		}
		run.BatchLocation = &result.Location
	}

	if err := s.ledger.Record(ctx, run); err != nil {
		// A conflict means an earlier pass crashed between delivery and
		// the ledger write; the work itself is already done.
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("scan already recorded",
				zap.Int("windowDays", windowDays),
				zap.Time("scanDate", scanDate),
			)
			return nil
		}
		return fmt.Errorf("failed to record scan run: %w", err)
	}

	s.logger.Info("window scanned",
		zap.Int("windowDays", windowDays),
		zap.Time("scanDate", scanDate),
		zap.Int("due", run.DueCount),
	)

	return nil
}

func (s *Scheduler) scanDate() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Scheduler) updateIncompleteGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	locations, err := s.batches.ListIncomplete(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh incomplete batch gauge", zap.Error(err))
		return
	}
	s.metrics.SetIncompleteBatches(len(locations))
}
