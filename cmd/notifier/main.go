package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hpckit/alloc-notifier/internal/config"
	"github.com/hpckit/alloc-notifier/internal/domain"
	"github.com/hpckit/alloc-notifier/internal/observability"
	"github.com/hpckit/alloc-notifier/internal/provider"
	"github.com/hpckit/alloc-notifier/internal/ratelimit"
	"github.com/hpckit/alloc-notifier/internal/repository"
	"github.com/hpckit/alloc-notifier/internal/service"
)

const usage = `usage: notifier <command> [flags]

commands:
  send    -type <label> -input <requests.json>   create and deliver a new batch
  resume  -location <path>                       resume an interrupted batch record
  list                                           show incomplete batch records
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "send":
		runSend(ctx, cfg, logger, os.Args[2:])
	case "resume":
		runResume(ctx, cfg, logger, os.Args[2:])
	case "list":
		runList(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func runSend(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	notificationType := fs.String("type", "", "notification type label, e.g. expiry-7d")
	input := fs.String("input", "", "path to a JSON array of {keys, payload} requests")
	fs.Parse(args) //nolint:errcheck

	if *notificationType == "" || *input == "" {
		fmt.Fprintln(os.Stderr, "send requires -type and -input")
		os.Exit(2)
	}

	requests, err := readRequests(*input)
	if err != nil {
		fail(err, "")
	}

	delivery := newDelivery(cfg, logger)
	result, err := delivery.Run(ctx, *notificationType, requests)
	finish(result, err)
}

func runResume(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	location := fs.String("location", "", "path to the batch record to resume")
	fs.Parse(args) //nolint:errcheck

	if *location == "" {
		fmt.Fprintln(os.Stderr, "resume requires -location")
		os.Exit(2)
	}

	delivery := newDelivery(cfg, logger)
	result, err := delivery.Resume(ctx, *location)
	finish(result, err)
}

func runList(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	store, err := repository.NewFileBatchStore(cfg.BatchDir, logger)
	if err != nil {
		fail(err, "")
	}

	locations, err := store.ListIncomplete()
	if err != nil {
		fail(err, "")
	}
	if len(locations) == 0 {
		fmt.Println("no incomplete batch records")
		return
	}

	for _, location := range locations {
		if ctx.Err() != nil {
			fail(ctx.Err(), "")
		}
		batch, err := store.Load(location)
		if err != nil {
			fmt.Printf("%s: unreadable (%v)\n", location, err)
			continue
		}
		s := batch.Summary()
		fmt.Printf("%s: status=%s success=%d failed=%d pending=%d\n",
			location, s.Status, s.Success, s.Failed, s.Pending)
	}
}

// newDelivery wires the full delivery stack for one CLI invocation. The CLI
// never touches postgres; expiry scanning belongs to the daemon.
func newDelivery(cfg *config.Config, logger *zap.Logger) *service.DeliveryService {
	store, err := repository.NewFileBatchStore(cfg.BatchDir, logger)
	if err != nil {
		fail(err, "")
	}

	batches, err := service.NewBatchService(store, cfg.MaxRetries, logger)
	if err != nil {
		fail(err, "")
	}

	p, err := buildProvider(cfg)
	if err != nil {
		fail(err, "")
	}

	limiter := ratelimit.NewTokenBucket(float64(cfg.SendRatePerSec))
	delivery, err := service.NewDeliveryService(batches, p, limiter, logger)
	if err != nil {
		fail(err, "")
	}
	return delivery
}

func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "smtp":
		return provider.NewSMTPProvider(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	case "webhook":
		return provider.NewWebhookProvider(cfg.WebhookURL)
	case "amqp":
		return provider.NewAMQPProvider(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRouting)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (want smtp, webhook or amqp)", domain.ErrValidation, cfg.Provider)
	}
}

func readRequests(path string) ([]domain.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requests file: %w", err)
	}

	var requests []domain.Request
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("%w: requests file must be a JSON array of {keys, payload}: %v", domain.ErrValidation, err)
	}
	return requests, nil
}

// finish prints the run outcome and picks the exit code: 1 when the run
// errored or left terminal failures behind, 0 only for a completed batch.
func finish(result *service.RunResult, err error) {
	if result != nil {
		printSummary(result)
	}
	if err != nil {
		location := ""
		if result != nil {
			location = result.Location
		}
		fail(err, location)
	}
	if result != nil && result.Summary.Status != domain.BatchStatusCompleted {
		os.Exit(1)
	}
}

func printSummary(result *service.RunResult) {
	s := result.Summary
	fmt.Printf("batch %s: total=%d success=%d failed=%d pending=%d status=%s\n",
		s.BatchID, s.Total, s.Success, s.Failed, s.Pending, s.Status)
	fmt.Printf("record: %s\n", result.Location)
}

func fail(err error, location string) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if location != "" && !errors.Is(err, domain.ErrDirNotWritable) {
		fmt.Fprintf(os.Stderr, "resume with: notifier resume -location %s\n", location)
	}
	os.Exit(1)
}
