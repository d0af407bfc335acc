package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/hpckit/alloc-notifier/internal/observability"
	"github.com/hpckit/alloc-notifier/internal/repository"
)

const (
	readinessTimeout     = 2 * time.Second
	defaultScanListLimit = 20
	maxScanListLimit     = 100
)

// RegisterOpsRoutes wires the daemon's operational surface: liveness,
// readiness, the scan-ledger listing and the Prometheus scrape endpoint.
func RegisterOpsRoutes(app fiber.Router, sqlDB *sql.DB, store repository.BatchStore, ledger repository.ScanRunRepository, metrics *observability.Metrics) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, store))
	app.Get("/scans", ScansHandler(ledger))
	app.Get("/metrics", MetricsHandler(metrics))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler reports whether the daemon can do useful work: the
// allocation database must answer a ping and the batch directory must be
// writable.
func ReadyzHandler(sqlDB *sql.DB, store repository.BatchStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgErr := sqlDB.PingContext(ctx)
		dirErr := store.ValidateDir()

		pgStatus := "ok"
		if pgErr != nil {
			pgStatus = "down"
		}
		dirStatus := "ok"
		if dirErr != nil {
			dirStatus = "unwritable"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if pgErr != nil || dirErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"postgres": pgStatus,
				"batchDir": dirStatus,
			},
		})
	}
}

type scanRunResponse struct {
	ID            string    `json:"id"`
	WindowDays    int       `json:"window_days"`
	ScanDate      string    `json:"scan_date"`
	DueCount      int       `json:"due_count"`
	BatchLocation *string   `json:"batch_location,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ScansHandler lists the most recent scan-ledger runs, newest first, so an
// operator can confirm which (window, day) pairs were covered.
func ScansHandler(ledger repository.ScanRunRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultScanListLimit)
		if limit <= 0 || limit > maxScanListLimit {
			limit = defaultScanListLimit
		}

		runs, err := ledger.ListRecent(c.Context(), limit)
		if err != nil {
			return err
		}

		out := make([]scanRunResponse, 0, len(runs))
		for _, run := range runs {
			out = append(out, scanRunResponse{
				ID:            run.ID,
				WindowDays:    run.WindowDays,
				ScanDate:      run.ScanDate.UTC().Format("2006-01-02"),
				DueCount:      run.DueCount,
				BatchLocation: run.BatchLocation,
				CreatedAt:     run.CreatedAt,
			})
		}
		return c.JSON(out)
	}
}

// MetricsHandler bridges the Prometheus handler onto fiber's fasthttp
// transport.
func MetricsHandler(metrics *observability.Metrics) fiber.Handler {
	scrape := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	return func(c *fiber.Ctx) error {
		scrape(c.Context())
		return nil
	}
}
