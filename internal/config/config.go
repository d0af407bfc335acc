package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const defaultExpiryWindows = "7,1"

// Config is the full environment surface of both binaries. Only the daemon
// needs the database; the CLI runs against the batch directory alone, so
// nothing here is hard-required at load time. ValidateDaemon covers the rest.
type Config struct {
	BatchDir       string `env:"BATCH_DIR,default=./batches"`
	MaxRetries     int    `env:"MAX_RETRIES,default=3"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	SendRatePerSec int    `env:"SEND_RATE_PER_SEC,default=0"`

	Provider     string `env:"PROVIDER,default=smtp"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	WebhookURL   string `env:"WEBHOOK_URL"`
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE,default=notifications"`
	AMQPRouting  string `env:"AMQP_ROUTING_KEY,default=allocation.expiry"`

	DatabaseDSN  string `env:"DATABASE_DSN"`
	ScanInterval string `env:"SCAN_INTERVAL,default=1h"`
	// Comma list of day counts, e.g. "7,1". Kept as a string because the
	// env tag syntax reserves commas; Windows() does the parsing.
	ExpiryWindowDays string `env:"EXPIRY_WINDOW_DAYS"`
	OpsPort          int    `env:"OPS_PORT,default=8080"`
	RunMigrations    bool   `env:"RUN_MIGRATIONS,default=true"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// ValidateDaemon checks the fields the scanning daemon cannot run without.
func (c *Config) ValidateDaemon() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if _, err := c.ScanEvery(); err != nil {
		return err
	}
	if _, err := c.Windows(); err != nil {
		return err
	}
	return nil
}

// ScanEvery returns the scheduler tick interval.
func (c *Config) ScanEvery() (time.Duration, error) {
	interval, err := time.ParseDuration(strings.TrimSpace(c.ScanInterval))
	if err != nil {
		return 0, fmt.Errorf("SCAN_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("SCAN_INTERVAL must be positive, got %s", interval)
	}
	return interval, nil
}

// Windows parses the expiry window list, preserving the configured order and
// dropping repeats.
func (c *Config) Windows() ([]int, error) {
	list := strings.TrimSpace(c.ExpiryWindowDays)
	if list == "" {
		list = defaultExpiryWindows
	}

	raw := strings.Split(list, ",")
	windows := make([]int, 0, len(raw))
	seen := make(map[int]bool, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		days, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("EXPIRY_WINDOW_DAYS: %q is not a number", part)
		}
		if days <= 0 {
			return nil, fmt.Errorf("EXPIRY_WINDOW_DAYS: window must be positive, got %d", days)
		}
		if seen[days] {
			continue
		}
		seen[days] = true
		windows = append(windows, days)
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("EXPIRY_WINDOW_DAYS: no windows configured")
	}
	return windows, nil
}
