package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/hpckit/alloc-notifier/internal/domain"
)

// SMTPConfig holds mail relay settings for the SMTP provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPProvider delivers expiry notices by email. It interprets the opaque
// payload as a domain.ExpiryNotice; the engine itself never looks inside.
type SMTPProvider struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	host := strings.TrimSpace(cfg.Host)
	from := strings.TrimSpace(cfg.From)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if from == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	return &SMTPProvider{
		dialer: gomail.NewDialer(host, port, strings.TrimSpace(cfg.Username), cfg.Password),
		from:   from,
	}, nil
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, payload json.RawMessage) error {
	if p == nil || p.dialer == nil {
		return fmt.Errorf("provider is not initialized")
	}
	// gomail dials without context support; honor cancellation up front.
	if err := ctx.Err(); err != nil {
		return err
	}

	var notice domain.ExpiryNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return &ProviderError{
			Provider: p.Name(),
			Message:  "payload is not an expiry notice",
			Cause:    err,
		}
	}
	recipient := strings.TrimSpace(notice.Recipient)
	if recipient == "" {
		return &ProviderError{
			Provider: p.Name(),
			Message:  "expiry notice has no recipient",
		}
	}

	subject, body := composeExpiryMail(notice)

	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := p.dialer.DialAndSend(m); err != nil {
		return &ProviderError{
			Provider: p.Name(),
			Message:  fmt.Sprintf("send to %s failed", recipient),
			Cause:    err,
		}
	}
	return nil
}

func composeExpiryMail(notice domain.ExpiryNotice) (subject string, body string) {
	project := strings.TrimSpace(notice.Project)
	if project == "" {
		project = notice.AllocationID
	}

	day := "days"
	if notice.DaysLeft == 1 {
		day = "day"
	}
	subject = fmt.Sprintf("Compute allocation for %s expires in %d %s", project, notice.DaysLeft, day)

	b := strings.Builder{}
	fmt.Fprintf(&b, "Hello %s,\n\n", strings.TrimSpace(notice.Owner))
	fmt.Fprintf(&b, "The compute allocation %s for project %s expires on %s.\n",
		notice.AllocationID, project, notice.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Granted capacity: %.0f CPU-hours.\n\n", notice.CPUHoursGranted)
	b.WriteString("Request a renewal before the expiry date to avoid interruption of queued jobs.\n")

	return subject, b.String()
}
