package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpDialTimeout = 15 * time.Second

// AMQPProvider publishes the raw notification payload to a durable exchange,
// for sites that fan expiry notices into their own messaging infrastructure.
// Publisher confirms are enabled so a broker nack surfaces as a send failure.
type AMQPProvider struct {
	url        string
	exchange   string
	routingKey string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPProvider(url, exchange, routingKey string) (*AMQPProvider, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, fmt.Errorf("amqp exchange is required")
	}
	if strings.TrimSpace(routingKey) == "" {
		return nil, fmt.Errorf("amqp routing key is required")
	}

	return &AMQPProvider{
		url:        strings.TrimSpace(url),
		exchange:   strings.TrimSpace(exchange),
		routingKey: strings.TrimSpace(routingKey),
	}, nil
}

func (p *AMQPProvider) Name() string { return "amqp" }

func (p *AMQPProvider) Send(ctx context.Context, payload json.RawMessage) error {
	if p == nil {
		return fmt.Errorf("provider is not initialized")
	}
	if len(payload) == 0 {
		return &ProviderError{Provider: p.Name(), Message: "payload is empty"}
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return &ProviderError{
			Provider: p.Name(),
			Message:  "broker unavailable",
			Cause:    err,
		}
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, p.routingKey, false, false, publishing)
	if err != nil {
		p.dropChannel()
		return &ProviderError{
			Provider: p.Name(),
			Message:  fmt.Sprintf("publish to exchange %q failed", p.exchange),
			Cause:    err,
		}
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		p.dropChannel()
		return &ProviderError{
			Provider: p.Name(),
			Message:  "waiting for broker confirm failed",
			Cause:    err,
		}
	}
	if !acked {
		return &ProviderError{
			Provider: p.Name(),
			Message:  "broker nacked the message",
		}
	}
	return nil
}

// channel returns a confirmed channel, dialing and declaring the exchange on
// first use or after a connection loss.
func (p *AMQPProvider) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, amqpDialTimeout)
		defer cancel()
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial: amqp.DefaultDial(amqpDialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	if err := dialCtx.Err(); err != nil {
		conn.Close()
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", p.exchange, err)
	}

	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *AMQPProvider) dropChannel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.conn = nil
}

func (p *AMQPProvider) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}

	conn := p.conn
	p.conn = nil
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}
