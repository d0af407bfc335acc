package provider

import (
	"context"
	"encoding/json"
)

// Provider is the outbound delivery port the executor drives. The payload is
// opaque to the engine; each provider knows how to interpret and deliver it.
// A nil return means the notification was handed to the transport.
type Provider interface {
	Name() string
	Send(ctx context.Context, payload json.RawMessage) error
}
