package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is the input contract for one notification: the business keys that
// identify it and an opaque payload the transport knows how to send. The
// engine never inspects payload contents.
type Request struct {
	Keys    []string        `json:"keys"`
	Payload json.RawMessage `json:"payload"`
}

func (r *Request) Validate() error {
	if len(r.Keys) == 0 {
		return fmt.Errorf("%w: request must carry at least one business key", ErrValidation)
	}
	for _, k := range r.Keys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: request business keys must be non-empty", ErrValidation)
		}
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: request payload is required", ErrValidation)
	}
	return nil
}

// EntryID derives the deterministic entry identifier from the request's
// business keys. Identical logical input always yields the identical ID, which
// is what makes batch creation idempotent.
func (r *Request) EntryID() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	trimmed := make([]string, len(r.Keys))
	for i, k := range r.Keys {
		trimmed[i] = strings.TrimSpace(k)
	}
	return strings.Join(trimmed, "_"), nil
}
