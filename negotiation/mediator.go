package negotiation

import (
	"context"
	"errors"
)

var (
	// ErrMediatorUnavailable covers transport failures, timeouts and non-2xx replies.
	ErrMediatorUnavailable = errors.New("negotiation: mediator unavailable")
	// ErrMediatorParse covers replies that are not an agreement-shaped JSON object.
	ErrMediatorParse = errors.New("negotiation: mediator returned malformed agreement")
)

// Mediator produces an agreement from a fused context. sessionID becomes the
// agreement id.
type Mediator interface {
	Mediate(ctx context.Context, nc Context, sessionID string) (Agreement, error)
}

// MediatorFunc adapts a function to Mediator.
type MediatorFunc func(ctx context.Context, nc Context, sessionID string) (Agreement, error)

func (f MediatorFunc) Mediate(ctx context.Context, nc Context, sessionID string) (Agreement, error) {
	return f(ctx, nc, sessionID)
}
