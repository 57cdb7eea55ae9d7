// Package railclient abstracts the bank rail APIs used to settle payments.
package railclient

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Request is one settlement attempt against a rail.
type Request struct {
	TransactionID string
	RailName      string
	Intent        *domain.Intent
	Attempt       int
}

// Response is a successful settlement.
type Response struct {
	UTR          string
	ResponseCode string
}

// Client executes a payment against a single rail. Implementations
// must respect ctx cancellation and classify failures by wrapping
// domain.ErrRetryableFailure or domain.ErrTerminalFailure.
type Client interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}
