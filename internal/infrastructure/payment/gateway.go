// Package payment holds the client adapters for the two payment providers:
// M-Pesa STK push (mobile money) and Flutterwave (card/bank redirect). Each
// adapter owns its provider's wire format; everything past the parsers works
// on the normalized Callback shape.
package payment

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"africorex-crm/internal/domain"
)

// Error is the gateway adapter error class.
var Error = errs.Class("gateway")

// ErrMalformedCallback means the provider payload could not be decoded into
// the fields ingestion needs.
var ErrMalformedCallback = errs.New("malformed callback")

// Callback is the normalized form of one asynchronous provider notification.
type Callback struct {
	Gateway        domain.Gateway
	CorrelationRef string
	Outcome        domain.AttemptStatus
	Amount         decimal.Decimal
	ProviderRef    string

	// Raw is the provider envelope verbatim, stored on the ledger row for
	// audit and never parsed again.
	Raw json.RawMessage
}

// StatusChecker queries a provider for the current state of an attempt that
// never received a callback. Implemented by both adapters; used by the
// pending-attempt sweep.
type StatusChecker interface {
	// CheckStatus returns the provider-side status of the attempt and, when
	// known, its provider reference. A still-undecided attempt reports
	// AttemptPending.
	CheckStatus(ctx context.Context, correlationRef string) (domain.AttemptStatus, string, error)
}
