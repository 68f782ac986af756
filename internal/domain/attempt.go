package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Gateway string

const (
	GatewayMpesa       Gateway = "mpesa"
	GatewayFlutterwave Gateway = "flutterwave"
)

func (g Gateway) Valid() bool {
	return g == GatewayMpesa || g == GatewayFlutterwave
}

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptSuccessful AttemptStatus = "successful"
	AttemptFailed     AttemptStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSuccessful || s == AttemptFailed
}

// PaymentAttempt is one ledger row: a single try, on either gateway, to
// collect money against one invoice. Rows are never deleted.
type PaymentAttempt struct {
	ID        uuid.UUID
	Gateway   Gateway
	InvoiceID uuid.UUID
	PayerID   uuid.UUID
	Amount    decimal.Decimal
	Currency  string

	// CorrelationRef matches this row to exactly one future gateway
	// callback. Unique per gateway; it is the idempotency key.
	CorrelationRef string

	// ProviderRef is assigned by the gateway once it processes the
	// transaction (M-Pesa receipt number, Flutterwave flw_ref). Audit
	// only, never used for matching.
	ProviderRef string

	Status    AttemptStatus
	Metadata  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
