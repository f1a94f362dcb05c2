// Package metering queries the external usage metering APIs for
// per-customer consumption over a billing period. Each provider category
// (SMS, voice, conversational AI) gets its own client; all of them speak
// JSON over HTTP with a bearer key and a bounded per-call timeout.
package metering

import (
	"context"
	"errors"
	"time"

	"billing-backend/internal/models"

	"github.com/shopspring/decimal"
)

// Usage is the normalized result of one provider query.
type Usage struct {
	Count    int             `json:"count"`    // chats or calls, depending on provider
	Segments int             `json:"segments"` // SMS segments
	Minutes  decimal.Decimal `json:"minutes"`  // voice minutes
	Cost     decimal.Decimal `json:"cost"`
}

// Source is one external usage provider. QueryUsage returns the customer's
// consumption and cost for the period; implementations must respect ctx.
type Source interface {
	Provider() string
	QueryUsage(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*Usage, error)
}

// ErrUnauthorized means the metering credentials were rejected. The cost
// aggregator treats it as fatal: a preview built with dead credentials
// would degrade every customer to zero, which helps nobody.
var ErrUnauthorized = errors.New("metering credentials rejected")

// ErrNotConfigured means the provider has no identifier for this customer
// (no tracked number, no agent ID). Treated as zero usage, not a failure.
var ErrNotConfigured = errors.New("customer has no identifier for this provider")

const queryTimeout = 20 * time.Second
