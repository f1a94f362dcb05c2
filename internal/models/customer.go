package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a billed tenant of the platform. Provider identifiers tie the
// customer to each external usage source; StripeCustomerID is empty until a
// billing identity has been created (manually or during a generation run).
type Customer struct {
	ID               int             `json:"id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	MarkupPercent    decimal.Decimal `json:"markup_percent"` // 0..10000, validated at entry
	AgentID          string          `json:"agent_id"`       // conversational AI agent
	SMSNumber        string          `json:"sms_number"`     // tracked number for SMS usage
	VoiceNumber      string          `json:"voice_number"`   // tracked number for voice usage
	StripeCustomerID string          `json:"stripe_customer_id"`
	AutoInvoice      bool            `json:"auto_invoice"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasBillingIdentity reports whether an external billing-provider customer
// exists for this record.
func (c *Customer) HasBillingIdentity() bool {
	return c.StripeCustomerID != ""
}

// CreateCustomerRequest represents the request body for creating a customer
type CreateCustomerRequest struct {
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	MarkupPercent decimal.Decimal `json:"markup_percent"`
	AgentID       string          `json:"agent_id"`
	SMSNumber     string          `json:"sms_number"`
	VoiceNumber   string          `json:"voice_number"`
	AutoInvoice   bool            `json:"auto_invoice"`
}

// UpdateCustomerRequest represents the request body for updating a customer
type UpdateCustomerRequest struct {
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	MarkupPercent decimal.Decimal `json:"markup_percent"`
	AgentID       string          `json:"agent_id"`
	SMSNumber     string          `json:"sms_number"`
	VoiceNumber   string          `json:"voice_number"`
	AutoInvoice   bool            `json:"auto_invoice"`
}
