package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Provider names used across metering, cost breakdowns and line items.
const (
	ProviderSMS    = "sms"
	ProviderVoice  = "voice"
	ProviderConvAI = "conversational_ai"
)

// BillingPeriod is the closed [Start, End] date range usage is aggregated
// over. It is selected per generation run and embedded into each invoice
// record, never persisted on its own.
type BillingPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

var ErrInvalidPeriod = errors.New("billing period end must not be before start")

func (p BillingPeriod) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return errors.New("billing period start and end are required")
	}
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Label renders the period for line item descriptions, e.g. "2026-01-01 to 2026-01-31".
func (p BillingPeriod) Label() string {
	return p.Start.Format("2006-01-02") + " to " + p.End.Format("2006-01-02")
}

// ProviderStatus records the outcome of one metering query. A failed query
// contributes zero cost but is never silently indistinguishable from
// genuinely zero usage.
type ProviderStatus struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// CostBreakdown is the per-customer, per-period aggregation result.
// Invariants: all cost fields are >= 0, Subtotal is the sum of the provider
// costs, and Total is always Subtotal + MarkupAmount.
type CostBreakdown struct {
	ChatCount    int             `json:"chat_count"`
	CallCount    int             `json:"call_count"`
	SMSSegments  int             `json:"sms_segments"`
	CallMinutes  decimal.Decimal `json:"call_minutes"`
	SMSCost      decimal.Decimal `json:"sms_cost"`
	VoiceCost    decimal.Decimal `json:"voice_cost"`
	ConvAICost   decimal.Decimal `json:"conversational_ai_cost"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	MarkupAmount decimal.Decimal `json:"markup_amount"`
	Total        decimal.Decimal `json:"total"`
	// Incomplete is set when at least one provider query failed and its
	// contribution was degraded to zero.
	Incomplete bool             `json:"incomplete"`
	Providers  []ProviderStatus `json:"providers"`
}

// InvoicePreview pairs a breakdown with wizard selection state. Previews
// live only for the duration of a generation run.
type InvoicePreview struct {
	CustomerID         int           `json:"customer_id"`
	CustomerName       string        `json:"customer_name"`
	CustomerEmail      string        `json:"customer_email"`
	Breakdown          CostBreakdown `json:"breakdown"`
	Selected           bool          `json:"selected"`
	HasBillingIdentity bool          `json:"has_billing_identity"`
}

// GenerationStep enumerates the invoice generation wizard states.
type GenerationStep string

const (
	StepDateRange  GenerationStep = "date_range"
	StepPreview    GenerationStep = "preview"
	StepOptions    GenerationStep = "options"
	StepProcessing GenerationStep = "processing"
	StepResults    GenerationStep = "results"
)

// InvoiceMode controls how far the provider-side invoice is advanced.
type InvoiceMode string

const (
	ModeDraft    InvoiceMode = "draft"
	ModeFinalize InvoiceMode = "finalize"
	ModeSend     InvoiceMode = "send"
)

// GenerationOptions is the options-step configuration for one run.
type GenerationOptions struct {
	Mode                InvoiceMode `json:"mode"`
	DueInDays           int         `json:"due_in_days"`
	AutoCreateCustomers bool        `json:"auto_create_customers"`
}

// Progress is the monotonic processing counter surfaced to the UI.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// InvoiceResult is the per-customer outcome of one generation run. Exactly
// one result exists per selected customer, success or failure.
type InvoiceResult struct {
	CustomerID   int             `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	OK           bool            `json:"ok"`
	Error        string          `json:"error,omitempty"`
	InvoiceID    string          `json:"invoice_id,omitempty"`
	Total        decimal.Decimal `json:"total"`
}

// RunSummary is computed from the result list only, never assumed.
type RunSummary struct {
	Succeeded     int             `json:"succeeded"`
	Failed        int             `json:"failed"`
	TotalInvoiced decimal.Decimal `json:"total_invoiced"`
}

func Summarize(results []InvoiceResult) RunSummary {
	s := RunSummary{TotalInvoiced: decimal.Zero}
	for _, r := range results {
		if r.OK {
			s.Succeeded++
			s.TotalInvoiced = s.TotalInvoiced.Add(r.Total)
		} else {
			s.Failed++
		}
	}
	return s
}
