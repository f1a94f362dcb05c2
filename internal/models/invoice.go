package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// CanTransition reports whether an invoice may move from one status to
// another. Transitions only run forward: a paid or cancelled invoice is
// terminal, and nothing ever returns to draft.
func CanTransition(from, to InvoiceStatus) bool {
	switch from {
	case InvoiceStatusDraft:
		return to == InvoiceStatusSent || to == InvoiceStatusCancelled
	case InvoiceStatusSent:
		return to == InvoiceStatusPaid || to == InvoiceStatusOverdue || to == InvoiceStatusCancelled
	case InvoiceStatusOverdue:
		return to == InvoiceStatusPaid || to == InvoiceStatusCancelled
	default:
		return false
	}
}

// Invoice is the persisted ledger record for one generated invoice. Cost
// fields are frozen at generation time and never recomputed from usage.
type Invoice struct {
	ID            int             `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    int             `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	ChatCount     int             `json:"chat_count"`
	CallCount     int             `json:"call_count"`
	SMSSegments   int             `json:"sms_segments"`
	CallMinutes   decimal.Decimal `json:"call_minutes"`
	SMSCost       decimal.Decimal `json:"sms_cost"`
	VoiceCost     decimal.Decimal `json:"voice_cost"`
	ConvAICost    decimal.Decimal `json:"conversational_ai_cost"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	MarkupAmount  decimal.Decimal `json:"markup_amount"`
	Total         decimal.Decimal `json:"total"`
	Status        InvoiceStatus   `json:"status"`
	// UsageIncomplete marks records whose breakdown degraded one or more
	// failed metering queries to zero, so exports can tell degraded apart
	// from genuinely zero usage.
	UsageIncomplete bool       `json:"usage_incomplete"`
	StripeInvoiceID string     `json:"stripe_invoice_id"`
	HostedURL       string     `json:"hosted_url"`
	PDFURL          string     `json:"pdf_url"`
	DueDate         *time.Time `json:"due_date"`
	CreatedAt       time.Time  `json:"created_at"`
	SentAt          *time.Time `json:"sent_at"`
	PaidAt          *time.Time `json:"paid_at"`
}

// UpdateInvoiceStatusRequest represents an explicit admin status change
type UpdateInvoiceStatusRequest struct {
	Status InvoiceStatus `json:"status"`
}

// InvoiceStats summarizes the ledger for the dashboard
type InvoiceStats struct {
	TotalCount    int             `json:"total_count"`
	DraftCount    int             `json:"draft_count"`
	SentCount     int             `json:"sent_count"`
	PaidCount     int             `json:"paid_count"`
	OverdueCount  int             `json:"overdue_count"`
	TotalInvoiced decimal.Decimal `json:"total_invoiced"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
}
