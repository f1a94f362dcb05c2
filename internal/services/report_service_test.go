package services

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	appconfig "billing-backend/internal/config"
	"billing-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	invoices []*models.Invoice
}

func (f *fakeArchive) ListBetween(ctx context.Context, from, to time.Time) ([]*models.Invoice, error) {
	return f.invoices, nil
}

func TestGenerateInvoicesCSV(t *testing.T) {
	sent := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	inv := &models.Invoice{
		ID:              1,
		InvoiceNumber:   "INV-000042",
		CustomerID:      7,
		CustomerName:    "Acme, Inc.",
		CustomerEmail:   "billing@acme.test",
		PeriodStart:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		ChatCount:       12,
		CallCount:       7,
		SMSSegments:     52,
		CallMinutes:     dec("31.5"),
		SMSCost:         dec("10.00"),
		VoiceCost:       dec("25.50"),
		ConvAICost:      dec("64.50"),
		Subtotal:        dec("100.00"),
		MarkupAmount:    dec("20.00"),
		Total:           dec("120.00"),
		Status:          models.InvoiceStatusSent,
		UsageIncomplete: true,
		StripeInvoiceID: "in_123",
		CreatedAt:       sent,
		SentAt:          &sent,
	}

	svc := NewReportService(&fakeArchive{invoices: []*models.Invoice{inv}}, appconfig.ExportConfig{})

	data, err := svc.GenerateInvoicesCSV(context.Background(),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, csvHeader, records[0])

	row := records[1]
	require.Len(t, row, len(csvHeader))
	assert.Equal(t, "INV-000042", row[0])
	assert.Equal(t, "2026-01-01", row[2])
	assert.Equal(t, "2026-01-31", row[3])
	assert.Equal(t, "Acme, Inc.", row[5], "commas in names must survive the round trip")
	assert.Equal(t, "31.5", row[10])
	assert.Equal(t, "120.00", row[16])
	assert.Equal(t, "sent", row[17])
	assert.Equal(t, "true", row[18], "degraded usage must be visible in the export")
	assert.Equal(t, "", row[20], "unpaid invoice has no paid_at")
	assert.Equal(t, "in_123", row[21])
}

func TestGenerateInvoicesCSVEmptyLedger(t *testing.T) {
	svc := NewReportService(&fakeArchive{}, appconfig.ExportConfig{})

	data, err := svc.GenerateInvoicesCSV(context.Background(), time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1, "header only")
	assert.Equal(t, csvHeader, records[0])
}
