package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"time"

	appconfig "billing-backend/internal/config"
	"billing-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jung-kurt/gofpdf/v2"
)

// InvoiceArchive is the slice of the ledger the exporter reads.
// Implemented by repositories.InvoiceRepository.
type InvoiceArchive interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]*models.Invoice, error)
}

// ReportService renders the invoice ledger into exports: CSV for the
// accountants, PDF run summaries for the operators, and an S3 archive
// copy of every CSV export.
type ReportService struct {
	Invoices InvoiceArchive
	Export   appconfig.ExportConfig
}

func NewReportService(invoices InvoiceArchive, export appconfig.ExportConfig) *ReportService {
	return &ReportService{Invoices: invoices, Export: export}
}

// csvHeader is the fixed column set of the invoice export. Accounting
// imports depend on this order; append, never reorder.
var csvHeader = []string{
	"invoice_number", "created_at", "period_start", "period_end",
	"customer_id", "customer_name", "customer_email",
	"chat_count", "call_count", "sms_segments", "call_minutes",
	"sms_cost", "voice_cost", "conversational_ai_cost",
	"subtotal", "markup_amount", "total",
	"status", "usage_incomplete", "sent_at", "paid_at", "stripe_invoice_id",
}

// GenerateInvoicesCSV renders all invoices created inside [from, to] as
// CSV, oldest first.
func (s *ReportService) GenerateInvoicesCSV(ctx context.Context, from, to time.Time) ([]byte, error) {
	invoices, err := s.Invoices.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	w.Write(csvHeader)
	for _, inv := range invoices {
		w.Write(invoiceRow(inv))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func invoiceRow(inv *models.Invoice) []string {
	formatOptional := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(time.RFC3339)
	}

	incomplete := "false"
	if inv.UsageIncomplete {
		incomplete = "true"
	}

	return []string{
		inv.InvoiceNumber,
		inv.CreatedAt.Format(time.RFC3339),
		inv.PeriodStart.Format("2006-01-02"),
		inv.PeriodEnd.Format("2006-01-02"),
		fmt.Sprintf("%d", inv.CustomerID),
		inv.CustomerName,
		inv.CustomerEmail,
		fmt.Sprintf("%d", inv.ChatCount),
		fmt.Sprintf("%d", inv.CallCount),
		fmt.Sprintf("%d", inv.SMSSegments),
		inv.CallMinutes.StringFixed(1),
		inv.SMSCost.StringFixed(2),
		inv.VoiceCost.StringFixed(2),
		inv.ConvAICost.StringFixed(2),
		inv.Subtotal.StringFixed(2),
		inv.MarkupAmount.StringFixed(2),
		inv.Total.StringFixed(2),
		string(inv.Status),
		incomplete,
		formatOptional(inv.SentAt),
		formatOptional(inv.PaidAt),
		inv.StripeInvoiceID,
	}
}

// ExportInvoicesCSV builds the CSV and, when an archive bucket is
// configured, stores a copy under exports/ with a timestamped key. An
// archive failure is logged but never blocks the download.
func (s *ReportService) ExportInvoicesCSV(ctx context.Context, from, to time.Time) ([]byte, error) {
	data, err := s.GenerateInvoicesCSV(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if s.Export.S3Bucket != "" {
		key := fmt.Sprintf("exports/invoices_%s_%s_%d.csv",
			from.Format("20060102"), to.Format("20060102"), time.Now().Unix())
		if err := s.archive(ctx, key, data); err != nil {
			log.Printf("[Report] archive of %s failed: %v", key, err)
		}
	}
	return data, nil
}

// archive uploads an export to the configured S3-compatible bucket.
func (s *ReportService) archive(ctx context.Context, key string, data []byte) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.Export.S3AccessKey, s.Export.S3SecretKey, "",
		)),
		awsconfig.WithRegion(s.Export.S3Region),
	)
	if err != nil {
		return err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.Export.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Export.S3Endpoint)
		}
	})

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Export.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	return err
}

// GenerateRunSummaryPDF renders a finished generation run as a one-page
// summary the operator can file away.
func (s *ReportService) GenerateRunSummaryPDF(run *GenerationRun) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(190, 10, "Invoice Generation Summary", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(190, 6, fmt.Sprintf("Period: %s", run.Period.Label()), "", 1, "C", false, 0, "")
	pdf.CellFormat(190, 6, fmt.Sprintf("Generated: %s", time.Now().Format("02-Jan-2006 03:04 PM")), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(190, 8, "Totals", "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(63, 8, fmt.Sprintf("Succeeded: %d", run.Summary.Succeeded), "1", 0, "C", false, 0, "")
	pdf.CellFormat(63, 8, fmt.Sprintf("Failed: %d", run.Summary.Failed), "1", 0, "C", false, 0, "")
	pdf.CellFormat(64, 8, fmt.Sprintf("Total Invoiced: %s", run.Summary.TotalInvoiced.StringFixed(2)), "1", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(190, 8, "Customers", "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(200, 200, 200)
	pdf.CellFormat(70, 7, "Customer", "1", 0, "C", true, 0, "")
	pdf.CellFormat(25, 7, "Result", "1", 0, "C", true, 0, "")
	pdf.CellFormat(35, 7, "Total", "1", 0, "C", true, 0, "")
	pdf.CellFormat(60, 7, "Detail", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	for _, r := range run.Results {
		outcome := "OK"
		detail := r.InvoiceID
		if !r.OK {
			outcome = "FAILED"
			detail = r.Error
		}
		if len(detail) > 34 {
			detail = detail[:31] + "..."
		}
		name := r.CustomerName
		if len(name) > 32 {
			name = name[:29] + "..."
		}
		pdf.CellFormat(70, 6, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, outcome, "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, r.Total.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(60, 6, detail, "1", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
