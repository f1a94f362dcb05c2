package repositories

import (
	"context"
	"fmt"
	"time"

	"billing-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

type InvoiceRepository struct {
	DB *pgxpool.Pool
}

func NewInvoiceRepository(db *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{DB: db}
}

// GenerateInvoiceNumber generates a unique invoice number from a database
// sequence (O(1), no COUNT scan).
func (r *InvoiceRepository) GenerateInvoiceNumber(ctx context.Context) (string, error) {
	var nextNum int
	err := r.DB.QueryRow(ctx, "SELECT nextval('invoice_number_sequence')").Scan(&nextNum)
	if err != nil {
		return "", fmt.Errorf("failed to get next invoice number: %w", err)
	}

	return fmt.Sprintf("INV-%06d", nextNum), nil
}

// Create persists a ledger record. The ledger is append-only during
// generation; nothing here updates prior records.
func (r *InvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	if inv.InvoiceNumber == "" {
		number, err := r.GenerateInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
	}

	return r.DB.QueryRow(ctx,
		`INSERT INTO invoices(invoice_number, customer_id, customer_name, customer_email,
                period_start, period_end, chat_count, call_count, sms_segments, call_minutes,
                sms_cost, voice_cost, conversational_ai_cost, subtotal, markup_amount, total,
                status, usage_incomplete, stripe_invoice_id, hosted_url, pdf_url, due_date, sent_at)
         VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
         RETURNING id, created_at`,
		inv.InvoiceNumber, inv.CustomerID, inv.CustomerName, inv.CustomerEmail,
		inv.PeriodStart, inv.PeriodEnd, inv.ChatCount, inv.CallCount, inv.SMSSegments, inv.CallMinutes,
		inv.SMSCost, inv.VoiceCost, inv.ConvAICost, inv.Subtotal, inv.MarkupAmount, inv.Total,
		inv.Status, inv.UsageIncomplete, inv.StripeInvoiceID, inv.HostedURL, inv.PDFURL, inv.DueDate, inv.SentAt,
	).Scan(&inv.ID, &inv.CreatedAt)
}

const invoiceColumns = `id, invoice_number, customer_id, customer_name, customer_email,
        period_start, period_end, chat_count, call_count, sms_segments, call_minutes,
        sms_cost, voice_cost, conversational_ai_cost, subtotal, markup_amount, total,
        status, usage_incomplete,
        COALESCE(stripe_invoice_id, '') as stripe_invoice_id,
        COALESCE(hosted_url, '') as hosted_url,
        COALESCE(pdf_url, '') as pdf_url,
        due_date, created_at, sent_at, paid_at`

func scanInvoice(row interface{ Scan(...any) error }) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.CustomerID, &inv.CustomerName, &inv.CustomerEmail,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.ChatCount, &inv.CallCount, &inv.SMSSegments, &inv.CallMinutes,
		&inv.SMSCost, &inv.VoiceCost, &inv.ConvAICost, &inv.Subtotal, &inv.MarkupAmount, &inv.Total,
		&inv.Status, &inv.UsageIncomplete, &inv.StripeInvoiceID, &inv.HostedURL, &inv.PDFURL,
		&inv.DueDate, &inv.CreatedAt, &inv.SentAt, &inv.PaidAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvoiceRepository) Get(ctx context.Context, id int) (*models.Invoice, error) {
	return scanInvoice(r.DB.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
}

func (r *InvoiceRepository) List(ctx context.Context) ([]*models.Invoice, error) {
	return r.query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC`)
}

func (r *InvoiceRepository) GetByCustomer(ctx context.Context, customerID int) ([]*models.Invoice, error) {
	return r.query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE customer_id=$1 ORDER BY created_at DESC`,
		customerID)
}

// ListBetween returns invoices created inside [from, to], oldest first.
// The CSV export reads through this.
func (r *InvoiceRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*models.Invoice, error) {
	return r.query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
         WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at`,
		from, to)
}

func (r *InvoiceRepository) query(ctx context.Context, sql string, args ...any) ([]*models.Invoice, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// UpdateStatus writes a new status plus whichever timestamp the transition
// carries. Transition legality is enforced by the service layer.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id int, status models.InvoiceStatus, sentAt, paidAt *time.Time) error {
	_, err := r.DB.Exec(ctx,
		`UPDATE invoices SET status=$1,
                sent_at=COALESCE($2, sent_at),
                paid_at=COALESCE($3, paid_at)
         WHERE id=$4`,
		status, sentAt, paidAt, id)
	return err
}

// MarkOverdue flips past-due sent invoices to overdue and returns how many
// changed.
func (r *InvoiceRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	tag, err := r.DB.Exec(ctx,
		`UPDATE invoices SET status=$1 WHERE status=$2 AND due_date IS NOT NULL AND due_date < $3`,
		models.InvoiceStatusOverdue, models.InvoiceStatusSent, asOf)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Stats aggregates ledger counts and totals for the dashboard.
func (r *InvoiceRepository) Stats(ctx context.Context) (*models.InvoiceStats, error) {
	var s models.InvoiceStats
	err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*),
                COUNT(*) FILTER (WHERE status='draft'),
                COUNT(*) FILTER (WHERE status='sent'),
                COUNT(*) FILTER (WHERE status='paid'),
                COUNT(*) FILTER (WHERE status='overdue'),
                COALESCE(SUM(total), 0),
                COALESCE(SUM(total) FILTER (WHERE status='paid'), 0)
         FROM invoices`,
	).Scan(&s.TotalCount, &s.DraftCount, &s.SentCount, &s.PaidCount, &s.OverdueCount,
		&s.TotalInvoiced, &s.TotalPaid)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
