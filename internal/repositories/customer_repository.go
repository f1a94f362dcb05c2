package repositories

import (
	"context"
	"errors"
	"fmt"

	"billing-backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCustomerHasInvoices is returned when a delete is blocked by the
// ledger's foreign key. Surfaced to the caller, never swallowed.
var ErrCustomerHasInvoices = errors.New("customer has invoices and cannot be deleted")

type CustomerRepository struct {
	DB *pgxpool.Pool
}

func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{DB: db}
}

const customerColumns = `id, name, email, markup_percent,
        COALESCE(agent_id, '') as agent_id,
        COALESCE(sms_number, '') as sms_number,
        COALESCE(voice_number, '') as voice_number,
        COALESCE(stripe_customer_id, '') as stripe_customer_id,
        auto_invoice, created_at, updated_at`

func (r *CustomerRepository) Create(ctx context.Context, c *models.Customer) error {
	return r.DB.QueryRow(ctx,
		`INSERT INTO customers(name, email, markup_percent, agent_id, sms_number, voice_number, auto_invoice)
         VALUES($1, $2, $3, $4, $5, $6, $7)
         RETURNING id, created_at, updated_at`,
		c.Name, c.Email, c.MarkupPercent, c.AgentID, c.SMSNumber, c.VoiceNumber, c.AutoInvoice,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *CustomerRepository) Get(ctx context.Context, id int) (*models.Customer, error) {
	row := r.DB.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id=$1`, id)

	var customer models.Customer
	err := row.Scan(&customer.ID, &customer.Name, &customer.Email, &customer.MarkupPercent,
		&customer.AgentID, &customer.SMSNumber, &customer.VoiceNumber,
		&customer.StripeCustomerID, &customer.AutoInvoice, &customer.CreatedAt, &customer.UpdatedAt)
	return &customer, err
}

// List returns all customers ordered by name, case-insensitively. The
// preview builder depends on this ordering.
func (r *CustomerRepository) List(ctx context.Context) ([]*models.Customer, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY LOWER(name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		var customer models.Customer
		err := rows.Scan(&customer.ID, &customer.Name, &customer.Email, &customer.MarkupPercent,
			&customer.AgentID, &customer.SMSNumber, &customer.VoiceNumber,
			&customer.StripeCustomerID, &customer.AutoInvoice, &customer.CreatedAt, &customer.UpdatedAt)
		if err != nil {
			return nil, err
		}
		customers = append(customers, &customer)
	}
	return customers, rows.Err()
}

func (r *CustomerRepository) Update(ctx context.Context, c *models.Customer) error {
	_, err := r.DB.Exec(ctx,
		`UPDATE customers SET name=$1, email=$2, markup_percent=$3, agent_id=$4,
                sms_number=$5, voice_number=$6, auto_invoice=$7, updated_at=CURRENT_TIMESTAMP
         WHERE id=$8`,
		c.Name, c.Email, c.MarkupPercent, c.AgentID, c.SMSNumber, c.VoiceNumber, c.AutoInvoice, c.ID)
	return err
}

// SetStripeCustomerID backfills the billing-provider identity. Called
// during a generation run right after the provider creates the customer,
// so a later failure in the same run never re-attempts creation.
func (r *CustomerRepository) SetStripeCustomerID(ctx context.Context, id int, stripeID string) error {
	_, err := r.DB.Exec(ctx,
		`UPDATE customers SET stripe_customer_id=$1, updated_at=CURRENT_TIMESTAMP WHERE id=$2`,
		stripeID, id)
	return err
}

func (r *CustomerRepository) Delete(ctx context.Context, id int) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM customers WHERE id=$1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23503 = foreign_key_violation (invoices still reference this customer)
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrCustomerHasInvoices
		}
		return fmt.Errorf("delete customer %d: %w", id, err)
	}
	return nil
}
