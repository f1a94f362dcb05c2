package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"billing-backend/internal/models"
	"billing-backend/internal/repositories"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// ErrProviderDown marks a provider-side outage. Callers may retry the
// whole customer later; the run records it as a per-customer failure.
var ErrProviderDown = errors.New("invoicing provider unavailable")

// ErrProviderNotConfigured is returned when no Stripe credentials are
// present in settings or the environment.
var ErrProviderNotConfigured = errors.New("invoicing provider credentials not configured")

// InvoiceLine is one line item on a provider invoice. Amounts are integer
// minor units; the conversion from decimal happens before this boundary.
type InvoiceLine struct {
	Description string
	AmountCents int64
}

// CreateInvoiceRequest carries everything needed to build one draft
// invoice on the provider.
type CreateInvoiceRequest struct {
	StripeCustomerID string
	Currency         string
	DaysUntilDue     int
	Lines            []InvoiceLine
	Metadata         map[string]string
	IdempotencyKey   string
}

// ProviderInvoice is the provider-side view of an invoice after an
// operation.
type ProviderInvoice struct {
	ID        string
	Status    string
	HostedURL string
	PDFURL    string
}

// StripeService talks to Stripe's invoicing API. Credentials come from
// system settings first, environment second, so operators can rotate keys
// without a redeploy.
type StripeService struct {
	systemSettingRepo *repositories.SystemSettingRepository
	envSecretKey      string
}

func NewStripeService(secretKey string, systemSettingRepo *repositories.SystemSettingRepository) *StripeService {
	return &StripeService{
		systemSettingRepo: systemSettingRepo,
		envSecretKey:      secretKey,
	}
}

// getSecretKey returns the Stripe secret key (from DB first, then env fallback)
func (s *StripeService) getSecretKey(ctx context.Context) string {
	if setting, err := s.systemSettingRepo.Get(ctx, "stripe_secret_key"); err == nil && setting != nil && setting.SettingValue != "" {
		return setting.SettingValue
	}
	return s.envSecretKey
}

func (s *StripeService) getClient(ctx context.Context) (*client.API, error) {
	key := s.getSecretKey(ctx)
	if key == "" {
		return nil, ErrProviderNotConfigured
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return sc, nil
}

// CreateCustomer registers the customer with Stripe and returns the new
// provider-side ID.
func (s *StripeService) CreateCustomer(ctx context.Context, customer *models.Customer) (string, error) {
	sc, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}

	params := &stripe.CustomerParams{
		Name:  stripe.String(customer.Name),
		Email: stripe.String(customer.Email),
	}
	params.Context = ctx
	params.AddMetadata("customer_id", fmt.Sprintf("%d", customer.ID))

	var created *stripe.Customer
	err = withRetry(ctx, func() error {
		var cerr error
		created, cerr = sc.Customers.New(params)
		return cerr
	})
	if err != nil {
		return "", s.mapStripeError(err)
	}
	return created.ID, nil
}

// CreateInvoice builds a draft invoice with one line item per usage
// category. The draft is created first and line items attached to it
// directly, so concurrent runs never cross-pollinate pending items.
func (s *StripeService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error) {
	if req.StripeCustomerID == "" {
		return nil, errors.New("stripe customer ID is required")
	}
	if len(req.Lines) == 0 {
		return nil, errors.New("invoice needs at least one line item")
	}

	sc, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	invParams := &stripe.InvoiceParams{
		Customer:         stripe.String(req.StripeCustomerID),
		Currency:         stripe.String(req.Currency),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(int64(req.DaysUntilDue)),
		AutoAdvance:      stripe.Bool(false),
	}
	invParams.Context = ctx
	if req.IdempotencyKey != "" {
		// Prevents duplicate invoices when the network fails after Stripe
		// already accepted the create.
		invParams.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		invParams.AddMetadata(k, v)
	}

	var inv *stripe.Invoice
	err = withRetry(ctx, func() error {
		var cerr error
		inv, cerr = sc.Invoices.New(invParams)
		return cerr
	})
	if err != nil {
		return nil, s.mapStripeError(err)
	}

	for i, line := range req.Lines {
		itemParams := &stripe.InvoiceItemParams{
			Customer:    stripe.String(req.StripeCustomerID),
			Invoice:     stripe.String(inv.ID),
			Amount:      stripe.Int64(line.AmountCents),
			Currency:    stripe.String(req.Currency),
			Description: stripe.String(line.Description),
		}
		itemParams.Context = ctx
		if req.IdempotencyKey != "" {
			itemParams.IdempotencyKey = stripe.String(fmt.Sprintf("%s-line-%d", req.IdempotencyKey, i))
		}

		err = withRetry(ctx, func() error {
			_, cerr := sc.InvoiceItems.New(itemParams)
			return cerr
		})
		if err != nil {
			return nil, s.mapStripeError(err)
		}
	}

	return providerInvoice(inv), nil
}

// FinalizeInvoice moves a draft to open. Stripe assigns the invoice
// number and hosted URL at this point.
func (s *StripeService) FinalizeInvoice(ctx context.Context, stripeInvoiceID string) (*ProviderInvoice, error) {
	sc, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	params := &stripe.InvoiceFinalizeInvoiceParams{}
	params.Context = ctx

	var inv *stripe.Invoice
	err = withRetry(ctx, func() error {
		var cerr error
		inv, cerr = sc.Invoices.FinalizeInvoice(stripeInvoiceID, params)
		return cerr
	})
	if err != nil {
		return nil, s.mapStripeError(err)
	}
	return providerInvoice(inv), nil
}

// SendInvoice emails a finalized invoice to the customer. Draft invoices
// are rejected by Stripe, which is exactly the ordering we rely on.
func (s *StripeService) SendInvoice(ctx context.Context, stripeInvoiceID string) (*ProviderInvoice, error) {
	sc, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	params := &stripe.InvoiceSendInvoiceParams{}
	params.Context = ctx

	var inv *stripe.Invoice
	err = withRetry(ctx, func() error {
		var cerr error
		inv, cerr = sc.Invoices.SendInvoice(stripeInvoiceID, params)
		return cerr
	})
	if err != nil {
		return nil, s.mapStripeError(err)
	}
	return providerInvoice(inv), nil
}

func providerInvoice(inv *stripe.Invoice) *ProviderInvoice {
	return &ProviderInvoice{
		ID:        inv.ID,
		Status:    string(inv.Status),
		HostedURL: inv.HostedInvoiceURL,
		PDFURL:    inv.InvoicePDF,
	}
}

// mapStripeError converts stripe-go errors into domain errors so the
// generation pipeline never imports the SDK's error types.
func (s *StripeService) mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrProviderDown, stripeErr.Msg)
		}
		return fmt.Errorf("stripe: %s (%s)", stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("stripe request failed: %w", err)
}
