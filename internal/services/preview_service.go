package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"billing-backend/internal/models"
)

// CustomerDirectory is the slice of the customer store the billing
// pipeline needs.
type CustomerDirectory interface {
	List(ctx context.Context) ([]*models.Customer, error)
	Get(ctx context.Context, id int) (*models.Customer, error)
	SetStripeCustomerID(ctx context.Context, id int, stripeID string) error
}

// CostBuilder produces a per-customer cost breakdown for a period.
type CostBuilder interface {
	Breakdown(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*models.CostBreakdown, error)
}

// PreviewService builds the preview table shown before invoices are
// generated: one row per customer, ordered case-insensitively by name.
type PreviewService struct {
	customers CustomerDirectory
	costs     CostBuilder
}

func NewPreviewService(customers CustomerDirectory, costs CostBuilder) *PreviewService {
	return &PreviewService{customers: customers, costs: costs}
}

// Previews are built concurrently but capped; each breakdown fans out to
// three provider APIs of its own.
const previewConcurrency = 5

// BuildPreviews aggregates a breakdown for every customer over the period.
// Customers with a positive total start selected, the rest start
// deselected but remain in the list so the operator can see the zeroes.
//
// A fatal breakdown error (rejected metering credentials) aborts the whole
// preview rather than producing a table of silent zeroes.
func (s *PreviewService) BuildPreviews(ctx context.Context, period models.BillingPeriod) ([]models.InvoicePreview, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	customers, err := s.customers.List(ctx)
	if err != nil {
		return nil, err
	}

	previews := make([]models.InvoicePreview, len(customers))
	errs := make([]error, len(customers))

	var wg sync.WaitGroup
	sem := make(chan struct{}, previewConcurrency)

	for i, customer := range customers {
		wg.Add(1)
		go func(i int, customer *models.Customer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			breakdown, err := s.costs.Breakdown(ctx, customer, period)
			if err != nil {
				errs[i] = err
				return
			}

			previews[i] = models.InvoicePreview{
				CustomerID:         customer.ID,
				CustomerName:       customer.Name,
				CustomerEmail:      customer.Email,
				Breakdown:          *breakdown,
				Selected:           breakdown.Total.IsPositive(),
				HasBillingIdentity: customer.HasBillingIdentity(),
			}
		}(i, customer)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	// The preview table and the processing loop both follow this order,
	// whatever order the directory returned.
	sort.SliceStable(previews, func(i, j int) bool {
		return strings.ToLower(previews[i].CustomerName) < strings.ToLower(previews[j].CustomerName)
	})
	return previews, nil
}
