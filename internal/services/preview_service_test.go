package services

import (
	"context"
	"testing"

	"billing-backend/internal/metering"
	"billing-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	customers []*models.Customer
	stripeIDs map[int]string
}

func (d *fakeDirectory) List(ctx context.Context) ([]*models.Customer, error) {
	return d.customers, nil
}

func (d *fakeDirectory) Get(ctx context.Context, id int) (*models.Customer, error) {
	for _, c := range d.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, context.Canceled
}

func (d *fakeDirectory) SetStripeCustomerID(ctx context.Context, id int, stripeID string) error {
	if d.stripeIDs == nil {
		d.stripeIDs = map[int]string{}
	}
	d.stripeIDs[id] = stripeID
	for _, c := range d.customers {
		if c.ID == id {
			c.StripeCustomerID = stripeID
		}
	}
	return nil
}

type fakeCosts struct {
	byCustomer map[int]*models.CostBreakdown
	err        error
}

func (f *fakeCosts) Breakdown(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*models.CostBreakdown, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.byCustomer[customer.ID]; ok {
		copied := *b
		return &copied, nil
	}
	return &models.CostBreakdown{
		Subtotal: decimal.Zero, MarkupAmount: decimal.Zero, Total: decimal.Zero,
		SMSCost: decimal.Zero, VoiceCost: decimal.Zero, ConvAICost: decimal.Zero,
		CallMinutes: decimal.Zero,
	}, nil
}

func breakdownWithTotal(total string) *models.CostBreakdown {
	t := dec(total)
	return &models.CostBreakdown{
		Subtotal: t, MarkupAmount: decimal.Zero, Total: t,
		SMSCost: t, VoiceCost: decimal.Zero, ConvAICost: decimal.Zero,
		CallMinutes: decimal.Zero,
	}
}

func TestBuildPreviewsSelectionAndIdentityFlags(t *testing.T) {
	dir := &fakeDirectory{customers: []*models.Customer{
		{ID: 1, Name: "alpha", Email: "a@x.test", StripeCustomerID: "cus_1"},
		{ID: 2, Name: "Bravo", Email: "b@x.test"},
		{ID: 3, Name: "charlie", Email: "c@x.test", StripeCustomerID: "cus_3"},
	}}
	costs := &fakeCosts{byCustomer: map[int]*models.CostBreakdown{
		1: breakdownWithTotal("42.00"),
		3: breakdownWithTotal("7.25"),
	}}

	svc := NewPreviewService(dir, costs)
	previews, err := svc.BuildPreviews(context.Background(), testPeriod())
	require.NoError(t, err)
	require.Len(t, previews, 3)

	assert.Equal(t, 1, previews[0].CustomerID)
	assert.Equal(t, 2, previews[1].CustomerID)
	assert.Equal(t, 3, previews[2].CustomerID)

	assert.True(t, previews[0].Selected)
	assert.False(t, previews[1].Selected, "zero-usage customers start deselected")
	assert.True(t, previews[2].Selected)

	assert.True(t, previews[0].HasBillingIdentity)
	assert.False(t, previews[1].HasBillingIdentity)
}

func TestBuildPreviewsOrdersByNameCaseInsensitive(t *testing.T) {
	dir := &fakeDirectory{customers: []*models.Customer{
		{ID: 1, Name: "zulu"},
		{ID: 2, Name: "Echo"},
		{ID: 3, Name: "alpha"},
		{ID: 4, Name: "BRAVO"},
	}}

	svc := NewPreviewService(dir, &fakeCosts{})
	previews, err := svc.BuildPreviews(context.Background(), testPeriod())
	require.NoError(t, err)
	require.Len(t, previews, 4)

	names := make([]string, len(previews))
	for i, p := range previews {
		names[i] = p.CustomerName
	}
	assert.Equal(t, []string{"alpha", "BRAVO", "Echo", "zulu"}, names)
}

func TestBuildPreviewsAbortsOnFatalMeteringError(t *testing.T) {
	dir := &fakeDirectory{customers: []*models.Customer{
		{ID: 1, Name: "alpha"},
		{ID: 2, Name: "bravo"},
	}}
	costs := &fakeCosts{err: metering.ErrUnauthorized}

	svc := NewPreviewService(dir, costs)
	_, err := svc.BuildPreviews(context.Background(), testPeriod())
	assert.ErrorIs(t, err, metering.ErrUnauthorized)
}

func TestBuildPreviewsRejectsInvalidPeriod(t *testing.T) {
	svc := NewPreviewService(&fakeDirectory{}, &fakeCosts{})

	period := testPeriod()
	period.Start, period.End = period.End.AddDate(0, 1, 0), period.Start

	_, err := svc.BuildPreviews(context.Background(), period)
	assert.ErrorIs(t, err, models.ErrInvalidPeriod)
}
