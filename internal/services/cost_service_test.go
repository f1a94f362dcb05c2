package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"billing-backend/internal/metering"
	"billing-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name  string
	usage *metering.Usage
	err   error
	calls int
}

func (f *fakeSource) Provider() string { return f.name }

func (f *fakeSource) QueryUsage(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*metering.Usage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.usage, nil
}

func testPeriod() models.BillingPeriod {
	return models.BillingPeriod{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBreakdownSumsProvidersAndAppliesMarkup(t *testing.T) {
	sms := &fakeSource{name: models.ProviderSMS, usage: &metering.Usage{
		Count: 40, Segments: 52, Minutes: decimal.Zero, Cost: dec("10.00"),
	}}
	voice := &fakeSource{name: models.ProviderVoice, usage: &metering.Usage{
		Count: 7, Minutes: dec("31.5"), Cost: dec("25.50"),
	}}
	convAI := &fakeSource{name: models.ProviderConvAI, usage: &metering.Usage{
		Count: 12, Minutes: decimal.Zero, Cost: dec("64.50"),
	}}

	svc := NewCostService(sms, voice, convAI)
	customer := &models.Customer{ID: 1, Name: "Acme", MarkupPercent: dec("20")}

	b, err := svc.Breakdown(context.Background(), customer, testPeriod())
	require.NoError(t, err)

	assert.Equal(t, 12, b.ChatCount)
	assert.Equal(t, 7, b.CallCount)
	assert.Equal(t, 52, b.SMSSegments)
	assert.True(t, b.CallMinutes.Equal(dec("31.5")))
	assert.True(t, b.Subtotal.Equal(dec("100.00")), "subtotal = %s", b.Subtotal)
	assert.True(t, b.MarkupAmount.Equal(dec("20.00")), "markup = %s", b.MarkupAmount)
	assert.True(t, b.Total.Equal(dec("120.00")), "total = %s", b.Total)
	assert.False(t, b.Incomplete)
	require.Len(t, b.Providers, 3)
	for _, p := range b.Providers {
		assert.True(t, p.OK, "provider %s should be ok", p.Provider)
	}
}

func TestBreakdownDegradesFailedProviderToZero(t *testing.T) {
	sms := &fakeSource{name: models.ProviderSMS, usage: &metering.Usage{
		Segments: 10, Minutes: decimal.Zero, Cost: dec("5.00"),
	}}
	voice := &fakeSource{name: models.ProviderVoice, err: errors.New("gateway timeout")}
	convAI := &fakeSource{name: models.ProviderConvAI, usage: &metering.Usage{
		Count: 3, Minutes: decimal.Zero, Cost: dec("15.00"),
	}}

	svc := NewCostService(sms, voice, convAI)
	customer := &models.Customer{ID: 2, Name: "Beta", MarkupPercent: decimal.Zero}

	b, err := svc.Breakdown(context.Background(), customer, testPeriod())
	require.NoError(t, err)

	assert.True(t, b.Incomplete)
	assert.True(t, b.VoiceCost.IsZero())
	assert.Equal(t, 0, b.CallCount)
	assert.True(t, b.Subtotal.Equal(dec("20.00")))
	assert.True(t, b.Total.Equal(dec("20.00")))

	var voiceStatus *models.ProviderStatus
	for i := range b.Providers {
		if b.Providers[i].Provider == models.ProviderVoice {
			voiceStatus = &b.Providers[i]
		}
	}
	require.NotNil(t, voiceStatus)
	assert.False(t, voiceStatus.OK)
	assert.Contains(t, voiceStatus.Error, "gateway timeout")
}

func TestBreakdownTreatsNegativeReportedCostAsFailure(t *testing.T) {
	sms := &fakeSource{name: models.ProviderSMS, usage: &metering.Usage{
		Segments: 10, Minutes: decimal.Zero, Cost: dec("-5.00"),
	}}
	voice := &fakeSource{name: models.ProviderVoice, usage: &metering.Usage{
		Count: 2, Minutes: dec("4.0"), Cost: dec("12.00"),
	}}
	convAI := &fakeSource{name: models.ProviderConvAI, usage: &metering.Usage{
		Minutes: decimal.Zero, Cost: decimal.Zero,
	}}

	svc := NewCostService(sms, voice, convAI)
	customer := &models.Customer{ID: 6, Name: "Epsilon", MarkupPercent: dec("25")}

	b, err := svc.Breakdown(context.Background(), customer, testPeriod())
	require.NoError(t, err)

	assert.True(t, b.SMSCost.IsZero(), "negative reported cost degrades to zero, got %s", b.SMSCost)
	assert.True(t, b.Incomplete)
	assert.True(t, b.Subtotal.Equal(dec("12.00")))
	assert.True(t, b.Total.Equal(dec("15.00")))

	var smsStatus *models.ProviderStatus
	for i := range b.Providers {
		if b.Providers[i].Provider == models.ProviderSMS {
			smsStatus = &b.Providers[i]
		}
	}
	require.NotNil(t, smsStatus)
	assert.False(t, smsStatus.OK)
	assert.Contains(t, smsStatus.Error, "negative reported cost")
}

func TestBreakdownNotConfiguredIsNotIncomplete(t *testing.T) {
	sms := &fakeSource{name: models.ProviderSMS, err: metering.ErrNotConfigured}
	voice := &fakeSource{name: models.ProviderVoice, err: metering.ErrNotConfigured}
	convAI := &fakeSource{name: models.ProviderConvAI, usage: &metering.Usage{
		Count: 2, Minutes: decimal.Zero, Cost: dec("8.00"),
	}}

	svc := NewCostService(sms, voice, convAI)
	customer := &models.Customer{ID: 3, Name: "Gamma", MarkupPercent: dec("50")}

	b, err := svc.Breakdown(context.Background(), customer, testPeriod())
	require.NoError(t, err)

	assert.False(t, b.Incomplete, "unconfigured providers are genuine zeroes")
	assert.True(t, b.Subtotal.Equal(dec("8.00")))
	assert.True(t, b.Total.Equal(dec("12.00")))
	for _, p := range b.Providers {
		assert.True(t, p.OK)
	}
}

func TestBreakdownUnauthorizedIsFatal(t *testing.T) {
	sms := &fakeSource{name: models.ProviderSMS, err: metering.ErrUnauthorized}
	voice := &fakeSource{name: models.ProviderVoice, usage: &metering.Usage{Minutes: decimal.Zero, Cost: dec("1.00")}}
	convAI := &fakeSource{name: models.ProviderConvAI, usage: &metering.Usage{Minutes: decimal.Zero, Cost: dec("1.00")}}

	svc := NewCostService(sms, voice, convAI)
	customer := &models.Customer{ID: 4, Name: "Delta", MarkupPercent: decimal.Zero}

	_, err := svc.Breakdown(context.Background(), customer, testPeriod())
	require.Error(t, err)
	assert.True(t, errors.Is(err, metering.ErrUnauthorized))
}

func TestBreakdownRejectsInvalidPeriod(t *testing.T) {
	svc := NewCostService(
		&fakeSource{name: models.ProviderSMS},
		&fakeSource{name: models.ProviderVoice},
		&fakeSource{name: models.ProviderConvAI},
	)
	customer := &models.Customer{ID: 5, MarkupPercent: decimal.Zero}

	period := models.BillingPeriod{
		Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := svc.Breakdown(context.Background(), customer, period)
	assert.ErrorIs(t, err, models.ErrInvalidPeriod)
}
