package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"billing-backend/internal/cache"
	"billing-backend/internal/metering"
	"billing-backend/internal/metrics"
	"billing-backend/internal/models"
	"billing-backend/internal/money"

	"github.com/shopspring/decimal"
)

// CostService aggregates per-customer usage costs across the metering
// providers and applies the customer's markup.
type CostService struct {
	sources []metering.Source
}

// NewCostService wires the three provider clients. Order matters only for
// the breakdown's provider status list.
func NewCostService(sms, voice, convAI metering.Source) *CostService {
	return &CostService{sources: []metering.Source{sms, voice, convAI}}
}

// Breakdown queries every provider for the customer's usage over the
// period, sums the costs and applies markup.
//
// Provider failures degrade that provider's contribution to zero and set
// Incomplete; only rejected credentials abort, since they would degrade
// every customer in the run the same way.
func (s *CostService) Breakdown(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*models.CostBreakdown, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	b := &models.CostBreakdown{
		CallMinutes:  decimal.Zero,
		SMSCost:      decimal.Zero,
		VoiceCost:    decimal.Zero,
		ConvAICost:   decimal.Zero,
		Subtotal:     decimal.Zero,
		MarkupAmount: decimal.Zero,
		Total:        decimal.Zero,
	}

	for _, src := range s.sources {
		usage, err := s.queryUsage(ctx, src, customer, period)
		status := models.ProviderStatus{Provider: src.Provider(), OK: true}

		switch {
		case err == nil && usage.Cost.IsNegative():
			// A provider can never owe the customer money; a negative
			// figure means the provider returned garbage.
			log.Printf("[Cost] %s reported negative cost %s for customer %d", src.Provider(), usage.Cost, customer.ID)
			metrics.MeteringQueryErrorsTotal.WithLabelValues(src.Provider()).Inc()
			b.Incomplete = true
			status.OK = false
			status.Error = fmt.Sprintf("negative reported cost %s", usage.Cost)
			usage = &metering.Usage{Minutes: decimal.Zero, Cost: decimal.Zero}
		case err == nil:
			// fall through to apply below
		case errors.Is(err, metering.ErrNotConfigured):
			// Genuine zero usage, not a failure.
			usage = &metering.Usage{Minutes: decimal.Zero, Cost: decimal.Zero}
		case errors.Is(err, metering.ErrUnauthorized):
			return nil, fmt.Errorf("%s metering: %w", src.Provider(), err)
		default:
			log.Printf("[Cost] %s query failed for customer %d: %v", src.Provider(), customer.ID, err)
			metrics.MeteringQueryErrorsTotal.WithLabelValues(src.Provider()).Inc()
			b.Incomplete = true
			status.OK = false
			status.Error = err.Error()
			usage = &metering.Usage{Minutes: decimal.Zero, Cost: decimal.Zero}
		}

		b.Providers = append(b.Providers, status)

		cost := money.RoundCents(usage.Cost)
		switch src.Provider() {
		case models.ProviderSMS:
			b.SMSSegments = usage.Segments
			b.SMSCost = cost
		case models.ProviderVoice:
			b.CallCount = usage.Count
			b.CallMinutes = usage.Minutes
			b.VoiceCost = cost
		case models.ProviderConvAI:
			b.ChatCount = usage.Count
			b.ConvAICost = cost
		}
		b.Subtotal = b.Subtotal.Add(cost)
	}

	b.MarkupAmount, b.Total = money.ApplyMarkup(b.Subtotal, customer.MarkupPercent)
	return b, nil
}

// queryUsage hits the provider through a short-lived cache. Usage for a
// given customer and period is stable enough that repeated previews should
// not re-query the provider.
func (s *CostService) queryUsage(ctx context.Context, src metering.Source, customer *models.Customer, period models.BillingPeriod) (*metering.Usage, error) {
	label := period.Label()
	if data, ok := cache.GetCachedUsage(ctx, src.Provider(), customer.ID, label); ok {
		var u metering.Usage
		if err := json.Unmarshal(data, &u); err == nil {
			return &u, nil
		}
	}

	usage, err := src.QueryUsage(ctx, customer, period)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(usage); err == nil {
		cache.CacheUsage(ctx, src.Provider(), customer.ID, label, data)
	}
	return usage, nil
}
