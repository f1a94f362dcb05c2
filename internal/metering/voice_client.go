package metering

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"billing-backend/internal/config"
	"billing-backend/internal/models"

	"github.com/shopspring/decimal"
)

// VoiceClient meters call minutes for a customer's tracked voice number.
type VoiceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewVoiceClient(cfg config.MeteringProvider) *VoiceClient {
	return &VoiceClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: queryTimeout},
	}
}

func (c *VoiceClient) Provider() string { return models.ProviderVoice }

type voiceUsageResponse struct {
	CallCount    int    `json:"call_count"`
	TotalMinutes string `json:"total_minutes"`
	TotalPrice   string `json:"total_price"`
}

func (c *VoiceClient) QueryUsage(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*Usage, error) {
	if customer.VoiceNumber == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("number", customer.VoiceNumber)
	q.Set("start_date", period.Start.Format("2006-01-02"))
	q.Set("end_date", period.End.Format("2006-01-02"))

	var resp voiceUsageResponse
	if err := getJSON(ctx, c.client, c.baseURL+"/v1/usage/calls?"+q.Encode(), c.apiKey, &resp); err != nil {
		return nil, fmt.Errorf("voice usage query: %w", err)
	}

	minutes, err := decimal.NewFromString(resp.TotalMinutes)
	if err != nil {
		return nil, fmt.Errorf("voice usage query: bad total_minutes %q: %w", resp.TotalMinutes, err)
	}
	cost, err := decimal.NewFromString(resp.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("voice usage query: bad total_price %q: %w", resp.TotalPrice, err)
	}

	return &Usage{
		Count:   resp.CallCount,
		Minutes: minutes,
		Cost:    cost,
	}, nil
}
