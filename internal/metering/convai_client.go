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

// ConvAIClient meters conversational AI chat sessions for a customer's
// agent.
type ConvAIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewConvAIClient(cfg config.MeteringProvider) *ConvAIClient {
	return &ConvAIClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: queryTimeout},
	}
}

func (c *ConvAIClient) Provider() string { return models.ProviderConvAI }

type convAIUsageResponse struct {
	SessionCount int    `json:"session_count"`
	TotalCost    string `json:"total_cost"`
}

func (c *ConvAIClient) QueryUsage(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*Usage, error) {
	if customer.AgentID == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("agent_id", customer.AgentID)
	q.Set("start_date", period.Start.Format("2006-01-02"))
	q.Set("end_date", period.End.Format("2006-01-02"))

	var resp convAIUsageResponse
	if err := getJSON(ctx, c.client, c.baseURL+"/v1/usage/sessions?"+q.Encode(), c.apiKey, &resp); err != nil {
		return nil, fmt.Errorf("conversational ai usage query: %w", err)
	}

	cost, err := decimal.NewFromString(resp.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("conversational ai usage query: bad total_cost %q: %w", resp.TotalCost, err)
	}

	return &Usage{
		Count: resp.SessionCount,
		Cost:  cost,
	}, nil
}
