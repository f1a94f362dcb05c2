package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"billing-backend/internal/config"
	"billing-backend/internal/models"

	"github.com/shopspring/decimal"
)

// SMSClient meters SMS segment usage for a customer's tracked number.
type SMSClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewSMSClient(cfg config.MeteringProvider) *SMSClient {
	return &SMSClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: queryTimeout},
	}
}

func (c *SMSClient) Provider() string { return models.ProviderSMS }

type smsUsageResponse struct {
	MessageCount int    `json:"message_count"`
	SegmentCount int    `json:"segment_count"`
	TotalPrice   string `json:"total_price"`
}

func (c *SMSClient) QueryUsage(ctx context.Context, customer *models.Customer, period models.BillingPeriod) (*Usage, error) {
	if customer.SMSNumber == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("number", customer.SMSNumber)
	q.Set("start_date", period.Start.Format("2006-01-02"))
	q.Set("end_date", period.End.Format("2006-01-02"))

	var resp smsUsageResponse
	if err := getJSON(ctx, c.client, c.baseURL+"/v1/usage/messages?"+q.Encode(), c.apiKey, &resp); err != nil {
		return nil, fmt.Errorf("sms usage query: %w", err)
	}

	cost, err := decimal.NewFromString(resp.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("sms usage query: bad total_price %q: %w", resp.TotalPrice, err)
	}

	return &Usage{
		Count:    resp.MessageCount,
		Segments: resp.SegmentCount,
		Minutes:  decimal.Zero,
		Cost:     cost,
	}, nil
}

// getJSON issues an authenticated GET and decodes the JSON body. 401/403
// map to ErrUnauthorized so the aggregator can tell credential failures
// apart from transient ones.
func getJSON(ctx context.Context, client *http.Client, rawURL, apiKey string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
