// Package twilio implements the SMS provider adapter over the Twilio
// messages REST API. Credentials come from the injected configuration, never
// from the process environment at call time.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rpral/alertd/internal/config"
	"github.com/rpral/alertd/pkg/models"
)

// Client sends SMS messages through Twilio.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	fromNumber string
	httpClient *http.Client
	log        *slog.Logger
}

// New constructs an SMS client from the injected provider configuration.
func New(cfg config.TwilioConfig, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "twilio_client"),
	}
}

// messageResponse mirrors the subset of the provider's message resource this
// service consumes.
type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// errorResponse mirrors the provider's error payload. Its status field is
// numeric, unlike the message resource's.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send submits one SMS and returns the provider's synchronous
// acknowledgement. It returns an error on any rejection (invalid number,
// provider outage); the provider's own asynchronous delivery tracking beyond
// this acknowledgement is not consumed.
func (c *Client) Send(ctx context.Context, to, body string) (*models.SMSResult, error) {
	if c.accountSID == "" || c.authToken == "" {
		return nil, fmt.Errorf("sms provider credentials not configured")
	}
	if to == "" {
		return nil, fmt.Errorf("recipient phone number is required")
	}

	form := url.Values{}
	form.Set("From", c.fromNumber)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create sms request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.SetBasicAuth(c.accountSID, c.authToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("sms request failed: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sms response: %w", err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		var apiErr errorResponse
		if err := json.Unmarshal(responseBody, &apiErr); err != nil {
			return nil, fmt.Errorf("sms rejected: %s", response.Status)
		}
		reason := strings.TrimSpace(apiErr.Message)
		if reason == "" {
			reason = response.Status
		}
		return nil, fmt.Errorf("sms rejected (code %d): %s", apiErr.Code, reason)
	}

	var msg messageResponse
	if err := json.Unmarshal(responseBody, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode sms response: %w", err)
	}

	c.log.Debug("sms submitted", "sid", msg.SID, "status", msg.Status)
	return &models.SMSResult{SID: msg.SID, Status: msg.Status}, nil
}
