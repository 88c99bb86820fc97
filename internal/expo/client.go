// Package expo implements the push-notification provider adapter over the
// Expo push HTTP API. The loosely-typed provider JSON is validated here at
// the boundary and converted into the tagged ticket/receipt types in
// pkg/models; nothing downstream inspects raw provider payloads.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rpral/alertd/internal/config"
	"github.com/rpral/alertd/pkg/models"
)

// Client talks to the Expo push API.
type Client struct {
	baseURL      string
	accessToken  string
	maxBatchSize int
	httpClient   *http.Client
	log          *slog.Logger
}

// New constructs a push client from the injected provider configuration.
func New(cfg config.ExpoConfig, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		accessToken:  cfg.AccessToken,
		maxBatchSize: maxBatch,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log.With("component", "expo_client"),
	}
}

// Chunk splits messages into batches no larger than the provider's maximum
// batch size.
func (c *Client) Chunk(messages []models.PushMessage) [][]models.PushMessage {
	if len(messages) == 0 {
		return nil
	}
	chunks := make([][]models.PushMessage, 0, (len(messages)+c.maxBatchSize-1)/c.maxBatchSize)
	for start := 0; start < len(messages); start += c.maxBatchSize {
		end := start + c.maxBatchSize
		if end > len(messages) {
			end = len(messages)
		}
		chunks = append(chunks, messages[start:end])
	}
	return chunks
}

// ticketEnvelope mirrors the provider's send response.
type ticketEnvelope struct {
	Data []struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"`
		} `json:"details"`
	} `json:"data"`
}

// Send submits one batch of messages and returns one ticket per message, in
// message order. The provider answers each message independently: a rejected
// message yields an error ticket, not a request-level failure.
func (c *Client) Send(ctx context.Context, batch []models.PushMessage) ([]models.PushTicket, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > c.maxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds provider maximum %d", len(batch), c.maxBatchSize)
	}

	var envelope ticketEnvelope
	if err := c.post(ctx, "/push/send", batch, &envelope); err != nil {
		return nil, fmt.Errorf("push send failed: %w", err)
	}
	if len(envelope.Data) != len(batch) {
		return nil, fmt.Errorf("push provider returned %d tickets for %d messages", len(envelope.Data), len(batch))
	}

	tickets := make([]models.PushTicket, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		tickets = append(tickets, models.PushTicket{
			Status:    models.PushTicketStatus(raw.Status),
			ReceiptID: raw.ID,
			Message:   raw.Message,
			ErrorCode: models.PushErrorCode(raw.Details.Error),
		})
	}
	c.log.Debug("push batch submitted", "messages", len(batch))
	return tickets, nil
}

// receiptEnvelope mirrors the provider's receipt response.
type receiptEnvelope struct {
	Data map[string]struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"`
		} `json:"details"`
	} `json:"data"`
}

// Receipts polls delivery receipts for previously accepted sends. Receipt ids
// missing from the response are simply absent from the returned map; the
// caller retries them on its next cycle.
func (c *Client) Receipts(ctx context.Context, receiptIDs []string) (map[string]models.PushReceipt, error) {
	if len(receiptIDs) == 0 {
		return nil, nil
	}

	var envelope receiptEnvelope
	payload := map[string][]string{"ids": receiptIDs}
	if err := c.post(ctx, "/push/getReceipts", payload, &envelope); err != nil {
		return nil, fmt.Errorf("receipt poll failed: %w", err)
	}

	receipts := make(map[string]models.PushReceipt, len(envelope.Data))
	for id, raw := range envelope.Data {
		receipts[id] = models.PushReceipt{
			Status:    models.PushTicketStatus(raw.Status),
			Message:   raw.Message,
			ErrorCode: models.PushErrorCode(raw.Details.Error),
		}
	}
	return receipts, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("provider returned status %d: %s", response.StatusCode, bytes.TrimSpace(responseBody))
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
