package messenger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/searchparty/beacon/internal/setup/config"
	"go.uber.org/zap"
)

// Client delivers rendered notifications to users.
type Client interface {
	// SendMessage delivers one text message to a chat.
	SendMessage(ctx context.Context, chatID int64, text string) (enum.DeliveryResult, error)
	// SendLocation delivers one map location to a chat.
	SendLocation(ctx context.Context, chatID int64, lat, lon float64) (enum.DeliveryResult, error)
}

// HTTPClient implements Client against the messenger HTTP API.
type HTTPClient struct {
	client     *resty.Client
	maxRetries uint64
	backoff    time.Duration
	logger     *zap.Logger
}

// NewHTTPClient creates a messenger client from configuration.
func NewHTTPClient(cfg *config.Messenger, logger *zap.Logger) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL + "/bot" + cfg.Token)

	return &HTTPClient{
		client:     client,
		maxRetries: uint64(cfg.MaxRetries),
		backoff:    time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		logger:     logger.Named("messenger"),
	}
}

// SendMessage delivers one text message to a chat.
func (c *HTTPClient) SendMessage(ctx context.Context, chatID int64, text string) (enum.DeliveryResult, error) {
	return c.send(ctx, "/sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendLocation delivers one map location to a chat.
func (c *HTTPClient) SendLocation(ctx context.Context, chatID int64, lat, lon float64) (enum.DeliveryResult, error) {
	return c.send(ctx, "/sendLocation", map[string]any{
		"chat_id":   chatID,
		"latitude":  lat,
		"longitude": lon,
	})
}

// send posts one payload with bounded fixed-backoff retries on network
// failure, then classifies the response. Exhausted retries are a terminal
// failure for the row only; the caller's drain loop continues.
func (c *HTTPClient) send(ctx context.Context, path string, body map[string]any) (enum.DeliveryResult, error) {
	var result enum.DeliveryResult

	operation := func() error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(body).
			Post(path)
		if err != nil {
			return fmt.Errorf("send request failed: %w", err)
		}

		result = Classify(resp.StatusCode(), resp.String())

		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.backoff), c.maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return enum.DeliveryResultUnknown, fmt.Errorf("delivery failed after retries: %w", err)
	}

	return result, nil
}

// Classify maps a messenger API response to a delivery result.
//
// 2xx completes the row. 400 is a permanently rejected payload. 403 with a
// blocked/deactivated marker means the recipient is gone and triggers a user
// lifecycle update. 420-429 is flood control, transient and eligible for a
// later delivery pass. Anything else is cancelled as unknown.
func Classify(statusCode int, body string) enum.DeliveryResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return enum.DeliveryResultCompleted
	case statusCode == 400:
		return enum.DeliveryResultBadRequest
	case statusCode == 403:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "blocked") || strings.Contains(lower, "deactivated") {
			return enum.DeliveryResultRecipientGone
		}

		return enum.DeliveryResultUnknown
	case statusCode >= 420 && statusCode <= 429:
		return enum.DeliveryResultFloodControl
	default:
		return enum.DeliveryResultUnknown
	}
}
