package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/searchparty/beacon/internal/setup/config"
	"github.com/searchparty/beacon/pkg/utils"
	"go.uber.org/zap"
)

// ErrClassificationFailed means the service answered but could not classify
// the title.
var ErrClassificationFailed = errors.New("title classification failed")

// Person is one person recognized in a topic title.
type Person struct {
	DisplayName string `json:"displayName"`
	AgeMin      int    `json:"ageMin"`
	AgeMax      int    `json:"ageMax"`
}

// Location is one location recognized in a topic title.
type Location struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Recognition is the structured result of classifying one topic title.
type Recognition struct {
	Status    string     `json:"status"`
	TopicType string     `json:"topicType"`
	Persons   []Person   `json:"persons"`
	Locations []Location `json:"locations"`
}

// Client calls the remote title classification service.
type Client interface {
	// Classify recognizes topic type, status, persons and locations in a
	// raw topic title.
	Classify(ctx context.Context, title, recoType string) (*Recognition, error)
}

// HTTPClient implements Client against the classification service.
type HTTPClient struct {
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPClient creates a classification client from configuration.
func NewHTTPClient(cfg *config.Classify, logger *zap.Logger) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(time.Duration(cfg.RequestTimeout) * time.Millisecond)

	return &HTTPClient{
		client: client,
		logger: logger.Named("classify"),
	}
}

// Classify recognizes topic type, status, persons and locations in a raw
// topic title. Network failures retry with backoff; a service answer that
// cannot classify the title is permanent.
func (c *HTTPClient) Classify(ctx context.Context, title, recoType string) (*Recognition, error) {
	return utils.WithRetry(ctx, func() (*Recognition, error) {
		var result struct {
			Status      string       `json:"status"`
			Recognition *Recognition `json:"recognition"`
		}

		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"title": title, "recoType": recoType}).
			SetResult(&result).
			Post("")
		if err != nil {
			return nil, fmt.Errorf("classification request failed: %w", err)
		}

		if resp.IsError() || result.Status != "ok" || result.Recognition == nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %q", ErrClassificationFailed, title))
		}

		return result.Recognition, nil
	}, utils.GetFetchRetryOptions())
}
