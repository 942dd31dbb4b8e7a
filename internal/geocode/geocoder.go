package geocode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/rueidis"
	"github.com/searchparty/beacon/internal/setup/config"
	"go.uber.org/zap"
)

// ErrNotFound means the provider could not resolve the address.
var ErrNotFound = errors.New("address not found")

const (
	cacheKeyPrefix = "geocode:"
	lastCallKey    = "geocode:last_call_ms"

	// notFoundMarker caches negative lookups so they also skip the provider.
	notFoundMarker = "!"
)

// Geocoder resolves addresses to coordinates through a rate-limited provider
// with an indefinite Redis-backed cache. Addresses rarely move, so cached
// entries never expire.
type Geocoder struct {
	client      *resty.Client
	cache       rueidis.Client
	ratelimit   rueidis.Client
	minInterval time.Duration
	logger      *zap.Logger
}

// Point is a resolved coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// New creates a geocoder from configuration.
func New(cfg *config.Geocode, cache, ratelimit rueidis.Client, logger *zap.Logger) *Geocoder {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetQueryParam("key", cfg.APIKey)

	return &Geocoder{
		client:      client,
		cache:       cache,
		ratelimit:   ratelimit,
		minInterval: time.Duration(cfg.MinIntervalMS) * time.Millisecond,
		logger:      logger.Named("geocode"),
	}
}

// Geocode resolves one address, consulting the cache first. Provider calls
// honor the minimum inter-call interval even across process restarts.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*Point, error) {
	cacheKey := cacheKeyPrefix + address

	// Cache hit path
	cached, err := g.cache.Do(ctx, g.cache.B().Get().Key(cacheKey).Build()).ToString()
	if err == nil {
		return decodeCached(cached)
	} else if !rueidis.IsRedisNil(err) {
		return nil, fmt.Errorf("failed to read geocode cache: %w", err)
	}

	if err := g.waitForSlot(ctx); err != nil {
		return nil, err
	}

	point, lookupErr := g.lookup(ctx, address)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, lookupErr
	}

	// Cache the outcome, negative results included
	value := notFoundMarker
	if lookupErr == nil {
		value = fmt.Sprintf("%f,%f", point.Lat, point.Lon)
	}

	err = g.cache.Do(ctx, g.cache.B().Set().Key(cacheKey).Value(value).Build()).Error()
	if err != nil {
		g.logger.Warn("Failed to cache geocode result", zap.Error(err), zap.String("address", address))
	}

	return point, lookupErr
}

// waitForSlot blocks until the minimum interval since the provider's last
// call has elapsed. The last-call timestamp lives in Redis so the limit
// holds across restarts and process replacement.
func (g *Geocoder) waitForSlot(ctx context.Context) error {
	lastMS, err := g.ratelimit.Do(ctx, g.ratelimit.B().Get().Key(lastCallKey).Build()).AsInt64()
	if err != nil && !rueidis.IsRedisNil(err) {
		return fmt.Errorf("failed to read rate limit timestamp: %w", err)
	}

	if err == nil {
		elapsed := time.Since(time.UnixMilli(lastMS))
		if elapsed < g.minInterval {
			select {
			case <-time.After(g.minInterval - elapsed):
			case <-ctx.Done():
				return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
			}
		}
	}

	nowMS := strconv.FormatInt(time.Now().UnixMilli(), 10)

	err = g.ratelimit.Do(ctx, g.ratelimit.B().Set().Key(lastCallKey).Value(nowMS).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to persist rate limit timestamp: %w", err)
	}

	return nil
}

// lookup performs one provider call.
func (g *Geocoder) lookup(ctx context.Context, address string) (*Point, error) {
	var result struct {
		Found bool    `json:"found"`
		Lat   float64 `json:"lat"`
		Lon   float64 `json:"lon"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("address", address).
		SetResult(&result).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("geocode provider returned status %d", resp.StatusCode()) //nolint:err113 // -
	}

	if !result.Found {
		return nil, ErrNotFound
	}

	return &Point{Lat: result.Lat, Lon: result.Lon}, nil
}

// decodeCached parses a cached value back into a point.
func decodeCached(value string) (*Point, error) {
	if value == notFoundMarker {
		return nil, ErrNotFound
	}

	var point Point
	if _, err := fmt.Sscanf(value, "%f,%f", &point.Lat, &point.Lon); err != nil {
		return nil, fmt.Errorf("failed to decode cached geocode value: %w", err)
	}

	return &point, nil
}
