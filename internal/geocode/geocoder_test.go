package geocode_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/searchparty/beacon/internal/geocode"
	"github.com/searchparty/beacon/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGeocoder(t *testing.T, handler http.HandlerFunc, minIntervalMS int) (*geocode.Geocoder, *miniredis.Miniredis) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	geocoder := geocode.New(&config.Geocode{
		URL:           server.URL,
		APIKey:        "test-key",
		MinIntervalMS: minIntervalMS,
	}, client, client, zap.NewNop())

	return geocoder, mr
}

func TestGeocodeResolvesAndCaches(t *testing.T) {
	t.Parallel()

	calls := 0

	geocoder, _ := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "г. Тверь", r.URL.Query().Get("address"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found":true,"lat":56.8587,"lon":35.9176}`))
	}, 0)

	point, err := geocoder.Geocode(context.Background(), "г. Тверь")
	require.NoError(t, err)
	assert.InDelta(t, 56.8587, point.Lat, 0.001)
	assert.InDelta(t, 35.9176, point.Lon, 0.001)

	// Second call must come from the cache
	point, err = geocoder.Geocode(context.Background(), "г. Тверь")
	require.NoError(t, err)
	assert.InDelta(t, 56.8587, point.Lat, 0.001)
	assert.Equal(t, 1, calls)
}

func TestGeocodeCachesNegativeLookups(t *testing.T) {
	t.Parallel()

	calls := 0

	geocoder, _ := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found":false}`))
	}, 0)

	_, err := geocoder.Geocode(context.Background(), "несуществующее место")
	assert.ErrorIs(t, err, geocode.ErrNotFound)

	_, err = geocoder.Geocode(context.Background(), "несуществующее место")
	assert.ErrorIs(t, err, geocode.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestGeocodeRateLimitPersisted(t *testing.T) {
	t.Parallel()

	geocoder, mr := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found":true,"lat":1,"lon":2}`))
	}, 100)

	start := time.Now()

	_, err := geocoder.Geocode(context.Background(), "адрес один")
	require.NoError(t, err)

	// Distinct addresses miss the cache, so the second call must wait out
	// the inter-call interval recorded by the first.
	_, err = geocoder.Geocode(context.Background(), "адрес два")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// The last-call timestamp survives in Redis for other processes
	assert.True(t, mr.Exists("geocode:last_call_ms"))
}
