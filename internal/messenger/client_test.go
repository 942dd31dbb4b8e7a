package messenger_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/searchparty/beacon/internal/messenger"
	"github.com/searchparty/beacon/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		body       string
		expected   enum.DeliveryResult
	}{
		{"ok", 200, `{"ok":true}`, enum.DeliveryResultCompleted},
		{"created", 201, "", enum.DeliveryResultCompleted},
		{"bad request", 400, "Bad Request: chat not found", enum.DeliveryResultBadRequest},
		{"blocked", 403, "Forbidden: bot was blocked by the user", enum.DeliveryResultRecipientGone},
		{"deactivated", 403, "Forbidden: user is deactivated", enum.DeliveryResultRecipientGone},
		{"forbidden without marker", 403, "Forbidden", enum.DeliveryResultUnknown},
		{"flood control", 429, "Too Many Requests", enum.DeliveryResultFloodControl},
		{"enhance your calm", 420, "", enum.DeliveryResultFloodControl},
		{"server error", 500, "", enum.DeliveryResultUnknown},
		{"not found", 404, "", enum.DeliveryResultUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, messenger.Classify(tt.statusCode, tt.body))
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *messenger.HTTPClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return messenger.NewHTTPClient(&config.Messenger{
		BaseURL:        server.URL,
		Token:          "test-token",
		MaxRetries:     1,
		RetryBackoffMS: 1,
	}, zap.NewNop())
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	var gotPath string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	result, err := client.SendMessage(context.Background(), 42, "Новый поиск")
	require.NoError(t, err)

	assert.Equal(t, enum.DeliveryResultCompleted, result)
	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
}

func TestSendLocation(t *testing.T) {
	t.Parallel()

	var gotPath string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	result, err := client.SendLocation(context.Background(), 42, 56.85, 35.90)
	require.NoError(t, err)

	assert.Equal(t, enum.DeliveryResultCompleted, result)
	assert.Equal(t, "/bottest-token/sendLocation", gotPath)
}

func TestSendMessageBlockedRecipient(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Forbidden: bot was blocked by the user"))
	})

	result, err := client.SendMessage(context.Background(), 42, "text")
	require.NoError(t, err)
	assert.Equal(t, enum.DeliveryResultRecipientGone, result)
}

func TestSendMessageHTTPStatusDoesNotRetry(t *testing.T) {
	t.Parallel()

	calls := 0

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	result, err := client.SendMessage(context.Background(), 42, "text")
	require.NoError(t, err)

	// Only network failures retry; an HTTP status is classified immediately
	assert.Equal(t, enum.DeliveryResultFloodControl, result)
	assert.Equal(t, 1, calls)
}
