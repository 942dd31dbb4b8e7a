package utils_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/searchparty/beacon/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func fastOptions() utils.RetryOptions {
	return utils.RetryOptions{
		MaxElapsedTime:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      3,
	}
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0

	result, err := utils.WithRetry(context.Background(), func() (int, error) {
		calls++
		return 42, nil
	}, fastOptions())

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0

	result, err := utils.WithRetry(context.Background(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}

		return "ok", nil
	}, fastOptions())

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsRetries(t *testing.T) {
	t.Parallel()

	calls := 0

	_, err := utils.WithRetry(context.Background(), func() (int, error) {
		calls++
		return 0, errTransient
	}, fastOptions())

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
}

func TestWithRetryPermanentErrorStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0

	_, err := utils.WithRetry(context.Background(), func() (int, error) {
		calls++
		return 0, backoff.Permanent(errTransient)
	}, fastOptions())

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
