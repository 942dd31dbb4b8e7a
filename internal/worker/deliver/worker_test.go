package deliver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/searchparty/beacon/internal/setup/config"
	"github.com/searchparty/beacon/internal/worker/deliver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueue struct {
	rows      []*types.Notification
	completed []int64
	cancelled map[int64]string
	failed    map[int64]string
}

func newFakeQueue(rows ...*types.Notification) *fakeQueue {
	return &fakeQueue{
		rows:      rows,
		cancelled: make(map[int64]string),
		failed:    make(map[int64]string),
	}
}

func (q *fakeQueue) GetDeliverable(_ context.Context, limit int) ([]*types.Notification, error) {
	if len(q.rows) > limit {
		return q.rows[:limit], nil
	}

	return q.rows, nil
}

func (q *fakeQueue) MarkCompleted(_ context.Context, id int64) error {
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) MarkCancelled(_ context.Context, id int64, reason string) error {
	q.cancelled[id] = reason
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id int64, reason string) error {
	q.failed[id] = reason
	return nil
}

type fakeUsers struct {
	statuses map[int64]enum.UserStatus
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{statuses: make(map[int64]enum.UserStatus)}
}

func (u *fakeUsers) SetStatus(_ context.Context, userID int64, status enum.UserStatus) error {
	u.statuses[userID] = status
	return nil
}

type sentLocation struct {
	userID   int64
	lat, lon float64
}

type fakeMessenger struct {
	results   map[int64]enum.DeliveryResult
	errs      map[int64]error
	messages  map[int64]string
	locations []sentLocation
	sends     int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		results:  make(map[int64]enum.DeliveryResult),
		errs:     make(map[int64]error),
		messages: make(map[int64]string),
	}
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) (enum.DeliveryResult, error) {
	m.sends++

	if err := m.errs[chatID]; err != nil {
		return enum.DeliveryResultUnknown, err
	}

	m.messages[chatID] = text

	return m.results[chatID], nil
}

func (m *fakeMessenger) SendLocation(_ context.Context, chatID int64, lat, lon float64) (enum.DeliveryResult, error) {
	m.sends++

	if err := m.errs[chatID]; err != nil {
		return enum.DeliveryResultUnknown, err
	}

	m.locations = append(m.locations, sentLocation{chatID, lat, lon})

	return m.results[chatID], nil
}

func deliverConfig(batchSize, deadlineSeconds int) *config.Config {
	return &config.Config{Worker: config.WorkerConfig{
		DeliveryBatchSize: batchSize,
		DeliveryDeadline:  deadlineSeconds,
	}}
}

// steppingClock returns a clock that advances by step on every reading.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	now := start

	return func() time.Time {
		current := now
		now = now.Add(step)

		return current
	}
}

func queuedText(id, userID int64, content string) *types.Notification {
	return &types.Notification{ID: id, UserID: userID, Kind: enum.MessageKindText, Content: content}
}

func TestRunPassCompletedDelivery(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue(queuedText(1, 10, "Новая тема: Иванов Пётр"))
	msgr := newFakeMessenger()
	worker := deliver.NewWorker(queue, newFakeUsers(), msgr, deliverConfig(10, 60), nil, zap.NewNop())

	drained, err := worker.RunPass(context.Background())
	require.NoError(t, err)
	assert.True(t, drained)

	assert.Equal(t, "Новая тема: Иванов Пётр", msgr.messages[10])
	assert.Equal(t, []int64{1}, queue.completed)
	assert.Empty(t, queue.cancelled)
	assert.Empty(t, queue.failed)
}

func TestRunPassLocationRow(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue(&types.Notification{
		ID: 2, UserID: 10, Kind: enum.MessageKindLocation, Lat: 56.32, Lon: 44.0,
	})
	msgr := newFakeMessenger()
	worker := deliver.NewWorker(queue, newFakeUsers(), msgr, deliverConfig(10, 60), nil, zap.NewNop())

	_, err := worker.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, msgr.locations, 1)
	assert.Equal(t, sentLocation{10, 56.32, 44.0}, msgr.locations[0])
	assert.Empty(t, msgr.messages)
	assert.Equal(t, []int64{2}, queue.completed)
}

func TestRunPassRecipientGone(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue(queuedText(3, 11, "msg"))
	users := newFakeUsers()
	msgr := newFakeMessenger()
	msgr.results[11] = enum.DeliveryResultRecipientGone

	worker := deliver.NewWorker(queue, users, msgr, deliverConfig(10, 60), nil, zap.NewNop())

	_, err := worker.RunPass(context.Background())
	require.NoError(t, err)

	// The recipient stops receiving anything further and the row closes
	assert.Equal(t, enum.UserStatusBlocked, users.statuses[11])
	assert.Equal(t, "cancelled_recipient_gone", queue.cancelled[3])
	assert.Empty(t, queue.completed)
	assert.Empty(t, queue.failed)
}

func TestRunPassFloodControlRetriesLater(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue(queuedText(4, 12, "msg"))
	msgr := newFakeMessenger()
	msgr.results[12] = enum.DeliveryResultFloodControl

	worker := deliver.NewWorker(queue, newFakeUsers(), msgr, deliverConfig(10, 60), nil, zap.NewNop())

	_, err := worker.RunPass(context.Background())
	require.NoError(t, err)

	// Transient rejection keeps the row retryable instead of closing it
	assert.Equal(t, "failed_flood_control", queue.failed[4])
	assert.Empty(t, queue.completed)
	assert.Empty(t, queue.cancelled)
}

func TestRunPassBadRequestCancelled(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue(queuedText(5, 13, "msg"))
	msgr := newFakeMessenger()
	msgr.results[13] = enum.DeliveryResultBadRequest

	worker := deliver.NewWorker(queue, newFakeUsers(), msgr, deliverConfig(10, 60), nil, zap.NewNop())

	_, err := worker.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cancelled_bad_request", queue.cancelled[5])
	assert.Empty(t, queue.failed)
}

func TestRunPassTransportErrorMarksFailedAndContinues(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue(
		queuedText(6, 14, "first"),
		queuedText(7, 15, "second"),
	)
	msgr := newFakeMessenger()
	msgr.errs[14] = errors.New("connection reset")

	worker := deliver.NewWorker(queue, newFakeUsers(), msgr, deliverConfig(10, 60), nil, zap.NewNop())

	drained, err := worker.RunPass(context.Background())
	require.NoError(t, err)
	assert.True(t, drained)

	// The broken row is parked for a later pass; the rest still sends
	assert.Equal(t, "connection reset", queue.failed[6])
	assert.Equal(t, []int64{7}, queue.completed)
	assert.Equal(t, "second", msgr.messages[15])
}

func TestRunPassStopsAtDeadline(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue(
		queuedText(8, 16, "a"),
		queuedText(9, 17, "b"),
		queuedText(10, 18, "c"),
	)
	msgr := newFakeMessenger()

	start := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := steppingClock(start, 2*time.Second)

	worker := deliver.NewWorker(queue, newFakeUsers(), msgr, deliverConfig(10, 1), clock, zap.NewNop())

	drained, err := worker.RunPass(context.Background())
	require.NoError(t, err)

	// One send per pass with this clock; the rest stays queued for the next
	// pass rather than running unbounded.
	assert.False(t, drained)
	assert.Equal(t, 1, msgr.sends)
	assert.Equal(t, []int64{8}, queue.completed)
}

func TestRunPassDrainSignalling(t *testing.T) {
	t.Parallel()

	t.Run("empty queue is drained", func(t *testing.T) {
		t.Parallel()

		worker := deliver.NewWorker(
			newFakeQueue(), newFakeUsers(), newFakeMessenger(),
			deliverConfig(2, 60), nil, zap.NewNop())

		drained, err := worker.RunPass(context.Background())
		require.NoError(t, err)
		assert.True(t, drained)
	})

	t.Run("full batch means more may be waiting", func(t *testing.T) {
		t.Parallel()

		worker := deliver.NewWorker(
			newFakeQueue(queuedText(1, 10, "a"), queuedText(2, 11, "b")),
			newFakeUsers(), newFakeMessenger(),
			deliverConfig(2, 60), nil, zap.NewNop())

		drained, err := worker.RunPass(context.Background())
		require.NoError(t, err)
		assert.False(t, drained)
	})

	t.Run("partial batch is drained", func(t *testing.T) {
		t.Parallel()

		worker := deliver.NewWorker(
			newFakeQueue(queuedText(1, 10, "a")),
			newFakeUsers(), newFakeMessenger(),
			deliverConfig(2, 60), nil, zap.NewNop())

		drained, err := worker.RunPass(context.Background())
		require.NoError(t, err)
		assert.True(t, drained)
	})
}
