package deliver

import (
	"context"
	"time"

	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/searchparty/beacon/internal/messenger"
	"github.com/searchparty/beacon/internal/setup"
	"github.com/searchparty/beacon/internal/setup/config"
	"github.com/searchparty/beacon/internal/worker/core"
	"go.uber.org/zap"
)

// idlePause is how long the worker sleeps when the queue is drained.
const idlePause = 30 * time.Second

// Queue is the durable notification queue the worker drains.
type Queue interface {
	// GetDeliverable returns rows safe to send right now, oldest first.
	GetDeliverable(ctx context.Context, limit int) ([]*types.Notification, error)
	// MarkCompleted records a successful delivery.
	MarkCompleted(ctx context.Context, id int64) error
	// MarkCancelled records a terminal non-delivery with its reason.
	MarkCancelled(ctx context.Context, id int64, reason string) error
	// MarkFailed records a transient failure; the row is retried after a
	// cool-off.
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// UserDirectory records recipient lifecycle transitions reported by the
// messenger API.
type UserDirectory interface {
	SetStatus(ctx context.Context, userID int64, status enum.UserStatus) error
}

// Worker drains the notification queue and sends each row through the
// messaging API. The design assumes a single drainer instance; doubling
// detection in the queue heals redelivered triggers, not concurrent drains.
type Worker struct {
	queue     Queue
	users     UserDirectory
	messenger messenger.Client
	reporter  *core.StatusReporter
	config    *config.Config
	clock     func() time.Time
	logger    *zap.Logger
}

// New creates a delivery worker wired to the application bundle.
func New(app *setup.App, logger *zap.Logger) *Worker {
	w := NewWorker(
		app.DB.Service().Mailing(), app.DB.Model().User(), app.Messenger,
		app.Config, nil, logger)
	w.reporter = core.NewStatusReporter(app.StatusClient, "deliver", logger)

	return w
}

// NewWorker creates a delivery worker from its collaborators. A nil clock
// falls back to wall time.
func NewWorker(
	queue Queue,
	users UserDirectory,
	msgr messenger.Client,
	cfg *config.Config,
	clock func() time.Time,
	logger *zap.Logger,
) *Worker {
	if clock == nil {
		clock = time.Now
	}

	return &Worker{
		queue:     queue,
		users:     users,
		messenger: msgr,
		config:    cfg,
		clock:     clock,
		logger:    logger.Named("deliver_worker"),
	}
}

// Start runs delivery passes until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Delivery worker started", zap.String("workerID", w.reporter.GetWorkerID()))
	w.reporter.Start(ctx)
	defer w.reporter.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.reporter.UpdateStatus("Delivering notifications", 0)

		drained, err := w.RunPass(ctx)
		if err != nil {
			w.logger.Error("Delivery pass failed", zap.Error(err))
			w.reporter.SetHealthy(false)
		} else {
			w.reporter.SetHealthy(true)
		}

		if drained || err != nil {
			w.reporter.UpdateStatus("Waiting for queue", 100)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePause):
			}
		}
	}
}

// RunPass sends one batch of eligible rows, checking the soft wall-clock
// deadline after each send so a single pass never runs unbounded. It returns
// true when the queue is drained.
func (w *Worker) RunPass(ctx context.Context) (bool, error) {
	deadline := w.clock().Add(time.Duration(w.config.Worker.DeliveryDeadline) * time.Second)

	rows, err := w.queue.GetDeliverable(ctx, w.config.Worker.DeliveryBatchSize)
	if err != nil {
		return false, err
	}

	if len(rows) == 0 {
		return true, nil
	}

	for i, row := range rows {
		w.deliverRow(ctx, row)

		// Cooperative deadline check; a later pass resumes from the same
		// durable queue.
		if w.clock().After(deadline) {
			w.logger.Info("Delivery deadline reached",
				zap.Int("sent", i+1),
				zap.Int("remaining", len(rows)-i-1))

			return false, nil
		}
	}

	return len(rows) < w.config.Worker.DeliveryBatchSize, nil
}

// deliverRow sends one queue row and records the outcome. A failed row never
// aborts the pass; every error path only marks that row.
func (w *Worker) deliverRow(ctx context.Context, row *types.Notification) {
	var (
		result enum.DeliveryResult
		err    error
	)

	switch row.Kind {
	case enum.MessageKindLocation:
		result, err = w.messenger.SendLocation(ctx, row.UserID, row.Lat, row.Lon)
	default:
		result, err = w.messenger.SendMessage(ctx, row.UserID, row.Content)
	}

	if err != nil {
		// Retries exhausted on a network failure; the row stays queued and
		// re-enters the drain after its cool-off.
		if markErr := w.queue.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			w.logger.Error("Failed to mark notification failed",
				zap.Int64("id", row.ID), zap.Error(markErr))
		}

		w.logger.Warn("Delivery failed",
			zap.Int64("id", row.ID),
			zap.Int64("userID", row.UserID),
			zap.Error(err))

		return
	}

	if markErr := w.recordResult(ctx, row, result); markErr != nil {
		w.logger.Error("Failed to record delivery result",
			zap.Int64("id", row.ID),
			zap.String("result", result.String()),
			zap.Error(markErr))
	}
}

// recordResult maps the API response classification onto the row's terminal
// state and emits user lifecycle side effects for gone recipients.
func (w *Worker) recordResult(
	ctx context.Context, row *types.Notification, result enum.DeliveryResult,
) error {
	switch result {
	case enum.DeliveryResultCompleted:
		return w.queue.MarkCompleted(ctx, row.ID)

	case enum.DeliveryResultRecipientGone:
		if err := w.users.SetStatus(ctx, row.UserID, enum.UserStatusBlocked); err != nil {
			w.logger.Error("Failed to mark recipient blocked",
				zap.Int64("userID", row.UserID), zap.Error(err))
		}

		w.logger.Info("Recipient gone, notifications disabled",
			zap.Int64("userID", row.UserID))

		return w.queue.MarkCancelled(ctx, row.ID, result.String())

	case enum.DeliveryResultFloodControl:
		// Transient; the row re-enters the drain after its cool-off
		return w.queue.MarkFailed(ctx, row.ID, result.String())

	default:
		return w.queue.MarkCancelled(ctx, row.ID, result.String())
	}
}
