package models

import (
	"context"
	"fmt"
	"time"

	"github.com/searchparty/beacon/internal/database/dbretry"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// NotificationModel handles database operations for the durable mailing
// queue.
type NotificationModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewNotification creates a new notification model.
func NewNotification(db *bun.DB, logger *zap.Logger) *NotificationModel {
	return &NotificationModel{
		db:     db,
		logger: logger.Named("db_notification"),
	}
}

// InsertMailing creates the campaign row grouping all notifications for one
// change log record and returns its assigned ID.
func (r *NotificationModel) InsertMailing(ctx context.Context, mailing *types.Mailing) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		mailing.CreatedAt = time.Now().UTC()

		_, err := r.db.NewInsert().
			Model(mailing).
			ModelTableExpr("mailings").
			Returning("id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert mailing: %w", err)
		}

		return nil
	})
}

// InsertBatch enqueues a batch of notifications.
func (r *NotificationModel) InsertBatch(ctx context.Context, rows []*types.Notification) error {
	if len(rows) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		for _, row := range rows {
			row.CreatedAt = now
		}

		_, err := r.db.NewInsert().
			Model(&rows).
			ModelTableExpr("notif_by_user").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert notifications: %w", err)
		}

		return nil
	})
}

// GetActiveByChangeLog retrieves non-cancelled rows for one change log
// record. Used by the already-notified filter stage to absorb redelivered
// triggers.
func (r *NotificationModel) GetActiveByChangeLog(ctx context.Context, changeLogID int64) ([]*types.Notification, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Notification, error) {
		var rows []*types.Notification

		err := r.db.NewSelect().
			Model(&rows).
			ModelTableExpr("notif_by_user").
			Where("change_log_id = ?", changeLogID).
			Where("cancelled_at IS NULL").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get notifications for change log: %w", err)
		}

		return rows, nil
	})
}

// GetUndelivered retrieves rows awaiting delivery oldest first, up to limit.
// Previously failed rows are included; the mailing service decides when they
// may be retried. Doubling resolution also happens there.
func (r *NotificationModel) GetUndelivered(ctx context.Context, limit int) ([]*types.Notification, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Notification, error) {
		var rows []*types.Notification

		err := r.db.NewSelect().
			Model(&rows).
			ModelTableExpr("notif_by_user").
			Where("completed_at IS NULL").
			Where("cancelled_at IS NULL").
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get undelivered notifications: %w", err)
		}

		return rows, nil
	})
}

// MarkCompleted records a successful delivery.
func (r *NotificationModel) MarkCompleted(ctx context.Context, id int64) error {
	return r.markTimestamp(ctx, id, "completed_at", "")
}

// MarkCancelled records a terminal non-delivery with its reason.
func (r *NotificationModel) MarkCancelled(ctx context.Context, id int64, reason string) error {
	return r.markTimestamp(ctx, id, "cancelled_at", reason)
}

// MarkFailed records a transient failure. The row re-enters the drain after
// the mailing service's cool-off elapses.
func (r *NotificationModel) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.markTimestamp(ctx, id, "failed_at", reason)
}

func (r *NotificationModel) markTimestamp(ctx context.Context, id int64, column, reason string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		query := r.db.NewUpdate().
			Model((*types.Notification)(nil)).
			ModelTableExpr("notif_by_user").
			Set(column+" = ?", time.Now().UTC()).
			Where("id = ?", id)

		if reason != "" {
			query = query.Set("fail_reason = ?", reason)
		}

		_, err := query.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark notification %s: %w", column, err)
		}

		return nil
	})
}
