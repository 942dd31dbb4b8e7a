package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/searchparty/beacon/internal/database/models"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// RetryCooloff is how long a failed row waits before the drain offers it
// again. All recorded failures are transient (network faults, flood
// control); the pause keeps a flapping recipient from being retried on
// every pass.
const RetryCooloff = 5 * time.Minute

// MailingService owns campaign creation and the doubling-aware delivery
// queue on top of the notification model.
type MailingService struct {
	db           *bun.DB
	notification *models.NotificationModel
	logger       *zap.Logger
}

// NewMailing creates a new mailing service.
func NewMailing(db *bun.DB, notification *models.NotificationModel, logger *zap.Logger) *MailingService {
	return &MailingService{
		db:           db,
		notification: notification,
		logger:       logger.Named("mailing"),
	}
}

// dedupKey identifies one delivery slot. At most one active queue row may
// hold a slot at a time.
type dedupKey struct {
	changeLogID int64
	userID      int64
	kind        enum.MessageKind
}

// Enqueue creates the campaign row for a change log record and inserts one
// queue row per composed message.
func (s *MailingService) Enqueue(
	ctx context.Context, record *types.ChangeLog, rows []*types.Notification,
) (*types.Mailing, error) {
	mailing := &types.Mailing{
		ChangeLogID: record.ID,
		TopicID:     record.TopicID,
	}

	if err := s.notification.InsertMailing(ctx, mailing); err != nil {
		return nil, fmt.Errorf("failed to create mailing: %w", err)
	}

	for _, row := range rows {
		row.MailingID = mailing.ID
		row.ChangeLogID = record.ID
	}

	if err := s.notification.InsertBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to enqueue notifications: %w", err)
	}

	s.logger.Info("Enqueued mailing",
		zap.Int64("mailingID", mailing.ID),
		zap.Int64("changeLogID", record.ID),
		zap.Int("notifications", len(rows)))

	return mailing, nil
}

// GetDeliverable returns queue rows safe to send right now, oldest first.
// Keys holding more than one active row are split: the earliest row survives
// for the next pass and the rest are cancelled, so redelivered triggers heal
// without explicit locking. Failed rows still inside their cool-off are
// held back but keep their delivery slot.
func (s *MailingService) GetDeliverable(ctx context.Context, limit int) ([]*types.Notification, error) {
	rows, err := s.notification.GetUndelivered(ctx, limit)
	if err != nil {
		return nil, err
	}

	eligible, doubled := SplitDoubles(rows)

	for _, row := range doubled {
		if err := s.notification.MarkCancelled(ctx, row.ID, "doubling"); err != nil {
			return nil, fmt.Errorf("failed to cancel doubled notification: %w", err)
		}

		s.logger.Warn("Cancelled doubled notification",
			zap.Int64("id", row.ID),
			zap.Int64("changeLogID", row.ChangeLogID),
			zap.Int64("userID", row.UserID))
	}

	now := time.Now().UTC()

	deliverable := make([]*types.Notification, 0, len(eligible))
	for _, row := range eligible {
		if RetryEligible(row, now) {
			deliverable = append(deliverable, row)
		}
	}

	return deliverable, nil
}

// RetryEligible reports whether a queue row may be sent now. Rows that never
// failed are always eligible; failed rows wait out the cool-off first.
func RetryEligible(row *types.Notification, now time.Time) bool {
	if row.FailedAt == nil {
		return true
	}

	return now.Sub(*row.FailedAt) >= RetryCooloff
}

// MarkCompleted records a successful delivery for a queue row.
func (s *MailingService) MarkCompleted(ctx context.Context, id int64) error {
	return s.notification.MarkCompleted(ctx, id)
}

// MarkCancelled records a terminal non-delivery for a queue row.
func (s *MailingService) MarkCancelled(ctx context.Context, id int64, reason string) error {
	return s.notification.MarkCancelled(ctx, id, reason)
}

// MarkFailed records a transient delivery failure for a queue row.
func (s *MailingService) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.notification.MarkFailed(ctx, id, reason)
}

// SplitDoubles partitions undelivered rows by dedup key. Keys with exactly
// one active row are eligible for delivery. For keys with more, every row
// after the earliest is returned for cancellation; the earliest itself is
// withheld until a later pass observes it alone.
func SplitDoubles(rows []*types.Notification) (eligible, cancel []*types.Notification) {
	byKey := make(map[dedupKey][]*types.Notification)

	for _, row := range rows {
		key := dedupKey{row.ChangeLogID, row.UserID, row.Kind}
		byKey[key] = append(byKey[key], row)
	}

	for _, group := range byKey {
		if len(group) == 1 {
			eligible = append(eligible, group[0])
			continue
		}

		sort.Slice(group, func(i, j int) bool {
			if group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].ID < group[j].ID
			}

			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})

		cancel = append(cancel, group[1:]...)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}

		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	return eligible, cancel
}
