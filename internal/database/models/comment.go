package models

import (
	"context"
	"fmt"

	"github.com/searchparty/beacon/internal/database/dbretry"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// CommentModel handles database operations for captured forum replies.
type CommentModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewComment creates a new comment model.
func NewComment(db *bun.DB, logger *zap.Logger) *CommentModel {
	return &CommentModel{
		db:     db,
		logger: logger.Named("db_comment"),
	}
}

// Upsert stores a captured reply, preserving notification flags on conflict.
func (r *CommentModel) Upsert(ctx context.Context, comment *types.SearchComment) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(comment).
			ModelTableExpr("search_comments").
			On("CONFLICT (topic_id, position) DO UPDATE").
			Set("author = EXCLUDED.author").
			Set("author_id = EXCLUDED.author_id").
			Set("text = EXCLUDED.text").
			Set("url = EXCLUDED.url").
			Set("is_inforg = EXCLUDED.is_inforg").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert comment: %w", err)
		}

		return nil
	})
}

// GetUnnotified retrieves replies not yet included in a general comment
// notification for the topic.
func (r *CommentModel) GetUnnotified(ctx context.Context, topicID int64) ([]*types.SearchComment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.SearchComment, error) {
		var comments []*types.SearchComment

		err := r.db.NewSelect().
			Model(&comments).
			ModelTableExpr("search_comments").
			Where("topic_id = ?", topicID).
			Where("notified = false").
			Order("position ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get unnotified comments: %w", err)
		}

		return comments, nil
	})
}

// GetUnnotifiedInforg retrieves inforg-authored replies not yet included in
// an inforg comment notification for the topic.
func (r *CommentModel) GetUnnotifiedInforg(ctx context.Context, topicID int64) ([]*types.SearchComment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.SearchComment, error) {
		var comments []*types.SearchComment

		err := r.db.NewSelect().
			Model(&comments).
			ModelTableExpr("search_comments").
			Where("topic_id = ?", topicID).
			Where("is_inforg = true").
			Where("inforg_notified = false").
			Order("position ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get unnotified inforg comments: %w", err)
		}

		return comments, nil
	})
}

// MarkNotified flags the topic's replies as included in a general comment
// notification.
func (r *CommentModel) MarkNotified(ctx context.Context, topicID int64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.SearchComment)(nil)).
			ModelTableExpr("search_comments").
			Set("notified = true").
			Where("topic_id = ?", topicID).
			Where("notified = false").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark comments notified: %w", err)
		}

		return nil
	})
}

// MarkInforgNotified flags the topic's inforg replies as included in an
// inforg comment notification.
func (r *CommentModel) MarkInforgNotified(ctx context.Context, topicID int64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.SearchComment)(nil)).
			ModelTableExpr("search_comments").
			Set("inforg_notified = true").
			Where("topic_id = ?", topicID).
			Where("is_inforg = true").
			Where("inforg_notified = false").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark inforg comments notified: %w", err)
		}

		return nil
	})
}
