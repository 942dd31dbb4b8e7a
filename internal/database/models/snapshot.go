package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/searchparty/beacon/internal/database/dbretry"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// SnapshotModel handles database operations for crawl snapshots.
type SnapshotModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSnapshot creates a new snapshot model.
func NewSnapshot(db *bun.DB, logger *zap.Logger) *SnapshotModel {
	return &SnapshotModel{
		db:     db,
		logger: logger.Named("db_snapshot"),
	}
}

// GetFolderSnapshot retrieves the previous crawl payload for a folder.
// Returns an empty string when the folder has never been crawled.
func (r *SnapshotModel) GetFolderSnapshot(ctx context.Context, folderID int64) (string, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (string, error) {
		var snapshot types.FolderSnapshot

		err := r.db.NewSelect().
			Model(&snapshot).
			ModelTableExpr("folder_snapshots").
			Where("folder_id = ?", folderID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", nil
			}

			return "", fmt.Errorf("failed to get folder snapshot: %w", err)
		}

		return snapshot.Payload, nil
	})
}

// UpsertFolderSnapshot replaces the stored payload for a folder.
func (r *SnapshotModel) UpsertFolderSnapshot(ctx context.Context, folderID int64, payload string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		snapshot := &types.FolderSnapshot{
			FolderID:  folderID,
			Payload:   payload,
			UpdatedAt: time.Now().UTC(),
		}

		_, err := r.db.NewInsert().
			Model(snapshot).
			ModelTableExpr("folder_snapshots").
			On("CONFLICT (folder_id) DO UPDATE").
			Set("payload = EXCLUDED.payload").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert folder snapshot: %w", err)
		}

		return nil
	})
}

// GetFirstPostSnapshot retrieves the last-seen first post for a topic.
func (r *SnapshotModel) GetFirstPostSnapshot(ctx context.Context, topicID int64) (*types.FirstPostSnapshot, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.FirstPostSnapshot, error) {
		var snapshot types.FirstPostSnapshot

		err := r.db.NewSelect().
			Model(&snapshot).
			ModelTableExpr("first_post_snapshots").
			Where("topic_id = ?", topicID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil //nolint:nilnil // absence is not an error
			}

			return nil, fmt.Errorf("failed to get first post snapshot: %w", err)
		}

		return &snapshot, nil
	})
}

// UpsertFirstPostSnapshot replaces the stored first post for a topic.
func (r *SnapshotModel) UpsertFirstPostSnapshot(ctx context.Context, snapshot *types.FirstPostSnapshot) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		snapshot.UpdatedAt = time.Now().UTC()

		_, err := r.db.NewInsert().
			Model(snapshot).
			ModelTableExpr("first_post_snapshots").
			On("CONFLICT (topic_id) DO UPDATE").
			Set("content = EXCLUDED.content").
			Set("lat = EXCLUDED.lat").
			Set("lon = EXCLUDED.lon").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert first post snapshot: %w", err)
		}

		return nil
	})
}
