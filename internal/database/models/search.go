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

// SearchModel handles database operations for search topic rows.
type SearchModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSearch creates a new search model.
func NewSearch(db *bun.DB, logger *zap.Logger) *SearchModel {
	return &SearchModel{
		db:     db,
		logger: logger.Named("db_search"),
	}
}

// GetByFolder retrieves all persisted topic rows for one folder. These rows
// are the comparison baseline for the topic snapshot differ.
func (r *SearchModel) GetByFolder(ctx context.Context, folderID int64) ([]*types.Search, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Search, error) {
		var searches []*types.Search

		err := r.db.NewSelect().
			Model(&searches).
			ModelTableExpr("searches").
			Where("folder_id = ?", folderID).
			Order("topic_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get searches for folder: %w", err)
		}

		return searches, nil
	})
}

// Get retrieves one topic row by ID.
func (r *SearchModel) Get(ctx context.Context, topicID int64) (*types.Search, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Search, error) {
		var search types.Search

		err := r.db.NewSelect().
			Model(&search).
			ModelTableExpr("searches").
			Where("topic_id = ?", topicID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil //nolint:nilnil // absence is not an error
			}

			return nil, fmt.Errorf("failed to get search: %w", err)
		}

		return &search, nil
	})
}

// Insert stores a newly discovered topic row.
func (r *SearchModel) Insert(ctx context.Context, search *types.Search) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		search.CreatedAt = time.Now().UTC()

		_, err := r.db.NewInsert().
			Model(search).
			ModelTableExpr("searches").
			On("CONFLICT (topic_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert search: %w", err)
		}

		return nil
	})
}

// Replace deletes the old topic row and inserts the new one in a single
// transaction. Rows are never patched in place: the stored row must match
// one crawled state exactly so the next diff cycle compares against a
// consistent baseline.
func (r *SearchModel) Replace(ctx context.Context, search *types.Search) error {
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*types.Search)(nil)).
			ModelTableExpr("searches").
			Where("topic_id = ?", search.TopicID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete old search row: %w", err)
		}

		search.CreatedAt = time.Now().UTC()

		if _, err := tx.NewInsert().Model(search).ModelTableExpr("searches").Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert replacement search row: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace search: %w", err)
	}

	return nil
}

// GetOpenActivities retrieves the open, non-informational activity tags for
// a topic.
func (r *SearchModel) GetOpenActivities(ctx context.Context, topicID int64) ([]string, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]string, error) {
		var activities []types.SearchActivity

		err := r.db.NewSelect().
			Model(&activities).
			ModelTableExpr("search_activities").
			Where("topic_id = ?", topicID).
			Where("is_open = true").
			Where("activity NOT ILIKE ?", "info%").
			Order("activity ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get activities: %w", err)
		}

		tags := make([]string, 0, len(activities))
		for _, a := range activities {
			tags = append(tags, a.Activity)
		}

		return tags, nil
	})
}

// ReplaceActivities replaces the stored open activity tags for a topic.
// Tags absent from the new set are removed, which is how tasks close.
func (r *SearchModel) ReplaceActivities(ctx context.Context, topicID int64, tags []string) error {
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*types.SearchActivity)(nil)).
			ModelTableExpr("search_activities").
			Where("topic_id = ?", topicID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear activities: %w", err)
		}

		if len(tags) == 0 {
			return nil
		}

		rows := make([]types.SearchActivity, 0, len(tags))
		for _, tag := range tags {
			rows = append(rows, types.SearchActivity{
				TopicID:  topicID,
				Activity: tag,
				IsOpen:   true,
			})
		}

		if _, err := tx.NewInsert().Model(&rows).ModelTableExpr("search_activities").Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert activities: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace activities: %w", err)
	}

	return nil
}

// GetManagers retrieves the most recently recorded manager list for a topic.
func (r *SearchModel) GetManagers(ctx context.Context, topicID int64) ([]string, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]string, error) {
		var managers types.SearchManagers

		err := r.db.NewSelect().
			Model(&managers).
			ModelTableExpr("search_managers").
			Where("topic_id = ?", topicID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}

			return nil, fmt.Errorf("failed to get managers: %w", err)
		}

		return managers.Managers, nil
	})
}

// UpsertManagers replaces the recorded manager list for a topic.
func (r *SearchModel) UpsertManagers(ctx context.Context, topicID int64, managers []string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		row := &types.SearchManagers{
			TopicID:    topicID,
			Managers:   managers,
			RecordedAt: time.Now().UTC(),
		}

		_, err := r.db.NewInsert().
			Model(row).
			ModelTableExpr("search_managers").
			On("CONFLICT (topic_id) DO UPDATE").
			Set("managers = EXCLUDED.managers").
			Set("recorded_at = EXCLUDED.recorded_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert managers: %w", err)
		}

		return nil
	})
}
