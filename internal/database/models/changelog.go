package models

import (
	"context"
	"fmt"
	"time"

	"github.com/searchparty/beacon/internal/database/dbretry"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ChangeLogModel handles database operations for the append-only change log.
type ChangeLogModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewChangeLog creates a new change log model.
func NewChangeLog(db *bun.DB, logger *zap.Logger) *ChangeLogModel {
	return &ChangeLogModel{
		db:     db,
		logger: logger.Named("db_changelog"),
	}
}

// Insert appends one detected change and returns its assigned ID.
func (r *ChangeLogModel) Insert(ctx context.Context, record *types.ChangeLog) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		record.CreatedAt = time.Now().UTC()

		_, err := r.db.NewInsert().
			Model(record).
			ModelTableExpr("change_log").
			Returning("id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert change log record: %w", err)
		}

		return nil
	})
}

// GetPending retrieves unprocessed records oldest first, up to limit.
func (r *ChangeLogModel) GetPending(ctx context.Context, limit int) ([]*types.ChangeLog, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.ChangeLog, error) {
		var records []*types.ChangeLog

		err := r.db.NewSelect().
			Model(&records).
			ModelTableExpr("change_log").
			Where("flag = ?", enum.ProcessingFlagPending).
			Order("created_at ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get pending change log records: %w", err)
		}

		return records, nil
	})
}

// SetFlag updates the processing flag for one record.
func (r *ChangeLogModel) SetFlag(ctx context.Context, id int64, flag enum.ProcessingFlag) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.ChangeLog)(nil)).
			ModelTableExpr("change_log").
			Set("flag = ?", flag).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set change log flag: %w", err)
		}

		return nil
	})
}
