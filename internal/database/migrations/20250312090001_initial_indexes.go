package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Search lookup by folder for topic diffing
			CREATE INDEX IF NOT EXISTS idx_searches_folder
			ON searches (folder_id);

			-- Change log draining order
			CREATE INDEX IF NOT EXISTS idx_change_log_flag_created
			ON change_log (flag, created_at ASC);

			CREATE INDEX IF NOT EXISTS idx_change_log_topic
			ON change_log (topic_id);

			-- Doubling detection scans group by the dedup key
			CREATE INDEX IF NOT EXISTS idx_notif_dedup_key
			ON notif_by_user (change_log_id, user_id, kind);

			-- Delivery worker drains pending rows oldest first
			CREATE INDEX IF NOT EXISTS idx_notif_pending
			ON notif_by_user (created_at ASC)
			WHERE completed_at IS NULL AND cancelled_at IS NULL AND failed_at IS NULL;

			-- Comment notification scans
			CREATE INDEX IF NOT EXISTS idx_search_comments_topic
			ON search_comments (topic_id, position ASC);

			-- Subscription joins
			CREATE INDEX IF NOT EXISTS idx_user_regions_folder
			ON user_regions (folder_id);

			CREATE INDEX IF NOT EXISTS idx_user_follows_topic
			ON user_follows (topic_id);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_searches_folder;
			DROP INDEX IF EXISTS idx_change_log_flag_created;
			DROP INDEX IF EXISTS idx_change_log_topic;
			DROP INDEX IF EXISTS idx_notif_dedup_key;
			DROP INDEX IF EXISTS idx_notif_pending;
			DROP INDEX IF EXISTS idx_search_comments_topic;
			DROP INDEX IF EXISTS idx_user_regions_folder;
			DROP INDEX IF EXISTS idx_user_follows_topic;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
