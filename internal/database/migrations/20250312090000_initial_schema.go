package migrations

import (
	"context"
	"fmt"

	"github.com/searchparty/beacon/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		tables := []struct {
			model any
			name  string
		}{
			{(*types.FolderSnapshot)(nil), "folder_snapshots"},
			{(*types.FirstPostSnapshot)(nil), "first_post_snapshots"},
			{(*types.Search)(nil), "searches"},
			{(*types.SearchActivity)(nil), "search_activities"},
			{(*types.SearchManagers)(nil), "search_managers"},
			{(*types.SearchComment)(nil), "search_comments"},
			{(*types.ChangeLog)(nil), "change_log"},
			{(*types.User)(nil), "users"},
			{(*types.UserKindPref)(nil), "user_kind_prefs"},
			{(*types.UserRegion)(nil), "user_regions"},
			{(*types.UserTopicType)(nil), "user_topic_types"},
			{(*types.UserAgeRange)(nil), "user_age_ranges"},
			{(*types.UserFollow)(nil), "user_follows"},
			{(*types.Mailing)(nil), "mailings"},
			{(*types.Notification)(nil), "notif_by_user"},
		}

		for _, table := range tables {
			_, err := db.NewCreateTable().
				Model(table.model).
				ModelTableExpr(table.name).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table %s: %w", table.name, err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		tables := []string{
			"notif_by_user",
			"mailings",
			"user_follows",
			"user_age_ranges",
			"user_topic_types",
			"user_regions",
			"user_kind_prefs",
			"users",
			"change_log",
			"search_comments",
			"search_managers",
			"search_activities",
			"searches",
			"first_post_snapshots",
			"folder_snapshots",
		}

		for _, table := range tables {
			if _, err := db.NewRaw(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)).Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", table, err)
			}
		}

		return nil
	})
}
