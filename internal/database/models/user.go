package models

import (
	"context"
	"fmt"

	"github.com/searchparty/beacon/internal/database/dbretry"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// UserModel handles database operations for subscribers and their
// notification preferences.
type UserModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewUser creates a new user model.
func NewUser(db *bun.DB, logger *zap.Logger) *UserModel {
	return &UserModel{
		db:     db,
		logger: logger.Named("db_user"),
	}
}

// GetEligible retrieves profiles of users who are not blocked, subscribe to
// the record's change kind (directly or via an all-kinds row), subscribe to
// the topic's folder, and subscribe to the topic's type. This is the first
// narrowing stage of the recipient pipeline; later stages assume this
// population.
func (r *UserModel) GetEligible(
	ctx context.Context, folderID int64, topicType string, kind enum.ChangeKind,
) ([]*types.Profile, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Profile, error) {
		var users []*types.User

		err := r.db.NewSelect().
			Model(&users).
			ModelTableExpr("users AS u").
			Where("u.status = ?", enum.UserStatusActive).
			Where("EXISTS (SELECT 1 FROM user_kind_prefs kp WHERE kp.user_id = u.user_id AND kp.kind IN (?, ?))",
				kind, enum.ChangeKindAll).
			Where("EXISTS (SELECT 1 FROM user_regions reg WHERE reg.user_id = u.user_id AND reg.folder_id = ?)",
				folderID).
			Where("EXISTS (SELECT 1 FROM user_topic_types tt WHERE tt.user_id = u.user_id AND tt.topic_type = ?)",
				topicType).
			Order("u.user_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get eligible users: %w", err)
		}

		profiles := make([]*types.Profile, 0, len(users))
		for _, user := range users {
			profile, err := r.loadProfile(ctx, user)
			if err != nil {
				return nil, err
			}

			profiles = append(profiles, profile)
		}

		return profiles, nil
	})
}

// loadProfile attaches subscription preferences to a user row.
func (r *UserModel) loadProfile(ctx context.Context, user *types.User) (*types.Profile, error) {
	var prefs []types.UserKindPref

	err := r.db.NewSelect().
		Model(&prefs).
		ModelTableExpr("user_kind_prefs").
		Where("user_id = ?", user.UserID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get kind prefs: %w", err)
	}

	kinds := make([]enum.ChangeKind, 0, len(prefs))
	for _, p := range prefs {
		kinds = append(kinds, p.Kind)
	}

	var ageRanges []types.UserAgeRange

	err = r.db.NewSelect().
		Model(&ageRanges).
		ModelTableExpr("user_age_ranges").
		Where("user_id = ?", user.UserID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get age ranges: %w", err)
	}

	var follows []types.UserFollow

	err = r.db.NewSelect().
		Model(&follows).
		ModelTableExpr("user_follows").
		Where("user_id = ?", user.UserID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get follows: %w", err)
	}

	return &types.Profile{
		User:      user,
		Kinds:     kinds,
		AgeRanges: ageRanges,
		Follows:   follows,
	}, nil
}

// CountOpenWhitelisted counts still-active topics the user whitelist-follows,
// excluding the given topic. Used by follow-mode resolution: an active
// whitelist elsewhere re-enables general notifications.
func (r *UserModel) CountOpenWhitelisted(ctx context.Context, userID, excludeTopicID int64) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		count, err := r.db.NewSelect().
			Model((*types.UserFollow)(nil)).
			ModelTableExpr("user_follows AS uf").
			Join("JOIN searches AS s ON s.topic_id = uf.topic_id").
			Where("uf.user_id = ?", userID).
			Where("uf.mark = ?", enum.FollowMarkWhitelist).
			Where("uf.topic_id != ?", excludeTopicID).
			Where("s.status = ?", types.StatusSearching).
			Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count whitelisted topics: %w", err)
		}

		return count, nil
	})
}

// SetStatus updates a user's lifecycle status. Called when the messenger API
// reports the recipient blocked the bot or deactivated their account.
func (r *UserModel) SetStatus(ctx context.Context, userID int64, status enum.UserStatus) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.User)(nil)).
			ModelTableExpr("users").
			Set("status = ?", status).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set user status: %w", err)
		}

		return nil
	})
}

// IncrementTipCount bumps the per-user counter driving the tip footer
// cadence and returns the new value.
func (r *UserModel) IncrementTipCount(ctx context.Context, userID int64) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		var count int

		err := r.db.NewUpdate().
			Model((*types.User)(nil)).
			ModelTableExpr("users").
			Set("tip_count = tip_count + 1").
			Where("user_id = ?", userID).
			Returning("tip_count").
			Scan(ctx, &count)
		if err != nil {
			return 0, fmt.Errorf("failed to increment tip count: %w", err)
		}

		return count, nil
	})
}
