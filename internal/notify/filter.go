package notify

import (
	"context"

	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"go.uber.org/zap"
)

// UserStore supplies subscriber profiles for recipient filtering.
type UserStore interface {
	// GetEligible returns profiles passing the subscription join: active
	// status, matching change kind, folder and topic type.
	GetEligible(ctx context.Context, folderID int64, topicType string, kind enum.ChangeKind) ([]*types.Profile, error)
	// CountOpenWhitelisted counts still-active topics the user
	// whitelist-follows besides the given one.
	CountOpenWhitelisted(ctx context.Context, userID, excludeTopicID int64) (int, error)
}

// DeliveryLog exposes existing queue rows for redelivery suppression.
type DeliveryLog interface {
	GetActiveByChangeLog(ctx context.Context, changeLogID int64) ([]*types.Notification, error)
}

// Pipeline computes the exact recipient set for one enriched record. The
// stages run in a fixed order; later stages assume earlier ones already
// pruned the population.
type Pipeline struct {
	users      UserStore
	deliveries DeliveryLog
	logger     *zap.Logger
}

// NewPipeline creates a recipient filter pipeline.
func NewPipeline(users UserStore, deliveries DeliveryLog, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		users:      users,
		deliveries: deliveries,
		logger:     logger.Named("recipient_filter"),
	}
}

// Recipients runs every filter stage and returns the surviving profiles.
func (p *Pipeline) Recipients(ctx context.Context, rec *EnrichedRecord) ([]*types.Profile, error) {
	kind := rec.Record.Kind

	// Stage 1: eligibility join
	profiles, err := p.users.GetEligible(ctx, rec.Search.FolderID, rec.Search.TopicType, kind)
	if err != nil {
		return nil, err
	}

	if kind == enum.ChangeKindTitleChange {
		profiles = filterTitleChangeOverlap(profiles)
	}

	// Stage 2: inforg double-notify suppression
	if kind == enum.ChangeKindNewInforgComment {
		profiles = filterProfiles(profiles, func(profile *types.Profile) bool {
			return !profile.SubscribedToAll()
		})
	}

	// Stage 3: age filter
	if rec.Search.HasAgeRange() {
		profiles = filterProfiles(profiles, func(profile *types.Profile) bool {
			return PassesAgeFilter(profile.AgeRanges, rec.Search.AgeMin, rec.Search.AgeMax)
		})
	}

	// Stage 4: radius filter
	profiles = filterProfiles(profiles, func(profile *types.Profile) bool {
		return PassesRadiusFilter(profile.User, rec.Search)
	})

	// Stage 5: already-notified suppression
	profiles, err = p.filterAlreadyNotified(ctx, profiles, rec.Record.ID)
	if err != nil {
		return nil, err
	}

	// Stage 6: follow-mode resolution
	profiles, err = p.filterFollowMode(ctx, profiles, rec.Search.TopicID, kind)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Computed recipients",
		zap.Int64("changeLogID", rec.Record.ID),
		zap.Int("count", len(profiles)))

	return profiles, nil
}

// filterTitleChangeOverlap drops users subscribed to inforg comments but
// not explicitly to title changes. Inforg-authored title edits already
// reach them through the inforg stream, and the pair would otherwise arrive
// twice.
func filterTitleChangeOverlap(profiles []*types.Profile) []*types.Profile {
	return filterProfiles(profiles, func(profile *types.Profile) bool {
		subscribesInforg := false
		subscribesTitleExplicitly := false

		for _, k := range profile.Kinds {
			switch k {
			case enum.ChangeKindNewInforgComment:
				subscribesInforg = true
			case enum.ChangeKindTitleChange:
				subscribesTitleExplicitly = true
			}
		}

		return !subscribesInforg || subscribesTitleExplicitly
	})
}

// PassesAgeFilter reports whether a user with the given declared age ranges
// should receive a topic with the given age range. Users with no declared
// ranges always pass; otherwise at least one declared range must overlap.
func PassesAgeFilter(ranges []types.UserAgeRange, ageMin, ageMax int) bool {
	if len(ranges) == 0 {
		return true
	}

	for _, r := range ranges {
		if r.AgeMin <= ageMax && r.AgeMax >= ageMin {
			return true
		}
	}

	return false
}

// PassesRadiusFilter reports whether the user's radius setting admits the
// topic. Radius filtering is opt-in: users missing a radius or home
// coordinates always pass. With exact topic coordinates the single distance
// decides; with only nearby places, any place within radius admits.
func PassesRadiusFilter(user *types.User, search *types.Search) bool {
	if !user.HasRadius() || !user.HasHomeCoords() {
		return true
	}

	if search.HasExactCoords() {
		distance := HaversineKM(user.HomeLat, user.HomeLon, search.Lat, search.Lon)

		return distance <= user.RadiusKM
	}

	if len(search.NearbyPlaces) == 0 {
		return true
	}

	for _, place := range search.NearbyPlaces {
		if HaversineKM(user.HomeLat, user.HomeLon, place.Lat, place.Lon) <= user.RadiusKM {
			return true
		}
	}

	return false
}

// filterAlreadyNotified drops users who already hold a non-cancelled queue
// row for this change log record. This is what tolerates redelivery of the
// same event.
func (p *Pipeline) filterAlreadyNotified(
	ctx context.Context, profiles []*types.Profile, changeLogID int64,
) ([]*types.Profile, error) {
	existing, err := p.deliveries.GetActiveByChangeLog(ctx, changeLogID)
	if err != nil {
		return nil, err
	}

	if len(existing) == 0 {
		return profiles, nil
	}

	notified := make(map[int64]struct{}, len(existing))
	for _, row := range existing {
		notified[row.UserID] = struct{}{}
	}

	return filterProfiles(profiles, func(profile *types.Profile) bool {
		_, seen := notified[profile.User.UserID]

		return !seen
	}), nil
}

// filterFollowMode resolves per-topic whitelist and blacklist marks. A
// blacklist mark on this topic always suppresses. With follow mode enabled
// a user passes only when they whitelisted this topic, the event is a
// status change, or they actively whitelist-follow some other still-open
// topic, which re-enables general notifications as a convenience.
func (p *Pipeline) filterFollowMode(
	ctx context.Context, profiles []*types.Profile, topicID int64, kind enum.ChangeKind,
) ([]*types.Profile, error) {
	var kept []*types.Profile

	for _, profile := range profiles {
		mark, marked := profile.FollowMarkFor(topicID)
		if marked && mark == enum.FollowMarkBlacklist {
			continue
		}

		if !profile.User.FollowMode {
			kept = append(kept, profile)
			continue
		}

		if marked && mark == enum.FollowMarkWhitelist {
			kept = append(kept, profile)
			continue
		}

		if kind == enum.ChangeKindStatusChange {
			kept = append(kept, profile)
			continue
		}

		count, err := p.users.CountOpenWhitelisted(ctx, profile.User.UserID, topicID)
		if err != nil {
			return nil, err
		}

		if count > 0 {
			kept = append(kept, profile)
		}
	}

	return kept, nil
}

func filterProfiles(profiles []*types.Profile, keep func(*types.Profile) bool) []*types.Profile {
	kept := profiles[:0:0]

	for _, profile := range profiles {
		if keep(profile) {
			kept = append(kept, profile)
		}
	}

	return kept
}
