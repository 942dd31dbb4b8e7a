package types

import (
	"time"

	"github.com/searchparty/beacon/internal/database/types/enum"
)

// User is one notification subscriber. The user ID doubles as the messenger
// chat ID for delivery.
type User struct {
	UserID     int64           `bun:",pk"                    json:"userId"`
	Status     enum.UserStatus `bun:",notnull"               json:"status"`
	FollowMode bool            `bun:",notnull,default:false" json:"followMode"`
	HomeLat    float64         `bun:",nullzero"              json:"homeLat"`
	HomeLon    float64         `bun:",nullzero"              json:"homeLon"`
	RadiusKM   float64         `bun:",nullzero"              json:"radiusKm"`
	TipCount   int             `bun:",notnull,default:0"     json:"tipCount"`
	CreatedAt  time.Time       `bun:",notnull"               json:"createdAt"`
}

// HasHomeCoords reports whether the user declared home coordinates.
func (u *User) HasHomeCoords() bool {
	return u.HomeLat != 0 || u.HomeLon != 0
}

// HasRadius reports whether the user opted into radius filtering.
func (u *User) HasRadius() bool {
	return u.RadiusKM > 0
}

// UserKindPref subscribes a user to one change kind. A row with
// ChangeKindAll subscribes the user to every kind.
type UserKindPref struct {
	UserID int64           `bun:",pk" json:"userId"`
	Kind   enum.ChangeKind `bun:",pk" json:"kind"`
}

// UserRegion subscribes a user to one forum folder.
type UserRegion struct {
	UserID   int64 `bun:",pk" json:"userId"`
	FolderID int64 `bun:",pk" json:"folderId"`
}

// UserTopicType subscribes a user to one topic type.
type UserTopicType struct {
	UserID    int64  `bun:",pk" json:"userId"`
	TopicType string `bun:",pk" json:"topicType"`
}

// UserAgeRange is one declared age subscription range. A user with no rows
// receives notifications for every age.
type UserAgeRange struct {
	UserID int64 `bun:",pk" json:"userId"`
	AgeMin int   `bun:",pk" json:"ageMin"`
	AgeMax int   `bun:",pk" json:"ageMax"`
}

// UserFollow is a per-topic whitelist or blacklist mark.
type UserFollow struct {
	UserID    int64           `bun:",pk"      json:"userId"`
	TopicID   int64           `bun:",pk"      json:"topicId"`
	Mark      enum.FollowMark `bun:",notnull" json:"mark"`
	CreatedAt time.Time       `bun:",notnull" json:"createdAt"`
}

// Profile bundles a user row with all of its subscription preferences for
// the recipient filter pipeline.
type Profile struct {
	User      *User
	Kinds     []enum.ChangeKind
	AgeRanges []UserAgeRange
	Follows   []UserFollow
}

// SubscribedToAll reports whether the user subscribed to every change kind.
func (p *Profile) SubscribedToAll() bool {
	for _, k := range p.Kinds {
		if k == enum.ChangeKindAll {
			return true
		}
	}

	return false
}

// SubscribedTo reports whether the user subscribed to the given change kind,
// either directly or through an all-kinds subscription.
func (p *Profile) SubscribedTo(kind enum.ChangeKind) bool {
	for _, k := range p.Kinds {
		if k == kind || k == enum.ChangeKindAll {
			return true
		}
	}

	return false
}

// FollowMarkFor returns the user's follow mark for a topic, if any.
func (p *Profile) FollowMarkFor(topicID int64) (enum.FollowMark, bool) {
	for _, f := range p.Follows {
		if f.TopicID == topicID {
			return f.Mark, true
		}
	}

	return 0, false
}
