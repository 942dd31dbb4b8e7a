package types

import (
	"time"

	"github.com/searchparty/beacon/internal/database/types/enum"
)

// StatusSearching is the only non-terminal topic status. Every other status
// value means the case is resolved or stopped.
const StatusSearching = "Searching"

// Coordinates is a single geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Search represents one forum topic: a single search-and-rescue case.
//
// A row is replaced (deleted and re-inserted), never patched, whenever any
// of status, title or reply count differs from the crawled state. The stored
// row is the comparison baseline for the next diff cycle, so partial updates
// would corrupt subsequent change detection.
type Search struct {
	TopicID      int64          `bun:",pk"          json:"topicId"`
	FolderID     int64          `bun:",notnull"     json:"folderId"`
	Title        string         `bun:",notnull"     json:"title"`
	Status       string         `bun:",notnull"     json:"status"`
	ReplyCount   int            `bun:",notnull"     json:"replyCount"`
	StartTime    time.Time      `bun:",notnull"     json:"startTime"`
	TopicType    string         `bun:",notnull"     json:"topicType"`
	DisplayName  string         `bun:",notnull"     json:"displayName"`
	AgeMin       int            `bun:",nullzero"    json:"ageMin"`
	AgeMax       int            `bun:",nullzero"    json:"ageMax"`
	Lat          float64        `bun:",nullzero"    json:"lat"`
	Lon          float64        `bun:",nullzero"    json:"lon"`
	CoordKind    enum.CoordKind `bun:",notnull"     json:"coordKind"`
	NearbyPlaces []Coordinates  `bun:",type:jsonb"  json:"nearbyPlaces"`
	CreatedAt    time.Time      `bun:",notnull"     json:"createdAt"`
}

// HasAgeRange reports whether the topic carries a usable age range.
func (s *Search) HasAgeRange() bool {
	return s.AgeMax > 0 || s.AgeMin > 0
}

// HasExactCoords reports whether the topic has coordinates usable for
// distance filtering and location messages.
func (s *Search) HasExactCoords() bool {
	return s.CoordKind.Usable() && (s.Lat != 0 || s.Lon != 0)
}

// IsActive reports whether the case is still being worked.
func (s *Search) IsActive() bool {
	return s.Status == StatusSearching
}

// SearchActivity is one activity tag attached to a topic, such as a planned
// on-site deployment. Closed and informational tags are excluded from
// notifications.
type SearchActivity struct {
	TopicID  int64  `bun:",pk"      json:"topicId"`
	Activity string `bun:",pk"      json:"activity"`
	IsOpen   bool   `bun:",notnull" json:"isOpen"`
}

// SearchManagers is the most recent manager list recorded for a topic.
type SearchManagers struct {
	TopicID    int64     `bun:",pk"         json:"topicId"`
	Managers   []string  `bun:",type:jsonb" json:"managers"`
	RecordedAt time.Time `bun:",notnull"    json:"recordedAt"`
}

// SearchComment is one forum reply captured for notification rendering.
// Notified and InforgNotified track the two comment notification streams
// independently because they are separate change log records.
type SearchComment struct {
	TopicID        int64  `bun:",pk"      json:"topicId"`
	Position       int    `bun:",pk"      json:"position"`
	Author         string `bun:",notnull" json:"author"`
	AuthorID       int64  `bun:",notnull" json:"authorId"`
	Text           string `bun:",notnull" json:"text"`
	URL            string `bun:",notnull" json:"url"`
	IsInforg       bool   `bun:",notnull,default:false" json:"isInforg"`
	Notified       bool   `bun:",notnull,default:false" json:"notified"`
	InforgNotified bool   `bun:",notnull,default:false" json:"inforgNotified"`
}
