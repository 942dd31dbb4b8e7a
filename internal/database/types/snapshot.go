package types

import (
	"time"
)

// FolderSnapshot stores the serialized child listing of one forum folder as
// observed by the previous crawl cycle. Each crawl replaces the payload
// wholesale; there is no history.
type FolderSnapshot struct {
	FolderID  int64     `bun:",pk"      json:"folderId"`
	Payload   string    `bun:",notnull" json:"payload"`
	UpdatedAt time.Time `bun:",notnull" json:"updatedAt"`
}

// FirstPostSnapshot stores the last-seen first post of a topic so edits can
// be diffed into additions and deletions on the next cycle.
type FirstPostSnapshot struct {
	TopicID   int64     `bun:",pk"       json:"topicId"`
	Content   string    `bun:",notnull"  json:"content"`
	Lat       float64   `bun:",nullzero" json:"lat"`
	Lon       float64   `bun:",nullzero" json:"lon"`
	UpdatedAt time.Time `bun:",notnull"  json:"updatedAt"`
}
