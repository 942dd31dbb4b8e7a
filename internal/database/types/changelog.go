package types

import (
	"time"

	"github.com/searchparty/beacon/internal/database/types/enum"
)

// ChangeLog is one detected change on a search topic. Exactly one row exists
// per physically detected change; redelivered crawl triggers are absorbed by
// re-running the diff against the same prior snapshot rather than by
// record-level locking.
type ChangeLog struct {
	ID        int64               `bun:",pk,autoincrement" json:"id"`
	TopicID   int64               `bun:",notnull"          json:"topicId"`
	Kind      enum.ChangeKind     `bun:",notnull"          json:"kind"`
	Payload   string              `bun:",notnull"          json:"payload"`
	CreatedAt time.Time           `bun:",notnull"          json:"createdAt"`
	Flag      enum.ProcessingFlag `bun:",notnull"          json:"flag"`
}

// FirstPostDiff is the payload of a first post change record.
type FirstPostDiff struct {
	Additions []string `json:"additions"`
	Deletions []string `json:"deletions"`
	OldLat    float64  `json:"oldLat"`
	OldLon    float64  `json:"oldLon"`
	NewLat    float64  `json:"newLat"`
	NewLon    float64  `json:"newLon"`
}
