package types

import (
	"time"

	"github.com/searchparty/beacon/internal/database/types/enum"
)

// Mailing groups every notification produced for one change log record. It
// exists for observability and statistics, not for delivery ordering.
type Mailing struct {
	ID          int64     `bun:",pk,autoincrement" json:"id"`
	ChangeLogID int64     `bun:",notnull"          json:"changeLogId"`
	TopicID     int64     `bun:",notnull"          json:"topicId"`
	CreatedAt   time.Time `bun:",notnull"          json:"createdAt"`
}

// Notification is one queued delivery to one user. The dedup key is
// (change_log_id, user_id, kind): at most one active (non-cancelled) row may
// exist per key, enforced by doubling detection rather than a unique
// constraint so that redelivered triggers can be tolerated.
type Notification struct {
	ID          int64            `bun:",pk,autoincrement" json:"id"`
	MailingID   int64            `bun:",notnull"          json:"mailingId"`
	UserID      int64            `bun:",notnull"          json:"userId"`
	ChangeLogID int64            `bun:",notnull"          json:"changeLogId"`
	Kind        enum.MessageKind `bun:",notnull"          json:"kind"`
	Content     string           `bun:",notnull"          json:"content"`
	Lat         float64          `bun:",nullzero"         json:"lat"`
	Lon         float64          `bun:",nullzero"         json:"lon"`
	CreatedAt   time.Time        `bun:",notnull"          json:"createdAt"`
	CompletedAt *time.Time       `bun:",nullzero"         json:"completedAt"`
	CancelledAt *time.Time       `bun:",nullzero"         json:"cancelledAt"`
	FailedAt    *time.Time       `bun:",nullzero"         json:"failedAt"`
	FailReason  string           `bun:",nullzero"         json:"failReason"`
}
