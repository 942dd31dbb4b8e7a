package notify

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"go.uber.org/zap"
)

// ErrTopicMissing means the change log record references a topic row that no
// longer exists. The caller logs it and leaves the record pending.
var ErrTopicMissing = errors.New("topic row missing for change log record")

const (
	// maxCommentLength bounds rendered comment bodies.
	maxCommentLength = 3500

	// reservedPlaceholder is the text inforg accounts post to hold a reply
	// slot before the real update. Placeholders carry no information and
	// are excluded from inforg notifications.
	reservedPlaceholder = "резерв"
)

// TopicReader supplies current topic attributes for enrichment.
type TopicReader interface {
	// Get returns the topic row, or nil when it does not exist.
	Get(ctx context.Context, topicID int64) (*types.Search, error)
	// GetOpenActivities returns open, non-informational activity tags.
	GetOpenActivities(ctx context.Context, topicID int64) ([]string, error)
	// GetManagers returns the most recently recorded manager list.
	GetManagers(ctx context.Context, topicID int64) ([]string, error)
}

// CommentReader supplies unnotified replies for comment-type records.
type CommentReader interface {
	GetUnnotified(ctx context.Context, topicID int64) ([]*types.SearchComment, error)
	GetUnnotifiedInforg(ctx context.Context, topicID int64) ([]*types.SearchComment, error)
}

// EnrichedRecord joins auxiliary context onto a change log record for
// filtering and rendering. Every field is derived and re-computable; the
// change log row stays the source of truth.
type EnrichedRecord struct {
	Record     *types.ChangeLog
	Search     *types.Search
	Activities []string
	Managers   []string
	Comments   []*types.SearchComment
}

// Enricher performs the idempotent read-only join stage.
type Enricher struct {
	topics   TopicReader
	comments CommentReader
	logger   *zap.Logger
}

// NewEnricher creates an enricher.
func NewEnricher(topics TopicReader, comments CommentReader, logger *zap.Logger) *Enricher {
	return &Enricher{
		topics:   topics,
		comments: comments,
		logger:   logger.Named("enricher"),
	}
}

// Enrich joins the topic's current attributes, open activities, managers
// and unnotified comments onto a record. Safe to re-run; it never mutates
// stored state.
func (e *Enricher) Enrich(ctx context.Context, record *types.ChangeLog) (*EnrichedRecord, error) {
	search, err := e.topics.Get(ctx, record.TopicID)
	if err != nil {
		return nil, err
	}

	if search == nil {
		return nil, ErrTopicMissing
	}

	enriched := &EnrichedRecord{
		Record: record,
		Search: search,
	}

	enriched.Activities, err = e.topics.GetOpenActivities(ctx, record.TopicID)
	if err != nil {
		return nil, err
	}

	// Manager lists only render on new-topic notifications
	if record.Kind == enum.ChangeKindNewTopic {
		enriched.Managers, err = e.topics.GetManagers(ctx, record.TopicID)
		if err != nil {
			return nil, err
		}
	}

	switch record.Kind {
	case enum.ChangeKindNewComments:
		comments, err := e.comments.GetUnnotified(ctx, record.TopicID)
		if err != nil {
			return nil, err
		}

		enriched.Comments = sanitizeComments(comments)
	case enum.ChangeKindNewInforgComment:
		comments, err := e.comments.GetUnnotifiedInforg(ctx, record.TopicID)
		if err != nil {
			return nil, err
		}

		enriched.Comments = sanitizeComments(dropPlaceholders(comments))
	}

	return enriched, nil
}

// sanitizeComments makes fetched replies safe for downstream rendering.
func sanitizeComments(comments []*types.SearchComment) []*types.SearchComment {
	sanitized := make([]*types.SearchComment, 0, len(comments))

	for _, comment := range comments {
		c := *comment
		c.Text = SanitizeCommentText(c.Text)
		c.Author = stripAngleBrackets(c.Author)
		sanitized = append(sanitized, &c)
	}

	return sanitized
}

// dropPlaceholders removes reserved slot-holder replies.
func dropPlaceholders(comments []*types.SearchComment) []*types.SearchComment {
	kept := make([]*types.SearchComment, 0, len(comments))

	for _, comment := range comments {
		text := strings.ToLower(strings.TrimSpace(comment.Text))
		if text == "" || text == reservedPlaceholder {
			continue
		}

		kept = append(kept, comment)
	}

	return kept
}

// SanitizeCommentText unescapes HTML entities and truncates oversized
// bodies.
func SanitizeCommentText(text string) string {
	text = html.UnescapeString(text)

	runes := []rune(text)
	if len(runes) > maxCommentLength {
		text = string(runes[:maxCommentLength]) + "…"
	}

	return text
}

func stripAngleBrackets(s string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}
