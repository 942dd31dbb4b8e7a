package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/searchparty/beacon/internal/setup/config"
	"go.uber.org/zap"
)

var (
	// ErrTopicDeleted means the forum reports the topic as deleted. The
	// caller must stop processing the topic for the current cycle.
	ErrTopicDeleted = errors.New("topic is deleted")
	// ErrTopicHidden means the forum reports the topic as hidden. The
	// caller must stop processing the topic for the current cycle.
	ErrTopicHidden = errors.New("topic is hidden")

	errUnexpectedStatus = errors.New("unexpected forum response status")
)

// FolderChild is one child folder of a forum section.
type FolderChild struct {
	ID           int64     `json:"id"`
	LastActivity time.Time `json:"lastActivity"`
}

// TopicSummary is one topic as listed on a folder page.
type TopicSummary struct {
	TopicID    int64     `json:"topicId"`
	Title      string    `json:"title"`
	ReplyCount int       `json:"replyCount"`
	StartTime  time.Time `json:"startTime"`
}

// Comment is one reply fetched from a topic.
type Comment struct {
	Author   string `json:"author"`
	AuthorID int64  `json:"authorId"`
	Text     string `json:"text"`
	URL      string `json:"url"`
}

// Client is the typed boundary to the forum. Implementations fetch
// structured folder, topic and comment data; HTML parsing stays behind this
// contract.
type Client interface {
	// GetFolderChildren returns the child folders of a section.
	GetFolderChildren(ctx context.Context, folderID int64) ([]FolderChild, error)
	// GetFolderTopics returns the topic listing of a leaf section.
	GetFolderTopics(ctx context.Context, folderID int64) ([]TopicSummary, error)
	// GetTopicFirstPost returns the raw content of a topic's first post.
	GetTopicFirstPost(ctx context.Context, topicID int64) (string, error)
	// GetComment returns one reply by position within a topic.
	GetComment(ctx context.Context, topicID int64, index int) (*Comment, error)
}

// HTTPClient implements Client against the forum's HTTP API.
type HTTPClient struct {
	client     *resty.Client
	maxRetries uint64
	logger     *zap.Logger
}

// NewHTTPClient creates a forum client from configuration.
func NewHTTPClient(cfg *config.Forum, logger *zap.Logger) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.RequestTimeout) * time.Millisecond)

	return &HTTPClient{
		client:     client,
		maxRetries: uint64(cfg.MaxRetries),
		logger:     logger.Named("forum"),
	}
}

// GetFolderChildren returns the child folders of a section.
func (c *HTTPClient) GetFolderChildren(ctx context.Context, folderID int64) ([]FolderChild, error) {
	var children []FolderChild

	err := c.get(ctx, fmt.Sprintf("/folders/%d/children", folderID), &children)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch folder children: %w", err)
	}

	return children, nil
}

// GetFolderTopics returns the topic listing of a leaf section.
func (c *HTTPClient) GetFolderTopics(ctx context.Context, folderID int64) ([]TopicSummary, error) {
	var topics []TopicSummary

	err := c.get(ctx, fmt.Sprintf("/folders/%d/topics", folderID), &topics)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch folder topics: %w", err)
	}

	return topics, nil
}

// GetTopicFirstPost returns the raw content of a topic's first post.
func (c *HTTPClient) GetTopicFirstPost(ctx context.Context, topicID int64) (string, error) {
	var post struct {
		Content string `json:"content"`
	}

	err := c.get(ctx, fmt.Sprintf("/topics/%d/first-post", topicID), &post)
	if err != nil {
		return "", fmt.Errorf("failed to fetch first post: %w", err)
	}

	return post.Content, nil
}

// GetComment returns one reply by position within a topic.
func (c *HTTPClient) GetComment(ctx context.Context, topicID int64, index int) (*Comment, error) {
	var comment Comment

	err := c.get(ctx, fmt.Sprintf("/topics/%d/comments/%d", topicID, index), &comment)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comment: %w", err)
	}

	return &comment, nil
}

// get performs one GET with bounded fixed-backoff retries on network
// failure. Visibility responses map to typed errors and are never retried.
func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	operation := func() error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetResult(out).
			Get(path)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		switch {
		case resp.StatusCode() == 404:
			return backoff.Permanent(ErrTopicDeleted)
		case resp.StatusCode() == 403:
			return backoff.Permanent(ErrTopicHidden)
		case resp.IsError():
			return backoff.Permanent(fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode()))
		}

		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), c.maxRetries)

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
