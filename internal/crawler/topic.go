package crawler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/searchparty/beacon/internal/classify"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/searchparty/beacon/internal/forum"
	"github.com/searchparty/beacon/internal/geocode"
	"go.uber.org/zap"
)

const (
	// staleDiscoveryAge suppresses new-topic records for cases already old
	// at first sighting.
	staleDiscoveryAge = 48 * time.Hour

	// inforgPrefix matches nicknames of the volunteer role authoring
	// official topic updates. Comparison is case-insensitive.
	inforgPrefix = "инфорг"

	// inforgExceptionNick is the one account matching the prefix that does
	// not hold the role.
	inforgExceptionNick = "инфорг запаса"

	// recoTypeTitle is the classification request type for topic titles.
	recoTypeTitle = "title"
)

// SearchStore is the topic row persistence needed by the topic differ.
type SearchStore interface {
	// GetByFolder returns the persisted baseline rows for one folder.
	GetByFolder(ctx context.Context, folderID int64) ([]*types.Search, error)
	// Insert stores a newly discovered topic row.
	Insert(ctx context.Context, search *types.Search) error
	// Replace swaps the stored row for a changed topic.
	Replace(ctx context.Context, search *types.Search) error
	// UpsertManagers replaces the recorded manager list for a topic.
	UpsertManagers(ctx context.Context, topicID int64, managers []string) error
	// ReplaceActivities replaces the open activity tags for a topic.
	ReplaceActivities(ctx context.Context, topicID int64, tags []string) error
}

// ChangeStore appends detected changes.
type ChangeStore interface {
	Insert(ctx context.Context, record *types.ChangeLog) error
}

// CommentStore captures fetched replies for notification rendering.
type CommentStore interface {
	Upsert(ctx context.Context, comment *types.SearchComment) error
}

// FirstPostStore is the first post snapshot persistence needed for edit
// detection.
type FirstPostStore interface {
	GetFirstPostSnapshot(ctx context.Context, topicID int64) (*types.FirstPostSnapshot, error)
	UpsertFirstPostSnapshot(ctx context.Context, snapshot *types.FirstPostSnapshot) error
}

// SuppressionWindow bounds how old a case may be before its changes stop
// producing notifications. Some regions are exempt and keep notifying
// regardless of age.
type SuppressionWindow struct {
	MaxAge        time.Duration
	ExemptFolders map[int64]struct{}
}

// Suppresses reports whether a record for the given topic start time and
// folder falls outside the notification window.
func (w SuppressionWindow) Suppresses(startTime time.Time, folderID int64, now time.Time) bool {
	if _, exempt := w.ExemptFolders[folderID]; exempt {
		return false
	}

	return now.Sub(startTime) > w.MaxAge
}

// TopicDiffer compares a changed leaf folder's current topic list against
// the persisted baseline rows and appends one change log record per
// physically detected difference. Re-running against an unchanged forum
// state emits nothing, which is what absorbs redelivered crawl triggers.
type TopicDiffer struct {
	forum      forum.Client
	classifier classify.Client
	geocoder   *geocode.Geocoder
	searches   SearchStore
	changes    ChangeStore
	comments   CommentStore
	firstPosts FirstPostStore
	window     SuppressionWindow
	clock      func() time.Time
	logger     *zap.Logger
}

// NewTopicDiffer creates a topic differ. The clock is injected so tests can
// pin discovery and suppression decisions.
func NewTopicDiffer(
	forumClient forum.Client,
	classifier classify.Client,
	geocoder *geocode.Geocoder,
	searches SearchStore,
	changes ChangeStore,
	comments CommentStore,
	firstPosts FirstPostStore,
	window SuppressionWindow,
	clock func() time.Time,
	logger *zap.Logger,
) *TopicDiffer {
	if clock == nil {
		clock = time.Now
	}

	return &TopicDiffer{
		forum:      forumClient,
		classifier: classifier,
		geocoder:   geocoder,
		searches:   searches,
		changes:    changes,
		comments:   comments,
		firstPosts: firstPosts,
		window:     window,
		clock:      clock,
		logger:     logger.Named("topic_differ"),
	}
}

// DiffFolder diffs one changed leaf folder and returns the appended change
// log records plus the number of topics that were skipped. Individual topic
// failures are logged and skipped so the rest of the folder still processes;
// a nonzero skip count tells the caller to withhold the leaf's snapshot so
// the skipped topics are diffed again next cycle.
func (d *TopicDiffer) DiffFolder(ctx context.Context, folderID int64) ([]*types.ChangeLog, int, error) {
	current, err := d.forum.GetFolderTopics(ctx, folderID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch topics for folder %d: %w", folderID, err)
	}

	persisted, err := d.searches.GetByFolder(ctx, folderID)
	if err != nil {
		return nil, 0, err
	}

	baseline := make(map[int64]*types.Search, len(persisted))
	for _, row := range persisted {
		baseline[row.TopicID] = row
	}

	var (
		records []*types.ChangeLog
		skipped int
	)

	for _, summary := range current {
		topicRecords, err := d.diffTopic(ctx, folderID, summary, baseline[summary.TopicID])
		if err != nil {
			skipped++

			if errors.Is(err, forum.ErrTopicDeleted) || errors.Is(err, forum.ErrTopicHidden) {
				d.logger.Warn("Topic not visible, skipping for this cycle",
					zap.Int64("topicID", summary.TopicID), zap.Error(err))
				continue
			}

			d.logger.Error("Failed to diff topic",
				zap.Int64("topicID", summary.TopicID), zap.Error(err))

			continue
		}

		records = append(records, topicRecords...)
	}

	return records, skipped, nil
}

// diffTopic compares one crawled topic against its baseline row.
func (d *TopicDiffer) diffTopic(
	ctx context.Context, folderID int64, summary forum.TopicSummary, baseline *types.Search,
) ([]*types.ChangeLog, error) {
	search, err := d.buildSearch(ctx, folderID, summary)
	if err != nil {
		return nil, err
	}

	if baseline == nil {
		return d.handleNewTopic(ctx, search)
	}

	var records []*types.ChangeLog

	if baseline.Status != search.Status {
		record, err := d.appendRecord(ctx, search, enum.ChangeKindStatusChange, search.Status)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if baseline.Title != search.Title {
		record, err := d.appendRecord(ctx, search, enum.ChangeKindTitleChange, search.Title)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if search.ReplyCount > baseline.ReplyCount {
		commentRecords, err := d.handleNewComments(ctx, search, baseline.ReplyCount)
		if err != nil {
			return nil, err
		}

		records = append(records, commentRecords...)
	}

	// The baseline row is replaced wholesale whenever any compared field
	// differs so the next cycle diffs against exactly one crawled state.
	if baseline.Status != search.Status ||
		baseline.Title != search.Title ||
		baseline.ReplyCount != search.ReplyCount {
		if err := d.searches.Replace(ctx, search); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// handleNewTopic inserts the first-seen row and its new-topic record.
func (d *TopicDiffer) handleNewTopic(ctx context.Context, search *types.Search) ([]*types.ChangeLog, error) {
	if err := d.searches.Insert(ctx, search); err != nil {
		return nil, err
	}

	record := &types.ChangeLog{
		TopicID: search.TopicID,
		Kind:    enum.ChangeKindNewTopic,
		Payload: search.Title,
		Flag:    enum.ProcessingFlagPending,
	}

	// Cases that are already resolved or stale at discovery never notify
	now := d.clock()
	if !search.IsActive() || now.Sub(search.StartTime) >= staleDiscoveryAge {
		record.Flag = enum.ProcessingFlagSuppressed
	} else if d.window.Suppresses(search.StartTime, search.FolderID, now) {
		record.Flag = enum.ProcessingFlagSuppressed
	}

	if err := d.changes.Insert(ctx, record); err != nil {
		return nil, err
	}

	return []*types.ChangeLog{record}, nil
}

// handleNewComments emits the general comment record and, when any new
// reply is inforg-authored, the inforg record as well.
func (d *TopicDiffer) handleNewComments(
	ctx context.Context, search *types.Search, prevReplyCount int,
) ([]*types.ChangeLog, error) {
	sawInforg := false

	// Scan only the reply positions added since the previous cycle
	for position := prevReplyCount + 1; position <= search.ReplyCount; position++ {
		comment, err := d.forum.GetComment(ctx, search.TopicID, position)
		if err != nil {
			return nil, err
		}

		isInforg := IsInforgNick(comment.Author)
		if isInforg {
			sawInforg = true
		}

		err = d.comments.Upsert(ctx, &types.SearchComment{
			TopicID:  search.TopicID,
			Position: position,
			Author:   comment.Author,
			AuthorID: comment.AuthorID,
			Text:     comment.Text,
			URL:      comment.URL,
			IsInforg: isInforg,
		})
		if err != nil {
			return nil, err
		}
	}

	payload := strconv.Itoa(search.ReplyCount)

	record, err := d.appendRecord(ctx, search, enum.ChangeKindNewComments, payload)
	if err != nil {
		return nil, err
	}

	records := []*types.ChangeLog{record}

	if sawInforg {
		inforgRecord, err := d.appendRecord(ctx, search, enum.ChangeKindNewInforgComment, payload)
		if err != nil {
			return nil, err
		}

		records = append(records, inforgRecord)
	}

	return records, nil
}

// CheckFirstPost fetches the topic's first post, diffs it against the last
// stored snapshot and emits a first-post-change record when it was edited.
func (d *TopicDiffer) CheckFirstPost(ctx context.Context, search *types.Search) (*types.ChangeLog, error) {
	content, err := d.forum.GetTopicFirstPost(ctx, search.TopicID)
	if err != nil {
		return nil, err
	}

	if err := d.syncFirstPostDetails(ctx, search.TopicID, content); err != nil {
		return nil, err
	}

	previous, err := d.firstPosts.GetFirstPostSnapshot(ctx, search.TopicID)
	if err != nil {
		return nil, err
	}

	snapshot := &types.FirstPostSnapshot{
		TopicID: search.TopicID,
		Content: content,
		Lat:     search.Lat,
		Lon:     search.Lon,
	}

	// First sighting of the post is a baseline, not a change
	if previous == nil {
		return nil, d.firstPosts.UpsertFirstPostSnapshot(ctx, snapshot)
	}

	if previous.Content == content {
		return nil, nil //nolint:nilnil // no change detected
	}

	additions, deletions := DiffLines(previous.Content, content)

	diff := types.FirstPostDiff{
		Additions: additions,
		Deletions: deletions,
		OldLat:    previous.Lat,
		OldLon:    previous.Lon,
		NewLat:    search.Lat,
		NewLon:    search.Lon,
	}

	payload, err := sonic.MarshalString(diff)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal first post diff: %w", err)
	}

	if err := d.firstPosts.UpsertFirstPostSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	return d.appendRecord(ctx, search, enum.ChangeKindFirstPostChange, payload)
}

// appendRecord inserts one change log record, applying the suppression
// window.
func (d *TopicDiffer) appendRecord(
	ctx context.Context, search *types.Search, kind enum.ChangeKind, payload string,
) (*types.ChangeLog, error) {
	record := &types.ChangeLog{
		TopicID: search.TopicID,
		Kind:    kind,
		Payload: payload,
		Flag:    enum.ProcessingFlagPending,
	}

	if d.window.Suppresses(search.StartTime, search.FolderID, d.clock()) {
		record.Flag = enum.ProcessingFlagSuppressed
	}

	if err := d.changes.Insert(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// buildSearch assembles the current topic row from the crawled summary and
// the title classification result.
func (d *TopicDiffer) buildSearch(
	ctx context.Context, folderID int64, summary forum.TopicSummary,
) (*types.Search, error) {
	recognition, err := d.classifier.Classify(ctx, summary.Title, recoTypeTitle)
	if err != nil {
		return nil, err
	}

	search := &types.Search{
		TopicID:    summary.TopicID,
		FolderID:   folderID,
		Title:      summary.Title,
		Status:     recognition.Status,
		ReplyCount: summary.ReplyCount,
		StartTime:  summary.StartTime,
		TopicType:  recognition.TopicType,
	}

	if len(recognition.Persons) > 0 {
		person := recognition.Persons[0]
		search.DisplayName = person.DisplayName
		search.AgeMin = person.AgeMin
		search.AgeMax = person.AgeMax
	}

	d.resolveLocations(ctx, search, recognition.Locations)

	return search, nil
}

// resolveLocations maps recognized locations onto the topic row. The first
// resolvable location becomes the primary coordinates; the rest become
// nearby places for any-match radius filtering. Geocoding failures degrade
// to a topic without coordinates rather than failing the diff.
func (d *TopicDiffer) resolveLocations(ctx context.Context, search *types.Search, locations []classify.Location) {
	for _, loc := range locations {
		lat, lon := loc.Lat, loc.Lon
		kind := enum.CoordKindExact

		if lat == 0 && lon == 0 {
			if loc.Address == "" || d.geocoder == nil {
				continue
			}

			point, err := d.geocoder.Geocode(ctx, loc.Address)
			if err != nil {
				if !errors.Is(err, geocode.ErrNotFound) {
					d.logger.Warn("Failed to geocode address",
						zap.String("address", loc.Address), zap.Error(err))
				}

				continue
			}

			lat, lon = point.Lat, point.Lon
			kind = enum.CoordKindFromAddress
		}

		if search.CoordKind == enum.CoordKindNone {
			search.Lat = lat
			search.Lon = lon
			search.CoordKind = kind
		} else {
			search.NearbyPlaces = append(search.NearbyPlaces, types.Coordinates{Lat: lat, Lon: lon})
		}
	}
}

// syncFirstPostDetails captures the coordination roster and open activity
// tags stated in the first post. Both are replaced wholesale on every check
// so closed tasks and reassigned managers stop appearing in notifications.
func (d *TopicDiffer) syncFirstPostDetails(ctx context.Context, topicID int64, content string) error {
	if managers := ParseManagers(content); len(managers) > 0 {
		if err := d.searches.UpsertManagers(ctx, topicID, managers); err != nil {
			return err
		}
	}

	return d.searches.ReplaceActivities(ctx, topicID, ParseActivities(content))
}

// managerLine matches the coordination roster lines of a first post, such as
// "Координатор: Ника" or "Инфорг поиска: Мария (Заря)".
var managerLine = regexp.MustCompile(`(?i)^(?:координатор|инфорг|снм|старший на месте)[^:]*:\s*\S`)

// activityTag matches hashtag-style task markers in a first post, such as
// "#прозвон" or "#расклейка_24".
var activityTag = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// ParseManagers extracts the coordination roster lines from a first post.
// Each entry keeps its role label so it renders as written.
func ParseManagers(content string) []string {
	var managers []string

	seen := make(map[string]struct{})

	for _, line := range splitLines(content) {
		if !managerLine.MatchString(line) {
			continue
		}

		key := strings.ToLower(line)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		managers = append(managers, line)
	}

	return managers
}

// ParseActivities extracts the hashtag task markers from a first post,
// lowercased and deduplicated in order of first appearance.
func ParseActivities(content string) []string {
	var tags []string

	seen := make(map[string]struct{})

	for _, match := range activityTag.FindAllStringSubmatch(content, -1) {
		tag := strings.ToLower(match[1])
		if _, dup := seen[tag]; dup {
			continue
		}

		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	return tags
}

// IsInforgNick reports whether a nickname belongs to the inforg role:
// case-insensitive prefix match with one named account excluded.
func IsInforgNick(nick string) bool {
	lower := strings.ToLower(strings.TrimSpace(nick))
	if lower == inforgExceptionNick {
		return false
	}

	return strings.HasPrefix(lower, inforgPrefix)
}

// DiffLines computes line-level additions and deletions between two texts.
// Order within each side is preserved; moved lines show up on both sides.
func DiffLines(oldText, newText string) (additions, deletions []string) {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	oldSet := make(map[string]int, len(oldLines))
	for _, line := range oldLines {
		oldSet[line]++
	}

	newSet := make(map[string]int, len(newLines))
	for _, line := range newLines {
		newSet[line]++
	}

	for _, line := range newLines {
		if oldSet[line] > 0 {
			oldSet[line]--
		} else {
			additions = append(additions, line)
		}
	}

	for _, line := range oldLines {
		if newSet[line] > 0 {
			newSet[line]--
		} else {
			deletions = append(deletions, line)
		}
	}

	return additions, deletions
}

func splitLines(text string) []string {
	var lines []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
