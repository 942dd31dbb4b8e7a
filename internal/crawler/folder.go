package crawler

import (
	"context"
	"fmt"
	"strings"

	"github.com/searchparty/beacon/internal/forum"
	"go.uber.org/zap"
)

// SnapshotStore is the persistence needed by the folder differ.
type SnapshotStore interface {
	// GetFolderSnapshot returns the previous serialized listing for a
	// folder, or an empty string when the folder was never crawled.
	GetFolderSnapshot(ctx context.Context, folderID int64) (string, error)
	// UpsertFolderSnapshot replaces the stored listing for a folder.
	UpsertFolderSnapshot(ctx context.Context, folderID int64, payload string) error
}

// CrawlResult is one crawl pass: the changed leaf folders plus the snapshot
// writes that would make the pass durable. Snapshots are held back until
// Commit so that a leaf whose topic diff did not complete is walked again on
// the next pass instead of being pruned away.
type CrawlResult struct {
	// Leaves holds the IDs of leaf folders whose topic listing changed.
	Leaves []int64

	payloads map[int64]string
	parents  map[int64]int64
}

// FolderDiffer walks the folder tree and reports which leaf folders changed
// since the previous crawl.
//
// A missed change silently drops notifications, so comparison errs on the
// side of marking folders changed: any snapshot mismatch or absence marks
// the folder. A false positive only costs one extra no-op topic diff.
type FolderDiffer struct {
	forum     forum.Client
	snapshots SnapshotStore
	excluded  map[int64]struct{}
	logger    *zap.Logger
}

// NewFolderDiffer creates a folder differ. Excluded IDs name administrative
// sections that never hold search topics.
func NewFolderDiffer(
	forumClient forum.Client, snapshots SnapshotStore, excludedIDs []int64, logger *zap.Logger,
) *FolderDiffer {
	excluded := make(map[int64]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}

	return &FolderDiffer{
		forum:     forumClient,
		snapshots: snapshots,
		excluded:  excluded,
		logger:    logger.Named("folder_differ"),
	}
}

// Crawl walks the tree from the root folder and returns the changed leaf
// folders. Unchanged subtrees are pruned: a folder whose serialized child
// listing matches its snapshot is not descended into. No snapshot is written
// here; the caller diffs the changed leaves and then calls Commit with the
// leaves that could not be fully processed.
func (d *FolderDiffer) Crawl(ctx context.Context, rootFolderID int64) (*CrawlResult, error) {
	result := &CrawlResult{
		payloads: make(map[int64]string),
		parents:  make(map[int64]int64),
	}

	queue := []int64{rootFolderID}

	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]

		if _, skip := d.excluded[folderID]; skip {
			continue
		}

		children, err := d.forum.GetFolderChildren(ctx, folderID)
		if err != nil {
			return nil, fmt.Errorf("failed to list folder %d: %w", folderID, err)
		}

		// A folder with no child folders is a leaf; its topic list is the
		// unit of comparison.
		if len(children) == 0 {
			changed, payload, err := d.diffLeaf(ctx, folderID)
			if err != nil {
				return nil, err
			}

			if changed {
				result.Leaves = append(result.Leaves, folderID)
				result.payloads[folderID] = payload
			}

			continue
		}

		payload := serializeChildren(children)

		previous, err := d.snapshots.GetFolderSnapshot(ctx, folderID)
		if err != nil {
			return nil, err
		}

		if payload == previous {
			continue
		}

		result.payloads[folderID] = payload

		for _, child := range children {
			result.parents[child.ID] = folderID
			queue = append(queue, child.ID)
		}
	}

	d.logger.Info("Crawl cycle finished",
		zap.Int64("rootFolderID", rootFolderID),
		zap.Int("changedLeaves", len(result.Leaves)))

	return result, nil
}

// Commit persists the snapshots gathered by Crawl. Failed leaves and every
// folder on their paths are skipped, so the next pass walks back down to
// exactly those leaves and re-diffs them.
func (d *FolderDiffer) Commit(ctx context.Context, result *CrawlResult, failed map[int64]struct{}) error {
	withheld := make(map[int64]struct{}, len(failed))

	for id := range failed {
		for {
			if _, seen := withheld[id]; seen {
				break
			}

			withheld[id] = struct{}{}

			parent, ok := result.parents[id]
			if !ok {
				break
			}

			id = parent
		}
	}

	for folderID, payload := range result.payloads {
		if _, skip := withheld[folderID]; skip {
			continue
		}

		if err := d.snapshots.UpsertFolderSnapshot(ctx, folderID, payload); err != nil {
			return err
		}
	}

	if len(withheld) > 0 {
		d.logger.Warn("Withheld snapshots for incomplete leaves",
			zap.Int("failedLeaves", len(failed)),
			zap.Int("withheldFolders", len(withheld)))
	}

	return nil
}

// diffLeaf compares a leaf folder's topic listing against its snapshot and
// returns the new payload when they differ.
func (d *FolderDiffer) diffLeaf(ctx context.Context, folderID int64) (bool, string, error) {
	topics, err := d.forum.GetFolderTopics(ctx, folderID)
	if err != nil {
		return false, "", fmt.Errorf("failed to list topics of folder %d: %w", folderID, err)
	}

	payload := serializeTopics(topics)

	previous, err := d.snapshots.GetFolderSnapshot(ctx, folderID)
	if err != nil {
		return false, "", err
	}

	return payload != previous, payload, nil
}

// serializeChildren renders a child folder listing to a comparable string.
func serializeChildren(children []forum.FolderChild) string {
	var b strings.Builder

	for _, child := range children {
		fmt.Fprintf(&b, "%d:%d;", child.ID, child.LastActivity.Unix())
	}

	return b.String()
}

// serializeTopics renders a topic listing to a comparable string. Title and
// reply count together capture every change the topic differ can act on.
func serializeTopics(topics []forum.TopicSummary) string {
	var b strings.Builder

	for _, topic := range topics {
		fmt.Fprintf(&b, "%s:%d;", topic.Title, topic.ReplyCount)
	}

	return b.String()
}
