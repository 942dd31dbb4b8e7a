package crawler_test

import (
	"context"
	"testing"
	"time"

	"github.com/searchparty/beacon/internal/crawler"
	"github.com/searchparty/beacon/internal/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySnapshots struct {
	payloads map[int64]string
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{payloads: make(map[int64]string)}
}

func (m *memorySnapshots) GetFolderSnapshot(_ context.Context, folderID int64) (string, error) {
	return m.payloads[folderID], nil
}

func (m *memorySnapshots) UpsertFolderSnapshot(_ context.Context, folderID int64, payload string) error {
	m.payloads[folderID] = payload
	return nil
}

func crawlForum(now time.Time) *fakeForum {
	return &fakeForum{
		children: map[int64][]forum.FolderChild{
			// root 1 holds two regional sections; 40 holds two leaves
			1:  {{ID: 40, LastActivity: now}, {ID: 50, LastActivity: now.Add(-time.Hour)}},
			40: {{ID: 41, LastActivity: now}, {ID: 42, LastActivity: now.Add(-2 * time.Hour)}},
		},
		topics: map[int64][]forum.TopicSummary{
			41: {{TopicID: 1, Title: "A", ReplyCount: 5}},
			42: {{TopicID: 2, Title: "B", ReplyCount: 0}},
			50: {{TopicID: 3, Title: "C", ReplyCount: 2}},
		},
	}
}

func TestCrawlFirstRunMarksAllLeaves(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	snapshots := newMemorySnapshots()
	differ := crawler.NewFolderDiffer(crawlForum(now), snapshots, nil, zap.NewNop())

	result, err := differ.Crawl(context.Background(), 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{41, 42, 50}, result.Leaves)

	// Nothing is durable until the caller commits the pass
	assert.Empty(t, snapshots.payloads)
}

func TestCrawlUnchangedForumMarksNothing(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	f := crawlForum(now)
	snapshots := newMemorySnapshots()
	differ := crawler.NewFolderDiffer(f, snapshots, nil, zap.NewNop())

	result, err := differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, differ.Commit(context.Background(), result, nil))

	result, err = differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, result.Leaves)
}

func TestCrawlReplyCountChangeMarksOnlyThatLeaf(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	f := crawlForum(now)
	snapshots := newMemorySnapshots()
	differ := crawler.NewFolderDiffer(f, snapshots, nil, zap.NewNop())

	result, err := differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, differ.Commit(context.Background(), result, nil))

	// New activity bubbles up the tree as updated last-activity timestamps,
	// so the changed leaf's ancestors re-enter the comparison.
	later := now.Add(time.Minute)
	f.children[1] = []forum.FolderChild{
		{ID: 40, LastActivity: later}, {ID: 50, LastActivity: now.Add(-time.Hour)},
	}
	f.children[40] = []forum.FolderChild{
		{ID: 41, LastActivity: later}, {ID: 42, LastActivity: now.Add(-2 * time.Hour)},
	}
	f.topics[41] = []forum.TopicSummary{{TopicID: 1, Title: "A", ReplyCount: 7}}

	result, err = differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{41}, result.Leaves)
}

func TestCrawlNewTopicMarksLeaf(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	f := crawlForum(now)
	snapshots := newMemorySnapshots()
	differ := crawler.NewFolderDiffer(f, snapshots, nil, zap.NewNop())

	result, err := differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, differ.Commit(context.Background(), result, nil))

	later := now.Add(time.Minute)
	f.children[1] = []forum.FolderChild{
		{ID: 40, LastActivity: later}, {ID: 50, LastActivity: now.Add(-time.Hour)},
	}
	f.children[40] = []forum.FolderChild{
		{ID: 41, LastActivity: now}, {ID: 42, LastActivity: later},
	}
	f.topics[42] = []forum.TopicSummary{
		{TopicID: 2, Title: "B", ReplyCount: 0},
		{TopicID: 4, Title: "D", ReplyCount: 0},
	}

	result, err = differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, result.Leaves)
}

func TestCrawlExcludedFolderSkipped(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	snapshots := newMemorySnapshots()
	differ := crawler.NewFolderDiffer(crawlForum(now), snapshots, []int64{50}, zap.NewNop())

	result, err := differ.Crawl(context.Background(), 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{41, 42}, result.Leaves)
}

func TestCommitWithheldLeafStaysMarked(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	f := crawlForum(now)
	snapshots := newMemorySnapshots()
	differ := crawler.NewFolderDiffer(f, snapshots, nil, zap.NewNop())

	result, err := differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{41, 42, 50}, result.Leaves)

	// Leaf 41's topic diff did not complete; its snapshot and every snapshot
	// on its path are withheld while the rest of the pass commits.
	err = differ.Commit(context.Background(), result, map[int64]struct{}{41: {}})
	require.NoError(t, err)

	assert.NotContains(t, snapshots.payloads, int64(41))
	assert.NotContains(t, snapshots.payloads, int64(40))
	assert.NotContains(t, snapshots.payloads, int64(1))
	assert.Contains(t, snapshots.payloads, int64(42))
	assert.Contains(t, snapshots.payloads, int64(50))

	// An unchanged forum still surfaces the withheld leaf on the next pass,
	// so the change that was skipped is diffed again rather than lost.
	result, err = differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{41}, result.Leaves)

	// Once the leaf processes cleanly the pass settles.
	require.NoError(t, differ.Commit(context.Background(), result, nil))

	result, err = differ.Crawl(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, result.Leaves)
}
