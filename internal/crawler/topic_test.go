package crawler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/searchparty/beacon/internal/classify"
	"github.com/searchparty/beacon/internal/crawler"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/searchparty/beacon/internal/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeForum struct {
	children   map[int64][]forum.FolderChild
	topics     map[int64][]forum.TopicSummary
	firstPosts map[int64]string
	comments   map[int64]map[int]*forum.Comment
}

func (f *fakeForum) GetFolderChildren(_ context.Context, folderID int64) ([]forum.FolderChild, error) {
	return f.children[folderID], nil
}

func (f *fakeForum) GetFolderTopics(_ context.Context, folderID int64) ([]forum.TopicSummary, error) {
	return f.topics[folderID], nil
}

func (f *fakeForum) GetTopicFirstPost(_ context.Context, topicID int64) (string, error) {
	return f.firstPosts[topicID], nil
}

func (f *fakeForum) GetComment(_ context.Context, topicID int64, index int) (*forum.Comment, error) {
	return f.comments[topicID][index], nil
}

type fakeClassifier struct {
	byTitle   map[string]*classify.Recognition
	errTitles map[string]error
}

func (f *fakeClassifier) Classify(_ context.Context, title, _ string) (*classify.Recognition, error) {
	if err, ok := f.errTitles[title]; ok {
		return nil, err
	}

	if rec, ok := f.byTitle[title]; ok {
		return rec, nil
	}

	return &classify.Recognition{Status: types.StatusSearching, TopicType: "missing_person"}, nil
}

type memoryStores struct {
	searches   map[int64]*types.Search
	records    []*types.ChangeLog
	comments   map[int64]map[int]*types.SearchComment
	firstPosts map[int64]*types.FirstPostSnapshot
	managers   map[int64][]string
	activities map[int64][]string
}

func newMemoryStores() *memoryStores {
	return &memoryStores{
		searches:   make(map[int64]*types.Search),
		comments:   make(map[int64]map[int]*types.SearchComment),
		firstPosts: make(map[int64]*types.FirstPostSnapshot),
		managers:   make(map[int64][]string),
		activities: make(map[int64][]string),
	}
}

func (m *memoryStores) GetByFolder(_ context.Context, folderID int64) ([]*types.Search, error) {
	var rows []*types.Search

	for _, row := range m.searches {
		if row.FolderID == folderID {
			rows = append(rows, row)
		}
	}

	return rows, nil
}

func (m *memoryStores) Insert(_ context.Context, search *types.Search) error {
	m.searches[search.TopicID] = search
	return nil
}

func (m *memoryStores) Replace(_ context.Context, search *types.Search) error {
	m.searches[search.TopicID] = search
	return nil
}

func (m *memoryStores) UpsertManagers(_ context.Context, topicID int64, managers []string) error {
	m.managers[topicID] = managers
	return nil
}

func (m *memoryStores) ReplaceActivities(_ context.Context, topicID int64, tags []string) error {
	m.activities[topicID] = tags
	return nil
}

func (m *memoryStores) InsertRecord(_ context.Context, record *types.ChangeLog) error {
	record.ID = int64(len(m.records) + 1)
	m.records = append(m.records, record)

	return nil
}

func (m *memoryStores) Upsert(_ context.Context, comment *types.SearchComment) error {
	if m.comments[comment.TopicID] == nil {
		m.comments[comment.TopicID] = make(map[int]*types.SearchComment)
	}

	m.comments[comment.TopicID][comment.Position] = comment

	return nil
}

func (m *memoryStores) GetFirstPostSnapshot(_ context.Context, topicID int64) (*types.FirstPostSnapshot, error) {
	return m.firstPosts[topicID], nil
}

func (m *memoryStores) UpsertFirstPostSnapshot(_ context.Context, snapshot *types.FirstPostSnapshot) error {
	m.firstPosts[snapshot.TopicID] = snapshot
	return nil
}

// changeStore adapts memoryStores to the record append interface.
type changeStore struct{ stores *memoryStores }

func (c changeStore) Insert(ctx context.Context, record *types.ChangeLog) error {
	return c.stores.InsertRecord(ctx, record)
}

func newDiffer(f *fakeForum, c *fakeClassifier, stores *memoryStores, clock func() time.Time) *crawler.TopicDiffer {
	return crawler.NewTopicDiffer(
		f, c, nil, stores, changeStore{stores}, stores, stores,
		crawler.SuppressionWindow{MaxAge: 60 * 24 * time.Hour},
		clock, zap.NewNop())
}

func recordKinds(records []*types.ChangeLog) []enum.ChangeKind {
	kinds := make([]enum.ChangeKind, 0, len(records))
	for _, r := range records {
		kinds = append(kinds, r.Kind)
	}

	return kinds
}

func TestDiffFolderScenario(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fakeForum{
		topics: map[int64][]forum.TopicSummary{
			41: {
				{TopicID: 1, Title: "Иванов Пётр, 60 лет", ReplyCount: 7, StartTime: now.Add(-12 * time.Hour)},
				{TopicID: 2, Title: "Сидорова Анна, 8 лет", ReplyCount: 0, StartTime: now.Add(-time.Hour)},
			},
		},
		comments: map[int64]map[int]*forum.Comment{
			1: {
				6: {Author: "Волонтёр Иван", Text: "выезжаю"},
				7: {Author: "Инфорг Мария", Text: "сбор в 19:00"},
			},
		},
	}

	stores := newMemoryStores()
	stores.searches[1] = &types.Search{
		TopicID:    1,
		FolderID:   41,
		Title:      "Иванов Пётр, 60 лет",
		Status:     types.StatusSearching,
		ReplyCount: 5,
		StartTime:  now.Add(-12 * time.Hour),
	}

	differ := newDiffer(f, &fakeClassifier{}, stores, clock)

	records, skipped, err := differ.DiffFolder(context.Background(), 41)
	require.NoError(t, err)
	assert.Zero(t, skipped)

	assert.ElementsMatch(t, []enum.ChangeKind{
		enum.ChangeKindNewComments,
		enum.ChangeKindNewInforgComment,
		enum.ChangeKindNewTopic,
	}, recordKinds(records))

	// Both scanned replies are captured, the inforg one flagged
	require.Len(t, stores.comments[1], 2)
	assert.False(t, stores.comments[1][6].IsInforg)
	assert.True(t, stores.comments[1][7].IsInforg)

	// The baseline row was replaced with the crawled reply count
	assert.Equal(t, 7, stores.searches[1].ReplyCount)
}

func TestDiffFolderIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fakeForum{
		topics: map[int64][]forum.TopicSummary{
			41: {{TopicID: 1, Title: "Иванов Пётр, 60 лет", ReplyCount: 3, StartTime: now.Add(-time.Hour)}},
		},
		comments: map[int64]map[int]*forum.Comment{
			1: {
				1: {Author: "a", Text: "1"},
				2: {Author: "b", Text: "2"},
				3: {Author: "c", Text: "3"},
			},
		},
	}

	stores := newMemoryStores()
	differ := newDiffer(f, &fakeClassifier{}, stores, clock)

	first, skipped, err := differ.DiffFolder(context.Background(), 41)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.NotEmpty(t, first)

	second, skipped, err := differ.DiffFolder(context.Background(), 41)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Empty(t, second, "second run against unchanged forum state must emit nothing")
}

func TestDiffFolderCountsSkippedTopics(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fakeForum{
		topics: map[int64][]forum.TopicSummary{
			41: {
				{TopicID: 1, Title: "Иванов Пётр, 60 лет", StartTime: now.Add(-time.Hour)},
				{TopicID: 2, Title: "Сидорова Анна, 8 лет", StartTime: now.Add(-time.Hour)},
			},
		},
	}

	classifier := &fakeClassifier{
		errTitles: map[string]error{
			"Иванов Пётр, 60 лет": errors.New("recognition service unavailable"),
		},
	}

	stores := newMemoryStores()
	differ := newDiffer(f, classifier, stores, clock)

	records, skipped, err := differ.DiffFolder(context.Background(), 41)
	require.NoError(t, err)

	// The healthy topic still processes; the broken one is reported so the
	// caller keeps the folder marked for the next cycle.
	assert.Equal(t, 1, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].TopicID)

	// Once the classifier recovers the skipped topic surfaces as new
	classifier.errTitles = nil

	records, skipped, err = differ.DiffFolder(context.Background(), 41)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].TopicID)
}

func TestNewTopicSuppression(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		name     string
		summary  forum.TopicSummary
		status   string
		expected enum.ProcessingFlag
	}{
		{
			name:     "fresh active topic stays pending",
			summary:  forum.TopicSummary{TopicID: 1, Title: "fresh", StartTime: now.Add(-time.Hour)},
			status:   types.StatusSearching,
			expected: enum.ProcessingFlagPending,
		},
		{
			name:     "three day old topic is suppressed",
			summary:  forum.TopicSummary{TopicID: 2, Title: "stale", StartTime: now.Add(-3 * 24 * time.Hour)},
			status:   types.StatusSearching,
			expected: enum.ProcessingFlagSuppressed,
		},
		{
			name:     "terminal status at discovery is suppressed",
			summary:  forum.TopicSummary{TopicID: 3, Title: "done", StartTime: now.Add(-time.Hour)},
			status:   "Found-alive",
			expected: enum.ProcessingFlagSuppressed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeForum{topics: map[int64][]forum.TopicSummary{41: {tt.summary}}}
			classifier := &fakeClassifier{byTitle: map[string]*classify.Recognition{
				tt.summary.Title: {Status: tt.status, TopicType: "missing_person"},
			}}

			stores := newMemoryStores()
			differ := newDiffer(f, classifier, stores, clock)

			records, skipped, err := differ.DiffFolder(context.Background(), 41)
			require.NoError(t, err)
			require.Zero(t, skipped)
			require.Len(t, records, 1)

			assert.Equal(t, enum.ChangeKindNewTopic, records[0].Kind)
			assert.Equal(t, tt.expected, records[0].Flag)
		})
	}
}

func TestSuppressionWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	window := crawler.SuppressionWindow{
		MaxAge:        60 * 24 * time.Hour,
		ExemptFolders: map[int64]struct{}{99: {}},
	}

	assert.False(t, window.Suppresses(now.Add(-10*24*time.Hour), 41, now))
	assert.True(t, window.Suppresses(now.Add(-61*24*time.Hour), 41, now))
	assert.False(t, window.Suppresses(now.Add(-61*24*time.Hour), 99, now),
		"exempt folders keep notifying regardless of age")
}

func TestCheckFirstPost(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fakeForum{firstPosts: map[int64]string{1: "Штаб у въезда в лес\nСбор в 9:00"}}
	stores := newMemoryStores()
	differ := newDiffer(f, &fakeClassifier{}, stores, clock)

	search := &types.Search{
		TopicID:   1,
		FolderID:  41,
		Status:    types.StatusSearching,
		StartTime: now.Add(-time.Hour),
	}

	// First sighting only stores the baseline
	record, err := differ.CheckFirstPost(context.Background(), search)
	require.NoError(t, err)
	assert.Nil(t, record)
	require.NotNil(t, stores.firstPosts[1])

	// Unchanged content emits nothing
	record, err = differ.CheckFirstPost(context.Background(), search)
	require.NoError(t, err)
	assert.Nil(t, record)

	// An edit emits a first post change record
	f.firstPosts[1] = "Штаб перенесён к деревне\nСбор в 9:00"

	record, err = differ.CheckFirstPost(context.Background(), search)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, enum.ChangeKindFirstPostChange, record.Kind)
	assert.Equal(t, enum.ProcessingFlagPending, record.Flag)
	assert.Equal(t, "Штаб перенесён к деревне\nСбор в 9:00", stores.firstPosts[1].Content)
}

func TestCheckFirstPostCapturesRosterAndTags(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fakeForum{firstPosts: map[int64]string{
		1: "Координатор: Ника\nИнфорг поиска: Мария (Заря)\nНужна помощь: #прозвон #расклейка",
	}}
	stores := newMemoryStores()
	differ := newDiffer(f, &fakeClassifier{}, stores, clock)

	search := &types.Search{
		TopicID:   1,
		FolderID:  41,
		Status:    types.StatusSearching,
		StartTime: now.Add(-time.Hour),
	}

	record, err := differ.CheckFirstPost(context.Background(), search)
	require.NoError(t, err)
	assert.Nil(t, record)

	assert.Equal(t, []string{"Координатор: Ника", "Инфорг поиска: Мария (Заря)"}, stores.managers[1])
	assert.Equal(t, []string{"прозвон", "расклейка"}, stores.activities[1])

	// The roster and open tasks track the current post, not history
	f.firstPosts[1] = "Координатор: Ника\nНужна помощь: #прозвон"

	_, err = differ.CheckFirstPost(context.Background(), search)
	require.NoError(t, err)

	assert.Equal(t, []string{"Координатор: Ника"}, stores.managers[1])
	assert.Equal(t, []string{"прозвон"}, stores.activities[1])
}

func TestParseManagers(t *testing.T) {
	t.Parallel()

	content := "Пропал человек\n" +
		"Координатор: Ника\n" +
		"Инфорг поиска: Мария (Заря)\n" +
		"инфорг поиска: мария (заря)\n" +
		"СНМ: Алексей\n" +
		"Координатор:\n" +
		"Сбор в 9:00"

	managers := crawler.ParseManagers(content)

	assert.Equal(t, []string{
		"Координатор: Ника",
		"Инфорг поиска: Мария (Заря)",
		"СНМ: Алексей",
	}, managers)
}

func TestParseActivities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "tags lowercased and deduplicated in order",
			content:  "Нужны: #Прозвон #расклейка_24 и снова #прозвон",
			expected: []string{"прозвон", "расклейка_24"},
		},
		{
			name:     "no tags",
			content:  "Сбор в 9:00 у штаба",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, crawler.ParseActivities(tt.content))
		})
	}
}

func TestIsInforgNick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		nick     string
		expected bool
	}{
		{"Инфорг Мария", true},
		{"инфорг-Пётр", true},
		{"ИНФОРГ", true},
		{"Инфорг запаса", false},
		{"Волонтёр Иван", false},
		{"", false},
		{"  Инфорг Мария  ", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, crawler.IsInforgNick(tt.nick), "nick %q", tt.nick)
	}
}

func TestDiffLines(t *testing.T) {
	t.Parallel()

	oldText := "Штаб у въезда в лес\nСбор в 9:00\nТелефон инфорга прежний"
	newText := "Штаб перенесён к деревне\nСбор в 9:00\nТелефон инфорга прежний\nНужны навигаторы"

	additions, deletions := crawler.DiffLines(oldText, newText)

	assert.Equal(t, []string{"Штаб перенесён к деревне", "Нужны навигаторы"}, additions)
	assert.Equal(t, []string{"Штаб у въезда в лес"}, deletions)
}

func TestDiffLinesIgnoresBlankLines(t *testing.T) {
	t.Parallel()

	additions, deletions := crawler.DiffLines("a\n\n\nb", "a\nb\n\n")

	assert.Empty(t, additions)
	assert.Empty(t, deletions)
}
