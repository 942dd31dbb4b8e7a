package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/searchparty/beacon/internal/crawler"
	"github.com/searchparty/beacon/internal/database"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
	"github.com/searchparty/beacon/internal/forum"
	"github.com/searchparty/beacon/internal/notify"
	"github.com/searchparty/beacon/internal/setup"
	"github.com/searchparty/beacon/internal/setup/config"
	"github.com/searchparty/beacon/internal/worker/core"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// maxLeafConcurrency bounds parallel leaf folder diffs so the forum is not
// hammered by one crawl cycle.
const maxLeafConcurrency = 4

// Worker runs the crawl/diff/fan-out cycle on a cron schedule. Each cycle
// walks the folder tree, diffs changed leaves into change log records and
// fans pending records out into the delivery queue.
type Worker struct {
	db       database.Client
	folders  *crawler.FolderDiffer
	topics   *crawler.TopicDiffer
	enricher *notify.Enricher
	pipeline *notify.Pipeline
	composer *notify.Composer
	reporter *core.StatusReporter
	config   *config.Config
	logger   *zap.Logger
}

// New creates a new crawl worker.
func New(app *setup.App, logger *zap.Logger) *Worker {
	repo := app.DB.Model()

	window := crawler.SuppressionWindow{
		MaxAge:        time.Duration(app.Config.Worker.SuppressionWindowDays) * 24 * time.Hour,
		ExemptFolders: make(map[int64]struct{}, len(app.Config.Worker.SuppressionExemptFolders)),
	}
	for _, id := range app.Config.Worker.SuppressionExemptFolders {
		window.ExemptFolders[id] = struct{}{}
	}

	folders := crawler.NewFolderDiffer(
		app.Forum, repo.Snapshot(), app.Config.Common.Forum.ExcludedFolderIDs, logger)
	topics := crawler.NewTopicDiffer(
		app.Forum, app.Classifier, app.Geocoder,
		repo.Search(), repo.ChangeLog(), repo.Comment(), repo.Snapshot(),
		window, nil, logger)

	return &Worker{
		db:       app.DB,
		folders:  folders,
		topics:   topics,
		enricher: notify.NewEnricher(repo.Search(), repo.Comment(), logger),
		pipeline: notify.NewPipeline(repo.User(), repo.Notification(), logger),
		composer: notify.NewComposer(app.Config.Common.Forum.BaseURL),
		reporter: core.NewStatusReporter(app.StatusClient, "crawl", logger),
		config:   app.Config,
		logger:   logger.Named("crawl_worker"),
	}
}

// Start schedules crawl cycles and blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Crawl worker started",
		zap.String("workerID", w.reporter.GetWorkerID()),
		zap.String("schedule", w.config.Worker.CrawlSchedule))
	w.reporter.Start(ctx)
	defer w.reporter.Stop()

	scheduler := cron.New()

	_, err := scheduler.AddFunc(w.config.Worker.CrawlSchedule, func() {
		if err := w.runCycle(ctx); err != nil {
			w.logger.Error("Crawl cycle failed", zap.Error(err))
			w.reporter.SetHealthy(false)

			return
		}

		w.reporter.SetHealthy(true)
	})
	if err != nil {
		return err
	}

	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()

	return ctx.Err()
}

// runCycle performs one full crawl, diff and fan-out pass. Snapshots for
// leaves whose diff did not complete are withheld at commit time so those
// leaves are walked and diffed again next cycle instead of being pruned.
func (w *Worker) runCycle(ctx context.Context) error {
	w.reporter.UpdateStatus("Crawling folder tree", 0)

	result, err := w.folders.Crawl(ctx, w.config.Common.Forum.RootFolderID)
	if err != nil {
		return err
	}

	w.reporter.UpdateStatus("Diffing changed folders", 30)

	failed := w.diffLeaves(ctx, result.Leaves)

	if err := w.folders.Commit(ctx, result, failed); err != nil {
		return err
	}

	w.reporter.UpdateStatus("Fanning out notifications", 60)

	if err := w.fanOut(ctx); err != nil {
		return err
	}

	w.reporter.UpdateStatus("Cycle complete", 100)

	return nil
}

// diffLeaves diffs every changed leaf folder concurrently and checks active
// topics in them for first post edits. It returns the set of leaves whose
// processing was incomplete; those never abort the cycle, they only withhold
// the leaf snapshot.
func (w *Worker) diffLeaves(ctx context.Context, leaves []int64) map[int64]struct{} {
	var mu sync.Mutex

	failed := make(map[int64]struct{})

	p := pool.New().WithContext(ctx).WithMaxGoroutines(maxLeafConcurrency)

	for _, folderID := range leaves {
		p.Go(func(ctx context.Context) error {
			if err := w.diffLeaf(ctx, folderID); err != nil {
				w.logger.Error("Leaf diff incomplete, snapshot withheld for retry",
					zap.Int64("folderID", folderID),
					zap.Error(err))

				mu.Lock()
				failed[folderID] = struct{}{}
				mu.Unlock()
			}

			return nil
		})
	}

	_ = p.Wait()

	return failed
}

var errTopicsSkipped = errors.New("topics skipped during diff")

// diffLeaf runs the topic diff and first post checks for one changed leaf.
func (w *Worker) diffLeaf(ctx context.Context, folderID int64) error {
	_, skipped, err := w.topics.DiffFolder(ctx, folderID)
	if err != nil {
		return err
	}

	if skipped > 0 {
		return fmt.Errorf("%w: %d in folder %d", errTopicsSkipped, skipped, folderID)
	}

	return w.checkFirstPosts(ctx, folderID)
}

// checkFirstPosts runs first post edit detection for the still-active topics
// of one folder. Invisible topics are skipped for the cycle; any other
// failure marks the leaf incomplete so the check reruns next cycle.
func (w *Worker) checkFirstPosts(ctx context.Context, folderID int64) error {
	searches, err := w.db.Model().Search().GetByFolder(ctx, folderID)
	if err != nil {
		return err
	}

	failures := 0

	for _, search := range searches {
		if !search.IsActive() {
			continue
		}

		if _, err := w.topics.CheckFirstPost(ctx, search); err != nil {
			if errors.Is(err, forum.ErrTopicDeleted) || errors.Is(err, forum.ErrTopicHidden) {
				w.logger.Warn("Topic not visible for first post check",
					zap.Int64("topicID", search.TopicID),
					zap.Error(err))

				continue
			}

			w.logger.Warn("First post check failed",
				zap.Int64("topicID", search.TopicID),
				zap.Error(err))

			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d first post checks failed in folder %d", failures, folderID)
	}

	return nil
}

// fanOut drains pending change log records into the delivery queue. Records
// that fail enrichment stay pending for the next cycle; the drain loop stops
// once a batch makes no progress so they cannot spin it forever.
func (w *Worker) fanOut(ctx context.Context) error {
	for {
		records, err := w.db.Model().ChangeLog().GetPending(ctx, w.config.Worker.FanOutBatchSize)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			return nil
		}

		processed := 0

		for _, record := range records {
			ok, err := w.processRecord(ctx, record)
			if err != nil {
				return err
			}

			if ok {
				processed++
			}
		}

		if processed == 0 {
			return nil
		}
	}
}

// processRecord enriches, filters, composes and enqueues one change log
// record. Returns false when the record was skipped and left pending.
func (w *Worker) processRecord(ctx context.Context, record *types.ChangeLog) (bool, error) {
	enriched, err := w.enricher.Enrich(ctx, record)
	if err != nil {
		if errors.Is(err, notify.ErrTopicMissing) {
			w.logger.Warn("Change log record references missing topic",
				zap.Int64("changeLogID", record.ID),
				zap.Int64("topicID", record.TopicID))

			return false, nil
		}

		return false, err
	}

	recipients, err := w.pipeline.Recipients(ctx, enriched)
	if err != nil {
		return false, err
	}

	rows, err := w.composeRows(ctx, enriched, recipients)
	if err != nil {
		return false, err
	}

	if len(rows) > 0 {
		if _, err := w.db.Service().Mailing().Enqueue(ctx, record, rows); err != nil {
			return false, err
		}
	}

	if err := w.markCommentsNotified(ctx, record); err != nil {
		return false, err
	}

	if err := w.db.Model().ChangeLog().SetFlag(ctx, record.ID, enum.ProcessingFlagSent); err != nil {
		return false, err
	}

	return true, nil
}

// composeRows renders one text row per recipient plus a paired location row
// when the message carries coordinates.
func (w *Worker) composeRows(
	ctx context.Context, enriched *notify.EnrichedRecord, recipients []*types.Profile,
) ([]*types.Notification, error) {
	var rows []*types.Notification

	for _, profile := range recipients {
		tipNumber := 0

		if enriched.Record.Kind == enum.ChangeKindNewTopic {
			count, err := w.db.Model().User().IncrementTipCount(ctx, profile.User.UserID)
			if err != nil {
				return nil, err
			}

			tipNumber = count
		}

		body, err := w.composer.Compose(enriched, profile, tipNumber)
		if err != nil {
			return nil, err
		}

		rows = append(rows, &types.Notification{
			UserID:  profile.User.UserID,
			Kind:    enum.MessageKindText,
			Content: body.Text,
		})

		// Text precedes its paired location in insertion order, which the
		// oldest-first drain preserves.
		if body.HasCoord {
			rows = append(rows, &types.Notification{
				UserID: profile.User.UserID,
				Kind:   enum.MessageKindLocation,
				Lat:    body.Lat,
				Lon:    body.Lon,
			})
		}
	}

	return rows, nil
}

// markCommentsNotified flips the notified flags for comment-type records so
// the next enrichment pass does not pick the same replies up again.
func (w *Worker) markCommentsNotified(ctx context.Context, record *types.ChangeLog) error {
	switch record.Kind {
	case enum.ChangeKindNewComments:
		return w.db.Model().Comment().MarkNotified(ctx, record.TopicID)
	case enum.ChangeKindNewInforgComment:
		return w.db.Model().Comment().MarkInforgNotified(ctx, record.TopicID)
	default:
		return nil
	}
}
