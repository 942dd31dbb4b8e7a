package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchparty/beacon/internal/setup"
	"github.com/searchparty/beacon/internal/worker/crawl"
	"github.com/searchparty/beacon/internal/worker/deliver"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// CrawlWorker walks the forum, diffs topics and fans notifications out.
	CrawlWorker = "crawl"

	// DeliverWorker drains the notification queue into the messaging API.
	DeliverWorker = "deliver"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "worker",
		Usage: "Start a beacon worker",
		Commands: []*cli.Command{
			{
				Name:  CrawlWorker,
				Usage: "Start the crawl worker",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runWorker(ctx, CrawlWorker)
				},
			},
			{
				Name:  DeliverWorker,
				Usage: "Start the delivery worker",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runWorker(ctx, DeliverWorker)
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// runWorker initializes the application and runs one worker until it is
// interrupted.
func runWorker(ctx context.Context, workerType string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx)
	if err != nil {
		return err
	}
	defer app.Cleanup(context.Background())

	logger := app.Logger.Named(workerType)

	switch workerType {
	case CrawlWorker:
		err = crawl.New(app, logger).Start(ctx)
	case DeliverWorker:
		err = deliver.New(app, logger).Start(ctx)
	}

	if err != nil && ctx.Err() == nil {
		logger.Error("Worker stopped with error", zap.Error(err))

		return err
	}

	logger.Info("Worker shut down")

	return nil
}
