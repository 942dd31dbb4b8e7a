package setup

import (
	"context"

	"github.com/redis/rueidis"
	"github.com/searchparty/beacon/internal/classify"
	"github.com/searchparty/beacon/internal/database"
	"github.com/searchparty/beacon/internal/forum"
	"github.com/searchparty/beacon/internal/geocode"
	"github.com/searchparty/beacon/internal/messenger"
	"github.com/searchparty/beacon/internal/redis"
	"github.com/searchparty/beacon/internal/setup/config"
	"go.uber.org/zap"
)

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and
// cleanup.
type App struct {
	Config       *config.Config   // Application configuration
	Logger       *zap.Logger      // Main application logger
	DBLogger     *zap.Logger      // Database-specific logger
	DB           database.Client  // Database connection pool
	RedisManager *redis.Manager   // Redis connection manager
	StatusClient rueidis.Client   // Redis client for worker status reporting
	Forum        forum.Client     // Forum collaborator client
	Classifier   classify.Client  // Title classification client
	Geocoder     *geocode.Geocoder // Address resolution with cache and rate limit
	Messenger    messenger.Client // Delivery API client
}

// InitializeApp bootstraps all application dependencies in the correct
// order, ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context) (*App, error) {
	// Load app configuration
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	logger, dbLogger, err := NewLoggers(&cfg.Common.Debug)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration", zap.String("configDir", configDir))

	// Redis manager provides connection pools for various subsystems
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	// Initialize database with migration check
	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, dbLogger.Named("database"), true)
	if err != nil {
		return nil, err
	}

	// Redis clients for caching, rate limiting and status reporting
	cacheClient, err := redisManager.GetClient(redis.CacheDBIndex)
	if err != nil {
		return nil, err
	}

	ratelimitClient, err := redisManager.GetClient(redis.RatelimitDBIndex)
	if err != nil {
		return nil, err
	}

	statusClient, err := redisManager.GetClient(redis.WorkerStatusDBIndex)
	if err != nil {
		return nil, err
	}

	// Collaborator clients
	forumClient := forum.NewHTTPClient(&cfg.Common.Forum, logger)
	classifier := classify.NewHTTPClient(&cfg.Common.Classify, logger)
	geocoder := geocode.New(&cfg.Common.Geocode, cacheClient, ratelimitClient, logger)
	messengerClient := messenger.NewHTTPClient(&cfg.Common.Messenger, logger)

	// Bundle all initialized components
	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger,
		DB:           db,
		RedisManager: redisManager,
		StatusClient: statusClient,
		Forum:        forumClient,
		Classifier:   classifier,
		Geocoder:     geocoder,
		Messenger:    messengerClient,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse
// initialization order. Logs but does not fail on cleanup errors so every
// component gets a cleanup attempt.
func (s *App) Cleanup(_ context.Context) {
	// Sync buffered logs before shutdown
	_ = s.Logger.Sync()
	_ = s.DBLogger.Sync()

	if err := s.DB.Close(); err != nil {
		s.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	s.RedisManager.Close()
}
