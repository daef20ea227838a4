// File: cmd/app/main.go
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"product-image-pipeline/internal/config"
	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/domain/ports/repository"
	aiAdapters "product-image-pipeline/internal/infra/adapters/ai"
	"product-image-pipeline/internal/infra/adapters/fetch"
	"product-image-pipeline/internal/infra/adapters/storage"
	tele "product-image-pipeline/internal/infra/adapters/telegram"
	"product-image-pipeline/internal/infra/adapters/transform"
	"product-image-pipeline/internal/infra/api"
	pg "product-image-pipeline/internal/infra/db/postgres"
	"product-image-pipeline/internal/infra/db/sqlite"
	"product-image-pipeline/internal/infra/events"
	"product-image-pipeline/internal/infra/logging"
	"product-image-pipeline/internal/infra/metrics"
	red "product-image-pipeline/internal/infra/redis"
	"product-image-pipeline/internal/infra/sched"
	"product-image-pipeline/internal/infra/worker"
	"product-image-pipeline/internal/usecase"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(metrics.Version, metrics.Commit)

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
	}

	// ---- Database ----
	st, err := openStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("database")
	}
	defer st.close()

	// ---- Object storage ----
	objects, filesRoot, err := buildStorage(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("storage")
	}

	// ---- AI ----
	analyzer, err := buildAnalyzer(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.AI.Provider).Msg("ai analyzer")
	}

	var fetcher adapter.SourceFetcher
	if cfg.Pipeline.FetchURLs {
		fetcher = fetch.NewHTTPFetcher(cfg.HTTP.UploadTimeout, logger)
	}

	// ---- Events ----
	bus := events.NewBus(logger)
	bus.Subscribe(metrics.NewEventRecorder())

	var notifier adapter.Notifier = tele.NewLogNotifier(logger)
	if cfg.Notify.Telegram.Token != "" {
		bot, err := tele.NewBotNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
		notifier = bot
	}
	statusNotifier := tele.NewStatusNotifier(notifier, 64, logger)
	bus.Subscribe(statusNotifier)
	go statusNotifier.Run(ctx)

	hub := api.NewHub(logger)
	bus.Subscribe(hub)

	// ---- Use cases ----
	uploadUC := usecase.NewUploadImageUseCase(st.jobs, st.tx, objects, fetcher, bus, cfg.Pipeline.MaxUploadBytes, logger)
	jobUC := usecase.NewJobUseCase(st.jobs, st.tx, objects, bus, logger)
	pipelineUC := usecase.NewProcessPipelineUseCase(st.jobs, st.tx, transform.NewWebPTransformer(logger), objects, analyzer, bus, logger)

	// ---- Workers ----
	pool := worker.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
	pool.Start(ctx)
	defer pool.Stop()

	var locker worker.ClaimLocker
	if redisClient != nil {
		locker = red.NewLocker(redisClient)
	}
	processor := worker.NewPipelineProcessor(st.jobs, pipelineUC, locker, worker.ProcessorConfig{
		PollInterval: cfg.Pipeline.PollInterval,
		JobTimeout:   cfg.Pipeline.JobTimeout,
		WithAI:       cfg.Pipeline.UseAI && analyzer != nil,
	}, logger)
	go processor.Start(ctx, pool)

	reaper := sched.NewStuckJobReaper(cfg.Pipeline.ReapInterval, cfg.Pipeline.StuckAfter, jobUC, logger)
	go func() { _ = reaper.Run(ctx) }()

	// ---- HTTP ----
	deps := api.Deps{
		Uploads:   uploadUC,
		Jobs:      jobUC,
		Pipeline:  processor,
		Storage:   objects,
		Hub:       hub,
		Ready:     st.ping,
		FilesRoot: filesRoot,
		MaxUpload: cfg.Pipeline.MaxUploadBytes,
	}
	if redisClient != nil {
		deps.Limiter = red.NewRateLimiter(redisClient)
	}
	srv := api.NewServer(deps, cfg.HTTP, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("http server stopped")
		cancel()
	}
	logger.Info().Msg("shutdown complete")
}

type store struct {
	jobs  repository.ImageJobRepository
	tx    repository.TransactionManager
	ping  func(ctx context.Context) error
	close func()
}

func openStore(ctx context.Context, cfg *config.Config, redisClient *red.Client, logger *zerolog.Logger) (*store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		tm := sqlite.NewTxManager(db)
		return &store{
			jobs:  sqlite.NewImageJobRepo(db, tm),
			tx:    tm,
			ping:  db.PingContext,
			close: func() { closeDB(db, logger) },
		}, nil
	default:
		pool, err := pg.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		go metrics.WatchPool(ctx, pool, 15*time.Second)
		tm := pg.NewTxManager(pool)
		var jobs repository.ImageJobRepository = pg.NewImageJobRepo(pool, tm)
		if redisClient != nil {
			jobs = pg.NewImageJobRepoCacheDecorator(jobs, redisClient, cfg.Redis.TTL, logger)
		}
		return &store{jobs: jobs, tx: tm, ping: pingPool(pool), close: pool.Close}, nil
	}
}

func pingPool(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func closeDB(db *sql.DB, logger *zerolog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn().Err(err).Msg("close sqlite")
	}
}

// buildStorage returns the store and, for local storage, the directory to
// serve under /files.
func buildStorage(cfg config.StorageConfig) (adapter.ObjectStorage, string, error) {
	if cfg.Driver == "supabase" {
		s, err := storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket)
		if err != nil {
			return nil, "", err
		}
		return s, "", nil
	}
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "/files"
	}
	s, err := storage.NewLocalStore(cfg.LocalRoot, baseURL)
	if err != nil {
		return nil, "", err
	}
	return s, s.Root(), nil
}

// buildAnalyzer returns nil for provider "none".
func buildAnalyzer(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (adapter.ImageAnalyzer, error) {
	var chain []adapter.ImageAnalyzer
	if cfg.Provider == "openai" || (cfg.Provider == "multi" && cfg.OpenAIKey != "") {
		oa, err := aiAdapters.NewOpenAIAnalyzer(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, logger)
		if err != nil {
			return nil, err
		}
		chain = append(chain, aiAdapters.NewLimitedAnalyzer(oa, cfg.ConcurrentLimit, cfg.Timeout))
	}
	if cfg.Provider == "gemini" || (cfg.Provider == "multi" && cfg.GeminiKey != "") {
		gm, err := aiAdapters.NewGeminiAnalyzer(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.GeminiModel, logger)
		if err != nil {
			return nil, err
		}
		chain = append(chain, aiAdapters.NewLimitedAnalyzer(gm, cfg.ConcurrentLimit, cfg.Timeout))
	}
	switch len(chain) {
	case 0:
		logger.Info().Msg("AI analysis disabled")
		return nil, nil
	case 1:
		logger.Info().Str("provider", cfg.Provider).Msg("AI analyzer ready")
		return chain[0], nil
	default:
		logger.Info().Int("providers", len(chain)).Msg("AI analyzer chain ready")
		return aiAdapters.NewMultiAnalyzer(logger, chain...), nil
	}
}
