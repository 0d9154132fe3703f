package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"docinsight/internal/api"
	"docinsight/internal/config"
	"docinsight/internal/extractor"
	"docinsight/internal/logger"
	"docinsight/internal/ratelimit"
	"docinsight/internal/redis"
	"docinsight/internal/service/ai"
	"docinsight/internal/service/insight"
	"docinsight/internal/storage"
	"docinsight/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("docinsight", "development", "info").Fatal().Err(err).Msg("load config")
	}
	log := logger.New("docinsight", cfg.BasicConfig.Environment, cfg.BasicConfig.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := ai.NewProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init ai provider")
	}
	log.Info().Str("provider", provider.Name()).Str("model", cfg.Provider().Model).Msg("ai provider ready")

	ex, err := extractor.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("init extractor")
	}
	analyzer := insight.New(provider, insight.Options{
		Timeout:       cfg.AI.Timeout,
		Language:      cfg.AI.ResponseLanguage,
		MaxInputChars: cfg.AI.MaxInputChars,
		Logger:        log,
	})

	store, err := uploads.NewStore(cfg.BasicConfig.UploadDir, cfg.BasicConfig.TempFileTTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init upload store")
	}
	store.StartTempFileCleaner(ctx, cfg.BasicConfig.TempCleanInterval)

	opts := api.Options{
		MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes,
		Logger:         log,
	}

	if cfg.UsageDB.Enabled() {
		db, err := storage.Open(cfg.UsageDB)
		if err != nil {
			log.Fatal().Err(err).Msg("open usage database")
		}
		defer db.Close()
		if err := storage.Migrate(db, cfg.UsageDB.Driver); err != nil {
			log.Fatal().Err(err).Msg("migrate usage database")
		}
		opts.Usage = storage.NewUsageLog(db)
		log.Info().Str("driver", cfg.UsageDB.Driver).Msg("usage log enabled")
	}

	if limit := cfg.BasicConfig.RateLimitPerMin; limit > 0 {
		if cfg.Redis.Addr != "" {
			rdb, err := redis.NewRedisClient(cfg.Redis)
			if err != nil {
				log.Fatal().Err(err).Msg("create redis client")
			}
			defer rdb.Close()
			opts.Limiter = ratelimit.NewRedis(rdb, "", limit, time.Minute)
			opts.Redis = rdb
		} else {
			mem := ratelimit.NewMemory(limit, time.Minute)
			mem.StartPruner(ctx)
			opts.Limiter = mem
		}
		log.Info().Int("per_minute", limit).Bool("redis", cfg.Redis.Addr != "").Msg("rate limit enabled")
	}

	handlers := api.NewHandler(ex, analyzer, store, opts)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := api.NewRouter(handlers, cfg.BasicConfig.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("init router")
	}

	log.Info().Str("addr", cfg.BasicConfig.ServerAddress).Msg("server starting")
	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
