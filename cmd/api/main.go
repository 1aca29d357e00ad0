package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/imagegen-back/internal/assets"
	"github.com/iago/imagegen-back/internal/config"
	"github.com/iago/imagegen-back/internal/domain"
	httpserver "github.com/iago/imagegen-back/internal/http"
	"github.com/iago/imagegen-back/internal/http/handlers"
	"github.com/iago/imagegen-back/internal/provider"
	"github.com/iago/imagegen-back/internal/queue"
	"github.com/iago/imagegen-back/internal/repository"
	"github.com/iago/imagegen-back/internal/safety"
	"github.com/iago/imagegen-back/internal/service"
	"github.com/iago/imagegen-back/internal/settings"
)

func main() {
	logger := log.New(os.Stdout, "[imagegen] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	assetStore, err := assets.NewDirStore(cfg.AssetsDir)
	if err != nil {
		logger.Fatalf("asset store: %v", err)
	}

	selector, err := provider.NewProfileSelector(provider.ProfileSelectorConfig{
		CompressionProfile: cfg.CompressionProfile,
		PacingPreset:       cfg.PacingPreset,
	})
	if err != nil {
		logger.Fatalf("render profile: %v", err)
	}

	runner := provider.NewRunner(provider.RunnerConfig{
		BaseURL: cfg.ProviderBaseURL,
		Timeout: time.Duration(cfg.ProviderTimeoutMS) * time.Millisecond,
		Attempt: provider.AttemptConfig{
			MaxPolls:             cfg.MaxPolls,
			PollInterval:         time.Duration(cfg.PollIntervalSec) * time.Second,
			CongestionExtraPolls: cfg.CongestionExtraPolls,
			ExtendedWait:         time.Duration(cfg.ExtendedWaitSec) * time.Second,
		},
		StyleTags: cfg.StyleTags,
	}, selector, safety.NewWordFilter(), assetStore, logger)

	resolver := settings.NewStaticResolver(&domain.ProviderSettings{
		ChannelRef: cfg.ProviderChannelRef,
		Credential: cfg.ProviderCredential,
		SessionRef: cfg.ProviderSessionRef,
		Version:    1,
		Enabled:    cfg.ProviderEnabled,
	})

	queueService := queue.NewService(repo, runner, resolver, queue.Config{
		ConcurrencyCap:        cfg.ConcurrencyCap,
		DispatchDelay:         time.Duration(cfg.DispatchDelayMS) * time.Millisecond,
		IdleInterval:          time.Duration(cfg.IdleIntervalMS) * time.Millisecond,
		StuckThreshold:        time.Duration(cfg.StuckThresholdSec) * time.Second,
		SweepInterval:         time.Duration(cfg.SweepIntervalSec) * time.Second,
		RetentionAge:          time.Duration(cfg.RetentionAgeHours) * time.Hour,
		RetentionInterval:     time.Duration(cfg.RetentionSweepMin) * time.Minute,
		MaxRetries:            cfg.MaxRetries,
		MaxConcurrencyRetries: cfg.MaxConcurrencyRetries,
		MaxCongestionRetries:  cfg.MaxCongestionRetries,
		RetryBaseDelay:        time.Duration(cfg.RetryBaseDelaySec) * time.Second,
		ConcurrencyRetryDelay: time.Duration(cfg.ConcurrencyDelaySec) * time.Second,
		CongestionRetryDelay:  time.Duration(cfg.CongestionDelaySec) * time.Second,
		AvgAttemptDuration:    time.Duration(cfg.AvgAttemptDurationSec) * time.Second,
		Logger:                logger,
	})
	queueService.Start(ctx)

	history := service.NewHistory(service.HistoryConfig{
		TTL:        time.Duration(cfg.HistoryTTLMin) * time.Minute,
		MaxEntries: cfg.HistoryMaxEntries,
	})
	queueAPI := service.NewQueueAPI(queueService, history, logger)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(queueAPI),
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// setupRepository picks the job store: Postgres when DATABASE_URL is set,
// Redis when only REDIS_ADDR is, memory otherwise.
func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL != "" {
		pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
		if err == nil {
			logger.Printf("postgres repository initialized")
			return pgRepo, pgRepo.Close
		}
		logger.Printf("failed to initialize postgres repository, falling back: %v", err)
	}

	if cfg.RedisAddr != "" {
		redisRepo, err := repository.NewRedisJobsRepository(ctx, repository.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err == nil {
			logger.Printf("redis repository initialized")
			return redisRepo, func() { _ = redisRepo.Close() }
		}
		logger.Printf("failed to initialize redis repository, falling back: %v", err)
	}

	logger.Printf("using in-memory repository")
	return repository.NewMemoryJobsRepository(), func() {}
}
