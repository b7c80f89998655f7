package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/api"
	"github.com/user/price-tracker/internal/browser"
	"github.com/user/price-tracker/internal/collector"
	"github.com/user/price-tracker/internal/config"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/extract"
	"github.com/user/price-tracker/internal/monitoring"
	"github.com/user/price-tracker/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("could not load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()

	redisStore := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisStore.Close()

	metrics := monitoring.NewMetrics()

	// Collector identity
	collectorID := cfg.CollectorID
	if collectorID == "" {
		collectorID = uuid.NewString()
	}
	name := cfg.CollectorName
	if name == "" {
		name, _ = os.Hostname()
	}
	err = pgStore.UpsertCollector(ctx, domain.Collector{
		ID:     collectorID,
		Name:   name,
		Kind:   cfg.Executor,
		Status: domain.CollectorActive,
		Capabilities: map[string]bool{
			"html_json":   true,
			"vision":      cfg.VisionEnabled,
			"railway_dom": cfg.DOMFallbackEnabled,
		},
	})
	if err != nil {
		logger.Fatal("failed to register collector", zap.Error(err))
	}

	// Extraction stages
	httpClient := &http.Client{Timeout: cfg.FetchTimeout()}
	htmlStage := extract.NewHTMLJSONStage(httpClient, cfg.UserAgent)

	pool := browser.NewPool(2, cfg.NavigateTimeout(), cfg.UserAgent)
	adapter := browser.NewStageAdapter(pool, cfg.DOMReadyWait())

	var visionStage *extract.VisionStage
	if cfg.VisionEnabled {
		provider := extract.SelectProvider(extract.ProviderConfig{
			Preferred:        cfg.VisionProvider,
			Model:            cfg.VisionModel,
			OpenRouterAPIKey: cfg.OpenRouterAPIKey,
			OpenAIAPIKey:     cfg.OpenAIAPIKey,
			HTTPClient:       httpClient,
		})
		if provider == nil {
			logger.Warn("vision enabled but no provider key configured")
		} else {
			visionStage = extract.NewVisionStage(adapter, provider)
			logger.Info("vision stage enabled",
				zap.String("provider", provider.Name()),
				zap.String("model", provider.Model()))
		}
	}

	var domStage extract.Stage
	if cfg.DOMFallbackEnabled {
		domStage = extract.NewDOMStage(adapter, 2*time.Second)
	}

	pipeline := extract.NewPipeline(htmlStage, visionStage, domStage, extract.PipelineConfig{
		VisionEnabled:      cfg.VisionEnabled,
		DOMFallbackEnabled: cfg.DOMFallbackEnabled,
		Guardrail: extract.GuardrailConfig{
			MinConfidence:    cfg.GuardrailMinConfidence,
			MaxRelativeDelta: cfg.GuardrailMaxRelDelta,
		},
	}, logger)

	coordinator := collector.NewCoordinator(
		pipeline, pgStore, pgStore, pgStore, redisStore, metrics, logger,
		collector.CoordinatorOptions{
			CollectorID: collectorID,
			Executor:    cfg.Executor,
		})

	loop := collector.NewLoop(coordinator, pgStore, pgStore, redisStore, metrics, logger, collector.LoopConfig{
		CollectorID:  collectorID,
		PollInterval: cfg.PollInterval(),
		ClaimLimit:   cfg.ClaimLimit,
		Lease:        time.Duration(cfg.LeaseSeconds) * time.Second,
		RouteHint:    cfg.RouteHint,
	})

	server := api.NewServer(cfg, loop, pgStore, redisStore, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()
	logger.Info("server started", zap.String("port", cfg.ServerPort))

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("collector loop stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-loopDone
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("collector exiting")
}

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
