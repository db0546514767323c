package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/docscope/docscope/internal/chunkstore"
	"github.com/docscope/docscope/internal/config"
	"github.com/docscope/docscope/internal/embedding"
	"github.com/docscope/docscope/internal/handlers"
	"github.com/docscope/docscope/internal/jobs"
	"github.com/docscope/docscope/internal/llm"
	"github.com/docscope/docscope/internal/rag"
	"github.com/docscope/docscope/internal/rerank"
	"github.com/docscope/docscope/internal/vectordb/qdrant"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Monitoring.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := chunkstore.NewStore(cfg.ChunkStore.Path, logger)
	if err != nil {
		return fmt.Errorf("opening chunk store: %w", err)
	}
	defer store.Close()

	qdrantPort, err := strconv.Atoi(cfg.Qdrant.Port)
	if err != nil {
		return fmt.Errorf("invalid qdrant port %q: %w", cfg.Qdrant.Port, err)
	}
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:         cfg.Qdrant.Host,
		HTTPPort:     qdrantPort,
		APIKey:       cfg.Qdrant.APIKey,
		Timeout:      cfg.Qdrant.Timeout,
		DefaultLimit: cfg.Retrieval.CandidateFloor,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating qdrant client: %w", err)
	}

	// The service starts even when Qdrant is down; retrieval degrades to
	// lexical-only until it recovers.
	if err := qdrantClient.Connect(ctx); err != nil {
		logger.WithError(err).Warn("Qdrant unreachable at startup")
	} else if err := qdrantClient.EnsureCollection(ctx, cfg.Qdrant.Collection, cfg.Qdrant.VectorSize); err != nil {
		logger.WithError(err).Warn("Failed to ensure qdrant collection")
	}

	embedder := embedding.NewClient(embedding.Config{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	})

	var reranker rag.Reranker
	if cfg.Rerank.Enabled {
		reranker = rerank.NewClient(rerank.Config{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: cfg.Rerank.Timeout,
		})
	}

	generator := llm.NewClient(llm.Config{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		FallbackModel: cfg.LLM.FallbackModel,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		Timeout:       cfg.LLM.Timeout,
	}, logger)

	retriever := rag.NewHybridRetriever(
		embedder,
		rag.NewQdrantSearcher(qdrantClient, cfg.Qdrant.Collection, logger),
		store,
		store,
		reranker,
		&rag.RetrieverConfig{
			DefaultK:            cfg.Retrieval.DefaultK,
			CandidateFloor:      cfg.Retrieval.CandidateFloor,
			CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
			RRFConstant:         cfg.Retrieval.RRFConstant,
			SnippetMaxChars:     cfg.Retrieval.SnippetMaxChars,
		},
		logger,
	)
	pipeline := rag.NewPipeline(retriever, generator, logger)

	var jobStore jobs.Store
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		jobStore = jobs.NewRedisStore(redisClient, logger)
		logger.Info("Using Redis job store")
	} else {
		jobStore = jobs.NewMemoryStore()
		logger.Info("Using in-memory job store")
	}

	manager := jobs.NewManager(jobStore, pipeline, store, generator, jobs.Config{
		Concurrency:        cfg.Jobs.Concurrency,
		PerDocumentTimeout: cfg.Jobs.PerDocumentTimeout,
		ContextMaxChunks:   cfg.Jobs.ContextMaxChunks,
		ContextMaxChars:    cfg.Jobs.ContextMaxChars,
	}, logger)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Monitoring.MetricsEnabled {
		router.Use(handlers.MetricsMiddleware())
		handlers.RegisterMetricsRoute(router, cfg.Monitoring.MetricsPath)
	}

	checks := map[string]handlers.HealthCheck{
		"chunkstore": store.Ping,
		"qdrant":     qdrantClient.HealthCheck,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	handlers.RegisterHealthRoutes(router, handlers.NewHealthHandler(checks, logger))

	api := router.Group("/api/v1")
	handlers.RegisterAskRoutes(api, handlers.NewAskHandler(pipeline, jobStore, logger))
	handlers.RegisterTableRoutes(api, handlers.NewTableHandler(manager, jobStore, store, logger))

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
