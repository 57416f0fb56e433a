package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus-memory/internal/api"
	"github.com/adverant/nexus-memory/internal/config"
	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/embedding"
	"github.com/adverant/nexus-memory/internal/llm"
	"github.com/adverant/nexus-memory/internal/rerank"
	"github.com/adverant/nexus-memory/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	logger, _ := zap.NewProduction()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if level, err := zapcore.ParseLevel(config.LogLevel()); err == nil {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		if l, err := cfg.Build(); err == nil {
			logger = l
		}
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Postgres
	dbURL := config.DatabaseURL()
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	relational := store.NewPostgresStore(pool, config.LegacyCompanyReads())
	logger.Info("connected to postgres")

	// Redis
	redisOpts, err := redis.ParseURL(config.RedisURL())
	if err != nil {
		logger.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	kv := store.NewRedisStore(redisClient)
	logger.Info("connected to redis")

	// Qdrant
	vector := store.NewQdrantStore(config.QdrantURL(), config.QdrantAPIKey())
	for _, collection := range []string{domain.CollectionUnified, domain.CollectionMemories} {
		if err := vector.EnsureCollection(ctx, collection); err != nil {
			logger.Fatal("failed to ensure qdrant collection",
				zap.String("collection", collection), zap.Error(err))
		}
	}
	logger.Info("connected to qdrant")

	// Neo4j
	driver, err := neo4j.NewDriverWithContext(config.Neo4jURI(),
		neo4j.BasicAuth(config.Neo4jUser(), config.Neo4jPassword(), ""))
	if err != nil {
		logger.Fatal("failed to create neo4j driver", zap.Error(err))
	}
	defer func() { _ = driver.Close(ctx) }()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		logger.Fatal("failed to verify neo4j connectivity", zap.Error(err))
	}
	graph := store.NewNeo4jStore(driver, config.LegacyCompanyReads())
	logger.Info("connected to neo4j")

	// Embeddings: Voyage behind a Redis cache and a circuit breaker.
	voyageKey, err := config.VoyageAPIKey()
	if err != nil {
		logger.Fatal("invalid voyage configuration", zap.Error(err))
	}
	cacheTTL := time.Duration(config.EmbeddingCacheTTLHours()) * time.Hour
	var embedder domain.EmbeddingClient = embedding.NewVoyageClient(voyageKey)
	embedder = embedding.NewCachedClient(embedder, kv, cacheTTL, logger)
	embedder = embedding.NewPipeline(embedder, logger)

	reranker := rerank.NewVoyageClient(voyageKey)

	llmClient, err := llm.NewClient(llm.ProviderOpenRouter, config.OpenRouterAPIKey())
	if err != nil {
		logger.Fatal("failed to create llm client", zap.Error(err))
	}

	app := api.NewApp(api.Dependencies{
		Relational: relational,
		Vector:     vector,
		Graph:      graph,
		KV:         kv,
		Embedder:   embedder,
		LLM:        llmClient,
		Rerank:     reranker,
		Logger:     logger,
	})

	app.Consolidation.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	app.Consolidation.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
