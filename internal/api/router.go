package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/adverant/nexus-memory/internal/api/handlers"
	mw "github.com/adverant/nexus-memory/internal/api/middleware"
	"github.com/adverant/nexus-memory/internal/classify"
	"github.com/adverant/nexus-memory/internal/config"
	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/embedding"
	"github.com/adverant/nexus-memory/internal/extract"
	"github.com/adverant/nexus-memory/internal/llm"
	"github.com/adverant/nexus-memory/internal/rerank"
	"github.com/adverant/nexus-memory/internal/resolve"
	"github.com/adverant/nexus-memory/internal/service"
	"github.com/adverant/nexus-memory/internal/store"
	"github.com/adverant/nexus-memory/internal/temporal"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies carries the backing stores and external clients the router
// wires into services. Tests substitute fakes here.
type Dependencies struct {
	Relational domain.RelationalStore
	Vector     domain.VectorStore
	Graph      domain.GraphStore
	KV         domain.KVStore
	Embedder   domain.EmbeddingClient
	LLM        domain.LLMClient
	Rerank     domain.RerankClient
	Logger     *zap.Logger
}

// App holds the router and background services for lifecycle management.
type App struct {
	Router        *chi.Mux
	Consolidation *service.ConsolidationService
	deps          Dependencies
	startTime     time.Time
	requestCount  atomic.Int64
	errorCount    atomic.Int64
}

func NewApp(deps Dependencies) *App {
	logger := deps.Logger

	classifier := classify.New(deps.Rerank, deps.LLM, classify.Options{
		HighConfidence:   config.ClassificationHigh(),
		MediumConfidence: config.ClassificationMedium(),
		BaseConfidence:   config.ClassificationBase(),
		Semantic:         config.SemanticClassification(),
	}, logger)
	extractor := extract.New(deps.LLM, classifier, temporal.NewExtractor(), extract.OptionsFromEnv(), logger)
	resolver := resolve.New(deps.Graph, deps.Rerank, resolve.Options{
		EntityWindow: config.ResolverEntityWindow(),
		ShortlistMax: config.RerankShortlistMax(),
	}, logger)

	storageSvc := service.NewStorageService(deps.Relational, deps.Vector, deps.Graph, deps.KV, deps.Embedder, logger)
	episodeSvc := service.NewEpisodeService(deps.Graph, deps.Vector, deps.Embedder, extractor, resolver, logger)
	recallSvc := service.NewRecallService(deps.Graph, deps.Vector, deps.Relational, deps.Embedder, deps.Rerank, service.RecallOptions{
		EpisodicScoreThreshold: config.EpisodicScoreThreshold(),
		UnifiedScoreThreshold:  config.UnifiedScoreThreshold(),
		MaxEntitiesPerQuery:    config.MaxEntitiesPerQuery(),
	}, logger)
	consolidationSvc := service.NewConsolidationService(deps.Graph, deps.LLM, episodeSvc, logger)
	consolidationSvc.SetInterval(time.Duration(config.ConsolidationIntervalMinutes()) * time.Minute)

	memoryHandler := handlers.NewMemoryHandler(storageSvc, recallSvc)
	episodeHandler := handlers.NewEpisodeHandler(episodeSvc, recallSvc)
	adminHandler := handlers.NewAdminHandler(consolidationSvc, episodeSvc)

	r := chi.NewRouter()

	app := &App{
		Router:        r,
		Consolidation: consolidationSvc,
		deps:          deps,
		startTime:     time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health and metrics (no tenant headers required)
	r.Get("/health", app.healthHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/metrics/runtime", app.runtimeHandler())

	// Tenant-scoped API
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.Tenant)
		r.Use(app.trackTenant)

		r.Route("/memories", func(r chi.Router) {
			r.Post("/recall", memoryHandler.Recall)
			r.Post("/", memoryHandler.Store)
			r.Get("/", memoryHandler.List)
			r.Get("/{id}", memoryHandler.GetByID)
			r.Delete("/{id}", memoryHandler.Delete)
		})

		r.Route("/episodes", func(r chi.Router) {
			r.Post("/recall", episodeHandler.Recall)
			r.Post("/", episodeHandler.Store)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", episodeHandler.GetByID)
				r.Put("/importance", episodeHandler.UpdateImportance)
			})
		})

		r.Post("/entities/merge", episodeHandler.MergeEntities)
		r.Post("/facts/{id}/validate", episodeHandler.ValidateFact)

		r.Post("/consolidate", adminHandler.Consolidate)
		r.Get("/stats", adminHandler.Stats)
	})

	return app
}

// trackTenant registers each caller's lane with the consolidation sweeper
// so the background pass covers every tenant the service has seen.
func (app *App) trackTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant, ok := mw.TenantFromContext(r.Context()); ok {
			app.Consolidation.Track(tenant)
		}
		next.ServeHTTP(w, r)
	})
}

type storeHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (app *App) healthHandler() http.HandlerFunc {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	check := func(ctx context.Context, p pinger) storeHealth {
		if err := p.Ping(ctx); err != nil {
			return storeHealth{Status: "error", Error: err.Error()}
		}
		return storeHealth{Status: "ok"}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		stores := map[string]storeHealth{
			"postgres": check(ctx, app.deps.Relational),
			"qdrant":   check(ctx, app.deps.Vector),
			"neo4j":    check(ctx, app.deps.Graph),
			"redis":    check(ctx, app.deps.KV),
		}

		status := http.StatusOK
		overall := "ok"
		for _, s := range stores {
			if s.Status != "ok" {
				status = http.StatusServiceUnavailable
				overall = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"stores": stores,
		})
	}
}

func (app *App) runtimeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.RelationalStore = (*store.PostgresStore)(nil)
	_ domain.VectorStore     = (*store.QdrantStore)(nil)
	_ domain.GraphStore      = (*store.Neo4jStore)(nil)
	_ domain.KVStore         = (*store.RedisStore)(nil)
	_ resolve.EntitySource   = (*store.Neo4jStore)(nil)
	_ domain.EmbeddingClient = (*embedding.VoyageClient)(nil)
	_ domain.EmbeddingClient = (*embedding.CachedClient)(nil)
	_ domain.EmbeddingClient = (*embedding.Pipeline)(nil)
	_ domain.EmbeddingClient = (*embedding.MockClient)(nil)
	_ domain.LLMClient       = (*llm.OpenRouterClient)(nil)
	_ domain.LLMClient       = (*llm.MockClient)(nil)
	_ domain.RerankClient    = (*rerank.VoyageClient)(nil)
	_ domain.RerankClient    = (*rerank.MockClient)(nil)
)
