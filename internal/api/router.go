package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/drophq/drophq/internal/api/handlers"
	mw "github.com/drophq/drophq/internal/api/middleware"
	"github.com/drophq/drophq/internal/buildconfig"
	"github.com/drophq/drophq/internal/config"
	"github.com/drophq/drophq/internal/domain"
	"github.com/drophq/drophq/internal/llm"
	"github.com/drophq/drophq/internal/service"
	"github.com/drophq/drophq/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router and request metrics.
type App struct {
	Router       *chi.Mux
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
	rateLimiter  *mw.RateLimiter
}

// Close releases background resources held by the app.
func (app *App) Close() {
	app.rateLimiter.Stop()
}

func NewApp(st *store.Store, logger *zap.Logger) *App {
	// Generation client via provider factory, wrapped with bounded retry
	// for transient failures
	var client domain.GenerationClient
	provider := config.LLMProvider()
	client, err := llm.NewClient(provider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("generation client initialization failed, falling back to mock",
			zap.String("provider", provider), zap.Error(err))
		client = llm.NewMockClient()
	} else {
		logger.Info("generation client initialized", zap.String("provider", provider))
	}
	client = llm.NewRetryingClient(client, config.LLMRetryAttempts(), config.LLMRetryBase(), logger)

	// Services
	sessionSvc := service.NewSessionService(st, st, logger)
	synthesisSvc := service.NewSynthesisService(client, logger)
	critiqueSvc := service.NewCritiqueService(client, logger)
	metadataSvc := service.NewMetadataService(st, st, logger)
	lifecycleSvc := service.NewLifecycleService(st, st, synthesisSvc, critiqueSvc, metadataSvc, logger)
	tracker := service.NewContextTracker(config.ContextMaxTokens(), config.ContextWarnThreshold(), logger)

	// Handlers
	sessionHandler := handlers.NewSessionHandler(sessionSvc, lifecycleSvc, metadataSvc)
	roundHandler := handlers.NewRoundHandler(lifecycleSvc)
	contextHandler := handlers.NewContextHandler(tracker)

	r := chi.NewRouter()

	app := &App{
		Router:      r,
		startTime:   time.Now(),
		rateLimiter: mw.NewRateLimiter(config.RateLimitRPS(), config.RateLimitBurst()),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(app.rateLimiter.Middleware)

	// Health and metrics (no auth)
	r.Get("/health", healthHandler())
	r.Get("/metrics", app.metricsHandler())

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(config.APIKey()))

		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Get("/", sessionHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetByID)
				r.Get("/truth", sessionHandler.Truth)
				r.Get("/metadata", sessionHandler.Metadata)
				r.Post("/metadata/rebuild", sessionHandler.RebuildMetadata)
				r.Post("/resume", sessionHandler.Resume)
				r.Put("/autosave/{name}", sessionHandler.Autosave)
				r.Get("/autosave/{name}", sessionHandler.LoadAutosave)

				// Rounds
				r.Route("/rounds", func(r chi.Router) {
					r.Post("/", roundHandler.Create)
					r.Get("/", roundHandler.List)
					r.Route("/{roundID}", func(r chi.Router) {
						r.Get("/", roundHandler.GetByID)
						r.Delete("/", roundHandler.Cancel)
						r.Post("/begin", roundHandler.Begin)
						r.Post("/findings", roundHandler.SubmitFindings)
						r.Get("/findings", roundHandler.Findings)
						r.Post("/synthesize", roundHandler.Synthesize)
						r.Post("/fail", roundHandler.Fail)
						r.Get("/critique", roundHandler.Critique)
						r.Get("/metadata", roundHandler.Metadata)
					})
				})
			})
		})

		// Context budget tracking
		r.Route("/context", func(r chi.Router) {
			r.Get("/", contextHandler.Usage)
			r.Post("/messages", contextHandler.RecordMessage)
			r.Post("/documents", contextHandler.SetDocument)
			r.Post("/compaction/preview", contextHandler.PreviewCompaction)
		})
	})

	return app
}

// NewRouter returns just the chi.Mux.
func NewRouter(st *store.Store, logger *zap.Logger) *chi.Mux {
	return NewApp(st, logger).Router
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": buildconfig.Version(),
		})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
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
			"build": buildconfig.VersionInfo(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure the store and clients satisfy the domain interfaces at compile time.
var (
	_ domain.SessionStore     = (*store.Store)(nil)
	_ domain.RoundStore       = (*store.Store)(nil)
	_ domain.GenerationClient = (*llm.OpenAIClient)(nil)
	_ domain.GenerationClient = (*llm.AnthropicClient)(nil)
	_ domain.GenerationClient = (*llm.MockClient)(nil)
	_ domain.GenerationClient = (*llm.RetryingClient)(nil)
)
