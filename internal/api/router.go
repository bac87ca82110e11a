package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/osmotic/tessera/internal/api/handlers"
	mw "github.com/osmotic/tessera/internal/api/middleware"
	"github.com/osmotic/tessera/internal/buildconfig"
	"github.com/osmotic/tessera/internal/config"
	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/rules"
	"github.com/osmotic/tessera/internal/service"
	"github.com/osmotic/tessera/internal/store"
	"go.uber.org/zap"
)

// App holds the router and wired services for lifecycle management.
type App struct {
	Router       *chi.Mux
	Events       *service.EventStoreService
	Registry     *service.RegistryService
	Engine       *service.ConstraintEngineService
	Validation   *service.ValidationService
	Semantic     *service.SemanticService
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewApp wires stores, services, and routes. A nil pool selects the
// in-memory event log; documents, constraints, and mappings are always
// in-memory.
func NewApp(db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	// Stores
	var eventLog domain.EventLog
	if db != nil {
		eventLog = store.NewPostgresEventLog(db)
	} else {
		eventLog = store.NewMemoryEventLog()
	}
	documentStore := store.NewMemoryDocumentStore()
	constraintStore := store.NewMemoryConstraintStore()
	mappingStore := store.NewMemoryMappingStore()

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		return nil, err
	}

	// Services
	skew := config.ClockSkewTolerance()
	eventSvc := service.NewEventStoreService(eventLog, skew, logger)
	registrySvc := service.NewRegistryService(documentStore, logger)
	engineSvc := service.NewConstraintEngineService(constraintStore, registrySvc, evaluator, logger)
	validationSvc := service.NewValidationService(engineSvc, registrySvc, eventSvc, skew, logger)
	semanticSvc := service.NewSemanticService(mappingStore, engineSvc, eventSvc, logger)

	// Handlers
	eventHandler := handlers.NewEventHandler(eventSvc)
	documentHandler := handlers.NewDocumentHandler(registrySvc)
	constraintHandler := handlers.NewConstraintHandler(engineSvc)
	validationHandler := handlers.NewValidationHandler(validationSvc)
	mappingHandler := handlers.NewMappingHandler(semanticSvc)

	r := chi.NewRouter()

	app := &App{
		Router:     r,
		Events:     eventSvc,
		Registry:   registrySvc,
		Engine:     engineSvc,
		Validation: validationSvc,
		Semantic:   semanticSvc,
		startTime:  time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		// Event store
		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Submit)
			r.Get("/", eventHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", eventHandler.GetByID)
				r.Post("/compensate", validationHandler.Compensate)
			})
		})

		// Document registry
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documentHandler.Register)
			r.Get("/", documentHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", documentHandler.GetByID)
				r.Post("/supersede", documentHandler.Supersede)
				r.Get("/chain", documentHandler.Chain)
				r.Put("/linkage", documentHandler.Link)
				r.Get("/linkage", documentHandler.Linkage)
			})
		})

		// Constraint engine
		r.Route("/constraints", func(r chi.Router) {
			r.Post("/", constraintHandler.Register)
			r.Get("/applicable", constraintHandler.Applicable)
			r.Get("/{id}", constraintHandler.GetByID)
		})

		// Validation
		r.Route("/validate", func(r chi.Router) {
			r.Post("/event", validationHandler.ValidateEvent)
			r.Post("/batch", validationHandler.ValidateBatch)
		})
		r.Get("/audit", validationHandler.AuditLog)

		// Semantic access layer
		r.Route("/mappings", func(r chi.Router) {
			r.Post("/", mappingHandler.Create)
			r.Get("/resolve", mappingHandler.Resolve)
			r.Get("/", mappingHandler.ForHolon)
			r.Post("/consistency", mappingHandler.CheckConsistency)
		})
		r.Post("/precedence-rules", mappingHandler.CreatePrecedenceRule)
		r.Post("/external-data", mappingHandler.SubmitExternalData)
	})

	return app, nil
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": buildconfig.Version()})
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
			"version":    buildconfig.VersionInfo(),
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy the domain interfaces at compile time.
var (
	_ domain.EventLog        = (*store.MemoryEventLog)(nil)
	_ domain.EventLog        = (*store.PostgresEventLog)(nil)
	_ domain.DocumentStore   = (*store.MemoryDocumentStore)(nil)
	_ domain.ConstraintStore = (*store.MemoryConstraintStore)(nil)
	_ domain.MappingStore    = (*store.MemoryMappingStore)(nil)
)
