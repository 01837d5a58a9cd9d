package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bridgedesk/backend/internal/api"
	"github.com/bridgedesk/backend/internal/auth"
	"github.com/bridgedesk/backend/internal/config"
	"github.com/bridgedesk/backend/internal/gateway"
	"github.com/bridgedesk/backend/internal/metrics"
	"github.com/bridgedesk/backend/internal/queue"
	"github.com/bridgedesk/backend/internal/registry"
	"github.com/bridgedesk/backend/internal/relay"
	"github.com/bridgedesk/backend/internal/router"
	"github.com/bridgedesk/backend/internal/session"
	"github.com/bridgedesk/backend/internal/storage"
	"github.com/bridgedesk/backend/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting bridgedesk backend server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session record archive (DynamoDB or noop, per DYNAMO_MODE)
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Core state
	policies := config.NewStaticPolicies(cfg.DefaultMaxCalls)
	agents := registry.NewAgentRegistry(policies)
	queues := queue.NewManager(cfg.DefaultHandleTime, log.Logger)
	sessions := session.NewStore()

	// Gateway carries all WebSocket traffic; the engine sends through it
	gw := gateway.NewGateway(log.Logger)

	engine := router.NewEngine(agents, queues, sessions, gw, policies, cfg, log.Logger)
	engine.SetStore(store)
	engine.SetRelay(relay.NewRelay(engine, gw, cfg.ICEBufferLimit, log.Logger))

	gw.SetDispatcher(engine)
	go gw.Run(ctx)
	go engine.SweepLoop(ctx, cfg.QueueSweepInterval)

	// WebSocket upgrade handlers
	connOpts := gateway.ConnOptions{
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
		MaxMessageSize: cfg.MaxMessageSize,
	}
	wsHandler := gateway.NewHandler(gw, connOpts, log.Logger)

	// HTTP handlers
	availabilityHandler := api.NewAvailabilityHandler(agents, log.Logger)
	queueHandler := api.NewQueueHandler(queues, engine, log.Logger)
	sessionHandler := api.NewSessionHandler(engine, log.Logger)
	recordsHandler := api.NewRecordsHandler(store, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Visitor-facing routes (widgets carry no credentials)
	r.Get("/ws/visitor", wsHandler.ServeVisitor)
	r.Get("/api/companies/{companyID}/availability", availabilityHandler.HandleAvailability)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/ws/agent", wsHandler.ServeAgent)
		r.Get("/api/queues/stats", queueHandler.HandleStats)

		r.Group(func(r chi.Router) {
			r.Use(api.RequireSupervisorOrAdmin)
			r.Post("/api/sessions/{sessionID}/end", sessionHandler.HandleForceEnd)
			r.Get("/api/agents/{agentID}/sessions", sessionHandler.HandleAgentSessions)
			r.Get("/api/records/{date}", recordsHandler.HandleByDate)
			r.Get("/api/records/{date}/agents/{agentID}", recordsHandler.HandleAgentByDate)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.RequireAdmin)
			r.Delete("/api/queues/all", queueHandler.HandleWipe)
			r.Delete("/api/records/all", recordsHandler.HandleTruncate)
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop the dispatch loop and sweeper
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"bridgedesk-backend"}`)
}
