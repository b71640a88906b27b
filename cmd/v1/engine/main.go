package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/typedash/realtime/internal/v1/auth"
	"github.com/typedash/realtime/internal/v1/bus"
	"github.com/typedash/realtime/internal/v1/config"
	"github.com/typedash/realtime/internal/v1/friends"
	"github.com/typedash/realtime/internal/v1/health"
	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/middleware"
	"github.com/typedash/realtime/internal/v1/race"
	"github.com/typedash/realtime/internal/v1/ratelimit"
	"github.com/typedash/realtime/internal/v1/registry"
	"github.com/typedash/realtime/internal/v1/results"
	"github.com/typedash/realtime/internal/v1/rooms"
	"github.com/typedash/realtime/internal/v1/session"
	"github.com/typedash/realtime/internal/v1/tracing"
	"github.com/typedash/realtime/internal/v1/transport"
	"github.com/typedash/realtime/internal/v1/types"
	"github.com/typedash/realtime/internal/v1/words"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode || cfg.GoEnv != "production"); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(context.Background(), "typedash-engine", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracer, continuing without tracing", "error", err)
		} else {
			slog.Info("✅ OpenTelemetry tracing initialized", "collector", cfg.OtelCollectorAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					slog.Error("Failed to shut down tracer", "error", err)
				}
			}()
		}
	}

	// --- Auth ---
	auth0Domain := cfg.Auth0Domain
	auth0Audience := cfg.Auth0Audience
	skipAuth := cfg.SkipAuth

	if !skipAuth {
		// FALLBACK: If in dev mode and credentials missing, auto-skip
		if cfg.DevelopmentMode && (auth0Domain == "" || auth0Audience == "") {
			slog.Warn("⚠️  Development Mode: Auth0 credentials missing. Auto-enabling SKIP_AUTH.")
			skipAuth = true
		} else if auth0Domain == "" || auth0Audience == "" {
			slog.Error("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set in environment when SKIP_AUTH=false")
			return
		}
	}

	var validator types.TokenValidator
	if !skipAuth {
		authValidator, err := auth.NewValidator(context.Background(), auth0Domain, auth0Audience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			return
		}
		slog.Info("✅ Auth0 validator initialized", "domain", auth0Domain, "audience", auth0Audience)
		validator = authValidator
	} else {
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	}

	// --- Redis Bus Initialization (Optional) ---
	// Redis carries cross-instance fan-out, the durable result store, the
	// friend graph, and curated wordlists. Without it the engine runs
	// single-instance with in-memory equivalents.
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil // Fallback to single-instance mode
		} else {
			slog.Info("✅ Redis initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	var redisClient *redis.Client
	if busService != nil {
		redisClient = busService.Client()
	}

	// --- Engine Wiring ---
	clock := clockwork.NewRealClock()
	seed := time.Now().UnixNano()

	var source words.Source
	if redisClient != nil {
		// Curated lists first, packaged corpus as the fallback.
		source = words.Chain{words.NewRedisSource(redisClient, seed), words.NewStaticSource(seed)}
	} else {
		source = words.NewStaticSource(seed)
	}

	var sink results.Sink
	if redisClient != nil {
		sink = results.NewRedisSink(redisClient)
	} else {
		sink = results.NewMemorySink()
	}
	retrier := results.NewRetrier(sink)
	defer retrier.Close()

	var graph friends.Graph
	if redisClient != nil {
		graph = friends.NewRedisGraph(redisClient)
	} else {
		graph = friends.NewStaticGraph()
	}

	fabricOpts := []rooms.Option{rooms.WithClock(clock)}
	if busService != nil {
		fabricOpts = append(fabricOpts, rooms.WithBus(busService, uuid.NewString()))
	}
	fabric := rooms.NewFabric(fabricOpts...)

	gate, err := ratelimit.NewGate(cfg.RateLimitWsIP, redisClient)
	if err != nil {
		slog.Error("Failed to create handshake rate limiter", "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(source, sink, retrier, fabric, clock, session.Config{
		TTL:           cfg.TestSessionTTL,
		LogCap:        cfg.KeystrokeLogCap,
		StatsInterval: cfg.StatsBroadcastInterval,
		WPMCeiling:    cfg.MaxWPMCeiling,
	})
	races := race.NewManager(source, sink, retrier, fabric, clock, seed, race.Config{
		CountdownDuration: cfg.CountdownDuration,
		WaitingTTL:        cfg.RaceWaitingTTL,
		WPMCeiling:        cfg.MaxWPMCeiling,
	})
	presence := friends.NewPresence(graph, fabric, time.Now)

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	hub := transport.NewHub(transport.Options{
		Validator: validator,
		Gate:      gate,
		Governor:  ratelimit.NewGovernor(),
		Registry:  registry.New(),
		Fabric:    fabric,
		Sessions:  sessions,
		Races:     races,
		Presence:  presence,
		Clock:     clock,

		AllowedOrigins:            allowedOrigins,
		MaxConnectionsPerIdentity: cfg.MaxConnectionsPerIdentity,
		SendQueueMaxMessages:      cfg.SendQueueMaxMessages,
		SendQueueMaxBytes:         cfg.SendQueueMaxBytes,
	})
	hub.StartHousekeeping()

	// --- Set up Server ---
	router := gin.Default()
	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Error handling and request correlation
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware("typedash-engine"))
	}

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/engine", hub.ServeWs)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Engine starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close every live connection and stop housekeeping
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection if it was initialized
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
