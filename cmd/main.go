package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Drivers
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	// Instrumentation
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/jupiterclapton/cenackle/feedsync/config"
	"github.com/jupiterclapton/cenackle/feedsync/internal/adapters/primary/events"
	http_adapter "github.com/jupiterclapton/cenackle/feedsync/internal/adapters/primary/http"
	"github.com/jupiterclapton/cenackle/feedsync/internal/adapters/secondary/cache"
	"github.com/jupiterclapton/cenackle/feedsync/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle/feedsync/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cenackle/feedsync/internal/adapters/secondary/security"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/services"
)

func main() {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	initLogger(cfg)
	slog.Info("🚀 Starting Feed Sync", "env", cfg.Env, "bus", cfg.EventBus, "pagination", cfg.Pagination)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Infrastructure: Postgres (lecture des pages, écriture des mutations)
	dbConfig, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		slog.Error("Unable to parse DB config", "error", err)
		os.Exit(1)
	}
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		slog.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		slog.Error("Database unreachable", "error", err)
		os.Exit(1)
	}
	if err := repository.EnsureSchema(ctx, dbPool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to PostgreSQL")

	repo := repository.NewPostgresRepo(dbPool)

	// 4. Infrastructure: Redis (cache des profils auteurs)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		panic(err)
	}
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Le cache est optionnel: les lookups retombent sur Postgres
		slog.Warn("⚠️ Redis unreachable, author cache degraded", "error", err)
	} else {
		slog.Info("✅ Connected to Redis")
	}
	users := cache.NewRedisUserCache(rdb, repo, cfg.UserCacheTTL)

	// 5. Bus d'événements: NATS ou mémoire (dev, tests manuels)
	var (
		source    ports.ChangeSource
		publisher eventbroker.Publisher
	)
	switch cfg.EventBus {
	case config.BusMemory:
		bus := events.NewMemoryBus(0)
		source, publisher = bus, bus
		slog.Info("🧪 Using in-memory event bus")
	default:
		nc, err := nats.Connect(cfg.NatsUrl)
		if err != nil {
			slog.Error("Unable to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		slog.Info("✅ Connected to NATS")

		source = events.NewNatsSource(nc)
		publisher = eventbroker.NewNatsPublisher(nc)

		// Profils publiés par le service d'identité
		if _, err := events.NewIdentityHandler(users).Listen(nc); err != nil {
			slog.Error("Failed to subscribe to identity events", "error", err)
			os.Exit(1)
		}
		slog.Info("👂 Listening for identity events (NATS)")
	}

	// 6. Initialisation du Core
	engine := services.NewEngine(services.Deps{
		Reader:    repo,
		Mutations: eventbroker.NewPublishingMutations(repo, publisher),
		Source:    source,
		Users:     users,
	}, cfg.Engine())

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil {
			slog.Error("Engine stopped", "error", err)
		}
	}()

	// 7. Auth: sans clé publique on accepte l'user_id brut (local uniquement)
	var validator ports.TokenValidator
	if cfg.JWTPublicKeyPath != "" {
		v, err := security.NewJWTValidatorFromFile(cfg.JWTPublicKeyPath, cfg.JWTIssuer)
		if err != nil {
			slog.Error("Failed to load JWT public key", "error", err)
			os.Exit(1)
		}
		validator = v
	} else if cfg.Env != "local" {
		slog.Error("JWT_PUBLIC_KEY_PATH is required outside local env")
		os.Exit(1)
	}

	// 8. Serveur HTTP (Driving Adapter)
	api := http_adapter.NewServer(engine, validator)
	defer api.Close()

	var h http.Handler = api.Routes()
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "baggage", "sentry-trace"},
		AllowCredentials: true,
	})
	h = c.Handler(h)
	h = otelhttp.NewHandler(h, "FeedSync-HTTP", otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
	}))

	srvHTTP := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("📡 Feed Sync HTTP listening", "port", cfg.HTTPPort)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// 9. gRPC: health check & reflection pour l'orchestrateur
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen", "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		slog.Info("📡 Feed Sync gRPC health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("🛑 Shutting down server...")

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()

	// Les vues détail d'abord, puis le moteur (qui ferme ses souscriptions)
	api.Close()
	cancel()
	<-engineDone

	slog.Info("👋 Server exited")
}

// --- Helpers ---

func initLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("feed-sync"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
