package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"inviteledger.app/tracker/common/id"
	"inviteledger.app/tracker/common/logger"
	"inviteledger.app/tracker/common/otel"
	"inviteledger.app/tracker/core/config"
	"inviteledger.app/tracker/core/db"
	"inviteledger.app/tracker/internal/http/handler"
	"inviteledger.app/tracker/internal/http/middleware"
	httprouter "inviteledger.app/tracker/internal/http/router"
	"inviteledger.app/tracker/internal/ledger"
	"inviteledger.app/tracker/internal/platform/discord"
	"inviteledger.app/tracker/internal/queue"
	"inviteledger.app/tracker/internal/reconciler"
	"inviteledger.app/tracker/internal/store"
	"inviteledger.app/tracker/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "invite tracker starting",
		"env", cfg.Env,
		"store", cfg.Store.Backend,
		"event_source", cfg.MemberEvents.Source,
		"prefix", cfg.Invites.Prefix,
		"fake_days", cfg.Invites.FakeDays)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var backends store.Backends

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisOpts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		backends.Redis = redisClient
		slog.InfoContext(ctx, "redis connected")
	}

	if cfg.Store.Backend == config.StoreBackendPostgres {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()

		if err := database.EnsureSchema(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to prepare database schema", "error", err)
			os.Exit(1)
		}
		backends.Postgres = database.Pool()
		slog.InfoContext(ctx, "database connected")
	}

	kv, err := store.NewKV(cfg.Store.Backend, backends)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create store", "error", err)
		os.Exit(1)
	}

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create discord session", "error", err)
		os.Exit(1)
	}

	client, err := discord.NewClient(session)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create discord client", "error", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.New(kv, client, ledger.Config{Prefix: cfg.Invites.Prefix})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create ledger", "error", err)
		os.Exit(1)
	}

	var listeners reconciler.Listeners
	if cfg.Facts.Enabled() {
		listeners = append(listeners, queue.NewFactPublisher(redisClient, cfg.Facts.Stream))
		slog.InfoContext(ctx, "publishing invite facts", "stream", cfg.Facts.Stream)
	}

	rec, err := reconciler.New(
		reconciler.Config{AttributionTimeout: cfg.Invites.AttributionTimeout},
		reconciler.Deps{
			Invites:  client,
			Vanity:   client,
			Ledger:   ledgerSvc,
			Users:    client,
			Listener: listeners,
		},
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create reconciler", "error", err)
		os.Exit(1)
	}

	workerDone := make(chan struct{})
	switch cfg.MemberEvents.Source {
	case config.EventSourceGateway:
		close(workerDone)

		gateway := discord.NewGateway(ctx, client, rec)
		removeHandlers := gateway.Register(session)
		defer removeHandlers()

		if err := session.Open(); err != nil {
			slog.ErrorContext(ctx, "failed to open discord gateway", "error", err)
			os.Exit(1)
		}
		defer session.Close()
		slog.InfoContext(ctx, "discord gateway connected")

	case config.EventSourceStream:
		consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
			Stream:       cfg.MemberEvents.Stream,
			Group:        cfg.MemberEvents.Group,
			Consumer:     cfg.MemberEvents.Consumer,
			DLQStream:    cfg.MemberEvents.DLQStream,
			BatchSize:    10,
			Block:        5 * time.Second,
			MaxAttempts:  cfg.MemberEvents.MaxAttempts,
			RequeueDelay: time.Second,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create consumer", "error", err)
			os.Exit(1)
		}

		w := worker.New(consumer, rec, worker.Config{MaxAttempts: cfg.MemberEvents.MaxAttempts})
		go func() {
			defer close(workerDone)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "worker stopped", "error", err)
			}
		}()
		slog.InfoContext(ctx, "consuming member events", "stream", cfg.MemberEvents.Stream)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, ledgerSvc, rec),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "worker did not stop in time")
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, ledgerSvc *ledger.Service, rec *reconciler.Reconciler) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, handler.NewLedgerHandler(ledgerSvc, rec, cfg.AdminAPIKey))

	return router
}

const banner = `
 _            _ _         _                  _
(_)_ ____   _(_) |_ ___  | |_ _ __ __ _  ___| | _____ _ __
| | '_ \ \ / / | __/ _ \ | __| '__/ _' |/ __| |/ / _ \ '__|
| | | | \ V /| | ||  __/ | |_| | | (_| | (__|   <  __/ |
|_|_| |_|\_/ |_|\__\___|  \__|_|  \__,_|\___|_|\_\___|_|
`
