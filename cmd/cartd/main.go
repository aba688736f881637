package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartsync/api/controllers"
	"github.com/angelmondragon/cartsync/api/routes"
	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/events"
	"github.com/angelmondragon/cartsync/internal/localstore"
	"github.com/angelmondragon/cartsync/internal/remotecart"
	"github.com/angelmondragon/cartsync/internal/tokengate"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/instance"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/angelmondragon/cartsync/pkg/redis"
)

const (
	shutdownTimeout    = 15 * time.Second
	engineCloseTimeout = 5 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cartd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := instance.GetID()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instanceID,
		"storage":  cfg.Storage.Backend,
	})

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	store, err := openStorage(ctx, cfg, logg, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to open local store", err)
		os.Exit(1)
	}
	defer store.close()

	snapshots, err := localstore.NewSnapshots(store.kv, logg)
	if err != nil {
		logg.Error(ctx, "failed to create snapshot store", err)
		os.Exit(1)
	}
	if res, err := snapshots.Migrate(ctx); err != nil {
		logg.WarnErr(ctx, "legacy cart migration failed", err)
	} else if res.Migrated {
		logg.Info(logg.WithField(ctx, "lines", res.Lines), "migrated legacy cart snapshot")
	}

	gate, err := tokengate.New(store.kv, tokengate.JWTClassifier{RejectExpired: cfg.Auth.RejectExpired}, logg)
	if err != nil {
		logg.Error(ctx, "failed to create token gate", err)
		os.Exit(1)
	}

	remote, err := remotecart.New(remotecart.Params{
		Endpoint:     cfg.Remote.Endpoint(),
		Tokens:       gate,
		Timeout:      cfg.Remote.Timeout,
		MaxBodyBytes: cfg.Remote.MaxBodyBytes,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create remote cart client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := events.NewBus()
	engine, err := cart.NewEngine(cart.EngineParams{
		Store:   snapshots,
		Remote:  remote,
		Gate:    gate,
		Bus:     bus,
		Metrics: metrics.NewCartMetrics(registry),
		Logger:  logg,
		Config:  cfg.Engine,
		ID:      instanceID,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cart engine", err)
		os.Exit(1)
	}

	var bridge *events.RedisBridge
	if cfg.Events.BridgeEnabled {
		if redisClient == nil {
			logg.Error(ctx, "event bridge requires redis", errors.New("redis is not configured"))
			os.Exit(1)
		}
		bridge, err = events.NewRedisBridge(events.BridgeParams{
			Bus:        bus,
			PubSub:     redisClient,
			Channel:    cfg.Events.Channel,
			InstanceID: instanceID,
			Logger:     logg,
		})
		if err != nil {
			logg.Error(ctx, "failed to create event bridge", err)
			os.Exit(1)
		}
		if err := bridge.Start(ctx); err != nil {
			logg.Error(ctx, "failed to start event bridge", err)
			os.Exit(1)
		}
	}

	if cfg.Engine.SyncOnStart {
		if res, err := engine.Sync(ctx); err != nil {
			logg.WarnErr(ctx, "startup sync failed; serving local cart", err)
		} else {
			logg.Info(logg.WithField(ctx, "source", string(res.Source)), "startup sync finished")
		}
	}

	checks := []controllers.ReadinessCheck{{Name: "storage", Pinger: store.pinger}}
	if redisClient != nil && store.pinger != redisClient {
		checks = append(checks, controllers.ReadinessCheck{Name: "redis", Pinger: redisClient})
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithField(ctx, "addr", addr)

	closing := make(chan struct{})
	deps := routes.Deps{
		Engine:   engine,
		Events:   bus,
		Sessions: gate,
		Checks:   checks,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Closing:  closing,
	}
	if redisClient != nil {
		deps.Idempotency = redisClient
		deps.RateLimits = redisClient
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.RegisterOnShutdown(func() { close(closing) })

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting cart daemon")
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "cart daemon stopped unexpectedly", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "http server shutdown failed", err)
	}

	// In-flight remote calls get their own budget; whatever is still running
	// afterwards is cancelled by Close and reconciled on the next Sync.
	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelSettle()
	if err := engine.Settle(settleCtx); err != nil {
		logg.WarnErr(settleCtx, "in-flight remote calls did not finish before shutdown", err)
	}
	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), engineCloseTimeout)
	defer cancelClose()
	if err := engine.Close(closeCtx); err != nil {
		logg.WarnErr(closeCtx, "cart engine did not stop cleanly", err)
	}
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			logg.WarnErr(shutdownCtx, "event bridge close failed", err)
		}
	}

	logg.Info(shutdownCtx, "cart daemon stopped")
	if exitCode != 0 {
		stop()
		os.Exit(exitCode)
	}
}
