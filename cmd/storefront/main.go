package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/config"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/orders"
	"github.com/fjod/go_cart/storefront/internal/poller"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/fjod/go_cart/storefront/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("storefront stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "storefront", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			zl.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	backend, err := openBackend(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer backend.Close()

	ordersClient := orders.NewClient(cfg.OrdersAPIURL,
		orders.WithTimeout(cfg.CheckoutTimeout),
		orders.WithLogger(zl))

	storefront := service.NewStorefront(backend, ordersClient, zl,
		service.WithIdleTimeout(cfg.ContextIdleTimeout))
	defer storefront.Close()
	go storefront.Run(ctx)

	var events h.SessionEvents
	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(storefront, zl, cfg.SessionTopic, cfg.KafkaBrokers...)
		defer p.Close()
		go p.Run(ctx)

		pub := poller.NewPublisher(cfg.SessionTopic, cfg.KafkaBrokers...)
		defer pub.Close()
		events = pub

		zl.Info("session poller started",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.SessionTopic))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(storefront, events, cfg.RequestTimeout, zl),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("storefront listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.StorageBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	zl.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	zl.Info("server exited")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, zl *zap.Logger) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		zl.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))
		return storage.NewRedisBackend(client, cfg.StorageTTL), nil

	case config.BackendMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		backend := storage.NewMongoBackend(db)
		if err := backend.CreateIndexes(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("create storage indexes: %w", err)
		}
		zl.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))
		return backend, nil

	default:
		zl.Warn("using in-memory storage; carts are lost on restart")
		return storage.NewMemoryBackend(), nil
	}
}
