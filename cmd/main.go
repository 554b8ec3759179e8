package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/observability"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/sequence"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	// --- storage ---
	deps, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer deps.close()

	// --- AMQP ---
	var (
		conn      *amqp.Connection
		notifier  warehouse.Notifier
		publisher *events.Publisher
		consumer  *events.Consumer
	)
	if cfg.MessagingEnabled() {
		conn, err = events.Dial(cfg.RabbitURL)
		if err != nil {
			logger.Fatal("rabbitmq connect", zap.Error(err))
		}
		defer conn.Close()

		publisher, err = events.NewPublisher(conn, deps.sequencer, events.PublisherOptions{
			PublishEnveloped: cfg.PublishEnvelopedEvents,
		})
		if err != nil {
			logger.Fatal("start publisher", zap.Error(err))
		}
		defer publisher.Close()
		notifier = publisher
	}

	svc := warehouse.NewService(deps.store, notifier, logger)

	if conn != nil {
		consumer, err = events.StartStockCommandConsumer(ctx, conn, svc, deps.checkpoints, publisher, logger, events.ConsumerOptions{
			ConsumeEnveloped: cfg.ConsumeEnvelopedEvents,
		})
		if err != nil {
			logger.Fatal("start consumer", zap.Error(err))
		}
	}

	// --- HTTP ---
	h := httpapi.NewHandler(svc, logger)
	r := httpapi.NewRouter(h, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("backend", cfg.StoreBackend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)

	// drain the command in flight before cancelling the root context
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("consumer close", zap.Error(err))
		}
	}
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

type backend struct {
	store       warehouse.Store
	sequencer   events.Sequencer
	checkpoints events.Checkpoints
	closers     []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend builds the product store plus the event sequence and consumer
// checkpoint stores for the configured backend. Each backend persists the
// latter two alongside the products; memory keeps all three in process.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
				pool.Close()
				return nil, fmt.Errorf("db migrate: %w", err)
			}
		}
		return &backend{
			store:       warehouse.NewPostgresRepository(pool),
			sequencer:   sequence.NewPostgres(pool),
			checkpoints: dedup.NewPostgres(pool),
			closers:     []func(){pool.Close},
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return &backend{
			store:       warehouse.NewRedisStore(client),
			sequencer:   sequence.NewRedis(client),
			checkpoints: dedup.NewRedis(client),
			closers:     []func(){func() { _ = client.Close() }},
		}, nil

	default:
		return &backend{
			store:       warehouse.NewMemoryStore(),
			sequencer:   sequence.NewMemory(),
			checkpoints: dedup.NewMemory(),
		}, nil
	}
}
