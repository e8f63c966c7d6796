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

	"github.com/azizikri/offer-checkout/internal/config"
	httphandler "github.com/azizikri/offer-checkout/internal/delivery/http"
	"github.com/azizikri/offer-checkout/internal/delivery/kafka"
	"github.com/azizikri/offer-checkout/internal/logging"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/azizikri/offer-checkout/internal/repository/memstore"
	"github.com/azizikri/offer-checkout/internal/scheduler"
	"github.com/azizikri/offer-checkout/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	checkout := usecase.NewCheckoutService(store, logger)
	stock := usecase.NewStockService(store, logger)
	offers := usecase.NewOfferService(store, logger)
	hierarchy := usecase.NewHierarchyService(store, logger)

	g, ctx := errgroup.WithContext(ctx)

	var gateway usecase.StockGateway
	if cfg.EventDriven() {
		kgateway, clients, err := startKafka(ctx, g, cfg, checkout, stock, logger)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range clients {
				c.Close()
			}
		}()
		gateway = kgateway
	} else {
		gateway = kafka.NewDirectGateway(checkout, stock)
	}

	// The catch-up sweep runs in-process; in event-driven mode the reply
	// consumer may not have its offset yet when the scheduler starts.
	sweeper := scheduler.New(gateway.SweepExpiries, scheduler.Config{
		Interval:   cfg.SweepEvery(),
		RunOnStart: cfg.SweepAtStartup(),
		CatchUp:    stock.Sweep,
	}, logger.Named("scheduler"))
	g.Go(func() error { return sweeper.Run(ctx) })

	handler := httphandler.NewHandler(gateway, checkout, offers, hierarchy, logger.Named("http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	handler.Routes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, func(), error) {
	if cfg.UseMemoryStore() {
		logger.Warn("using the in-memory store; state is lost on exit")
		return memstore.New(), func() {}, nil
	}

	pool, err := initDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return repository.New(pool), pool.Close, nil
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// startKafka wires the request consumer, the retry consumer and the reply
// poller into g and returns the gateway that talks through them.
func startKafka(ctx context.Context, g *errgroup.Group, cfg *config.Config, checkout *usecase.CheckoutService, stock *usecase.StockService, logger *zap.Logger) (*kafka.Gateway, []*kgo.Client, error) {
	brokers := cfg.Brokers()
	var clients []*kgo.Client
	fail := func(err error) (*kafka.Gateway, []*kgo.Client, error) {
		for _, c := range clients {
			c.Close()
		}
		return nil, nil, err
	}

	kafkaClient, err := newConsumerClient(brokers, cfg.KafkaClientID, cfg.KafkaGroupID, kafka.RequestTopics...)
	if err != nil {
		return fail(fmt.Errorf("create kafka client: %w", err))
	}
	clients = append(clients, kafkaClient)

	if err := kafka.EnsureTopics(ctx, kafkaClient, cfg, logger); err != nil {
		logger.Warn("failed to ensure topics", zap.Error(err))
	}

	gateway := kafka.NewGateway(cfg, kafkaClient, logger.Named("gateway"))

	consumer := kafka.NewConsumer(cfg, kafkaClient, checkout, stock, logger.Named("consumer"))
	g.Go(func() error {
		consumer.Start(ctx)
		return nil
	})

	retryClient, err := newConsumerClient(brokers, cfg.KafkaClientID+"-retry", cfg.KafkaRetryGroupID, kafka.RetryTopics...)
	if err != nil {
		return fail(fmt.Errorf("create retry kafka client: %w", err))
	}
	clients = append(clients, retryClient)
	retryConsumer := kafka.NewConsumer(cfg, retryClient, checkout, stock, logger.Named("retry"))
	g.Go(func() error {
		retryConsumer.StartRetry(ctx)
		return nil
	})

	replyClient, err := newReplyClient(brokers, cfg.KafkaClientID+"-reply", gateway.ReplyTopic())
	if err != nil {
		return fail(fmt.Errorf("create reply kafka client: %w", err))
	}
	clients = append(clients, replyClient)
	g.Go(func() error {
		gateway.StartReplyPoller(ctx, replyClient)
		return nil
	})

	return gateway, clients, nil
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

func newReplyClient(brokers []string, clientID, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
}
