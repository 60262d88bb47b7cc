package main

import (
	"context"
	"fmt"

	"canteen-sync/internal/config"
	"canteen-sync/internal/database"
	"canteen-sync/internal/events"
	"canteen-sync/internal/infrastructure/payment"
	"canteen-sync/internal/logger"
	"canteen-sync/internal/repo"
	"canteen-sync/internal/server"
	"canteen-sync/internal/service"
	"canteen-sync/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	store     repo.RecordStore
	gateway   payment.PaymentGateway
	publisher events.Publisher
	engine    service.OrderService
	worker    *worker.ReconciliationWorker
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format, "canteen")
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	switch cfg.StoreDriver {
	case "memory":
		log.Warn().Msg("app: using the in-memory store, orders are lost on exit")
		a.store = repo.NewMemoryStore()
	default:
		pool, err := database.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.store = repo.NewOrderRepo(pool)
	}

	a.gateway = newGateway(cfg.Gateway)

	a.publisher = events.Nop()
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = p
	}

	var limiter *rate.Limiter
	if cfg.Reconcile.SweepRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Reconcile.SweepRate), 1)
	}

	a.engine = service.NewOrderService(a.store, a.gateway, service.Options{
		Backoff:         cfg.Reconcile.Backoff,
		FreshnessWindow: cfg.Reconcile.FreshnessWindow,
		Limiter:         limiter,
		Publisher:       a.publisher,
	})
	a.worker = worker.NewReconciliationWorker(a.engine, cfg.Reconcile.SweepInterval)

	log.Info().
		Str("store", cfg.StoreDriver).
		Str("gateway", cfg.Gateway.Provider).
		Bool("events", len(cfg.Kafka.Brokers) > 0).
		Msg("app: components wired")
	return a, nil
}

func newGateway(cfg config.GatewayConfig) payment.PaymentGateway {
	switch cfg.Provider {
	case "stripe":
		return payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:  cfg.StripeKey,
			Currency:   cfg.Currency,
			SuccessURL: cfg.SuccessURL,
			CancelURL:  cfg.CancelURL,
		})
	case "mock":
		return payment.NewMockGateway(payment.DefaultMockOptions)
	default:
		return payment.NewSnapGateway(payment.SnapConfig{
			SnapBaseURL: cfg.SnapBaseURL,
			APIBaseURL:  cfg.APIBaseURL,
			ServerKey:   cfg.ServerKey,
			Timeout:     cfg.Timeout,
		})
	}
}

func (a *app) health(ctx context.Context) map[string]string {
	if a.pool == nil {
		return map[string]string{"status": "up", "store": a.cfg.StoreDriver}
	}
	return database.Health(ctx, a.pool)
}

func (a *app) server() *server.Server {
	return server.NewServer(server.Deps{
		Engine:       a.engine,
		Store:        a.store,
		Worker:       a.worker,
		Health:       a.health,
		AllowOrigins: a.cfg.App.AllowOrigins,
	})
}

func (a *app) Close() {
	if a.worker != nil {
		a.worker.Shutdown()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
