package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/adapters/crdb"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/config"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	engine := workflow.NewEngine(repo, repo, nil, nil, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go run(ctx, engine, cfg.PendingPaymentTTL, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

func run(ctx context.Context, engine *workflow.Engine, ttl time.Duration, logger observability.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := engine.ExpireStalePendingPayments(ctx, ttl)
			if err != nil {
				logger.Error("failed to expire stale bookings", err)
				continue
			}
			if expired > 0 {
				logger.WithField("count", expired).Info("expired stale pending_payment bookings")
			}
		}
	}
}
