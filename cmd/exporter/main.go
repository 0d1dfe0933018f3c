package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shotgun-exporter/config"
	"shotgun-exporter/internal/client"
	"shotgun-exporter/internal/database"
	"shotgun-exporter/internal/handler"
	"shotgun-exporter/internal/metrics"
	"shotgun-exporter/internal/repository"
	"shotgun-exporter/internal/service"
	"shotgun-exporter/internal/worker"
	"shotgun-exporter/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	log := logger.WithComponent("main")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	pool, err := database.InitDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer pool.Close()

	ticketRepo := repository.NewTicketRepository(pool)
	stateRepo := repository.NewStateRepository(pool)
	registry := metrics.NewMetrics()
	shotgun := client.NewShotgunClient(cfg.Shotgun, registry)

	collector := service.NewCollectorService(pool, ticketRepo, stateRepo, shotgun, registry, cfg.Exporter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := collector.RestoreCounters(ctx); err != nil {
		log.Fatal("failed to restore counters", zap.Error(err))
	}

	pollWorker := worker.NewPollWorker(collector, cfg.Exporter.ScrapeInterval)
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- pollWorker.Run(ctx)
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler.NewMetricsHandler(registry).RegisterRoutes(router)
	handler.NewEventHandler(ticketRepo).RegisterRoutes(router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- router.Run(fmt.Sprintf(":%d", cfg.Exporter.Port))
	}()

	log.Info("exporter started",
		zap.Int("port", cfg.Exporter.Port),
		zap.Duration("scrape_interval", cfg.Exporter.ScrapeInterval))

	select {
	case err := <-workerErr:
		if err != nil {
			log.Fatal("poll worker failed", zap.Error(err))
		}
	case err := <-serverErr:
		log.Fatal("http server failed", zap.Error(err))
	case <-ctx.Done():
		log.Info("shutting down")
	}
}
