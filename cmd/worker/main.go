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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/crm-api/internal/bootstrap"
	"github.com/jwalitptl/crm-api/internal/config"
	healthHandler "github.com/jwalitptl/crm-api/internal/handler/health"
	"github.com/jwalitptl/crm-api/internal/provider"
	"github.com/jwalitptl/crm-api/internal/worker"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/messaging"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

// newHealthServer serves liveness, readiness and metrics on the health port.
func newHealthServer(port int, store healthHandler.Pinger, registry *prometheus.Registry) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	healthHandler.NewHandler(store).RegisterRoutes(&engine.RouterGroup)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func main() {
	_ = godotenv.Load()

	cfg, _, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := bootstrap.NewLogger(cfg.Log).WithFields(map[string]interface{}{"component": "worker"})
	if err := run(cfg, log); err != nil {
		log.Fatal(err, "Worker exited with error")
	}
	log.Info("Worker stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	if cfg.Database.Driver == "memory" {
		return errors.New("the standalone worker needs a shared database, the memory store is process local; use worker.embedded instead")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	creds, err := config.LoadCredentials()
	if err != nil {
		return fmt.Errorf("failed to read provider credentials: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("crm", "worker", registry)

	broker, err := bootstrap.NewBroker(cfg, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	dispatcher := worker.NewDispatcher(
		store,
		provider.NewRegistry(cfg.ToProviderConfig(creds)),
		cfg.ToDispatcherConfig(),
		log,
		m,
		worker.WithPublisher(messaging.NewEventPublisher(broker, cfg.Broker.Channel, log, m)),
	)
	monitor := worker.NewStaleMonitor(store.Messages(), cfg.Worker.StaleAfter, cfg.Worker.StaleCheckInterval, log, m)

	gin.SetMode(gin.ReleaseMode)
	healthSrv := newHealthServer(cfg.Server.HealthPort, store, registry)

	return serve(ctx, log, dispatcher, monitor, healthSrv)
}

func serve(ctx context.Context, log *logger.Logger, dispatcher *worker.Dispatcher, monitor *worker.StaleMonitor, healthSrv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		monitor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("Starting health server", "addr", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
