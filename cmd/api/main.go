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

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/crm-api/internal/bootstrap"
	"github.com/jwalitptl/crm-api/internal/config"
	automationHandler "github.com/jwalitptl/crm-api/internal/handler/automation"
	healthHandler "github.com/jwalitptl/crm-api/internal/handler/health"
	outboundHandler "github.com/jwalitptl/crm-api/internal/handler/outbound"
	promhandler "github.com/jwalitptl/crm-api/internal/handler/prometheus"
	webhookHandler "github.com/jwalitptl/crm-api/internal/handler/webhook"
	workflowHandler "github.com/jwalitptl/crm-api/internal/handler/workflow"
	"github.com/jwalitptl/crm-api/internal/middleware"
	"github.com/jwalitptl/crm-api/internal/provider"
	"github.com/jwalitptl/crm-api/internal/router"
	"github.com/jwalitptl/crm-api/internal/service/automation"
	"github.com/jwalitptl/crm-api/internal/service/inbound"
	"github.com/jwalitptl/crm-api/internal/service/outbound"
	"github.com/jwalitptl/crm-api/internal/service/workflow"
	"github.com/jwalitptl/crm-api/internal/worker"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/messaging"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, v, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := bootstrap.NewLogger(cfg.Log)
	if err := run(cfg, v, log); err != nil {
		log.Fatal(err, "Server exited with error")
	}
	log.Info("Server exited properly")
}

// run owns every resource it opens, so deferred closes happen before main decides
// the exit code.
func run(cfg *config.Config, v *viper.Viper, log *logger.Logger) error {
	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is empty, refusing to start without a signing secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("crm", "api", registry)

	broker, err := bootstrap.NewBroker(cfg, log)
	if err != nil {
		return err
	}
	defer broker.Close()
	publisher := messaging.NewEventPublisher(broker, cfg.Broker.Channel, log, m)

	inboundCfg := inbound.Config{DefaultCountryCode: cfg.Providers.DefaultCountryCode}
	if cfg.Inbound.DefaultOwnerID != "" {
		ownerID, err := uuid.Parse(cfg.Inbound.DefaultOwnerID)
		if err != nil {
			return fmt.Errorf("invalid inbound.default_owner_id: %w", err)
		}
		inboundCfg.DefaultOwnerID = ownerID
	}

	// Initialize services
	engine := automation.NewEngine(store, cfg.Automation.ToEngineConfig(), log, m)
	inboundService := inbound.NewService(store, engine, publisher, inboundCfg, log, m)
	outboundService := outbound.NewService(store, log, m)
	workflowService := workflow.NewService(store, engine, log)

	rules := config.NewRulesStore(cfg.Inbound.Rules())
	config.WatchInboundRules(v, rules, log)

	// Initialize handlers
	routerConfig := router.RouterConfig{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
		routerConfig.RateBurst = cfg.RateLimit.Burst
	}
	r := router.NewRouter(
		middleware.NewAuthMiddleware(cfg.JWT.Secret),
		healthHandler.NewHandler(store),
		promhandler.New("crm", registry),
		webhookHandler.NewHandler(inboundService, rules, log),
		routerConfig,
		outboundHandler.NewHandler(outboundService),
		workflowHandler.NewHandler(workflowService),
		automationHandler.NewHandler(workflowService),
	)
	r.Setup()

	var dispatcher *worker.Dispatcher
	if cfg.Worker.Embedded || cfg.Database.Driver == "memory" {
		creds, err := config.LoadCredentials()
		if err != nil {
			return fmt.Errorf("failed to read provider credentials: %w", err)
		}
		dispatcher = worker.NewDispatcher(
			store,
			provider.NewRegistry(cfg.ToProviderConfig(creds)),
			cfg.ToDispatcherConfig(),
			log,
			m,
			worker.WithPublisher(publisher),
		)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting server", "port", cfg.Server.Port, "database", cfg.Database.Driver, "broker", cfg.Broker.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if dispatcher != nil {
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
	}

	return g.Wait()
}
