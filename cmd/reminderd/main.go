// Command reminderd is the composition root: it wires the Store, Clock,
// Transport client, Repository, Service, Escalation Engine, Scheduler and
// HTTP API exactly once, then runs the cron scheduler and the HTTP server
// until an OS signal asks it to stop. Mirrors the teacher's main.go
// staging (validate config, construct, start, wait on a signal channel,
// graceful shutdown).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/escalation"
	"github.com/itsneelabh/reminderd/httpapi"
	"github.com/itsneelabh/reminderd/ingest"
	"github.com/itsneelabh/reminderd/reminder"
	"github.com/itsneelabh/reminderd/resilience"
	"github.com/itsneelabh/reminderd/scheduler"
	"github.com/itsneelabh/reminderd/store"
	"github.com/itsneelabh/reminderd/telemetry"
	"github.com/itsneelabh/reminderd/transport"
)

func main() {
	cfg := core.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)

	instruments := telemetry.NewMetricInstruments(cfg.Name)
	core.SetMetricsRegistry(telemetry.NewRegistryBridge(instruments))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), cfg.Name, telemetry.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("tracer shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	redisStore, err := store.NewRedisStore(store.RedisStoreOptions{
		RedisURL:  cfg.Store.RedisURL,
		Namespace: cfg.Store.Namespace,
		Logger:    logger.WithComponent("engine/store"),
	})
	if err != nil {
		logger.Error("failed to connect to store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	clock := core.SystemClock{}

	// The real chat-platform client is an external collaborator (spec §1);
	// this composition root wires the in-repo Transport implementation the
	// engine ships with, transport.Mock, which takes no configuration: the
	// token and app id in cfg.Transport are not used here.
	tr := transport.NewMock()

	repo := reminder.NewRepository(redisStore)
	svc := reminder.NewService(repo, tr, clock, logger.WithComponent("engine/reminder"))

	escEngine := escalation.New(repo, tr, clock, logger.WithComponent("engine/escalation"))
	escEngine.SetMetrics(instruments)
	svc.SetEscalator(escEngine)

	var breaker *resilience.CircuitBreaker
	if cfg.Resilience.CircuitBreaker.Enabled {
		cbCfg := resilience.DefaultConfig()
		cbCfg.Name = "transport"
		cbCfg.SleepWindow = cfg.Resilience.CircuitBreaker.Timeout
		cbCfg.HalfOpenRequests = cfg.Resilience.CircuitBreaker.HalfOpenRequests
		cbCfg.Logger = logger.WithComponent("engine/resilience")
		cbCfg.Metrics = resilience.NewOTelMetricsCollector(context.Background())
		breaker, err = resilience.NewCircuitBreaker(cbCfg)
		if err != nil {
			logger.Error("failed to build circuit breaker", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}

	sched := scheduler.New(scheduler.Options{
		Repo:           repo,
		Service:        svc,
		Transport:      tr,
		Clock:          clock,
		Escalation:     escEngine,
		Logger:         logger.WithComponent("engine/scheduler"),
		DueSpec:        cfg.Scheduler.DueCheckSpec,
		EscalationSpec: cfg.Scheduler.EscalationCheckSpec,
		TickBudget:     cfg.Scheduler.TickBudget,
		CircuitBreaker: breaker,
		Metrics:        instruments,
	})

	ingestor := ingest.New(svc, logger.WithComponent("engine/ingest"))
	ingestor.SetMetrics(instruments)

	var verifier *httpapi.LinkVerifier
	if cfg.Security.SigningSecret != "" {
		verifier = httpapi.NewLinkVerifier(cfg.Security.SigningSecret)
	}

	handler := httpapi.NewHandler(svc, ingestor, verifier, logger.WithComponent("engine/httpapi"))
	router := httpapi.NewRouter(handler, &cfg.HTTP.CORS, logger, cfg.Development.Enabled)
	tracedRouter := otelhttp.NewHandler(router, "reminderd.http")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      tracedRouter,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	go func() {
		logger.Info("starting HTTP server", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", map[string]interface{}{"signal": sig.String()})

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("reminderd shutdown complete", nil)
}
