// Package app wires the relay binary's api, worker, and migrate modes from
// concrete collaborators, mirroring the teacher's internal/app wiring but
// replaced end to end with this domain's components: Destination Manager,
// Circuit Breaker, Retry Manager, Queue Manager, Delivery Service, and the
// alert debounce/access/manager trio.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/relay/internal/auditlog"
	"github.com/wisbric/relay/internal/config"
	"github.com/wisbric/relay/internal/httpserver"
	"github.com/wisbric/relay/internal/observability"
	"github.com/wisbric/relay/internal/platform"
	"github.com/wisbric/relay/internal/telemetry"
	"github.com/wisbric/relay/pkg/alertdebounce"
	"github.com/wisbric/relay/pkg/alertmanager"
	"github.com/wisbric/relay/pkg/breaker"
	"github.com/wisbric/relay/pkg/delivery"
	"github.com/wisbric/relay/pkg/destination"
	"github.com/wisbric/relay/pkg/integration"
	"github.com/wisbric/relay/pkg/mattermost"
	"github.com/wisbric/relay/pkg/orgctx"
	"github.com/wisbric/relay/pkg/queue"
	"github.com/wisbric/relay/pkg/retry"
	"github.com/wisbric/relay/pkg/slack"
)

// components bundles every domain collaborator, built once by build for
// whichever of the api and worker modes runs, so both modes use the same
// wiring; in worker mode the scheduler runs the alert checks inline.
type components struct {
	destSvc     *destination.Service
	destStore   *destination.Store
	breaker     *breaker.Breaker
	retryMgr    *retry.Manager
	scheduler   *queue.Scheduler
	healthChk   *queue.HealthChecker
	deliverySvc *delivery.Service
	alertMgr    *alertmanager.Manager
	auditor     *auditlog.Writer
	logger      *slog.Logger
}

// Run loads wiring from cfg and dispatches to the selected mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Mode == "migrate" {
		logger.Info("running migrations", "dir", cfg.MigrationsDir)
		return platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	comps := build(db, rdb, cfg, logger)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, db, rdb, comps)
	case "worker":
		return runWorker(ctx, cfg, comps)
	default:
		return fmt.Errorf("unknown mode %q (want api, worker, or migrate)", cfg.Mode)
	}
}

// build constructs every domain collaborator from its store up, wiring the
// Destination Manager's adapter registry, the Circuit Breaker, the Retry
// Manager, the Queue Manager, the Delivery Service, and the alert
// debounce/access/manager trio together.
func build(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, logger *slog.Logger) *components {
	hooks := observability.NewHooks(logger)

	destStore := destination.NewStore(db)
	adapters := buildAdapterRegistry(cfg, logger)
	destSvc := destination.NewService(destStore, adapters, logger)

	breakerStore := breaker.NewStore(db)
	cb := breaker.New(breakerStore, breaker.DefaultConfig(), hooks)

	retryMgr := retry.New(retry.DefaultConfig())

	queueStore := queue.NewStore(db)
	deliveryStore := delivery.NewStore(db)

	schedulerCfg := queue.Config{
		ProcessingInterval:      cfg.ProcessingInterval,
		MaxConcurrentDeliveries: cfg.MaxConcurrentDeliveries,
		ProcessingTimeout:       cfg.ProcessingTimeout,
		MaxCompletedAge:         cfg.MaxCompletedAge,
		CleanupInterval:         cfg.CleanupInterval,
	}
	scheduler := queue.NewScheduler(queueStore, destStore, adapters, cb, retryMgr, deliveryStore, hooks, rdb, logger, schedulerCfg)
	healthChk := queue.NewHealthChecker(queueStore, queue.DefaultHealthThresholds())

	deliverySvc := delivery.NewService(deliveryStore, destSvc, cb, scheduler, retryMgr, cfg.MaxPayloadBytes, logger)

	maintenanceStore := alertdebounce.NewMaintenanceStore(db)
	debouncer := alertdebounce.New(rdb, maintenanceStore, logger)
	alertStore := alertmanager.NewStore(db)
	alertMgr := alertmanager.New(alertStore, alertStore, cb, healthChk, debouncer, maintenanceStore, hooks, logger)
	scheduler.SetAlertChecker(alertMgr)

	auditor := auditlog.NewWriter(db, logger)

	return &components{
		destSvc:     destSvc,
		destStore:   destStore,
		breaker:     cb,
		retryMgr:    retryMgr,
		scheduler:   scheduler,
		healthChk:   healthChk,
		deliverySvc: deliverySvc,
		alertMgr:    alertMgr,
		auditor:     auditor,
		logger:      logger,
	}
}

// buildAdapterRegistry registers every destination adapter the Destination
// Manager supports. Adapters without configured credentials still register
// (webhook always works; slack/mattermost fall back to their disabled forms
// and report a non-retryable configuration error on Send; twilio falls back
// to integration.NoopCaller, which only logs the callout and reports
// success). No adapter is registered for email or storage.
func buildAdapterRegistry(cfg *config.Config, logger *slog.Logger) *destination.Registry {
	reg := destination.NewRegistry()
	reg.Register(destination.TypeWebhook, destination.NewWebhookAdapter())

	slackNotifier := slack.NewNotifier(cfg.SlackBotToken, "", logger)
	reg.Register(destination.TypeSlack, destination.NewSlackAdapter(slackNotifier, logger))

	mmClient := mattermost.NewClient(cfg.MattermostURL, cfg.MattermostBotToken, logger)
	reg.Register(destination.TypeMattermost, destination.NewMattermostAdapter(mmClient))

	var caller integration.Caller
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		caller = integration.NewTwilioCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	} else {
		caller = &integration.NoopCaller{Logger: logger}
	}
	reg.Register(destination.TypeTwilioVoice, destination.NewCalloutAdapter(caller, "phone"))
	reg.Register(destination.TypeTwilioSMS, destination.NewCalloutAdapter(caller, "sms"))

	return reg
}

// runAPI starts the HTTP server with every domain handler mounted under
// /api/v1, plus health and metrics endpoints.
func runAPI(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, comps *components) error {
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	comps.auditor.Start(ctx)
	defer comps.auditor.Close()

	srv := httpserver.NewServer(cfg, comps.logger, db, rdb, metricsReg, orgctx.HeaderResolver{})

	srv.APIRouter.Mount("/destinations", destination.NewHandler(comps.destSvc, comps.logger, comps.auditor).Routes())
	srv.APIRouter.Mount("/deliveries", delivery.NewHandler(comps.deliverySvc, cfg.MaxPayloadBytes, comps.logger).Routes())

	alertHandler := alertmanager.NewHandler(comps.alertMgr, comps.logger, comps.auditor)
	srv.APIRouter.Mount("/alerts", alertHandler.AlertsRoutes())
	srv.APIRouter.Mount("/alert-configs", alertHandler.ConfigRoutes())
	srv.APIRouter.Mount("/maintenance-windows", alertHandler.MaintenanceRoutes())

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		comps.logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		comps.logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

// runWorker runs the Queue Manager's scheduler loop (dequeue/dispatch,
// stuck-item watchdog, terminal-row cleanup) until ctx is cancelled. The
// scheduler evaluates the Alert Manager's failure-threshold and
// queue-backlog conditions inline after every dispatch, so no separate
// alert-polling loop is needed here.
func runWorker(ctx context.Context, cfg *config.Config, comps *components) error {
	comps.logger.Info("worker starting", "processing_interval", cfg.ProcessingInterval)
	if err := comps.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}
