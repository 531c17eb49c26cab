package freightflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/internal/controllers"
	"github.com/RealZimboGuy/freightflow/internal/engine"
	"github.com/RealZimboGuy/freightflow/internal/freight/composer"
	"github.com/RealZimboGuy/freightflow/internal/freight/notify"
	"github.com/RealZimboGuy/freightflow/internal/freight/traffic"
	"github.com/RealZimboGuy/freightflow/internal/lease"
	"github.com/RealZimboGuy/freightflow/internal/repository"
	"github.com/RealZimboGuy/freightflow/internal/workflows"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
	"github.com/lmittmann/tint"
)

// RetryConfigFromSettings reads the step timeout and retry budget from the environment.
func RetryConfigFromSettings() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    config.GetSystemSettingInteger(config.MAX_RETRY_COUNT),
		RetryIntervalMin: config.GetSystemSettingDuration(config.RETRY_INTERVAL_MIN),
		RetryIntervalMax: config.GetSystemSettingDuration(config.RETRY_INTERVAL_MAX),
		StepTimeout:      config.GetSystemSettingDuration(config.STEP_TIMEOUT),
	}
}

// NewCollaborators builds the production clients for the delay source, message composer and transports.
func NewCollaborators(cfg config.Collaborators) workflows.Collaborators {
	return workflows.Collaborators{
		Delays:   traffic.NewMapboxClient(cfg.Mapbox),
		Composer: composer.NewComposer(cfg.OpenAI),
		Dispatcher: notify.NewDispatcher(
			notify.NewSendGridTransport(cfg.SendGrid),
			notify.NewTwilioTransport(cfg.Twilio),
		),
	}
}

// NewWorkflowRegistry returns the workflow types the engine can run.
func NewWorkflowRegistry(clock core.Clock, collaborators workflows.Collaborators, retry models.RetryConfig) map[string]func() core.Workflow {
	return map[string]func() core.Workflow{
		workflows.WorkflowType: workflows.NewFreightDelayWorkflowFactory(clock, collaborators, retry),
	}
}

func newLocker(ctx context.Context) (lease.Locker, func(), error) {
	addr := config.GetSystemSettingString(config.LEASE_REDIS_ADDR)
	if addr == "" {
		slog.InfoContext(ctx, "Using in-process execution leases")
		return lease.NewLocalLocker(), func() {}, nil
	}
	locker, err := lease.NewRedisLockerFromAddr(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting lease store %s: %w", addr, err)
	}
	slog.InfoContext(ctx, "Using Redis execution leases", "addr", addr)
	return locker, func() { _ = locker.Close() }, nil
}

// Start boots the workflow engine and HTTP server and blocks until ctx is cancelled or the server fails.
// A nil mux gets a fresh one.
func Start(ctx context.Context, mux *http.ServeMux) error {
	db, err := repository.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	locker, closeLocker, err := newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	clock := core.NewRealClock()
	workflowRepo := repository.NewWorkflowRepository(db, clock)
	workflowActionRepo := repository.NewWorkflowActionRepository(db)
	executorRepo := repository.NewExecutorRepository(db)
	definitionRepo := repository.NewWorkflowDefinitionRepository(db)

	registry := NewWorkflowRegistry(clock, NewCollaborators(config.LoadCollaborators()), RetryConfigFromSettings())
	wfManager := engine.NewWorkflowManager(workflowRepo, workflowActionRepo, executorRepo, definitionRepo, registry, clock, locker)

	engineCtx, stopEngine := context.WithCancel(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		wfManager.StartEngine(engineCtx, config.GetSystemSettingDuration(config.ENGINE_CHECK_DB_INTERVAL))
	}()
	defer func() {
		stopEngine()
		<-engineDone
	}()

	if mux == nil {
		mux = http.NewServeMux()
	}
	auth := controllers.NewAuthController(config.GetSystemSettingList(config.API_KEY_HASHES))
	controllers.NewExecutionsController(wfManager, auth).RegisterRoutes(mux)
	controllers.NewExecutorsController(wfManager, auth).RegisterRoutes(mux)
	controllers.RegisterHealth(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("HTTP server failed", "error", err)
		return err
	case <-ctx.Done():
		slog.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// SetupLogger installs a tint handler on the default slog logger. level is one of debug, info, warn
// or error; anything else means info.
func SetupLogger(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      l,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
