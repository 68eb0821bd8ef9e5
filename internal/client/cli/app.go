package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/dealsync/internal/client/api"
	"github.com/iudanet/dealsync/internal/client/auth"
	"github.com/iudanet/dealsync/internal/client/offline"
	"github.com/iudanet/dealsync/internal/client/storage/boltdb"
	"github.com/iudanet/dealsync/internal/config"
	"github.com/iudanet/dealsync/internal/validation"
)

// healthTimeout ограничивает проверку доступности сервера
const healthTimeout = 3 * time.Second

// app holds collaborators of one command invocation.
type app struct {
	runtime *offline.Runtime
	auth    *auth.Service
	client  *api.Client
	store   *boltdb.Storage
	logger  *slog.Logger
	out     *printer
	cfg     *config.Config
	tenant  string
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = opts.DBPath
	}
	if flags.Changed("server") {
		cfg.ServerURL = opts.ServerURL
	}
	if flags.Changed("tenant") {
		cfg.TenantID = opts.TenantID
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	// Команды CLI короткоживущие: фоновый drain не нужен
	cfg.Queue.DrainInterval = 0
	return cfg, nil
}

// openApp builds and starts the runtime. The caller must call close.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

	store := boltdb.New(cfg.DBPath, boltdb.Options{
		Logger:      logger,
		MaxBytes:    cfg.Store.MaxBytes,
		OpenTimeout: cfg.Store.OpenTimeout,
	})

	// Токен выдается без авторизации, поэтому у issuer свой клиент
	authService := auth.NewService(store, api.NewClient(cfg.ServerURL, nil), nil, logger)
	client := api.NewClient(cfg.ServerURL, authService)

	rt, err := offline.New(cfg, offline.Deps{
		Logger:   logger,
		Remote:   client,
		Store:    store,
		Sessions: authService,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build runtime", err)
	}

	if err := rt.Start(ctx); err != nil {
		_ = rt.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to start runtime: %w", err)
	}

	a := &app{
		runtime: rt,
		auth:    authService,
		client:  client,
		store:   store,
		logger:  logger,
		out:     newPrinter(opts),
		cfg:     cfg,
		tenant:  cfg.TenantID,
	}

	if !opts.Offline {
		a.checkHealth(ctx)
	}
	return a, nil
}

// checkHealth отмечает runtime онлайн, если сервер отвечает
func (a *app) checkHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := a.client.Health(ctx); err != nil {
		a.logger.Debug("Server unreachable, working offline", "server", a.cfg.ServerURL, "error", err)
		return
	}
	a.runtime.SetOnline(true)
}

func (a *app) close() error {
	return errors.Join(a.runtime.Close(), a.store.Close())
}

// tenantID returns the tenant to act for.
func (a *app) tenantID() (string, error) {
	if a.tenant == "" {
		return "", NewExitError(ExitCommandError, "tenant is not set: use --tenant or tenant_id in config")
	}
	if err := validation.ValidateTenantID(a.tenant); err != nil {
		return "", WrapExitError(ExitCommandError, "invalid tenant", err)
	}
	return a.tenant, nil
}

// withApp opens the runtime for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close runtime: %w", cerr)
		}
	}()

	if err := fn(ctx, a); err != nil {
		return err
	}

	// Уведомления о потерянных изменениях показываем после любой команды
	for _, n := range a.runtime.TakeNotifications() {
		a.logger.Warn("Change could not be saved", "tenant_id", n.TenantID, "resource_id", n.ResourceID, "message", n.Message)
	}
	return nil
}
