// Package cli provides the fintrack subcommands and the initialization
// they share.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/engine"
	"fintrack/internal/insight"
	"fintrack/internal/log"
	"fintrack/internal/report/sheets"
)

// SetupLogger builds the logger described by cfg and makes it the default.
func SetupLogger(cfg *config.Config) *log.Logger {
	logger := log.New(cfg.LogConfig())
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is an opened backend with an engine over it.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Engine  *engine.Engine
	cleanup backend.CleanupFunc
}

// OpenApp creates the configured backend and an engine over it. The engine
// is not started.
func OpenApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backend.ConfigFromAppConfig(cfg))
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(res.Backend, engine.Options{
		Principal: cfg.PrincipalID,
		Currency:  cfg.Currency,
		TrendDays: cfg.TrendWindowDays,
		Retry:     cfg.FetchRetry(),
		Subscribe: cfg.SubscribePolicy(),
		Logger:    logger,
	})
	if err != nil {
		_ = res.Cleanup()
		return nil, err
	}
	return &App{Config: cfg, Logger: logger, Engine: eng, cleanup: res.Cleanup}, nil
}

// StartScoped starts the engine, switches to scope and waits for the first
// load to settle.
func (a *App) StartScoped(ctx context.Context, scope core.Scope, timeout time.Duration) error {
	if err := a.Engine.Start(ctx); err != nil {
		return err
	}
	if scope.IsGroup() {
		if err := a.Engine.SetScope(ctx, scope); err != nil {
			return err
		}
	}
	settleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.Engine.Settle(settleCtx); err != nil {
		return fmt.Errorf("wait for initial load: %w", err)
	}
	if st := a.Engine.Status(); st.Stale {
		a.Logger.Warn("Views are stale", log.FieldScope, st.Scope, "failed", st.Failed, "degraded", st.Degraded)
	}
	return nil
}

// Close stops the engine and releases the backend.
func (a *App) Close() error {
	return errors.Join(a.Engine.Close(), a.cleanup())
}

// ParseScope reads "personal" or "group:<id>".
func ParseScope(s string) (core.Scope, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == string(core.ScopePersonal):
		return core.Scope{Kind: core.ScopePersonal}, nil
	case strings.HasPrefix(s, "group:"):
		return core.Scope{Kind: core.ScopeGroup, GroupID: strings.TrimPrefix(s, "group:")}, nil
	default:
		return core.Scope{}, fmt.Errorf("%w: %q, want personal or group:<id>", core.ErrInvalidScope, s)
	}
}

// NewInsights returns a requester when a Gemini key is configured, nil
// otherwise.
func NewInsights(ctx context.Context, cfg *config.Config, logger *log.Logger) (*insight.Requester, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, nil
	}
	gen, err := insight.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	return insight.NewRequester(gen, cfg.InsightOptions(), logger), nil
}

// NewPublisher returns a Sheets publisher when a spreadsheet is configured,
// nil otherwise.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *log.Logger) (*sheets.Publisher, error) {
	if cfg.GoogleSpreadsheetID == "" {
		return nil, nil
	}
	return sheets.New(ctx, sheets.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
	}, logger)
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. The
// cleanup func runs with a context bounded by timeout before the returned
// channel closes.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}
