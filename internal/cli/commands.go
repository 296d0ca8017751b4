package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"fintrack/internal/cache"
	"fintrack/internal/config"
	"fintrack/internal/engine"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/report"
	"fintrack/internal/store/postgres"
	"fintrack/internal/store/sqlite"
)

const loadTimeout = 30 * time.Second

// Register adds every fintrack subcommand to c.
func Register(c *subcommands.Commander) {
	c.Register(&serveCmd{}, "server")
	c.Register(&migrateCmd{}, "server")

	c.Register(&statusCmd{}, "views")
	c.Register(&reportCmd{}, "views")
	c.Register(&insightsCmd{}, "views")
}

// bootstrap loads configuration and builds the logger. Failures are
// reported on stderr.
func bootstrap() (*config.Config, *log.Logger, bool) {
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return nil, nil, false
	}
	return cfg, SetupLogger(cfg), true
}

// openScoped opens the app and waits for scope to load.
func openScoped(ctx context.Context, scopeFlag string) (*App, subcommands.ExitStatus) {
	scope, err := ParseScope(scopeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, subcommands.ExitUsageError
	}
	cfg, logger, ok := bootstrap()
	if !ok {
		return nil, subcommands.ExitFailure
	}
	app, err := OpenApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening backend: %v\n", err)
		return nil, subcommands.ExitFailure
	}
	if err := app.StartScoped(ctx, scope, loadTimeout); err != nil {
		_ = app.Close()
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", scopeFlag, err)
		return nil, subcommands.ExitFailure
	}
	return app, subcommands.ExitSuccess
}

// serveCmd runs the HTTP API until SIGINT or SIGTERM.
type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve live views over HTTP" }
func (*serveCmd) Usage() string {
	return `fintrack serve

  Starts the engine in the personal scope and serves the JSON API on PORT.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (*serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, logger, ok := bootstrap()
	if !ok {
		return subcommands.ExitFailure
	}
	logger = logger.WithComponent(log.ComponentApp)
	logger.Info("Starting fintrack", log.FieldBackend, cfg.DataBackend, log.FieldScope, "personal:"+cfg.PrincipalID)

	app, err := OpenApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open backend", log.FieldError, err)
		return subcommands.ExitFailure
	}

	opts := apphttp.Options{Logger: logger}
	caches := cache.NewManager(logger)
	insights, err := NewInsights(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Insights disabled", log.FieldError, err)
	} else if insights != nil {
		caches.Register(insights.Cache())
		opts.Insights = insights
	}
	publisher, err := NewPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Report publishing disabled", log.FieldError, err)
	} else if publisher != nil {
		opts.Publisher = publisher
	}
	caches.StartCleanup(5 * time.Minute)

	srv := apphttp.NewServer(":"+cfg.Port, app.Engine, opts)
	runCtx, done := GracefulShutdown(logger, 10*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", log.FieldError, err)
		}
		caches.Stop()
		if err := app.Close(); err != nil {
			logger.Error("Backend close failed", log.FieldError, err)
		}
	})

	remove := app.Engine.OnStale(func(ev engine.StaleEvent) {
		logger.Warn("Views stale", log.FieldScope, ev.Scope, log.FieldTable, ev.Table,
			log.FieldErrorKind, ev.Kind.String(), log.FieldError, ev.Err)
	})
	defer remove()

	if err := app.Engine.Start(runCtx); err != nil {
		logger.Error("Failed to start engine", log.FieldError, err)
		return subcommands.ExitFailure
	}

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", log.FieldError, err)
		}
	}()

	<-runCtx.Done()
	<-done
	return subcommands.ExitSuccess
}

// migrateCmd applies schema migrations to the configured SQL backend.
type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply database migrations" }
func (*migrateCmd) Usage() string {
	return `fintrack migrate

  Applies the embedded migrations for DATA_BACKEND=sqlite or postgres.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, logger, ok := bootstrap()
	if !ok {
		return subcommands.ExitFailure
	}
	switch cfg.DataBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLiteDBPath, nil, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error migrating %s: %v\n", cfg.SQLiteDBPath, err)
			return subcommands.ExitFailure
		}
		_ = s.Close()
	case config.BackendPostgres:
		if err := postgres.RunMigrations(cfg.PostgresDSN); err != nil {
			fmt.Fprintf(os.Stderr, "Error migrating postgres: %v\n", err)
			return subcommands.ExitFailure
		}
	default:
		fmt.Fprintf(os.Stderr, "Backend %q has no schema to migrate\n", cfg.DataBackend)
		return subcommands.ExitSuccess
	}
	logger.Info("Migrations applied", log.FieldBackend, cfg.DataBackend)
	return subcommands.ExitSuccess
}

// statusCmd loads a scope once and prints its freshness.
type statusCmd struct {
	scope string
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "load a scope and print its status" }
func (*statusCmd) Usage() string {
	return `fintrack status [-scope personal|group:<id>]
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scope, "scope", "personal", "Scope to load: personal or group:<id>.")
}

func (c *statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	app, status := openScoped(ctx, c.scope)
	if app == nil {
		return status
	}
	defer app.Close()

	st := app.Engine.Status()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "scope\t%s\n", st.Scope)
	fmt.Fprintf(w, "loaded\t%t\n", st.Loaded)
	fmt.Fprintf(w, "stale\t%t\n", st.Stale)
	fmt.Fprintf(w, "subscriptions\t%d\n", st.Subscriptions)
	for table, msg := range st.Failed {
		fmt.Fprintf(w, "failed %s\t%s\n", table, msg)
	}
	_ = w.Flush()
	if st.Stale {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// reportCmd lists, exports or publishes reports.
type reportCmd struct {
	scope   string
	format  string
	output  string
	publish bool
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "list, export or publish reports" }
func (*reportCmd) Usage() string {
	return `fintrack report [-scope <scope>] [-format csv|json] [-o <file>] [<report-id>]
fintrack report -publish [-scope <scope>]

  Without an id, lists the available reports. With an id, exports it.
  -publish writes every report to the configured Google spreadsheet.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scope, "scope", "personal", "Scope to report on: personal or group:<id>.")
	f.StringVar(&c.format, "format", "csv", "Export format: csv or json.")
	f.StringVar(&c.output, "o", "", "Write the export to this file instead of stdout.")
	f.BoolVar(&c.publish, "publish", false, "Publish every report to Google Sheets.")
}

func (c *reportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	format, err := report.ParseFormat(c.format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	if f.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Error: at most one report id")
		return subcommands.ExitUsageError
	}

	app, status := openScoped(ctx, c.scope)
	if app == nil {
		return status
	}
	defer app.Close()

	switch {
	case c.publish:
		publisher, err := NewPublisher(ctx, app.Config, app.Logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating publisher: %v\n", err)
			return subcommands.ExitFailure
		}
		if publisher == nil {
			fmt.Fprintln(os.Stderr, "Error: GOOGLE_SPREADSHEET_ID is not set")
			return subcommands.ExitFailure
		}
		if err := publisher.PublishAll(ctx, app.Engine.Reports()); err != nil {
			fmt.Fprintf(os.Stderr, "Error publishing reports: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("Published %d reports\n", len(app.Engine.Reports()))
	case f.NArg() == 0:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tROWS")
		for _, d := range app.Engine.Reports() {
			fmt.Fprintf(w, "%s\t%s\t%d\n", d.ID, d.Title, len(d.Data.Rows))
		}
		_ = w.Flush()
	default:
		body, err := app.Engine.ExportReport(f.Arg(0), format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting %s: %v\n", f.Arg(0), err)
			return subcommands.ExitFailure
		}
		if c.output == "" {
			_, _ = os.Stdout.Write(body)
			return subcommands.ExitSuccess
		}
		if err := os.WriteFile(c.output, body, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", c.output, err)
			return subcommands.ExitFailure
		}
	}
	return subcommands.ExitSuccess
}

// insightsCmd asks the text generator for advice on a scope's summary.
type insightsCmd struct {
	scope string
	plain bool
}

func (*insightsCmd) Name() string     { return "insights" }
func (*insightsCmd) Synopsis() string { return "generate advice for a scope's finances" }
func (*insightsCmd) Usage() string {
	return `fintrack insights [-scope <scope>] [-plain]

  Sends a summary of the scope's month to date to Gemini and prints the
  answer. Requires GEMINI_API_KEY.
`
}

func (c *insightsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scope, "scope", "personal", "Scope to summarize: personal or group:<id>.")
	f.BoolVar(&c.plain, "plain", false, "Print raw markdown instead of rendering it.")
}

func (c *insightsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	app, status := openScoped(ctx, c.scope)
	if app == nil {
		return status
	}
	defer app.Close()

	requester, err := NewInsights(ctx, app.Config, app.Logger)
	if err != nil || requester == nil {
		fmt.Fprintf(os.Stderr, "Error: insights unavailable: %v\n", orMissingKey(err))
		return subcommands.ExitFailure
	}
	text, err := requester.Request(ctx, app.Engine.Summary())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	printMarkdown(text, c.plain)
	return subcommands.ExitSuccess
}

func orMissingKey(err error) error {
	if err != nil {
		return err
	}
	return errors.New("GEMINI_API_KEY is not set")
}

func printMarkdown(md string, plain bool) {
	if !plain {
		if out, err := glamour.Render(md, "dark"); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Println(strings.TrimSpace(md))
}
