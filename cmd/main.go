// Identity orchestrator: per-profile browser identities, spoof bundles and browser process supervision.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"identity-orchestrator/internal/browser"
	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/extension"
	"identity-orchestrator/internal/identity"
	"identity-orchestrator/internal/runner"
	"identity-orchestrator/internal/spoof"
	"identity-orchestrator/internal/storage"
)

// Version info
const (
	AppName    = "identity-orchestrator"
	AppVersion = "1.0.0"
)

// Command line flags
var (
	configPath string
	logLevel   string
)

// App holds all application dependencies
type App struct {
	config       *config.Config
	logger       zerolog.Logger
	db           *storage.Database
	identities   *storage.IdentityStore
	launches     *storage.LaunchStore
	engine       *identity.Engine
	synthesizer  *spoof.Synthesizer
	resolver     *extension.Resolver
	orchestrator *browser.Orchestrator
	runner       *runner.Runner
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           AppName,
		Short:         "Generate browser identities, synthesize spoof bundles and supervise browser processes",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newLaunchCmd(),
		newIdentityCmd(),
		newBundleCmd(),
		newStatusCmd(),
	)
	return root
}

// NewApp loads configuration and wires every component
func NewApp() (*App, error) {
	app := &App{}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.config = cfg

	// Override with command line flags
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Setup logging
	app.setupLogging()
	app.logger.Debug().Str("version", AppVersion).Msg("Starting application")

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Browser.ChromiumPath == "" {
		if path, ok := launcher.LookPath(); ok {
			cfg.Browser.ChromiumPath = path
			app.logger.Debug().Str("path", path).Msg("Using browser found on this machine")
		}
	}

	// Initialize database
	db, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.db = db

	// Initialize stores
	app.identities = storage.NewIdentityStore(db)
	app.launches = storage.NewLaunchStore(db)

	app.engine = identity.NewEngine(&cfg.Identity, app.logger)
	app.synthesizer = spoof.NewSynthesizer(&cfg.Spoof, app.logger)
	app.resolver = extension.NewResolver(&cfg.Extensions, app.logger)
	app.orchestrator = browser.NewOrchestrator(browser.NewRegistry(), browser.ExecSpawner{}, app.logger)
	app.runner = runner.New(cfg, app.engine, app.identities, app.launches,
		app.synthesizer, app.resolver, app.orchestrator, app.logger)

	app.logger.Debug().Msg("Application initialized")
	return app, nil
}

// setupLogging configures the logger
func (app *App) setupLogging() {
	// Pretty console output on stderr so command output stays parseable
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Set log level
	level := zerolog.InfoLevel
	switch app.config.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	app.logger = zerolog.New(output).Level(level).With().Timestamp().Logger()
	log.Logger = app.logger
}

// Shutdown stops running browsers and releases all resources
func (app *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if app.orchestrator.Registry().Len() > 0 {
		app.logger.Info().Int("running", app.orchestrator.Registry().Len()).Msg("Stopping running profiles")
		if err := app.runner.Shutdown(ctx); err != nil {
			app.logger.Warn().Err(err).Msg("Some profiles did not stop in time")
		}
	}

	if app.db != nil {
		app.db.Close()
	}
}

// withApp runs fn with a fully wired application
func withApp(fn func(app *App) error) error {
	app, err := NewApp()
	if err != nil {
		return err
	}
	defer app.Shutdown(10 * time.Second)

	if err := fn(app); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		app.logger.Debug().Err(err).Msg("Command failed")
		return err
	}
	return nil
}
