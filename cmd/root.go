// Package cmd defines and implements the CLI commands for the savecodenow
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/config"
	"github.com/JakeFAU/savecodenow/internal/exporter"
	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey   appKeyType = "app"
	builtKey appKeyType = "built"
)

// Lifecycle is the slice of the lifecycle manager the management commands use.
type Lifecycle interface {
	RefreshPending(ctx context.Context) ([]savecode.SaveRequest, error)
	List(ctx context.Context, filter savecode.ListFilter, page savecode.Page) ([]savecode.SaveRequest, error)
	ListOrigins(ctx context.Context, kind savecode.OriginListKind) ([]string, error)
	AddOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error
	RemoveOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error
}

// Exporter dumps requests to the configured blob store.
type Exporter interface {
	Export(ctx context.Context, prefix string) (exporter.Result, error)
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Run(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Lifecycle() Lifecycle
	Exports() Exporter
	ExportPrefix() string
}

// newApp is the application factory. It's a variable so we can
// replace it with a fake factory in our tests.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, v, err := config.LoadViper(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, cfg, server.Options{Viper: v})
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

type serverApp struct {
	*server.App
}

func (a serverApp) Lifecycle() Lifecycle { return a.Manager() }
func (a serverApp) Exports() Exporter { return a.Exporter() }
func (a serverApp) ExportPrefix() string { return a.Config().Storage.Prefix }

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "savecodenow",
		Short: "Save code now: origin save request lifecycle service.",
		Long: `savecodenow accepts requests to archive software origins, schedules
loading tasks and keeps each request's status in sync with the scheduler and
the archive's visits.`,
		SilenceUsage: true,

		// Builds the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if built, ok := cmd.Context().Value(builtKey).(*App); ok {
				*built = appInstance
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env SAVECODENOW_* overrides apply)")

	cmd.AddCommand(
		newServeCmd(),
		newRefreshCmd(),
		newMigrateCmd(),
		newExportCmd(),
		newOriginsCmd(),
		newRequestsCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// executeCommand runs cmd and then closes the application it built. Cobra
// skips post-run hooks when a command fails, so closing happens here.
func executeCommand(ctx context.Context, cmd *cobra.Command) error {
	var built App
	err := cmd.ExecuteContext(context.WithValue(ctx, builtKey, &built))
	if built != nil {
		if closeErr := built.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close application: %w", closeErr))
		}
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := executeCommand(ctx, newRootCmd()); err != nil {
		fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}
