// Package cmd implements the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/app"
	"github.com/JakeFAU/keyword-harvester/internal/collector"
	"github.com/JakeFAU/keyword-harvester/internal/config"
	"github.com/JakeFAU/keyword-harvester/internal/harvest"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands use. Tests inject a fake.
type App interface {
	Logger() *zap.Logger
	Start(ctx context.Context)
	Harvest(ctx context.Context, reqs []harvest.Request) ([]harvest.Job, error)
	Collector(source string) (collector.Collector, error)
	Sources() []string
	Close(ctx context.Context)
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, &cfg, nil)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests keyword candidates from social platforms.",
		Long: `harvester collects related search terms and engagement signals from chat
servers and image boards. Every remote call goes through a per-source rate
limiter, circuit breaker and retry policy, and results are cached.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				appInstance.Close(ctx)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults plus HARVESTER_* environment when empty)")

	cmd.AddCommand(newCollectCmd(), newMetricsCmd(), newClassifyCmd(), newStateCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
