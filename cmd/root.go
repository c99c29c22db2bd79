// Package cmd defines the crawl-dispatcher CLI.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-dispatcher/internal/config"
	"github.com/JakeFAU/crawl-dispatcher/internal/server"
)

var cfgFile string

// Runner is the slice of the application the commands drive. Tests swap in
// a fake through newApp.
type Runner interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	SweepOnce(ctx context.Context) (int64, error)
}

type appAdapter struct {
	*server.App
}

func (a appAdapter) SweepOnce(ctx context.Context) (int64, error) {
	return a.Sweeper().SweepOnce(ctx)
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg *config.Config) (Runner, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appAdapter{app}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl-dispatcher",
		Short: "Dispatches login-bound crawl tasks to a pool of session accounts.",
		Long: `crawl-dispatcher claims one login-bound crawl task at a time, pairs it
with a healthy session account and runs it, pausing and resuming work as
accounts are throttled or flagged.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRecoverCmd())
	return cmd
}

func loadApp(cmd *cobra.Command) (Runner, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := newApp(cmd.Context(), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
