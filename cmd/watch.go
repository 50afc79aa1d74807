package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pagebuild/internal/config"
	"github.com/conneroisu/pagebuild/internal/registry"
	"github.com/conneroisu/pagebuild/internal/server"
	"github.com/conneroisu/pagebuild/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Build every page, then rebuild pages as they change",
	Long: `Run a full build, then watch the page root. Changed pages are rebuilt
and registered, deleted pages have their bundles and metadata entries
removed. Every notification is handled as it arrives; there is no
debouncing.

Examples:
  pagebuild watch                     # Watch ./pages
  pagebuild watch --serve             # Also serve bundles with live reload
  pagebuild watch --serve --port 8080 # Serve on another port`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), map[string]string{
			"serve":  "server.enabled",
			"port":   "server.port",
			"host":   "server.host",
			"strict": "strict",
		})
	},
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Bool("serve", false, "start the preview server")
	watchCmd.Flags().IntP("port", "p", config.DefaultPort, "preview server port")
	watchCmd.Flags().String("host", config.DefaultHost, "preview server host")
	watchCmd.Flags().Bool("strict", false, "fail page requests for unregistered components")
}

// startWatcher begins delivering events; replaced in tests.
var startWatcher = func(ctx context.Context, w *watcher.FileWatcher) error {
	return w.Start(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A nil map means the scan itself failed. Pages that failed to build
	// are picked up again on their next change.
	entries, err := a.orchestrator.BuildAll(ctx)
	if err != nil {
		if entries == nil {
			return err
		}
		logger.Warn(ctx, err, "Initial build finished with errors")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Built %d page(s) into %s\n", len(entries), cfg.OutputDir)

	fileWatcher, err := watcher.NewFileWatcher(a.orchestrator.Root(), logger)
	if err != nil {
		return err
	}
	defer fileWatcher.Stop()
	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddFilter(watcher.ExcludeFilter(cfg.Excludes))

	// nothing is running yet, so a failed start has nothing to unwind
	if err := startWatcher(ctx, fileWatcher); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		resolver := registry.NewResolver(a.registry, registry.ResolverOptions{
			Strict: cfg.Strict,
			Suffix: cfg.Suffix,
		}, logger)
		previewServer, err := server.New(server.Options{
			Addr:           cfg.Addr(),
			OutputDir:      cfg.OutputDir,
			RootID:         cfg.Hydration.RootID,
			DataGlobal:     cfg.Hydration.DataGlobal,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, a.registry, resolver, a.metrics, logger)
		if err != nil {
			return err
		}
		a.orchestrator.OnBuild(previewServer.HandleBuildResult)

		group.Go(func() error {
			return previewServer.Start(ctx)
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", cfg.Addr())
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes... (Press Ctrl+C to stop)\n", a.orchestrator.Root())

	group.Go(func() error {
		return a.orchestrator.Run(ctx, fileWatcher.Events())
	})

	err = group.Wait()
	a.orchestrator.Wait()
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
