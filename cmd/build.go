package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagebuild/internal/errors"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build every page once",
	Long: `Scan the page root, bundle every page source and rewrite the metadata
file from scratch. Pages that fail to build are reported; the others are
still written and registered.

Examples:
  pagebuild build                     # Build ./pages into ./dist
  pagebuild build --root src/pages    # Build a different root
  pagebuild build -j 4                # Limit parallel builds`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), map[string]string{"concurrency": "concurrency"})
	},
	RunE: runBuild,
}

var buildVerbose bool

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVarP(&buildVerbose, "verbose", "v", false, "list the built components")
	buildCmd.Flags().IntP("concurrency", "j", 0, "parallel builds (default number of CPUs)")
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	entries, err := a.orchestrator.BuildAll(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Built %d page(s) into %s\n", len(entries), cfg.OutputDir)
	if err != nil {
		logger.Error(ctx, err, "Build finished with errors")
		if !errors.IsBuildError(err) {
			return err
		}
		return errors.NewBuildError(errors.ErrCodeBuildFailed, "build failed", err)
	}

	if buildVerbose {
		for _, name := range entries.Names() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s\n", name, entries[name].ScriptFileName)
		}
	}
	return nil
}
