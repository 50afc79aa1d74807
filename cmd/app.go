package cmd

import (
	"context"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagebuild/internal/build"
	"github.com/conneroisu/pagebuild/internal/config"
	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
	"github.com/conneroisu/pagebuild/internal/metrics"
	"github.com/conneroisu/pagebuild/internal/orchestrator"
	"github.com/conneroisu/pagebuild/internal/registry"
)

// newBuilder creates the page builder. Tests replace it to avoid running
// esbuild against real dependencies.
var newBuilder = func(cfg *config.Config, logger logging.Logger) (orchestrator.Builder, error) {
	return build.NewInvoker(build.NewEsbuildBundler(cfg.BundlerOptions()), cfg.HydrationOptions(), logger)
}

// app holds the components shared by the build and watch commands.
type app struct {
	config       *config.Config
	logger       logging.Logger
	metrics      *metrics.Metrics
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
}

// loadConfig loads the configuration and makes its paths absolute so the
// orchestrator, the metadata file and the server agree on them.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	for _, path := range []*string{&cfg.Root, &cfg.OutputDir, &cfg.MetadataPath} {
		abs, err := filepath.Abs(*path)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeConfigInvalid, "resolving path failed", err).WithFile(*path)
		}
		*path = abs
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) logging.Logger {
	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Output = out
	return logging.NewLogger(loggerConfig)
}

func newApp(cfg *config.Config, logger logging.Logger) (*app, error) {
	builder, err := newBuilder(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	reg := registry.New(registry.NewFileStore(cfg.MetadataPath), logger)
	orch, err := orchestrator.New(orchestrator.Options{
		Root:        cfg.Root,
		Suffix:      cfg.Suffix,
		OutputDir:   cfg.OutputDir,
		Excludes:    cfg.Excludes,
		Concurrency: cfg.Concurrency,
	}, reg, orchestrator.NewLockSet(), builder, logger, m)
	if err != nil {
		return nil, err
	}

	return &app{
		config:       cfg,
		logger:       logger,
		metrics:      m,
		registry:     reg,
		orchestrator: orch,
	}, nil
}

// commandContext returns the command's context, or Background when the
// command is run directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
