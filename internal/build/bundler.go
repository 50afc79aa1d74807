package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/pagebuild/internal/errors"
)

// Entry is one bundler invocation: an in-memory entry program, the
// directory its relative imports resolve against, and the output file.
type Entry struct {
	Contents   string
	ResolveDir string
	// Sourcefile names the in-memory entry in diagnostics.
	Sourcefile string
	Outfile    string
}

// Bundler turns one entry program into one browser-loadable script.
type Bundler interface {
	Build(ctx context.Context, entry Entry) error
}

// BundlerOptions configures the esbuild invocation.
type BundlerOptions struct {
	Minify    bool
	SourceMap bool
	// JSXImportSource selects the automatic JSX runtime package.
	JSXImportSource string
	// Define replaces global identifiers at build time.
	Define map[string]string
}

// EsbuildBundler bundles entries in-process with esbuild.
type EsbuildBundler struct {
	options BundlerOptions
}

// NewEsbuildBundler creates a bundler with the given options.
func NewEsbuildBundler(opts BundlerOptions) *EsbuildBundler {
	if opts.JSXImportSource == "" {
		opts.JSXImportSource = "react"
	}
	return &EsbuildBundler{options: opts}
}

// Build runs esbuild with bundling enabled for the browser platform. The
// entry is passed as stdin so the page source is never touched. esbuild's
// error messages are returned unchanged inside an errors.BundlerError.
func (b *EsbuildBundler) Build(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(entry.Outfile), 0755); err != nil {
		return errors.NewIOError(errors.ErrCodeBuildFailed, "creating bundle directory failed", err).
			WithFile(entry.Outfile)
	}

	result := api.Build(b.buildOptions(entry))
	if len(result.Errors) > 0 {
		return toBundlerError(result.Errors)
	}

	return nil
}

func (b *EsbuildBundler) buildOptions(entry Entry) api.BuildOptions {
	opts := api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   entry.Contents,
			ResolveDir: entry.ResolveDir,
			Sourcefile: entry.Sourcefile,
			Loader:     api.LoaderTSX,
		},
		Bundle:          true,
		Platform:        api.PlatformBrowser,
		Format:          api.FormatIIFE,
		Outfile:         entry.Outfile,
		Write:           true,
		LogLevel:        api.LogLevelSilent,
		JSX:             api.JSXAutomatic,
		JSXImportSource: b.options.JSXImportSource,
		Define:          b.options.Define,
	}

	if b.options.Minify {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}
	if b.options.SourceMap {
		opts.Sourcemap = api.SourceMapLinked
	}

	return opts
}

func toBundlerError(messages []api.Message) *errors.BundlerError {
	be := &errors.BundlerError{Messages: make([]errors.BuildMessage, 0, len(messages))}
	for _, m := range messages {
		msg := errors.BuildMessage{Text: m.Text}
		if m.Location != nil {
			msg.File = m.Location.File
			msg.Line = m.Location.Line
			msg.Column = m.Location.Column
		}
		be.Messages = append(be.Messages, msg)
	}
	return be
}
