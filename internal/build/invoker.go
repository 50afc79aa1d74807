// Package build produces page bundles: it synthesizes the hydration
// bootstrap for a page and hands it to the bundler.
package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
)

// bootstrapTemplate imports the page's default export and hydrates it into
// the root element with the data the server injected into the data global.
// createRoot has a different call shape and renders from scratch.
const bootstrapTemplate = `import Page from {{ js .ImportPath }};
import { {{ .HydrateFunc }} } from {{ js .HydrateModule }};

const data = window[{{ js .DataGlobal }}] ?? {};
const root = document.getElementById({{ js .RootID }});

{{ if eq .HydrateFunc "createRoot" }}createRoot(root).render(<Page {...data} />);
{{- else }}{{ .HydrateFunc }}(root, <Page {...data} />);
{{- end }}
`

// HydrationOptions parameterizes the bootstrap program.
type HydrationOptions struct {
	// HydrateModule is the module exporting the hydration entry point.
	HydrateModule string
	// HydrateFunc is the named export called as fn(rootElement, element),
	// or react-dom's createRoot, called as createRoot(rootElement).render(element).
	HydrateFunc string
	RootID      string
	DataGlobal  string
}

// DefaultHydrationOptions targets react-dom's hydrateRoot.
func DefaultHydrationOptions() HydrationOptions {
	return HydrationOptions{
		HydrateModule: "react-dom/client",
		HydrateFunc:   "hydrateRoot",
		RootID:        "root",
		DataGlobal:    "__PAGE_DATA__",
	}
}

type bootstrapData struct {
	HydrationOptions
	ImportPath string
}

// Invoker builds one page at a time through a Bundler.
type Invoker struct {
	bundler  Bundler
	options  HydrationOptions
	template *template.Template
	logger   logging.Logger
}

// NewInvoker creates an invoker. Empty hydration fields take their defaults.
func NewInvoker(bundler Bundler, opts HydrationOptions, logger logging.Logger) (*Invoker, error) {
	defaults := DefaultHydrationOptions()
	if opts.HydrateModule == "" {
		opts.HydrateModule = defaults.HydrateModule
	}
	if opts.HydrateFunc == "" {
		opts.HydrateFunc = defaults.HydrateFunc
	}
	if opts.RootID == "" {
		opts.RootID = defaults.RootID
	}
	if opts.DataGlobal == "" {
		opts.DataGlobal = defaults.DataGlobal
	}
	if !isIdentifier(opts.HydrateFunc) {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("hydrate function %q is not a valid identifier", opts.HydrateFunc))
	}

	tmpl, err := template.New("bootstrap").Funcs(template.FuncMap{"js": jsString}).Parse(bootstrapTemplate)
	if err != nil {
		return nil, errors.NewInternalError("ERR_TEMPLATE", "parsing bootstrap template failed", err)
	}

	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Invoker{
		bundler:  bundler,
		options:  opts,
		template: tmpl,
		logger:   logger.WithComponent("build"),
	}, nil
}

// Bootstrap renders the entry program for the page at sourcePath.
func (i *Invoker) Bootstrap(sourcePath string) (string, error) {
	var buf bytes.Buffer
	data := bootstrapData{
		HydrationOptions: i.options,
		ImportPath:       "./" + filepath.Base(sourcePath),
	}
	if err := i.template.Execute(&buf, data); err != nil {
		return "", errors.NewInternalError("ERR_TEMPLATE", "rendering bootstrap failed", err).WithFile(sourcePath)
	}
	return buf.String(), nil
}

// Build bundles the page at sourcePath into outfile. Bundler failures are
// returned as build errors whose cause is the bundler's own error; nothing
// is retried.
func (i *Invoker) Build(ctx context.Context, sourcePath, outfile string) error {
	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return errors.ErrBuildFailed(sourcePath, err)
	}

	contents, err := i.Bootstrap(absSource)
	if err != nil {
		return err
	}

	op := logging.StartOperation(i.logger, "bundle")
	entry := Entry{
		Contents:   contents,
		ResolveDir: filepath.Dir(absSource),
		Sourcefile: filepath.Base(absSource) + ".entry.tsx",
		Outfile:    outfile,
	}
	if err := i.bundler.Build(ctx, entry); err != nil {
		// the caller reports the failure; only the timing is recorded here
		op.End(ctx, "source", sourcePath, "failed", true)
		return errors.ErrBuildFailed(sourcePath, err)
	}
	op.End(ctx, "source", sourcePath, "outfile", outfile)

	return nil
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
