package registry

import (
	"context"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
	"github.com/conneroisu/pagebuild/internal/naming"
)

// Lookup finds the entry of a component.
type Lookup interface {
	Get(name string) (Entry, bool)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(name string) (Entry, bool)

// Get implements Lookup.
func (f LookupFunc) Get(name string) (Entry, bool) {
	return f(name)
}

// FileLookup re-reads the metadata file on every lookup so a separate
// process always sees the latest persisted snapshot.
func FileLookup(ctx context.Context, path string, logger logging.Logger) Lookup {
	return LookupFunc(func(name string) (Entry, bool) {
		entry, ok := Load(ctx, path, logger)[name]
		return entry, ok
	})
}

// ResolverOptions selects how missing components are handled.
type ResolverOptions struct {
	// Strict fails with a not-found error for components absent from the
	// registry. Otherwise the naming convention is used as a fallback.
	Strict bool
	// Suffix is the page source suffix the fallback name is derived for.
	Suffix string
}

// Resolver maps component names to bundle file names.
type Resolver struct {
	lookup  Lookup
	options ResolverOptions
	logger  logging.Logger
}

// NewResolver creates a resolver over lookup.
func NewResolver(lookup Lookup, opts ResolverOptions, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{
		lookup:  lookup,
		options: opts,
		logger:  logger.WithComponent("resolver"),
	}
}

// Strict reports whether the resolver fails on missing components.
func (r *Resolver) Strict() bool {
	return r.options.Strict
}

// Resolve returns the bundle file name registered for name. A missing
// component is an errors.ErrNotFound error in strict mode; otherwise a
// warning is logged and the conventional file name is returned.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if entry, ok := r.lookup.Get(name); ok {
		return entry.ScriptFileName, nil
	}

	if r.options.Strict {
		return "", errors.NewNotFoundError(name)
	}

	fallback := naming.FallbackScriptFileName(name, r.options.Suffix)
	r.logger.Warn(ctx, nil, "Component not in registry, using naming convention",
		"name", name, "fallback", fallback)
	return fallback, nil
}

// ResolveEntry returns the full entry for name, failing with a not-found
// error when it is absent regardless of mode.
func (r *Resolver) ResolveEntry(_ context.Context, name string) (Entry, error) {
	if entry, ok := r.lookup.Get(name); ok {
		return entry, nil
	}
	return Entry{}, errors.NewNotFoundError(name)
}
