// Package orchestrator drives full and incremental page builds.
//
// BuildAll scans the source root, bundles every page and replaces the
// registry in one write. Run consumes filesystem events and handles each
// one on its own goroutine: builds for the same file name are
// single-flight (a second event while one is in flight is dropped), builds
// for different names run concurrently, and deletions wait for any
// in-flight build of the same name before removing the registry entry and
// the bundle.
package orchestrator

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
	"github.com/conneroisu/pagebuild/internal/metrics"
	"github.com/conneroisu/pagebuild/internal/naming"
	"github.com/conneroisu/pagebuild/internal/registry"
	"github.com/conneroisu/pagebuild/internal/scanner"
	"github.com/conneroisu/pagebuild/internal/watcher"
)

// Builder bundles one page source into outfile.
type Builder interface {
	Build(ctx context.Context, sourcePath, outfile string) error
}

// BuildResult describes one finished build.
type BuildResult struct {
	FileName  string
	Component string
	Entry     registry.Entry
	Duration  time.Duration
	Error     error
}

// BuildCallback is called when a build completes
type BuildCallback func(result BuildResult)

// Options configures an Orchestrator.
type Options struct {
	// Root is the page source directory.
	Root string
	// Suffix marks page sources, for example "page.tsx".
	Suffix string
	// OutputDir receives the bundles, mirroring Root's layout.
	OutputDir string
	// Excludes are directory name patterns skipped while scanning.
	Excludes []string
	// Concurrency limits parallel builds in BuildAll. Zero means
	// runtime.NumCPU().
	Concurrency int
}

// Orchestrator owns the build flow for one source root.
type Orchestrator struct {
	root        string
	namer       naming.Namer
	scanner     *scanner.Scanner
	registry    *registry.Registry
	locks       *LockSet
	builder     Builder
	logger      logging.Logger
	metrics     *metrics.Metrics
	concurrency int

	callbacks []BuildCallback
	mutex     sync.RWMutex
	handlers  sync.WaitGroup
}

// New creates an orchestrator over the injected registry, lock set and
// builder. A nil logger or metrics disables them.
func New(opts Options, reg *registry.Registry, locks *LockSet, builder Builder, logger logging.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if reg == nil || locks == nil || builder == nil {
		return nil, errors.NewValidationError(errors.ErrCodeConfigInvalid, "orchestrator requires a registry, a lock set and a builder")
	}
	if opts.Suffix == "" {
		return nil, errors.NewValidationError(errors.ErrCodeConfigInvalid, "page suffix must not be empty")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeScanFailed, "resolving source root failed", err).WithFile(opts.Root)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	return &Orchestrator{
		root:        root,
		namer:       naming.Namer{Suffix: opts.Suffix, OutputDir: opts.OutputDir},
		scanner:     scanner.New(opts.Suffix, opts.Excludes),
		registry:    reg,
		locks:       locks,
		builder:     builder,
		logger:      logger.WithComponent("orchestrator"),
		metrics:     m,
		concurrency: concurrency,
	}, nil
}

// Root returns the absolute source root.
func (o *Orchestrator) Root() string {
	return o.root
}

// OnBuild registers a callback invoked after every watch-mode build.
func (o *Orchestrator) OnBuild(callback BuildCallback) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.callbacks = append(o.callbacks, callback)
}

// BuildAll scans the root, builds every page concurrently and replaces the
// registry with the successful builds. A scan failure aborts before any
// build. Per-file build failures do not stop other builds; they are
// returned joined, in file order, after the registry has been written.
func (o *Orchestrator) BuildAll(ctx context.Context) (registry.Metadata, error) {
	op := logging.StartOperation(o.logger, "build_all")

	sources, err := o.scanner.Scan(o.root)
	if err != nil {
		op.EndWithError(ctx, err, "root", o.root)
		return nil, err
	}

	collector := errors.NewErrorCollector()
	built := make([]naming.Identity, 0, len(sources))
	var builtMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, source := range sources {
		g.Go(func() error {
			id, err := o.buildSource(ctx, source)
			if err != nil {
				collector.Add(id.RelPath, err)
				return nil
			}
			builtMu.Lock()
			built = append(built, id)
			builtMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// colliding component names resolve to the last path in sorted order
	sort.Slice(built, func(i, j int) bool { return built[i].RelPath < built[j].RelPath })
	entries := make(registry.Metadata, len(built))
	for _, id := range built {
		if prev, ok := entries[id.ComponentName]; ok {
			o.logger.Warn(ctx, nil, "Component name collision, later path wins",
				"component", id.ComponentName, "previous", prev.OriginalPath, "path", id.RelPath)
		}
		entries[id.ComponentName] = entryFor(id)
	}

	persistErr := o.registry.RebuildFull(ctx, entries)
	o.metrics.SetRegistrySize(o.registry.Count())

	op.End(ctx, "pages", len(sources), "built", len(built), "failed", collector.Count())
	if collector.HasErrors() {
		o.logger.Warn(ctx, nil, "Build complete with failures",
			"pages", len(sources), "built", len(built), "failed", collector.Count(), "files", collector.Files())
	} else {
		o.logger.Info(ctx, "Build complete", "pages", len(sources), "built", len(built))
	}

	return entries, stderrors.Join(collector.Err(), persistErr)
}

// buildSource bundles one absolute source path.
func (o *Orchestrator) buildSource(ctx context.Context, source string) (naming.Identity, error) {
	rel, err := filepath.Rel(o.root, source)
	if err != nil {
		return naming.Identity{RelPath: source}, errors.ErrBuildFailed(source, err)
	}
	id := o.namer.Derive(rel)

	start := time.Now()
	err = o.builder.Build(ctx, source, id.OutputPath)
	o.metrics.ObserveBuild(time.Since(start), err)
	if err != nil {
		var pe *errors.PagebuildError
		if !stderrors.As(err, &pe) {
			pe = errors.ErrBuildFailed(id.RelPath, err)
			err = pe
		}
		pe.WithComponent(id.ComponentName)
		o.logger.Error(ctx, err, "Build failed", "file", id.RelPath)
		return id, err
	}

	o.logger.Debug(ctx, "Built page", "file", id.RelPath, "component", id.ComponentName, "output", id.OutputPath)
	return id, nil
}

// Run dispatches every event from events on its own goroutine until ctx is
// done or events is closed. Handlers already started are not cancelled;
// use Wait to block until they finish.
func (o *Orchestrator) Run(ctx context.Context, events <-chan watcher.Event) error {
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			o.handlers.Add(1)
			go func() {
				defer o.handlers.Done()
				o.HandleEvent(handlerCtx, event)
			}()
		}
	}
}

// Wait blocks until every handler started by Run has returned.
func (o *Orchestrator) Wait() {
	o.handlers.Wait()
}

// HandleEvent classifies one event and runs its branch. Errors are logged,
// never returned.
func (o *Orchestrator) HandleEvent(ctx context.Context, event watcher.Event) {
	if event.FileName == "" {
		return
	}

	fileName := filepath.Clean(event.FileName)
	path := filepath.Join(o.root, fileName)

	info, statErr := os.Stat(path)
	isDir := statErr == nil && info.IsDir()
	branch := Classify(event.Type, statErr, isDir, o.namer.Matches(fileName))

	o.metrics.ObserveEvent(branch.String())
	o.logger.Debug(ctx, "Event classified", "type", string(event.Type), "file", fileName, "branch", branch.String())

	switch branch {
	case BranchBuild:
		o.handleBuild(ctx, fileName, path)
	case BranchDelete:
		o.handleDelete(ctx, fileName)
	}
}

func (o *Orchestrator) handleBuild(ctx context.Context, fileName, path string) {
	if !o.locks.TryAcquire(fileName) {
		o.metrics.EventDropped()
		o.logger.Debug(ctx, "Build in flight, dropping event", "file", fileName)
		return
	}
	defer o.locks.Release(fileName)

	start := time.Now()
	id, err := o.buildSource(ctx, path)
	result := BuildResult{
		FileName:  fileName,
		Component: id.ComponentName,
		Entry:     entryFor(id),
		Duration:  time.Since(start),
		Error:     err,
	}

	if err == nil {
		// an existing entry is identity-only and stays untouched
		inserted, addErr := o.registry.AddIfAbsent(ctx, id.ComponentName, result.Entry)
		if addErr != nil {
			o.logger.Error(ctx, addErr, "Registry update failed", "component", id.ComponentName)
		} else if inserted {
			o.logger.Info(ctx, "Registered page", "component", id.ComponentName, "file", id.RelPath)
		}
		o.metrics.SetRegistrySize(o.registry.Count())
	}

	o.notify(result)
}

func (o *Orchestrator) handleDelete(ctx context.Context, fileName string) {
	if err := o.locks.Wait(ctx, fileName); err != nil {
		o.logger.Warn(ctx, err, "Waiting for in-flight build failed", "file", fileName)
		return
	}

	target := filepath.Join(o.namer.OutputDir, fileName)
	if o.namer.Matches(fileName) {
		id := o.namer.Derive(fileName)
		target = id.OutputPath

		removed, err := o.registry.Remove(ctx, id.ComponentName)
		if err != nil {
			o.logger.Error(ctx, err, "Registry update failed", "component", id.ComponentName)
		} else if removed {
			o.logger.Info(ctx, "Unregistered page", "component", id.ComponentName, "file", id.RelPath)
		}
		o.metrics.SetRegistrySize(o.registry.Count())
	} else if info, err := os.Lstat(target); err != nil || !info.IsDir() {
		// only a removed source directory has a mirrored output to clean up;
		// other non-page files never produced a bundle
		o.logger.Debug(ctx, "No bundle for deleted file", "file", fileName)
		return
	}

	// RemoveAll treats a missing target as success
	if err := os.RemoveAll(target); err != nil {
		o.logger.Error(ctx, errors.NewIOError(errors.ErrCodeCleanupFailed, "removing bundle failed", err).WithFile(target),
			"Bundle cleanup failed", "file", fileName)
		return
	}
	o.logger.Debug(ctx, "Removed bundle", "file", fileName, "target", target)
}

func (o *Orchestrator) notify(result BuildResult) {
	o.mutex.RLock()
	callbacks := o.callbacks
	o.mutex.RUnlock()

	for _, callback := range callbacks {
		callback(result)
	}
}

func entryFor(id naming.Identity) registry.Entry {
	return registry.Entry{
		ScriptFileName: id.ScriptFileName,
		OriginalPath:   id.RelPath,
		OutputPath:     id.OutputPath,
	}
}
