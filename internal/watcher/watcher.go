// Package watcher turns fsnotify notifications for a source tree into
// change/rename events carrying root-relative file names.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
)

// EventType is the coarse kind of a filesystem notification.
type EventType string

const (
	// EventChange reports modified contents or attributes.
	EventChange EventType = "change"
	// EventRename reports a path appearing or disappearing.
	EventRename EventType = "rename"
)

// Event is one filesystem notification. FileName is relative to the
// watched root.
type Event struct {
	Type     EventType
	FileName string
}

// FileFilter determines if a root-relative path should be reported.
type FileFilter func(path string) bool

// FileWatcher watches a directory tree recursively. Every notification is
// forwarded; there is no debouncing.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	filters []FileFilter
	events  chan Event
	logger  logging.Logger
	mutex   sync.RWMutex
	done    chan struct{}
}

// NewFileWatcher creates a watcher for root. Call AddRecursive or Start to
// begin watching.
func NewFileWatcher(root string, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWatchFailed, "resolving watch root failed", err).WithFile(root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWatchFailed, "creating watcher failed", err)
	}

	return &FileWatcher{
		watcher: watcher,
		root:    absRoot,
		filters: make([]FileFilter, 0),
		events:  make(chan Event, 256),
		logger:  logger.WithComponent("watcher"),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched root.
func (fw *FileWatcher) Root() string {
	return fw.root
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// Events returns the event stream. It is closed when the watch loop exits.
func (fw *FileWatcher) Events() <-chan Event {
	return fw.events
}

// AddRecursive adds dir and all of its subdirectories that pass the
// filters.
func (fw *FileWatcher) AddRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// the entry vanished while walking
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != fw.root && !fw.accept(fw.relative(path)) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return errors.NewIOError(errors.ErrCodeWatchFailed, "watching directory failed", err).WithFile(path)
		}
		return nil
	})
}

// Start adds the root tree and runs the watch loop until ctx is done or
// Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.AddRecursive(fw.root); err != nil {
		return err
	}

	go fw.watchLoop(ctx)

	fw.logger.Info(ctx, "Watching for changes", "root", fw.root)
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer close(fw.events)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	eventType, ok := MapOp(event.Op)
	if !ok {
		return
	}

	rel := fw.relative(event.Name)
	if rel == "" || rel == "." || !fw.accept(rel) {
		return
	}

	// directories created after start are not covered by the initial walk
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Watching new directory failed", "dir", rel)
			}
		}
	}

	select {
	case fw.events <- Event{Type: eventType, FileName: rel}:
	case <-ctx.Done():
	}
}

func (fw *FileWatcher) accept(rel string) bool {
	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(rel) {
			return false
		}
	}
	return true
}

func (fw *FileWatcher) relative(path string) string {
	rel, err := filepath.Rel(fw.root, path)
	if err != nil {
		return ""
	}
	return rel
}

// MapOp converts an fsnotify operation to an event type. Create, Remove
// and Rename map to EventRename; Write and Chmod map to EventChange.
func MapOp(op fsnotify.Op) (EventType, bool) {
	switch {
	case op.Has(fsnotify.Create), op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return EventRename, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return EventChange, true
	default:
		return "", false
	}
}

// Common file filters

// ExcludeFilter rejects paths with any segment matching one of patterns.
func ExcludeFilter(patterns []string) FileFilter {
	return func(path string) bool {
		for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
			for _, pattern := range patterns {
				if matched, _ := filepath.Match(pattern, segment); matched {
					return false
				}
			}
		}
		return true
	}
}

// NoGitFilter rejects the .git directory and everything below it, whatever
// the configured excludes say.
func NoGitFilter(path string) bool {
	path = filepath.ToSlash(path)
	return path != ".git" && !strings.HasPrefix(path, ".git/") && !strings.Contains(path, "/.git/") &&
		!strings.HasSuffix(path, "/.git")
}
