// Package registry maintains the component name -> bundle metadata index.
//
// The in-memory map is authoritative for the running orchestrator and is
// mirrored to a JSON document after every mutation. Persistence is
// write-through and unserialized: each mutation snapshots the map under
// the lock and writes the snapshot outside it, so two concurrent mutations
// both reach the store and whichever write finishes last is what stays on
// disk. The filesystem is the source of truth; the registry is a
// best-effort side index.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/pagebuild/internal/logging"
)

// Entry locates the bundle of one component.
type Entry struct {
	ScriptFileName string `json:"scriptFileName" yaml:"scriptFileName"`
	OriginalPath   string `json:"originalPath" yaml:"originalPath"`
	OutputPath     string `json:"outputPath" yaml:"outputPath"`
}

// Metadata maps component names to entries. It is the persisted shape.
type Metadata map[string]Entry

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Names returns the component names in sorted order.
func (m Metadata) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventType represents the type of registry event
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
	EventTypeReset
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	case EventTypeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event represents a change in the registry. Reset events carry no name.
type Event struct {
	Type      EventType
	Name      string
	Entry     Entry
	Timestamp time.Time
}

// Registry is the in-memory registry with write-through persistence.
type Registry struct {
	entries  Metadata
	store    Store
	logger   logging.Logger
	watchers []chan Event
	mutex    sync.RWMutex
}

// New creates an empty registry persisting to store.
func New(store Store, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		entries:  make(Metadata),
		store:    store,
		logger:   logger.WithComponent("registry"),
		watchers: make([]chan Event, 0),
	}
}

// RebuildFull replaces the whole map with entries and persists it.
func (r *Registry) RebuildFull(ctx context.Context, entries Metadata) error {
	r.mutex.Lock()
	r.entries = entries.Clone()
	r.notifyLocked(Event{Type: EventTypeReset, Timestamp: time.Now()})
	r.mutex.Unlock()

	return r.persist(ctx)
}

// Add inserts or overwrites name and persists. A collision silently
// replaces the previous entry.
func (r *Registry) Add(ctx context.Context, name string, entry Entry) error {
	r.mutex.Lock()
	eventType := EventTypeAdded
	if _, exists := r.entries[name]; exists {
		eventType = EventTypeUpdated
	}
	r.entries[name] = entry
	r.notifyLocked(Event{Type: eventType, Name: name, Entry: entry, Timestamp: time.Now()})
	r.mutex.Unlock()

	return r.persist(ctx)
}

// AddIfAbsent inserts name only when it has no entry yet, persisting only
// in that case. It reports whether the entry was inserted.
func (r *Registry) AddIfAbsent(ctx context.Context, name string, entry Entry) (bool, error) {
	r.mutex.Lock()
	if _, exists := r.entries[name]; exists {
		r.mutex.Unlock()
		return false, nil
	}
	r.entries[name] = entry
	r.notifyLocked(Event{Type: EventTypeAdded, Name: name, Entry: entry, Timestamp: time.Now()})
	r.mutex.Unlock()

	return true, r.persist(ctx)
}

// Remove deletes name if present and persists. Removing an absent name is
// a no-op and writes nothing.
func (r *Registry) Remove(ctx context.Context, name string) (bool, error) {
	r.mutex.Lock()
	entry, exists := r.entries[name]
	if !exists {
		r.mutex.Unlock()
		return false, nil
	}
	delete(r.entries, name)
	r.notifyLocked(Event{Type: EventTypeRemoved, Name: name, Entry: entry, Timestamp: time.Now()})
	r.mutex.Unlock()

	return true, r.persist(ctx)
}

// Get retrieves the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, exists := r.entries[name]
	return entry, exists
}

// Has reports whether name has an entry.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Entries returns a snapshot of the whole map.
func (r *Registry) Entries() Metadata {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.entries.Clone()
}

// Count returns the number of registered components
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.entries)
}

// Watch returns a channel that receives registry events. Events are
// dropped for a watcher whose buffer is full.
func (r *Registry) Watch() <-chan Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// Unwatch removes a watcher channel and closes it
func (r *Registry) Unwatch(ch <-chan Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

func (r *Registry) notifyLocked(event Event) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}

// persist writes the current snapshot. The snapshot is taken under the
// read lock; the write is not serialized with other writers.
func (r *Registry) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	snapshot := r.Entries()
	if err := r.store.Save(ctx, snapshot); err != nil {
		r.logger.Error(ctx, err, "Persisting registry failed", "entries", len(snapshot))
		return err
	}
	r.logger.Debug(ctx, "Registry persisted", "entries", len(snapshot))
	return nil
}
