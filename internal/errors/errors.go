package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BuildMessage is a single diagnostic reported by the bundler.
type BuildMessage struct {
	File   string
	Line   int
	Column int
	Text   string
}

// String renders the message in file:line:col form.
func (m BuildMessage) String() string {
	if m.File == "" {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.File, m.Line, m.Column, m.Text)
}

// BundlerError carries the bundler's diagnostics unchanged.
type BundlerError struct {
	Messages []BuildMessage
}

// Error implements the error interface
func (be *BundlerError) Error() string {
	if len(be.Messages) == 0 {
		return "bundler reported failure"
	}
	lines := make([]string, len(be.Messages))
	for i, m := range be.Messages {
		lines[i] = m.String()
	}
	return strings.Join(lines, "\n")
}

// ErrorCollector collects per-file failures of a batch operation.
type ErrorCollector struct {
	errors map[string]error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[string]error),
	}
}

// Add records the failure for file. A nil error is ignored.
func (ec *ErrorCollector) Add(file string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors[file] = err
}

// Get returns the failure recorded for file, if any.
func (ec *ErrorCollector) Get(file string) (error, bool) {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	err, ok := ec.errors[file]
	return err, ok
}

// Files returns the failed files in sorted order.
func (ec *ErrorCollector) Files() []string {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	files := make([]string, 0, len(ec.errors))
	for f := range ec.errors {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Count returns the number of failed files.
func (ec *ErrorCollector) Count() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors)
}

// Err joins all collected errors in file order, or returns nil.
func (ec *ErrorCollector) Err() error {
	files := ec.Files()
	if len(files) == 0 {
		return nil
	}
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	errs := make([]error, 0, len(files))
	for _, f := range files {
		errs = append(errs, ec.errors[f])
	}
	return errors.Join(errs...)
}
