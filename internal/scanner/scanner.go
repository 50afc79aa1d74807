// Package scanner discovers page source files.
//
// The scanner walks a root directory recursively and returns every regular
// file whose base name ends with the configured suffix. Directories matching
// an exclude pattern (node_modules and .git by default) are skipped without
// being descended into. A missing or unreadable root is an error; the
// orchestrator treats it as fatal at startup.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/naming"
)

// DefaultExcludes are directory names never descended into.
var DefaultExcludes = []string{"node_modules", ".git"}

// Scanner enumerates page sources below a root directory.
type Scanner struct {
	// suffix selects page files, e.g. "page.tsx"
	suffix string
	// excludes are filepath.Match patterns tested against directory base names
	excludes []string
}

// New creates a scanner for suffix. A nil excludes slice selects
// DefaultExcludes; an empty non-nil slice disables exclusion.
func New(suffix string, excludes []string) *Scanner {
	if excludes == nil {
		excludes = DefaultExcludes
	}
	return &Scanner{suffix: suffix, excludes: excludes}
}

// Scan returns the absolute paths of all page sources below root using the
// default excludes.
func Scan(root, suffix string) ([]string, error) {
	return New(suffix, nil).Scan(root)
}

// Scan returns the absolute paths of all page sources below root. The
// result order follows the lexical walk order but callers must not rely on
// it.
func (s *Scanner) Scan(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.ErrScanFailed(root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, errors.ErrScanFailed(root, err)
	}
	if !info.IsDir() {
		return nil, errors.ErrScanFailed(root, fs.ErrInvalid)
	}

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != absRoot && s.Excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !naming.HasSuffix(path, s.suffix) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, errors.ErrScanFailed(root, err)
	}

	return files, nil
}

// Excluded reports whether a directory base name matches an exclude pattern.
func (s *Scanner) Excluded(name string) bool {
	for _, pattern := range s.excludes {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
