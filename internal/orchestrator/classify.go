package orchestrator

import "github.com/conneroisu/pagebuild/internal/watcher"

// Branch is the action taken for one filesystem event.
type Branch int

const (
	BranchIgnore Branch = iota
	BranchBuild
	BranchDelete
)

// String returns the string representation of the Branch
func (b Branch) String() string {
	switch b {
	case BranchIgnore:
		return "ignore"
	case BranchBuild:
		return "build"
	case BranchDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Classify picks the branch for an event from the outcome of stat-ing its
// path. Checks run in order:
//
//   - stat failed: the entry is gone, delete
//   - the target is a directory: ignore
//   - the name lacks the page suffix: ignore
//   - a rename event for an existing page: ignore, the content change
//     that follows triggers the build
//   - otherwise: build
func Classify(eventType watcher.EventType, statErr error, isDir, suffixMatch bool) Branch {
	switch {
	case statErr != nil:
		return BranchDelete
	case isDir:
		return BranchIgnore
	case !suffixMatch:
		return BranchIgnore
	case eventType == watcher.EventRename:
		return BranchIgnore
	default:
		return BranchBuild
	}
}
