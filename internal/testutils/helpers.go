// Package testutils holds helpers shared by package tests.
package testutils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// PageContent is a minimal page module with a default export.
const PageContent = `export default function Page(props) {
  return null;
}
`

// CreateTempProject creates a project with an empty pages root and output
// directory, returning the project directory.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	for _, dir := range []string{"pages", "dist"} {
		require.NoError(t, os.MkdirAll(filepath.Join(tempDir, dir), 0755))
	}

	return tempDir
}

// WritePage writes a page source at root/rel, creating parent directories,
// and returns its absolute path.
func WritePage(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ReadJSON decodes the JSON document at path into v.
func ReadJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

// Eventually polls cond every 10ms until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
