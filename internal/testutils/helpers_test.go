package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempProject(t *testing.T) {
	dir := CreateTempProject(t)

	for _, sub := range []string{"pages", "dist"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWritePageCreatesParents(t *testing.T) {
	root := t.TempDir()
	path := WritePage(t, root, "a/b/home.page.tsx", PageContent)

	assert.Equal(t, filepath.Join(root, "a", "b", "home.page.tsx"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, PageContent, string(data))
}

func TestReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":{"b":"c"}}`), 0644))

	var doc map[string]map[string]string
	ReadJSON(t, path, &doc)
	assert.Equal(t, "c", doc["a"]["b"])
}

func TestEventually(t *testing.T) {
	start := time.Now()
	Eventually(t, time.Second, func() bool {
		return time.Since(start) > 30*time.Millisecond
	}, "elapsed")
}
