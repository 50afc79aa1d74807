package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pagebuild/internal/config"
	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
	"github.com/conneroisu/pagebuild/internal/orchestrator"
	"github.com/conneroisu/pagebuild/internal/registry"
	"github.com/conneroisu/pagebuild/internal/testutils"
	"github.com/conneroisu/pagebuild/internal/watcher"
)

// fakeBuilder writes a placeholder bundle instead of running esbuild.
type fakeBuilder struct {
	fail map[string]bool
}

func (f *fakeBuilder) Build(_ context.Context, sourcePath, outfile string) error {
	if f.fail[filepath.Base(sourcePath)] {
		return errors.ErrBuildFailed(sourcePath, fmt.Errorf("syntax error"))
	}
	if err := os.MkdirAll(filepath.Dir(outfile), 0755); err != nil {
		return err
	}
	return os.WriteFile(outfile, []byte("// bundle of "+filepath.Base(sourcePath)), 0644)
}

type project struct {
	dir   string
	pages string
	dist  string
}

func (p *project) metadata(t *testing.T) registry.Metadata {
	t.Helper()
	return registry.Load(context.Background(), filepath.Join(p.dist, config.MetadataFileName), nil)
}

// setupProject creates a project, points the global configuration at it
// and installs a fake builder. Pages listed in failing fail to build.
func setupProject(t *testing.T, failing ...string) *project {
	t.Helper()
	dir := testutils.CreateTempProject(t)
	p := &project{dir: dir, pages: filepath.Join(dir, "pages"), dist: filepath.Join(dir, "dist")}

	viper.Reset()
	viper.Set("root", p.pages)
	viper.Set("output_dir", p.dist)
	t.Cleanup(viper.Reset)

	builder := &fakeBuilder{fail: make(map[string]bool)}
	for _, name := range failing {
		builder.fail[name] = true
	}
	original := newBuilder
	newBuilder = func(*config.Config, logging.Logger) (orchestrator.Builder, error) {
		return builder, nil
	}
	t.Cleanup(func() { newBuilder = original })

	testutils.WritePage(t, p.pages, "home.page.tsx", testutils.PageContent)
	testutils.WritePage(t, p.pages, "user/register.page.tsx", testutils.PageContent)
	testutils.WritePage(t, p.pages, "components/button.tsx", testutils.PageContent)
	testutils.WritePage(t, p.pages, "node_modules/lib/vendor.page.tsx", testutils.PageContent)
	return p
}

// runCommand runs fn with a command whose output is captured.
func runCommand(ctx context.Context, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetContext(ctx)
	err := fn(cmd, args)
	return out.String(), err
}

func TestBuildCommand(t *testing.T) {
	p := setupProject(t)

	out, err := runCommand(context.Background(), runBuild)
	require.NoError(t, err)
	assert.Contains(t, out, "Built 2 page(s) into "+p.dist)

	metadata := p.metadata(t)
	assert.Equal(t, []string{"HomePage", "RegisterPage"}, metadata.Names())
	assert.Equal(t, registry.Entry{
		ScriptFileName: "register.page.js",
		OriginalPath:   "user/register.page.tsx",
		OutputPath:     filepath.Join(p.dist, "user", "register.page.js"),
	}, metadata["RegisterPage"])

	assert.FileExists(t, filepath.Join(p.dist, "home.page.js"))
	assert.FileExists(t, filepath.Join(p.dist, "user", "register.page.js"))
	assert.NoFileExists(t, filepath.Join(p.dist, "node_modules", "lib", "vendor.page.js"))
}

func TestBuildCommandVerbose(t *testing.T) {
	setupProject(t)
	buildVerbose = true
	defer func() { buildVerbose = false }()

	out, err := runCommand(context.Background(), runBuild)
	require.NoError(t, err)
	assert.Contains(t, out, "HomePage -> home.page.js")
	assert.Contains(t, out, "RegisterPage -> register.page.js")
}

func TestBuildCommandFailures(t *testing.T) {
	p := setupProject(t, "home.page.tsx")

	out, err := runCommand(context.Background(), runBuild)
	require.Error(t, err)
	assert.True(t, errors.IsBuildError(err))
	assert.Contains(t, out, "Built 1 page(s)")

	assert.Equal(t, []string{"RegisterPage"}, p.metadata(t).Names())
}

func TestBuildCommandMissingRoot(t *testing.T) {
	p := setupProject(t)
	require.NoError(t, os.RemoveAll(p.pages))

	_, err := runCommand(context.Background(), runBuild)
	require.Error(t, err)
	assert.False(t, errors.IsBuildError(err))
	assert.NoFileExists(t, filepath.Join(p.dist, config.MetadataFileName))
}

func TestBuildCommandInvalidConfig(t *testing.T) {
	setupProject(t)
	viper.Set("suffix", "page")

	_, err := runCommand(context.Background(), runBuild)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestResolveCommand(t *testing.T) {
	setupProject(t)
	_, err := runCommand(context.Background(), runBuild)
	require.NoError(t, err)

	t.Run("registered", func(t *testing.T) {
		out, err := runCommand(context.Background(), runResolve, "RegisterPage", "HomePage")
		require.NoError(t, err)
		assert.Equal(t, "register.page.js\nhome.page.js\n", out)
	})

	t.Run("fallback", func(t *testing.T) {
		out, err := runCommand(context.Background(), runResolve, "UserProfilePage")
		require.NoError(t, err)
		assert.Equal(t, "user-profile.page.js\n", out)
	})

	t.Run("strict", func(t *testing.T) {
		viper.Set("strict", true)
		defer viper.Set("strict", false)

		_, err := runCommand(context.Background(), runResolve, "UserProfilePage")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("json", func(t *testing.T) {
		resolveFormat = "json"
		defer func() { resolveFormat = "text" }()

		out, err := runCommand(context.Background(), runResolve, "RegisterPage")
		require.NoError(t, err)

		var resolved map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &resolved))
		assert.Equal(t, map[string]string{"RegisterPage": "register.page.js"}, resolved)
	})
}

func TestListCommand(t *testing.T) {
	p := setupProject(t)
	_, err := runCommand(context.Background(), runBuild)
	require.NoError(t, err)

	defer func() { listFormat = "table" }()

	t.Run("table", func(t *testing.T) {
		listFormat = "table"
		out, err := runCommand(context.Background(), runList)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[0], "NAME"))
		assert.Contains(t, lines[2], "HomePage")
		assert.Contains(t, lines[3], "register.page.js")
	})

	t.Run("json", func(t *testing.T) {
		listFormat = "json"
		out, err := runCommand(context.Background(), runList)
		require.NoError(t, err)

		var items []listItem
		require.NoError(t, json.Unmarshal([]byte(out), &items))
		require.Len(t, items, 2)
		assert.Equal(t, listItem{
			Name:         "HomePage",
			Script:       "home.page.js",
			OriginalPath: "home.page.tsx",
			OutputPath:   filepath.Join(p.dist, "home.page.js"),
		}, items[0])
	})

	t.Run("yaml", func(t *testing.T) {
		listFormat = "yaml"
		out, err := runCommand(context.Background(), runList)
		require.NoError(t, err)

		var items []listItem
		require.NoError(t, yaml.Unmarshal([]byte(out), &items))
		require.Len(t, items, 2)
		assert.Equal(t, "RegisterPage", items[1].Name)
	})
}

func TestListCommandEmpty(t *testing.T) {
	setupProject(t)
	listFormat = "table"

	out, err := runCommand(context.Background(), runList)
	require.NoError(t, err)
	assert.Equal(t, "No components registered.\n", out)
}

func TestConfigCommand(t *testing.T) {
	p := setupProject(t)
	viper.Set("server.port", 8080)

	out, err := runCommand(context.Background(), runConfig)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, p.pages, cfg.Root)
	assert.Equal(t, "page.tsx", cfg.Suffix)
	assert.Equal(t, filepath.Join(p.dist, config.MetadataFileName), cfg.MetadataPath)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "hydrateRoot", cfg.Hydration.Function)
}

func TestVersionCommand(t *testing.T) {
	defer func() {
		versionFormat = "text"
		versionShort = false
	}()

	out, err := runCommand(context.Background(), runVersionCommand)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Version: "))

	versionShort = true
	out, err = runCommand(context.Background(), runVersionCommand)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	versionFormat = "json"
	out, err = runCommand(context.Background(), runVersionCommand)
	require.NoError(t, err)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "go_version")

	versionFormat = "xml"
	_, err = runCommand(context.Background(), runVersionCommand)
	assert.Error(t, err)
}

// syncBuffer is a bytes.Buffer safe for a writer and a reader on
// different goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchCommand(t *testing.T) {
	p := setupProject(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetContext(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- runWatch(cmd, nil) }()

	testutils.Eventually(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "Watching")
	}, "watch started")
	assert.Contains(t, out.String(), "Built 2 page(s)")

	about := filepath.Join(p.pages, "about.page.tsx")
	testutils.Eventually(t, 5*time.Second, func() bool {
		_ = os.WriteFile(about, []byte(testutils.PageContent), 0644)
		_, ok := p.metadata(t)["AboutPage"]
		return ok
	}, "new page registered")
	assert.FileExists(t, filepath.Join(p.dist, "about.page.js"))

	require.NoError(t, os.Remove(about))
	testutils.Eventually(t, 5*time.Second, func() bool {
		_, ok := p.metadata(t)["AboutPage"]
		return !ok
	}, "deleted page unregistered")
	assert.NoFileExists(t, filepath.Join(p.dist, "about.page.js"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchCommandWatcherStartFailureStartsNoServer(t *testing.T) {
	setupProject(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	viper.Set("server.enabled", true)
	viper.Set("server.host", "127.0.0.1")
	viper.Set("server.port", port)

	original := startWatcher
	startWatcher = func(context.Context, *watcher.FileWatcher) error {
		return fmt.Errorf("too many open files")
	}
	defer func() { startWatcher = original }()

	out, err := runCommand(context.Background(), runWatch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many open files")
	assert.NotContains(t, out, "Serving on")
	assert.NotContains(t, out, "Watching")

	// the port is still free, so no server was left behind
	ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func TestWatchCommandMissingRoot(t *testing.T) {
	p := setupProject(t)
	require.NoError(t, os.RemoveAll(p.pages))

	_, err := runCommand(context.Background(), runWatch)
	assert.Error(t, err)
}

func TestValidateFormat(t *testing.T) {
	formats := []string{"table", "json", "yaml"}
	assert.NoError(t, ValidateFormat("json", formats))
	assert.NoError(t, ValidateFormat("YAML", formats))

	err := ValidateFormat("csv", formats)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table, json, yaml")
}

func TestAddFlagValidation(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	format := flags.StringP("output", "o", "table", "")
	AddFlagValidation(flags, "output", func(v string) error {
		return ValidateFormat(v, []string{"table", "json"})
	})
	AddFlagValidation(flags, "missing", nil)

	require.NoError(t, flags.Parse([]string{"-o", "json"}))
	assert.Equal(t, "json", *format)

	assert.Error(t, flags.Parse([]string{"--output", "csv"}))
	assert.Equal(t, "json", *format)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"build", "watch", "resolve", "list", "config", "version"} {
		assert.True(t, names[name], "missing command %s", name)
	}
}
