package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagebuild/internal/metrics"
	"github.com/conneroisu/pagebuild/internal/orchestrator"
	"github.com/conneroisu/pagebuild/internal/registry"
	"github.com/conneroisu/pagebuild/internal/testutils"
)

type testServer struct {
	server   *PreviewServer
	registry *registry.Registry
	dist     string
}

func newTestServer(t *testing.T, strict bool) *testServer {
	t.Helper()
	dist := t.TempDir()

	reg := registry.New(registry.NewFileStore(filepath.Join(dist, "metadata.json")), nil)
	resolver := registry.NewResolver(reg, registry.ResolverOptions{Strict: strict, Suffix: "page.tsx"}, nil)

	s, err := New(Options{OutputDir: dist}, reg, resolver, metrics.New(), nil)
	require.NoError(t, err)
	return &testServer{server: s, registry: reg, dist: dist}
}

func (ts *testServer) addBundle(t *testing.T, name, rel, content string) registry.Entry {
	t.Helper()
	out := testutils.WritePage(t, ts.dist, rel, content)
	entry := registry.Entry{
		ScriptFileName: filepath.Base(out),
		OriginalPath:   strings.TrimSuffix(rel, ".js") + ".tsx",
		OutputPath:     out,
	}
	require.NoError(t, ts.registry.Add(context.Background(), name, entry))
	return entry
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNewRequiresResolver(t *testing.T) {
	_, err := New(Options{}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	ts := newTestServer(t, false)
	assert.Equal(t, "/bundles/", ts.server.options.BundlePrefix)
	assert.Equal(t, "root", ts.server.options.RootID)
	assert.Equal(t, "__PAGE_DATA__", ts.server.options.DataGlobal)
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, false)
	ts.addBundle(t, "HomePage", "home.page.js", "console.log(1)")

	rec := get(t, ts.server.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 1.0, body["components"])
}

func TestHandleComponents(t *testing.T) {
	ts := newTestServer(t, false)
	entry := ts.addBundle(t, "RegisterPage", "user/register.page.js", "x")

	rec := get(t, ts.server.Handler(), "/components")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body registry.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, registry.Metadata{"RegisterPage": entry}, body)
}

func TestServeBundles(t *testing.T) {
	ts := newTestServer(t, false)
	ts.addBundle(t, "RegisterPage", "user/register.page.js", "console.log('register')")

	rec := get(t, ts.server.Handler(), "/bundles/user/register.page.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('register')", rec.Body.String())

	rec = get(t, ts.server.Handler(), "/bundles/missing.page.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePageRegistered(t *testing.T) {
	ts := newTestServer(t, true)
	ts.addBundle(t, "RegisterPage", "user/register.page.js", "x")

	rec := get(t, ts.server.Handler(), "/pages/RegisterPage?user=ada")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `<title>RegisterPage</title>`)
	assert.Contains(t, body, `<div id="root"></div>`)
	assert.Contains(t, body, `window["__PAGE_DATA__"] = {"user":"ada"};`)
	assert.Contains(t, body, `<script src="/bundles/user/register.page.js" defer></script>`)
}

func TestHandlePageMissing(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		ts := newTestServer(t, true)
		rec := get(t, ts.server.Handler(), "/pages/UserProfilePage")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "UserProfilePage")
	})

	t.Run("fallback", func(t *testing.T) {
		ts := newTestServer(t, false)
		rec := get(t, ts.server.Handler(), "/pages/UserProfilePage")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `src="/bundles/user-profile.page.js"`)
	})
}

func TestHandlePageInvalidName(t *testing.T) {
	ts := newTestServer(t, false)
	rec := get(t, ts.server.Handler(), "/pages/bad.name")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, false)
	ts.server.metrics.ObserveEvent("build")

	rec := get(t, ts.server.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pagebuild_watch_events_total{branch="build"} 1`)
}

func TestValidateComponentName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"RegisterPage", false},
		{"Page3Page", false},
		{"", true},
		{"../etc/passwd", true},
		{"a<b", true},
		{"user/RegisterPage", true},
		{strings.Repeat("A", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateComponentName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBundleURLFor(t *testing.T) {
	ts := newTestServer(t, false)

	assert.Equal(t, "/bundles/user/register.page.js",
		ts.server.bundleURLFor(registry.Entry{OutputPath: filepath.Join(ts.dist, "user", "register.page.js")}))
	assert.Equal(t, "", ts.server.bundleURLFor(registry.Entry{}))
	assert.Equal(t, "", ts.server.bundleURLFor(registry.Entry{OutputPath: filepath.Join(filepath.Dir(ts.dist), "elsewhere.js")}))
}

// readMessage reads one update message from conn.
func readMessage(t *testing.T, conn *websocket.Conn) UpdateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketLiveReload(t *testing.T) {
	ts := newTestServer(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts.server.run(ctx)

	httpServer := httptest.NewServer(ts.server.Handler())
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	testutils.Eventually(t, 2*time.Second, func() bool { return ts.server.ClientCount() == 1 }, "client registered")

	ts.addBundle(t, "RegisterPage", "user/register.page.js", "x")
	msg := readMessage(t, conn)
	assert.Equal(t, "added", msg.Type)
	assert.Equal(t, "RegisterPage", msg.Component)
	assert.Equal(t, "/bundles/user/register.page.js", msg.Path)

	ts.server.HandleBuildResult(orchestrator.BuildResult{
		Component: "HomePage",
		Entry:     registry.Entry{OutputPath: filepath.Join(ts.dist, "home.page.js")},
	})
	msg = readMessage(t, conn)
	assert.Equal(t, "rebuild", msg.Type)
	assert.Equal(t, "/bundles/home.page.js", msg.Path)

	ts.server.HandleBuildResult(orchestrator.BuildResult{Component: "BrokenPage", Error: stderrors.New("syntax error")})
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "syntax error", msg.Error)
}

func TestServeAndShutdown(t *testing.T) {
	ts := newTestServer(t, false)
	ts.addBundle(t, "HomePage", "home.page.js", "home")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ts.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/bundles/home.page.js"
	var resp *http.Response
	testutils.Eventually(t, 2*time.Second, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, "server accepting connections")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "home", string(body))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestStartInvalidAddr(t *testing.T) {
	ts := newTestServer(t, false)
	ts.server.options.Addr = "256.0.0.1:-1"
	assert.Error(t, ts.server.Start(context.Background()))
}

func TestBundleDirectoryMissing(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, os.RemoveAll(ts.dist))

	rec := get(t, ts.server.Handler(), "/bundles/home.page.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
