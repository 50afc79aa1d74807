package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/hydrate"
	"github.com/conneroisu/pagebuild/internal/registry"
)

// Handler returns the routed HTTP handler.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /components", s.handleComponents)
	mux.HandleFunc("GET /pages/{name}", s.handlePage)
	mux.Handle("GET "+s.options.BundlePrefix,
		http.StripPrefix(s.options.BundlePrefix, http.FileServer(http.Dir(s.outputDir))))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.addMiddleware(mux)
}

func (s *PreviewServer) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"clients":   s.ClientCount(),
	}
	if s.registry != nil {
		health["components"] = s.registry.Count()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Writing health response failed")
	}
}

func (s *PreviewServer) handleComponents(w http.ResponseWriter, r *http.Request) {
	entries := registry.Metadata{}
	if s.registry != nil {
		entries = s.registry.Entries()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.logger.Warn(r.Context(), err, "Writing components response failed")
	}
}

// handlePage renders the hydration shell for a component. Query
// parameters become the page data.
func (s *PreviewServer) handlePage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := validateComponentName(name); err != nil {
		http.Error(w, "Invalid component name: "+err.Error(), http.StatusBadRequest)
		return
	}

	bundleURL, err := s.bundleURL(r, name)
	if err != nil {
		if errors.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Resolving component failed", http.StatusInternalServerError)
		return
	}

	data := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			data[key] = values[0]
		}
	}

	page := hydrate.Page(name, s.options.RootID, hydrate.Script(bundleURL, s.options.DataGlobal, data))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(r.Context(), w); err != nil {
		s.logger.Warn(r.Context(), err, "Rendering page failed", "component", name)
	}
}

// bundleURL locates the bundle of name. Registered entries are served from
// their output path; otherwise the resolver decides between a not-found
// error and the conventional file name.
func (s *PreviewServer) bundleURL(r *http.Request, name string) (string, error) {
	if entry, err := s.resolver.ResolveEntry(r.Context(), name); err == nil {
		if url := s.bundleURLFor(entry); url != "" {
			return url, nil
		}
	}

	script, err := s.resolver.Resolve(r.Context(), name)
	if err != nil {
		return "", err
	}
	return path.Join(s.options.BundlePrefix, script), nil
}

// bundleURLFor maps an entry's output path into the bundle URL space. It
// returns "" for entries outside the output directory.
func (s *PreviewServer) bundleURLFor(entry registry.Entry) string {
	if entry.OutputPath == "" {
		return ""
	}
	out, err := filepath.Abs(entry.OutputPath)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(s.outputDir, out)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return path.Join(s.options.BundlePrefix, filepath.ToSlash(rel))
}

// validateComponentName validates component name to prevent security issues.
func validateComponentName(name string) error {
	if name == "" {
		return fmt.Errorf("empty component name")
	}
	if len(name) > 100 {
		return fmt.Errorf("component name too long (max 100 characters)")
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return fmt.Errorf("character not allowed: %q", r)
		}
	}
	return nil
}
