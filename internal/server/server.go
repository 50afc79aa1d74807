// Package server is the development server started by "pagebuild watch
// --serve". It serves the bundles, renders hydration shells for pages by
// component name, exposes metrics and pushes live-reload messages over a
// websocket.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
	"github.com/conneroisu/pagebuild/internal/metrics"
	"github.com/conneroisu/pagebuild/internal/orchestrator"
	"github.com/conneroisu/pagebuild/internal/registry"
)

// Options configures the preview server.
type Options struct {
	// Addr is the listen address, for example "localhost:3000".
	Addr string
	// OutputDir is served under BundlePrefix.
	OutputDir string
	// BundlePrefix is the URL path bundles are served under.
	BundlePrefix string
	// RootID and DataGlobal must match the bundle bootstrap.
	RootID     string
	DataGlobal string
	// AllowedOrigins are host patterns accepted for websocket upgrades.
	AllowedOrigins []string
}

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *PreviewServer
}

// PreviewServer serves bundles and pages with live reload capability
type PreviewServer struct {
	options    Options
	outputDir  string
	registry   *registry.Registry
	resolver   *registry.Resolver
	metrics    *metrics.Metrics
	logger     logging.Logger
	httpServer *http.Server

	clients      map[*Client]bool
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client

	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Component string    `json:"component,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a preview server. reg may be nil, in which case no registry
// events are forwarded.
func New(opts Options, reg *registry.Registry, resolver *registry.Resolver, m *metrics.Metrics, logger logging.Logger) (*PreviewServer, error) {
	if resolver == nil {
		return nil, errors.NewValidationError(errors.ErrCodeConfigInvalid, "preview server requires a resolver")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.BundlePrefix == "" {
		opts.BundlePrefix = "/bundles/"
	}
	if opts.RootID == "" {
		opts.RootID = "root"
	}
	if opts.DataGlobal == "" {
		opts.DataGlobal = "__PAGE_DATA__"
	}

	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeConfigInvalid, "resolving output directory failed", err).WithFile(opts.OutputDir)
	}

	return &PreviewServer{
		options:    opts,
		outputDir:  outputDir,
		registry:   reg,
		resolver:   resolver,
		metrics:    m,
		logger:     logger.WithComponent("server"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}, nil
}

// Start runs the websocket hub and the HTTP server until ctx is done or
// Shutdown is called.
func (s *PreviewServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeConfigInvalid, "listening failed", err).WithContext("addr", s.options.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *PreviewServer) Serve(ctx context.Context, ln net.Listener) error {
	s.run(ctx)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Server shutdown failed")
		}
	}()

	s.logger.Info(ctx, "Preview server listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.NewIOError(errors.ErrCodeConfigInvalid, "server error", err)
	}
	return nil
}

// run starts the hub and, when a registry is attached, forwards its
// events to the clients.
func (s *PreviewServer) run(ctx context.Context) {
	go s.runWebSocketHub(ctx)

	if s.registry == nil {
		return
	}
	events := s.registry.Watch()
	go func() {
		defer s.registry.Unwatch(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				s.broadcastMessage(UpdateMessage{
					Type:      event.Type.String(),
					Component: event.Name,
					Path:      s.bundleURLFor(event.Entry),
					Timestamp: event.Timestamp,
				})
			}
		}
	}()
}

// HandleBuildResult broadcasts a finished watch-mode build. It is meant to
// be registered with Orchestrator.OnBuild.
func (s *PreviewServer) HandleBuildResult(result orchestrator.BuildResult) {
	msg := UpdateMessage{
		Type:      "rebuild",
		Component: result.Component,
		Path:      s.bundleURLFor(result.Entry),
		Timestamp: time.Now(),
	}
	if result.Error != nil {
		msg.Type = "error"
		msg.Error = result.Error.Error()
	}
	s.broadcastMessage(msg)
}

func (s *PreviewServer) broadcastMessage(msg UpdateMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "Encoding update message failed")
		return
	}

	select {
	case s.broadcast <- jsonData:
	default:
		s.logger.Debug(context.Background(), "Broadcast queue full, dropping message", "type", msg.Type)
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *PreviewServer) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.clientsMutex.Lock()
		for client := range s.clients {
			close(client.send)
			client.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.clients = make(map[*Client]bool)
		s.clientsMutex.Unlock()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
