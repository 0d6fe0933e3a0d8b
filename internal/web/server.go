// Package web exposes the anonymization and rendering engine over HTTP:
// upload, inspect, anonymize, and render stored DICOM files, with a live
// event feed for the dashboard.
package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/anonymize"
	"github.com/medimaging/dicom-sentinel/internal/config"
	"github.com/medimaging/dicom-sentinel/internal/logger"
	"github.com/medimaging/dicom-sentinel/internal/store"
	"github.com/medimaging/dicom-sentinel/internal/websocket"
)

// Server is the HTTP front of the processing engine.
type Server struct {
	config *config.Config
	logger *logger.Logger
	engine *anonymize.Engine
	files  *store.FileStore
	router *mux.Router
	server *http.Server
	wsHub  *websocket.Hub
}

// New creates a server instance wired to the configured storage root.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	rules := anonymize.DefaultRules()
	if err := rules.ApplyOverrides(cfg.Anonymize.RuleOverrides); err != nil {
		return nil, fmt.Errorf("failed to build anonymization rules: %w", err)
	}
	engine := anonymize.New(rules, log.WithComponent("anonymize"))

	files, err := store.New(cfg.Server.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open file store: %w", err)
	}

	wsHub := websocket.NewHub(log.WithComponent("websocket").Logger)

	router := mux.NewRouter()

	server := &Server{
		config: cfg,
		logger: log.WithComponent("web"),
		engine: engine,
		files:  files,
		router: router,
		wsHub:  wsHub,
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Dashboard endpoint - embedded HTML
	s.router.HandleFunc("/", ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", ServeDashboard).Methods("GET")

	if s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.HandleFunc("/files", s.handleUpload).Methods("POST")
	api.HandleFunc("/files/{name}/metadata", s.handleMetadata).Methods("GET")
	api.HandleFunc("/files/{name}/validate", s.handleValidate).Methods("GET")
	api.HandleFunc("/files/{name}/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/files/{name}/render", s.handleRender).Methods("GET")
	api.HandleFunc("/files/{name}/histogram", s.handleHistogram).Methods("GET")
	api.HandleFunc("/files/{name}/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/files/{name}/dump", s.handleDump).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting DICOM-Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("storage_dir", s.files.Root()),
	)

	if s.config.WebSocket.Enabled {
		go s.wsHub.Run()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping DICOM-Sentinel server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, nowRFC3339())
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name":"dicom-sentinel",
		"version":"0.1.0",
		"render_bit_depth":%d,
		"render_format":%q,
		"websocket_enabled":%t
	}`, s.config.Render.BitDepth, s.config.Render.Format, s.config.WebSocket.Enabled)
}

// handleWebSocket handles WebSocket connections for the dashboard
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
