// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/turtlesoup0/itnews-sender/delivery"
	"github.com/turtlesoup0/itnews-sender/guard"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

// Templates.
var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

// Trigger runs a delivery job on demand.
type Trigger interface {
	Execute(ctx context.Context, mode guard.Mode) (*delivery.Report, error)
}

// Directory mutates the mailing list.
type Directory interface {
	Unsubscribe(ctx context.Context, email string) error
}

// Verifier validates unsubscribe tokens and recovers the address.
type Verifier interface {
	Verify(token string, now time.Time) (email string, ok bool)
}

// Server handles HTTP requests.
type Server struct {
	trigger   Trigger
	directory Directory
	verifier  Verifier
	logger    *slog.Logger
	baseURL   string
}

// Config holds server configuration.
type Config struct {
	Trigger   Trigger
	Directory Directory
	Verifier  Verifier
	Logger    *slog.Logger
	BaseURL   string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		trigger:   cfg.Trigger,
		directory: cfg.Directory,
		verifier:  cfg.Verifier,
		logger:    cfg.Logger,
		baseURL:   cfg.BaseURL,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/deliver", s.handleDeliver)
	mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	return mux
}

// Start runs the server until it fails.
func (s *Server) Start(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := templates.ExecuteTemplate(w, "index.tmpl", nil); err != nil {
		s.logger.Error("Failed to render template", "template", "index.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}
