// Package server provides HTTP server construction for the streamable
// HTTP MCP transport.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/seedclub/seednet-mcp/internal/auth"
)

const (
	// ReadTimeout, WriteTimeout and IdleTimeout bound the HTTP server.
	ReadTimeout  = 30 * time.Second
	WriteTimeout = 60 * time.Second
	IdleTimeout  = 120 * time.Second
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	MCPHandler http.Handler
	Logger     *slog.Logger

	// HTTPToken is the shared secret MCP clients send as a Bearer
	// token. Empty disables the check.
	HTTPToken string

	// Status reports the Seed Network credential for /healthz. Optional.
	Status func() auth.Status
}

type healthResponse struct {
	Status        string `json:"status"`
	Authenticated *bool  `json:"authenticated,omitempty"`
}

// NewMux builds the HTTP mux with the MCP endpoint and a health check.
// The MCP endpoint is protected by Bearer token middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth(cfg.Status))

	authMiddleware := auth.RequireBearer(cfg.HTTPToken, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))

	return mux
}

// NewServer returns an http.Server for the mux with the default timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}
}

func handleHealth(status func() auth.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := healthResponse{Status: "ok"}
		if status != nil {
			authenticated := status().Authenticated
			resp.Authenticated = &authenticated
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
