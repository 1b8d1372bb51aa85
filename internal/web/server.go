// Package web serves the interlock status over HTTP: an HTML page for people,
// JSON for scripts and a bare allow/deny probe for external watchdogs.
package web

import (
	"context"
	"net/http"

	"github.com/sweeney/evse-interlock/internal/status"
)

// Server is the status HTTP server. It only reads from the tracker.
type Server struct {
	srv     *http.Server
	tracker *status.Tracker
}

// New creates a Server listening on addr once started.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}
	s.srv = &http.Server{Addr: addr, Handler: s.routes()}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", readOnly(s.handleIndex))
	mux.HandleFunc("/index.json", readOnly(s.handleJSON))
	mux.HandleFunc("/decision", readOnly(s.handleDecision))
	return mux
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the server, waiting for active requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// readOnly rejects anything but GET and HEAD.
func readOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		h(w, r)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// handleDecision answers 200 ALLOW when the EV supply may be energized and
// 503 DENY otherwise, including before the first AC sample.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if snap.Observed && snap.Interlock.EVAllowed {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ALLOW\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("DENY\n"))
}
