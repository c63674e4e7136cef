package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// recentRuns is the number of stored runs summarized by /status.
const recentRuns = 20

// StatusServer exposes the scheduler heartbeat over HTTP.
type StatusServer struct {
	heartbeatPath string
	collector     *Collector
	srv           *http.Server
	log           *zap.Logger
}

// NewStatusServer creates a status server on addr. collector may be nil.
func NewStatusServer(addr, heartbeatPath string, collector *Collector) *StatusServer {
	s := &StatusServer{
		heartbeatPath: heartbeatPath,
		collector:     collector,
		log:           zap.L().With(zap.String("component", "monitoring.status")),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the chi router serving /healthz and /status.
func (s *StatusServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	return r
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	hb, err := ReadHeartbeat(s.heartbeatPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	resp := map[string]any{"heartbeat": hb}
	if s.collector != nil {
		snap, err := s.collector.Collect(r.Context(), recentRuns)
		if err != nil {
			s.log.Warn("collect run metrics", zap.Error(err))
		} else {
			resp["runs"] = snap
		}
	}
	status := http.StatusOK
	if hb == nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Start listens on the configured address and serves in the background.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return eris.Wrapf(err, "monitoring: listen %s", s.srv.Addr)
	}
	s.log.Info("status server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return eris.Wrap(s.srv.Shutdown(ctx), "monitoring: shutdown status server")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
