// Package api exposes the daemon's HTTP surface: the donation ledger, the
// live pipeline state, frame snapshots, an MJPEG preview, and the manual
// trigger.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/projectlend/lend/internal/frameslot"
	"github.com/projectlend/lend/internal/pipeline"
	"github.com/projectlend/lend/internal/records"
	"github.com/projectlend/lend/internal/state"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100

	// streamFPS caps the MJPEG preview rate; the browser does not need the
	// full capture rate.
	streamFPS = 10
)

// Deps are the server's collaborators. Liveness and Readiness come from the
// orchestrator, which knows the health of all components.
type Deps struct {
	Store     *records.Store
	Publisher *state.Publisher
	Pipeline  *pipeline.Controller
	Frames    *frameslot.Slot
	Liveness  http.HandlerFunc
	Readiness http.HandlerFunc
}

// Server is the HTTP API server.
type Server struct {
	deps Deps
	srv  *http.Server
}

// New builds the server and its routes.
func New(listen string, deps Deps) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /donations", s.handleDonations)
	mux.HandleFunc("GET /donations/recent", s.handleRecent)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /frame.jpg", s.handleFrame)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("POST /trigger", s.handleTrigger)
	if deps.Liveness != nil {
		mux.HandleFunc("GET /health", deps.Liveness)
	}
	if deps.Readiness != nil {
		mux.HandleFunc("GET /readiness", deps.Readiness)
	}

	s.srv = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /stream is long-lived
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until the listener fails or Shutdown is called. The returned
// channel delivers the terminal serve error.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleDonations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.All()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	recs, err := s.deps.Store.Recent(limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		records.Stats
		Pipeline pipeline.Stats `json:"pipeline"`
	}{
		Stats:    stats,
		Pipeline: s.deps.Pipeline.Stats(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Publisher.Read())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pipeline.Trigger(); err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			httpError(w, http.StatusConflict, err)
			return
		}
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	jpegBytes, err := s.latestJPEG()
	if err != nil {
		httpError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(jpegBytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jpegBytes)
}

// handleStream serves a multipart MJPEG preview until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	const boundary = "lendframe"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	ticker := time.NewTicker(time.Second / streamFPS)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		jpegBytes, err := s.latestJPEG()
		if err != nil {
			continue
		}

		_, err = fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpegBytes))
		if err != nil {
			return
		}
		if _, err := w.Write(jpegBytes); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) latestJPEG() ([]byte, error) {
	f := s.deps.Frames.Latest()
	if f == nil {
		return nil, fmt.Errorf("no frame available")
	}
	img, err := f.ToImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
