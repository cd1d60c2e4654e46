// Package server exposes interview sessions over HTTP and a websocket audio
// channel.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/viva-pipeline/logging"
	"github.com/maastricht-university/viva-pipeline/orchestrator"
)

// Sessions is the orchestrator surface the transport needs.
type Sessions interface {
	CreateSession(subject, difficulty string) (orchestrator.SessionView, error)
	GetSession(id string) (orchestrator.SessionView, error)
	HandleAudioUnit(ctx context.Context, id string, audio []byte) (*orchestrator.Unit, error)
	EndSession(ctx context.Context, id string) (*orchestrator.Report, error)
	Disconnect(id string) error
	Len() int
}

type Options struct {
	// MaxAudioBytes caps one websocket audio message; 0 means no limit.
	MaxAudioBytes int64
	WriteTimeout  time.Duration
	// Services maps collaborator names to their endpoints for /health.
	Services        map[string]string
	KnowledgeChunks int
	Log             logrus.FieldLogger
	// Metrics defaults to a fresh registry served at /metrics.
	Metrics *Metrics
}

type Server struct {
	sessions Sessions
	opts     Options
	log      logrus.FieldLogger
	metrics  *Metrics
	upgrader websocket.Upgrader
}

func New(sessions Sessions, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics("")
	}
	return &Server{
		sessions: sessions,
		opts:     opts,
		log:      logging.Component(opts.Log, "server"),
		metrics:  opts.Metrics,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/interview/start", s.start)
	mux.HandleFunc("GET /api/interview/session/{id}", s.session)
	mux.HandleFunc("POST /api/interview/end/{id}", s.end)
	mux.HandleFunc("GET /api/interview/ws/{id}", s.interview)
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.accessLog(mux)
}

type startReq struct {
	Subject    string `json:"subject"`
	Difficulty string `json:"difficulty"`
}

type startResp struct {
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
	WebsocketURL string `json:"websocket_url"`
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var in startReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}
	v, err := s.sessions.CreateSession(in.Subject, in.Difficulty)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SessionsStarted.Inc()
	writeJSON(w, http.StatusOK, startResp{
		SessionID:    v.ID,
		Message:      "Interview session created",
		WebsocketURL: "/api/interview/ws/" + v.ID,
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.GetSession(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) end(w http.ResponseWriter, r *http.Request) {
	rep, err := s.sessions.EndSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type healthResp struct {
	Status          string            `json:"status"`
	Sessions        int               `json:"sessions"`
	KnowledgeChunks int               `json:"knowledge_chunks"`
	Services        map[string]string `json:"services"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{
		Status:          "ok",
		Sessions:        s.sessions.Len(),
		KnowledgeChunks: s.opts.KnowledgeChunks,
		Services:        s.opts.Services,
	})
}

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorBody{Detail: err.Error(), Code: code})
}

// classify maps an orchestrator error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orchestrator.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, orchestrator.ErrCapacity):
		return http.StatusServiceUnavailable, "capacity_exceeded"
	case errors.Is(err, orchestrator.ErrTranscription):
		return http.StatusBadGateway, "transcription_failed"
	case errors.Is(err, orchestrator.ErrGeneration):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, orchestrator.ErrSynthesis):
		return http.StatusBadGateway, "synthesis_failed"
	case errors.Is(err, orchestrator.ErrUpstream):
		return http.StatusBadGateway, "upstream_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		d := time.Since(start)
		s.metrics.observeRequest(r.Method, r.Pattern, rec.status, d)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": d.String(),
		}).Info("request")
	})
}
