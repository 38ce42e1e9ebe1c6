// Package server exposes the engine daemon over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleur-q/internal/calc"
	"fleur-q/internal/engine"
	"fleur-q/internal/logging"
	"fleur-q/internal/node"
)

// Error codes carried in error bodies so clients can restore sentinels.
const (
	CodeNotFound         = "not_found"
	CodeNoOutput         = "no_output"
	CodePlaceholder      = "placeholder"
	CodeUnknownKind      = "unknown_kind"
	CodeUnknownPort      = "unknown_port"
	CodeIncompleteBundle = "incomplete_bundle"
	CodeInvalidState     = "invalid_state"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Server routes HTTP requests to an engine service.
type Server struct {
	svc    *engine.Service
	logger *log.Logger
	router chi.Router
}

func New(svc *engine.Service, logger *log.Logger) *Server {
	s := &Server{svc: svc, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/nodes", func(r chi.Router) {
		r.Post("/", s.handleCreateNode)
		r.Get("/{ref}", s.handleGetNode)
		r.Get("/{ref}/files", s.handleListFiles)
		r.Get("/{ref}/files/{name}", s.handleGetFile)
	})
	r.Route("/processes", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/{pk}", s.handleGetProcess)
		r.Post("/{pk}/result", s.handleResult)
	})
	r.Get("/agents/{id}/jobs/next", s.handleNextJob)
	r.Get("/ledger/verify", s.handleVerifyLedger)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), logger)))
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /nodes -> store a data node
func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var n node.Node
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		s.writeError(w, r, fmt.Errorf("decode node: %w", err), http.StatusBadRequest)
		return
	}
	created, err := s.svc.CreateNode(r.Context(), &n)
	if err != nil {
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GET /nodes/{ref} -> 8, a UUID, or 21.outputs.fleurinp
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	ref, err := node.ParseRef(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	n, err := s.svc.LoadNode(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// GET /nodes/{ref}/files
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ref, err := node.ParseRef(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	names, err := s.svc.Files(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// GET /nodes/{ref}/files/{name} -> raw file content
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	ref, err := node.ParseRef(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	data, err := s.svc.File(r.Context(), ref, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// POST /processes -> submit, returns a job handle
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req calc.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("decode submit request: %w", err), http.StatusBadRequest)
		return
	}
	h, err := s.svc.SubmitRequest(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, h)
}

// GET /processes/{pk}
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	pk, ok := s.pkParam(w, r)
	if !ok {
		return
	}
	n, err := s.svc.Process(r.Context(), pk)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// GET /agents/{id}/jobs/next -> 204 when nothing is queued
func (s *Server) handleNextJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.NextJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /processes/{pk}/result
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	pk, ok := s.pkParam(w, r)
	if !ok {
		return
	}
	var res engine.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		s.writeError(w, r, fmt.Errorf("decode result: %w", err), http.StatusBadRequest)
		return
	}
	n, err := s.svc.Complete(r.Context(), pk, res)
	if err != nil {
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// GET /ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Verify(); err != nil {
		s.writeError(w, r, fmt.Errorf("ledger verification failed: %w", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pkParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "pk")
	pk, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || pk <= 0 {
		s.writeError(w, r, fmt.Errorf("invalid pk %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return pk, true
}

// classify maps an error to its status and code. Errors without a sentinel
// get fallback.
func classify(err error, fallback int) (int, string) {
	switch {
	case errors.Is(err, node.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, node.ErrNoOutput):
		return http.StatusNotFound, CodeNoOutput
	case errors.Is(err, node.ErrPlaceholder):
		return http.StatusBadRequest, CodePlaceholder
	case errors.Is(err, calc.ErrUnknownKind):
		return http.StatusBadRequest, CodeUnknownKind
	case errors.Is(err, calc.ErrUnknownPort):
		return http.StatusBadRequest, CodeUnknownPort
	case errors.Is(err, calc.ErrIncompleteBundle):
		return http.StatusBadRequest, CodeIncompleteBundle
	case errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	}
	if fallback < http.StatusInternalServerError {
		return fallback, CodeBadRequest
	}
	return fallback, CodeInternal
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	status, code := classify(err, fallback)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		logger.Warn("request rejected", "path", r.URL.Path, "code", code, "err", err)
	}
	writeJSON(w, status, ErrorBody{Code: code, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
