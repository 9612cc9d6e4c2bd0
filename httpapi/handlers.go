package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/isdmx/codelab/harness"
	"github.com/isdmx/codelab/sandbox"
	"github.com/isdmx/codelab/suite"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ExecuteRequest is the body of POST /v1/execute and POST /v1/suites/{id}/run.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// TestsRequest is the body of POST /v1/tests.
type TestsRequest struct {
	Code  string             `json:"code"`
	Tests []harness.TestCase `json:"tests"`
}

// SandboxResponse describes the sandbox.
type SandboxResponse struct {
	Language string        `json:"language"`
	Backend  string        `json:"backend"`
	State    sandbox.State `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.Execute(r.Context(), req.Code))
}

func (s *Server) handleRunTests(w http.ResponseWriter, r *http.Request) {
	var req TestsRequest
	if !s.decode(w, r, &req) {
		return
	}
	for i := range req.Tests {
		if req.Tests[i].ID == "" {
			req.Tests[i].ID = fmt.Sprintf("test-%d", i+1)
		}
	}

	s.writeJSON(w, http.StatusOK, s.engine.RunTests(r.Context(), req.Code, req.Tests))
}

func (s *Server) handleListSuites(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"suites": s.engine.Suites()})
}

func (s *Server) handleRunSuite(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}

	report, err := s.engine.RunSuite(r.Context(), req.Code, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, suite.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.logger.Error("suite run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal_error", "suite run failed")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSandboxState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sandboxResponse())
}

func (s *Server) handleSandboxRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Restart(r.Context()); err != nil {
		s.logger.Error("sandbox restart failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "sandbox_unavailable", err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.sandboxResponse())
}

func (s *Server) sandboxResponse() SandboxResponse {
	return SandboxResponse{
		Language: s.config.Sandbox.Language,
		Backend:  s.config.Sandbox.Backend,
		State:    s.engine.State(),
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.logger.Warn("invalid request body", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, "validation_error", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: kind, Message: message})
}
