package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/rendergw/internal/toolerr"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		Version:       s.config.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Jobs:          map[string]int{},
		Streams:       map[string]int{},
		Subscribers:   s.events.Subscribers(),
	}
	if s.jobs != nil {
		for status, n := range s.jobs.Counts() {
			resp.Jobs[string(status)] = n
		}
	}
	if s.streams != nil {
		for status, n := range s.streams.Counts() {
			resp.Streams[string(status)] = n
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRPC handles POST /rpc: one JSON-RPC message per request body.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	reply := s.rpc.HandleMessage(r.Context(), body)
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(reply, '\n'))
}

// handleListTools handles GET /tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Tools()})
}

// handleCallTool handles POST /tools/{tool}. The body is the tool's argument
// object; an empty body means no arguments.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tool")
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	args := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			s.writeError(w, http.StatusBadRequest, "body must be a JSON object of tool arguments")
			return
		}
	}

	res, err := s.tools.Call(r.Context(), name, args)
	if err != nil {
		te, isToolErr := toolerr.As(err)
		switch {
		case isToolErr && te.Kind == toolerr.KindValidation:
			respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: te.Message, Field: te.Field, Constraint: te.Constraint})
		case isToolErr && te.Reason == toolerr.ReasonToolNotFound:
			s.writeError(w, http.StatusNotFound, te.Message)
		default:
			s.logger.Error("tool call failed", "tool", name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "tool call failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.tools.Tools(), s.config.Version))
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
