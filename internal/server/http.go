package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/flowcanvas/internal/auth"
	"github.com/alfredjeanlab/flowcanvas/internal/backup"
	"github.com/alfredjeanlab/flowcanvas/internal/canvas"
	"github.com/alfredjeanlab/flowcanvas/internal/catalog"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/session"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered and the
// middleware chain applied: recovery, request id, logging, CORS, auth.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ping", s.handlePing)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	mux.HandleFunc("GET /api/v1/chatflows", s.handleListFlows)
	mux.HandleFunc("POST /api/v1/chatflows", s.handleCreateFlow)
	mux.HandleFunc("POST /api/v1/chatflows/importchatflows", s.handleImportFlows)
	mux.HandleFunc("GET /api/v1/chatflows/has-changed/{id}/{lastUpdatedDateTime}", s.handleFlowHasChanged)
	mux.HandleFunc("GET /api/v1/chatflows/{id}", s.handleGetFlow)
	mux.HandleFunc("PUT /api/v1/chatflows/{id}", s.handleUpdateFlow)
	mux.HandleFunc("DELETE /api/v1/chatflows/{id}", s.handleDeleteFlow)
	mux.HandleFunc("GET /api/v1/chatflows/{id}/events", s.handleGetFlowEvents)

	mux.HandleFunc("GET /api/v1/nodes", s.handleListTemplates)
	mux.HandleFunc("GET /api/v1/nodes/{name}", s.handleGetTemplate)

	mux.HandleFunc("GET /api/v1/canvas", s.handleRoster)
	mux.HandleFunc("POST /api/v1/canvas", s.handleOpenCanvas)
	mux.HandleFunc("GET /api/v1/canvas/{sid}", s.withSession(s.handleGetCanvas))
	mux.HandleFunc("DELETE /api/v1/canvas/{sid}", s.withSession(s.handleCloseCanvas))
	mux.HandleFunc("POST /api/v1/canvas/{sid}/nodes", s.withSession(s.handleAddNode))
	mux.HandleFunc("DELETE /api/v1/canvas/{sid}/nodes/{nid}", s.withSession(s.handleDeleteNode))
	mux.HandleFunc("POST /api/v1/canvas/{sid}/nodes/{nid}/duplicate", s.withSession(s.handleDuplicateNode))
	mux.HandleFunc("PATCH /api/v1/canvas/{sid}/nodes/{nid}/inputs", s.withSession(s.handleUpdateInputs))
	mux.HandleFunc("PUT /api/v1/canvas/{sid}/nodes/{nid}/status", s.withSession(s.handleSetStatus))
	mux.HandleFunc("POST /api/v1/canvas/{sid}/edges", s.withSession(s.handleConnect))
	mux.HandleFunc("DELETE /api/v1/canvas/{sid}/edges/{eid}", s.withSession(s.handleDeleteEdge))
	mux.HandleFunc("POST /api/v1/canvas/{sid}/import", s.withSession(s.handleImport))
	mux.HandleFunc("POST /api/v1/canvas/{sid}/sync", s.withSession(s.handleSync))
	mux.HandleFunc("POST /api/v1/canvas/{sid}/recover", s.withSession(s.handleRecover))
	mux.HandleFunc("POST /api/v1/canvas/{sid}/save", s.withSession(s.handleSave))
	mux.HandleFunc("GET /api/v1/canvas/{sid}/integrity", s.withSession(s.handleIntegrity))

	mux.HandleFunc("GET /api/v1/events/stream", s.handleEventStream)

	var h http.Handler = mux
	h = authMiddleware(s.auth, h)
	h = corsMiddleware(s.cors, h)
	h = loggingMiddleware(s.logger, h)
	h = requestIDMiddleware(h)
	h = recoveryMiddleware(h)
	return h
}

// handlePing handles GET /api/v1/ping.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	RequestID  string `json:"requestId,omitempty"`
}

// writeError writes a JSON error response. The request id is taken from
// the response header set by requestIDMiddleware.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{
		StatusCode: status,
		Success:    false,
		Message:    message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  w.Header().Get(requestIDHeader),
	})
}

// writeErr maps a domain error to its status code and writes it.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error: " + msg
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	var (
		ie inputError
		ve *model.ValidationError
	)
	switch {
	case errors.As(err, &ie), errors.As(err, &ve),
		errors.Is(err, canvas.ErrPlacementRejected),
		errors.Is(err, canvas.ErrUnknownInput),
		errors.Is(err, session.ErrNotAFlow):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, canvas.ErrNodeNotFound),
		errors.Is(err, canvas.ErrEdgeNotFound),
		errors.Is(err, catalog.ErrTemplateNotFound),
		errors.Is(err, backup.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrSnapshotStale):
		return http.StatusGone
	case errors.Is(err, session.ErrBackupsDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// decodeBody decodes a JSON request body into v and validates its struct
// tags. An empty body is allowed when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		return inputError("invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		var fes validator.ValidationErrors
		if errors.As(err, &fes) {
			parts := make([]string, len(fes))
			for i, fe := range fes {
				parts[i] = fieldMessage(fe)
			}
			return inputError(strings.Join(parts, "; "))
		}
		return inputError(err.Error())
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

// principal returns the caller set by authMiddleware.
func principal(r *http.Request) auth.Principal {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p
	}
	return auth.Anonymous
}
