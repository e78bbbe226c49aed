// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/patchroulette/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// ContributorHeader carries the calling contributor on mutating requests.
const ContributorHeader = "X-Contributor"

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	work common.WorkService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over the work unit service.
func NewHandler(work common.WorkService) *Handler {
	return &Handler{work: work}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.work == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "work unit service is not configured",
		})
		return
	}

	path := normalizePath(r.URL.Path)
	if path == "scopes" {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListScopes(w, r)
		return
	}

	scope, action, ok := resolveScopeRoute(path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	switch action {
	case "units":
		switch r.Method {
		case http.MethodGet:
			h.handleListUnits(w, r, scope)
		case http.MethodPut:
			h.handlePublish(w, r, scope)
		case http.MethodDelete:
			h.handleClear(w, r, scope)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	case "unit":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetUnit(w, r, scope)
	case "claim":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleClaim(w, r, scope)
	case "release", "complete", "reopen":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleTransition(w, r, scope, action)
	case "stats":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleStats(w, r, scope)
	case "activity":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleActivity(w, r, scope)
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	}
}

// handleListScopes serves GET `/scopes`.
func (h *Handler) handleListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.work.ListScopes(r.Context())
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scopes": scopes,
	})
}

// handleListUnits serves GET `/scopes/{scope}/units`.
func (h *Handler) handleListUnits(w http.ResponseWriter, r *http.Request, scope string) {
	units, err := h.work.ListUnits(r.Context(), common.ListUnitsRequest{
		Scope:  scope,
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"units": units,
	})
}

// handlePublish serves PUT `/scopes/{scope}/units`.
func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request, scope string) {
	var req common.PublishRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	req.Scope = scope
	units, err := h.work.PublishScope(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"units": units,
	})
}

// handleClear serves DELETE `/scopes/{scope}/units`.
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request, scope string) {
	if err := h.work.ClearScope(r.Context(), scope); err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetUnit serves GET `/scopes/{scope}/unit?path=...`.
func (h *Handler) handleGetUnit(w http.ResponseWriter, r *http.Request, scope string) {
	unit, err := h.work.GetUnit(r.Context(), common.TransitionRequest{
		Scope: scope,
		Path:  r.URL.Query().Get("path"),
	})
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// handleClaim serves POST `/scopes/{scope}/claim`.
func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request, scope string) {
	contributor, ok := requireContributor(w, r)
	if !ok {
		return
	}
	var payload struct {
		Path  string   `json:"path"`
		Paths []string `json:"paths"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &payload); err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	paths := payload.Paths
	if strings.TrimSpace(payload.Path) != "" {
		paths = append([]string{payload.Path}, paths...)
	}
	result, err := h.work.ClaimUnits(r.Context(), common.ClaimRequest{
		Scope:       scope,
		Paths:       paths,
		Contributor: contributor,
	})
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTransition serves POST `/scopes/{scope}/{release|complete|reopen}`.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, scope, action string) {
	req := common.TransitionRequest{Scope: scope}
	if action != "release" {
		contributor, ok := requireContributor(w, r)
		if !ok {
			return
		}
		req.Contributor = contributor
	}
	var payload common.TransitionRequest
	if err := decodeJSONBody(r.Context(), w, r, &payload); err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	req.Path = payload.Path

	var (
		unit common.WorkUnit
		err  error
	)
	switch action {
	case "release":
		unit, err = h.work.ReleaseUnit(r.Context(), req)
	case "complete":
		unit, err = h.work.CompleteUnit(r.Context(), req)
	default:
		unit, err = h.work.ReopenUnit(r.Context(), req)
	}
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// handleStats serves GET `/scopes/{scope}/stats`.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, scope string) {
	stats, err := h.work.ScopeStats(r.Context(), scope)
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleActivity serves GET `/scopes/{scope}/activity`.
func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request, scope string) {
	req := common.ActivityRequest{Scope: scope}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "limit must be a non-negative integer",
			})
			return
		}
		req.Limit = limit
	}
	events, err := h.work.ListActivity(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
	})
}

// requireContributor reads the contributor header and writes a 400 when it is missing.
func requireContributor(w http.ResponseWriter, r *http.Request) (string, bool) {
	contributor := strings.TrimSpace(r.Header.Get(ContributorHeader))
	if contributor == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "contributor is required",
			Hint:    "Set the " + ContributorHeader + " header.",
		})
		return "", false
	}
	return contributor, true
}

// resolveScopeRoute parses `/scopes/{scope}/{action}` and returns `{scope}` and `{action}`.
func resolveScopeRoute(path string) (string, string, bool) {
	const prefix = "scopes/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 {
		return "", "", false
	}
	scope := strings.TrimSpace(rest[:idx])
	action := rest[idx+1:]
	if scope == "" || strings.Contains(scope, "/") || action == "" {
		return "", "", false
	}
	return scope, action, true
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses. Error envelopes
// carry the request id so clients can quote it back.
func writeErrorFrom(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	apiErr := APIError{Code: "internal_error", Message: "unknown error"}
	switch {
	case err == nil:
	case errors.Is(err, common.ErrConflict):
		status, apiErr = http.StatusConflict, APIError{Code: "conflict", Message: err.Error()}
	case errors.Is(err, common.ErrNotFound):
		status, apiErr = http.StatusNotFound, APIError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, common.ErrInvalidRequest):
		status, apiErr = http.StatusBadRequest, APIError{Code: "invalid_request", Message: err.Error()}
	case errors.Is(err, common.ErrServiceUnavailable):
		status, apiErr = http.StatusServiceUnavailable, APIError{Code: "service_unavailable", Message: err.Error()}
	default:
		apiErr.Message = err.Error()
	}
	if requestID := RequestIDFrom(r.Context()); requestID != "" {
		apiErr.Context = map[string]any{"request_id": requestID}
	}
	writeJSONError(w, status, apiErr)
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
