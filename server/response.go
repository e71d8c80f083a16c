package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/slatehq/slate/errors"
)

// errorResponse is the JSON error body. Field is set for validation errors.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps an error to its HTTP status and writes the JSON error
// body. Internal errors are not echoed to the client verbatim.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: "internal error"}

	switch {
	case errors.IsInvalidRequestError(err):
		status = http.StatusBadRequest
		resp = errorResponse{
			Error:  "invalid request",
			Detail: err.Error(),
			Field:  errors.ValidationField(err),
		}
	case errors.IsConflictError(err):
		status = http.StatusConflict
		resp = errorResponse{Error: "conflict", Detail: err.Error()}
	case errors.IsNotFoundError(err):
		status = http.StatusNotFound
		resp = errorResponse{Error: "not found", Detail: err.Error()}
	case errors.Is(err, errors.ErrShuttingDown):
		status = http.StatusServiceUnavailable
		resp = errorResponse{Error: "shutting down", Detail: err.Error()}
	case errors.IsServiceUnavailableError(err):
		status = http.StatusServiceUnavailable
		resp = errorResponse{Error: "service unavailable", Detail: err.Error()}
	}

	writeJSON(w, status, resp)
}

// readJSON decodes a JSON request body, writing a 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errors.NewInvalidRequestError("invalid request body: %v", err))
		return err
	}
	return nil
}

// requireMethod checks the request method, writing a 405 otherwise.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return false
	}
	return true
}

// extractPathParts splits the path remainder after a prefix into segments.
func extractPathParts(urlPath, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(urlPath, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// shortID truncates an ID to 8 characters for logging.
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
