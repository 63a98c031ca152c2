package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sip/core"
)

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// respondGzipJSON writes a gzip-compressed JSON response. The body is
// buffered first so Content-Length reflects the compressed size.
func (a *API) respondGzipJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	payload, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode response", err, a.logger)
		return
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compress response", err, a.logger)
		return
	}
	if err := gz.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compress response", err, a.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.logger.Errorw("Failed to write compressed response", "error", err)
	}
}

// writeError writes a structured JSON error response and logs it.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps the structured domain errors to their HTTP statuses.
// Anything unrecognized is an internal error.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound     *core.NotFoundError
		noDefault    *core.NoDefaultError
		conflict     *core.ConflictError
		unauthorized *core.UnauthorizedError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error(), nil, a.logger)
	case errors.As(err, &noDefault):
		writeError(w, http.StatusBadRequest, noDefault.Error(), nil, a.logger)
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error(), nil, a.logger)
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, unauthorized.Error(), nil, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", err, a.logger)
	}
}

// parseID extracts the numeric {id} path variable.
func parseID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %s", raw)
	}
	return id, nil
}

// apiKeyFromRequest reads the caller's API key header, if any.
func apiKeyFromRequest(r *http.Request) string {
	return r.Header.Get("X-Api-Key")
}
