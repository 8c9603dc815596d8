package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/nbkeep/internal/apperr"
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/notebook"
)

// Notebook payloads embed full cell outputs, so the request cap is generous.
const maxBodyBytes = 64 << 20

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response", slog.String("error", err.Error()))
	}
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses. Unmapped errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, op string, uri models.URI, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("notebook is not open"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("target notebook is open"))
	case errors.Is(err, notebook.ErrNotSavable):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("notebook has no file; use save-as"))
	default:
		slog.Error("api: "+op+" failed", slog.String("uri", uri.String()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
