package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/logging"
	"github.com/Spok95/ct-filing/internal/observability"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf: Validation 400, NotFound 404, Conflict 409, прочее 500.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	rid, _ := ctxutil.RequestID(r.Context())
	if status == http.StatusInternalServerError {
		observability.CaptureErr(err)
		logging.FromContext(r.Context(), h.log).Error("request failed", zap.Error(err))
		writeJSON(w, status, errorBody{Error: "internal server error", RequestID: rid})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: rid})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("bad %s %q", name, raw)
	}
	return id, nil
}
