package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/opentavern/tavern/internal/store"
)

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps the store error taxonomy onto HTTP responses:
// NotFound 404, ConstraintViolation 409, NotAMember 403, EndsBeforeStarts
// 400, ValidationError 400 with offending usernames, anything else 500.
func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	var ve *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, store.ErrConstraintViolation):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already exists"})
	case errors.Is(err, store.ErrNotAMember):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a member of this group"})
	case errors.Is(err, store.ErrEndsBeforeStarts):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ends_at must not be before starts_at"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     ve.Reason,
			"usernames": ve.Usernames,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func writeForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
}
