package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ipadepot/pkg/fault"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondFault maps the error taxonomy onto HTTP statuses. Validation and
// not-found are terminal for the caller; storage and conflict invite a
// retry; signing failures surface the underlying reason verbatim.
func respondFault(w http.ResponseWriter, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		respondError(w, http.StatusBadRequest, err)
	case fault.KindNotFound:
		respondError(w, http.StatusNotFound, err)
	case fault.KindConflict:
		respondError(w, http.StatusConflict, err)
	case fault.KindStorage:
		respondError(w, http.StatusServiceUnavailable, err)
	case fault.KindSigning:
		respondError(w, http.StatusBadGateway, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
