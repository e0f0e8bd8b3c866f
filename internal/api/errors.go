package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/skybridge/core/logx"
	"github.com/gaspardpetit/skybridge/internal/idmap"
	"github.com/gaspardpetit/skybridge/internal/session"
	"github.com/gaspardpetit/skybridge/internal/upstream"
)

var errBadRequest = errors.New("bad request")

// statusFor maps an error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, idmap.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, idmap.ErrMappingNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errBadRequest), errors.Is(err, idmap.ErrInvalidKey), errors.Is(err, idmap.ErrInvalidKind):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, upstream.ErrCredentialExpired):
		return http.StatusUnauthorized, "credential_expired"
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, upstream.ErrNoSession):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, upstream.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	ev := logx.Log.Warn()
	if status >= http.StatusInternalServerError {
		ev = logx.Log.Error()
	}
	ev.Err(err).Str("request_id", chiMiddleware.GetReqID(r.Context())).Int("status", status).Msg("request failed")
	writeErrorCode(w, status, code)
}

func writeErrorCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Error().Err(err).Msg("write response")
	}
}
