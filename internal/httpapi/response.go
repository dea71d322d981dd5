package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/book-expert/gemini-media-service/internal/gemini"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	RequestID    string `json:"request_id,omitempty"`
	UpstreamBody string `json:"upstream_body,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{
		Error:        err.Error(),
		Kind:         gemini.KindName(err),
		RequestID:    requestIDFromContext(r.Context()),
		UpstreamBody: gemini.UpstreamBody(err),
	})
}

// statusFor maps a failure kind to the HTTP status reported to the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gemini.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, gemini.ErrNoContentProduced), errors.Is(err, gemini.ErrNoAudioProduced):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gemini.ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case gemini.KindName(err) != gemini.KindUnknown:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
