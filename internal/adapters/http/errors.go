package httpadapter

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bolagsdata/internal/correlation"
	"bolagsdata/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// mapDomainError picks the status, code and client-facing message. Internal
// failures never leak their text.
func mapDomainError(err error) (int, string, string) {
	status := domain.StatusCode(err)
	switch status {
	case http.StatusBadRequest:
		return status, "VALIDATION_ERROR", err.Error()
	case http.StatusNotFound:
		return status, "NOT_FOUND", err.Error()
	case http.StatusUnprocessableEntity:
		return status, "PARSE_ERROR", err.Error()
	case http.StatusServiceUnavailable:
		return status, "CIRCUIT_OPEN", "registry temporarily unavailable"
	case http.StatusBadGateway:
		return status, "UPSTREAM_ERROR", "registry request failed"
	case http.StatusGatewayTimeout:
		return status, "TIMEOUT", "request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapDomainError(err)
	var open *domain.CircuitOpenError
	if errors.As(err, &open) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(open.Remaining.Seconds()))))
	}
	if status >= 500 {
		s.logger.ErrorContext(r.Context(), "request failed", "route", chiRoute(r), "status", status, "error", err)
	}
	corr := domain.CorrelationOf(err)
	if corr == "" {
		corr = correlation.FromContext(r.Context())
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg, CorrelationID: corr}})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg, CorrelationID: correlation.FromContext(r.Context())}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func chiRoute(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
