package reservations

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/consult-slots/pkg/logging"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    any        `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the error kind and a caller-safe description.
type ErrorBody struct {
	Code    Kind   `json:"code"`
	Details string `json:"details"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteOK writes a successful envelope.
func WriteOK(w http.ResponseWriter, status int, message string, data any) {
	writeEnvelope(w, status, Envelope{Success: true, Message: message, Data: data})
}

// WriteError writes a failure envelope. Unclassified errors are logged and
// reported as INTERNAL without their text.
func WriteError(w http.ResponseWriter, logger *logging.Logger, err error) {
	kind := KindOf(err)
	status := StatusFor(kind)
	msg := MessageOf(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "kind", kind, "error", err)
	}
	writeEnvelope(w, status, Envelope{
		Success: false,
		Message: msg,
		Error:   &ErrorBody{Code: kind, Details: msg},
	})
}

// WriteFailure writes a failure envelope for errors raised outside the service.
func WriteFailure(w http.ResponseWriter, kind Kind, message string) {
	writeEnvelope(w, StatusFor(kind), Envelope{
		Success: false,
		Message: message,
		Error:   &ErrorBody{Code: kind, Details: message},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
