package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wisbric/apitracker/internal/apierr"
)

// Envelope is the response shape for every JSON endpoint:
// {success, message, responseObject, statusCode}.
type Envelope struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ResponseObject any    `json:"responseObject"`
	StatusCode     int    `json:"statusCode"`
}

// Respond writes a successful envelope with the given status and payload.
func Respond(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Envelope{
		Success:        true,
		Message:        "ok",
		ResponseObject: data,
		StatusCode:     status,
	})
}

// RespondMessage writes a successful envelope with a custom message.
func RespondMessage(w http.ResponseWriter, status int, message string, data any) {
	writeEnvelope(w, status, Envelope{
		Success:        true,
		Message:        message,
		ResponseObject: data,
		StatusCode:     status,
	})
}

// RespondError writes a failure envelope. code is the taxonomy's
// machine-readable error code, surfaced as responseObject.error.code.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, Envelope{
		Success: false,
		Message: message,
		ResponseObject: map[string]any{
			"error": map[string]string{"code": code},
		},
		StatusCode: status,
	})
}

// RespondAPIErr classifies err via the apierr taxonomy and writes the
// matching envelope, logging the underlying cause at the appropriate level.
func RespondAPIErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	ae := apierr.Classify(err)
	status := apierr.StatusFor(ae)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", ae.Code, "error", ae.Err)
	}

	RespondError(w, status, ae.Code, ae.Message)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
