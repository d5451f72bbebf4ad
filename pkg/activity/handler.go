package activity

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/apitracker/internal/auth"
	"github.com/wisbric/apitracker/internal/httpserver"
)

// SubmitRequest is the POST /logs payload.
type SubmitRequest struct {
	Endpoint  string `json:"endpoint" validate:"required"`
	Method    string `json:"method" validate:"required"`
	Status    int    `json:"status" validate:"required"`
	ElapsedMs int    `json:"elapsed_ms"`
	IP        string `json:"ip"`
	UA        string `json:"ua"`
}

// Publisher fans out newly-submitted records to live subscribers. See
// pkg/stream.Fanout.
type Publisher interface {
	Publish(callerID, endpoint, method string, status, elapsedMs int)
}

// Handler exposes POST /logs.
type Handler struct {
	pipeline  *Pipeline
	publisher Publisher
	logger    *slog.Logger
}

// NewHandler builds an ingestion handler.
func NewHandler(pipeline *Pipeline, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{pipeline: pipeline, publisher: publisher, logger: logger}
}

// Submit handles POST /logs.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing credentials")
		return
	}

	sourceAddr := req.IP
	if sourceAddr == "" {
		sourceAddr = r.RemoteAddr
	}

	record := Record{
		CallerID:     id.CallerID,
		CredentialID: id.Credential,
		Endpoint:     req.Endpoint,
		Method:       req.Method,
		Status:       req.Status,
		ElapsedMs:    req.ElapsedMs,
		SourceAddr:   sourceAddr,
		UserAgent:    req.UA,
		Timestamp:    time.Now().UTC(),
	}

	h.pipeline.Submit(r.Context(), record)

	if h.publisher != nil {
		h.publisher.Publish(record.CallerID, record.Endpoint, record.Method, record.Status, record.ElapsedMs)
	}

	httpserver.Respond(w, http.StatusCreated, nil)
}
