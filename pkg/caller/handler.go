package caller

import (
	"log/slog"
	"net/http"

	"github.com/wisbric/apitracker/internal/httpserver"
)

// Handler exposes the registration endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a registration handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), req)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}
