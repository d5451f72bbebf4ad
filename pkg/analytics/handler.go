package analytics

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wisbric/apitracker/internal/httpserver"
)

// Handler exposes GET /usage/daily and GET /usage/top.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds an analytics handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

// Daily handles GET /usage/daily?days=N (default N=7).
func (h *Handler) Daily(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)

	rows, err := h.service.Daily(r.Context(), days)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, dataEnvelope[any]{Data: toAnySlice(rows)})
}

// Top handles GET /usage/top?hours=H&limit=L (defaults 24/3).
func (h *Handler) Top(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 3)

	rows, err := h.service.Top(r.Context(), hours, limit)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, dataEnvelope[any]{Data: toAnySlice(rows)})
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
