package seed

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cfdilab/cfdilab/internal/platform/httpx"
)

// Enqueuer hands a seeding run to the background worker.
type Enqueuer interface {
	EnqueueSeed(ctx context.Context, scale string) (taskID string, err error)
}

// Handler exposes POST /seed.
type Handler struct {
	seeder   *Seeder
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewHandler builds the handler. With a nil enqueuer seeding runs inside the request.
func NewHandler(seeder *Seeder, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{seeder: seeder, enqueuer: enqueuer, logger: logger}
}

// MountRoutes registers the seed route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/seed", h.seed)
}

type seedRequest struct {
	Scale string `json:"scale"`
}

type seedResponse struct {
	Message string  `json:"message"`
	TaskID  string  `json:"task_id,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

func (h *Handler) seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	scale := strings.ToLower(strings.TrimSpace(req.Scale))

	if h.enqueuer != nil {
		id, err := h.enqueuer.EnqueueSeed(r.Context(), scale)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "enqueue seed", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "seed task could not be enqueued")
			return
		}
		httpx.JSON(w, http.StatusAccepted, seedResponse{
			Message: "Seeding started in background for scale: " + orDefaultScale(scale),
			TaskID:  id,
		})
		return
	}

	res, err := h.seeder.Run(r.Context(), scale)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "seed failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, seedResponse{Message: res.Message(), Result: &res})
}

func orDefaultScale(scale string) string {
	if scale == "" {
		return "default"
	}
	return scale
}
