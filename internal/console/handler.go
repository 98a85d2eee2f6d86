package console

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cfdilab/cfdilab/internal/platform/httpx"
)

// Handler exposes the query console.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers the playground routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/playground", func(r chi.Router) {
		r.Get("/tables", h.tables)
		r.Post("/run", h.run)
	})
}

type runRequest struct {
	SQL string `json:"sql"`
}

func (h *Handler) tables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.service.Tables(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tables)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	res, err := h.service.Run(r.Context(), req.SQL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// writeError passes store errors through verbatim; they describe the caller's statement.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, ErrForbiddenStatement), errors.Is(err, ErrEmptyStatement):
		httpx.Problem(w, http.StatusBadRequest, "Forbidden Statement", err.Error())
	case errors.Is(err, ErrUnsupported):
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", err.Error())
	case errors.As(err, &pgErr):
		httpx.Problem(w, http.StatusBadRequest, "Statement Failed", pgErr.Error())
	default:
		h.logger.ErrorContext(r.Context(), "console request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Statement Failed", err.Error())
	}
}
