package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cfdilab/cfdilab/internal/cfdi"
	"github.com/cfdilab/cfdilab/internal/console"
	"github.com/cfdilab/cfdilab/internal/observability"
	"github.com/cfdilab/cfdilab/internal/platform/httpx"
	"github.com/cfdilab/cfdilab/internal/reporting"
	"github.com/cfdilab/cfdilab/internal/seed"
	"github.com/cfdilab/cfdilab/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	DocumentHandler  *cfdi.Handler
	ReportingHandler *reporting.Handler
	ConsoleHandler   *console.Handler
	SeedHandler      *seed.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	// AccessLog toggles chi's request logger.
	AccessLog bool
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.AccessLog {
		r.Use(chimw.Logger)
	}

	health := func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	r.Get("/health", health)
	r.Get("/healthz", health)

	if params.DocumentHandler != nil {
		params.DocumentHandler.MountRoutes(r)
	}
	if params.ReportingHandler != nil {
		params.ReportingHandler.MountRoutes(r)
	}
	if params.ConsoleHandler != nil {
		params.ConsoleHandler.MountRoutes(r)
	}
	if params.SeedHandler != nil {
		params.SeedHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported on "+r.URL.Path)
	})
	return r
}
