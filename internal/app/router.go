package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/masterdata/taxes"
	"github.com/defter-erp/defter/internal/observability"
	"github.com/defter-erp/defter/internal/payment"
	"github.com/defter-erp/defter/internal/schedule"
	"github.com/defter-erp/defter/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	InvoiceHandler  *invoice.Handler
	ScheduleHandler *schedule.Handler
	PaymentHandler  *payment.Handler
	TaxesHandler    *taxes.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with engine defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.InvoiceHandler != nil {
			api.Route("/invoices", params.InvoiceHandler.MountRoutes)
		}
		if params.ScheduleHandler != nil {
			api.Route("/schedules", params.ScheduleHandler.MountRoutes)
		}
		if params.PaymentHandler != nil {
			api.Route("/payments", params.PaymentHandler.MountRoutes)
		}
		if params.TaxesHandler != nil {
			api.Route("/taxes", params.TaxesHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
