package routes

import (
	"net/http"

	"github.com/ahrav/curation-progress/internal/api/mux"
	"github.com/ahrav/curation-progress/internal/api/routes/health"
	"github.com/ahrav/curation-progress/internal/api/routes/ingress"
	"github.com/ahrav/curation-progress/internal/api/routes/tasks"
	"github.com/ahrav/curation-progress/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build:   cfg.Build,
		Log:     cfg.Log,
		Manager: cfg.Manager,
	})

	tasks.Routes(app, tasks.Config{
		Log:       cfg.Log,
		Metrics:   cfg.Metrics,
		Manager:   cfg.Manager,
		Submitter: cfg.Submitter,
		Retry:     cfg.Retry,
		Clock:     cfg.Clock,
	})

	ingress.Routes(app, ingress.Config{
		Log:      cfg.Log,
		Metrics:  cfg.Metrics,
		Notifier: cfg.Notifier,
		Clock:    cfg.Clock,
	})

	if cfg.Updates != nil {
		app.RawHandlerFunc(http.MethodGet, "", "/ws/task-updates", cfg.Updates)
	}
}
