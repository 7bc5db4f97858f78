// Package mux wires the HTTP application: middleware, CORS, and the routes
// bound by a RouteAdder.
package mux

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/api"
	"github.com/ahrav/curation-progress/internal/api/mid"
	appprogress "github.com/ahrav/curation-progress/internal/app/progress"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
	"github.com/ahrav/curation-progress/pkg/web"
)

// Options represent optional parameters.
type Options struct {
	corsOrigin []string
}

// WithCORS provides configuration options for CORS.
func WithCORS(origins []string) func(opts *Options) {
	return func(opts *Options) {
		opts.corsOrigin = origins
	}
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build   string
	Log     *logger.Logger
	Tracer  trace.Tracer
	Clock   timeutil.Provider
	Metrics api.APIMetrics

	Manager   *appprogress.Manager
	Submitter *appprogress.Submitter
	Retry     *appprogress.RetryCoordinator
	// Notifier receives updates posted by remote workers.
	Notifier progress.Notifier
	// Updates serves the live WebSocket channel.
	Updates http.HandlerFunc
}

// RouteAdder defines behavior that sets the routes to bind for an instance
// of the service.
type RouteAdder interface {
	Add(app *web.App, cfg Config)
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, routeAdder RouteAdder, options ...func(opts *Options)) http.Handler {
	logger := func(ctx context.Context, msg string, args ...any) {
		cfg.Log.Info(ctx, msg, args...)
	}

	app := web.NewApp(
		logger,
		cfg.Tracer,
		mid.Otel(cfg.Tracer, cfg.Clock),
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(cfg.Metrics),
		mid.Panics(),
	)

	var opts Options
	for _, option := range options {
		option(&opts)
	}

	if len(opts.corsOrigin) > 0 {
		app.EnableCORS(opts.corsOrigin)
	}

	routeAdder.Add(app, cfg)

	return app
}
