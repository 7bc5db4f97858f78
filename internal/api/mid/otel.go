package mid

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/pkg/common/otel"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
	"github.com/ahrav/curation-progress/pkg/web"
)

// Otel starts the otel tracing and stores the trace id in the context.
func Otel(tracer trace.Tracer, clock timeutil.Provider) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			ctx = otel.InjectTracing(ctx, tracer)
			ctx = web.InitValues(ctx, otel.GetTraceID(ctx), clock.Now())

			return next(ctx, r)
		}

		return h
	}

	return m
}
