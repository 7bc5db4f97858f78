// Package ingress accepts progress updates posted by workers running outside
// the server process and hands them to the relay.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ahrav/curation-progress/internal/api"
	"github.com/ahrav/curation-progress/internal/api/errs"
	"github.com/ahrav/curation-progress/internal/app/relay"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
	"github.com/ahrav/curation-progress/pkg/web"
)

// CompletionPath is kept for workers that still post completions separately.
const CompletionPath = "/internal/broadcast-task-completion"

const maxUpdateBytes = 1 << 20

// Config contains the dependencies needed by the ingress handlers.
type Config struct {
	Log      *logger.Logger
	Metrics  api.APIMetrics
	Notifier progress.Notifier
	Clock    timeutil.Provider
}

// Routes binds the ingress endpoints.
func Routes(app *web.App, cfg Config) {
	app.HandlerFunc(http.MethodPost, "", relay.IngressPath, broadcast(cfg))
	app.HandlerFunc(http.MethodPost, "", CompletionPath, broadcast(cfg))
}

type broadcastResponse struct {
	Status string `json:"status"`
}

// Encode implements the web.Encoder interface.
func (br broadcastResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(br)
	return data, "application/json", err
}

func broadcast(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		if w := web.GetWriter(ctx); w != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxUpdateBytes)
		}

		var u progress.Update
		if err := web.Decode(r, &u); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}
		if u.Timestamp.IsZero() {
			u.Timestamp = cfg.Clock.Now().UTC()
		}
		if err := u.Validate(); err != nil {
			return errs.FromDomain(err)
		}

		cfg.Metrics.IncIngressUpdates(ctx, string(u.Type))
		cfg.Notifier.Notify(ctx, u)

		return broadcastResponse{Status: "broadcasted"}
	}
}
