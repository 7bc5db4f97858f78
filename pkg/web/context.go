package web

import (
	"context"
	"net/http"
	"time"
)

type ctxKey int

const (
	writerKey ctxKey = iota + 1
	valuesKey
)

// Values represent state for each request.
type Values struct {
	TraceID    string
	Now        time.Time
	StatusCode int
}

// GetValues returns the values from the context, creating them the first
// time so middleware later in the chain can share them.
func GetValues(ctx context.Context) *Values {
	v, ok := ctx.Value(valuesKey).(*Values)
	if !ok {
		return &Values{TraceID: "00000000-0000-0000-0000-000000000000", Now: time.Now()}
	}
	return v
}

// InitValues attaches a fresh Values to ctx.
func InitValues(ctx context.Context, traceID string, now time.Time) context.Context {
	return context.WithValue(ctx, valuesKey, &Values{TraceID: traceID, Now: now})
}

func setStatusCode(ctx context.Context, statusCode int) {
	if v, ok := ctx.Value(valuesKey).(*Values); ok {
		v.StatusCode = statusCode
	}
}

func setWriter(ctx context.Context, w http.ResponseWriter) context.Context {
	return context.WithValue(ctx, writerKey, w)
}

// GetWriter returns the underlying writer for the request.
func GetWriter(ctx context.Context) http.ResponseWriter {
	v, ok := ctx.Value(writerKey).(http.ResponseWriter)
	if !ok {
		return nil
	}

	return v
}
