package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type jsonResp string

func (j jsonResp) Encode() ([]byte, string, error) { return []byte(j), "application/json", nil }

type createdResp struct{ jsonResp }

func (createdResp) HTTPStatus() int { return http.StatusCreated }

type failure struct{ jsonResp }

func (failure) Error() string { return "failure" }

func newTestApp(mw ...MidFunc) *App {
	return NewApp(func(context.Context, string, ...any) {}, noop.NewTracerProvider().Tracer("test"), mw...)
}

func TestAppRespond(t *testing.T) {
	t.Parallel()

	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "v1", "/items/{id}", func(ctx context.Context, r *http.Request) Encoder {
		return jsonResp(`{"id":"` + Param(r, "id") + `"}`)
	})
	app.HandlerFunc(http.MethodPost, "", "/items", func(context.Context, *http.Request) Encoder {
		return createdResp{jsonResp(`{}`)}
	})
	app.HandlerFunc(http.MethodDelete, "", "/items/{id}", func(context.Context, *http.Request) Encoder {
		return NoContent{}
	})
	app.HandlerFunc(http.MethodGet, "", "/broken", func(context.Context, *http.Request) Encoder {
		return failure{jsonResp(`{"error":"x"}`)}
	})

	tests := []struct {
		method, path string
		wantStatus   int
		wantBody     string
	}{
		{http.MethodGet, "/v1/items/42", http.StatusOK, `{"id":"42"}`},
		{http.MethodPost, "/items", http.StatusCreated, `{}`},
		{http.MethodDelete, "/items/1", http.StatusNoContent, ``},
		{http.MethodGet, "/broken", http.StatusInternalServerError, `{"error":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			app.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestMiddlewareOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) MidFunc {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, r *http.Request) Encoder {
				order = append(order, name)
				return next(ctx, r)
			}
		}
	}

	app := newTestApp(mark("app-1"), mark("app-2"))
	app.HandlerFunc(http.MethodGet, "", "/x", func(context.Context, *http.Request) Encoder {
		order = append(order, "handler")
		return jsonResp(`{}`)
	}, mark("route"))
	app.HandlerFuncNoMid(http.MethodGet, "", "/bare", func(context.Context, *http.Request) Encoder {
		order = append(order, "bare")
		return jsonResp(`{}`)
	})

	app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bare", nil))

	assert.Equal(t, []string{"app-1", "app-2", "route", "handler", "bare"}, order)
}

func TestEnableCORS(t *testing.T) {
	t.Parallel()

	app := newTestApp()
	app.EnableCORS([]string{"http://ui.local"})
	app.HandlerFunc(http.MethodGet, "", "/x", func(context.Context, *http.Request) Encoder { return jsonResp(`{}`) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://ui.local")
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://ui.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	var v struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, Decode(req, &v))
	assert.Equal(t, "a", v.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, Decode(req, &v))
}
