package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/common-fate/rheoma/pkg/executor/executortest"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"
)

func TestExecute(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Token")

		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
		case "/text":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := resty.New()
	defer client.Close()

	tests := []struct {
		name       string
		data       map[string]any
		wantKey    string
		wantData   any
		wantMethod string
		wantBody   string
		wantHeader string
	}{
		{
			name:       "get json",
			data:       map[string]any{"endpoint": srv.URL + "/json", "method": "GET", "variableName": "http1"},
			wantKey:    "http1",
			wantData:   map[string]any{"items": []any{float64(1), float64(2), float64(3)}},
			wantMethod: "GET",
		},
		{
			name:       "default method and variable with text body",
			data:       map[string]any{"endpoint": srv.URL + "/text"},
			wantKey:    DefaultVariable,
			wantData:   "hello",
			wantMethod: "GET",
		},
		{
			name: "templated post",
			data: map[string]any{
				"endpoint": "{{base}}/json",
				"method":   "POST",
				"body":     `{"name":"{{user.name}}"}`,
				"headers":  map[string]any{"X-Token": "{{token}}"},
			},
			wantKey:    DefaultVariable,
			wantData:   map[string]any{"items": []any{float64(1), float64(2), float64(3)}},
			wantMethod: "POST",
			wantBody:   `{"name":"ada"}`,
			wantHeader: "secret",
		},
		{
			name:       "body ignored for GET",
			data:       map[string]any{"endpoint": srv.URL + "/text", "body": "ignored"},
			wantKey:    DefaultVariable,
			wantData:   "hello",
			wantMethod: "GET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := map[string]any{"base": srv.URL, "user": map[string]any{"name": "ada"}, "token": "secret"}
			h := executortest.New(t, node.HTTPRequest, tt.data, vars)

			got, err := New(client).Execute(context.Background(), h.Params)
			require.NoError(t, err)

			res := got[tt.wantKey].(map[string]any)
			assert.EqualValues(t, 200, res["status"])
			assert.Equal(t, "OK", res["statusText"])
			assert.Equal(t, tt.wantData, res["data"])
			assert.Equal(t, tt.wantMethod, gotMethod)
			assert.Equal(t, tt.wantBody, gotBody)
			assert.Equal(t, tt.wantHeader, gotHeader)
			assert.Equal(t, "ada", got["user"].(map[string]any)["name"], "upstream context is kept")
			assert.Equal(t, []realtime.Status{realtime.Loading, realtime.Success}, h.Statuses())
		})
	}
}

func TestExecute_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Run("missing endpoint", func(t *testing.T) {
		h := executortest.New(t, node.HTTPRequest, map[string]any{"method": "GET"}, nil)
		_, err := New(resty.New()).Execute(context.Background(), h.Params)

		var ce *noderr.ConfigurationError
		require.True(t, errors.As(err, &ce))
		assert.EqualError(t, err, "HTTP Request node: endpoint is required")
		assert.Equal(t, []realtime.Status{realtime.Loading, realtime.Error}, h.Statuses())
	})

	t.Run("upstream failure is retried then surfaced", func(t *testing.T) {
		h := executortest.New(t, node.HTTPRequest, map[string]any{"endpoint": srv.URL}, nil)
		_, err := New(resty.New()).Execute(context.Background(), h.Params)

		var ue *noderr.UpstreamError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, http.StatusBadGateway, ue.StatusCode)
		// the harness allows one retry
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, []realtime.Status{realtime.Loading, realtime.Loading, realtime.Error}, h.Statuses())
	})
}

func TestExecute_ClientErrorIsNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "not found", status: http.StatusNotFound, wantCalls: 1},
		{name: "unauthorized", status: http.StatusUnauthorized, wantCalls: 1},
		{name: "rate limited", status: http.StatusTooManyRequests, wantCalls: 2},
		{name: "request timeout", status: http.StatusRequestTimeout, wantCalls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			h := executortest.New(t, node.HTTPRequest, map[string]any{"endpoint": srv.URL}, nil)
			_, err := New(resty.New()).Execute(context.Background(), h.Params)

			var ue *noderr.UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}
