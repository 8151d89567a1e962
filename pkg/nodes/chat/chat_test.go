package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = nil
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := resty.New()
	defer client.Close()

	long := strings.Repeat("é", DiscordMaxLength+10)

	tests := []struct {
		name        string
		typ         node.Type
		data        map[string]any
		wantKey     string
		wantContent string
		wantBody    map[string]any
	}{
		{
			name:        "discord with username",
			typ:         node.Discord,
			data:        map[string]any{"webhookUrl": srv.URL, "content": "hi {{user.name}} &amp; co", "username": "{{bot}}"},
			wantKey:     "myDiscord",
			wantContent: "hi ada & co",
			wantBody:    map[string]any{"content": "hi ada & co", "username": "rheoma"},
		},
		{
			name:        "discord truncates by character",
			typ:         node.Discord,
			data:        map[string]any{"webhookUrl": srv.URL, "content": long, "variableName": "d"},
			wantKey:     "d",
			wantContent: strings.Repeat("é", DiscordMaxLength),
			wantBody:    map[string]any{"content": strings.Repeat("é", DiscordMaxLength)},
		},
		{
			name:        "slack with templated webhook",
			typ:         node.Slack,
			data:        map[string]any{"webhookUrl": "{{hook}}/services/T1", "content": "{{json user}}", "username": "ignored"},
			wantKey:     "mySlack",
			wantContent: "{\n  \"name\": \"ada\"\n}",
			wantBody:    map[string]any{"text": "{\n  \"name\": \"ada\"\n}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := map[string]any{"user": map[string]any{"name": "ada"}, "bot": "rheoma", "hook": srv.URL}
			h := executortest.New(t, tt.typ, tt.data, vars)

			out, err := New(client).Execute(context.Background(), h.Params)
			require.NoError(t, err)

			assert.Equal(t, map[string]any{"messageContent": tt.wantContent}, out[tt.wantKey])
			assert.Equal(t, tt.wantBody, got)
			assert.Equal(t, []realtime.Status{realtime.Loading, realtime.Success}, h.Statuses())
		})
	}
}

func TestExecute_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		typ     node.Type
		data    map[string]any
		wantErr string
	}{
		{name: "missing webhook", typ: node.Discord, data: map[string]any{"content": "x"}, wantErr: "Discord node: webhookUrl is required"},
		{name: "missing content", typ: node.Slack, data: map[string]any{"webhookUrl": srv.URL}, wantErr: "Slack node: content is required"},
		{name: "invalid webhook", typ: node.Slack, data: map[string]any{"webhookUrl": "not a url", "content": "x"}, wantErr: `Slack node: webhookUrl must be a valid URL, got "not a url"`},
		{name: "webhook template resolves to nothing", typ: node.Discord, data: map[string]any{"webhookUrl": "{{hooks.missing}}", "content": "x"}, wantErr: `Discord node: webhookUrl must be a valid URL, got ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := executortest.New(t, tt.typ, tt.data, nil)
			_, err := New(resty.New()).Execute(context.Background(), h.Params)

			var ce *noderr.ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.EqualError(t, err, tt.wantErr)
			assert.Equal(t, []realtime.Status{realtime.Loading, realtime.Error}, h.Statuses())
		})
	}

	t.Run("rejected message", func(t *testing.T) {
		h := executortest.New(t, node.Slack, map[string]any{"webhookUrl": srv.URL, "content": "x"}, nil)
		_, err := New(resty.New()).Execute(context.Background(), h.Params)

		var ue *noderr.UpstreamError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
		assert.Equal(t, int32(2), calls.Load())
	})
}
