package ai

import (
	"context"
	"testing"

	"github.com/common-fate/rheoma/pkg/executor/executortest"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
)

type credentials map[string]string

func (c credentials) Lookup(ctx context.Context, id, userID string) (string, error) {
	v, ok := c[id]
	if !ok {
		return "", noderr.NotFound("credential", id)
	}
	return v, nil
}

func (c credentials) Open(sealed string) (string, error) { return sealed, nil }

// recordingModel captures the messages sent to the provider.
type recordingModel struct {
	*fake.LLM
	messages []llms.MessageContent
	err      error
}

func (m *recordingModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = msgs
	if m.err != nil {
		return nil, m.err
	}
	return m.LLM.GenerateContent(ctx, msgs, opts...)
}

func textOf(mc llms.MessageContent) string {
	return mc.Parts[0].(llms.TextContent).Text
}

func TestExecute(t *testing.T) {
	for _, typ := range []node.Type{node.OpenAI, node.Anthropic, node.Gemini} {
		t.Run(typ.String(), func(t *testing.T) {
			model := &recordingModel{LLM: fake.NewFakeLLM([]string{"a haiku"})}
			var gotKey, gotModel string
			e := &Executor{NewModel: func(ctx context.Context, nt node.Type, apiKey, m string) (llms.Model, error) {
				gotKey, gotModel = apiKey, m
				return model, nil
			}}

			h := executortest.New(t, typ, map[string]any{
				"credentialId": "cred-1",
				"userPrompt":   "write about {{topic}}",
				"variableName": "poem",
			}, map[string]any{"topic": "rivers"})
			h.Params.Credentials = credentials{"cred-1": "sk-123"}

			got, err := e.Execute(context.Background(), h.Params)
			require.NoError(t, err)

			assert.Equal(t, map[string]any{"aiResponse": "a haiku"}, got["poem"])
			assert.Equal(t, "rivers", got["topic"])
			assert.Equal(t, "sk-123", gotKey)
			assert.Equal(t, Models[typ][0], gotModel)
			require.Len(t, model.messages, 2)
			assert.Equal(t, DefaultSystemPrompt, textOf(model.messages[0]))
			assert.Equal(t, "write about rivers", textOf(model.messages[1]))
			assert.Equal(t, []realtime.Status{realtime.Loading, realtime.Success}, h.Statuses())
		})
	}
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name         string
		data         map[string]any
		modelErr     error
		wantConfig   bool
		wantUpstream bool
		wantErr      string
	}{
		{
			name:       "missing credential",
			data:       map[string]any{"userPrompt": "hi"},
			wantConfig: true,
			wantErr:    "OpenAI node: credential is missing",
		},
		{
			name:       "unknown credential",
			data:       map[string]any{"credentialId": "nope", "userPrompt": "hi"},
			wantConfig: true,
			wantErr:    "OpenAI node: credential nope not found",
		},
		{
			name:       "missing prompt",
			data:       map[string]any{"credentialId": "cred-1"},
			wantConfig: true,
			wantErr:    "OpenAI node: userPrompt is required",
		},
		{
			name:       "unsupported model",
			data:       map[string]any{"credentialId": "cred-1", "userPrompt": "hi", "model": "gpt-2"},
			wantConfig: true,
			wantErr:    "OpenAI node: model gpt-2 is not supported (expected one of gpt-4o-mini, gpt-4o, gpt-3.5-turbo)",
		},
		{
			name:         "provider failure",
			data:         map[string]any{"credentialId": "cred-1", "userPrompt": "hi"},
			modelErr:     errors.New("rate limited"),
			wantUpstream: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			e := &Executor{NewModel: func(ctx context.Context, nt node.Type, apiKey, m string) (llms.Model, error) {
				calls++
				return &recordingModel{LLM: fake.NewFakeLLM([]string{"x", "x"}), err: tt.modelErr}, nil
			}}
			h := executortest.New(t, node.OpenAI, tt.data, nil)
			h.Params.Credentials = credentials{"cred-1": "sk-123"}

			_, err := e.Execute(context.Background(), h.Params)
			require.Error(t, err)
			assert.Equal(t, []realtime.Status{realtime.Loading, realtime.Error}, h.Statuses()[len(h.Statuses())-2:])

			if tt.wantConfig {
				var ce *noderr.ConfigurationError
				assert.True(t, errors.As(err, &ce))
				assert.EqualError(t, err, tt.wantErr)
				assert.Equal(t, 0, calls, "no provider call is made for configuration errors")
			}
			if tt.wantUpstream {
				var ue *noderr.UpstreamError
				assert.True(t, errors.As(err, &ue))
			}
		})
	}
}
