// Package ai implements the OPENAI, ANTHROPIC and GEMINI nodes.
package ai

import (
	"context"
	"io"
	"slices"
	"strings"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultVariable     = "aiResponse"
	DefaultSystemPrompt = "You are a helpful assistant"
)

// Models lists the models each provider node accepts. The first is the default.
var Models = map[node.Type][]string{
	node.OpenAI:    {"gpt-4o-mini", "gpt-4o", "gpt-3.5-turbo"},
	node.Anthropic: {"claude-sonnet-4-5", "claude-3-5-sonnet-20241022"},
	node.Gemini:    {"gemini-1.5-flash", "gemini-1.5-flash-8b", "gemini-1.5-pro"},
}

type Config struct {
	CredentialID string `mapstructure:"credentialId"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"systemPrompt"`
	UserPrompt   string `mapstructure:"userPrompt"`
	VariableName string `mapstructure:"variableName" validate:"omitempty,varname"`
}

// ModelFactory creates a client for the provider behind a node type.
type ModelFactory func(ctx context.Context, t node.Type, apiKey, model string) (llms.Model, error)

// NewModel creates a langchaingo client for the node's provider.
func NewModel(ctx context.Context, t node.Type, apiKey, model string) (llms.Model, error) {
	switch t {
	case node.OpenAI:
		return openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	case node.Anthropic:
		return anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	case node.Gemini:
		return googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	}
	return nil, errors.Errorf("%s is not an AI node type", t)
}

type Executor struct {
	NewModel ModelFactory
}

func New() *Executor {
	return &Executor{NewModel: NewModel}
}

func (e *Executor) Execute(ctx context.Context, p executor.Params) (map[string]any, error) {
	return executor.WithStatus(ctx, p, func(ctx context.Context) (map[string]any, error) {
		label := p.Type.Label()

		var cfg Config
		if err := p.Decode(&cfg); err != nil {
			return nil, err
		}
		if cfg.CredentialID == "" {
			return nil, noderr.Configf(p.NodeID, "%s node: credential is missing", label)
		}
		if cfg.UserPrompt == "" {
			return nil, noderr.Configf(p.NodeID, "%s node: userPrompt is required", label)
		}

		models, ok := Models[p.Type]
		if !ok {
			return nil, errors.Errorf("%s is not an AI node type", p.Type)
		}
		model := cfg.Model
		if model == "" {
			model = models[0]
		}
		if !slices.Contains(models, model) {
			return nil, noderr.Configf(p.NodeID, "%s node: model %s is not supported (expected one of %s)", label, model, strings.Join(models, ", "))
		}

		system := DefaultSystemPrompt
		if cfg.SystemPrompt != "" {
			var err error
			system, err = p.Resolve(cfg.SystemPrompt)
			if err != nil {
				return nil, err
			}
		}
		prompt, err := p.Resolve(cfg.UserPrompt)
		if err != nil {
			return nil, err
		}

		apiKey, err := p.Credential(ctx, cfg.CredentialID)
		if err != nil {
			return nil, err
		}

		kind := strings.TrimSuffix(p.Type.Channel(), "-execution") + "-generate-text"
		text, err := executor.Run(ctx, p, kind, func(ctx context.Context) (string, error) {
			return e.generate(ctx, p, apiKey, model, system, prompt)
		})
		if err != nil {
			return nil, err
		}

		return executor.Merge(p.Context, executor.VariableName(cfg.VariableName, DefaultVariable), map[string]any{
			"aiResponse": text,
		}), nil
	})
}

func (e *Executor) generate(ctx context.Context, p executor.Params, apiKey, model, system, prompt string) (string, error) {
	factory := e.NewModel
	if factory == nil {
		factory = NewModel
	}
	llm, err := factory(ctx, p.Type, apiKey, model)
	if err != nil {
		return "", noderr.Configf(p.NodeID, "%s node: creating client: %s", p.Type.Label(), err)
	}
	if c, ok := llm.(io.Closer); ok {
		defer c.Close()
	}

	res, err := llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithModel(model))
	if err != nil {
		return "", noderr.Upstream(p.NodeID, strings.ToLower(p.Type.Label()), err)
	}
	if len(res.Choices) == 0 {
		return "", noderr.Upstream(p.NodeID, strings.ToLower(p.Type.Label()), errors.New("no completion was returned"))
	}
	return res.Choices[0].Content, nil
}
