// Package chat implements the DISCORD and SLACK webhook nodes.
package chat

import (
	"context"
	"html"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/pkg/errors"
	"resty.dev/v3"
)

// DiscordMaxLength is the longest message Discord accepts.
const DiscordMaxLength = 2000

type Config struct {
	WebhookURL   string `mapstructure:"webhookUrl" validate:"required"`
	Content      string `mapstructure:"content" validate:"required"`
	Username     string `mapstructure:"username"`
	VariableName string `mapstructure:"variableName" validate:"omitempty,varname"`
}

// target describes how a message is posted to one chat service.
type target struct {
	service         string
	stepKind        string
	defaultVariable string
	maxLength       int
	payload         func(content, username string) map[string]any
}

var targets = map[node.Type]target{
	node.Discord: {
		service:         "discord",
		stepKind:        "discord-webhook",
		defaultVariable: "myDiscord",
		maxLength:       DiscordMaxLength,
		payload: func(content, username string) map[string]any {
			body := map[string]any{"content": content}
			if username != "" {
				body["username"] = username
			}
			return body
		},
	},
	node.Slack: {
		service:         "slack",
		stepKind:        "slack-webhook",
		defaultVariable: "mySlack",
		payload: func(content, _ string) map[string]any {
			return map[string]any{"text": content}
		},
	},
}

type Executor struct {
	Client *resty.Client
}

func New(client *resty.Client) *Executor {
	return &Executor{Client: client}
}

func (e *Executor) Execute(ctx context.Context, p executor.Params) (map[string]any, error) {
	return executor.WithStatus(ctx, p, func(ctx context.Context) (map[string]any, error) {
		t, ok := targets[p.Type]
		if !ok {
			return nil, errors.Errorf("%s is not a chat node type", p.Type)
		}

		var cfg Config
		if err := p.Decode(&cfg); err != nil {
			return nil, err
		}

		webhookURL, err := p.ResolveURL("webhookUrl", cfg.WebhookURL)
		if err != nil {
			return nil, err
		}

		rendered, err := p.Resolve(cfg.Content)
		if err != nil {
			return nil, err
		}
		content := truncate(html.UnescapeString(rendered), t.maxLength)

		var username string
		if cfg.Username != "" && p.Type == node.Discord {
			u, err := p.Resolve(cfg.Username)
			if err != nil {
				return nil, err
			}
			username = html.UnescapeString(u)
		}

		_, err = executor.Run(ctx, p, t.stepKind, func(ctx context.Context) (bool, error) {
			return true, e.post(ctx, p.NodeID, t.service, webhookURL, t.payload(content, username))
		})
		if err != nil {
			return nil, err
		}

		return executor.Merge(p.Context, executor.VariableName(cfg.VariableName, t.defaultVariable), map[string]any{
			"messageContent": content,
		}), nil
	})
}

func (e *Executor) post(ctx context.Context, nodeID, service, url string, body map[string]any) error {
	clio.Debugf("%s node %s: posting message", service, nodeID)
	res, err := e.Client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Execute("POST", url)
	if err != nil {
		return noderr.Upstream(nodeID, service, err)
	}
	if res.IsError() || res.StatusCode() >= 300 {
		return &noderr.UpstreamError{
			NodeID:     nodeID,
			Service:    service,
			StatusCode: res.StatusCode(),
			Err:        errors.Errorf("webhook rejected the message: %s", res.Status()),
		}
	}
	return nil
}

// truncate shortens s to at most max characters. A max of zero means no limit.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
