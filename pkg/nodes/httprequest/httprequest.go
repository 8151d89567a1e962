// Package httprequest implements the HTTP_REQUEST node.
package httprequest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/pkg/errors"
	"resty.dev/v3"
)

const DefaultVariable = "httpResponse"

type Config struct {
	Endpoint     string            `mapstructure:"endpoint" validate:"required"`
	Method       string            `mapstructure:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Body         string            `mapstructure:"body"`
	Headers      map[string]string `mapstructure:"headers"`
	VariableName string            `mapstructure:"variableName" validate:"omitempty,varname"`
}

type Executor struct {
	Client *resty.Client
}

func New(client *resty.Client) *Executor {
	return &Executor{Client: client}
}

func hasBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

func (e *Executor) Execute(ctx context.Context, p executor.Params) (map[string]any, error) {
	return executor.WithStatus(ctx, p, func(ctx context.Context) (map[string]any, error) {
		var cfg Config
		if err := p.Decode(&cfg); err != nil {
			return nil, err
		}
		method := strings.ToUpper(cfg.Method)
		if method == "" {
			method = "GET"
		}

		endpoint, err := p.Resolve(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(endpoint) == "" {
			return nil, noderr.Configf(p.NodeID, "HTTP Request node: endpoint resolved to an empty value")
		}

		var body string
		if hasBody(method) {
			body, err = p.Resolve(cfg.Body)
			if err != nil {
				return nil, err
			}
		}

		headers := map[string]string{}
		for k, v := range cfg.Headers {
			headers[k], err = p.Resolve(v)
			if err != nil {
				return nil, err
			}
		}

		res, err := executor.Run(ctx, p, "http-request", func(ctx context.Context) (map[string]any, error) {
			return e.do(ctx, p.NodeID, method, endpoint, body, headers)
		})
		if err != nil {
			return nil, err
		}
		return executor.Merge(p.Context, executor.VariableName(cfg.VariableName, DefaultVariable), res), nil
	})
}

func (e *Executor) do(ctx context.Context, nodeID, method, endpoint, body string, headers map[string]string) (map[string]any, error) {
	req := e.Client.R().SetContext(ctx).SetHeaders(headers)
	if body != "" {
		if _, ok := headers["Content-Type"]; !ok && json.Valid([]byte(body)) {
			req.SetHeader("Content-Type", "application/json")
		}
		req.SetBody(body)
	}

	clio.Debugf("HTTP Request node %s: %s %s", nodeID, method, endpoint)
	res, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, noderr.Upstream(nodeID, "http request", err)
	}
	if res.IsError() || res.StatusCode() >= 300 {
		return nil, &noderr.UpstreamError{
			NodeID:     nodeID,
			Service:    "http request",
			StatusCode: res.StatusCode(),
			Err:        errors.Errorf("%s %s failed: %s", method, endpoint, res.Status()),
		}
	}

	raw := res.Bytes()
	var data any = string(raw)
	if strings.Contains(res.Header().Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, noderr.Upstream(nodeID, "http request", errors.Wrap(err, "decoding JSON response"))
		}
		data = parsed
	}

	return map[string]any{
		"status":     res.StatusCode(),
		"statusText": statusText(res.Status(), res.StatusCode()),
		"data":       data,
	}, nil
}

// statusText strips the code from a status line, e.g. "200 OK" -> "OK".
func statusText(status string, code int) string {
	return strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
}
