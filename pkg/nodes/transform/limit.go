package transform

import (
	"context"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/noderr"
)

const LimitDefaultVariable = "limitData"

type LimitConfig struct {
	SourceData   string `mapstructure:"sourceData" validate:"required"`
	Limit        int    `mapstructure:"limit" validate:"gt=0"`
	Mode         string `mapstructure:"mode" validate:"omitempty,oneof=first last"`
	VariableName string `mapstructure:"variableName" validate:"omitempty,varname"`
}

// Limit keeps the first or last N items of an array.
type Limit struct{}

func (Limit) Execute(ctx context.Context, p executor.Params) (map[string]any, error) {
	return executor.WithStatus(ctx, p, func(ctx context.Context) (map[string]any, error) {
		var cfg LimitConfig
		if err := p.Decode(&cfg); err != nil {
			return nil, err
		}

		v, err := source(p, cfg.SourceData)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			return nil, noderr.Configf(p.NodeID, "Limit node: resolved source data is not an array")
		}

		out, err := executor.Run(ctx, p, "limit", func(ctx context.Context) ([]any, error) {
			return Take(items, cfg.Limit, cfg.Mode == "last"), nil
		})
		if err != nil {
			return nil, err
		}
		return executor.Merge(p.Context, executor.VariableName(cfg.VariableName, LimitDefaultVariable), out), nil
	})
}

// Take returns at most n items from the start of items, or from the end if last is set.
func Take(items []any, n int, last bool) []any {
	if n >= len(items) {
		return items
	}
	if last {
		return items[len(items)-n:]
	}
	return items[:n]
}
