package transform

import (
	"context"
	"strings"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/noderr"
)

const SplitDefaultVariable = "splitData"

// Split modes.
const (
	// ModeSingle emits one item per element of the first field.
	ModeSingle = "single"
	// ModeZip emits one item per index across all fields.
	ModeZip = "zip"
)

type SplitConfig struct {
	SourceData string   `mapstructure:"sourceData" validate:"required"`
	Fields     []string `mapstructure:"fields"`
	// FieldsInput is a comma separated alternative to Fields.
	FieldsInput     string `mapstructure:"fieldsInput"`
	Mode            string `mapstructure:"mode" validate:"omitempty,oneof=single zip"`
	KeepOtherFields bool   `mapstructure:"keepOtherFields"`
	VariableName    string `mapstructure:"variableName" validate:"omitempty,varname"`
}

func (c SplitConfig) fields() []string {
	if len(c.Fields) > 0 {
		return c.Fields
	}
	var out []string
	for _, f := range strings.Split(c.FieldsInput, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Split turns array fields of an object into a list of objects.
type Split struct{}

func (Split) Execute(ctx context.Context, p executor.Params) (map[string]any, error) {
	return executor.WithStatus(ctx, p, func(ctx context.Context) (map[string]any, error) {
		var cfg SplitConfig
		if err := p.Decode(&cfg); err != nil {
			return nil, err
		}
		fields := cfg.fields()
		if len(fields) == 0 {
			return nil, noderr.Configf(p.NodeID, "Split Out node: no fields provided")
		}
		mode := cfg.Mode
		if mode == "" {
			mode = ModeSingle
		}

		v, err := source(p, cfg.SourceData)
		if err != nil {
			return nil, err
		}
		if list, ok := v.([]any); ok {
			if len(list) == 0 {
				return nil, noderr.Configf(p.NodeID, "Split Out node: source data is an empty array")
			}
			v = list[0]
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, noderr.Configf(p.NodeID, "Split Out node: resolved source data is not an object")
		}

		out, err := executor.Run(ctx, p, "split-out", func(ctx context.Context) ([]any, error) {
			var items []map[string]any
			var err error
			if mode == ModeZip {
				items, err = Zip(obj, fields, cfg.KeepOtherFields)
			} else {
				items, err = Single(obj, fields[0], cfg.KeepOtherFields)
			}
			if err != nil {
				return nil, noderr.Configf(p.NodeID, "Split Out node (%s): %s", mode, err)
			}
			list := make([]any, len(items))
			for i, item := range items {
				list[i] = item
			}
			return list, nil
		})
		if err != nil {
			return nil, err
		}
		return executor.Merge(p.Context, executor.VariableName(cfg.VariableName, SplitDefaultVariable), out), nil
	})
}

// FieldError is returned when a field to split is not an array.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return "field \"" + e.Field + "\" is not an array"
}

func base(obj map[string]any, keep bool) map[string]any {
	item := map[string]any{}
	if keep {
		for k, v := range obj {
			item[k] = v
		}
	}
	return item
}

// Single emits one object per element of obj[field].
func Single(obj map[string]any, field string, keepOtherFields bool) ([]map[string]any, error) {
	values, ok := obj[field].([]any)
	if !ok {
		return nil, &FieldError{Field: field}
	}
	out := make([]map[string]any, 0, len(values))
	for _, v := range values {
		item := base(obj, keepOtherFields)
		item[field] = v
		out = append(out, item)
	}
	return out, nil
}

// Zip emits one object per index up to the longest field. Shorter
// fields are omitted from the items past their end.
func Zip(obj map[string]any, fields []string, keepOtherFields bool) ([]map[string]any, error) {
	arrays := make([][]any, len(fields))
	longest := 0
	for i, f := range fields {
		values, ok := obj[f].([]any)
		if !ok {
			return nil, &FieldError{Field: f}
		}
		arrays[i] = values
		longest = max(longest, len(values))
	}

	out := make([]map[string]any, 0, longest)
	for i := 0; i < longest; i++ {
		item := base(obj, keepOtherFields)
		for j, f := range fields {
			if i < len(arrays[j]) {
				item[f] = arrays[j][i]
			} else if keepOtherFields {
				delete(item, f)
			}
		}
		out = append(out, item)
	}
	return out, nil
}
