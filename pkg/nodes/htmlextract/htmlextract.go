// Package htmlextract implements the HTML_EXTRACTOR node, which pulls
// values out of an HTML document using CSS selectors.
package htmlextract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/noderr"
)

const DefaultVariable = "htmlData"

// What an extraction returns for each matched element.
const (
	ReturnText      = "text"
	ReturnHTML      = "html"
	ReturnAttribute = "attribute"
)

type Extraction struct {
	Key           string `mapstructure:"key" validate:"required"`
	Selector      string `mapstructure:"selector" validate:"required"`
	ReturnValue   string `mapstructure:"returnValue" validate:"omitempty,oneof=text html attribute"`
	Attribute     string `mapstructure:"attribute"`
	SkipSelectors string `mapstructure:"skipSelectors"`
	ReturnArray   bool   `mapstructure:"returnArray"`
}

type Config struct {
	SourceHTML   string       `mapstructure:"sourceHtml" validate:"required"`
	Extractions  []Extraction `mapstructure:"extractions" validate:"min=1,dive"`
	VariableName string       `mapstructure:"variableName" validate:"omitempty,varname"`
}

type Executor struct{}

func New() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(ctx context.Context, p executor.Params) (map[string]any, error) {
	return executor.WithStatus(ctx, p, func(ctx context.Context) (map[string]any, error) {
		var cfg Config
		if err := p.Decode(&cfg); err != nil {
			return nil, err
		}

		source, err := p.Resolve(cfg.SourceHTML)
		if err != nil {
			return nil, err
		}
		source = unquote(source)

		out, err := executor.Run(ctx, p, "html-extractor", func(ctx context.Context) (map[string]any, error) {
			out, err := Extract(source, cfg.Extractions)
			if err != nil {
				return nil, noderr.Configf(p.NodeID, "HTML Extractor node: parsing source: %s", err)
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		return executor.Merge(p.Context, executor.VariableName(cfg.VariableName, DefaultVariable), out), nil
	})
}

// unquote decodes a source which was rendered as a JSON string,
// e.g. via {{json httpResponse.data}}.
func unquote(s string) string {
	t := strings.TrimSpace(s)
	if len(t) < 2 || t[0] != '"' || t[len(t)-1] != '"' {
		return s
	}
	var out string
	if err := json.Unmarshal([]byte(t), &out); err != nil {
		return s
	}
	return out
}

// Extract applies each extraction to the document. A key maps to the
// first matched value, or to every matched value when ReturnArray is set.
// Keys without a match are nil.
func Extract(source string, extractions []Extraction) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(extractions))
	for _, ex := range extractions {
		values := []any{}
		doc.Find(ex.Selector).Each(func(_ int, s *goquery.Selection) {
			el := s.Clone()
			if ex.SkipSelectors != "" {
				el.Find(ex.SkipSelectors).Remove()
			}
			values = append(values, value(el, ex))
		})

		switch {
		case ex.ReturnArray:
			out[ex.Key] = values
		case len(values) > 0:
			out[ex.Key] = values[0]
		default:
			out[ex.Key] = nil
		}
	}
	return out, nil
}

func value(el *goquery.Selection, ex Extraction) any {
	switch ex.ReturnValue {
	case ReturnHTML:
		h, err := el.Html()
		if err != nil {
			return nil
		}
		return h
	case ReturnAttribute:
		if ex.Attribute == "" {
			return nil
		}
		v, ok := el.Attr(ex.Attribute)
		if !ok {
			return nil
		}
		return v
	default:
		return strings.TrimSpace(el.Text())
	}
}
