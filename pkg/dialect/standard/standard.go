// Package standard contains the built-in rheoma dialect, which
// registers an executor for every node type.
package standard

import (
	"github.com/common-fate/rheoma/pkg/dialect"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/nodes/ai"
	"github.com/common-fate/rheoma/pkg/nodes/chat"
	"github.com/common-fate/rheoma/pkg/nodes/htmlextract"
	"github.com/common-fate/rheoma/pkg/nodes/httprequest"
	"github.com/common-fate/rheoma/pkg/nodes/transform"
	"github.com/common-fate/rheoma/pkg/nodes/trigger"
	"resty.dev/v3"
)

// New returns the standard dialect. The HTTP client is shared by
// every node which calls out over HTTP.
func New(client *resty.Client) dialect.Dialect {
	d := dialect.New().
		Register(trigger.Executor{},
			node.Initial,
			node.ManualTrigger,
			node.GoogleFormTrigger,
			node.StripeTrigger,
			node.EmailTrigger,
		).
		Register(httprequest.New(client), node.HTTPRequest).
		Register(ai.New(), node.OpenAI, node.Anthropic, node.Gemini).
		Register(chat.New(client), node.Discord, node.Slack).
		Register(htmlextract.New(), node.HTMLExtractor).
		Register(transform.Limit{}, node.Limit).
		Register(transform.Split{}, node.SplitOut)
	return *d
}
