// Package node defines the closed set of node types a workflow can contain.
package node

import "fmt"

type Type int

const (
	// Unknown is used only in testing and will result in a definition error.
	Unknown Type = iota
	Initial
	ManualTrigger
	GoogleFormTrigger
	StripeTrigger
	EmailTrigger
	HTTPRequest
	OpenAI
	Anthropic
	Gemini
	Discord
	Slack
	HTMLExtractor
	Limit
	SplitOut
)

var names = map[Type]string{
	Initial:           "INITIAL",
	ManualTrigger:     "MANUAL_TRIGGER",
	GoogleFormTrigger: "GOOGLE_FORM_TRIGGER",
	StripeTrigger:     "STRIPE_TRIGGER",
	EmailTrigger:      "EMAIL_TRIGGER",
	HTTPRequest:       "HTTP_REQUEST",
	OpenAI:            "OPENAI",
	Anthropic:         "ANTHROPIC",
	Gemini:            "GEMINI",
	Discord:           "DISCORD",
	Slack:             "SLACK",
	HTMLExtractor:     "HTML_EXTRACTOR",
	Limit:             "LIMIT",
	SplitOut:          "SPLIT_OUT",
}

// Types returns every known node type, in declaration order.
func Types() []Type {
	var out []Type
	for t := Initial; t <= SplitOut; t++ {
		out = append(out, t)
	}
	return out
}

func (t Type) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Valid returns true if t is one of the declared node types.
func (t Type) Valid() bool {
	_, ok := names[t]
	return ok
}

// IsTrigger returns true for the pass-through start node types.
func (t Type) IsTrigger() bool {
	switch t {
	case Initial, ManualTrigger, GoogleFormTrigger, StripeTrigger, EmailTrigger:
		return true
	}
	return false
}

// Channel is the realtime channel that status events for the node type
// are published on. Node families share a channel: the initial node
// reports through the manual trigger channel.
func (t Type) Channel() string {
	switch t {
	case Initial, ManualTrigger:
		return "manual-trigger-execution"
	case GoogleFormTrigger:
		return "google-form-trigger-execution"
	case StripeTrigger:
		return "stripe-trigger-execution"
	case EmailTrigger:
		return "email-trigger-execution"
	case HTTPRequest:
		return "http-request-execution"
	case OpenAI:
		return "openai-execution"
	case Anthropic:
		return "anthropic-execution"
	case Gemini:
		return "gemini-execution"
	case Discord:
		return "discord-execution"
	case Slack:
		return "slack-execution"
	case HTMLExtractor:
		return "html-extractor-execution"
	case Limit:
		return "limit-execution"
	case SplitOut:
		return "split-out-execution"
	}
	return "unknown-execution"
}

// Parse a node type from its tag, e.g. "HTTP_REQUEST".
func Parse(s string) (Type, error) {
	for t, name := range names {
		if name == s {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("unknown node type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Label is the human readable name of the node type, used in error messages.
func (t Type) Label() string {
	switch t {
	case Initial:
		return "Initial"
	case ManualTrigger:
		return "Manual Trigger"
	case GoogleFormTrigger:
		return "Google Form Trigger"
	case StripeTrigger:
		return "Stripe Trigger"
	case EmailTrigger:
		return "Email Trigger"
	case HTTPRequest:
		return "HTTP Request"
	case OpenAI:
		return "OpenAI"
	case Anthropic:
		return "Anthropic"
	case Gemini:
		return "Gemini"
	case Discord:
		return "Discord"
	case Slack:
		return "Slack"
	case HTMLExtractor:
		return "HTML Extractor"
	case Limit:
		return "Limit"
	case SplitOut:
		return "Split Out"
	}
	return "Unknown"
}
