package dialect

import (
	"context"
	"testing"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noop = executor.Func(func(ctx context.Context, p executor.Params) (map[string]any, error) {
	return p.Context, nil
})

func TestLookup(t *testing.T) {
	d := New().Register(noop, node.ManualTrigger, node.Limit)

	_, err := d.Lookup(node.Limit)
	require.NoError(t, err)

	_, err = d.Lookup(node.Slack)
	var nf *noderr.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.EqualError(t, err, "executor for node type SLACK not found")

	assert.True(t, d.Supports(node.ManualTrigger))
	assert.False(t, d.Supports(node.Slack))
	assert.Equal(t, []node.Type{node.ManualTrigger, node.Limit}, d.Types())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Dialect
		wantErr string
	}{
		{name: "ok", d: *New().Register(noop, node.ManualTrigger)},
		{name: "empty", d: *New(), wantErr: "dialect error: no node types are registered"},
		{name: "invalid type", d: *New().Register(noop, node.Type(999)), wantErr: "dialect error: UNKNOWN is not a valid node type"},
		{name: "nil executor", d: *New().Register(nil, node.Slack), wantErr: "dialect error: node type SLACK has no executor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := Context(context.Background(), *New().Register(noop, node.Limit))
	d, ok := FromContext(ctx)
	require.True(t, ok)
	assert.True(t, d.Supports(node.Limit))
}
