package standard

import (
	"testing"

	"github.com/common-fate/rheoma/pkg/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"
)

func TestNew_RegistersEveryNodeType(t *testing.T) {
	client := resty.New()
	defer client.Close()

	d := New(client)
	require.NoError(t, d.Validate())
	assert.Equal(t, node.Types(), d.Types())

	for _, typ := range node.Types() {
		_, err := d.Lookup(typ)
		assert.NoError(t, err, typ.String())
	}
}
