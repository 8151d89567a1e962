package rheoma

import (
	"context"

	"github.com/common-fate/rheoma/pkg/dialect"
)

// Use a specified dialect when unmarshalling workflow definitions.
func Use(parent context.Context, d dialect.Dialect) context.Context {
	return dialect.Context(parent, d)
}
