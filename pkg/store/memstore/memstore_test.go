package memstore

import (
	"testing"

	"github.com/common-fate/rheoma/pkg/store"
	"github.com/common-fate/rheoma/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
