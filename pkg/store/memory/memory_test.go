package memory

import (
	"testing"

	"github.com/speedrun-hq/linkrunner/pkg/store"
	"github.com/speedrun-hq/linkrunner/pkg/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
