package assetcache_test

import (
	"testing"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/assetcache/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) assetcache.Store {
		return assetcache.NewMemoryStore()
	})
}
