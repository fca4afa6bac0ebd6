package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/assetcache/storetest"
)

// The suite needs a disposable database; it is skipped when none is configured.
func TestStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) assetcache.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE asset_caches CASCADE`)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
