package store

import (
	"context"
	"testing"

	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/core"
	"github.com/stretchr/testify/require"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLWithExistingQuery", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?foo=bar",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123&foo=bar", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./novelcondense.db"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./novelcondense.db", dsn)
	})

	t.Run("PathMissing", func(t *testing.T) {
		cfg := config.StoreConfig{}

		_, err := buildLibsqlDSN(cfg)
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		cfg := config.StoreConfig{Path: ":memory:"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("text", "novel-condenser", core.DefaultRatio)
	require.Len(t, a, 64)
	require.Equal(t, a, CacheKey("text", "novel-condenser", core.DefaultRatio))
	require.NotEqual(t, a, CacheKey("text!", "novel-condenser", core.DefaultRatio))
	require.NotEqual(t, a, CacheKey("text", "other", core.DefaultRatio))
	require.NotEqual(t, a, CacheKey("text", "novel-condenser", core.RatioRange{Min: 20, Max: 40}))
}

func TestNilStoreErrors(t *testing.T) {
	var st *Store
	_, err := st.GetCondensed(context.Background(), "h")
	require.Error(t, err)
	require.Error(t, st.SaveRun(context.Background(), Run{ID: "x"}))
	require.NoError(t, st.Close())
}
