package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1000, cfg.Cache.L1MaxSize)
	assert.Equal(t, 12*time.Hour, cfg.Warmup.IndustryMinReseed)
	assert.Equal(t, 10*time.Second, cfg.Store.QueryTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotecore.yaml")
	body := `
store_url: postgres://app@db:5432/market
store_pool_size: 20
store_pool_timeout_s: 5
kv_url: redis:6379
kv_db: 3
cache_l1_max_size: 500
cache_default_ttl_s: 120
warmup_hot_limit: 25
warmup_industry_min_reseed_h: 6
rate_limit_rpm: 1200
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@db:5432/market", cfg.Store.URL)
	assert.Equal(t, 20, cfg.Store.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.Store.PoolTimeout)
	assert.Equal(t, "redis:6379", cfg.KV.URL)
	assert.Equal(t, 3, cfg.KV.DB)
	assert.Equal(t, 500, cfg.Cache.L1MaxSize)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 25, cfg.Warmup.HotLimit)
	assert.Equal(t, 6*time.Hour, cfg.Warmup.IndustryMinReseed)
	// Collaborator-owned options parse but stay inert.
	assert.Equal(t, 1200, cfg.Ingress.RateLimitRPM)
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kv_url: from-file:6379\n"), 0o644))

	t.Setenv("KV_URL", "from-env:6379")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:6379", cfg.KV.URL)
}

func TestValidateRejectsBadSizes(t *testing.T) {
	cfg := Default()
	cfg.Cache.L1MaxSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.PoolSize = -1
	assert.Error(t, cfg.Validate())
}
