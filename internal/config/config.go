// Package config loads the service configuration from YAML with environment
// overrides. Identifiers follow the deployment surface: store_*, kv_*,
// cache_*, warmup_* plus options consumed by collaborators (auth, ingress)
// that the core parses but does not act on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	KV       KVConfig       `yaml:"kv"`
	Cache    CacheConfig    `yaml:"cache"`
	Warmup   WarmupConfig   `yaml:"warmup"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`

	// Auth and Ingress are consumed by collaborators, not the core.
	Auth    AuthConfig    `yaml:"auth"`
	Ingress IngressConfig `yaml:"ingress"`
}

// StoreConfig configures the relational store connection pool.
type StoreConfig struct {
	URL          string        `yaml:"store_url"`
	PoolSize     int           `yaml:"store_pool_size"`
	PoolOverflow int           `yaml:"store_pool_overflow"`
	PoolTimeout  time.Duration `yaml:"store_pool_timeout_s"`
	PoolRecycle  time.Duration `yaml:"store_pool_recycle_s"`
	QueryTimeout time.Duration `yaml:"query_timeout_s"`
}

// KVConfig configures the shared L2 key-value store.
type KVConfig struct {
	URL      string `yaml:"kv_url"`
	Password string `yaml:"kv_password"`
	DB       int    `yaml:"kv_db"`
	PoolSize int    `yaml:"kv_pool_size"`
}

// CacheConfig configures the in-process L1 cache.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"cache_default_ttl_s"`
	L1MaxSize  int           `yaml:"cache_l1_max_size"`
}

// WarmupConfig configures the warm-up scheduler.
type WarmupConfig struct {
	HotLimit          int           `yaml:"warmup_hot_limit"`
	Interval          time.Duration `yaml:"warmup_interval_s"`
	IndustryMinReseed time.Duration `yaml:"warmup_industry_min_reseed_h"`
}

// ServerConfig configures the listener hosting /ws, /healthz and /metrics.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// UpstreamConfig holds the base URLs of the market-data vendors.
type UpstreamConfig struct {
	AShareBaseURL  string `yaml:"ashare_base_url"`
	USBaseURL      string `yaml:"us_base_url"`
	USListBaseURL  string `yaml:"us_list_base_url"`
	CryptoBaseURL  string `yaml:"crypto_base_url"`
	FuturesBaseURL string `yaml:"futures_base_url"`
}

// AuthConfig is parsed for the auth collaborator; the core ignores it.
type AuthConfig struct {
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl_m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl_d"`
}

// IngressConfig is parsed for the ingress collaborator; the core ignores it.
type IngressConfig struct {
	RateLimitRPM   int `yaml:"rate_limit_rpm"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			PoolSize:     10,
			PoolOverflow: 5,
			PoolTimeout:  30 * time.Second,
			PoolRecycle:  30 * time.Minute,
			QueryTimeout: 10 * time.Second,
		},
		KV: KVConfig{
			URL:      "localhost:6379",
			PoolSize: 10,
		},
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Minute,
			L1MaxSize:  1000,
		},
		Warmup: WarmupConfig{
			HotLimit:          50,
			Interval:          time.Hour,
			IndustryMinReseed: 12 * time.Hour,
		},
		Server: ServerConfig{Addr: ":8080"},
		Upstream: UpstreamConfig{
			AShareBaseURL:  "http://localhost:9090",
			USBaseURL:      "https://data.alpaca.markets",
			USListBaseURL:  "https://api.nasdaq.com",
			CryptoBaseURL:  "https://api.kraken.com",
			FuturesBaseURL: "http://localhost:9091",
		},
		Auth: AuthConfig{
			AccessTokenTTL:  30 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Ingress: IngressConfig{
			RateLimitRPM:   600,
			RateLimitBurst: 100,
		},
	}
}

// Load reads path (optional), layers env overrides on top of defaults and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		var file fileConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		file.apply(&cfg)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	if c.Cache.L1MaxSize <= 0 {
		return fmt.Errorf("cache_l1_max_size must be positive, got %d", c.Cache.L1MaxSize)
	}
	if c.Warmup.HotLimit < 0 {
		return fmt.Errorf("warmup_hot_limit must be non-negative, got %d", c.Warmup.HotLimit)
	}
	if c.Store.PoolSize <= 0 {
		return fmt.Errorf("store_pool_size must be positive, got %d", c.Store.PoolSize)
	}
	return nil
}

// fileConfig mirrors the YAML layout with the scalar-seconds identifiers from
// the deployment surface; apply converts into the typed Config.
type fileConfig struct {
	StoreURL          *string `yaml:"store_url"`
	StorePoolSize     *int    `yaml:"store_pool_size"`
	StorePoolOverflow *int    `yaml:"store_pool_overflow"`
	StorePoolTimeoutS *int    `yaml:"store_pool_timeout_s"`
	StorePoolRecycleS *int    `yaml:"store_pool_recycle_s"`

	KVURL      *string `yaml:"kv_url"`
	KVPassword *string `yaml:"kv_password"`
	KVDB       *int    `yaml:"kv_db"`

	CacheDefaultTTLS *int `yaml:"cache_default_ttl_s"`
	CacheL1MaxSize   *int `yaml:"cache_l1_max_size"`

	WarmupHotLimit           *int `yaml:"warmup_hot_limit"`
	WarmupIntervalS          *int `yaml:"warmup_interval_s"`
	WarmupIndustryMinReseedH *int `yaml:"warmup_industry_min_reseed_h"`

	ServerAddr *string `yaml:"server_addr"`

	AShareBaseURL  *string `yaml:"ashare_base_url"`
	USBaseURL      *string `yaml:"us_base_url"`
	USListBaseURL  *string `yaml:"us_list_base_url"`
	CryptoBaseURL  *string `yaml:"crypto_base_url"`
	FuturesBaseURL *string `yaml:"futures_base_url"`

	AccessTokenTTLM  *int `yaml:"access_token_ttl_m"`
	RefreshTokenTTLD *int `yaml:"refresh_token_ttl_d"`
	RateLimitRPM     *int `yaml:"rate_limit_rpm"`
	RateLimitBurst   *int `yaml:"rate_limit_burst"`
}

func (f fileConfig) apply(c *Config) {
	setStr(&c.Store.URL, f.StoreURL)
	setInt(&c.Store.PoolSize, f.StorePoolSize)
	setInt(&c.Store.PoolOverflow, f.StorePoolOverflow)
	setDur(&c.Store.PoolTimeout, f.StorePoolTimeoutS, time.Second)
	setDur(&c.Store.PoolRecycle, f.StorePoolRecycleS, time.Second)

	setStr(&c.KV.URL, f.KVURL)
	setStr(&c.KV.Password, f.KVPassword)
	setInt(&c.KV.DB, f.KVDB)

	setDur(&c.Cache.DefaultTTL, f.CacheDefaultTTLS, time.Second)
	setInt(&c.Cache.L1MaxSize, f.CacheL1MaxSize)

	setInt(&c.Warmup.HotLimit, f.WarmupHotLimit)
	setDur(&c.Warmup.Interval, f.WarmupIntervalS, time.Second)
	setDur(&c.Warmup.IndustryMinReseed, f.WarmupIndustryMinReseedH, time.Hour)

	setStr(&c.Server.Addr, f.ServerAddr)

	setStr(&c.Upstream.AShareBaseURL, f.AShareBaseURL)
	setStr(&c.Upstream.USBaseURL, f.USBaseURL)
	setStr(&c.Upstream.USListBaseURL, f.USListBaseURL)
	setStr(&c.Upstream.CryptoBaseURL, f.CryptoBaseURL)
	setStr(&c.Upstream.FuturesBaseURL, f.FuturesBaseURL)

	setDur(&c.Auth.AccessTokenTTL, f.AccessTokenTTLM, time.Minute)
	setDur(&c.Auth.RefreshTokenTTL, f.RefreshTokenTTLD, 24*time.Hour)
	setInt(&c.Ingress.RateLimitRPM, f.RateLimitRPM)
	setInt(&c.Ingress.RateLimitBurst, f.RateLimitBurst)
}

func applyEnv(c *Config) {
	if v := os.Getenv("STORE_URL"); v != "" {
		c.Store.URL = v
	}
	if v := os.Getenv("KV_URL"); v != "" {
		c.KV.URL = v
	}
	if v := os.Getenv("KV_PASSWORD"); v != "" {
		c.KV.Password = v
	}
	if v := os.Getenv("KV_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.KV.DB = n
		}
	}
	if v := os.Getenv("CACHE_L1_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.L1MaxSize = n
		}
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ASHARE_BASE_URL"); v != "" {
		c.Upstream.AShareBaseURL = v
	}
	if v := os.Getenv("US_BASE_URL"); v != "" {
		c.Upstream.USBaseURL = v
	}
	if v := os.Getenv("CRYPTO_BASE_URL"); v != "" {
		c.Upstream.CryptoBaseURL = v
	}
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDur(dst *time.Duration, src *int, unit time.Duration) {
	if src != nil {
		*dst = time.Duration(*src) * unit
	}
}
