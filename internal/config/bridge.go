package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	commoncfg "github.com/gaspardpetit/skybridge/core/config"
)

// BridgeConfig holds configuration for the skybridge server.
type BridgeConfig struct {
	Port                 int           `yaml:"port"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	ConfigFile           string        `yaml:"-"`
	LogLevel             string        `yaml:"log_level"`
	RedisAddr            string        `yaml:"redis_addr"`
	UpstreamHost         string        `yaml:"upstream_host"`
	KeyPrefix            string        `yaml:"key_prefix"`
	NodeID               int           `yaml:"node_id"`
	MaxCollisionAttempts int           `yaml:"max_collision_attempts"`
	LocalCacheTTL        time.Duration `yaml:"local_cache_ttl"`
	LocalCacheMB         int           `yaml:"local_cache_mb"`
	SessionTTL           time.Duration `yaml:"session_ttl"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	DrainTimeout         time.Duration `yaml:"drain_timeout"`
	AllowedOrigins       []string      `yaml:"allowed_origins"`
}

// SetDefaults initializes c with built-in defaults. NodeID defaults to -1,
// which derives the node from the host name.
func (c *BridgeConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.UpstreamHost == "" {
		c.UpstreamHost = "https://bsky.social"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "{skybridge}"
	}
	if c.NodeID == 0 {
		c.NodeID = -1
	}
	if c.MaxCollisionAttempts == 0 {
		c.MaxCollisionAttempts = 16
	}
	if c.LocalCacheTTL == 0 {
		c.LocalCacheTTL = time.Hour
	}
	if c.LocalCacheMB == 0 {
		c.LocalCacheMB = 64
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 7 * 24 * time.Hour
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.ConfigFile == "" {
		c.ConfigFile = commoncfg.DefaultConfigPath("bridge.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *BridgeConfig) ApplyEnv() {
	if v := commoncfg.GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := commoncfg.GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := commoncfg.GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := commoncfg.GetEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = metricsAddr(v)
	} else if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if v := commoncfg.GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := commoncfg.GetEnv("UPSTREAM_HOST", ""); v != "" {
		c.UpstreamHost = v
	}
	if v := commoncfg.GetEnv("KEY_PREFIX", ""); v != "" {
		c.KeyPrefix = v
	}
	if v := commoncfg.GetEnv("NODE_ID", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NodeID = n
		}
	}
	if v := commoncfg.GetEnv("MAX_COLLISION_ATTEMPTS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxCollisionAttempts = n
		}
	}
	if v := commoncfg.GetEnv("LOCAL_CACHE_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LocalCacheTTL = d
		}
	}
	if v := commoncfg.GetEnv("LOCAL_CACHE_MB", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LocalCacheMB = n
		}
	}
	if v := commoncfg.GetEnv("SESSION_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionTTL = d
		}
	}
	if v := commoncfg.GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if d, err := parseSeconds(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := commoncfg.GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := commoncfg.GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
}

// BindFlags binds command line flags using the current config values as
// defaults so main can call flag.Parse().
func (c *BridgeConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "bridge config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the public API")
	fs.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = metricsAddr(v)
		return nil
	})
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for id mappings and sessions; empty uses process memory")
	fs.StringVar(&c.UpstreamHost, "upstream-host", c.UpstreamHost, "base URL of the upstream PDS")
	fs.StringVar(&c.KeyPrefix, "key-prefix", c.KeyPrefix, "prefix for every store key")
	fs.IntVar(&c.NodeID, "node-id", c.NodeID, "snowflake node id (0-1023); -1 derives it from the host name")
	fs.IntVar(&c.MaxCollisionAttempts, "max-collision-attempts", c.MaxCollisionAttempts, "fingerprint attempts before an account id assignment fails")
	fs.DurationVar(&c.LocalCacheTTL, "local-cache-ttl", c.LocalCacheTTL, "lifetime of entries in the in-process mapping cache")
	fs.IntVar(&c.LocalCacheMB, "local-cache-mb", c.LocalCacheMB, "size of the in-process mapping cache in MB; a negative value disables the cache")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "how long stored sessions stay valid after their last save")
	fs.Func("request-timeout", "upstream request timeout in seconds", func(v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.RequestTimeout = d
		return nil
	})
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight requests on shutdown (0 to exit immediately)")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// CacheTTL is the lifetime handed to the mapping service's local cache. It is
// zero, which turns the cache off, when LocalCacheMB is negative.
func (c *BridgeConfig) CacheTTL() time.Duration {
	if c.LocalCacheMB < 0 {
		return 0
	}
	return c.LocalCacheTTL
}

// LoadFile populates the config from a YAML file.
func (c *BridgeConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Validate reports settings that cannot work.
func (c *BridgeConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.NodeID < -1 || c.NodeID > 1023 {
		return fmt.Errorf("config: node id %d out of range", c.NodeID)
	}
	if c.MaxCollisionAttempts < 1 {
		return fmt.Errorf("config: max collision attempts must be positive")
	}
	if c.UpstreamHost == "" {
		return fmt.Errorf("config: upstream host is required")
	}
	return nil
}

// parseSeconds accepts either a number of seconds or a Go duration.
func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func metricsAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
