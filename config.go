// File: config.go

package tokenizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DriverKind names a registered driver factory.
type DriverKind string

const (
	KindHash DriverKind = "hash" // HMAC keyed-hash tokens validated by lookup only
	KindJWT  DriverKind = "jwt"  // Signed JSON Web Tokens
)

const (
	DefaultDriverName          = "hash"
	DefaultTTL                 = 7200
	DefaultRefreshNbf          = 7200
	DefaultRefreshTTL          = "P15D"
	DefaultFallbackSeconds     = 7200
	DefaultKeyPath             = "storage"
	DefaultPrivateKeyFile      = "tokenizer-private.key"
	DefaultPublicKeyFile       = "tokenizer-public.key"
	DefaultCookieName          = "tokenizer"
	DefaultInputKey            = "access_token"
	DefaultCachePrefix         = "tokenizer:"
	DefaultTable               = "auth_tokens"
	DefaultPlatform            = "default"
	DefaultMaxGenerateAttempts = 8
	DefaultEventBufferSize     = 256
)

// Config is the complete configuration of a Tokenizer.
//
// It is usually loaded with LoadConfig or built in code with DefaultConfig,
// then passed to New. A Config is not modified after New returns.
type Config struct {
	Default             Defaults                `mapstructure:"default"`
	Drivers             map[string]DriverConfig `mapstructure:"drivers"`
	KeyPath             string                  `mapstructure:"key_path"`
	Guards              map[string]GuardConfig  `mapstructure:"guards"`
	Concurrency         ConcurrencyConfig       `mapstructure:"concurrency"`
	Cache               CacheConfig             `mapstructure:"cache"`
	Cookie              CookieConfig            `mapstructure:"cookie"`
	Events              EventsConfig            `mapstructure:"events"`
	Store               StoreConfig             `mapstructure:"store"`
	MaxGenerateAttempts int                     `mapstructure:"max_generate_attempts"`
}

// Defaults holds the default driver name and token lifetimes.
//
// TTL, RefreshNbf and RefreshTTL accept either a number of seconds or an
// ISO-8601 duration string ("PT2H", "P15D"). Values that cannot be parsed
// fall back to Fallback seconds.
type Defaults struct {
	Driver     string `mapstructure:"driver"`
	TTL        any    `mapstructure:"ttl"`
	RefreshNbf any    `mapstructure:"refresh_nbf"`
	RefreshTTL any    `mapstructure:"refresh_ttl"`
	Fallback   int    `mapstructure:"fallback"`
}

// DriverConfig configures one named signing driver.
type DriverConfig struct {
	Kind       DriverKind `mapstructure:"kind"`
	Algo       string     `mapstructure:"algo"`
	SecretKey  string     `mapstructure:"secret_key"`
	PrivateKey string     `mapstructure:"private_key"`
	PublicKey  string     `mapstructure:"public_key"`
}

// GuardConfig configures one named guard.
type GuardConfig struct {
	Driver   string `mapstructure:"driver"`
	Provider string `mapstructure:"provider"`
	InputKey string `mapstructure:"input_key"`
}

// ConcurrencyConfig controls eviction of sibling sessions on token creation.
type ConcurrencyConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	AllowMultiPlatforms bool     `mapstructure:"allow_multi_platforms"`
	MultiPlatformTokens []string `mapstructure:"multi_platform_tokens"`
}

// RedisConfig holds connection options for the redis cache backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig selects the blacklist/whitelist backend.
type CacheConfig struct {
	Driver           string      `mapstructure:"driver"`
	Prefix           string      `mapstructure:"prefix"`
	BlacklistEnabled bool        `mapstructure:"blacklist_enabled"`
	WhitelistEnabled bool        `mapstructure:"whitelist_enabled"`
	Redis            RedisConfig `mapstructure:"redis"`
}

// CookieConfig holds the attributes of the token pair cookie.
type CookieConfig struct {
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

// EventsConfig selects synchronous or queued listener execution.
type EventsConfig struct {
	Async      bool `mapstructure:"async"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// StoreConfig describes the durable token store used by the CLI.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	Database string `mapstructure:"database"`
	// NodeID is the snowflake node of this process, 0 keeps DefaultNodeID.
	NodeID   int64  `mapstructure:"node_id"`
}

// DefaultConfig returns a ready-to-use configuration with a single HMAC
// driver signed by secret.
func DefaultConfig(secret string) Config {
	cfg := Config{
		Default: Defaults{
			Driver:     DefaultDriverName,
			TTL:        DefaultTTL,
			RefreshNbf: DefaultRefreshNbf,
			RefreshTTL: DefaultRefreshTTL,
		},
		Drivers: map[string]DriverConfig{
			"hash": {Kind: KindHash, Algo: "sha256", SecretKey: secret},
			"jwt":  {Kind: KindJWT, Algo: "HS256", SecretKey: secret},
		},
	}
	_ = cfg.Sanitize()
	return cfg
}

// Sanitize fills unset fields with defaults and rejects configurations that
// can never work.
func (c *Config) Sanitize() error {
	if c.Default.Driver == "" {
		c.Default.Driver = DefaultDriverName
	}
	if c.Default.TTL == nil {
		c.Default.TTL = DefaultTTL
	}
	if c.Default.RefreshNbf == nil {
		c.Default.RefreshNbf = DefaultRefreshNbf
	}
	if c.Default.RefreshTTL == nil {
		c.Default.RefreshTTL = DefaultRefreshTTL
	}
	if c.Default.Fallback <= 0 {
		c.Default.Fallback = DefaultFallbackSeconds
	}
	if c.KeyPath == "" {
		c.KeyPath = DefaultKeyPath
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = DefaultCookieName
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = DefaultCachePrefix
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = DefaultEventBufferSize
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Table == "" {
		c.Store.Table = DefaultTable
	}
	if c.MaxGenerateAttempts <= 0 {
		c.MaxGenerateAttempts = DefaultMaxGenerateAttempts
	}

	for name, driver := range c.Drivers {
		if driver.Kind == "" {
			// a driver named after a built-in kind defaults to that kind
			driver.Kind = DriverKind(name)
		}
		if driver.Kind == KindJWT {
			if driver.PrivateKey == "" {
				driver.PrivateKey = DefaultPrivateKeyFile
			}
			if driver.PublicKey == "" {
				driver.PublicKey = DefaultPublicKeyFile
			}
		}
		c.Drivers[name] = driver
	}
	for name, guard := range c.Guards {
		if guard.InputKey == "" {
			guard.InputKey = DefaultInputKey
			c.Guards[name] = guard
		}
	}

	if len(c.Drivers) == 0 {
		return fmt.Errorf("at least one driver must be configured")
	}
	return nil
}

// Guard returns the configuration of the named guard, falling back to the
// default driver and input key.
func (c *Config) Guard(name string) GuardConfig {
	guard, ok := c.Guards[name]
	if !ok {
		guard = GuardConfig{}
	}
	if guard.Driver == "" {
		guard.Driver = c.Default.Driver
	}
	if guard.InputKey == "" {
		guard.InputKey = DefaultInputKey
	}
	return guard
}

// Lifetimes resolves the three configured durations.
func (c *Config) Lifetimes() Lifetimes {
	fallback := time.Duration(c.Default.Fallback) * time.Second
	if fallback <= 0 {
		fallback = DefaultFallbackSeconds * time.Second
	}
	lt := Lifetimes{
		AccessTTL:  ParseLifetime(c.Default.TTL, fallback),
		RefreshNbf: ParseLifetime(c.Default.RefreshNbf, fallback),
		RefreshTTL: ParseLifetime(c.Default.RefreshTTL, fallback),
	}
	// an access token must outlive its issuance instant
	if lt.AccessTTL <= 0 {
		lt.AccessTTL = fallback
	}
	return lt
}

// Lifetimes are the resolved token durations relative to issuance.
type Lifetimes struct {
	AccessTTL  time.Duration
	RefreshNbf time.Duration
	RefreshTTL time.Duration
}

// LoadConfig reads a configuration file (YAML, JSON or TOML by extension).
// Environment variables prefixed with TOKENIZER_ override file values, with
// nested keys joined by underscores (TOKENIZER_DEFAULT_TTL).
func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.SetEnvPrefix("tokenizer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Sanitize(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}
