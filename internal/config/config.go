// Package config loads lookout settings from defaults, an optional config
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/lookout/internal/fingerprint"
	"github.com/FranksOps/lookout/internal/pipeline"
)

// EnvPrefix prefixes every environment override: serper.api_key is read
// from LOOKOUT_SERPER_API_KEY.
const EnvPrefix = "LOOKOUT"

type SerperConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type SearchConfig struct {
	// Provider is auto, serper or duckduckgo.
	Provider string `mapstructure:"provider"`
	// RequestsPerSecond paces queries on either backend; <= 0 is unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type DuckDuckGoConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type ApifyConfig struct {
	Token        string        `mapstructure:"token"`
	BaseURL      string        `mapstructure:"base_url"`
	ActorID      string        `mapstructure:"actor_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type PhantombusterConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	AgentID        string        `mapstructure:"agent_id"`
	StorageBaseURL string        `mapstructure:"storage_base_url"`
	ResultFiles    []string      `mapstructure:"result_files"`
	IdentityID     string        `mapstructure:"identity_id"`
	SessionCookie  string        `mapstructure:"session_cookie"`
	UserAgent      string        `mapstructure:"user_agent"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Prompt  string `mapstructure:"prompt"`
}

type PipelineConfig struct {
	ImageCap         int      `mapstructure:"image_cap"`
	DirectoryPolicy  string   `mapstructure:"directory_policy"`
	ExtraImageFields []string `mapstructure:"extra_image_fields"`
}

type FetchConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxBytes          int64         `mapstructure:"max_bytes"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Jitter            float64       `mapstructure:"jitter"`
	Fingerprint       string        `mapstructure:"fingerprint"`
	ProxyFile         string        `mapstructure:"proxy_file"`
	UserAgents        []string      `mapstructure:"user_agents"`
}

type CacheConfig struct {
	// Backend is none, sqlite, postgres or json.
	Backend string        `mapstructure:"backend"`
	DSN     string        `mapstructure:"dsn"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full, immutable runtime configuration.
type Config struct {
	Serper        SerperConfig        `mapstructure:"serper"`
	Search        SearchConfig        `mapstructure:"search"`
	DuckDuckGo    DuckDuckGoConfig    `mapstructure:"duckduckgo"`
	Apify         ApifyConfig         `mapstructure:"apify"`
	Phantombuster PhantombusterConfig `mapstructure:"phantombuster"`
	Gemini        GeminiConfig        `mapstructure:"gemini"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
}

// legacyEnv maps keys to the unprefixed variable names used by existing
// deployments.
var legacyEnv = map[string]string{
	"serper.api_key":        "SERPER_API_KEY",
	"apify.token":           "APIFY_API_KEY",
	"phantombuster.api_key": "PHANTOMBUSTER_API_KEY",
	"gemini.api_key":        "GEMINI_API_KEY",
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("serper.api_key", "")
	v.SetDefault("serper.base_url", "https://google.serper.dev/search")
	v.SetDefault("search.provider", "auto")
	v.SetDefault("search.requests_per_second", 1.0)
	v.SetDefault("duckduckgo.base_url", "https://html.duckduckgo.com/html/")

	v.SetDefault("apify.token", "")
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.actor_id", "apify/instagram-scraper")
	v.SetDefault("apify.poll_interval", 5*time.Second)
	v.SetDefault("apify.max_attempts", 120)

	v.SetDefault("phantombuster.api_key", "")
	v.SetDefault("phantombuster.base_url", "https://api.phantombuster.com/api/v2")
	v.SetDefault("phantombuster.agent_id", "")
	v.SetDefault("phantombuster.storage_base_url", "https://phantombuster.s3.amazonaws.com")
	v.SetDefault("phantombuster.result_files", []string{"result.json", "database.json"})
	v.SetDefault("phantombuster.identity_id", "")
	v.SetDefault("phantombuster.session_cookie", "")
	v.SetDefault("phantombuster.user_agent", "")
	v.SetDefault("phantombuster.poll_interval", 5*time.Second)
	v.SetDefault("phantombuster.max_attempts", 60)
	v.SetDefault("phantombuster.settle_delay", 2*time.Second)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.prompt", "Analyze these profile images. Describe the person, the context, and any notable details.")

	v.SetDefault("pipeline.image_cap", pipeline.DefaultImageCap)
	v.SetDefault("pipeline.directory_policy", string(pipeline.DirectoryStop))
	v.SetDefault("pipeline.extra_image_fields", []string{})

	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.max_bytes", int64(10<<20))
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.requests_per_second", 0.0)
	v.SetDefault("fetch.jitter", 0.0)
	v.SetDefault("fetch.fingerprint", string(fingerprint.ProfileGo))
	v.SetDefault("fetch.proxy_file", "")
	v.SetDefault("fetch.user_agents", []string{})

	v.SetDefault("cache.backend", "none")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("metrics.port", 0)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration into a Config. A nil v uses a fresh viper
// instance. path names an optional config file (yaml, json or toml).
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can act on.
func (c Config) Validate() error {
	var errs []error
	switch c.Search.Provider {
	case "auto", "serper", "duckduckgo":
	default:
		errs = append(errs, fmt.Errorf("search.provider: unknown provider %q", c.Search.Provider))
	}
	if _, err := pipeline.ParseDirectoryPolicy(c.Pipeline.DirectoryPolicy); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.directory_policy: %w", err))
	}
	if _, err := fingerprint.ParseProfile(c.Fetch.Fingerprint); err != nil {
		errs = append(errs, fmt.Errorf("fetch.fingerprint: %w", err))
	}
	switch c.Cache.Backend {
	case "none", "":
	case "sqlite", "postgres", "json":
		if c.Cache.DSN == "" {
			errs = append(errs, fmt.Errorf("cache.dsn: required for backend %q", c.Cache.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	if c.Pipeline.ImageCap <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.image_cap: must be positive, got %d", c.Pipeline.ImageCap))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SearchProvider resolves "auto" to serper when a key is set, else duckduckgo.
func (c Config) SearchProvider() string {
	if c.Search.Provider != "auto" {
		return c.Search.Provider
	}
	if c.Serper.APIKey != "" {
		return "serper"
	}
	return "duckduckgo"
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
