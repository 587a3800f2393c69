// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/extract"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
)

// Config captures all crawl configuration knobs loaded via Viper.
type Config struct {
	App                  string                 `mapstructure:"app"`
	Cred                 CredConfig             `mapstructure:"cred"`
	Index                IndexConfig            `mapstructure:"index"`
	Sitemaps             []crawler.SitemapSpec  `mapstructure:"sitemaps"`
	Selectors            []crawler.SelectorSpec `mapstructure:"selectors"`
	Formatters           map[string][]string    `mapstructure:"formatters"`
	Types                map[string]string      `mapstructure:"types"`
	Defaults             map[string]any         `mapstructure:"defaults"`
	Blacklist            []string               `mapstructure:"blacklist"`
	HTTP                 HTTPConfig             `mapstructure:"http"`
	MaxRecordSize        int                    `mapstructure:"max_record_size"`
	OverflowField        string                 `mapstructure:"overflow_field"`
	DelayBetweenRequests time.Duration          `mapstructure:"delay_between_requests"`
	Concurrency          int                    `mapstructure:"concurrency"`
	OldEntries           time.Duration          `mapstructure:"oldentries"`
	Logging              logging.Config         `mapstructure:"logging"`
	Server               ServerConfig           `mapstructure:"server"`
	Ledger               LedgerConfig           `mapstructure:"ledger"`
	Archive              ArchiveConfig          `mapstructure:"archive"`
	Schedule             string                 `mapstructure:"schedule"`
}

// CredConfig holds the search index connection credentials.
type CredConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	APIKey    string   `mapstructure:"api_key"`
}

// Index providers.
const (
	IndexProviderElasticsearch = "elasticsearch"
	IndexProviderMemory        = "memory"
)

// IndexConfig names the target index and its settings.
type IndexConfig struct {
	Provider string         `mapstructure:"provider"`
	Name     string         `mapstructure:"name"`
	Settings map[string]any `mapstructure:"settings"`
}

// HTTPConfig configures page and sitemap requests.
type HTTPConfig struct {
	Auth            *crawler.BasicAuth `mapstructure:"auth"`
	Headers         map[string]string  `mapstructure:"headers"`
	UserAgent       string             `mapstructure:"user_agent"`
	Timeout         time.Duration      `mapstructure:"timeout"`
	RespectRobots   bool               `mapstructure:"respect_robots"`
	DNSCache        bool               `mapstructure:"dns_cache"`
	RetryHTTPErrors bool               `mapstructure:"retry_http_errors"`
	// MaxBodySize caps response bodies in bytes. Zero reads them to the end.
	MaxBodySize     int                `mapstructure:"max_body_size"`
}

// ServerConfig controls the optional status server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LedgerConfig points at the Postgres run ledger. An empty DSN disables it.
type LedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Archive providers.
const (
	ArchiveProviderLocal = "local"
	ArchiveProviderGCS   = "gcs"
)

// ArchiveConfig controls raw page archival. An empty Provider disables it.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment and validates it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, newError(CategoryInvalid, fmt.Errorf("read config: %w", err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, newError(CategoryInvalid, fmt.Errorf("unmarshal config: %w", err))
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app", "sitemap-crawler")
	v.SetDefault("index.provider", IndexProviderElasticsearch)
	v.SetDefault("http.user_agent", "sitemap-crawler/1.0")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.dns_cache", true)
	v.SetDefault("http.max_body_size", 0)
	v.SetDefault("http.retry_http_errors", false)
	v.SetDefault("max_record_size", 0)
	v.SetDefault("overflow_field", "text")
	v.SetDefault("delay_between_requests", "0s")
	v.SetDefault("concurrency", 1)
	v.SetDefault("oldentries", "0s")
	v.SetDefault("logging.development", false)
	v.SetDefault("archive.prefix", "pages")
}

func (c *Config) normalize() {
	for i := range c.Sitemaps {
		if c.Sitemaps[i].Action == "" {
			c.Sitemaps[i].Action = crawler.ActionFetch
		}
	}
	if c.OverflowField == "" {
		c.OverflowField = "text"
	}
}

// Validate enforces required values. Each failure class maps to its own exit code.
func (c Config) Validate() error {
	if c.Index.Provider == IndexProviderElasticsearch && len(c.Cred.Addresses) == 0 {
		return newError(CategoryCredentials, errors.New("cred.addresses must be set for the elasticsearch index"))
	}
	switch c.Index.Provider {
	case IndexProviderElasticsearch, IndexProviderMemory:
	default:
		return newError(CategoryIndex, fmt.Errorf("unknown index.provider %q", c.Index.Provider))
	}
	if strings.TrimSpace(c.Index.Name) == "" {
		return newError(CategoryIndex, errors.New("index.name is required"))
	}
	if len(c.Sitemaps) == 0 {
		return newError(CategorySitemaps, errors.New("at least one sitemap is required"))
	}
	for i, sm := range c.Sitemaps {
		if strings.TrimSpace(sm.URL) == "" {
			return newError(CategorySitemaps, fmt.Errorf("sitemaps[%d].url is required", i))
		}
		if _, ok := crawler.ParseAction(string(sm.Action)); !ok {
			return newError(CategorySitemaps, fmt.Errorf("sitemaps[%d].action %q is invalid", i, sm.Action))
		}
	}
	if len(c.Selectors) == 0 {
		return newError(CategorySelectors, errors.New("at least one selector is required"))
	}
	if err := c.validateSelectors(); err != nil {
		return newError(CategoryInvalid, err)
	}
	if c.MaxRecordSize < 0 {
		return newError(CategoryInvalid, errors.New("max_record_size must be >= 0"))
	}
	if c.Concurrency <= 0 {
		return newError(CategoryInvalid, errors.New("concurrency must be > 0"))
	}
	if c.HTTP.Timeout <= 0 {
		return newError(CategoryInvalid, errors.New("http.timeout must be > 0"))
	}
	if c.DelayBetweenRequests < 0 || c.OldEntries < 0 {
		return newError(CategoryInvalid, errors.New("durations must be >= 0"))
	}
	switch c.Archive.Provider {
	case "":
	case ArchiveProviderLocal:
		if c.Archive.BaseDir == "" {
			return newError(CategoryInvalid, errors.New("archive.base_dir is required for the local archive"))
		}
	case ArchiveProviderGCS:
		if c.Archive.Bucket == "" {
			return newError(CategoryInvalid, errors.New("archive.bucket is required for the gcs archive"))
		}
	default:
		return newError(CategoryInvalid, fmt.Errorf("unknown archive.provider %q", c.Archive.Provider))
	}
	return nil
}

func (c Config) validateSelectors() error {
	seen := make(map[string]struct{}, len(c.Selectors))
	for i, sel := range c.Selectors {
		if sel.Key == "" || sel.Selector == "" {
			return fmt.Errorf("selectors[%d] requires key and selector", i)
		}
		if crawler.IsReserved(sel.Key) {
			return fmt.Errorf("selector %s is reserved", sel.Key)
		}
		if _, dup := seen[sel.Key]; dup {
			return fmt.Errorf("selector %s is already defined", sel.Key)
		}
		seen[sel.Key] = struct{}{}
	}
	for key, patterns := range c.Formatters {
		for _, p := range patterns {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("formatter for %s: %w", key, err)
			}
		}
	}
	for key, typ := range c.Types {
		if _, err := extract.ParseCoercion(typ); err != nil {
			return fmt.Errorf("type for %s: %w", key, err)
		}
	}
	return nil
}

// Rules resolves the per-selector formatter, type and default maps into
// extraction rules. Map keys are matched case-insensitively because Viper
// lowercases map keys on load.
func (c Config) Rules() ([]extract.Rule, error) {
	rules := make([]extract.Rule, 0, len(c.Selectors))
	for _, sel := range c.Selectors {
		rule := extract.Rule{Selector: sel}
		if patterns, ok := lookup(c.Formatters, sel.Key); ok {
			rule.Formatters = patterns
		}
		if typ, ok := lookup(c.Types, sel.Key); ok {
			coercion, err := extract.ParseCoercion(typ)
			if err != nil {
				return nil, newError(CategoryInvalid, fmt.Errorf("type for %s: %w", sel.Key, err))
			}
			rule.Type = coercion
		}
		if def, ok := lookup(c.Defaults, sel.Key); ok {
			rule.Default = def
			rule.HasDefault = true
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func lookup[T any](m map[string]T, key string) (T, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	v, ok := m[strings.ToLower(key)]
	return v, ok
}

// HeaderMap returns the configured custom headers in net/http form.
func (h HTTPConfig) HeaderMap() map[string][]string {
	if len(h.Headers) == 0 {
		return nil
	}
	out := make(map[string][]string, len(h.Headers))
	for k, v := range h.Headers {
		out[k] = []string{v}
	}
	return out
}
