// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Admin      AdminConfig             `mapstructure:"admin"`
	DB         DBConfig                `mapstructure:"db"`
	HTTP       HTTPConfig              `mapstructure:"http"`
	Crawl      CrawlConfig             `mapstructure:"crawl"`
	LiveFeed   LiveFeedConfig          `mapstructure:"live_feed"`
	Enrichment EnrichmentConfig        `mapstructure:"enrichment"`
	Delivery   DeliveryConfig          `mapstructure:"delivery"`
	Reconcile  ReconcileConfig         `mapstructure:"reconcile"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Sources    map[string]SourceConfig `mapstructure:"sources"`
}

// AdminConfig controls the read-only admin HTTP server.
type AdminConfig struct {
	Port    int    `mapstructure:"port"`
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the Postgres content store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// HTTPConfig configures fetch client retry and pacing behavior.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	PerHostRPS       float64 `mapstructure:"per_host_rps"`
	PaceMinMs        int     `mapstructure:"pace_min_ms"`
	PaceMaxMs        int     `mapstructure:"pace_max_ms"`
}

// CrawlConfig governs the two polling tiers of the crawl scheduler.
type CrawlConfig struct {
	FastPages         int           `mapstructure:"fast_pages"`
	FastInterval      time.Duration `mapstructure:"fast_interval"`
	BackfillInterval  time.Duration `mapstructure:"backfill_interval"`
	BackfillPaceMinMs int           `mapstructure:"backfill_pace_min_ms"`
	BackfillPaceMaxMs int           `mapstructure:"backfill_pace_max_ms"`
	InsertPaceMinMs   int           `mapstructure:"insert_pace_min_ms"`
	InsertPaceMaxMs   int           `mapstructure:"insert_pace_max_ms"`
}

// LiveFeedConfig controls the live page walker.
type LiveFeedConfig struct {
	URL        string        `mapstructure:"url"`
	Interval   time.Duration `mapstructure:"interval"`
	WindowDays int           `mapstructure:"window_days"`
}

// EnrichmentConfig controls the enrichment worker and model server access.
type EnrichmentConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	MinWords       int           `mapstructure:"min_words"`
	ChunkWords     int           `mapstructure:"chunk_words"`
	SummaryMin     int           `mapstructure:"summary_min_words"`
	SummaryMax     int           `mapstructure:"summary_max_words"`
	SourceLang     string        `mapstructure:"source_lang"`
	TargetLang     string        `mapstructure:"target_lang"`
	Keywords       []string      `mapstructure:"keywords"`
}

// DeliveryConfig controls the article and live-feed delivery workers.
type DeliveryConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	ChatID           string        `mapstructure:"chat_id"`
	ArticleInterval  time.Duration `mapstructure:"article_interval"`
	LiveFeedInterval time.Duration `mapstructure:"live_feed_interval"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	SuppressedTags   [][]string    `mapstructure:"suppressed_tags"`
}

// ReconcileConfig controls the rule reconciliation job.
type ReconcileConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig describes one configured news source. Selector fields are
// consumed by the scrape layer; the scheduler only needs Link and Pages.
type SourceConfig struct {
	Link           string `mapstructure:"link"`
	Pages          int    `mapstructure:"pages"`
	ListTag        string `mapstructure:"list_tag"`
	ListClass      string `mapstructure:"list_class"`
	DateStrategy   string `mapstructure:"date_strategy"`
	BodyByID       string `mapstructure:"body_by_id"`
	BodyByClass    string `mapstructure:"body_by_class"`
	FirstBlockOnly bool   `mapstructure:"first_block_only"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORBITFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.per_host_rps", 1)
	v.SetDefault("http.pace_min_ms", 400)
	v.SetDefault("http.pace_max_ms", 1600)
	v.SetDefault("crawl.fast_pages", 3)
	v.SetDefault("crawl.fast_interval", time.Minute)
	v.SetDefault("crawl.backfill_interval", time.Hour)
	v.SetDefault("crawl.backfill_pace_min_ms", 1500)
	v.SetDefault("crawl.backfill_pace_max_ms", 4000)
	v.SetDefault("crawl.insert_pace_min_ms", 500)
	v.SetDefault("crawl.insert_pace_max_ms", 2000)
	v.SetDefault("live_feed.interval", 24*time.Hour)
	v.SetDefault("live_feed.window_days", 11)
	v.SetDefault("enrichment.interval", 10*time.Second)
	v.SetDefault("enrichment.timeout_seconds", 60)
	v.SetDefault("enrichment.min_words", 60)
	v.SetDefault("enrichment.chunk_words", 350)
	v.SetDefault("enrichment.summary_min_words", 15)
	v.SetDefault("enrichment.summary_max_words", 120)
	v.SetDefault("enrichment.source_lang", "en")
	v.SetDefault("enrichment.target_lang", "fa")
	v.SetDefault("enrichment.keywords", []string{
		"rocket", "launch", "orbit", "satellite", "crew",
		"booster", "spacecraft", "mission",
	})
	v.SetDefault("delivery.article_interval", 10*time.Second)
	v.SetDefault("delivery.live_feed_interval", 24*time.Hour)
	v.SetDefault("delivery.grace_period", 30*time.Second)
	v.SetDefault("reconcile.schedule", "@weekly")
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Admin.Enabled && c.Admin.Port <= 0 {
		return fmt.Errorf("admin.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Crawl.FastPages <= 0 {
		return fmt.Errorf("crawl.fast_pages must be > 0")
	}
	if c.LiveFeed.WindowDays <= 0 {
		return fmt.Errorf("live_feed.window_days must be > 0")
	}
	if c.Enrichment.ChunkWords <= 0 {
		return fmt.Errorf("enrichment.chunk_words must be > 0")
	}
	for name, src := range c.Sources {
		if src.Link == "" {
			return fmt.Errorf("sources.%s.link is required", name)
		}
		if src.Pages <= 0 {
			return fmt.Errorf("sources.%s.pages must be > 0", name)
		}
		if src.BodyByID == "" && src.BodyByClass == "" {
			return fmt.Errorf("sources.%s needs body_by_id or body_by_class", name)
		}
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
