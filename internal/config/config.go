// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/weomedia/compwatch/internal/monitor"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig                `mapstructure:"server"`
	Logging     LoggingConfig               `mapstructure:"logging"`
	Schedules   ScheduleConfig              `mapstructure:"schedules"`
	Collector   CollectorConfig             `mapstructure:"collector"`
	Alerts      AlertConfig                 `mapstructure:"alerts"`
	Retention   RetentionConfig             `mapstructure:"retention"`
	Store       StoreConfig                 `mapstructure:"store"`
	Blobs       BlobConfig                  `mapstructure:"blobs"`
	PubSub      PubSubConfig                `mapstructure:"pubsub"`
	Search      SearchConfig                `mapstructure:"search"`
	SMTP        SMTPConfig                  `mapstructure:"smtp"`
	Brand       BrandConfig                 `mapstructure:"brand"`
	Keywords    []string                    `mapstructure:"keywords"`
	Competitors []monitor.CompetitorProfile `mapstructure:"competitors"`
}

// ServerConfig controls the status API listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScheduleConfig holds the four cron cadences.
type ScheduleConfig struct {
	CompetitorScan  string `mapstructure:"competitor_scan"`
	RankingScan     string `mapstructure:"ranking_scan"`
	PerformanceScan string `mapstructure:"performance_scan"`
	WeeklyReport    string `mapstructure:"weekly_report"`
}

// CollectorConfig governs fetch fan-out, retries and throttling.
type CollectorConfig struct {
	Concurrency              int    `mapstructure:"concurrency"`
	UserAgent                string `mapstructure:"user_agent"`
	RequestDelayMs           int    `mapstructure:"request_delay_ms"`
	MaxRetries               int    `mapstructure:"max_retries"`
	PageTimeoutSeconds       int    `mapstructure:"page_timeout_seconds"`
	CompetitorTimeoutSeconds int    `mapstructure:"competitor_timeout_seconds"`
	CycleBudgetSeconds       int    `mapstructure:"cycle_budget_seconds"`
	Screenshots              bool   `mapstructure:"screenshots"`
	ScreenshotParallel       int    `mapstructure:"screenshot_parallel"`
}

// AlertConfig controls dispatch policy.
type AlertConfig struct {
	MaxPerHour        int      `mapstructure:"max_per_hour"`
	PriorityThreshold string   `mapstructure:"priority_threshold"`
	Recipients        []string `mapstructure:"recipients"`
	DedupWindowDays   int      `mapstructure:"dedup_window_days"`
}

// RetentionConfig sets pruning windows in days.
type RetentionConfig struct {
	ScreenshotsDays int `mapstructure:"screenshots_days"`
	RankingsDays    int `mapstructure:"rankings_days"`
	LogsDays        int `mapstructure:"logs_days"`
}

// StoreConfig selects and configures the key-value store backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// BlobConfig selects and configures the screenshot/report blob store.
type BlobConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for the optional change-event feed.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SearchConfig points at the external keyword search capability.
type SearchConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxResults     int    `mapstructure:"max_results"`
}

// SMTPConfig configures the email transport. Credentials are opaque to the
// engine; it only sees the send contract.
type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// BrandConfig identifies the monitored brand for ranking comparisons.
type BrandConfig struct {
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMPWATCH")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("schedules.competitor_scan", "0 */6 * * *")
	v.SetDefault("schedules.ranking_scan", "0 7 * * *")
	v.SetDefault("schedules.performance_scan", "0 5 * * 1")
	v.SetDefault("schedules.weekly_report", "0 8 * * 1")
	v.SetDefault("collector.concurrency", 3)
	v.SetDefault("collector.user_agent", "compwatch-bot/1.0")
	v.SetDefault("collector.request_delay_ms", 5000)
	v.SetDefault("collector.max_retries", 3)
	v.SetDefault("collector.page_timeout_seconds", 30)
	v.SetDefault("collector.competitor_timeout_seconds", 180)
	v.SetDefault("collector.cycle_budget_seconds", 1800)
	v.SetDefault("collector.screenshots", false)
	v.SetDefault("collector.screenshot_parallel", 1)
	v.SetDefault("alerts.max_per_hour", 1)
	v.SetDefault("alerts.priority_threshold", string(monitor.SeverityWarning))
	v.SetDefault("alerts.dedup_window_days", 7)
	v.SetDefault("retention.screenshots_days", 14)
	v.SetDefault("retention.rankings_days", 90)
	v.SetDefault("retention.logs_days", 30)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.table", "compwatch_kv")
	v.SetDefault("blobs.provider", "local")
	v.SetDefault("blobs.base_dir", "data/artifacts")
	v.SetDefault("blobs.prefix", "screenshots")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("search.timeout_seconds", 20)
	v.SetDefault("search.max_results", 20)
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.port", 587)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Collector.Concurrency <= 0 {
		return fmt.Errorf("collector.concurrency must be > 0")
	}
	if c.Collector.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("collector.page_timeout_seconds must be > 0")
	}
	if c.Alerts.MaxPerHour < 0 {
		return fmt.Errorf("alerts.max_per_hour must be >= 0")
	}
	switch monitor.Severity(c.Alerts.PriorityThreshold) {
	case monitor.SeverityInfo, monitor.SeverityWarning, monitor.SeverityCritical:
	default:
		return fmt.Errorf("alerts.priority_threshold must be info, warning or critical")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store provider %q", c.Store.Provider)
	}
	switch c.Blobs.Provider {
	case "local":
	case "gcs":
		if c.Blobs.GCSBucket == "" {
			return fmt.Errorf("blobs.gcs_bucket is required when blobs.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown blob provider %q", c.Blobs.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			return fmt.Errorf("smtp.host and smtp.from are required when smtp is enabled")
		}
		if len(c.Alerts.Recipients) == 0 {
			return fmt.Errorf("alerts.recipients is required when smtp is enabled")
		}
	}
	seen := make(map[string]struct{}, len(c.Competitors))
	for _, comp := range c.Competitors {
		if comp.ID == "" || comp.Domain == "" {
			return fmt.Errorf("every competitor needs an id and a domain")
		}
		if _, dup := seen[comp.ID]; dup {
			return fmt.Errorf("duplicate competitor id %q", comp.ID)
		}
		seen[comp.ID] = struct{}{}
	}
	return nil
}

// RequestDelay converts the inter-request throttle into a duration.
func (c CollectorConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// PageTimeout converts the per-page fetch timeout into a duration.
func (c CollectorConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSeconds) * time.Second
}

// CompetitorTimeout bounds one competitor's full collection.
func (c CollectorConfig) CompetitorTimeout() time.Duration {
	return time.Duration(c.CompetitorTimeoutSeconds) * time.Second
}

// CycleBudget bounds one full scan cycle.
func (c CollectorConfig) CycleBudget() time.Duration {
	return time.Duration(c.CycleBudgetSeconds) * time.Second
}
