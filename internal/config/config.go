package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Scrape  ScrapeConfig  `yaml:"scrape" mapstructure:"scrape"`
	Browser BrowserConfig `yaml:"browser" mapstructure:"browser"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScrapeConfig locates the dashboard and describes how to drive it.
type ScrapeConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	SettleJobID    string `yaml:"settle_job_id" mapstructure:"settle_job_id"`
	SettleSubJobID string `yaml:"settle_sub_job_id" mapstructure:"settle_sub_job_id"`
	TaskID         string `yaml:"task_id" mapstructure:"task_id"`
	ViewTab        string `yaml:"view_tab" mapstructure:"view_tab"`
	SubViewTab     string `yaml:"sub_view_tab" mapstructure:"sub_view_tab"`
	ProfileMarker  string `yaml:"profile_marker" mapstructure:"profile_marker"`
	LayoutPath     string `yaml:"layout_path" mapstructure:"layout_path"`

	Selectors SelectorConfig `yaml:"selectors" mapstructure:"selectors"`

	GridTimeoutMs   int `yaml:"grid_timeout_ms" mapstructure:"grid_timeout_ms"`
	CellTimeoutMs   int `yaml:"cell_timeout_ms" mapstructure:"cell_timeout_ms"`
	EnrichTimeoutMs int `yaml:"enrich_timeout_ms" mapstructure:"enrich_timeout_ms"`
	ModalTimeoutMs  int `yaml:"modal_timeout_ms" mapstructure:"modal_timeout_ms"`
	YieldEvery      int `yaml:"yield_every" mapstructure:"yield_every"`
	YieldMs         int `yaml:"yield_ms" mapstructure:"yield_ms"`
	LockTTLMinutes  int `yaml:"lock_ttl_minutes" mapstructure:"lock_ttl_minutes"`

	Pacing PacingConfig `yaml:"pacing" mapstructure:"pacing"`
}

// PacingConfig spaces UI actions. ActionsPerSec caps every action including
// profile hovers; the spans add a settle delay after actions that change the
// page.
type PacingConfig struct {
	ActionsPerSec int       `yaml:"actions_per_sec" mapstructure:"actions_per_sec"`
	Row           DelaySpan `yaml:"row" mapstructure:"row"`
	Click         DelaySpan `yaml:"click" mapstructure:"click"`
	Page          DelaySpan `yaml:"page" mapstructure:"page"`
}

// DelaySpan is a random delay range in milliseconds.
type DelaySpan struct {
	MinMs int `yaml:"min_ms" mapstructure:"min_ms"`
	MaxMs int `yaml:"max_ms" mapstructure:"max_ms"`
}

// SelectorConfig holds the CSS selectors of the dashboard.
type SelectorConfig struct {
	Row          string `yaml:"row" mapstructure:"row"`
	Cell         string `yaml:"cell" mapstructure:"cell"`
	DrillDown    string `yaml:"drilldown" mapstructure:"drilldown"`
	Modal        string `yaml:"modal" mapstructure:"modal"`
	ModalRow     string `yaml:"modal_row" mapstructure:"modal_row"`
	ModalNext    string `yaml:"modal_next" mapstructure:"modal_next"`
	ModalClose   string `yaml:"modal_close" mapstructure:"modal_close"`
	PageNext     string `yaml:"page_next" mapstructure:"page_next"`
	ProfileHover string `yaml:"profile_hover" mapstructure:"profile_hover"`
}

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	Bin            string `yaml:"bin" mapstructure:"bin"`
	StorageState   string `yaml:"storage_state" mapstructure:"storage_state"`
	ViewportWidth  int    `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height" mapstructure:"viewport_height"`
}

// IngestConfig configures the ingestion sink.
type IngestConfig struct {
	BatchSize     int `yaml:"batch_size" mapstructure:"batch_size"`
	DLQMaxRetries int `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
	ImportWorkers int `yaml:"import_workers" mapstructure:"import_workers"`
}

// RetryConfig configures whole-session crawl retries.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffSecs int `yaml:"backoff_secs" mapstructure:"backoff_secs"`
}

// MetricsConfig configures the Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Ms converts a millisecond setting to a duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Unlike the default
// ./config.yaml, a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BACKSTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "backstage.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scrape.base_url", "https://live-backstage.tiktok.com/portal/revenue/task")
	v.SetDefault("scrape.settle_job_id", "7588868461859340299")
	v.SetDefault("scrape.settle_sub_job_id", "7588868461859373067")
	v.SetDefault("scrape.task_id", "7451459313831955206")
	v.SetDefault("scrape.view_tab", "by_manager")
	v.SetDefault("scrape.sub_view_tab", "EligibleAnchor")
	v.SetDefault("scrape.profile_marker", "anchor_profile")
	v.SetDefault("scrape.selectors.row", `[role="row"][aria-rowindex]`)
	v.SetDefault("scrape.selectors.cell", `[aria-colindex="%d"]`)
	v.SetDefault("scrape.selectors.drilldown", "button")
	v.SetDefault("scrape.selectors.modal", `[role="dialog"], .semi-sidesheet, .semi-modal`)
	v.SetDefault("scrape.selectors.modal_row", `[role="dialog"] [role="row"][aria-rowindex], .semi-sidesheet [role="row"][aria-rowindex]`)
	v.SetDefault("scrape.selectors.modal_next", `[role="dialog"] .semi-page-next, .semi-sidesheet .semi-page-next`)
	v.SetDefault("scrape.selectors.modal_close", `button.semi-sidesheet-close, button[aria-label="Close"]`)
	v.SetDefault("scrape.selectors.page_next", "#task-v2-page .semi-page-next")
	v.SetDefault("scrape.selectors.profile_hover", `span[class^="avatarContainer"]`)
	v.SetDefault("scrape.grid_timeout_ms", 30000)
	v.SetDefault("scrape.cell_timeout_ms", 4000)
	v.SetDefault("scrape.enrich_timeout_ms", 5000)
	v.SetDefault("scrape.modal_timeout_ms", 5000)
	v.SetDefault("scrape.yield_every", 50)
	v.SetDefault("scrape.yield_ms", 2000)
	v.SetDefault("scrape.pacing.actions_per_sec", 4)
	v.SetDefault("scrape.pacing.row.min_ms", 800)
	v.SetDefault("scrape.pacing.row.max_ms", 1200)
	v.SetDefault("scrape.pacing.click.min_ms", 1200)
	v.SetDefault("scrape.pacing.click.max_ms", 1800)
	v.SetDefault("scrape.pacing.page.min_ms", 1500)
	v.SetDefault("scrape.pacing.page.max_ms", 2200)
	v.SetDefault("scrape.lock_ttl_minutes", 180)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.storage_state", "state.json")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)

	v.SetDefault("ingest.batch_size", 10)
	v.SetDefault("ingest.dlq_max_retries", 5)
	v.SetDefault("ingest.import_workers", 4)

	v.SetDefault("retry.max_attempts", 10)
	v.SetDefault("retry.backoff_secs", 5)

	v.SetDefault("metrics.job", "backstage_ingest")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Ingest.BatchSize <= 0:
		return eris.New("config: ingest.batch_size must be positive")
	case c.Retry.MaxAttempts <= 0:
		return eris.New("config: retry.max_attempts must be positive")
	case c.Scrape.ProfileMarker == "":
		return eris.New("config: scrape.profile_marker is required")
	}
	p := c.Scrape.Pacing
	for name, span := range map[string]DelaySpan{"row": p.Row, "click": p.Click, "page": p.Page} {
		if span.MinMs < 0 || span.MaxMs < span.MinMs {
			return eris.Errorf("config: scrape.pacing.%s needs 0 <= min_ms <= max_ms", name)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
