package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Driver     DriverConfig     `yaml:"driver" mapstructure:"driver"`
	Access     AccessConfig     `yaml:"access" mapstructure:"access"`
	Acquire    AcquireConfig    `yaml:"acquire" mapstructure:"acquire"`
	Funnel     FunnelConfig     `yaml:"funnel" mapstructure:"funnel"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Artifacts  ArtifactConfig   `yaml:"artifacts" mapstructure:"artifacts"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Platforms  []PlatformConfig `yaml:"platforms" mapstructure:"platforms"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DriverConfig selects and tunes the browser automation backend.
type DriverConfig struct {
	// Backend is "openclaw" (external CLI) or "rod" (in-process Chrome).
	Backend    string `yaml:"backend" mapstructure:"backend"`
	Bin        string `yaml:"bin" mapstructure:"bin"`
	Profile    string `yaml:"profile" mapstructure:"profile"`
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
	// GatewayRestarts is the number of backend restarts allowed per call.
	GatewayRestarts int `yaml:"gateway_restarts" mapstructure:"gateway_restarts"`
	// RemoteURL points the rod backend at an existing Chrome DevTools endpoint.
	RemoteURL string `yaml:"remote_url" mapstructure:"remote_url"`
	Headless  bool   `yaml:"headless" mapstructure:"headless"`
}

// AccessConfig configures the revisit cooldown cache.
type AccessConfig struct {
	Enabled              bool   `yaml:"enabled" mapstructure:"enabled"`
	Persist              bool   `yaml:"persist" mapstructure:"persist"`
	DBPath               string `yaml:"db_path" mapstructure:"db_path"`
	VideoCooldownMinutes int    `yaml:"video_cooldown_minutes" mapstructure:"video_cooldown_minutes"`
	UserCooldownMinutes  int    `yaml:"user_cooldown_minutes" mapstructure:"user_cooldown_minutes"`
	MaxEntries           int    `yaml:"max_entries" mapstructure:"max_entries"`
	SweepEvery           int    `yaml:"sweep_every" mapstructure:"sweep_every"`
}

// AcquireConfig configures one acquisition run.
type AcquireConfig struct {
	Platforms           []string `yaml:"platforms" mapstructure:"platforms"`
	Keywords            []string `yaml:"keywords" mapstructure:"keywords"`
	MaxPostsPerKeyword  int      `yaml:"max_posts_per_keyword" mapstructure:"max_posts_per_keyword"`
	MaxCommentsPerPost  int      `yaml:"max_comments_per_post" mapstructure:"max_comments_per_post"`
	SortMode            string   `yaml:"sort_mode" mapstructure:"sort_mode"`
	PlatformTimeoutSecs int      `yaml:"platform_timeout_secs" mapstructure:"platform_timeout_secs"`
	GlobalTimeoutSecs   int      `yaml:"global_timeout_secs" mapstructure:"global_timeout_secs"`
	PaceMinMs           int      `yaml:"pace_min_ms" mapstructure:"pace_min_ms"`
	PaceMaxMs           int      `yaml:"pace_max_ms" mapstructure:"pace_max_ms"`
	ScrollRounds        int      `yaml:"scroll_rounds" mapstructure:"scroll_rounds"`
	// BreakerFailures is the number of consecutive failed searches that
	// pauses a platform for the rest of the cool-off.
	BreakerFailures    int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCoolOffSecs int `yaml:"breaker_cool_off_secs" mapstructure:"breaker_cool_off_secs"`
}

// FunnelConfig configures the intent funnel.
type FunnelConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	MinConfidence int    `yaml:"min_confidence" mapstructure:"min_confidence"`
	KnowledgeDir  string `yaml:"knowledge_dir" mapstructure:"knowledge_dir"`
	RulesPath     string `yaml:"rules_path" mapstructure:"rules_path"`
	Vertical      string `yaml:"vertical" mapstructure:"vertical"`
	TopK          int    `yaml:"top_k" mapstructure:"top_k"`
}

// StoreConfig configures the downstream lead store.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ArtifactConfig configures the artifact writer.
type ArtifactConfig struct {
	OutDir string `yaml:"out_dir" mapstructure:"out_dir"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	TopN   int    `yaml:"top_n" mapstructure:"top_n"`
	XLSX   bool   `yaml:"xlsx" mapstructure:"xlsx"`
}

// ScheduleConfig configures the periodic runner.
type ScheduleConfig struct {
	Cron          string `yaml:"cron" mapstructure:"cron"`
	HeartbeatPath string `yaml:"heartbeat_path" mapstructure:"heartbeat_path"`
	StatusAddr    string `yaml:"status_addr" mapstructure:"status_addr"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	AlertOnZeroLeads    bool    `yaml:"alert_on_zero_leads" mapstructure:"alert_on_zero_leads"`
	BlockedRatioWarning float64 `yaml:"blocked_ratio_warning" mapstructure:"blocked_ratio_warning"`
}

// PlatformConfig declares an extra platform on top of the built-in registry.
type PlatformConfig struct {
	Name           string   `yaml:"name" mapstructure:"name"`
	Aliases        []string `yaml:"aliases" mapstructure:"aliases"`
	SearchURL      string   `yaml:"search_url" mapstructure:"search_url"`
	Host           string   `yaml:"host" mapstructure:"host"`
	PostMarkers    []string `yaml:"post_markers" mapstructure:"post_markers"`
	KeepParams     []string `yaml:"keep_params" mapstructure:"keep_params"`
	ProfileMarkers []string `yaml:"profile_markers" mapstructure:"profile_markers"`
	RequireDMReady bool     `yaml:"require_dm_ready" mapstructure:"require_dm_ready"`
	LinkSelector   string   `yaml:"link_selector" mapstructure:"link_selector"`
}

// DefaultKeywords are searched when neither flags nor config name any.
var DefaultKeywords = []string{
	"留学中介推荐",
	"英国留学申请",
	"美国研究生申请",
	"留学文书求助",
	"留学预算费用",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("driver.backend", "openclaw")
	v.SetDefault("driver.profile", "openclaw")
	v.SetDefault("driver.gateway_restarts", 1)
	v.SetDefault("driver.headless", true)
	v.SetDefault("access.enabled", true)
	v.SetDefault("access.persist", true)
	v.SetDefault("access.db_path", "data/leadscout/access_control.db")
	v.SetDefault("access.video_cooldown_minutes", 240)
	v.SetDefault("access.user_cooldown_minutes", 120)
	v.SetDefault("access.max_entries", 120000)
	v.SetDefault("access.sweep_every", 400)
	v.SetDefault("acquire.platforms", []string{"xhs"})
	v.SetDefault("acquire.keywords", DefaultKeywords)
	v.SetDefault("acquire.max_posts_per_keyword", 6)
	v.SetDefault("acquire.max_comments_per_post", 24)
	v.SetDefault("acquire.sort_mode", "both")
	v.SetDefault("acquire.platform_timeout_secs", 420)
	v.SetDefault("acquire.global_timeout_secs", 2400)
	v.SetDefault("acquire.pace_min_ms", 500)
	v.SetDefault("acquire.pace_max_ms", 1300)
	v.SetDefault("acquire.scroll_rounds", 2)
	v.SetDefault("acquire.breaker_failures", 3)
	v.SetDefault("acquire.breaker_cool_off_secs", 300)
	v.SetDefault("funnel.enabled", false)
	v.SetDefault("funnel.min_confidence", 58)
	v.SetDefault("funnel.knowledge_dir", "data/knowledge")
	v.SetDefault("funnel.vertical", "study_abroad")
	v.SetDefault("funnel.top_k", 2)
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "leads.db")
	v.SetDefault("artifacts.out_dir", "data/leadscout")
	v.SetDefault("artifacts.prefix", "leadscout")
	v.SetDefault("artifacts.top_n", 30)
	v.SetDefault("artifacts.xlsx", true)
	v.SetDefault("schedule.cron", "@every 12h")
	v.SetDefault("schedule.heartbeat_path", "data/leadscout/heartbeat.json")
	v.SetDefault("monitoring.alert_on_zero_leads", true)
	v.SetDefault("monitoring.blocked_ratio_warning", 0.5)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks cross-field constraints and reports every violation at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Driver.Backend {
	case "openclaw", "rod":
	default:
		errs = append(errs, "driver.backend must be openclaw or rod")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.Enabled && c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for the postgres driver")
	}
	if c.Acquire.MaxPostsPerKeyword <= 0 {
		errs = append(errs, "acquire.max_posts_per_keyword must be positive")
	}
	if c.Acquire.MaxCommentsPerPost <= 0 {
		errs = append(errs, "acquire.max_comments_per_post must be positive")
	}
	if c.Acquire.PlatformTimeoutSecs <= 0 || c.Acquire.GlobalTimeoutSecs <= 0 {
		errs = append(errs, "acquire timeouts must be positive")
	}
	if c.Acquire.PaceMaxMs < c.Acquire.PaceMinMs {
		errs = append(errs, "acquire.pace_max_ms must be >= acquire.pace_min_ms")
	}
	if c.Funnel.MinConfidence < 0 || c.Funnel.MinConfidence > 99 {
		errs = append(errs, "funnel.min_confidence must be within 0..99")
	}
	if c.Artifacts.OutDir == "" {
		errs = append(errs, "artifacts.out_dir is required")
	}
	for i, p := range c.Platforms {
		if p.Name == "" || p.SearchURL == "" {
			errs = append(errs, eris.Errorf("platforms[%d] needs name and search_url", i).Error())
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
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
