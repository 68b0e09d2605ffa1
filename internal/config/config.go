package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the configuration.
const (
	DefaultHTTPPort           = 8080
	DefaultInterval           = time.Minute
	DefaultMaxConcurrency     = 4
	DefaultCooldown           = time.Hour
	DefaultHysteresis         = 10.0
	DefaultHistorySize        = 100
	DefaultTargetScore        = 60.0
	DefaultTimezone           = "America/New_York"
	DefaultStartHour          = 4
	DefaultEndHour            = 20
	DefaultScoreTimeout       = 10 * time.Second
	DefaultRatePerMinute      = 120
	DefaultScoreMetric        = "squeeze_score"
	DefaultScoreLabel         = "ticker"
	DefaultNotifyTimeout      = 10 * time.Second
	DefaultStoragePath        = "data"
	DefaultRedisKeyPrefix     = "squeezewatch:"
	DefaultDesktopCommand     = "notify-send"
	DefaultAuthHeader         = "x-api-key"
	DefaultLogLevel           = "info"
	DefaultHubBroadcastPeriod = 5 * time.Second
)

// Config is the top-level squeezewatch configuration.
type Config struct {
	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// HTTPPort serves the REST API, the banner WebSocket and /metrics.
	HTTPPort int `yaml:"http_port"`

	Engine      EngineConfig      `yaml:"engine"`
	MarketHours MarketHoursConfig `yaml:"market_hours"`
	Score       ScoreConfig       `yaml:"score"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`

	// Watchlist seeds tickers on startup. Existing entries are left untouched.
	Watchlist []WatchEntry `yaml:"watchlist"`
}

// EngineConfig controls the evaluation loop and alert policy.
type EngineConfig struct {
	// Interval between evaluation ticks. Default: 1m.
	Interval time.Duration `yaml:"interval"`

	// MaxConcurrency caps concurrent score fetches within one tick.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Cooldown is the minimum time between two alerts for the same ticker.
	Cooldown time.Duration `yaml:"cooldown"`

	// Hysteresis is the score gap below the target at which a fired item re-arms.
	Hysteresis float64 `yaml:"hysteresis"`

	// HistorySize bounds the alert history; oldest alerts are evicted first.
	HistorySize int `yaml:"history_size"`

	// DefaultTargetScore is used when a ticker is added without a target.
	DefaultTargetScore float64 `yaml:"default_target_score"`
}

// MarketHoursConfig defines the operating window in which ticks are admitted.
type MarketHoursConfig struct {
	// Timezone is an IANA zone name. Default: America/New_York.
	Timezone string `yaml:"timezone"`

	// Days lists admitted weekdays as three-letter names (mon..sun). Default: mon-fri.
	Days []string `yaml:"days"`

	// StartHour and EndHour bound the admitted hours, both inclusive.
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`

	// AlwaysOpen disables the gate entirely.
	AlwaysOpen bool `yaml:"always_open"`
}

// Location resolves Timezone.
func (m MarketHoursConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(m.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	return time.LoadLocation(tz)
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Weekdays parses Days.
func (m MarketHoursConfig) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(m.Days))
	for _, d := range m.Days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", d)
		}
		out = append(out, wd)
	}
	return out, nil
}

// ScoreConfig selects and configures the score provider.
type ScoreConfig struct {
	// Type is one of: squeeze | prometheus | static.
	Type string `yaml:"type"`

	// Endpoint is the provider URL (squeeze scan endpoint or metrics page).
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds every provider call. Always finite.
	Timeout time.Duration `yaml:"timeout"`

	// RatePerMinute caps calls to the provider across all tickers.
	RatePerMinute int `yaml:"rate_per_minute"`

	// APIKeyEnv names the environment variable holding the provider key.
	// For squeeze it is sent in the request body; for prometheus in AuthHeader.
	APIKeyEnv string `yaml:"api_key_env"`

	// AuthHeader is the header that carries the key for prometheus providers.
	AuthHeader string `yaml:"auth_header"`

	// Metric and Label select the sample for prometheus providers.
	Metric string `yaml:"metric"`
	Label  string `yaml:"label"`

	// Static holds fixed scores for the static provider.
	Static map[string]float64 `yaml:"static"`
}

// APIKey returns the provider key resolved from the environment.
func (s ScoreConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of: file | redis | memory.
	Backend string `yaml:"backend"`

	// Path is the directory holding the file backend's documents.
	Path string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// Password returns the redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// NotifyConfig lists the notification channels.
type NotifyConfig struct {
	// Timeout bounds a single channel delivery attempt.
	Timeout time.Duration `yaml:"timeout"`

	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig defines one notification channel.
type ChannelConfig struct {
	// Type is one of: banner | audio | desktop | slack | teams | http | telegram | kafka | log.
	Type string `yaml:"type"`

	// Name overrides the channel name used in logs and metrics. Defaults to Type.
	Name string `yaml:"name"`

	// URLEnv names the environment variable holding a webhook URL.
	URLEnv string `yaml:"url_env"`

	// Player and SoundDir configure the audio channel. The player is invoked
	// with <SoundDir>/<severity>.wav.
	Player   string `yaml:"player"`
	SoundDir string `yaml:"sound_dir"`

	// Command is the desktop notifier executable. Default: notify-send.
	Command string `yaml:"command"`

	// TokenEnv and ChatID configure the telegram channel.
	TokenEnv string `yaml:"token_env"`
	ChatID   int64  `yaml:"chat_id"`

	// Brokers and Topic configure the kafka channel.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// Enabled toggles channels that support muting (audio). Nil means enabled.
	Enabled *bool `yaml:"enabled"`
}

// URL returns the webhook URL resolved from the environment.
func (c ChannelConfig) URL() string {
	if c.URLEnv == "" {
		return ""
	}
	return os.Getenv(c.URLEnv)
}

// Token returns the telegram bot token resolved from the environment.
func (c ChannelConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// IsEnabled reports whether the channel starts enabled.
func (c ChannelConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ChannelName returns Name, falling back to Type.
func (c ChannelConfig) ChannelName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}

// WatchEntry is one seeded watchlist ticker.
type WatchEntry struct {
	Ticker      string   `yaml:"ticker"`
	TargetScore float64  `yaml:"target_score"`
	PriceTarget *float64 `yaml:"price_target"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fillZeroes(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		HTTPPort: DefaultHTTPPort,
		Engine: EngineConfig{
			Interval:           DefaultInterval,
			MaxConcurrency:     DefaultMaxConcurrency,
			Cooldown:           DefaultCooldown,
			Hysteresis:         DefaultHysteresis,
			HistorySize:        DefaultHistorySize,
			DefaultTargetScore: DefaultTargetScore,
		},
		MarketHours: MarketHoursConfig{
			Timezone:  DefaultTimezone,
			Days:      []string{"mon", "tue", "wed", "thu", "fri"},
			StartHour: DefaultStartHour,
			EndHour:   DefaultEndHour,
		},
		Score: ScoreConfig{
			Type:          "static",
			Timeout:       DefaultScoreTimeout,
			RatePerMinute: DefaultRatePerMinute,
			AuthHeader:    DefaultAuthHeader,
			Metric:        DefaultScoreMetric,
			Label:         DefaultScoreLabel,
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    DefaultStoragePath,
			Redis:   RedisConfig{KeyPrefix: DefaultRedisKeyPrefix},
		},
		Notify: NotifyConfig{
			Timeout: DefaultNotifyTimeout,
		},
	}
}

// fillZeroes restores defaults for fields explicitly set to a zero value,
// such as "timeout: 0". A finite score timeout is always required.
func fillZeroes(cfg *Config) {
	if cfg.Score.Timeout <= 0 {
		cfg.Score.Timeout = DefaultScoreTimeout
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = DefaultNotifyTimeout
	}
	if cfg.Engine.MaxConcurrency <= 0 {
		cfg.Engine.MaxConcurrency = DefaultMaxConcurrency
	}
	for i := range cfg.Watchlist {
		if cfg.Watchlist[i].TargetScore == 0 {
			cfg.Watchlist[i].TargetScore = cfg.Engine.DefaultTargetScore
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d is out of range [1, 65535]", cfg.HTTPPort)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q unknown: want debug|info|warn|error", cfg.LogLevel)
	}

	e := cfg.Engine
	if e.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive")
	}
	if e.Cooldown < 0 {
		return fmt.Errorf("engine.cooldown must not be negative")
	}
	if e.Hysteresis < 0 {
		return fmt.Errorf("engine.hysteresis must not be negative")
	}
	if e.HistorySize <= 0 {
		return fmt.Errorf("engine.history_size must be positive")
	}
	if e.DefaultTargetScore < 0 || e.DefaultTargetScore > 100 {
		return fmt.Errorf("engine.default_target_score %v is out of range [0, 100]", e.DefaultTargetScore)
	}

	m := cfg.MarketHours
	if _, err := m.Location(); err != nil {
		return fmt.Errorf("market_hours.timezone: %w", err)
	}
	if _, err := m.Weekdays(); err != nil {
		return fmt.Errorf("market_hours.days: %w", err)
	}
	if m.StartHour < 0 || m.StartHour > 23 || m.EndHour < 0 || m.EndHour > 23 {
		return fmt.Errorf("market_hours: hours must be within [0, 23]")
	}
	if m.StartHour > m.EndHour {
		return fmt.Errorf("market_hours.start_hour %d is after end_hour %d", m.StartHour, m.EndHour)
	}

	s := cfg.Score
	switch s.Type {
	case "squeeze", "prometheus":
		if s.Endpoint == "" {
			return fmt.Errorf("score.endpoint is required for type %q", s.Type)
		}
	case "static":
	default:
		return fmt.Errorf("score.type %q unknown: want squeeze|prometheus|static", s.Type)
	}
	if s.RatePerMinute < 0 {
		return fmt.Errorf("score.rate_per_minute must not be negative")
	}

	switch cfg.Storage.Backend {
	case "file":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the file backend")
		}
	case "redis":
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend %q unknown: want file|redis|memory", cfg.Storage.Backend)
	}

	seen := make(map[string]bool)
	for i, ch := range cfg.Notify.Channels {
		switch ch.Type {
		case "banner", "audio", "desktop", "log":
		case "slack", "teams", "http":
			if ch.URLEnv == "" {
				return fmt.Errorf("notify.channels[%d] %q: url_env is required", i, ch.Type)
			}
		case "telegram":
			if ch.TokenEnv == "" || ch.ChatID == 0 {
				return fmt.Errorf("notify.channels[%d] telegram: token_env and chat_id are required", i)
			}
		case "kafka":
			if len(ch.Brokers) == 0 || ch.Topic == "" {
				return fmt.Errorf("notify.channels[%d] kafka: brokers and topic are required", i)
			}
		default:
			return fmt.Errorf("notify.channels[%d]: unknown type %q", i, ch.Type)
		}
		name := ch.ChannelName()
		if seen[name] {
			return fmt.Errorf("notify.channels[%d]: duplicate channel name %q", i, name)
		}
		seen[name] = true
	}

	for i, w := range cfg.Watchlist {
		if strings.TrimSpace(w.Ticker) == "" {
			return fmt.Errorf("watchlist[%d]: ticker is required", i)
		}
		if w.TargetScore < 0 || w.TargetScore > 100 {
			return fmt.Errorf("watchlist[%d] %q: target_score %v is out of range [0, 100]", i, w.Ticker, w.TargetScore)
		}
	}
	return nil
}
