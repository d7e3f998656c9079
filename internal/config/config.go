// Package config provides YAML-based configuration loading for roadcall.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Telegram receive modes.
const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"
)

// Operator platforms.
const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
	PlatformDiscord  = "discord"
)

// Session store drivers.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the top-level roadcall configuration, loaded from config.yaml
// and overridden by environment variables.
type Config struct {
	Telegram    TelegramConfig `yaml:"telegram"`
	Operator    OperatorConfig `yaml:"operator"`
	AdminUserID string         `yaml:"admin_user_id"`
	HTTP        HTTPConfig     `yaml:"http"`
	Store       StoreConfig    `yaml:"store"`
	Database    DatabaseConfig `yaml:"database"`
	Sheets      SheetsConfig   `yaml:"sheets"`
	Archive     ArchiveConfig  `yaml:"archive"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Log         LogConfig      `yaml:"log"`
}

// TelegramConfig holds the user-facing bot settings.
type TelegramConfig struct {
	Token string `yaml:"token"`
	Mode  string `yaml:"mode"`
	// WebhookURL is the public base URL Telegram posts updates to; the bot
	// appends /telegram/<token>.
	WebhookURL string `yaml:"webhook_url"`
}

// OperatorConfig selects where completed reports go.
type OperatorConfig struct {
	Platform     string `yaml:"platform"`
	ChannelID    string `yaml:"channel_id"`
	SlackToken   string `yaml:"slack_token"`
	DiscordToken string `yaml:"discord_token"`
}

// HTTPConfig holds the health, metrics and webhook listener settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig holds the submission ledger connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// SheetsConfig enables the Google Sheets export.
type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

// ArchiveConfig enables the S3 report archive.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// ScheduleConfig holds the background job settings. Cron expressions use
// the standard 5-field form; an empty expression disables the job.
type ScheduleConfig struct {
	Sweep       string        `yaml:"sweep"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Digest      string        `yaml:"digest"`
	// Timezone names the IANA zone used for digest day boundaries.
	Timezone string `yaml:"timezone"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	// Console forces the human-readable writer on or off; unset means
	// autodetect from the terminal.
	Console *bool `yaml:"console"`
}

// Load reads a YAML config file from path and returns a validated Config.
// An empty path builds the config from defaults and the environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets and deployment-specific values from the
// environment.
func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&c.Operator.ChannelID, "OPERATOR_CHAT_ID")
	setString(&c.AdminUserID, "ADMIN_USER_ID")
	setString(&c.Operator.SlackToken, "SLACK_BOT_TOKEN")
	setString(&c.Operator.DiscordToken, "DISCORD_BOT_TOKEN")
	setString(&c.Store.Redis.Addr, "REDIS_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT %q is not a number", v)
		}
		c.HTTP.Port = port
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Telegram.Mode == "" {
		c.Telegram.Mode = ModePoll
	}
	if c.Operator.Platform == "" {
		c.Operator.Platform = PlatformTelegram
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8443
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
		if c.Store.Redis.Addr != "" {
			c.Store.Driver = StoreRedis
		}
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "roadcall:"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "roadcall.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Database == "" {
			c.Database.Database = "roadcall"
		}
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "reports"
	}
	if c.Archive.Region == "" {
		c.Archive.Region = "us-east-1"
	}
	if c.Schedule.Sweep == "" {
		c.Schedule.Sweep = "*/5 * * * *"
	}
	if c.Schedule.IdleTimeout == 0 {
		c.Schedule.IdleTimeout = 2 * time.Hour
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}
	switch c.Telegram.Mode {
	case ModePoll:
	case ModeWebhook:
		if c.Telegram.WebhookURL == "" {
			errs = append(errs, "telegram.webhook_url is required in webhook mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("telegram.mode %q must be %q or %q", c.Telegram.Mode, ModePoll, ModeWebhook))
	}

	if c.Operator.ChannelID == "" {
		errs = append(errs, "operator.channel_id is required")
	}
	switch c.Operator.Platform {
	case PlatformTelegram:
	case PlatformSlack:
		if c.Operator.SlackToken == "" {
			errs = append(errs, "operator.slack_token is required for slack")
		}
	case PlatformDiscord:
		if c.Operator.DiscordToken == "" {
			errs = append(errs, "operator.discord_token is required for discord")
		}
	default:
		errs = append(errs, fmt.Sprintf("operator.platform %q is not supported", c.Operator.Platform))
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port %d is out of range", c.HTTP.Port))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, "store.redis.addr is required for the redis store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be %q or %q", c.Store.Driver, StoreMemory, StoreRedis))
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	if c.Sheets.Enabled {
		if c.Sheets.CredentialsFile == "" {
			errs = append(errs, "sheets.credentials_file is required when sheets is enabled")
		}
		if c.Sheets.SpreadsheetID == "" {
			errs = append(errs, "sheets.spreadsheet_id is required when sheets is enabled")
		}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, "archive.bucket is required when archive is enabled")
	}

	if _, err := cron.ParseStandard(c.Schedule.Sweep); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.sweep: %v", err))
	}
	if c.Schedule.Digest != "" {
		if _, err := cron.ParseStandard(c.Schedule.Digest); err != nil {
			errs = append(errs, fmt.Sprintf("schedule.digest: %v", err))
		}
	}
	if c.Schedule.IdleTimeout < 0 {
		errs = append(errs, "schedule.idle_timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.timezone: %v", err))
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the digest time zone. It falls back to UTC, which
// validate guarantees never happens for a loaded Config.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Redacted returns a copy safe to print, with every secret masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Telegram.Token = mask(c.Telegram.Token)
	c.Operator.SlackToken = mask(c.Operator.SlackToken)
	c.Operator.DiscordToken = mask(c.Operator.DiscordToken)
	c.Store.Redis.Password = mask(c.Store.Redis.Password)
	c.Database.Password = mask(c.Database.Password)
	return c
}

// YAML renders the redacted config.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
