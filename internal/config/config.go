// Package config loads helpdesk settings from defaults, an optional YAML
// file, a .env file and HELPDESK_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gotrs-io/tg-helpdesk/internal/database"
)

var (
	current *Config
	mu      sync.RWMutex
)

// Config is the full application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ticket   TicketConfig   `mapstructure:"ticket"`
	Outbound OutboundConfig `mapstructure:"outbound"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Session  SessionConfig  `mapstructure:"session"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	BaseURL string `mapstructure:"base_url"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	Mode        string `mapstructure:"mode"`
	WebhookURL  string `mapstructure:"webhook_url"`
	WebhookPath string `mapstructure:"webhook_path"`
	// WebhookSecret is registered as the webhook secret_token and must be
	// echoed by Telegram on every delivery.
	WebhookSecret string `mapstructure:"webhook_secret"`
	PollTimeout   int    `mapstructure:"poll_timeout"`
	// NotificationChatID and NotificationTopicID address the staff forum
	// topic that hears about reassignments. Zero chat id disables it.
	NotificationChatID  int64 `mapstructure:"notification_chat_id"`
	NotificationTopicID int64 `mapstructure:"notification_topic_id"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type TicketConfig struct {
	ReopenWindow     time.Duration `mapstructure:"reopen_window"`
	AutoCloseDelay   time.Duration `mapstructure:"auto_close_delay"`
	MediaGroupWindow time.Duration `mapstructure:"media_group_window"`
	RetentionMonths  int           `mapstructure:"retention_months"`
}

type OutboundConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	DeadLetterSize int           `mapstructure:"dead_letter_size"`
}

// RunnerConfig holds cron expressions (with seconds) for periodic sweeps.
type RunnerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	RestrictionPurge string `mapstructure:"restriction_purge"`
	SessionPurge     string `mapstructure:"session_purge"`
	Cleanup          string `mapstructure:"cleanup"`
	AutoCloseRecover string `mapstructure:"auto_close_recover"`
}

type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	Secure     bool          `mapstructure:"secure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tg-helpdesk")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.base_url", "http://localhost:8080")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", database.DriverSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.name", "helpdesk.db")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dedup_ttl", 24*time.Hour)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.mode", "polling")
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.webhook_path", "/telegram/webhook")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.notification_chat_id", 0)
	v.SetDefault("telegram.notification_topic_id", 0)

	v.SetDefault("storage.path", "uploads")

	v.SetDefault("ticket.reopen_window", time.Hour)
	v.SetDefault("ticket.auto_close_delay", 24*time.Hour)
	v.SetDefault("ticket.media_group_window", time.Second)
	v.SetDefault("ticket.retention_months", 6)

	v.SetDefault("outbound.buffer_size", 1024)
	v.SetDefault("outbound.send_timeout", 30*time.Second)
	v.SetDefault("outbound.dead_letter_size", 100)

	v.SetDefault("runner.enabled", true)
	v.SetDefault("runner.restriction_purge", "0 */5 * * * *")
	v.SetDefault("runner.session_purge", "0 0 * * * *")
	v.SetDefault("runner.cleanup", "0 30 3 * * *")
	v.SetDefault("runner.auto_close_recover", "0 */10 * * * *")

	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("session.cookie_name", "session_token")
	v.SetDefault("session.secure", false)
}

// Load reads the configuration. configFile may be empty, in which case
// config.yaml is looked up in . and ./config and is optional. When a file
// is found it is watched and changes replace the value returned by Get.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HELPDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// BOT_TOKEN is the conventional name in .env files.
	if err := v.BindEnv("telegram.token", "HELPDESK_TELEGRAM_TOKEN", "BOT_TOKEN"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		fileLoaded = false
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	Set(cfg)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			next, err := decode(v)
			if err != nil {
				log.Printf("[CONFIG] reload of %s rejected: %v", e.Name, err)
				return
			}
			Set(next)
			log.Printf("[CONFIG] reloaded %s", e.Name)
		})
		v.WatchConfig()
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the current configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the current configuration.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch database.NormalizeDriver(c.Database.Driver) {
	case database.DriverSQLite, database.DriverPostgres, database.DriverMySQL:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Telegram.Mode {
	case "polling":
	case "webhook":
		if c.Telegram.WebhookURL == "" {
			return fmt.Errorf("telegram.webhook_url is required in webhook mode")
		}
		if !validWebhookSecret(c.Telegram.WebhookSecret) {
			return fmt.Errorf("telegram.webhook_secret must be 1-256 characters of A-Z, a-z, 0-9, _ or - in webhook mode")
		}
	default:
		return fmt.Errorf("telegram.mode must be polling or webhook, got %q", c.Telegram.Mode)
	}
	if c.Ticket.ReopenWindow <= 0 || c.Ticket.AutoCloseDelay <= 0 || c.Ticket.MediaGroupWindow <= 0 {
		return fmt.Errorf("ticket durations must be positive")
	}
	if c.Outbound.SendTimeout <= 0 {
		return fmt.Errorf("outbound.send_timeout must be positive")
	}
	return nil
}

// validWebhookSecret applies the character rules Telegram enforces on
// secret_token.
func validWebhookSecret(s string) bool {
	if s == "" || len(s) > 256 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// GetDSN builds the driver DSN unless one is configured verbatim.
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch database.NormalizeDriver(c.Driver) {
	case database.DriverPostgres:
		port := c.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, port, c.User, c.Password, c.Name, c.SSLMode)
	case database.DriverMySQL:
		port := c.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", c.Host, port)
		mc.DBName = c.Name
		mc.ParseTime = true
		return mc.FormatDSN()
	default:
		return "file:" + c.Name + "?_loc=UTC&_busy_timeout=5000"
	}
}

// Options converts the section into database.Options.
func (c *DatabaseConfig) Options() database.Options {
	return database.Options{
		Driver:          c.Driver,
		DSN:             c.GetDSN(),
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// GetRedisAddr returns host:port.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetServerAddr returns the listen address.
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
