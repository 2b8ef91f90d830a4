/*
Package config loads service configuration with viper.

SOURCES (later wins):
  1. Defaults (applyDefaults)
  2. config.toml in ., ./config or /etc/ledger (optional)
  3. Environment variables prefixed LEDGER_, dots replaced by underscores:
     LEDGER_DATABASE_PATH, LEDGER_SCHEDULER_TIMEZONE, LEDGER_AUTH_JWT_SECRET ...

Load validates the result. A bad time zone, clock time or interval fails
startup instead of silently disabling a job.
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Baghdad on hosts without a zoneinfo database

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Reminder  ReminderConfig
	Redis     RedisConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Name string
	Env  string // development, production
	Port string
}

type DatabaseConfig struct {
	Path string // SQLite file, or ":memory:"
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	CORSAllowOrigins []string
}

type SchedulerConfig struct {
	Enabled         bool
	Timezone        string
	OverdueInterval time.Duration
	PaidInterval    time.Duration
	LowStockAt      string // HH:MM
	RemindersAt     string // HH:MM
	CheckInterval   time.Duration
	BatchSize       int
}

type ReminderConfig struct {
	DaysBefore     int
	ResendHours    int
	SenderName     string
	SendsPerSecond float64 // 0 disables pacing
}

type RedisConfig struct {
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type AuthConfig struct {
	Enabled    bool
	JWTSecret  string
	SuperRoles []string
	Grants     map[string][]string // role -> ["resource:action"]; empty uses the stock roles
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ledger")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// booleans cannot be told apart from "unset" after GetBool
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("auth.enabled", false)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         v.GetBool("scheduler.enabled"),
			Timezone:        v.GetString("scheduler.timezone"),
			OverdueInterval: v.GetDuration("scheduler.overdue_interval"),
			PaidInterval:    v.GetDuration("scheduler.paid_interval"),
			LowStockAt:      v.GetString("scheduler.low_stock_at"),
			RemindersAt:     v.GetString("scheduler.reminders_at"),
			CheckInterval:   v.GetDuration("scheduler.check_interval"),
			BatchSize:       v.GetInt("scheduler.batch_size"),
		},
		Reminder: ReminderConfig{
			DaysBefore:     v.GetInt("reminder.days_before"),
			ResendHours:    v.GetInt("reminder.resend_hours"),
			SenderName:     v.GetString("reminder.sender_name"),
			SendsPerSecond: v.GetFloat64("reminder.sends_per_second"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Auth: AuthConfig{
			Enabled:    v.GetBool("auth.enabled"),
			JWTSecret:  v.GetString("auth.jwt_secret"),
			SuperRoles: v.GetStringSlice("auth.super_roles"),
			Grants:     v.GetStringMapStringSlice("auth.grants"),
		},
	}

	// days_before = 0 is meaningful, so only fill it when nothing set it
	if !v.IsSet("reminder.days_before") {
		cfg.Reminder.DaysBefore = 3
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "installment-ledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/ledger.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.IsProduction() {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"*"}
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Asia/Baghdad"
	}
	if cfg.Scheduler.OverdueInterval == 0 {
		cfg.Scheduler.OverdueInterval = 15 * time.Minute
	}
	if cfg.Scheduler.PaidInterval == 0 {
		cfg.Scheduler.PaidInterval = 10 * time.Minute
	}
	if cfg.Scheduler.LowStockAt == "" {
		cfg.Scheduler.LowStockAt = "08:30"
	}
	if cfg.Scheduler.RemindersAt == "" {
		cfg.Scheduler.RemindersAt = "09:00"
	}
	if cfg.Scheduler.CheckInterval == 0 {
		cfg.Scheduler.CheckInterval = time.Minute
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 200
	}
	if cfg.Reminder.ResendHours == 0 {
		cfg.Reminder.ResendHours = 24
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "ledger:reminder:"
	}
	if len(cfg.Auth.SuperRoles) == 0 {
		cfg.Auth.SuperRoles = []string{"ADMIN"}
	}
}

func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	for key, at := range map[string]string{
		"scheduler.low_stock_at": c.Scheduler.LowStockAt,
		"scheduler.reminders_at": c.Scheduler.RemindersAt,
	} {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("%s: invalid time of day %q, want HH:MM", key, at)
		}
	}
	if c.Scheduler.OverdueInterval < 0 || c.Scheduler.PaidInterval < 0 || c.Scheduler.CheckInterval < 0 {
		return errors.New("scheduler intervals must be positive")
	}
	if c.Scheduler.BatchSize < 0 {
		return errors.New("scheduler.batch_size must be positive")
	}
	if c.Reminder.DaysBefore < 0 {
		return errors.New("reminder.days_before must not be negative")
	}
	if c.Reminder.ResendHours < 0 {
		return errors.New("reminder.resend_hours must be positive")
	}
	if c.Reminder.SendsPerSecond < 0 {
		return errors.New("reminder.sends_per_second must not be negative")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if c.IsProduction() && !c.Auth.Enabled {
		return errors.New("auth must be enabled in production")
	}
	return nil
}

// IsProduction reports whether App.Env is production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Location is the scheduler time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResendWindow is the reminder cooldown.
func (c *Config) ResendWindow() time.Duration {
	return time.Duration(c.Reminder.ResendHours) * time.Hour
}
