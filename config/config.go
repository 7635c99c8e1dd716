// Package config loads server configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with SETTLEMENT_ prefix (e.g. SETTLEMENT_DATABASE_PATH),
//     including those loaded from a .env file
//  2. config.toml
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Policy    PolicyConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	CORSAllowOrigins []string
}

type DatabaseConfig struct {
	Path string // SQLite file, or ":memory:"
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// SchedulerConfig drives the background jobs.
type SchedulerConfig struct {
	Enabled          bool
	TransferInterval time.Duration // ownership-transfer job
	LockInterval     time.Duration // month-end lock check
	LockAfterDays    int           // lock a month this many days after it ends
	PoolOwner        string        // receiver of stale deals; empty disables transfers
}

type PolicyConfig struct {
	DefaultFile string // YAML/JSON policy loaded at startup
}

// Load reads .env (if present), config.toml from the given directories
// (default "."), then the environment.
func Load(dirs ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Addr:             v.GetString("http.addr"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Scheduler: SchedulerConfig{
			Enabled:          v.GetBool("scheduler.enabled"),
			TransferInterval: v.GetDuration("scheduler.transfer_interval"),
			LockInterval:     v.GetDuration("scheduler.lock_interval"),
			LockAfterDays:    v.GetInt("scheduler.lock_after_days"),
			PoolOwner:        v.GetString("scheduler.pool_owner"),
		},
		Policy: PolicyConfig{
			DefaultFile: v.GetString("policy.default_file"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "settlement-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.cors_allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("database.path", "./data/settlement.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.transfer_interval", "1h")
	v.SetDefault("scheduler.lock_interval", "1h")
	v.SetDefault("scheduler.lock_after_days", 5)
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.TransferInterval <= 0 || c.Scheduler.LockInterval <= 0 {
			return errors.New("scheduler intervals must be positive")
		}
		if c.Scheduler.LockAfterDays < 0 {
			return errors.New("scheduler.lock_after_days must not be negative")
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
