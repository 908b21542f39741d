package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Log      LogConfig
	Merchant MerchantConfig
	Deadline DeadlineConfig
	Worker   WorkerConfig
	User     UserConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// MerchantConfig tunes merchant resolution. A zero FuzzyThreshold disables
// the edit-distance fallback.
type MerchantConfig struct {
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
	FuzzyMinLength int     `mapstructure:"fuzzy_min_length"`
}

// DeadlineConfig holds intervention evaluation settings.
type DeadlineConfig struct {
	LookaheadDays  int    `mapstructure:"lookahead_days"`
	UrgentDays     int    `mapstructure:"urgent_days"`
	DefaultCountry string `mapstructure:"default_country"`
}

// WorkerConfig bounds batch parallelism.
type WorkerConfig struct {
	Concurrency int
}

// UserConfig identifies the local CLI user.
type UserConfig struct {
	ID    string
	Email string
	Name  string
}

// Load reads configuration from .env, the config file and env. Env var
// overrides use prefix TRACKABLE_.
func Load() (Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "trackable", "trackable.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("merchant.fuzzy_threshold", 0.15)
	v.SetDefault("merchant.fuzzy_min_length", 5)
	v.SetDefault("deadline.lookahead_days", 7)
	v.SetDefault("deadline.urgent_days", 3)
	v.SetDefault("deadline.default_country", "US")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("user.id", "")
	v.SetDefault("user.email", "me@localhost")
	v.SetDefault("user.name", "")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("TRACKABLE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "trackable"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("TRACKABLE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	c.Deadline.DefaultCountry = strings.ToUpper(c.Deadline.DefaultCountry)
	return c, nil
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := os.Getenv("TRACKABLE_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "trackable", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.development", cfg.Log.Development)
	v.Set("merchant.fuzzy_threshold", cfg.Merchant.FuzzyThreshold)
	v.Set("merchant.fuzzy_min_length", cfg.Merchant.FuzzyMinLength)
	v.Set("deadline.lookahead_days", cfg.Deadline.LookaheadDays)
	v.Set("deadline.urgent_days", cfg.Deadline.UrgentDays)
	v.Set("deadline.default_country", cfg.Deadline.DefaultCountry)
	v.Set("worker.concurrency", cfg.Worker.Concurrency)
	v.Set("user.id", cfg.User.ID)
	v.Set("user.email", cfg.User.Email)
	v.Set("user.name", cfg.User.Name)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
