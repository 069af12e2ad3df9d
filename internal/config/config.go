package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const EnvPrefix = "IMAGEWATCH"

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env         string        `mapstructure:"env"`
	ListenAddr  string        `mapstructure:"listen_addr"`
	DatabaseURL string        `mapstructure:"database_url"`
	Store       string        `mapstructure:"store"`
	Log         LogConfig     `mapstructure:"log"`
	Scan        ScanConfig    `mapstructure:"scan"`
	Trigger     TriggerConfig `mapstructure:"trigger"`
	Refresh     RefreshConfig `mapstructure:"refresh"`
	Stats       StatsConfig   `mapstructure:"stats"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ScanConfig drives the in-process scan runner. Workers = 0 disables it.
type ScanConfig struct {
	Workers       int           `mapstructure:"workers"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Delay         time.Duration `mapstructure:"delay"`
	FailureRate   float64       `mapstructure:"failure_rate"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// TriggerConfig points at a remote scan trigger. An empty URL means the
// in-process runner is invoked directly.
type TriggerConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Retries int           `mapstructure:"retries"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RefreshConfig struct {
	ImagesInterval time.Duration `mapstructure:"images_interval"`
	StatsInterval  time.Duration `mapstructure:"stats_interval"`
}

type StatsConfig struct {
	// ComparisonPeriod is the look-back, in months, for the change figures.
	ComparisonPeriod int `mapstructure:"comparison_period"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_url", "")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("scan.workers", 2)
	v.SetDefault("scan.poll_interval", 5*time.Second)
	v.SetDefault("scan.delay", 3*time.Second)
	v.SetDefault("scan.failure_rate", 0.1)
	v.SetDefault("scan.rate_per_second", 0)
	v.SetDefault("trigger.url", "")
	v.SetDefault("trigger.token", "")
	v.SetDefault("trigger.retries", 2)
	v.SetDefault("trigger.timeout", 10*time.Second)
	v.SetDefault("refresh.images_interval", 10*time.Second)
	v.SetDefault("refresh.stats_interval", 5*time.Second)
	v.SetDefault("stats.comparison_period", 1)
}

// NewViper returns a viper instance with defaults, the optional config file
// and IMAGEWATCH_* environment overrides applied.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("imagewatch")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "imagewatch"))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults and environment")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// BindFlags binds command flags to config keys so that flags take priority.
func BindFlags(v *viper.Viper, cmd *cobra.Command, flagMappings map[string]string) error {
	for flagName, key := range flagMappings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			flag = cmd.InheritedFlags().Lookup(flagName)
		}
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s to key %s: %w", flagName, key, err)
		}
	}
	return nil
}

func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the %s store", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Scan.FailureRate < 0 || c.Scan.FailureRate > 1 {
		return fmt.Errorf("scan.failure_rate must be within [0, 1], got %v", c.Scan.FailureRate)
	}
	if c.Stats.ComparisonPeriod < 1 {
		return fmt.Errorf("stats.comparison_period must be at least 1")
	}
	return nil
}
