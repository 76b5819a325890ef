package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultServerAddress = "http://localhost:8080"
	defaultEnv           = "local"
	defaultConfigDir     = ".receiptvault"
	defaultDBName        = "receipts.db"
	configName           = "config"
)

type Config struct {
	Env           string
	ServerAddress string
	Token         string
	ConfigDir     string
	DBPath        string
	// BatchSize is the number of records per push request.
	BatchSize int
	Timeout   time.Duration
	// RetryAttempts bounds retries of requests the server answered with 503.
	RetryAttempts uint64
}

// Load reads ~/.receiptvault/config.yaml (or cfgFile), then the environment,
// then the flags. The config file is optional.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configDir := filepath.Join(home, defaultConfigDir)

	v := viper.New()
	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("server_address", defaultServerAddress)
	v.SetDefault("config_dir", configDir)
	v.SetDefault("batch_size", 25)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("retry_attempts", 3)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(configDir)
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	cfg := &Config{
		Env:           v.GetString("app_env"),
		ServerAddress: normalizeAddress(v.GetString("server_address")),
		Token:         v.GetString("token"),
		ConfigDir:     v.GetString("config_dir"),
		DBPath:        v.GetString("db_path"),
		BatchSize:     v.GetInt("batch_size"),
		Timeout:       v.GetDuration("timeout"),
		RetryAttempts: v.GetUint64("retry_attempts"),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.ConfigDir, defaultDBName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("server_address must not be empty")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	return nil
}

// normalizeAddress accepts host:port and defaults the scheme to http.
func normalizeAddress(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if addr == "" || strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}
