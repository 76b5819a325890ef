package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"receiptvault/internal/domain/sync"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
	DriverMemory   = "memory"
)

type Config struct {
	Env    string
	DB     DB
	Server Server
	Store  Store
	Dynamo Dynamo
	Auth   Auth
	Sync   Sync
}

type DB struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type Server struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

type Store struct {
	Driver   string `env:"STORE_DRIVER"`
	PageSize int    `env:"SYNC_PAGE_SIZE"`
}

type Dynamo struct {
	Table    string `env:"DYNAMODB_TABLE"`
	Region   string `env:"AWS_REGION"`
	Endpoint string `env:"DYNAMODB_ENDPOINT"`
}

type Auth struct {
	Secret string `env:"AUTH_SECRET"`
}

type Sync struct {
	MaxBatchSize  int           `env:"SYNC_MAX_BATCH_SIZE"`
	RetryAttempts uint64        `env:"SYNC_RETRY_ATTEMPTS"`
	RetryBase     time.Duration `env:"SYNC_RETRY_BASE"`
	RetryMax      time.Duration `env:"SYNC_RETRY_MAX"`
	MergeBump     string        `env:"SYNC_MERGE_BUMP"`
}

// ServiceConfig converts the sync section into engine settings.
func (s Sync) ServiceConfig() (*sync.ServiceConfig, error) {
	bump, err := sync.ParseMergeBump(s.MergeBump)
	if err != nil {
		return nil, err
	}
	return &sync.ServiceConfig{
		MaxBatchSize:  s.MaxBatchSize,
		RetryAttempts: s.RetryAttempts,
		RetryBase:     s.RetryBase,
		RetryMax:      s.RetryMax,
		MergeBump:     bump,
	}, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("read_timeout", 15*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("dynamodb_table", "ReceiptVault")
	v.SetDefault("aws_region", "eu-west-1")
	v.SetDefault("sync_max_batch_size", 25)
	v.SetDefault("sync_page_size", 100)
	v.SetDefault("sync_retry_attempts", 5)
	v.SetDefault("sync_retry_base", 50*time.Millisecond)
	v.SetDefault("sync_retry_max", 2*time.Second)
	v.SetDefault("sync_merge_bump", string(sync.MergeBumpOnDiscrepancy))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from the environment, with an optional
// .env file in the working directory. Flags that were set on the command
// line win over the environment; a flag named run-address overrides
// RUN_ADDRESS.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	v := newViper()
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	cfg := &Config{
		Env: v.GetString("app_env"),
		DB: DB{
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: Server{
			RunAddress:      v.GetString("run_address"),
			ReadTimeout:     v.GetDuration("read_timeout"),
			WriteTimeout:    v.GetDuration("write_timeout"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		},
		Store: Store{
			Driver:   v.GetString("store_driver"),
			PageSize: v.GetInt("sync_page_size"),
		},
		Dynamo: Dynamo{
			Table:    v.GetString("dynamodb_table"),
			Region:   v.GetString("aws_region"),
			Endpoint: v.GetString("dynamodb_endpoint"),
		},
		Auth: Auth{Secret: v.GetString("auth_secret")},
		Sync: Sync{
			MaxBatchSize:  v.GetInt("sync_max_batch_size"),
			RetryAttempts: v.GetUint64("sync_retry_attempts"),
			RetryBase:     v.GetDuration("sync_retry_base"),
			RetryMax:      v.GetDuration("sync_retry_max"),
			MergeBump:     v.GetString("sync_merge_bump"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURI == "" {
			return errors.New("DATABASE_URI is required for the postgres store")
		}
	case DriverDynamoDB:
		if c.Dynamo.Table == "" {
			return errors.New("DYNAMODB_TABLE is required for the dynamodb store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Auth.Secret == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if c.Sync.MaxBatchSize <= 0 {
		return errors.New("SYNC_MAX_BATCH_SIZE must be positive")
	}
	if _, err := sync.ParseMergeBump(c.Sync.MergeBump); err != nil {
		return fmt.Errorf("SYNC_MERGE_BUMP: %w", err)
	}
	return nil
}
