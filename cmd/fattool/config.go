package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/weberc2/clusterfs/pkg/pgdevice"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "FATTOOL"
	appName      = "fattool"

	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend    string `envconfig:"BACKEND"     yaml:"backend"`
	Image      string `envconfig:"IMAGE"       yaml:"image"`
	Sectors    uint32 `envconfig:"SECTORS"     yaml:"sectors"`
	PGTable    string `envconfig:"PG_TABLE"    yaml:"pgTable"`
	Bucket     string `envconfig:"BUCKET"      yaml:"bucket"`
	Prefix     string `envconfig:"PREFIX"      yaml:"prefix"`
	Region     string `envconfig:"REGION"      yaml:"region"`
	S3Endpoint string `envconfig:"S3_ENDPOINT" yaml:"s3Endpoint"`
	Compress   bool   `envconfig:"COMPRESS"    yaml:"compress"`
	LogLevel   string `envconfig:"LOG_LEVEL"   yaml:"logLevel"`
}

func DefaultConfig() Config {
	return Config{
		Backend:  BackendFile,
		Sectors:  8192,
		PGTable:  pgdevice.DefaultTable,
		Prefix:   "snapshots",
		Region:   "us-east-1",
		Compress: true,
		LogLevel: "info",
	}
}

// LoadConfig starts from the defaults, applies the config file if there is
// one, then applies `FATTOOL_*` environment variables.
func LoadConfig() (*Config, error) {
	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating config file: %w", err)
		}
		configFile = filepath.Join(home, ".config", appName+".yaml")
	}

	c := DefaultConfig()
	data, err := os.ReadFile(configFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf(
			"unmarshaling config file `%s`: %w",
			configFile,
			err,
		)
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.Backend == "" {
			return "backend", "BACKEND"
		}
		if c.Backend == BackendFile && c.Image == "" {
			return "image", "IMAGE"
		}
		if c.Backend == BackendPostgres && c.PGTable == "" {
			return "pgTable", "PG_TABLE"
		}
		if c.Sectors == 0 {
			return "sectors", "SECTORS"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"missing required configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}

	if c.Backend != BackendFile && c.Backend != BackendPostgres {
		return fmt.Errorf(
			"invalid backend `%s`: wanted `%s` or `%s`",
			c.Backend,
			BackendFile,
			BackendPostgres,
		)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level `%s`: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger writes text logs to stderr at the configured level.
func (c *Config) Logger() *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(
		os.Stderr,
		&slog.HandlerOptions{Level: level},
	))
}
