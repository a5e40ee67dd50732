package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ivolkov/coinkeeper/internal/logger"
)

const (
	defaultLoggingLevel  = logger.LevelInfo
	defaultSweepInterval = time.Hour
)

type Config struct {
	// Default logging level
	LogLevel string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Used to sign access tokens, symmetric
	SecretKey string

	// How often expired token records are garbage collected
	SweepInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:      defaultLoggingLevel,
		SweepInterval: defaultSweepInterval,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}
			if d, err := time.ParseDuration(value); err == nil {
				*o = d
			}
		}
	}

	envMap := map[string]func(string){
		"DATABASE_URI":   setString(&c.DatabaseDSN),
		"SECRET_KEY":     setString(&c.SecretKey),
		"LOG_LEVEL":      setString(&c.LogLevel),
		"SWEEP_INTERVAL": setDuration(&c.SweepInterval),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("coinkeeper", pflag.ContinueOnError)

	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Expired token sweep interval")

	return fs.Parse(args)
}
