package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/service/validate"
)

const (
	defaultAPIURL         = "http://localhost:8000"
	defaultLoggingLevel   = logger.LevelWarn
	defaultEnvironment    = logger.EnvDevelopment
	defaultRequestTimeout = 15 * time.Second
	defaultRefreshTimeout = 10 * time.Second
	sessionFileName       = "session.json"
)

type Config struct {
	// Base URL of the storefront API
	APIURL string `validate:"required,http_url"`

	// File the session (tokens and user) is persisted to
	// Processes sharing the file share the session
	SessionFile string `validate:"required"`

	// Default logging level
	LogLevel string `validate:"oneof=debug info warn error"`

	// Environment: 'dev' logs text, 'prod' logs JSON
	Environment string `validate:"oneof=dev prod"`

	// Timeout of a single API request
	RequestTimeout time.Duration `validate:"gt=0"`

	// Timeout of the token refresh call
	RefreshTimeout time.Duration `validate:"gt=0"`
}

func NewConfig() *Config {
	return &Config{
		APIURL:         defaultAPIURL,
		SessionFile:    defaultSessionFile(),
		LogLevel:       defaultLoggingLevel,
		Environment:    defaultEnvironment,
		RequestTimeout: defaultRequestTimeout,
		RefreshTimeout: defaultRefreshTimeout,
	}
}

// Session lives in user config dir, or in working dir if there is no such
func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".storefront", sessionFileName)
	}
	return filepath.Join(dir, "storefront", sessionFileName)
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"API_URL":         setString(&c.APIURL),
		"SESSION_FILE":    setString(&c.SessionFile),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
		"REQUEST_TIMEOUT": setDuration(&c.RequestTimeout),
		"REFRESH_TIMEOUT": setDuration(&c.RefreshTimeout),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// ParseFlags parses global flags up to the command name
// Returns the command with its arguments
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("storefront", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&c.APIURL, "api-url", "u", c.APIURL, "Storefront API base URL")
	fs.StringVarP(&c.SessionFile, "session-file", "f", c.SessionFile, "Session file path")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "API request timeout")
	fs.DurationVar(&c.RefreshTimeout, "refresh-timeout", c.RefreshTimeout, "Token refresh timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return fs.Args(), nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
