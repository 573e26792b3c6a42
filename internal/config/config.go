// Package config loads runtime settings from a .env file, an optional YAML
// file and IMAGEGEN_* environment variables, in that order of precedence
// (later wins). Command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"imagegen/internal/adapters/python"
	"imagegen/internal/adapters/xvfb"
	"imagegen/internal/core/domain"
)

const (
	envVarPrefix = "IMAGEGEN"
	appName      = "imagegen"
)

// Config holds every tunable. Environment variables are the upper snake case
// field names with the IMAGEGEN_ prefix, e.g. IMAGEGEN_OUTPUT_DIR.
type Config struct {
	OutputDir   string        `split_words:"true" yaml:"outputDir"`
	TestsDir    string        `split_words:"true" yaml:"testsDir"`
	Format      string        `split_words:"true" yaml:"format"`
	Interpreter string        `split_words:"true" yaml:"interpreter"`
	Timeout     time.Duration `split_words:"true" yaml:"timeout"`
	Display     string        `split_words:"true" yaml:"display"`
	Screen      string        `split_words:"true" yaml:"screen"`
	XvfbBinary  string        `split_words:"true" yaml:"xvfbBinary"`
	LibraryPath string        `split_words:"true" yaml:"libraryPath"`
	LogLevel    string        `split_words:"true" yaml:"logLevel"`
	LogFormat   string        `split_words:"true" yaml:"logFormat"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		OutputDir:   "/workspace/output",
		TestsDir:    "/workspace/tests",
		Format:      string(domain.FormatPNG),
		Interpreter: python.DefaultInterpreter,
		Timeout:     python.DefaultTimeout,
		Display:     xvfb.DefaultDisplay,
		Screen:      xvfb.DefaultScreen,
		XvfbBinary:  xvfb.DefaultBinary,
		LibraryPath: xvfb.DefaultLibraryPath,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load builds the configuration. A missing .env or config file is not an
// error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	c := Default()

	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if field := func() string {
		if c.OutputDir == "" {
			return "outputDir"
		}
		if c.TestsDir == "" {
			return "testsDir"
		}
		if c.Interpreter == "" {
			return "interpreter"
		}
		if c.Display == "" {
			return "display"
		}
		return ""
	}(); field != "" {
		return fmt.Errorf("validating config: missing required field `%s`", field)
	}

	if _, err := domain.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("validating config: timeout must be positive, got %s", c.Timeout)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("validating config: invalid log format `%s` (expected text|json)", c.LogFormat)
	}
	return nil
}

// ConfigureLogging applies the log level and formatter to the standard
// logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if strings.ToLower(c.LogFormat) == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.WithField("app", appName).Debug("logging configured")
	return nil
}
