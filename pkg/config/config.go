// Package config loads ztorch settings from ZTORCH_* environment variables.
package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Prefix of every environment variable read by Load.
const Prefix = "ztorch"

// Config holds the process-wide settings. CLI flags override these values.
// Seed feeds the placeholder inputs used for shape inference.
type Config struct {
	LogFile   string `envconfig:"LOG_FILE" default:"ztorch-converter.log"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Seed      int64  `envconfig:"SEED" default:"0"`
	OutputDir string `envconfig:"OUTPUT_DIR"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}

// NewLogger builds a JSON logger writing to LogFile.
func (c *Config) NewLogger() (*zap.Logger, error) {
	lvl, err := c.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{c.LogFile}
	zc.ErrorOutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", c.LogFile)
	}
	return logger, nil
}
