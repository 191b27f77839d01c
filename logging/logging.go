// Package logging builds the zap loggers used by the sockopt binaries.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel = "SOCKOPT_LOG_LEVEL"
	EnvLogJSON  = "SOCKOPT_LOG_JSON"
)

type Config struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

func DefaultConfig() Config {
	return Config{Level: "info"}
}

// New builds a logger writing to stderr. Environment variables override cfg.
func New(cfg Config) (*zap.Logger, error) {
	applyEnvOverrides(&cfg)

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !cfg.JSON {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zc.Build()
}

// ParseLevel accepts zap level names plus "warning", "off" and "none".
func ParseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug", "trace":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "off", "none", "disabled":
		return zapcore.FatalLevel + 1, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", raw)
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogJSON))); err == nil {
		cfg.JSON = v
	}
}
