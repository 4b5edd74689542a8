// Package logging builds the zap loggers shared by every crawler process.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger for the named process. Development mode uses a
// colored console encoder; production emits JSON with ISO8601 timestamps.
// Every entry carries a "component" field so logs from the API server,
// worker, and migrate processes can be separated downstream.
func New(component string, development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", component, err)
	}
	return logger.With(zap.String("component", component)), nil
}
