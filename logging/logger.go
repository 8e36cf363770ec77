// Package logging provides the configured zap logger shared by the TLS
// engine and its front-end tooling.
package logging

import (
	"os"

	"go.uber.org/zap"
)

// Config holds the knobs for logger construction.
type Config struct {
	ServiceName string
	Development bool // console output with debug level
}

// New builds a logger: JSON at Info for production, console at Debug
// for development.
func New(config Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	if config.ServiceName != "" {
		logger = logger.With(zap.String("service", config.ServiceName))
	}
	return logger, nil
}

// NewFromEnv builds a logger configured through environment variables.
func NewFromEnv(serviceName string) (*zap.Logger, error) {
	return New(Config{
		ServiceName: serviceName,
		Development: GetEnvOrDefault("DEVELOPMENT", "false") == "true",
	})
}

// GetEnvOrDefault returns the variable's value, or a fallback when it
// is unset.
func GetEnvOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
