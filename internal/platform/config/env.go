// Package config centralizes environment-variable and YAML-file configuration
// loading for the engine and its ambient stack.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/flowkit/durable/internal/platform/logger"
)

// GetEnv reads a string environment variable, falling back to def when unset.
func GetEnv(key, def string, log *logger.Logger) string {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", def)
		}
		return def
	}
	if log != nil {
		log.Debug("environment variable found", "value", val)
	}
	return val
}

// GetEnvAsInt reads an integer environment variable, falling back to def on
// absence or parse failure.
func GetEnvAsInt(key string, def int, log *logger.Logger) int {
	if log != nil {
		log = log.With("env_var", key)
	}
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as int, using default", "provided", raw, "default", def, "error", err)
		}
		return def
	}
	return v
}

// GetEnvAsBool reads a boolean environment variable. Accepts 1/true/yes/on.
func GetEnvAsBool(key string, def bool, log *logger.Logger) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch raw {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	case "0", "false", "FALSE", "False", "no", "off":
		return false
	default:
		if log != nil {
			log.Debug("environment variable could not be parsed as bool, using default", "env_var", key, "provided", raw, "default", def)
		}
		return def
	}
}

// GetEnvAsDuration reads a duration environment variable expressed as
// seconds (e.g. "30" -> 30s). Falls back to def on absence or parse failure.
func GetEnvAsDuration(key string, def time.Duration, log *logger.Logger) time.Duration {
	secs := GetEnvAsInt(key, -1, log)
	if secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
