// Package logging adapts the scanner's config.json "logLevel" option
// (silent/error/warn/info/debug) onto gologger's level-filtered global
// logger.
package logging

import (
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"
)

// Configure sets gologger's max level from the scanner's logLevel string.
// Unrecognized values fall back to "info".
func Configure(logLevel string) {
	gologger.DefaultLogger.SetMaxLevel(levelFor(logLevel))
}

func levelFor(logLevel string) levels.Level {
	switch logLevel {
	case "silent":
		return levels.LevelSilent
	case "error":
		return levels.LevelError
	case "warn":
		return levels.LevelWarning
	case "info":
		return levels.LevelInfo
	case "debug":
		return levels.LevelDebug
	default:
		return levels.LevelInfo
	}
}

// Infof logs an informational message.
func Infof(format string, args ...interface{}) {
	gologger.Info().Msgf(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	gologger.Warning().Msgf(format, args...)
}

// Errorf logs an error.
func Errorf(format string, args ...interface{}) {
	gologger.Error().Msgf(format, args...)
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	gologger.Debug().Msgf(format, args...)
}
