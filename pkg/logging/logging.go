// Package logging configures colored structured logging with tint for the
// ledger binaries.
//
// The server logs every RPC, sign-in and ledger write at INFO. The ledger CLI
// prints its results to stdout, so it logs to stderr at WARN and only
// failures such as a lost change stream show up between command output.
//
// Usage:
//
//	logging.Setup()                          // server: INFO unless LOG_LEVEL says otherwise
//	logging.SetupWithDefault(slog.LevelWarn) // CLI: WARN unless LOG_LEVEL says otherwise
//	logging.SetupWithLevel(slog.LevelDebug)  // explicit level override
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info)
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures colored logging at the level specified by LOG_LEVEL env var
// (default: INFO).
func Setup() {
	SetupWithDefault(slog.LevelInfo)
}

// SetupWithDefault configures colored logging at the LOG_LEVEL level, or at
// fallback when LOG_LEVEL is unset or unknown.
func SetupWithDefault(fallback slog.Level) {
	SetupWithLevel(levelFromEnv(fallback))
}

// SetupWithLevel configures colored logging at the given level.
func SetupWithLevel(level slog.Level) {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			AddSource:  level <= slog.LevelDebug,
		}),
	))
}

func levelFromEnv(fallback slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
