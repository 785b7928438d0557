// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log configures structured logging for the worker. Records flow to
// the ambient IPC channel as LOG wire messages while a connection is
// installed and running, and to stderr otherwise. Stdout is never written:
// under the stdio transport it belongs exclusively to the coordinator
// channel.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs as line-delimited JSON for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Default: info
	Level string

	// Format sets the output format (json, text).
	// Default: text when stderr is a terminal, json otherwise.
	Format Format

	// Output is the writer for diagnostic log output.
	// Default: os.Stderr
	Output io.Writer

	// AddSource adds source file and line information to logs.
	// Default: false
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    detectFormat(),
		Output:    os.Stderr,
		AddSource: false,
	}
}

// detectFormat picks text output for interactive terminals and JSON for
// everything else.
func detectFormat() Format {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return FormatText
	}
	return FormatJSON
}

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - TRIGGER_DEBUG: true/1 to enable debug level and source logging
//   - TRIGGER_LOG_LEVEL: debug, info, warn, error (default: info)
//   - TRIGGER_LOG_FORMAT: json, text (default: auto-detected)
//   - TRIGGER_LOG_SOURCE: 1 to enable source file/line (default: 0)
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("TRIGGER_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("TRIGGER_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("TRIGGER_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("TRIGGER_LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New creates a structured logger from the given configuration. The returned
// logger forwards records over the ambient IPC sink when one is installed and
// falls back to the configured output when not.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var fallback slog.Handler
	switch cfg.Format {
	case FormatText:
		fallback = slog.NewTextHandler(cfg.Output, opts)
	case FormatJSON:
		fallthrough
	default:
		fallback = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(newIPCHandler(fallback, level))
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// levelString renders an slog level the way the wire schema expects: the
// standard levels in lower case, custom levels through slog's own rendering
// (e.g. "debug-4") as the escape hatch.
func levelString(level slog.Level) string {
	return strings.ToLower(level.String())
}

// WithComponent returns a new logger with a component name field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
