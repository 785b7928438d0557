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

// Package config loads worker configuration. Precedence, lowest to highest:
// struct defaults, the optional YAML file named by TRIGGER_WORKER_CONFIG_PATH,
// environment variables. TRIGGER_ENV_FILE names an optional dotenv file
// loaded before the environment is read; variables already set win.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Transport selects the IPC transport.
type Transport string

// Supported transports.
const (
	TransportStdio Transport = "stdio"
	TransportGRPC  Transport = "grpc"
)

// Config is the complete worker configuration.
type Config struct {
	Manifest  ManifestConfig  `yaml:"manifest"`
	IPC       IPCConfig       `yaml:"ipc"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ManifestConfig locates the build manifest.
type ManifestConfig struct {
	// Path to the build manifest produced by the bundler.
	Path string `yaml:"path" env:"TRIGGER_BUILD_MANIFEST_PATH"`
}

// IPCConfig selects and parameterises the coordinator transport.
type IPCConfig struct {
	// Transport is "stdio" or "grpc".
	Transport Transport `yaml:"transport" env:"TRIGGER_IPC_TRANSPORT"`

	// GRPCAddress is the coordinator endpoint, "unix:/path" or "host:port".
	// Required when Transport is "grpc".
	GRPCAddress string `yaml:"grpc_address" env:"TRIGGER_GRPC_ADDRESS"`
}

// RuntimeConfig parameterises the execution engine.
type RuntimeConfig struct {
	HeartbeatIntervalMs int64 `yaml:"heartbeat_interval_ms" env:"TRIGGER_HEARTBEAT_INTERVAL_MS"`
	FlushTimeoutMs      int64 `yaml:"flush_timeout_ms" env:"TRIGGER_FLUSH_TIMEOUT_MS"`
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (c RuntimeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// FlushTimeout returns the terminal flush deadline as a duration.
func (c RuntimeConfig) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMs) * time.Millisecond
}

// LogConfig parameterises the diagnostic logger.
type LogConfig struct {
	Level     string `yaml:"level" env:"TRIGGER_LOG_LEVEL"`
	Format    string `yaml:"format" env:"TRIGGER_LOG_FORMAT"`
	AddSource bool   `yaml:"add_source" env:"TRIGGER_LOG_SOURCE"`
	Debug     bool   `yaml:"debug" env:"TRIGGER_DEBUG"`
}

// TelemetryConfig parameterises trace export.
type TelemetryConfig struct {
	// OTLPEndpoint enables the OTLP gRPC exporter when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"TRIGGER_OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Console mirrors spans to stderr for local debugging.
	Console bool `yaml:"console" env:"TRIGGER_OTEL_CONSOLE"`
}

// Default returns the configuration with every knob at its default.
func Default() *Config {
	return &Config{
		Manifest: ManifestConfig{Path: "./build-manifest.json"},
		IPC:      IPCConfig{Transport: TransportStdio},
		Runtime: RuntimeConfig{
			HeartbeatIntervalMs: 5000,
			FlushTimeoutMs:      10000,
		},
	}
}

// Load assembles the configuration: dotenv file, YAML overlay, environment,
// then validation.
func Load() (*Config, error) {
	if envFile := os.Getenv("TRIGGER_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: loading env file %s: %w", envFile, err)
		}
	}

	cfg := Default()

	if path := os.Getenv("TRIGGER_WORKER_CONFIG_PATH"); path != "" {
		if err := applyYAML(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyYAML overlays the YAML file onto cfg. The file is optional
// configuration, so a strict decode rejects unknown keys early.
func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.IPC.Transport {
	case TransportStdio:
	case TransportGRPC:
		if c.IPC.GRPCAddress == "" {
			return fmt.Errorf("%w: gRPC transport selected without TRIGGER_GRPC_ADDRESS", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.IPC.Transport)
	}

	if c.Manifest.Path == "" {
		return fmt.Errorf("%w: manifest path must not be empty", ErrInvalidConfig)
	}
	if c.Runtime.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive, got %d", ErrInvalidConfig, c.Runtime.HeartbeatIntervalMs)
	}
	if c.Runtime.FlushTimeoutMs <= 0 {
		return fmt.Errorf("%w: flush timeout must be positive, got %d", ErrInvalidConfig, c.Runtime.FlushTimeoutMs)
	}
	return nil
}
