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

// Package shared holds helpers common to the worker subcommands: version
// metadata, logger construction, and transport dialing.
package shared

import (
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/triggerkit/worker/internal/config"
	"github.com/triggerkit/worker/internal/ipc"
	"github.com/triggerkit/worker/internal/log"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	instanceID = uuid.NewString()
)

// InstanceID returns the identifier minted for this worker process. It ties
// diagnostic output from one spawn together across transports.
func InstanceID() string {
	return instanceID
}

// SetVersion stores build metadata injected via ldflags.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version, commit, and build date.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// LoggerConfig merges the loaded configuration onto the logger defaults.
func LoggerConfig(cfg config.LogConfig) *log.Config {
	lcfg := log.DefaultConfig()

	if cfg.Debug {
		lcfg.Level = "debug"
		lcfg.AddSource = true
	} else if cfg.Level != "" {
		lcfg.Level = cfg.Level
	}
	if cfg.Format != "" {
		lcfg.Format = log.Format(cfg.Format)
	}
	if cfg.AddSource {
		lcfg.AddSource = true
	}
	return lcfg
}

// Dial opens the coordinator connection the configuration selects.
func Dial(cfg *config.Config, logger *slog.Logger) (ipc.Connection, error) {
	if cfg.IPC.Transport == config.TransportGRPC {
		return ipc.DialGRPC(cfg.IPC.GRPCAddress, logger)
	}
	return ipc.NewStdio(os.Stdin, os.Stdout, logger), nil
}
