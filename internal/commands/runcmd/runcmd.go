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

// Package runcmd implements the run subcommand: execute one task attempt
// under coordinator control.
package runcmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/triggerkit/worker/internal/commands/shared"
	"github.com/triggerkit/worker/internal/config"
	"github.com/triggerkit/worker/internal/engine"
	"github.com/triggerkit/worker/internal/indexer"
	"github.com/triggerkit/worker/internal/log"
	"github.com/triggerkit/worker/internal/tracing"
	"github.com/triggerkit/worker/pkg/task"
)

// New creates the run command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one task attempt under coordinator control",
		Long: `Connect to the coordinator, wait for EXECUTE_TASK_RUN, and drive the
attempt through heartbeats, cancellation, and the terminal result. The
worker exits once the terminal message is flushed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.New(shared.LoggerConfig(cfg.Log))
	version, commit, _ := shared.GetVersion()
	logger.Info("trigger worker starting",
		"mode", "run",
		"version", version,
		"commit", commit,
		"instanceId", shared.InstanceID(),
		"transport", cfg.IPC.Transport)

	conn, err := shared.Dial(cfg, logger)
	if err != nil {
		return err
	}
	log.SetSink(conn)
	defer log.ClearSink()

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Console:        cfg.Telemetry.Console,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.FlushTimeout())
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	runner := engine.New(engine.Deps{
		Conn:     conn,
		Registry: task.Default(),
		Loader:   indexer.NewPluginLoader(logger),
		Logger:   logger,
		Tracing:  provider,
	}, engine.Config{
		HeartbeatInterval: cfg.Runtime.HeartbeatInterval(),
		FlushTimeout:      cfg.Runtime.FlushTimeout(),
	})

	return runner.Run(ctx)
}
