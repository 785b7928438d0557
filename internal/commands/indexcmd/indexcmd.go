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

// Package indexcmd implements the index subcommand: load every task file the
// build manifest names and report the catalog to the coordinator.
package indexcmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/triggerkit/worker/internal/commands/shared"
	"github.com/triggerkit/worker/internal/config"
	"github.com/triggerkit/worker/internal/indexer"
	"github.com/triggerkit/worker/internal/log"
	"github.com/triggerkit/worker/internal/manifest"
	"github.com/triggerkit/worker/pkg/task"
)

// New creates the index command.
func New() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Load task files and emit the catalog",
		Long: `Read the build manifest, load every task file it names, and send the
resulting task catalog to the coordinator. A missing or invalid manifest
fails the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false,
		"keep running and re-index whenever the build manifest is rewritten")

	return cmd
}

func run(ctx context.Context, watch bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.New(shared.LoggerConfig(cfg.Log))
	version, _, _ := shared.GetVersion()
	logger.Info("trigger worker starting",
		"mode", "index",
		"version", version,
		"instanceId", shared.InstanceID(),
		"transport", cfg.IPC.Transport,
		"manifest", cfg.Manifest.Path)

	conn, err := shared.Dial(cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Stop()
	log.SetSink(conn)
	defer log.ClearSink()

	// Indexing only sends, but the connection's send side runs inside
	// Listen, so keep a listener going for the lifetime of the command.
	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	go func() {
		if err := conn.Listen(listenCtx); err != nil {
			logger.Warn("connection closed", "error", err)
		}
	}()

	m, err := manifest.Load(cfg.Manifest.Path, logger)
	if err != nil {
		return err
	}

	ix := indexer.New(conn, task.Default(), indexer.NewPluginLoader(logger), logger, indexer.Options{
		FlatCatalog: cfg.IPC.Transport == config.TransportGRPC,
	})

	if err := ix.Index(ctx, m); err != nil {
		return err
	}

	if watch {
		watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := ix.Watch(watchCtx, cfg.Manifest.Path); err != nil {
			return err
		}
	}

	if err := conn.Flush(cfg.Runtime.FlushTimeout()); err != nil {
		logger.Warn("catalog flush failed", "error", err)
	}
	return nil
}
