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

// trigger-worker is the child process a coordinator spawns for one lifecycle:
// index the task catalog, or execute a single task attempt.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/triggerkit/worker/internal/commands/indexcmd"
	"github.com/triggerkit/worker/internal/commands/runcmd"
	"github.com/triggerkit/worker/internal/commands/shared"
	"github.com/triggerkit/worker/internal/commands/versioncmd"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	shared.SetVersion(version, commit, buildDate)

	root := &cobra.Command{
		Use:   "trigger-worker",
		Short: "Task worker runtime",
		Long: `trigger-worker hosts user-defined tasks for a coordinator. The index
subcommand loads task files and reports the catalog; the run subcommand
executes one task attempt and exits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		runcmd.New(),
		indexcmd.New(),
		versioncmd.New(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "trigger-worker: %v\n", err)
		os.Exit(1)
	}
}
