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

package versioncmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triggerkit/worker/internal/commands/shared"
)

func TestVersionOutput(t *testing.T) {
	shared.SetVersion("1.2.3", "abc123", "2026-08-25")

	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "trigger-worker version 1.2.3")
	assert.Contains(t, out.String(), "abc123")
}

func TestVersionJSONOutput(t *testing.T) {
	shared.SetVersion("1.2.3", "abc123", "2026-08-25")

	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	require.NoError(t, cmd.Execute())

	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "2026-08-25", info.BuildDate)
}
