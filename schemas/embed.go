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

// Package schemas provides access to embedded JSON schemas.
package schemas

import (
	_ "embed"
)

// Embed the build-manifest JSON Schema into the binary so manifest
// validation needs no files at runtime.
//
//go:embed build-manifest.schema.json
var buildManifestSchema []byte

// BuildManifestSchema returns the embedded build-manifest JSON Schema as raw
// bytes.
func BuildManifestSchema() []byte {
	return buildManifestSchema
}

// BuildManifestSchemaID is the canonical identifier of the embedded schema,
// usable as a compiler resource name.
const BuildManifestSchemaID = "https://triggerkit.dev/schemas/build-manifest.schema.json"
