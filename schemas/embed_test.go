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

package schemas

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

func TestBuildManifestSchemaEmbedded(t *testing.T) {
	schema := BuildManifestSchema()
	if len(schema) == 0 {
		t.Fatal("embedded schema is empty")
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		t.Fatalf("embedded schema is not valid JSON: %v", err)
	}
	if schemaMap["$id"] != BuildManifestSchemaID {
		t.Errorf("schema $id %v does not match BuildManifestSchemaID", schemaMap["$id"])
	}
}

func TestBuildManifestSchemaCompiles(t *testing.T) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(BuildManifestSchema()))
	if err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(BuildManifestSchemaID, doc); err != nil {
		t.Fatalf("add resource: %v", err)
	}
	schema, err := compiler.Compile(BuildManifestSchemaID)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	valid := map[string]any{
		"files": []any{
			map[string]any{"filePath": "tasks/hello.go"},
			map[string]any{"entry": "src/tasks/resize.ts"},
		},
		"runtime": "go",
	}
	if err := schema.Validate(valid); err != nil {
		t.Errorf("valid manifest rejected: %v", err)
	}

	invalid := map[string]any{"configPath": "trigger.config.json"}
	if err := schema.Validate(invalid); err == nil {
		t.Error("manifest without files accepted")
	}
}
