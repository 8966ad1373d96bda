// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"testing"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/ingestion"
)

func TestAdaptFile_ModuleAndFunctions(t *testing.T) {
	pr := &ingestion.ParseResult{
		File:        ingestion.FileEntity{Path: "pkg/widget/widget.go", Hash: "h1", Language: "go"},
		PackageName: "widget",
		Functions: []ingestion.FunctionEntity{
			{ID: "func:caller", Name: "Run", CodeText: "func Run() { Helper() }", StartLine: 1, EndLine: 3},
			{ID: "func:callee", Name: "Helper", CodeText: "func Helper() {}", StartLine: 5, EndLine: 5},
		},
		Calls: []ingestion.CallsEdge{
			{CallerID: "func:caller", CalleeID: "func:callee", CallLine: 2},
		},
	}

	af := adaptFile("repo1", pr, nil)

	if af.Module.Kind != entity.KindModule {
		t.Fatalf("expected module entity, got kind %q", af.Module.Kind)
	}
	if af.Module.QualifiedName.String() != "pkg.widget" {
		t.Fatalf("unexpected module qualified name: %q", af.Module.QualifiedName.String())
	}
	if len(af.Functions) != 2 {
		t.Fatalf("expected 2 functions, got %d", len(af.Functions))
	}

	caller := af.Functions[0]
	if caller.SimpleName != "Run" || caller.Kind != entity.KindFunction {
		t.Fatalf("unexpected caller entity: %+v", caller)
	}
	if len(caller.Relationships) != 1 {
		t.Fatalf("expected 1 relationship on caller, got %d", len(caller.Relationships))
	}
	rel := caller.Relationships[0]
	if rel.Kind != entity.RelCalls || rel.RawTarget != "pkg.widget.Helper" {
		t.Fatalf("unexpected call relationship: %+v", rel)
	}
}

func TestAdaptFile_MethodKindAndContainment(t *testing.T) {
	pr := &ingestion.ParseResult{
		File:        ingestion.FileEntity{Path: "pkg/widget/widget.go", Hash: "h1", Language: "go"},
		PackageName: "widget",
		Types: []ingestion.TypeEntity{
			{ID: "typ:builder", Name: "Builder", Kind: "struct", CodeText: "type Builder struct{}"},
		},
		Functions: []ingestion.FunctionEntity{
			{ID: "func:build", Name: "Builder.Build", CodeText: "func (b *Builder) Build() {}"},
		},
	}

	af := adaptFile("repo1", pr, nil)

	if len(af.Functions) != 1 || af.Functions[0].Kind != entity.KindMethod {
		t.Fatalf("expected method kind for receiver-style function name, got %+v", af.Functions)
	}
	if af.Functions[0].QualifiedName.String() != "pkg.widget.Builder.Build" {
		t.Fatalf("unexpected method qualified name: %q", af.Functions[0].QualifiedName.String())
	}
	if len(af.Types) != 1 || af.Types[0].QualifiedName.String() != "pkg.widget.Builder" {
		t.Fatalf("unexpected type qualified name: %+v", af.Types)
	}
}

func TestAdaptFile_ImplementsAndUsesType(t *testing.T) {
	pr := &ingestion.ParseResult{
		File:        ingestion.FileEntity{Path: "pkg/widget/widget.go", Hash: "h1", Language: "go"},
		PackageName: "widget",
		Types: []ingestion.TypeEntity{
			{ID: "typ:builder", Name: "Builder", Kind: "struct"},
		},
		Fields: []ingestion.FieldEntity{
			{StructName: "Builder", FieldName: "writer", FieldType: "Writer", Line: 4},
		},
	}
	implementsEdges := []ingestion.ImplementsEdge{
		{TypeName: "Builder", InterfaceName: "Writer", FilePath: pr.File.Path},
	}

	af := adaptFile("repo1", pr, implementsEdges)

	if len(af.Types[0].Relationships) != 1 || af.Types[0].Relationships[0].Kind != entity.RelImplementsTrait {
		t.Fatalf("expected IMPLEMENTS relationship on Builder, got %+v", af.Types[0].Relationships)
	}
	if len(af.Fields) != 1 || af.Fields[0].Relationships[0].RawTarget != "Writer" {
		t.Fatalf("expected USES_TYPE relationship to bare type name, got %+v", af.Fields)
	}
}

func TestBareTypeName_StripsDecoration(t *testing.T) {
	cases := map[string]string{
		"Writer":      "Writer",
		"*Writer":     "Writer",
		"[]Writer":    "Writer",
		"*pkg.Writer": "Writer",
		"":            "",
	}
	for in, want := range cases {
		if got := bareTypeName(in); got != want {
			t.Errorf("bareTypeName(%q) = %q, want %q", in, got, want)
		}
	}
}
