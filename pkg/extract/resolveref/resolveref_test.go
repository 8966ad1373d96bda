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

package resolveref

import (
	"testing"

	"github.com/loganmoon/codesearch-sub001/pkg/extract/importmap"
	"github.com/loganmoon/codesearch-sub001/pkg/langpath"
)

func rustConfig() langpath.PathConfig {
	return langpath.PathConfig{
		Separator:    "::",
		CrateKeyword: "crate",
		SuperKeyword: "super",
		SelfKeyword:  "self",
		StdlibPrefixes: []string{"std", "core", "alloc"},
	}
}

func TestResolve_SuperSibling(t *testing.T) {
	ctx := Context{
		PackageName:   "mycrate",
		CurrentModule: []string{"mycrate", "a", "b"},
		PathConfig:    rustConfig(),
	}
	got := Resolve("super::sibling", "sibling", ctx)
	want := "mycrate::a::sibling"
	if got.Target != want {
		t.Errorf("Target = %q, want %q", got.Target, want)
	}
	if got.IsExternal {
		t.Error("super:: reference should not be external")
	}
}

func TestResolve_QualifiedViaImportAlias(t *testing.T) {
	imports := importmap.Build([]importmap.Entry{
		{ImportPath: "encoding/json", Alias: "json"},
	})
	ctx := Context{
		PackageName: "main",
		Imports:     imports,
		PathConfig:  langpath.PathConfig{Separator: "."},
	}
	got := Resolve("json.Marshal", "Marshal", ctx)
	if got.Target != "encoding/json.Marshal" {
		t.Errorf("Target = %q, want encoding/json.Marshal", got.Target)
	}
}

func TestResolve_SimpleNameGlobFallback(t *testing.T) {
	imports := importmap.Build([]importmap.Entry{
		{ImportPath: "std::collections", GlobImport: true},
	})
	ctx := Context{
		PackageName: "mycrate",
		Imports:     imports,
		PathConfig:  rustConfig(),
	}
	got := Resolve("HashMap", "HashMap", ctx)
	if got.Target != "std::collections::HashMap" {
		t.Errorf("Target = %q, want std::collections::HashMap", got.Target)
	}
}

func TestResolve_KnownStdlibShortCircuits(t *testing.T) {
	ctx := Context{PathConfig: rustConfig(), KnownStdlib: []string{"String"}}
	got := Resolve("String", "String", ctx)
	if !got.IsExternal {
		t.Error("known stdlib type should resolve as external")
	}
}
