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

// Package importmap builds the per-file alias table an extractor plugin
// consults to turn a qualified reference ("json.Marshal", "np.array") into
// an import path before resolution. It is built once per file during
// extraction and owned by that file's extraction task; nothing in this
// package is shared across files or synchronized.
package importmap

// Entry is a single import/use statement as captured by an extractor
// plugin, before any path semantics have been applied to it.
type Entry struct {
	ImportPath string // e.g. "encoding/json", "numpy", "crate::util"
	Alias      string // "" means "use the path's default alias"
	GlobImport bool   // true for `use foo::*` / `from foo import *`
	Line       int
}

// Map is a single file's resolved alias table: the names a reference's
// qualifier can be, and what each one ultimately names.
type Map struct {
	// ByAlias maps the alias a reference is qualified with to the import
	// path it names, e.g. {"json": "encoding/json"}.
	ByAlias map[string]string
	// GlobImports lists import paths brought in with a glob/wildcard form,
	// consulted as a fallback when a bare name has no matching alias.
	GlobImports []string
}

// defaultAlias derives the alias an import uses when the source didn't
// give it one explicitly: the last path component, exactly as the
// teacher's resolver does (filepath.Base(imp.ImportPath)).
func defaultAlias(importPath string) string {
	for i := len(importPath) - 1; i >= 0; i-- {
		switch importPath[i] {
		case '/', ':':
			return importPath[i+1:]
		}
	}
	return importPath
}

// Build constructs a file's import map from its captured import entries.
// Blank imports (alias "_") are recorded nowhere: they exist for their
// side effects, never as a qualifier a reference could use.
func Build(entries []Entry) Map {
	m := Map{ByAlias: make(map[string]string, len(entries))}
	for _, e := range entries {
		if e.GlobImport {
			m.GlobImports = append(m.GlobImports, e.ImportPath)
			continue
		}
		alias := e.Alias
		if alias == "_" {
			continue
		}
		if alias == "" {
			alias = defaultAlias(e.ImportPath)
		}
		m.ByAlias[alias] = e.ImportPath
	}
	return m
}

// Lookup resolves a reference's qualifier to the import path it names.
// ok is false when alias matches no known import — the caller should then
// try GlobImports before concluding the reference is unqualified/local.
func (m Map) Lookup(alias string) (importPath string, ok bool) {
	importPath, ok = m.ByAlias[alias]
	return importPath, ok
}
