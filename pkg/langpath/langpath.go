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

// Package langpath implements the LanguagePath model each extractor plugin
// uses to interpret an import/use statement before it has been resolved to
// a concrete entity. The teacher's resolver (pkg/ingestion/resolver.go)
// played the same game with raw strings: buildImportPathMapping split on
// "/" and compared suffixes by hand. This package gives that logic a
// closed type instead.
package langpath

import "strings"

// Form is the closed set of path shapes a source-level import can take.
type Form int

const (
	// FormAbsolute is a fully qualified path from the language's root
	// namespace, e.g. a Go import path or a Python absolute import.
	FormAbsolute Form = iota
	// FormCrate is rooted at the current compilation unit's own root
	// (Rust's `crate::`, a Python absolute-within-package import).
	FormCrate
	// FormSelfRelative refers to the current module/package, unqualified.
	FormSelfRelative
	// FormSuper walks up Levels enclosing modules before resolving the
	// remaining segments (Rust's `super::`, Python's leading dots).
	FormSuper
	// FormExternal names a third-party dependency outside the repository.
	FormExternal
)

// LanguagePath is a parsed import/use path plus enough context to decide,
// without touching the filesystem, whether it names something inside the
// repository or an external dependency.
type LanguagePath struct {
	Form     Form
	Segments []string
	Levels   int // meaningful only for FormSuper
	Raw      string
}

// PathConfig tells Parse how a given language spells its path forms.
type PathConfig struct {
	Separator       string   // "::" for Rust, "." for Python, "/" for Go
	CrateKeyword    string   // "crate" for Rust, "" if unsupported
	SuperKeyword    string   // "super" for Rust, "" if unsupported
	SelfKeyword     string   // "self" for Rust/Python, "" if unsupported
	StdlibPrefixes  []string // e.g. {"std", "core", "alloc"} for Rust
	ModuleRootPaths []string // first-party root import paths/prefixes
}

// Parse interprets raw according to cfg without consulting the filesystem.
func Parse(raw string, cfg PathConfig) LanguagePath {
	sep := cfg.Separator
	if sep == "" {
		sep = "::"
	}
	trimmed := raw

	levels := 0
	for cfg.SuperKeyword != "" && strings.HasPrefix(trimmed, cfg.SuperKeyword) {
		trimmed = strings.TrimPrefix(trimmed, cfg.SuperKeyword)
		trimmed = strings.TrimPrefix(trimmed, sep)
		levels++
	}
	if levels > 0 {
		return LanguagePath{Form: FormSuper, Segments: splitNonEmpty(trimmed, sep), Levels: levels, Raw: raw}
	}

	if cfg.CrateKeyword != "" && (trimmed == cfg.CrateKeyword || strings.HasPrefix(trimmed, cfg.CrateKeyword+sep)) {
		rest := strings.TrimPrefix(trimmed, cfg.CrateKeyword)
		rest = strings.TrimPrefix(rest, sep)
		return LanguagePath{Form: FormCrate, Segments: splitNonEmpty(rest, sep), Raw: raw}
	}

	if cfg.SelfKeyword != "" && (trimmed == cfg.SelfKeyword || strings.HasPrefix(trimmed, cfg.SelfKeyword+sep)) {
		rest := strings.TrimPrefix(trimmed, cfg.SelfKeyword)
		rest = strings.TrimPrefix(rest, sep)
		return LanguagePath{Form: FormSelfRelative, Segments: splitNonEmpty(rest, sep), Raw: raw}
	}

	segments := splitNonEmpty(trimmed, sep)
	if isExternalBySegments(segments, cfg) {
		return LanguagePath{Form: FormExternal, Segments: segments, Raw: raw}
	}
	return LanguagePath{Form: FormAbsolute, Segments: segments, Raw: raw}
}

// IsExternal reports whether p names a dependency outside the repository.
func (p LanguagePath) IsExternal() bool {
	return p.Form == FormExternal
}

// Resolve rewrites p into an absolute segment list given the segments of
// the module currently containing it (used for FormSuper/FormSelfRelative).
func Resolve(p LanguagePath, containingModule []string) []string {
	switch p.Form {
	case FormSelfRelative:
		return append(append([]string(nil), containingModule...), p.Segments...)
	case FormCrate:
		// crate::rest is rooted at the crate/package head, discarding
		// whatever module currently contains the reference.
		return append([]string(nil), p.Segments...)
	case FormSuper:
		base := containingModule
		if p.Levels <= len(base) {
			base = base[:len(base)-p.Levels]
		} else {
			base = nil
		}
		return append(append([]string(nil), base...), p.Segments...)
	default:
		return p.Segments
	}
}

func isExternalBySegments(segments []string, cfg PathConfig) bool {
	if len(segments) == 0 {
		return false
	}
	head := segments[0]
	for _, std := range cfg.StdlibPrefixes {
		if head == std {
			return true
		}
	}
	if len(cfg.ModuleRootPaths) == 0 {
		return false
	}
	for _, root := range cfg.ModuleRootPaths {
		if head == root || strings.HasPrefix(strings.Join(segments, "/"), root) {
			return false
		}
	}
	return true
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
