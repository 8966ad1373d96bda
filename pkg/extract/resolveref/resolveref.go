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

// Package resolveref turns a raw, textual reference captured during
// extraction ("json.Marshal", "super::util::helper") into a best-effort
// qualified target string, without ever touching the entity graph. It
// mirrors the two-step shape of the teacher's CallResolver.resolveCall:
// try a qualified (dotted/namespaced) lookup first, then fall back to
// dot-import/glob resolution — generalized here to run over the structured
// langpath.LanguagePath instead of raw strings.Split(".").
//
// This package never fails: an unresolved name still produces a usable
// best-effort target, leaving the decision of whether that target actually
// exists to pkg/resolve's GenericResolver.
package resolveref

import (
	"strings"

	"github.com/loganmoon/codesearch-sub001/pkg/extract/importmap"
	"github.com/loganmoon/codesearch-sub001/pkg/langpath"
)

// Context carries everything a single reference needs to be resolved
// without consulting the filesystem or the entity store.
type Context struct {
	PackageName    string   // the package/crate/module the reference appears in
	CurrentModule  []string // innermost enclosing module path, innermost last
	ParentScope    []string // immediate lexical scope (e.g. enclosing function/impl)
	Imports        importmap.Map
	PathConfig     langpath.PathConfig
	KnownStdlib    []string // exact names treated as well-known stdlib/edge cases
	ExternalCrates []string // first segments known to be external dependencies
}

// ResolvedReference is resolve_reference's output: a best-effort target
// plus enough metadata for the relationship resolver to decide what to do
// with it.
type ResolvedReference struct {
	Target     string
	SimpleName string
	IsExternal bool
}

// Resolve implements spec.md §4.4's five-step resolution order, first hit
// wins. name is the raw reference text as captured at extraction time;
// simpleName is its final, unqualified component.
func Resolve(name, simpleName string, ctx Context) ResolvedReference {
	// Step 1: language edge-case handlers (well-known stdlib types short-circuit
	// before any path parsing, exactly as the teacher's isPrimitiveOrBuiltinType
	// check precedes call resolution).
	if isKnownStdlib(simpleName, ctx.KnownStdlib) {
		return ResolvedReference{Target: simpleName, SimpleName: simpleName, IsExternal: true}
	}

	path := langpath.Parse(name, ctx.PathConfig)

	// Step 2: relative forms resolve against the current module immediately.
	switch path.Form {
	case langpath.FormSelfRelative, langpath.FormSuper, langpath.FormCrate:
		segs := langpath.Resolve(path, ctx.CurrentModule)
		return ResolvedReference{
			Target:     strings.Join(segs, pathSep(ctx.PathConfig)),
			SimpleName: simpleName,
			IsExternal: false,
		}
	}

	// Step 3: already-classified external path.
	if path.Form == langpath.FormExternal {
		return ResolvedReference{Target: name, SimpleName: simpleName, IsExternal: true}
	}

	// Step 4: qualified name (more than one segment) — try the import map.
	if len(path.Segments) > 1 {
		return resolveQualified(path, simpleName, ctx)
	}

	// Step 5: simple (unqualified) name.
	return resolveSimple(simpleName, ctx)
}

func resolveQualified(path langpath.LanguagePath, simpleName string, ctx Context) ResolvedReference {
	alias := path.Segments[0]
	if importPath, ok := ctx.Imports.Lookup(alias); ok {
		rest := append([]string(nil), path.Segments[1:]...)
		target := strings.Join(append([]string{importPath}, rest...), pathSep(ctx.PathConfig))
		return ResolvedReference{Target: target, SimpleName: simpleName, IsExternal: isExternalCrate(importPath, ctx.ExternalCrates)}
	}
	// First segment already names the current package: no prepend needed.
	if alias == ctx.PackageName || isExternalCrate(alias, ctx.ExternalCrates) {
		return ResolvedReference{
			Target:     strings.Join(path.Segments, pathSep(ctx.PathConfig)),
			SimpleName: simpleName,
			IsExternal: isExternalCrate(alias, ctx.ExternalCrates),
		}
	}
	// Otherwise prepend the package name, matching the teacher's
	// resolveQualifiedCall fallback of treating an unknown qualifier as a
	// same-package reference.
	full := append([]string{ctx.PackageName}, path.Segments...)
	return ResolvedReference{Target: strings.Join(full, pathSep(ctx.PathConfig)), SimpleName: simpleName}
}

func resolveSimple(simpleName string, ctx Context) ResolvedReference {
	if importPath, ok := ctx.Imports.Lookup(simpleName); ok {
		return ResolvedReference{Target: importPath, SimpleName: simpleName, IsExternal: isExternalCrate(importPath, ctx.ExternalCrates)}
	}
	if len(ctx.Imports.GlobImports) > 0 {
		target := strings.Join(append([]string{ctx.Imports.GlobImports[0]}, simpleName), pathSep(ctx.PathConfig))
		return ResolvedReference{Target: target, SimpleName: simpleName}
	}
	if len(ctx.ParentScope) > 0 {
		target := strings.Join(append(append([]string(nil), ctx.ParentScope...), simpleName), pathSep(ctx.PathConfig))
		return ResolvedReference{Target: target, SimpleName: simpleName}
	}
	segs := append([]string{ctx.PackageName}, ctx.CurrentModule...)
	segs = append(segs, simpleName)
	return ResolvedReference{Target: strings.Join(segs, pathSep(ctx.PathConfig)), SimpleName: simpleName}
}

func isKnownStdlib(simpleName string, known []string) bool {
	for _, k := range known {
		if k == simpleName {
			return true
		}
	}
	return false
}

func isExternalCrate(head string, externals []string) bool {
	for _, e := range externals {
		if head == e || strings.HasPrefix(head, e+"/") {
			return true
		}
	}
	return false
}

func pathSep(cfg langpath.PathConfig) string {
	if cfg.Separator == "" {
		return "::"
	}
	return cfg.Separator
}
