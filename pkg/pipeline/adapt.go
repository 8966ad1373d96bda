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

// Package pipeline wires the extractor plugins of pkg/ingestion to the
// storage-agnostic entity model of pkg/entity, then on through resolution,
// embedding, and the transactional outbox. adapt.go owns the first of those
// steps: pkg/ingestion/schema.go's own doc comment already names this
// function as their intended consumer.
package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/extract/importmap"
	"github.com/loganmoon/codesearch-sub001/pkg/extract/resolveref"
	"github.com/loganmoon/codesearch-sub001/pkg/ingestion"
	"github.com/loganmoon/codesearch-sub001/pkg/langpath"
	"github.com/loganmoon/codesearch-sub001/pkg/qname"
	"github.com/loganmoon/codesearch-sub001/pkg/sigparse"
)

// pathConfigs tells resolveref how each language's extractor writes a
// qualified reference, per spec.md §4.4. Call-site text is dotted even for
// Go ("pkg.Func"), so Separator is "." across every language here — the
// directory-shaped import paths Go captures (e.g. "encoding/json") are
// treated as a single opaque segment by resolveref, never split further.
var pathConfigs = map[string]langpath.PathConfig{
	"go": {
		Separator: ".",
		StdlibPrefixes: []string{
			"fmt", "strings", "strconv", "os", "io", "context", "errors", "time",
			"sync", "net", "encoding", "bytes", "sort", "path", "regexp",
			"reflect", "unicode", "math", "bufio", "log", "json",
		},
	},
	"python": {
		Separator: ".",
		StdlibPrefixes: []string{
			"os", "sys", "re", "json", "typing", "collections", "itertools",
			"functools", "math", "logging", "asyncio", "pathlib",
		},
	},
	"javascript": {Separator: "."},
	"typescript": {Separator: "."},
}

// entitySeparator is the one qname.Separator this module ever builds a
// QualifiedName with, so every entity's QualifiedName.String() and every
// resolveref.Resolve output compare as plain strings without translation.
const entitySeparator = qname.Separator(".")

// adaptedFile is one file's extraction result converted to the entity
// model. Relationships carry only RawTarget/Alias at this point; ResolvedID
// is filled in later by pkg/resolve's repository-wide pass.
type adaptedFile struct {
	Module    entity.CodeEntity
	Functions []entity.CodeEntity
	Types     []entity.CodeEntity
	Fields    []entity.CodeEntity
}

// all flattens an adaptedFile into the single entity list the rest of the
// pipeline operates on.
func (a adaptedFile) all() []entity.CodeEntity {
	out := make([]entity.CodeEntity, 0, 1+len(a.Functions)+len(a.Types)+len(a.Fields))
	out = append(out, a.Module)
	out = append(out, a.Functions...)
	out = append(out, a.Types...)
	out = append(out, a.Fields...)
	return out
}

// adaptFile converts one file's ingestion.ParseResult into the entity
// model. implementsEdges is the subset of the repository-wide implements
// index (ingestion.BuildImplementsIndex) whose concrete type lives in this
// file — callers compute that index once across every file, not per file,
// since method-set matching needs the full repository's functions in view.
func adaptFile(repositoryID string, pr *ingestion.ParseResult, implementsEdges []ingestion.ImplementsEdge) adaptedFile {
	pathCfg, ok := pathConfigs[pr.File.Language]
	if !ok {
		pathCfg = langpath.PathConfig{Separator: "."}
	}

	pkgSegments := packageSegments(pr)
	refCtx := resolveref.Context{
		PackageName:   strings.Join(pkgSegments, "."),
		CurrentModule: pkgSegments,
		Imports:       importmap.Build(toImportEntries(pr.Imports)),
		PathConfig:    pathCfg,
		KnownStdlib:   pathCfg.StdlibPrefixes,
	}

	out := adaptedFile{Module: moduleEntity(repositoryID, pr.File, pkgSegments)}

	byOldFuncID := make(map[string]*entity.CodeEntity, len(pr.Functions))
	for _, fn := range pr.Functions {
		out.Functions = append(out.Functions, functionEntity(repositoryID, pr.File, fn, pkgSegments))
	}
	for i := range out.Functions {
		byOldFuncID[pr.Functions[i].ID] = &out.Functions[i]
	}

	// Go parameter types are a second source of USES_TYPE edges, alongside
	// struct fields: a function taking a *Querier depends on Querier the same
	// way a struct holding one does. sigparse already strips the pointer/
	// slice decoration pkg-qualification a signature string carries, so no
	// separate bareTypeName pass is needed here.
	if pr.File.Language == "go" {
		for i, fn := range pr.Functions {
			for _, param := range sigparse.ParseGoParams(fn.Signature) {
				if param.Type == "" {
					continue
				}
				out.Functions[i].Relationships = append(out.Functions[i].Relationships, entity.EntityRelationshipData{
					Kind:      entity.RelUsesType,
					RawTarget: param.Type,
					Alias:     param.Type,
					Line:      fn.StartLine,
				})
			}
		}
	}

	// Same-file calls were already resolved to a FunctionEntity.ID by the
	// extractor plugin: attach the edge directly using the now-final
	// qualified name, no round-trip through resolveref needed.
	for _, c := range pr.Calls {
		caller, ok := byOldFuncID[c.CallerID]
		if !ok {
			continue
		}
		callee, ok := byOldFuncID[c.CalleeID]
		if !ok {
			continue
		}
		caller.Relationships = append(caller.Relationships, entity.EntityRelationshipData{
			Kind:      entity.RelCalls,
			RawTarget: callee.QualifiedName.String(),
			Alias:     callee.SimpleName,
			Line:      c.CallLine,
		})
	}

	// Cross-file calls: only a name at this point. resolveref's best-effort
	// qualification feeds StrategyQualifiedName; Alias carries the bare name
	// so StrategyCallAliases and friends still have a shot when the guess
	// doesn't exactly match any entity's qualified name (spec.md §4.10).
	for _, uc := range pr.UnresolvedCalls {
		caller, ok := byOldFuncID[uc.CallerID]
		if !ok {
			continue
		}
		simple := simpleNameOf(uc.CalleeName)
		resolved := resolveref.Resolve(uc.CalleeName, simple, refCtx)
		caller.Relationships = append(caller.Relationships, entity.EntityRelationshipData{
			Kind:      entity.RelCalls,
			RawTarget: resolved.Target,
			Alias:     simple,
			Line:      uc.Line,
		})
	}

	for i, t := range pr.Types {
		out.Types = append(out.Types, typeEntity(repositoryID, pr.File, t, pkgSegments))
		for _, ie := range implementsEdges {
			if ie.TypeName != t.Name {
				continue
			}
			out.Types[i].Relationships = append(out.Types[i].Relationships, entity.EntityRelationshipData{
				Kind:      entity.RelImplementsTrait,
				RawTarget: ie.InterfaceName,
				Alias:     ie.InterfaceName,
			})
		}
	}

	for _, f := range pr.Fields {
		ent := fieldEntity(repositoryID, pr.File, f, pkgSegments)
		if bare := bareTypeName(f.FieldType); bare != "" {
			ent.Relationships = append(ent.Relationships, entity.EntityRelationshipData{
				Kind:      entity.RelUsesType,
				RawTarget: bare,
				Alias:     bare,
				Line:      f.Line,
			})
		}
		out.Fields = append(out.Fields, ent)
	}

	return out
}

// packageSegments derives an entity's enclosing package path from its
// containing directory. A Go import path is the directory path, not the
// declared package name, so pr.PackageName is only ever used to pick an
// entity's SimpleName (see moduleEntity), never appended here — doing so
// would duplicate a segment whenever the package name mirrors its own
// directory's basename, which is the common case.
func packageSegments(pr *ingestion.ParseResult) []string {
	dir := filepath.ToSlash(filepath.Dir(pr.File.Path))
	segs := splitNonEmpty(dir, "/")
	if len(segs) == 0 {
		segs = []string{"root"}
	}
	return segs
}

func moduleEntity(repositoryID string, file ingestion.FileEntity, pkgSegments []string) entity.CodeEntity {
	qn := qname.SimplePath(entitySeparator, pkgSegments...)
	return entity.CodeEntity{
		ID:            entity.GenerateEntityID(repositoryID, file.Path, qn.String(), entity.KindModule),
		RepositoryID:  repositoryID,
		Kind:          entity.KindModule,
		QualifiedName: qn,
		SimpleName:    pkgSegments[len(pkgSegments)-1],
		Source: entity.SourceReference{
			FilePath: file.Path,
			Language: file.Language,
			EndLine:  1,
			FileHash: file.Hash,
		},
		ContentHash: entity.GenerateContentHash(file.Path),
	}
}

func functionEntity(repositoryID string, file ingestion.FileEntity, fn ingestion.FunctionEntity, pkgSegments []string) entity.CodeEntity {
	nameSegments := strings.Split(fn.Name, ".")
	segments := append(append([]string{}, pkgSegments...), nameSegments...)
	qn := qname.SimplePath(entitySeparator, segments...)
	kind := entity.KindFunction
	if len(nameSegments) > 1 {
		kind = entity.KindMethod
	}
	return entity.CodeEntity{
		ID:            entity.GenerateEntityID(repositoryID, file.Path, qn.String(), kind),
		RepositoryID:  repositoryID,
		Kind:          kind,
		QualifiedName: qn,
		SimpleName:    nameSegments[len(nameSegments)-1],
		Signature:     fn.Signature,
		CodeText:      fn.CodeText,
		Source: entity.SourceReference{
			FilePath:    file.Path,
			Language:    file.Language,
			StartLine:   fn.StartLine,
			StartColumn: fn.StartCol,
			EndLine:     fn.EndLine,
			EndColumn:   fn.EndCol,
			FileHash:    file.Hash,
		},
		ContentHash: entity.GenerateContentHash(fn.CodeText),
	}
}

func typeEntity(repositoryID string, file ingestion.FileEntity, t ingestion.TypeEntity, pkgSegments []string) entity.CodeEntity {
	segments := append(append([]string{}, pkgSegments...), t.Name)
	qn := qname.SimplePath(entitySeparator, segments...)
	kind := entity.KindType
	if t.Kind == "interface" {
		kind = entity.KindInterface
	}
	return entity.CodeEntity{
		ID:            entity.GenerateEntityID(repositoryID, file.Path, qn.String(), kind),
		RepositoryID:  repositoryID,
		Kind:          kind,
		QualifiedName: qn,
		SimpleName:    t.Name,
		CodeText:      t.CodeText,
		Source: entity.SourceReference{
			FilePath:    file.Path,
			Language:    file.Language,
			StartLine:   t.StartLine,
			StartColumn: t.StartCol,
			EndLine:     t.EndLine,
			EndColumn:   t.EndCol,
			FileHash:    file.Hash,
		},
		ContentHash: entity.GenerateContentHash(t.CodeText),
	}
}

func fieldEntity(repositoryID string, file ingestion.FileEntity, f ingestion.FieldEntity, pkgSegments []string) entity.CodeEntity {
	segments := append(append([]string{}, pkgSegments...), f.StructName, f.FieldName)
	qn := qname.SimplePath(entitySeparator, segments...)
	return entity.CodeEntity{
		ID:            entity.GenerateEntityID(repositoryID, file.Path, qn.String(), entity.KindField),
		RepositoryID:  repositoryID,
		Kind:          entity.KindField,
		QualifiedName: qn,
		SimpleName:    f.FieldName,
		Signature:     f.FieldType,
		Source: entity.SourceReference{
			FilePath:  file.Path,
			Language:  file.Language,
			StartLine: f.Line,
			EndLine:   f.Line,
			FileHash:  file.Hash,
		},
		ContentHash: entity.GenerateContentHash(f.StructName + "." + f.FieldName + ":" + f.FieldType),
	}
}

func toImportEntries(imports []ingestion.ImportEntity) []importmap.Entry {
	entries := make([]importmap.Entry, 0, len(imports))
	for _, im := range imports {
		entries = append(entries, importmap.Entry{
			ImportPath: im.ImportPath,
			Alias:      im.Alias,
			GlobImport: im.Alias == ".",
			Line:       im.StartLine,
		})
	}
	return entries
}

// simpleNameOf returns a dotted reference's final, unqualified component.
func simpleNameOf(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

// bareTypeName strips the pointer/slice/map decoration a field's raw type
// text can carry and returns its last dotted component, so "*pkg.Writer"
// and "[]Writer" both resolve against the same "Writer" simple name.
func bareTypeName(raw string) string {
	t := strings.TrimLeft(raw, "*[]")
	if idx := strings.Index(t, "]"); idx >= 0 {
		t = t[idx+1:]
	}
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	return simpleNameOf(t)
}

func splitNonEmpty(s, sep string) []string {
	if s == "" || s == "." {
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
