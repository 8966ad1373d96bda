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

// Package resolve implements the generic relationship resolver of spec.md
// §4.10: one configurable GenericResolver, parameterised by a
// RelationshipDef, in place of a hand-written resolver per edge kind.
//
// The teacher's pkg/ingestion/resolver.go (CallResolver) and implements.go
// (BuildImplementsIndex) hard-code exactly one relationship each: CALLS and
// IMPLEMENTS. Both already embody three of the five lookup strategies this
// package generalizes — qualified-path lookup (resolveQualifiedCall),
// dot-import/glob fallback (resolveDotImportCall), and simple-name
// resolution with ambiguity logging (resolveInterfaceCallViaParams's
// first-match behavior). GenericResolver folds that same logic over an
// ordered strategy list instead of hard-coding it per relationship, so a new
// edge kind is data (a RelationshipDef), not new control flow.
package resolve

import (
	"log/slog"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/graphmodel"
	"github.com/loganmoon/codesearch-sub001/pkg/qname"
)

// Strategy is one of the five lookup techniques spec.md §4.10 names, tried
// in the order a RelationshipDef lists them; the first hit wins.
type Strategy string

const (
	// StrategyQualifiedName matches a reference's resolved target against
	// an entity's full qualified name.
	StrategyQualifiedName Strategy = "qualified_name"
	// StrategyPathEntityIdentifier matches against a language-specific
	// secondary identifier (e.g. a Go import path + exported symbol).
	StrategyPathEntityIdentifier Strategy = "path_entity_identifier"
	// StrategyCallAliases matches the reference's raw alias/import-derived
	// form before any package-name normalization.
	StrategyCallAliases Strategy = "call_aliases"
	// StrategyUniqueSimpleName matches by bare name, but only when exactly
	// one target-type entity shares that name.
	StrategyUniqueSimpleName Strategy = "unique_simple_name"
	// StrategySimpleName matches by bare name, picking the first candidate
	// and logging the ambiguity when more than one exists.
	StrategySimpleName Strategy = "simple_name"
)

// RelationshipDef configures one resolver run for one relationship kind.
type RelationshipDef struct {
	Name            string
	SourceKinds     []entity.EntityKind
	TargetKinds     []entity.EntityKind
	RelKind         entity.RelationshipKind
	ForwardLabel    graphmodel.EdgeLabel
	ReciprocalLabel graphmodel.EdgeLabel // "" means no reciprocal edge
	Strategies      []Strategy
}

// indices are the per-run lookup tables built once over the target-type
// entities, per spec.md §4.10 step 2.
type indices struct {
	byQName     map[string]string   // qname string -> entity ID
	byPathID    map[string]string   // path_entity_identifier -> entity ID
	byCallAlias map[string]string   // call alias -> entity ID
	bySimple    map[string][]string // simple name -> entity IDs
}

// GenericResolver resolves every relationship of one kind across a full
// entity set.
type GenericResolver struct {
	logger *slog.Logger
}

// New returns a GenericResolver. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *GenericResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenericResolver{logger: logger}
}

// Run resolves every def.RelKind reference on every def.SourceKinds entity
// in entities against every def.TargetKinds entity, returning the resolved
// graph edges plus any reference that stayed unresolved this pass.
func (r *GenericResolver) Run(entities []entity.CodeEntity, def RelationshipDef) (edges []graphmodel.Edge, unresolved []entity.PendingRelationship) {
	idx := buildIndices(entities, def)
	bySourceKind := kindSet(def.SourceKinds)

	for i := range entities {
		src := &entities[i]
		if !bySourceKind[src.Kind] {
			continue
		}
		for ri := range src.Relationships {
			ref := &src.Relationships[ri]
			if ref.Kind != def.RelKind {
				continue
			}
			targetID, ok := resolveByStrategies(ref, idx, def.Strategies, r.logger, def.Name)
			if !ok {
				unresolved = append(unresolved, entity.PendingRelationship{
					SourceEntityID:      src.ID,
					RelationshipType:    def.Name,
					TargetQualifiedName: ref.RawTarget,
				})
				continue
			}
			if targetID == src.ID {
				continue // self-edges are skipped, spec.md §4.10 step 5
			}
			ref.ResolvedID = targetID
			edges = append(edges, graphmodel.Edge{Label: def.ForwardLabel, FromID: src.ID, ToID: targetID})
			if def.ReciprocalLabel != "" {
				edges = append(edges, graphmodel.Edge{Label: def.ReciprocalLabel, FromID: targetID, ToID: src.ID})
			}
		}
	}
	return edges, unresolved
}

func resolveByStrategies(ref *entity.EntityRelationshipData, idx indices, strategies []Strategy, logger *slog.Logger, relName string) (string, bool) {
	for _, strat := range strategies {
		switch strat {
		case StrategyQualifiedName:
			if id, ok := idx.byQName[ref.RawTarget]; ok {
				return id, true
			}
		case StrategyPathEntityIdentifier:
			if id, ok := idx.byPathID[ref.RawTarget]; ok {
				return id, true
			}
		case StrategyCallAliases:
			if ref.Alias != "" {
				if id, ok := idx.byCallAlias[ref.Alias]; ok {
					return id, true
				}
			}
		case StrategyUniqueSimpleName:
			if ids := idx.bySimple[ref.RawTarget]; len(ids) == 1 {
				return ids[0], true
			}
		case StrategySimpleName:
			if ids := idx.bySimple[ref.RawTarget]; len(ids) > 0 {
				if len(ids) > 1 {
					ref.Ambiguous = true
					logger.Debug("resolve.ambiguous_simple_name",
						"relationship", relName, "name", ref.RawTarget, "candidates", len(ids))
				}
				return ids[0], true
			}
		}
	}
	return "", false
}

func buildIndices(entities []entity.CodeEntity, def RelationshipDef) indices {
	idx := indices{
		byQName:     make(map[string]string),
		byPathID:    make(map[string]string),
		byCallAlias: make(map[string]string),
		bySimple:    make(map[string][]string),
	}
	byTargetKind := kindSet(def.TargetKinds)
	for i := range entities {
		e := &entities[i]
		if !byTargetKind[e.Kind] {
			continue
		}
		idx.byQName[e.QualifiedName.String()] = e.ID
		idx.byPathID[e.Source.FilePath+"#"+e.SimpleName] = e.ID
		idx.byCallAlias[e.SimpleName] = e.ID
		idx.bySimple[e.SimpleName] = append(idx.bySimple[e.SimpleName], e.ID)
	}
	return idx
}

func kindSet(kinds []entity.EntityKind) map[entity.EntityKind]bool {
	set := make(map[entity.EntityKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// ResolveContains implements spec.md §4.10's special-cased CONTAINS
// resolution: the parent is looked up by dropping the last qname segment
// (structural containment, pkg/qname.IsChildOf), not through
// EntityRelationshipData at all. An entity whose parent isn't present in
// this batch gets its best-effort parent name recorded as the
// unresolved_contains_parent property instead of failing the write; a later
// pass (once the parent appears) cleans that property up and adds the edge.
func ResolveContains(entities []entity.CodeEntity) (edges []graphmodel.Edge, unresolvedParents map[string]string) {
	byQName := make(map[string]string, len(entities))
	for i := range entities {
		byQName[entities[i].QualifiedName.String()] = entities[i].ID
	}
	unresolvedParents = make(map[string]string)
	for i := range entities {
		child := &entities[i]
		parentID, parentQName, ok := findParent(*child, entities, byQName)
		if !ok {
			continue
		}
		if parentID == "" {
			unresolvedParents[child.ID] = parentQName
			continue
		}
		if parentID == child.ID {
			continue
		}
		edges = append(edges, graphmodel.Edge{Label: graphmodel.Contains, FromID: parentID, ToID: child.ID})
	}
	return edges, unresolvedParents
}

// findParent returns (parentID, parentQualifiedName, hasParent). hasParent
// is false for entities with no enclosing scope (e.g. a single-segment
// top-level module). When no entity in the batch contains child, a
// SimplePath child's parent name is its own name minus the last segment.
func findParent(child entity.CodeEntity, all []entity.CodeEntity, byQName map[string]string) (string, string, bool) {
	best := ""
	bestLen := -1
	for i := range all {
		candidate := all[i].QualifiedName
		if !qname.IsChildOf(child.QualifiedName, candidate) {
			continue
		}
		if l := len(candidate.Segments); l > bestLen {
			bestLen = l
			best = candidate.String()
		}
	}
	if best == "" {
		segs := child.QualifiedName.Segments
		if child.QualifiedName.Form != qname.FormSimplePath || len(segs) < 2 {
			return "", "", false
		}
		best = qname.SimplePath(child.QualifiedName.Separator, segs[:len(segs)-1]...).String()
	}
	if id, ok := byQName[best]; ok {
		return id, best, true
	}
	return "", best, true
}
