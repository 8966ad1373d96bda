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

package resolve

import (
	"testing"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/graphmodel"
	"github.com/loganmoon/codesearch-sub001/pkg/qname"
)

func TestGenericResolver_QualifiedNameStrategy(t *testing.T) {
	caller := entity.CodeEntity{
		ID:            "caller",
		Kind:          entity.KindFunction,
		QualifiedName: qname.SimplePath(qname.SepDoubleColon, "pkg", "caller"),
		Relationships: []entity.EntityRelationshipData{
			{Kind: entity.RelCalls, RawTarget: "pkg::callee"},
		},
	}
	callee := entity.CodeEntity{
		ID:            "callee",
		Kind:          entity.KindFunction,
		QualifiedName: qname.SimplePath(qname.SepDoubleColon, "pkg", "callee"),
	}
	def := RelationshipDef{
		Name:         "calls",
		SourceKinds:  []entity.EntityKind{entity.KindFunction},
		TargetKinds:  []entity.EntityKind{entity.KindFunction},
		RelKind:      entity.RelCalls,
		ForwardLabel: graphmodel.Calls,
		Strategies:   []Strategy{StrategyQualifiedName, StrategySimpleName},
	}

	edges, unresolved := New(nil).Run([]entity.CodeEntity{caller, callee}, def)
	if len(unresolved) != 0 {
		t.Fatalf("expected no unresolved references, got %d", len(unresolved))
	}
	if len(edges) != 1 || edges[0].FromID != "caller" || edges[0].ToID != "callee" {
		t.Fatalf("unexpected edges: %+v", edges)
	}
}

func TestGenericResolver_SelfEdgeSkipped(t *testing.T) {
	recursive := entity.CodeEntity{
		ID:            "f",
		Kind:          entity.KindFunction,
		QualifiedName: qname.SimplePath(qname.SepDoubleColon, "pkg", "f"),
		Relationships: []entity.EntityRelationshipData{
			{Kind: entity.RelCalls, RawTarget: "pkg::f"},
		},
	}
	def := RelationshipDef{
		SourceKinds:  []entity.EntityKind{entity.KindFunction},
		TargetKinds:  []entity.EntityKind{entity.KindFunction},
		RelKind:      entity.RelCalls,
		ForwardLabel: graphmodel.Calls,
		Strategies:   []Strategy{StrategyQualifiedName},
	}
	edges, _ := New(nil).Run([]entity.CodeEntity{recursive}, def)
	if len(edges) != 0 {
		t.Fatalf("expected self-edge to be skipped, got %+v", edges)
	}
}

func TestResolveContains(t *testing.T) {
	parent := entity.CodeEntity{ID: "p", QualifiedName: qname.SimplePath(qname.SepDoubleColon, "pkg", "Type")}
	child := entity.CodeEntity{ID: "c", QualifiedName: qname.SimplePath(qname.SepDoubleColon, "pkg", "Type", "Method")}
	orphan := entity.CodeEntity{ID: "o", QualifiedName: qname.SimplePath(qname.SepDoubleColon, "pkg", "Missing", "Method")}

	edges, unresolved := ResolveContains([]entity.CodeEntity{parent, child, orphan})
	if len(edges) != 1 || edges[0].FromID != "p" || edges[0].ToID != "c" {
		t.Fatalf("unexpected edges: %+v", edges)
	}
	if got, ok := unresolved["o"]; !ok || got != "pkg::Missing" {
		t.Fatalf("expected orphan's parent recorded as unresolved, got %q ok=%v", got, ok)
	}
}
