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

// Package graphmodel names the closed set of relationship edges the pipeline
// ever writes to the graph store, and validates anything derived from
// extracted source text before it is allowed to reach a Cypher string.
//
// The teacher's CozoDB schema (its pkg/ingestion/schema.go DatalogSchema, not carried into this module)
// hard-codes its edge relations as Go string literals it fully controls, so
// it never needed this check. Once edge labels are chosen by a data-driven
// RelationshipDef (pkg/resolve) instead of being compiled in, the same
// static-literal guarantee no longer holds by construction, so this package
// enforces it at the boundary instead.
package graphmodel

import "fmt"

// EdgeLabel is the closed set of relationship types spec.md §4.9 allows.
type EdgeLabel string

const (
	Calls           EdgeLabel = "CALLS"
	Uses            EdgeLabel = "USES"
	Contains        EdgeLabel = "CONTAINS"
	Implements      EdgeLabel = "IMPLEMENTS"
	Imports         EdgeLabel = "IMPORTS"
	InheritsFrom    EdgeLabel = "INHERITS_FROM"
	Associates      EdgeLabel = "ASSOCIATES"
	ExtendsInterface EdgeLabel = "EXTENDS_INTERFACE"
)

var validLabels = map[EdgeLabel]bool{
	Calls: true, Uses: true, Contains: true, Implements: true,
	Imports: true, InheritsFrom: true, Associates: true, ExtendsInterface: true,
}

// ValidateLabel rejects anything that is not one of the fixed edge labels,
// preventing a malformed or adversarial RelationshipDef from being
// interpolated into a graph query as a relationship type.
func ValidateLabel(label EdgeLabel) error {
	if !validLabels[label] {
		return fmt.Errorf("graphmodel: %q is not a recognized edge label", label)
	}
	return nil
}

// Edge is a single resolved relationship ready to be written to the graph
// store: source and target entity IDs plus the label connecting them.
type Edge struct {
	Label  EdgeLabel
	FromID string
	ToID   string
	// Properties are scalar edge properties (e.g. call_line); keys are
	// validated against propertyKeyPattern before use in any query.
	Properties map[string]any
}

// allowed property key characters: letters, digits, underscore. This
// whitelist is what actually matters for injection safety, since property
// *keys* (unlike values) are often interpolated directly into a query
// rather than bound as parameters.
func validPropertyKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// ValidateEdge checks both the label and every property key on e.
func ValidateEdge(e Edge) error {
	if err := ValidateLabel(e.Label); err != nil {
		return err
	}
	for k := range e.Properties {
		if !validPropertyKey(k) {
			return fmt.Errorf("graphmodel: property key %q contains characters outside [A-Za-z0-9_]", k)
		}
	}
	return nil
}
