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

// Package graph implements the §6.3 graph store contract against Neo4j.
// The teacher represented edges as CozoDB relations (cie_calls, cie_defines,
// cie_implements — the teacher's DatalogSchema, not carried into this module) queried with
// Datalog joins rather than graph traversals. This package gives the same
// edge set (pkg/graphmodel) a real graph backend, using
// github.com/neo4j/neo4j-go-driver/v5 the way the retrieval pack's
// rohankatakam-coderisk and maraichr-codegraph repos use it for their own
// code graphs.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/loganmoon/codesearch-sub001/pkg/cerrors"
	"github.com/loganmoon/codesearch-sub001/pkg/graphmodel"
)

// Store wraps a Neo4j driver and session factory.
type Store struct {
	driver neo4j.DriverWithContext
}

// Open connects to the Bolt endpoint at uri.
func Open(ctx context.Context, uri, username, password string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, cerrors.New(cerrors.Storage, "", fmt.Errorf("connect neo4j: %w", err))
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, cerrors.New(cerrors.Storage, "", fmt.Errorf("verify neo4j connectivity: %w", err))
	}
	return &Store{driver: driver}, nil
}

// Close shuts down the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// CreateNode MERGEs a single node by entity_id, idempotent per spec.md §6.3.
func (s *Store) CreateNode(ctx context.Context, entityID string, labels []string, properties map[string]any) error {
	return s.BatchCreateNodes(ctx, []NodeSpec{{EntityID: entityID, Labels: labels, Properties: properties}})
}

// NodeSpec is one node to MERGE.
type NodeSpec struct {
	EntityID   string
	Labels     []string
	Properties map[string]any
}

// BatchCreateNodes MERGEs many nodes in one session, grouped by label set
// since Cypher requires labels to be part of the query text rather than a
// bound parameter.
func (s *Store) BatchCreateNodes(ctx context.Context, nodes []NodeSpec) error {
	if len(nodes) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	byLabelSet := make(map[string][]map[string]any)
	labelSets := make(map[string][]string)
	for _, n := range nodes {
		key := labelKey(n.Labels)
		labelSets[key] = n.Labels
		props := make(map[string]any, len(n.Properties)+1)
		for k, v := range n.Properties {
			props[k] = v
		}
		props["entity_id"] = n.EntityID
		byLabelSet[key] = append(byLabelSet[key], props)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for key, rows := range byLabelSet {
			labelClause, err := cypherLabelClause(labelSets[key])
			if err != nil {
				return nil, err
			}
			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MERGE (n%s {entity_id: row.entity_id})
				SET n += row`, labelClause)
			if _, err := tx.Run(ctx, query, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return cerrors.New(cerrors.Storage, "", fmt.Errorf("batch create nodes: %w", err))
	}
	return nil
}

// BatchCreateRelationships MERGEs every edge in one write transaction,
// validating labels and property keys through pkg/graphmodel first so a
// malformed RelationshipDef can never reach the Cypher text.
func (s *Store) BatchCreateRelationships(ctx context.Context, edges []graphmodel.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	byLabel := make(map[graphmodel.EdgeLabel][]map[string]any)
	for _, e := range edges {
		if err := graphmodel.ValidateEdge(e); err != nil {
			return cerrors.New(cerrors.InvalidInput, e.FromID, err)
		}
		props := make(map[string]any, len(e.Properties)+2)
		for k, v := range e.Properties {
			props[k] = v
		}
		props["from_id"] = e.FromID
		props["to_id"] = e.ToID
		byLabel[e.Label] = append(byLabel[e.Label], props)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, rows := range byLabel {
			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MATCH (a {entity_id: row.from_id}), (b {entity_id: row.to_id})
				MERGE (a)-[r:%s]->(b)
				SET r += row`, label)
			if _, err := tx.Run(ctx, query, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return cerrors.New(cerrors.Storage, "", fmt.Errorf("batch create relationships: %w", err))
	}
	return nil
}

func labelKey(labels []string) string {
	key := ""
	for _, l := range labels {
		key += "|" + l
	}
	return key
}

// cypherLabelClause renders labels as ":Label1:Label2", validating each one
// against the same character whitelist graphmodel uses for property keys,
// since node labels share the same injection surface.
func cypherLabelClause(labels []string) (string, error) {
	out := ""
	for _, l := range labels {
		for _, r := range l {
			if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return "", fmt.Errorf("graph: label %q contains characters outside [A-Za-z0-9_]", l)
			}
		}
		out += ":" + l
	}
	return out, nil
}
