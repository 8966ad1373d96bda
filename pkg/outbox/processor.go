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

package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loganmoon/codesearch-sub001/pkg/cerrors"
	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/graphmodel"
	"github.com/loganmoon/codesearch-sub001/pkg/store/graph"
	"github.com/loganmoon/codesearch-sub001/pkg/store/relational"
	"github.com/loganmoon/codesearch-sub001/pkg/store/vector"
)

// Entry is one decoded outbox row, ready for a Sink to apply.
type Entry struct {
	OutboxID   string
	EntityID   string
	Op         entity.OutboxOp
	Payload    entityPayload
	RawPayload []byte
	RetryCount int
}

// Sink is the per-target-store write path: one bulk upsert call and one
// bulk delete call, matching the "single bulk write" throughput requirement
// of spec.md §4.8 step 3.
type Sink interface {
	ApplyUpsert(ctx context.Context, entries []Entry) error
	ApplyDelete(ctx context.Context, entityIDs []string) error
}

// VectorSink adapts pkg/store/vector.Store to Sink, re-fetching each
// entry's dense vector by embedding_id since the outbox payload itself
// deliberately omits it (spec.md §4.7: "large fields ... are referenced by
// id and re-fetched by the processor to avoid duplication").
type VectorSink struct {
	Store          *vector.Store
	Relational     *relational.Store
	Collection     string
	MaxEmbeddingDim int
}

func (v *VectorSink) ApplyUpsert(ctx context.Context, entries []Entry) error {
	points := make([]vector.Point, 0, len(entries))
	for _, e := range entries {
		if e.Payload.EmbeddingID == "" {
			return cerrors.Newf(cerrors.InvalidInput, e.EntityID, "outbox payload missing embedding reference")
		}
		dense, dim, err := fetchDenseVector(ctx, v.Relational, e.Payload.EmbeddingID)
		if err != nil {
			return err
		}
		if v.MaxEmbeddingDim > 0 && dim > v.MaxEmbeddingDim {
			return cerrors.Newf(cerrors.InvalidInput, e.EntityID, "embedding dimension %d exceeds max_embedding_dim=%d", dim, v.MaxEmbeddingDim)
		}
		pointID := e.Payload.QdrantPointID
		if pointID == "" {
			pointID = e.EntityID
		}
		points = append(points, vector.Point{
			ID:    pointID,
			Dense: dense,
			Payload: map[string]any{
				"entity_id":      e.EntityID,
				"qualified_name": e.Payload.QualifiedName,
				"file_path":      e.Payload.FilePath,
			},
		})
	}
	if len(points) == 0 {
		return nil
	}
	return v.Store.BulkUpsert(ctx, v.Collection, points)
}

func (v *VectorSink) ApplyDelete(ctx context.Context, entityIDs []string) error {
	return v.Store.BulkDelete(ctx, v.Collection, entityIDs)
}

func fetchDenseVector(ctx context.Context, store *relational.Store, embeddingID string) ([]float32, int, error) {
	var dense []float32
	var dim int
	err := store.Pool().QueryRow(ctx, `SELECT dense, dim FROM embeddings WHERE embedding_id = $1`, embeddingID).Scan(&dense, &dim)
	if err != nil {
		return nil, 0, cerrors.New(cerrors.Storage, embeddingID, fmt.Errorf("fetch embedding: %w", err))
	}
	return dense, dim, nil
}

// GraphSink adapts pkg/store/graph.Store to Sink. Node creation is
// idempotent MERGE, so an upsert and an insert are the same operation; the
// relationships carried in the payload are resolved edges only (the
// resolver, pkg/resolve, has already filled ResolvedID by the time a
// relationship reaches the outbox).
type GraphSink struct {
	Store *graph.Store
}

func (g *GraphSink) ApplyUpsert(ctx context.Context, entries []Entry) error {
	nodes := make([]graph.NodeSpec, 0, len(entries))
	var edges []graphmodel.Edge
	for _, e := range entries {
		nodes = append(nodes, graph.NodeSpec{
			EntityID: e.EntityID,
			Labels:   []string{nodeLabel(e.Payload.Kind)},
			Properties: map[string]any{
				"qualified_name": e.Payload.QualifiedName,
				"name":           e.Payload.Name,
				"file_path":      e.Payload.FilePath,
				"language":       e.Payload.Language,
			},
		})
		for _, rel := range e.Payload.Relationships {
			if rel.ResolvedID == "" {
				continue
			}
			edges = append(edges, graphmodel.Edge{
				Label:  relationshipLabel(rel.Kind),
				FromID: e.EntityID,
				ToID:   rel.ResolvedID,
				Properties: map[string]any{
					"line": rel.Line,
				},
			})
		}
	}
	if err := g.Store.BatchCreateNodes(ctx, nodes); err != nil {
		return err
	}
	if len(edges) > 0 {
		return g.Store.BatchCreateRelationships(ctx, edges)
	}
	return nil
}

func (g *GraphSink) ApplyDelete(ctx context.Context, entityIDs []string) error {
	// Node deletion in the graph store is not performed, and no reconciliation
	// pass in this module removes such nodes later: removing a node also removes its edges,
	// which would silently break relationships from entities outside the
	// current batch's visibility. Soft-deleting in entity_metadata (done by
	// the relational store) is sufficient for the graph to stop being
	// traversed to from query-time filters that check deleted_at.
	slog.Debug("outbox.graph.delete.deferred", "count", len(entityIDs))
	return nil
}

func nodeLabel(kind entity.EntityKind) string {
	switch kind {
	case entity.KindFunction, entity.KindMethod:
		return "Function"
	case entity.KindType, entity.KindInterface:
		return "Type"
	case entity.KindModule:
		return "Module"
	case entity.KindField:
		return "Field"
	default:
		return "Entity"
	}
}

func relationshipLabel(kind entity.RelationshipKind) graphmodel.EdgeLabel {
	switch kind {
	case entity.RelCalls:
		return graphmodel.Calls
	case entity.RelUsesType:
		return graphmodel.Uses
	case entity.RelContains:
		return graphmodel.Contains
	case entity.RelImplementsTrait:
		return graphmodel.Implements
	case entity.RelImports:
		return graphmodel.Imports
	case entity.RelInheritsFrom:
		return graphmodel.InheritsFrom
	case entity.RelAssociates:
		return graphmodel.Associates
	case entity.RelExtends:
		return graphmodel.ExtendsInterface
	default:
		return graphmodel.Associates
	}
}

// Processor drains entity_outbox for a single target store, per spec.md
// §4.8. One Processor is run per target (vector, graph); the teacher's
// worker-pool idiom (pkg/ingestion/resolver.go's resolveCallsParallel) is
// the grounding source for running several of these concurrently without
// them stepping on each other — here that's `FOR UPDATE SKIP LOCKED`
// instead of a jobs channel, since the coordination point is a DB table
// rather than in-process memory.
type Processor struct {
	Relational   *relational.Store
	Sink         Sink
	Target       entity.OutboxTarget
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// Run polls until ctx is cancelled, draining one batch per tick.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				slog.Error("outbox.processor.drain.failed", "target", p.Target, "err", err)
			}
		}
	}
}

// drainOnce processes exactly one poll's worth of rows (§4.8 steps 1-6).
func (p *Processor) drainOnce(ctx context.Context) error {
	tx, err := p.Relational.Pool().Begin(ctx)
	if err != nil {
		return cerrors.New(cerrors.Storage, "", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT outbox_id, entity_id, operation, payload, retry_count
		FROM entity_outbox
		WHERE target_store = $1 AND processed_at IS NULL
		ORDER BY created_at ASC LIMIT $2
		FOR UPDATE SKIP LOCKED`, string(p.Target), p.BatchSize)
	if err != nil {
		return cerrors.New(cerrors.Storage, "", err)
	}

	var upserts, deletes []Entry
	for rows.Next() {
		var e Entry
		var opStr string
		var raw []byte
		if err := rows.Scan(&e.OutboxID, &e.EntityID, &opStr, &raw, &e.RetryCount); err != nil {
			rows.Close()
			return cerrors.New(cerrors.Storage, "", err)
		}
		e.Op = entity.OutboxOp(opStr)
		e.RawPayload = raw
		if e.Op == entity.OpUpsert {
			if err := json.Unmarshal(raw, &e.Payload); err != nil {
				e.RetryCount = p.MaxRetries // malformed payload: permanent failure, no retries wasted
			}
		}
		if e.Op == entity.OpDelete {
			if _, err := deleteEntityIDs([]Entry{e}); err != nil {
				e.RetryCount = p.MaxRetries // non-array entity_ids: same short-circuit as a malformed upsert
			}
			deletes = append(deletes, e)
		} else {
			upserts = append(upserts, e)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cerrors.New(cerrors.Storage, "", err)
	}

	if len(upserts) == 0 && len(deletes) == 0 {
		return tx.Commit(ctx)
	}

	var applyErr error
	if len(upserts) > 0 {
		applyErr = p.Sink.ApplyUpsert(ctx, upserts)
	}
	if applyErr == nil && len(deletes) > 0 {
		ids, decodeErr := deleteEntityIDs(deletes)
		if decodeErr != nil {
			applyErr = decodeErr
		} else {
			applyErr = p.Sink.ApplyDelete(ctx, ids)
		}
	}

	if applyErr == nil {
		if err := markProcessed(ctx, tx, append(upserts, deletes...)); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if err := p.markRetry(ctx, tx, append(upserts, deletes...), applyErr); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func deleteEntityIDs(deletes []Entry) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, e := range deletes {
		var payload struct {
			EntityIDs []string `json:"entity_ids"`
		}
		if err := json.Unmarshal(e.RawPayload, &payload); err != nil {
			return nil, cerrors.New(cerrors.InvalidInput, e.EntityID, fmt.Errorf("decode delete payload: %w", err))
		}
		for _, id := range payload.EntityIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func markProcessed(ctx context.Context, tx pgx.Tx, entries []Entry) error {
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `UPDATE entity_outbox SET processed_at = now() WHERE outbox_id = $1`, e.OutboxID); err != nil {
			return cerrors.New(cerrors.Storage, e.EntityID, err)
		}
	}
	return nil
}

// markRetry implements spec.md §4.8 step 5: increment retry_count and stash
// the error; once retry_count reaches MaxRetries the row is marked
// processed anyway so the outbox can never stall forever on one bad row.
func (p *Processor) markRetry(ctx context.Context, tx pgx.Tx, entries []Entry, applyErr error) error {
	for _, e := range entries {
		newCount := e.RetryCount + 1
		poisoned := newCount >= p.MaxRetries
		var err error
		if poisoned {
			_, err = tx.Exec(ctx, `
				UPDATE entity_outbox SET retry_count = $2, last_error = $3, processed_at = now()
				WHERE outbox_id = $1`, e.OutboxID, newCount, applyErr.Error())
			if err == nil {
				slog.Warn("outbox.row.poisoned", "outbox_id", e.OutboxID, "entity_id", e.EntityID, "target", p.Target, "retry_count", newCount)
			}
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE entity_outbox SET retry_count = $2, last_error = $3
				WHERE outbox_id = $1`, e.OutboxID, newCount, applyErr.Error())
		}
		if err != nil {
			return cerrors.New(cerrors.Storage, e.EntityID, err)
		}
	}
	return nil
}
