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

// Package outbox implements the transactional write (§4.7) and the
// background drain (§4.8) of the transactional outbox pattern. The teacher
// never needed an outbox: pkg/storage/embedded.EmbeddedBackend.Execute
// treated an entire batch of Datalog mutations as one atomic call against
// its own embedded store. This package reproduces that same "one call, one
// transaction" discipline, but against Postgres, with the extra step of
// also queuing rows for the two downstream stores that are no longer in the
// same process.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loganmoon/codesearch-sub001/pkg/cerrors"
	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/store/relational"
)

// Writer performs the §4.7 transactional outbox write.
type Writer struct {
	store *relational.Store
	// MaxEntitiesPerOperation caps rows written per transaction, per
	// spec.md §4.7's batch size cap (default 10000).
	MaxEntitiesPerOperation int
	// Targets is the set of downstream stores every upsert enqueues a row
	// for. Tests and single-store deployments can shrink this.
	Targets []entity.OutboxTarget
}

// NewWriter returns a Writer with the spec's default batch cap and both
// downstream targets enabled.
func NewWriter(store *relational.Store) *Writer {
	return &Writer{
		store:                   store,
		MaxEntitiesPerOperation: 10000,
		Targets:                 []entity.OutboxTarget{entity.TargetVector, entity.TargetGraph},
	}
}

// entityPayload is the full serialised entity the outbox row carries;
// spec.md §4.7 says the payload is "the full serialised entity plus its
// embedding reference and qdrant_point_id" — large fields like the dense
// vector itself are referenced by embedding_id and re-fetched by the
// processor rather than duplicated here.
type entityPayload struct {
	EntityID      string                           `json:"entity_id"`
	QualifiedName string                           `json:"qualified_name"`
	Name          string                           `json:"name"`
	Kind          entity.EntityKind                `json:"kind"`
	FilePath      string                           `json:"file_path"`
	Language      string                           `json:"language"`
	StartLine     int                              `json:"start_line"`
	EndLine       int                              `json:"end_line"`
	EmbeddingID   string                            `json:"embedding_id,omitempty"`
	QdrantPointID string                            `json:"qdrant_point_id,omitempty"`
	Relationships []entity.EntityRelationshipData   `json:"relationships,omitempty"`
}

// PersistBatch writes up to MaxEntitiesPerOperation entities (callers must
// chunk larger batches themselves) in a single DB transaction: upsert
// entity_metadata, upsert embeddings by content hash, insert outbox rows for
// every enabled target, and update file_entity_snapshots for every file the
// batch touches.
func (w *Writer) PersistBatch(ctx context.Context, repositoryID string, entities []entity.CodeEntity, embeddings map[string]entity.Embedding) error {
	if len(entities) > w.MaxEntitiesPerOperation {
		return cerrors.Newf(cerrors.InvalidInput, "", "batch of %d entities exceeds max_entities_per_db_operation=%d", len(entities), w.MaxEntitiesPerOperation)
	}
	if len(entities) == 0 {
		return nil
	}

	tx, err := w.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	filesTouched := make(map[string][]string) // file_path -> entity IDs in this batch

	for _, ent := range entities {
		embeddingID, qdrantPointID, err := w.upsertEmbedding(ctx, tx, repositoryID, ent, embeddings)
		if err != nil {
			return err
		}
		if err := w.upsertEntityMetadata(ctx, tx, repositoryID, ent, qdrantPointID); err != nil {
			return err
		}
		if err := w.enqueueOutboxRows(ctx, tx, repositoryID, ent, embeddingID, qdrantPointID); err != nil {
			return err
		}
		filesTouched[ent.Source.FilePath] = append(filesTouched[ent.Source.FilePath], ent.ID)
	}

	for filePath, ids := range filesTouched {
		if err := w.updateFileSnapshot(ctx, tx, repositoryID, filePath, ids); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return cerrors.New(cerrors.Storage, repositoryID, fmt.Errorf("commit outbox transaction: %w", err))
	}
	committed = true
	return nil
}

func (w *Writer) upsertEmbedding(ctx context.Context, tx pgx.Tx, repositoryID string, ent entity.CodeEntity, embeddings map[string]entity.Embedding) (embeddingID, qdrantPointID string, err error) {
	emb, ok := embeddings[ent.ContentHash]
	if !ok {
		return "", "", nil
	}
	qdrantPointID = uuid.New().String()
	row := tx.QueryRow(ctx, `
		INSERT INTO embeddings (repository_id, content_hash, dense, sparse, model, dim)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (repository_id, content_hash, model) DO UPDATE SET dense = excluded.dense
		RETURNING embedding_id`,
		repositoryID, ent.ContentHash, emb.Dense, sparseJSON(emb), emb.Model, emb.Dimensions)
	if err := row.Scan(&embeddingID); err != nil {
		return "", "", cerrors.New(cerrors.Storage, ent.ID, fmt.Errorf("upsert embedding: %w", err))
	}
	return embeddingID, qdrantPointID, nil
}

func sparseJSON(emb entity.Embedding) []byte {
	if len(emb.SparseIdx) == 0 {
		return nil
	}
	b, _ := json.Marshal(map[string]any{"idx": emb.SparseIdx, "val": emb.SparseVal})
	return b
}

func (w *Writer) upsertEntityMetadata(ctx context.Context, tx pgx.Tx, repositoryID string, ent entity.CodeEntity, qdrantPointID string) error {
	data, err := json.Marshal(ent.Relationships)
	if err != nil {
		return cerrors.New(cerrors.EntityExtraction, ent.ID, err)
	}
	lineRange := fmt.Sprintf("[%d,%d)", ent.Source.StartLine, ent.Source.EndLine+1)
	_, err = tx.Exec(ctx, `
		INSERT INTO entity_metadata
			(repository_id, entity_id, qualified_name, name, entity_type, language, file_path, line_range, entity_data, qdrant_point_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::int4range, $9, NULLIF($10, '')::uuid)
		ON CONFLICT (repository_id, entity_id) DO UPDATE SET
			qualified_name = excluded.qualified_name,
			name = excluded.name,
			entity_type = excluded.entity_type,
			file_path = excluded.file_path,
			line_range = excluded.line_range,
			entity_data = excluded.entity_data,
			qdrant_point_id = COALESCE(excluded.qdrant_point_id, entity_metadata.qdrant_point_id),
			deleted_at = NULL,
			updated_at = now()`,
		repositoryID, ent.ID, ent.QualifiedName.String(), ent.SimpleName, string(ent.Kind),
		ent.Source.Language, ent.Source.FilePath, lineRange, data, qdrantPointID)
	if err != nil {
		return cerrors.New(cerrors.Storage, ent.ID, fmt.Errorf("upsert entity_metadata: %w", err))
	}
	return nil
}

func (w *Writer) enqueueOutboxRows(ctx context.Context, tx pgx.Tx, repositoryID string, ent entity.CodeEntity, embeddingID, qdrantPointID string) error {
	payload, err := json.Marshal(entityPayload{
		EntityID:      ent.ID,
		QualifiedName: ent.QualifiedName.String(),
		Name:          ent.SimpleName,
		Kind:          ent.Kind,
		FilePath:      ent.Source.FilePath,
		Language:      ent.Source.Language,
		StartLine:     ent.Source.StartLine,
		EndLine:       ent.Source.EndLine,
		EmbeddingID:   embeddingID,
		QdrantPointID: qdrantPointID,
		Relationships: ent.Relationships,
	})
	if err != nil {
		return cerrors.New(cerrors.EntityExtraction, ent.ID, err)
	}
	for _, target := range w.Targets {
		_, err := tx.Exec(ctx, `
			INSERT INTO entity_outbox (repository_id, entity_id, operation, target_store, payload)
			VALUES ($1, $2, $3, $4, $5)`,
			repositoryID, ent.ID, string(entity.OpUpsert), string(target), payload)
		if err != nil {
			return cerrors.New(cerrors.Storage, ent.ID, fmt.Errorf("enqueue outbox row for %s: %w", target, err))
		}
	}
	return nil
}

// UpdateFileSnapshot overwrites a single file's entity-ID snapshot row.
// pkg/snapshot calls this directly for a file whose latest extraction
// produced zero entities (the file itself vanished), since PersistBatch
// only touches files that appear in its entity batch.
func (w *Writer) UpdateFileSnapshot(ctx context.Context, tx pgx.Tx, repositoryID, filePath string, entityIDs []string) error {
	return w.updateFileSnapshot(ctx, tx, repositoryID, filePath, entityIDs)
}

func (w *Writer) updateFileSnapshot(ctx context.Context, tx pgx.Tx, repositoryID, filePath string, entityIDs []string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO file_entity_snapshots (repository_id, file_path, entity_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (repository_id, file_path) DO UPDATE SET
			entity_ids = excluded.entity_ids, indexed_at = now()`,
		repositoryID, filePath, entityIDs)
	if err != nil {
		return cerrors.New(cerrors.Storage, filePath, fmt.Errorf("update file_entity_snapshots: %w", err))
	}
	return nil
}

// EnqueueDeletes inserts a DELETE outbox row for every (entity ID, target)
// pair, used by the snapshot/delta engine (pkg/snapshot) when a
// re-extraction of a file finds entities that disappeared. spec.md §4.6
// step 3 and §8's boundary case both require one row per deleted entity per
// target store, not one row per target carrying every ID: N deleted
// entities across len(w.Targets) targets must produce N*len(w.Targets)
// rows so the processor's per-target retry/poison-pill bookkeeping (§4.8)
// tracks each entity's delete independently.
func (w *Writer) EnqueueDeletes(ctx context.Context, tx pgx.Tx, repositoryID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	for _, id := range entityIDs {
		payload, err := json.Marshal(map[string]any{"entity_ids": []string{id}})
		if err != nil {
			return cerrors.New(cerrors.Other, id, err)
		}
		for _, target := range w.Targets {
			_, err := tx.Exec(ctx, `
				INSERT INTO entity_outbox (repository_id, entity_id, operation, target_store, payload)
				VALUES ($1, $2, $3, $4, $5)`,
				repositoryID, id, string(entity.OpDelete), string(target), payload)
			if err != nil {
				return cerrors.New(cerrors.Storage, id, fmt.Errorf("enqueue delete outbox row for %s: %w", target, err))
			}
		}
	}
	slog.Debug("outbox.deletes.enqueued", "entities", len(entityIDs), "targets", len(w.Targets), "rows", len(entityIDs)*len(w.Targets), "repository_id", repositoryID)
	return nil
}
