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

// Package relational implements the §6.1 relational store contract on top
// of Postgres via pgx. It plays the role the teacher's EmbeddedBackend
// (pkg/storage/embedded.go) played for CozoDB: schema bootstrap, a
// project/repository metadata accessor, and a per-file cascading delete —
// but against real tables instead of a Datalog relation set, and with a
// pgxpool.Pool instead of an in-process CGO handle.
package relational

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loganmoon/codesearch-sub001/pkg/cerrors"
	"github.com/loganmoon/codesearch-sub001/pkg/entity"
)

// Store wraps a pgx connection pool and implements the relational half of
// the transactional outbox write path plus the snapshot/delta queries.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn (see config.Storage.PostgresDSN).
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, cerrors.New(cerrors.Storage, "", fmt.Errorf("connect postgres: %w", err))
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// schemaStatements mirrors EnsureSchema's idempotent :create table list,
// translated from CozoDB relations to Postgres DDL per spec.md §6.1.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS repositories (
		repository_id UUID PRIMARY KEY,
		repository_path TEXT NOT NULL,
		repository_name TEXT NOT NULL,
		collection_name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS entity_metadata (
		repository_id UUID NOT NULL,
		entity_id TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		name TEXT NOT NULL,
		parent_scope TEXT,
		entity_type TEXT NOT NULL,
		language TEXT NOT NULL,
		file_path TEXT NOT NULL,
		line_range INT4RANGE NOT NULL,
		visibility TEXT,
		entity_data JSONB NOT NULL DEFAULT '{}'::jsonb,
		git_commit_hash TEXT,
		qdrant_point_id UUID,
		indexed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ,
		PRIMARY KEY (repository_id, entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS entity_metadata_qualified_name_idx
		ON entity_metadata (repository_id, qualified_name) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS entity_metadata_file_path_idx ON entity_metadata (file_path)`,
	`CREATE TABLE IF NOT EXISTS file_entity_snapshots (
		repository_id UUID NOT NULL,
		file_path TEXT NOT NULL,
		entity_ids TEXT[] NOT NULL DEFAULT '{}',
		git_commit_hash TEXT,
		indexed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (repository_id, file_path)
	)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		embedding_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		repository_id UUID NOT NULL,
		content_hash TEXT NOT NULL,
		dense FLOAT4[] NOT NULL,
		sparse JSONB,
		model TEXT NOT NULL,
		dim INT NOT NULL,
		UNIQUE (repository_id, content_hash, model)
	)`,
	`CREATE TABLE IF NOT EXISTS entity_outbox (
		outbox_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		repository_id UUID NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		target_store TEXT NOT NULL,
		payload JSONB NOT NULL,
		collection_name TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ,
		retry_count INT NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS entity_outbox_poll_idx
		ON entity_outbox (target_store, processed_at, created_at)`,
	`CREATE TABLE IF NOT EXISTS pending_relationships (
		repository_id UUID NOT NULL,
		source_entity_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		target_qualified_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS project_meta (
		repository_id UUID NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (repository_id, key)
	)`,
}

// EnsureSchema creates every table above if it does not already exist. It is
// safe to call on every startup, exactly like the teacher's EnsureSchema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return cerrors.New(cerrors.Storage, "", fmt.Errorf("create schema: %w", err))
		}
	}
	return nil
}

// UpsertRepository inserts or touches a repositories row, mirroring the
// teacher's namespacing of a data directory by ProjectID but against a
// shared Postgres instance instead of a per-project embedded file.
func (s *Store) UpsertRepository(ctx context.Context, repo entity.Repository, collectionName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repositories (repository_id, repository_path, repository_name, collection_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id) DO UPDATE SET updated_at = now()`,
		repo.ID, repo.RootPath, repo.RemoteURL, collectionName)
	if err != nil {
		return cerrors.New(cerrors.Storage, repo.ID, err)
	}
	return nil
}

// GetProjectMeta mirrors EmbeddedBackend.GetProjectMeta: a generic
// key/value accessor namespaced by repository, used for bookkeeping like
// the last indexed commit SHA.
func (s *Store) GetProjectMeta(ctx context.Context, repositoryID, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM project_meta WHERE repository_id = $1 AND key = $2`,
		repositoryID, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", cerrors.New(cerrors.Storage, repositoryID, err)
	}
	return value, nil
}

// SetProjectMeta mirrors EmbeddedBackend.SetProjectMeta.
func (s *Store) SetProjectMeta(ctx context.Context, repositoryID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_meta (repository_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (repository_id, key) DO UPDATE SET value = excluded.value`,
		repositoryID, key, value)
	if err != nil {
		return cerrors.New(cerrors.Storage, repositoryID, err)
	}
	return nil
}

// GetLastIndexedSHA mirrors EmbeddedBackend.GetLastIndexedSHA.
func (s *Store) GetLastIndexedSHA(ctx context.Context, repositoryID string) (string, error) {
	return s.GetProjectMeta(ctx, repositoryID, "last_indexed_sha")
}

// SetLastIndexedSHA mirrors EmbeddedBackend.SetLastIndexedSHA.
func (s *Store) SetLastIndexedSHA(ctx context.Context, repositoryID, sha string) error {
	return s.SetProjectMeta(ctx, repositoryID, "last_indexed_sha", sha)
}

// FileSnapshot returns the previously recorded entity IDs for filePath, used
// by the delta engine (pkg/snapshot) to compute additions/removals. A
// missing row returns a zero-value snapshot rather than an error, mirroring
// DeleteEntitiesForFile's "queries may legitimately match nothing" posture.
func (s *Store) FileSnapshot(ctx context.Context, repositoryID, filePath string) (entity.FileSnapshot, error) {
	var snap entity.FileSnapshot
	snap.RepositoryID = repositoryID
	snap.FilePath = filePath

	err := s.pool.QueryRow(ctx, `
		SELECT entity_ids, COALESCE(git_commit_hash, ''), indexed_at
		FROM file_entity_snapshots WHERE repository_id = $1 AND file_path = $2`,
		repositoryID, filePath).Scan(&snap.EntityIDs, &snap.FileHash, &snap.IndexedAt)
	if err == pgx.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return entity.FileSnapshot{}, cerrors.New(cerrors.Storage, filePath, err)
	}
	return snap, nil
}

// SoftDeleteEntities marks entity_metadata rows deleted_at = now() for the
// given IDs, mirroring DeleteEntitiesForFile but as a soft delete (spec.md
// §4.6 requires deleted entities to remain addressable for history, unlike
// the teacher's hard `:rm`).
func (s *Store) SoftDeleteEntities(ctx context.Context, tx pgx.Tx, repositoryID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE entity_metadata SET deleted_at = now(), updated_at = now()
		WHERE repository_id = $1 AND entity_id = ANY($2) AND deleted_at IS NULL`,
		repositoryID, entityIDs)
	if err != nil {
		return cerrors.New(cerrors.Storage, repositoryID, err)
	}
	return nil
}

// InsertPendingRelationships records relationships pkg/resolve could not
// resolve on this pass (e.g. a CONTAINS parent not yet indexed), so a later
// resolution pass can retry once the target entity appears.
func (s *Store) InsertPendingRelationships(ctx context.Context, repositoryID string, rows []entity.PendingRelationship) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO pending_relationships (repository_id, source_entity_id, relationship_type, target_qualified_name)
			VALUES ($1, $2, $3, $4)`,
			repositoryID, r.SourceEntityID, r.RelationshipType, r.TargetQualifiedName)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return cerrors.New(cerrors.Storage, repositoryID, fmt.Errorf("insert pending relationship: %w", err))
		}
	}
	return nil
}

// ListPendingRelationships returns every pending relationship row for a
// repository, for a later resolution pass to retry against the current
// entity set.
func (s *Store) ListPendingRelationships(ctx context.Context, repositoryID string) ([]entity.PendingRelationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_entity_id, relationship_type, target_qualified_name
		FROM pending_relationships WHERE repository_id = $1`, repositoryID)
	if err != nil {
		return nil, cerrors.New(cerrors.Storage, repositoryID, err)
	}
	defer rows.Close()
	var out []entity.PendingRelationship
	for rows.Next() {
		var r entity.PendingRelationship
		if err := rows.Scan(&r.SourceEntityID, &r.RelationshipType, &r.TargetQualifiedName); err != nil {
			return nil, cerrors.New(cerrors.Storage, repositoryID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeletePendingRelationship removes a pending row once a later pass
// resolves it, so the table only ever holds what's still outstanding.
func (s *Store) DeletePendingRelationship(ctx context.Context, repositoryID string, r entity.PendingRelationship) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM pending_relationships
		WHERE repository_id = $1 AND source_entity_id = $2 AND relationship_type = $3 AND target_qualified_name = $4`,
		repositoryID, r.SourceEntityID, r.RelationshipType, r.TargetQualifiedName)
	if err != nil {
		return cerrors.New(cerrors.Storage, repositoryID, err)
	}
	return nil
}

// BeginTx starts a transaction for the outbox writer (pkg/outbox) to use so
// entity metadata, embeddings, outbox rows, and the file snapshot commit
// atomically, per spec.md §5's "persistence is atomic" ordering guarantee.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, cerrors.New(cerrors.Storage, "", err)
	}
	return tx, nil
}

// Pool exposes the underlying pool for callers (e.g. the outbox processor)
// that need raw row-locking queries (`FOR UPDATE SKIP LOCKED`) the typed
// helpers above don't cover.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
