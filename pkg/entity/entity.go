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

// Package entity holds the storage-agnostic data model shared by every stage
// of the indexing pipeline: extraction, the transactional outbox, and the
// three downstream stores. Nothing in this package knows about tree-sitter,
// pgx, Qdrant, or Neo4j.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loganmoon/codesearch-sub001/pkg/qname"
)

// EntityKind enumerates the normalized, language-agnostic entity kinds.
type EntityKind string

const (
	KindModule    EntityKind = "module"
	KindFunction  EntityKind = "function"
	KindMethod    EntityKind = "method"
	KindType      EntityKind = "type"
	KindInterface EntityKind = "interface"
	KindField     EntityKind = "field"
	KindConstant  EntityKind = "constant"
)

// SourceReference pinpoints an entity's location inside a specific file
// revision, so a reference stays meaningful even after the file changes.
type SourceReference struct {
	FilePath    string
	Language    string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
	FileHash    string
}

// CodeEntity is the normalized unit of code the pipeline extracts, embeds,
// and persists. Its ID is deterministic so re-indexing an unchanged entity
// never allocates a new identity.
type CodeEntity struct {
	ID             string
	RepositoryID   string
	Kind           EntityKind
	QualifiedName  qname.QualifiedName
	SimpleName     string
	Signature      string
	DocComment     string
	CodeText       string
	Source         SourceReference
	Relationships  []EntityRelationshipData
	ContentHash    string
	ExtractedAtUTC time.Time
}

// RelationshipKind is the closed set of reference kinds captured at
// extraction time, before any resolution has been attempted.
type RelationshipKind string

const (
	RelCalls          RelationshipKind = "calls"
	RelUsesType       RelationshipKind = "uses_type"
	RelImplementsTrait RelationshipKind = "implements_trait"
	RelImports        RelationshipKind = "imports"
	RelInheritsFrom   RelationshipKind = "inherits_from"
	RelAssociates     RelationshipKind = "associates"
	RelExtends        RelationshipKind = "extends_interface"
	RelContains       RelationshipKind = "contains"
)

// EntityRelationshipData is an unresolved, textual reference captured while
// walking a single file. Resolution (mapping RawTarget to a concrete entity
// ID) is a separate, later phase; extraction never blocks on it.
type EntityRelationshipData struct {
	Kind        RelationshipKind
	RawTarget   string // textual callee/type/trait name as written in source
	Alias       string // resolved through the file's import map, if qualified
	Line        int
	Ambiguous   bool
	ResolvedID  string // filled in by the resolver; empty until resolved
}

// Embedding is a dense (and optionally sparse) vector representation of an
// entity's code text, keyed by the same content hash used for dedup.
type Embedding struct {
	EntityID    string
	ContentHash string
	Dense       []float32
	SparseIdx   []uint32
	SparseVal   []float32
	Model       string
	Dimensions  int
}

// Repository identifies the source repository an entity was extracted from.
type Repository struct {
	ID        string
	RemoteURL string
	RootPath  string
	HeadSHA   string
}

// OutboxStatus tracks an outbox row through its retry lifecycle.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxInFlight  OutboxStatus = "in_flight"
	OutboxDone      OutboxStatus = "done"
	OutboxPoisoned  OutboxStatus = "poisoned"
)

// OutboxTarget names which downstream store an outbox row is destined for.
type OutboxTarget string

const (
	TargetVector     OutboxTarget = "vector"
	TargetGraph      OutboxTarget = "graph"
)

// OutboxOp is the operation an outbox row asks the target store to perform.
type OutboxOp string

const (
	OpUpsert OutboxOp = "upsert"
	OpDelete OutboxOp = "delete"
)

// OutboxEntry is a single durable row written in the same transaction as the
// entity metadata it describes, later drained by an OutboxProcessor.
type OutboxEntry struct {
	ID          int64
	RepositoryID string
	Target      OutboxTarget
	Op          OutboxOp
	Payload     []byte // JSON-encoded operation payload
	Status      OutboxStatus
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	AvailableAt time.Time
}

// FileSnapshot records the set of entity IDs produced by the most recent
// extraction of a single file, enabling the delta engine to soft-delete
// entities that disappeared from a later revision without a full rescan.
type FileSnapshot struct {
	RepositoryID string
	FilePath     string
	FileHash     string
	EntityIDs    []string
	IndexedAt    time.Time
}

// PendingRelationship is a relationship the generic resolver could not
// resolve on its current pass (most commonly a CONTAINS edge whose parent
// hasn't been indexed yet), held for a later retry once more of the
// repository has been extracted.
type PendingRelationship struct {
	SourceEntityID      string
	RelationshipType    string
	TargetQualifiedName string
}

// GenerateEntityID derives a stable ID for an entity from the four fields
// spec.md §3.1 says must never collide: repository_id, file_path,
// qualified_name, and entity_type. Signatures, doc comments, and source
// spans are intentionally excluded so reformatting a comment, or a
// line-number shift from an unrelated edit elsewhere in the file, never
// changes an entity's identity.
func GenerateEntityID(repositoryID, filePath, qualifiedName string, kind EntityKind) string {
	h := sha256.New()
	h.Write([]byte(repositoryID))
	h.Write([]byte("|"))
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(qualifiedName))
	h.Write([]byte("|"))
	h.Write([]byte(kind))
	return "ent:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateFieldID derives a stable ID for a struct/class field.
func GenerateFieldID(filePath, ownerName, fieldName string) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(ownerName))
	h.Write([]byte("|"))
	h.Write([]byte(fieldName))
	return "fld:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateContentHash hashes an entity's code text for embedding dedup: two
// entities with identical bodies (e.g. unchanged after a rename elsewhere in
// the file) share an embedding row instead of re-embedding.
func GenerateContentHash(codeText string) string {
	h := sha256.Sum256([]byte(codeText))
	return hex.EncodeToString(h[:])
}

// repositoryNamespace is a fixed, arbitrary namespace UUID used to derive
// version-5 (SHA-1 name-based) repository IDs, so the same canonicalised
// path always yields the same UUID regardless of which machine or process
// computes it.
var repositoryNamespace = uuid.MustParse("6f9bf1f3-d38c-5b6a-9b1a-5c5b6e7b8c9d")

// GenerateRepositoryID derives a stable repository identity as a version-5
// UUID over the canonicalised repository path (spec.md §3.4), so symlinks
// and relative paths that resolve to the same directory share one ID.
func GenerateRepositoryID(canonicalRootPath string) string {
	return uuid.NewSHA1(repositoryNamespace, []byte(canonicalRootPath)).String()
}
