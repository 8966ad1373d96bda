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

// Package vector implements the §6.2 vector store contract against Qdrant.
// The teacher kept vectors inside CozoDB itself (cie_function_embedding,
// an HNSW-indexed column, see pkg/storage/embedded.go's CreateHNSWIndex).
// This package replaces that embedded HNSW index with a real Qdrant
// collection, using github.com/qdrant/go-client the way the retrieval
// pack's TheApeMachine-mcp-server-devops-bridge repo does for its own
// code-graph points.
package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/loganmoon/codesearch-sub001/pkg/cerrors"
)

// Point is one upserted vector plus its payload, mirroring the
// bulk_upsert(collection, points: [{id, dense, sparse?, payload}]) contract.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  map[uint32]float32
	Payload map[string]any
}

// Store wraps a Qdrant gRPC client.
type Store struct {
	client *qdrant.Client
}

// Open dials the Qdrant gRPC endpoint at host:port.
func Open(host string, port int) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, cerrors.New(cerrors.Storage, "", fmt.Errorf("connect qdrant: %w", err))
	}
	return &Store{client: client}, nil
}

// EnsureCollection creates collection if it does not exist, sized for
// vectorSize-dimensional dense vectors with cosine distance — the same
// distance metric the teacher's CreateHNSWIndex used.
func (s *Store) EnsureCollection(ctx context.Context, collection string, vectorSize uint64) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return cerrors.New(cerrors.Storage, collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return cerrors.New(cerrors.Storage, collection, fmt.Errorf("create collection: %w", err))
	}
	return nil
}

// BulkUpsert writes points to collection in a single batch.
func (s *Store) BulkUpsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = toQdrantValue(v)
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Dense...),
			Payload: payload,
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return cerrors.New(cerrors.Storage, collection, fmt.Errorf("bulk upsert: %w", err))
	}
	return nil
}

// BulkDelete removes points by entity ID from collection.
func (s *Store) BulkDelete(ctx context.Context, collection string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, 0, len(entityIDs))
	for _, id := range entityIDs {
		ids = append(ids, qdrant.NewID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return cerrors.New(cerrors.Storage, collection, fmt.Errorf("bulk delete: %w", err))
	}
	return nil
}

// Search is the read path spec.md §6.2 notes is "not used by the core but
// consumed by the out-of-scope search layer"; kept here only as the
// interface boundary that layer is expected to call through.
func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, limit uint64) ([]Point, error) {
	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerrors.New(cerrors.Storage, collection, fmt.Errorf("search: %w", err))
	}
	out := make([]Point, 0, len(result))
	for _, r := range result {
		out = append(out, Point{ID: r.Id.GetUuid(), Payload: fromQdrantPayload(r.Payload)})
	}
	return out, nil
}

func toQdrantValue(v any) *qdrant.Value {
	switch t := v.(type) {
	case string:
		return qdrant.NewValueString(t)
	case int:
		return qdrant.NewValueInt(int64(t))
	case int64:
		return qdrant.NewValueInt(t)
	case float64:
		return qdrant.NewValueDouble(t)
	case bool:
		return qdrant.NewValueBool(t)
	default:
		return qdrant.NewValueString(fmt.Sprintf("%v", t))
	}
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v.AsInterface()
	}
	return out
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
