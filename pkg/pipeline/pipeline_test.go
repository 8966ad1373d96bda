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

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
)

func TestChunkEntities_RespectsSize(t *testing.T) {
	entities := make([]entity.CodeEntity, 5)
	for i := range entities {
		entities[i] = entity.CodeEntity{ID: string(rune('a' + i))}
	}

	chunks := chunkEntities(entities, 2)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 2)
	require.Len(t, chunks[1], 2)
	require.Len(t, chunks[2], 1)
}

func TestChunkEntities_EmptyInput(t *testing.T) {
	require.Nil(t, chunkEntities(nil, 10))
}

func TestChunkEntities_ZeroSizeFallsBackToOneChunk(t *testing.T) {
	entities := []entity.CodeEntity{{ID: "a"}, {ID: "b"}}
	chunks := chunkEntities(entities, 0)
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0], 2)
}

func TestRelationshipDefs_CoverEveryPopulatedRelationshipKind(t *testing.T) {
	defs := relationshipDefs()
	byName := make(map[string]bool, len(defs))
	for _, d := range defs {
		byName[d.Name] = true
		require.NotEmpty(t, d.Strategies, "def %q must list at least one strategy", d.Name)
		require.NotEmpty(t, d.SourceKinds, "def %q must constrain source kinds", d.Name)
		require.NotEmpty(t, d.TargetKinds, "def %q must constrain target kinds", d.Name)
	}
	require.True(t, byName["calls"])
	require.True(t, byName["implements"])
	require.True(t, byName["uses_type"])
}
