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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/graphmodel"
)

func TestDeleteEntityIDsDedupsAcrossRows(t *testing.T) {
	entries := []Entry{
		{EntityID: "a", RawPayload: []byte(`{"entity_ids":["e1","e2"]}`)},
		{EntityID: "b", RawPayload: []byte(`{"entity_ids":["e2","e3"]}`)},
	}
	ids, err := deleteEntityIDs(entries)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2", "e3"}, ids)
}

func TestDeleteEntityIDsRejectsMalformedPayload(t *testing.T) {
	entries := []Entry{{EntityID: "a", RawPayload: []byte(`not json`)}}
	_, err := deleteEntityIDs(entries)
	require.Error(t, err)
}

func TestNodeLabelMapping(t *testing.T) {
	require.Equal(t, "Function", nodeLabel(entity.KindFunction))
	require.Equal(t, "Function", nodeLabel(entity.KindMethod))
	require.Equal(t, "Type", nodeLabel(entity.KindInterface))
	require.Equal(t, "Module", nodeLabel(entity.KindModule))
	require.Equal(t, "Entity", nodeLabel(entity.KindConstant))
}

func TestRelationshipLabelMapping(t *testing.T) {
	require.Equal(t, graphmodel.Calls, relationshipLabel(entity.RelCalls))
	require.Equal(t, graphmodel.Implements, relationshipLabel(entity.RelImplementsTrait))
	require.Equal(t, graphmodel.ExtendsInterface, relationshipLabel(entity.RelExtends))
}
