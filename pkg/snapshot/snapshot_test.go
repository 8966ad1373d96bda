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

package snapshot

import (
	"reflect"
	"testing"
)

func TestDiff_RemovedEntities(t *testing.T) {
	old := []string{"a", "b", "c"}
	newIDs := []string{"b", "c", "d"}
	got := Diff(old, newIDs)
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Diff = %v, want [a]", got)
	}
}

func TestDiff_FileFullyRemoved(t *testing.T) {
	old := []string{"a", "b"}
	got := Diff(old, nil)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Diff = %v, want [a b]", got)
	}
}

func TestDiff_NoChange(t *testing.T) {
	old := []string{"a", "b"}
	if got := Diff(old, []string{"a", "b"}); len(got) != 0 {
		t.Errorf("Diff = %v, want empty", got)
	}
}
