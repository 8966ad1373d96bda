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

package qname

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStringRoundTrip(t *testing.T) {
	cases := []string{
		"pkg::module::Foo",
		"pkg.module.Foo",
		"pkg::impl Foo",
		"pkg::<Foo as Bar>",
		"<Foo as Bar>::method",
		`pkg::extern "C"`,
	}
	for _, s := range cases {
		q, err := Parse(s)
		require.NoError(t, err, s)
		require.Equal(t, s, q.String(), "round trip for %q", s)
	}
}

func TestIsChildOfSimplePath(t *testing.T) {
	parent := SimplePath(SepDoubleColon, "pkg", "module")
	child := SimplePath(SepDoubleColon, "pkg", "module", "Foo")
	require.True(t, IsChildOf(child, parent))

	notChild := SimplePath(SepDoubleColon, "pkg", "modulebaz")
	require.False(t, IsChildOf(notChild, parent), "modulebaz must not be treated as a child of module via substring match")
}

func TestIsChildOfInherentImpl(t *testing.T) {
	scope := SimplePath(SepDoubleColon, "pkg", "module")
	impl := InherentImpl([]string{"pkg", "module"}, []string{"Foo"})
	require.True(t, IsChildOf(impl, scope))
}

func TestIsChildOfTraitImplItem(t *testing.T) {
	impl := TraitImpl(nil, []string{"Foo"}, []string{"Bar"})
	item := TraitImplItem([]string{"Foo"}, []string{"Bar"}, "method")
	require.True(t, IsChildOf(item, impl))

	other := TraitImpl(nil, []string{"Foo"}, []string{"Baz"})
	require.False(t, IsChildOf(item, other))
}

func TestExternBlockSiblingScope(t *testing.T) {
	block := ExternBlock([]string{"pkg"}, "C")
	require.Equal(t, []string{"pkg"}, SiblingScope(block))
}
