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

package langpath

import (
	"strings"
	"testing"
)

func rustConfig() PathConfig {
	return PathConfig{
		Separator:    "::",
		CrateKeyword: "crate",
		SuperKeyword: "super",
		SelfKeyword:  "self",
	}
}

func TestResolve_SelfRelativeKeepsContainingModule(t *testing.T) {
	path := Parse("self::foo", rustConfig())
	if path.Form != FormSelfRelative {
		t.Fatalf("Form = %v, want FormSelfRelative", path.Form)
	}
	got := Resolve(path, []string{"mycrate", "a", "b"})
	want := "mycrate::a::b::foo"
	if strings.Join(got, "::") != want {
		t.Errorf("Resolve(self::foo) = %q, want %q", strings.Join(got, "::"), want)
	}
}

func TestResolve_CrateRootsAtCrateHeadDiscardingContainingModule(t *testing.T) {
	path := Parse("crate::foo", rustConfig())
	if path.Form != FormCrate {
		t.Fatalf("Form = %v, want FormCrate", path.Form)
	}
	got := Resolve(path, []string{"mycrate", "a", "b"})
	want := "foo"
	if strings.Join(got, "::") != want {
		t.Errorf("Resolve(crate::foo) in module a::b = %q, want %q (crate root, not a::b::foo)", strings.Join(got, "::"), want)
	}
}

func TestResolve_SuperWalksUpLevels(t *testing.T) {
	path := Parse("super::sibling", rustConfig())
	got := Resolve(path, []string{"mycrate", "a", "b"})
	want := "mycrate::a::sibling"
	if strings.Join(got, "::") != want {
		t.Errorf("Resolve(super::sibling) = %q, want %q", strings.Join(got, "::"), want)
	}
}
