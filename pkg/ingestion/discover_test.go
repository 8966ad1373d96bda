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

package ingestion

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"main.go":        "go",
		"lib/util.py":    "python",
		"web/app.jsx":    "javascript",
		"web/app.tsx":    "typescript",
		"api/service.proto": "protobuf",
		"README.md":      "",
		"Makefile":       "",
	}
	for path, want := range cases {
		if got := DetectLanguage(path); got != want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMatchesGlob(t *testing.T) {
	if !matchesGlob("vendor/foo/bar.go", "vendor/**") {
		t.Error("expected vendor/** to match a nested path")
	}
	if matchesGlob("vendored/bar.go", "vendor/**") {
		t.Error("vendor/** should not match a sibling directory with a shared prefix")
	}
	if !matchesGlob("dist/bundle.min.js", "*.min.js") {
		t.Error("expected *.min.js to match regardless of directory")
	}
	if matchesGlob("main.go", "*.min.js") {
		t.Error("main.go should not match *.min.js")
	}
}

func TestDiscover_NonGitDirectory(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "main.go"), "package main\n")
	mustWrite(t, filepath.Join(dir, "README.md"), "hello\n")
	if err := os.MkdirAll(filepath.Join(dir, "vendor", "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "vendor", "pkg", "dep.go"), "package pkg\n")

	files, err := Discover(dir, DefaultDiscoverOptions())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	var gotMain, gotVendor bool
	for _, f := range files {
		if f.Path == "main.go" {
			gotMain = true
			if f.Language != "go" {
				t.Errorf("main.go language = %q, want go", f.Language)
			}
		}
		if f.Path == "vendor/pkg/dep.go" {
			gotVendor = true
		}
	}
	if !gotMain {
		t.Error("expected main.go in discovered files")
	}
	if gotVendor {
		t.Error("vendor/** should have been excluded")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
