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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// normalizeFilePath collapses "./" prefixes and repeated separators so two
// spellings of the same repo-relative path hash identically.
func normalizeFilePath(p string) string {
	return path.Clean(strings.TrimPrefix(p, "./"))
}

// GenerateFileID derives a deterministic ID for a source file from its
// repo-relative path alone, so the same file always resolves to the same
// identity regardless of how its path was spelled on the way in.
func GenerateFileID(filePath string) string {
	h := sha256.Sum256([]byte(normalizeFilePath(filePath)))
	return "file:" + hex.EncodeToString(h[:])[:16]
}

// GenerateFunctionID derives a deterministic ID for a function/method from
// its file path, name, and source span. Signature is accepted for call-site
// convenience but deliberately excluded from the hash: parser improvements
// that produce a more complete signature string must never change a
// function's identity.
func GenerateFunctionID(filePath, name, signature string, startLine, endLine, startCol, endCol int) string {
	_ = signature
	h := sha256.New()
	h.Write([]byte(normalizeFilePath(filePath)))
	h.Write([]byte("|"))
	h.Write([]byte(name))
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d:%d-%d:%d", startLine, startCol, endLine, endCol)
	return "func:" + hex.EncodeToString(h.Sum(nil))[:16]
}
