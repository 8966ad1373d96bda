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
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// DISCOVER STAGE
// =============================================================================
//
// Discover walks a repository and produces the FileInfo list the Extract
// stage parses. It reuses DeltaDetector's git plumbing (DetectUntrackedFiles,
// IsGitRepository) to enumerate files the same way the delta path already
// does, so a full scan and an incremental re-scan agree on what "belongs to
// the repo" means.

// FileInfo describes a single source file queued for extraction.
type FileInfo struct {
	Path     string // Repo-relative path
	FullPath string // Absolute filesystem path
	Language string // Detected language identifier, "" if unrecognized
	Size     int64
}

// DefaultExcludeGlobs are directories and file patterns never worth
// extracting from, mirroring the set a fresh clone typically carries.
var DefaultExcludeGlobs = []string{
	".git/**",
	"node_modules/**", "vendor/**",
	"dist/**", "build/**", "bin/**", "**/bin/**", "out/**",
	".idea/**", ".vscode/**", "*.swp", "*.swo",
	".next/**", ".nuxt/**",
	"*.o", "*.so", "*.dylib", "*.exe", "*.dll", "*.a",
	"*.pack", "*.pack.gz", "*.pack.old",
	".cache/**", "coverage/**", "tmp/**", ".tmp/**",
	"*.min.js", "*.min.css",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum",
}

// languageByExtension maps a file extension to the extractor identifier
// used by Parser.ParseFile and TreeSitterParser.ParseFile's language switch.
var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".proto": "protobuf",
}

// DetectLanguage classifies a path by extension. An empty result means the
// file is carried through Discover for completeness (e.g. snapshot bookkeeping
// for deletion detection) but skipped by every language-specific parser.
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// DiscoverOptions controls which files a walk includes.
type DiscoverOptions struct {
	ExcludeGlobs []string
	MaxFileSize  int64 // 0 = no limit
}

// DefaultDiscoverOptions returns the options a fresh full index uses.
func DefaultDiscoverOptions() DiscoverOptions {
	return DiscoverOptions{
		ExcludeGlobs: DefaultExcludeGlobs,
		MaxFileSize:  1048576,
	}
}

// Discover walks repoPath, preferring git's own view of tracked plus
// untracked-but-not-ignored files when repoPath is a git repository (so
// .gitignore is honored for free), and falling back to a plain filesystem
// walk otherwise. Binary and oversized files are dropped; everything else
// is returned with its detected language, sorted by path for determinism.
func Discover(repoPath string, opts DiscoverOptions) ([]FileInfo, error) {
	dd := NewDeltaDetector(repoPath, nil)

	var relPaths []string
	if dd.IsGitRepository() {
		tracked, err := gitLsFilesTracked(repoPath)
		if err != nil {
			return nil, err
		}
		untracked, err := dd.DetectUntrackedFiles()
		if err != nil {
			return nil, err
		}
		relPaths = append(tracked, untracked...)
	} else {
		var err error
		relPaths, err = walkFilesystem(repoPath)
		if err != nil {
			return nil, err
		}
	}

	fc := &filterContext{excludeGlobs: opts.ExcludeGlobs, maxFileSize: opts.MaxFileSize, repoPath: repoPath}
	eligible := fc.filterPaths(relPaths, true)
	sort.Strings(eligible)

	infos := make([]FileInfo, 0, len(eligible))
	seen := make(map[string]struct{}, len(eligible))
	for _, rel := range eligible {
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		full := filepath.Join(repoPath, rel)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		infos = append(infos, FileInfo{
			Path:     filepath.ToSlash(rel),
			FullPath: full,
			Language: DetectLanguage(rel),
			Size:     info.Size(),
		})
	}
	return infos, nil
}

// gitLsFilesTracked lists every git-tracked file, the same way
// DeltaDetector.DetectUntrackedFiles lists the untracked half of the set.
func gitLsFilesTracked(repoPath string) ([]string, error) {
	cmd := exec.Command("git", "ls-files")
	cmd.Dir = repoPath
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git ls-files failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, line)
		}
	}
	return files, scanner.Err()
}

// walkFilesystem is the non-git fallback: a plain recursive walk, still
// subject to the same exclude-glob and eligibility filtering as the git path.
func walkFilesystem(repoPath string) ([]string, error) {
	var paths []string
	err := filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// matchesGlob reports whether path matches a single exclude pattern.
// Patterns ending in "/**" match the directory and everything below it (a
// leading "**/" lets that directory sit at any depth, so "**/bin/**" matches
// "cmd/x/bin/tool");
// all other patterns are matched with filepath.Match against both the full
// path and its base name, so a bare "*.min.js" excludes at any depth.
func matchesGlob(path, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		if dir, ok := strings.CutPrefix(prefix, "**/"); ok {
			return path == dir || strings.HasPrefix(path, dir+"/") || strings.Contains(path, "/"+dir+"/")
		}
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	if ok, _ := filepath.Match(pattern, path); ok {
		return true
	}
	if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
		return true
	}
	return false
}
