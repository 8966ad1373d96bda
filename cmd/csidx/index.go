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

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/pipeline"
)

// runIndex executes the 'index' CLI command: one full Discover -> Extract ->
// Embed -> Persist pass over a repository.
//
// Flags:
//   - --debug: Enable debug logging (default: false, also settable globally)
//
// Examples:
//
//	csidx index            Index the current directory
//	csidx index ../other    Index a different repository root
func runIndex(args []string, configPath string, debug bool) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csidx index [path]

Description:
  Walk the repository at path (default: current directory), parse every
  supported source file, resolve cross-file relationships, generate
  embeddings, and persist the results: entity_metadata and embeddings in
  Postgres immediately, plus an outbox row per entity for the "csidx worker"
  process to later apply to Qdrant and Neo4j.

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	repoPath := "."
	if fs.NArg() > 0 {
		repoPath = fs.Arg(0)
	}
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csidx: cannot resolve path %q: %v\n", repoPath, err)
		os.Exit(1)
	}

	logger := newLogger(debug)
	cfg := loadConfig(configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csidx: %v\n", err)
		os.Exit(1)
	}
	defer st.close(logger)

	repo := entity.Repository{
		ID:        entity.GenerateRepositoryID(absPath),
		RemoteURL: remoteURL(absPath),
		RootPath:  absPath,
		HeadSHA:   headSHA(absPath),
	}
	collection := "codesearch_" + repo.ID[:12]

	if err := st.ensureProvisioned(ctx, collection); err != nil {
		fmt.Fprintf(os.Stderr, "csidx: %v\n", err)
		os.Exit(1)
	}
	if err := st.rel.UpsertRepository(ctx, repo, collection); err != nil {
		fmt.Fprintf(os.Stderr, "csidx: %v\n", err)
		os.Exit(1)
	}

	// A spinner is only useful when stderr is an interactive terminal; piping
	// csidx's output to a file or CI log otherwise fills it with bar frames.
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Indexing "+filepath.Base(absPath)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(isatty.IsTerminal(os.Stderr.Fd())),
	)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	coordinator := pipeline.New(cfg, st.rel, st.embedder, logger)
	start := time.Now()
	stats, runErr := coordinator.Run(ctx, repo)

	close(stop)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "csidx: indexing failed: %v\n", runErr)
		os.Exit(1)
	}

	fmt.Printf("Indexed %s in %s\n", absPath, time.Since(start).Round(time.Millisecond))
	fmt.Printf("  files discovered: %d\n", stats.FilesDiscovered)
	fmt.Printf("  files parsed:     %d\n", stats.FilesParsed)
	fmt.Printf("  parse errors:     %d\n", stats.ParseErrors)
	fmt.Printf("  entities indexed: %d\n", stats.EntitiesIndexed)
}

// remoteURL shells out to git for the origin remote, returning "" outside a
// git repository or when no origin is configured.
func remoteURL(repoPath string) string {
	out, err := exec.Command("git", "-C", repoPath, "remote", "get-url", "origin").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// headSHA shells out to git for the current commit, returning "" outside a
// git repository (e.g. a fresh checkout with no commits yet).
func headSHA(repoPath string) string {
	out, err := exec.Command("git", "-C", repoPath, "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
