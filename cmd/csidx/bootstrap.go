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
	"log/slog"
	"os"

	"github.com/loganmoon/codesearch-sub001/pkg/config"
	"github.com/loganmoon/codesearch-sub001/pkg/store/embed"
	"github.com/loganmoon/codesearch-sub001/pkg/store/graph"
	"github.com/loganmoon/codesearch-sub001/pkg/store/relational"
	"github.com/loganmoon/codesearch-sub001/pkg/store/vector"
)

// stores bundles the three backing connections plus the embedding provider,
// every subcommand's real dependency set.
type stores struct {
	rel      *relational.Store
	vec      *vector.Store
	graph    *graph.Store
	embedder embed.Provider
	cfg      config.Config
}

// newLogger builds the text-handler slog.Logger every subcommand logs
// through, matching the teacher's cmd/cie logging setup.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads and validates the config, exiting the process on failure
// since every subcommand needs a valid config before doing anything else.
func loadConfig(configPath string) config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csidx: config error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStores connects to Postgres, Qdrant and Neo4j, and constructs the
// embedding provider named by cfg.Embeddings.Provider. Only "mock" is wired
// to a concrete implementation: the real inference providers (Nomic, Ollama,
// OpenAI) are external collaborators per spec.md's scope and are not
// implemented by this module (see pkg/store/embed's package doc).
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	rel, err := relational.Open(ctx, cfg.Storage.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	vec, err := vector.Open(cfg.Storage.QdrantHost, cfg.Storage.QdrantPort)
	if err != nil {
		rel.Close()
		return nil, fmt.Errorf("open qdrant: %w", err)
	}

	graphStore, err := graph.Open(ctx, cfg.Storage.Neo4jURI, cfg.Storage.Neo4jUser, cfg.Storage.Neo4jPassword)
	if err != nil {
		rel.Close()
		_ = vec.Close()
		return nil, fmt.Errorf("open neo4j: %w", err)
	}

	var embedder embed.Provider
	switch cfg.Embeddings.Provider {
	case "mock":
		embedder = embed.NewMockProvider(64)
	default:
		logger.Warn("embeddings.provider.unsupported", "provider", cfg.Embeddings.Provider, "falling_back_to", "mock")
		embedder = embed.NewMockProvider(64)
	}

	return &stores{rel: rel, vec: vec, graph: graphStore, embedder: embedder, cfg: cfg}, nil
}

// close releases every connection, logging (not failing) on error since this
// runs during shutdown.
func (s *stores) close(logger *slog.Logger) {
	if s.graph != nil {
		if err := s.graph.Close(context.Background()); err != nil {
			logger.Warn("shutdown.neo4j.close.error", "err", err)
		}
	}
	if s.vec != nil {
		if err := s.vec.Close(); err != nil {
			logger.Warn("shutdown.qdrant.close.error", "err", err)
		}
	}
	if s.rel != nil {
		s.rel.Close()
	}
}

// ensureProvisioned creates the Postgres schema and the Qdrant collection,
// idempotently, so both "index" and "worker" can be run against a bare
// environment without a separate migration step.
func (s *stores) ensureProvisioned(ctx context.Context, collection string) error {
	if err := s.rel.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	if err := s.vec.EnsureCollection(ctx, collection, uint64(s.embedder.Dimensions())); err != nil {
		return fmt.Errorf("ensure qdrant collection: %w", err)
	}
	return nil
}
