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

// Package config loads the hierarchical TOML-plus-environment configuration
// every component reads from. The teacher split this across two places: a
// rich in-process IngestionConfig (pkg/ingestion/config.go) and an on-disk
// per-project YAML file with its own getEnv override plumbing
// (cmd/cie/config.go). This package keeps both halves — typed defaults plus
// an environment overlay — but switches the on-disk format from YAML to
// TOML, as spec.md requires, using github.com/BurntSushi/toml: the parser
// the retrieval pack's emergent-company-specmcp repo depends on for exactly
// this kind of flat, validated settings file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/loganmoon/codesearch-sub001/pkg/cerrors"
)

// Config is the root configuration tree, mirroring the group layout of
// spec.md §6.5.
type Config struct {
	Embeddings Embeddings `toml:"embeddings"`
	Storage    Storage    `toml:"storage"`
	Watcher    Watcher    `toml:"watcher"`
	Languages  Languages  `toml:"languages"`
	Outbox     Outbox     `toml:"outbox"`
	Reranking  Reranking  `toml:"reranking"`
}

// Embeddings controls embedding-provider selection.
type Embeddings struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	BatchSize int    `toml:"batch_size"`
	Device    string `toml:"device"`
}

// Storage controls connections to the three external stores, grounded on
// the teacher's ConcurrencyConfig/RetryConfig shape for pool sizing.
type Storage struct {
	QdrantHost                string `toml:"qdrant_host"`
	QdrantPort                int    `toml:"qdrant_port"`
	PostgresHost              string `toml:"postgres_host"`
	PostgresPort              int    `toml:"postgres_port"`
	PostgresDatabase          string `toml:"postgres_database"`
	PostgresUser              string `toml:"postgres_user"`
	PostgresPassword          string `toml:"postgres_password"`
	PostgresPoolSize          int    `toml:"postgres_pool_size"`
	Neo4jURI                  string `toml:"neo4j_uri"`
	Neo4jUser                 string `toml:"neo4j_user"`
	Neo4jPassword             string `toml:"neo4j_password"`
	MaxEntitiesPerDBOperation int    `toml:"max_entities_per_db_operation"`
}

// Watcher is out-of-scope at the core (spec.md §1): these fields exist so
// the config file format round-trips even though the core never reads them.
type Watcher struct {
	DebounceMS      int      `toml:"debounce_ms"`
	IgnorePatterns  []string `toml:"ignore_patterns"`
	BranchStrategy  string   `toml:"branch_strategy"`
}

// Languages carries the [languages] table of the config file. No code reads
// Enabled: it does not gate which extractor plugins run, and every file
// whose language ingestion.DetectLanguage recognises is parsed.
type Languages struct {
	Enabled []string `toml:"enabled"`
}

// Outbox tunes the outbox processor (spec.md §4.8/§6.5).
type Outbox struct {
	PollIntervalMS       int `toml:"poll_interval_ms"`
	EntriesPerPoll       int `toml:"entries_per_poll"`
	MaxRetries           int `toml:"max_retries"`
	MaxEmbeddingDim      int `toml:"max_embedding_dim"`
	MaxCachedCollections int `toml:"max_cached_collections"`
}

// PollInterval returns the configured poll interval as a time.Duration.
func (o Outbox) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// Reranking is out-of-scope at the core; kept for file round-trip fidelity.
type Reranking struct {
	Enabled     bool   `toml:"enabled"`
	Provider    string `toml:"provider"`
	Model       string `toml:"model"`
	Candidates  int    `toml:"candidates"`
	TopK        int    `toml:"top_k"`
	APIBaseURL  string `toml:"api_base_url"`
	APIKey      string `toml:"api_key"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

var validEmbeddingProviders = map[string]bool{"mock": true, "nomic": true, "ollama": true, "openai": true}

// Default returns a config with the same safe defaults the teacher's
// DefaultConfig used for the analogous fields (mock embeddings, 2000-entity
// batches, 5 retries with exponential backoff become max_retries=3/poll
// every 500ms here per spec.md's defaults table).
func Default() Config {
	return Config{
		Embeddings: Embeddings{Provider: "mock", Model: "mock-embed", BatchSize: 32},
		Storage: Storage{
			QdrantHost:                "localhost",
			QdrantPort:                6334,
			PostgresHost:              "localhost",
			PostgresPort:              5432,
			PostgresDatabase:          "codesearch",
			PostgresPoolSize:          10,
			Neo4jURI:                  "bolt://localhost:7687",
			MaxEntitiesPerDBOperation: 10000,
		},
		Languages: Languages{Enabled: []string{"go", "python", "javascript", "typescript", "rust"}},
		Outbox: Outbox{
			PollIntervalMS:       500,
			EntriesPerPoll:       100,
			MaxRetries:           3,
			MaxEmbeddingDim:      4096,
			MaxCachedCollections: 64,
		},
		Reranking: Reranking{Enabled: false, Candidates: 100, TopK: 10},
	}
}

// Load reads path (if it exists) as TOML over the defaults, then applies any
// CODESEARCH_-prefixed environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, cerrors.New(cerrors.Config, path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, cerrors.New(cerrors.Config, path, err)
		}
	}

	applyEnvOverrides(&cfg, os.Environ())

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides mirrors cmd/cie/config.go's getEnv pattern, generalized
// to nested fields using CODESEARCH_GROUP__FIELD naming (spec.md §6.5: "__"
// for nesting).
func applyEnvOverrides(cfg *Config, environ []string) {
	const prefix = "CODESEARCH_"
	for _, kv := range environ {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(kv, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := strings.ToLower(parts[0]), parts[1]
		segs := strings.Split(key, "__")
		if len(segs) != 2 {
			continue
		}
		setField(cfg, segs[0], segs[1], val)
	}
}

func setField(cfg *Config, group, field, val string) {
	switch group {
	case "embeddings":
		switch field {
		case "provider":
			cfg.Embeddings.Provider = val
		case "model":
			cfg.Embeddings.Model = val
		case "batch_size":
			cfg.Embeddings.BatchSize = atoiOr(val, cfg.Embeddings.BatchSize)
		case "device":
			cfg.Embeddings.Device = val
		}
	case "storage":
		switch field {
		case "qdrant_host":
			cfg.Storage.QdrantHost = val
		case "qdrant_port":
			cfg.Storage.QdrantPort = atoiOr(val, cfg.Storage.QdrantPort)
		case "postgres_host":
			cfg.Storage.PostgresHost = val
		case "postgres_port":
			cfg.Storage.PostgresPort = atoiOr(val, cfg.Storage.PostgresPort)
		case "postgres_database":
			cfg.Storage.PostgresDatabase = val
		case "postgres_user":
			cfg.Storage.PostgresUser = val
		case "postgres_password":
			cfg.Storage.PostgresPassword = val
		case "postgres_pool_size":
			cfg.Storage.PostgresPoolSize = atoiOr(val, cfg.Storage.PostgresPoolSize)
		case "neo4j_uri":
			cfg.Storage.Neo4jURI = val
		case "neo4j_user":
			cfg.Storage.Neo4jUser = val
		case "neo4j_password":
			cfg.Storage.Neo4jPassword = val
		case "max_entities_per_db_operation":
			cfg.Storage.MaxEntitiesPerDBOperation = atoiOr(val, cfg.Storage.MaxEntitiesPerDBOperation)
		}
	case "outbox":
		switch field {
		case "poll_interval_ms":
			cfg.Outbox.PollIntervalMS = atoiOr(val, cfg.Outbox.PollIntervalMS)
		case "entries_per_poll":
			cfg.Outbox.EntriesPerPoll = atoiOr(val, cfg.Outbox.EntriesPerPoll)
		case "max_retries":
			cfg.Outbox.MaxRetries = atoiOr(val, cfg.Outbox.MaxRetries)
		case "max_embedding_dim":
			cfg.Outbox.MaxEmbeddingDim = atoiOr(val, cfg.Outbox.MaxEmbeddingDim)
		case "max_cached_collections":
			cfg.Outbox.MaxCachedCollections = atoiOr(val, cfg.Outbox.MaxCachedCollections)
		}
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Validate enforces the numeric bounds and enum constraints spec.md §6.5
// lists, rejecting unknown provider strings and out-of-range values at load
// time rather than failing deep inside the pipeline later.
func (c Config) Validate() error {
	if !validEmbeddingProviders[c.Embeddings.Provider] {
		return cerrors.Newf(cerrors.Config, "", "unknown embeddings.provider %q", c.Embeddings.Provider)
	}
	if c.Outbox.PollIntervalMS < 1 || c.Outbox.PollIntervalMS > 60000 {
		return cerrors.Newf(cerrors.Config, "", "outbox.poll_interval_ms must be in 1..60000, got %d", c.Outbox.PollIntervalMS)
	}
	if c.Outbox.EntriesPerPoll < 1 || c.Outbox.EntriesPerPoll > 1000 {
		return cerrors.Newf(cerrors.Config, "", "outbox.entries_per_poll must be in 1..1000, got %d", c.Outbox.EntriesPerPoll)
	}
	if c.Outbox.MaxRetries < 0 {
		return cerrors.Newf(cerrors.Config, "", "outbox.max_retries must be >= 0, got %d", c.Outbox.MaxRetries)
	}
	if c.Outbox.MaxEmbeddingDim <= 0 {
		return cerrors.Newf(cerrors.Config, "", "outbox.max_embedding_dim must be > 0, got %d", c.Outbox.MaxEmbeddingDim)
	}
	if c.Outbox.MaxCachedCollections < 1 || c.Outbox.MaxCachedCollections > 1000 {
		return cerrors.Newf(cerrors.Config, "", "outbox.max_cached_collections must be in 1..1000, got %d", c.Outbox.MaxCachedCollections)
	}
	if c.Reranking.Enabled {
		if c.Reranking.Candidates > 1000 {
			return cerrors.Newf(cerrors.Config, "", "reranking.candidates must be <= 1000, got %d", c.Reranking.Candidates)
		}
		if c.Reranking.TopK > c.Reranking.Candidates {
			return cerrors.Newf(cerrors.Config, "", "reranking.top_k (%d) must be <= reranking.candidates (%d)", c.Reranking.TopK, c.Reranking.Candidates)
		}
	}
	return nil
}

// PostgresDSN formats the relational connection string pgx expects.
func (s Storage) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?pool_max_conns=%d",
		s.PostgresUser, s.PostgresPassword, s.PostgresHost, s.PostgresPort, s.PostgresDatabase, s.PostgresPoolSize)
}
