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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Embeddings.Provider = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestValidateEnforcesOutboxBounds(t *testing.T) {
	cfg := Default()
	cfg.Outbox.PollIntervalMS = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Outbox.EntriesPerPoll = 1001
	require.Error(t, cfg.Validate())
}

func TestValidateRerankingTopKBound(t *testing.T) {
	cfg := Default()
	cfg.Reranking.Enabled = true
	cfg.Reranking.Candidates = 10
	cfg.Reranking.TopK = 20
	require.Error(t, cfg.Validate())
}

func TestLoadFromTOMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := "[embeddings]\nprovider = \"openai\"\nmodel = \"text-embedding-3-small\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Embeddings.Provider)
	require.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
	require.Equal(t, 10, cfg.Storage.PostgresPoolSize, "unset groups keep defaults")
}

func TestEnvOverridesNestedField(t *testing.T) {
	t.Setenv("CODESEARCH_OUTBOX__MAX_RETRIES", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Outbox.MaxRetries)
}
