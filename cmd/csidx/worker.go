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
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/loganmoon/codesearch-sub001/pkg/entity"
	"github.com/loganmoon/codesearch-sub001/pkg/outbox"
)

// runWorker executes the 'worker' CLI command: it runs one Processor per
// outbox target (vector, graph) until the process is signalled to stop,
// draining entity_outbox into Qdrant and Neo4j per spec.md §4.8.
//
// Flags:
//   - --collection: Qdrant collection rows are upserted into (required)
//   - --max-embedding-dim: rejects oversized embeddings rather than corrupting a collection
//   - --metrics-addr: HTTP address for Prometheus metrics (empty disables it)
func runWorker(args []string, configPath string, debug bool) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	collection := fs.String("collection", "", "Qdrant collection name to write into (required)")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csidx worker --collection <name> [options]

Description:
  Continuously drain entity_outbox, applying resolved entities and edges to
  Qdrant (vector search) and Neo4j (graph traversal). Runs until interrupted.

`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *collection == "" {
		fmt.Fprintln(os.Stderr, "csidx: worker requires --collection")
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

	if err := st.ensureProvisioned(ctx, *collection); err != nil {
		fmt.Fprintf(os.Stderr, "csidx: %v\n", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	processors := []*outbox.Processor{
		{
			Relational:   st.rel,
			Sink:         &outbox.VectorSink{Store: st.vec, Relational: st.rel, Collection: *collection, MaxEmbeddingDim: cfg.Outbox.MaxEmbeddingDim},
			Target:       entity.TargetVector,
			PollInterval: cfg.Outbox.PollInterval(),
			BatchSize:    cfg.Outbox.EntriesPerPoll,
			MaxRetries:   cfg.Outbox.MaxRetries,
		},
		{
			Relational:   st.rel,
			Sink:         &outbox.GraphSink{Store: st.graph},
			Target:       entity.TargetGraph,
			PollInterval: cfg.Outbox.PollInterval(),
			BatchSize:    cfg.Outbox.EntriesPerPoll,
			MaxRetries:   cfg.Outbox.MaxRetries,
		},
	}

	logger.Info("worker.starting", "collection", *collection, "targets", len(processors))

	var wg sync.WaitGroup
	for _, p := range processors {
		wg.Add(1)
		go func(p *outbox.Processor) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				logger.Error("worker.processor.stopped", "target", p.Target, "err", err)
			}
		}(p)
	}
	wg.Wait()

	logger.Info("worker.stopped")
}
