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

// Package main implements the csidx CLI: the indexing and outbox-draining
// entry point for the code intelligence engine.
//
// Usage:
//
//	csidx index [path]     Run one Discover->Extract->Embed->Persist pass
//	csidx worker           Drain the transactional outbox continuously
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// version is set via ldflags during build.
var version = "dev"

func main() {
	showVersion := flag.BoolP("version", "V", false, "Show version and exit")
	configPath := flag.StringP("config", "c", "", "Path to TOML config file (default: built-in defaults + env)")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.SetInterspersed(false)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `csidx - Code Intelligence Indexing & Resolution Engine

Usage:
  csidx <command> [options]

Commands:
  index [path]   Discover, extract, embed and persist a repository (default path: ".")
  worker         Run the outbox processors that drain entity_outbox into Qdrant and Neo4j

Global Options:
  -c, --config    Path to TOML config file
  --debug         Enable debug logging
  -V, --version   Show version and exit

Environment Variables:
  CODESEARCH_<GROUP>__<FIELD>   Overrides any config field, e.g. CODESEARCH_STORAGE__POSTGRES_HOST

For detailed command help: csidx <command> --help

`)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("csidx version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "index":
		runIndex(cmdArgs, *configPath, *debug)
	case "worker":
		runWorker(cmdArgs, *configPath, *debug)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
