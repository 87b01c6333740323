// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// storedump inspects the concierge's BadgerDB data directory.
//
// The concierge keeps two databases under its data directory: catalog/
// (users, products, inventory, orders, categories) and sessions/
// (conversation context, personalization, execution traces). This tool
// opens both read-only and prints a human-readable summary: row counts
// and stored bytes per key family, plus a short sample of each
// family's JSON values. It never needs the server to be running, which
// makes it the right tool when the server will not start or a table
// looks wrong through the HTTP API.
//
// Usage:
//
//	storedump [--path /path/to/data] [--samples 3]
//
// If --path is not given, reads COMMERCE_DATA_DIR from the
// environment, falling back to ~/.aleutian/commerce.
//
// Exit codes:
//
//	0 - success (including "no data yet", which prints a message)
//	1 - error opening or reading a database
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Key prefixes must match the catalog and session stores exactly.
var keyFamilies = map[string][]string{
	"catalog": {
		"store:user:",
		"store:product:",
		"store:inventory:",
		"store:order:",
		"store:category:",
	},
	"sessions": {
		"session:",
		"personalization:",
		"trace:",
	},
}

type familyStats struct {
	count    int
	rawBytes int
	samples  []sampleRow
}

type sampleRow struct {
	key       string
	preview   string
	expiresAt time.Time
	hasExpiry bool
}

func main() {
	pathFlag := flag.String("path", "", "Concierge data directory (overrides COMMERCE_DATA_DIR env var)")
	samples := flag.Int("samples", 3, "Sample values to print per key family")
	flag.Parse()

	dataDir := *pathFlag
	if dataDir == "" {
		dataDir = os.Getenv("COMMERCE_DATA_DIR")
	}
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dataDir = filepath.Join(home, ".aleutian", "commerce")
	}

	fmt.Printf("Concierge data directory: %s\n", dataDir)

	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		fmt.Println("Data directory does not exist. The concierge has not stored anything yet.")
		fmt.Println("Start it with: go run ./cmd/concierge")
		os.Exit(0)
	}

	for _, name := range []string{"catalog", "sessions"} {
		dumpDatabase(filepath.Join(dataDir, name), name, *samples)
	}
}

// dumpDatabase opens one BadgerDB read-only and prints its key
// families. A missing directory is reported, not fatal: a fresh
// deployment may have seeded the catalog but never served a turn.
func dumpDatabase(dbPath, name string, sampleLimit int) {
	fmt.Printf("\n%s\n", strings.Repeat("═", 72))
	fmt.Printf("Database: %s (%s)\n", name, dbPath)
	fmt.Println(strings.Repeat("═", 72))

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Not created yet.")
		return
	}

	// Open read-only so a running concierge keeps its lock semantics
	// and a crashed one cannot be corrupted further by inspection.
	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	stats := make(map[string]*familyStats)
	var other familyStats
	total := 0

	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			total++

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value for %q: %w", key, err)
			}

			family := matchFamily(name, key)
			fs := &other
			if family != "" {
				if stats[family] == nil {
					stats[family] = &familyStats{}
				}
				fs = stats[family]
			}

			fs.count++
			fs.rawBytes += len(raw)
			if len(fs.samples) < sampleLimit {
				row := sampleRow{key: key, preview: preview(raw, 70)}
				if expiresAt := item.ExpiresAt(); expiresAt > 0 {
					row.hasExpiry = true
					row.expiresAt = time.Unix(int64(expiresAt), 0)
				}
				fs.samples = append(fs.samples, row)
			}
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if total == 0 {
		fmt.Println("Empty.")
		return
	}

	families := make([]string, 0, len(stats))
	for f := range stats {
		families = append(families, f)
	}
	sort.Strings(families)

	for _, f := range families {
		fs := stats[f]
		fmt.Printf("\n%s  %d row%s, %s\n", f, fs.count, plural(fs.count, "", "s"), formatBytes(fs.rawBytes))
		for _, row := range fs.samples {
			fmt.Printf("  %s\n", row.key)
			if row.hasExpiry {
				remaining := time.Until(row.expiresAt)
				if remaining < 0 {
					fmt.Printf("    ttl: EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
				} else {
					fmt.Printf("    ttl: %s remaining\n", remaining.Round(time.Second))
				}
			}
			fmt.Printf("    %s\n", row.preview)
		}
		if fs.count > len(fs.samples) {
			fmt.Printf("  ... %d more\n", fs.count-len(fs.samples))
		}
	}

	if other.count > 0 {
		fmt.Printf("\n(unrecognized keys)  %d row%s, %s\n", other.count, plural(other.count, "", "s"), formatBytes(other.rawBytes))
		for _, row := range other.samples {
			fmt.Printf("  %s\n", row.key)
		}
	}

	fmt.Printf("\nSummary: %d key%s across %d famil%s\n",
		total, plural(total, "", "s"), len(families), plural(len(families), "y", "ies"))
}

// matchFamily returns the key family a key belongs to, or "" for keys
// outside the known schema.
func matchFamily(db, key string) string {
	for _, prefix := range keyFamilies[db] {
		if strings.HasPrefix(key, prefix) {
			return prefix
		}
	}
	return ""
}

// preview renders stored JSON for terminal display, truncated to max
// runes. Values are stored compact, so the raw bytes read fine as-is.
func preview(raw []byte, max int) string {
	s := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, string(raw))
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "storedump: "+format+"\n", args...)
	os.Exit(1)
}
