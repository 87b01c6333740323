// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchRules loads a rule override file and reloads it whenever it
// changes on disk.
//
// # Description
//
// Reads and applies path immediately, then watches its parent
// directory (editors replace files via rename, so watching the file
// itself misses rewrites) and reloads on every write or create event
// for that name. A reload that fails to parse or validate keeps the
// previous rules in place and logs a warning; the engine never runs
// without a valid rule set.
//
// The watch goroutine exits when ctx is cancelled.
//
// # Inputs
//
//   - ctx: Cancels the watch loop.
//   - path: Rule YAML file to load and watch.
//   - logger: Destination for reload outcomes. Nil uses slog.Default.
//
// # Outputs
//
//   - error: Non-nil when the initial load or watcher setup fails.
func WatchRules(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := reloadRulesFile(ctx, path); err != nil {
		return fmt.Errorf("config: initial rules load: %w", err)
	}
	logger.Info("Commerce rules loaded from file", slog.String("path", path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating rules watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watching %q: %w", dir, err)
	}

	base := filepath.Base(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := reloadRulesFile(ctx, path); err != nil {
					logger.Warn("Commerce rules reload failed, keeping previous rules",
						slog.String("path", path),
						slog.String("error", err.Error()),
					)
					continue
				}
				logger.Info("Commerce rules reloaded", slog.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Commerce rules watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// reloadRulesFile reads, parses, and swaps in a rule file atomically
// with respect to readers.
func reloadRulesFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rules, err := LoadCommerceRules(ctx, data)
	if err != nil {
		return err
	}
	storeCommerceRules(rules)
	return nil
}
