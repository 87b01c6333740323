// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore wraps BadgerDB behind a small transactional surface.
//
// Every store in the concierge service (catalog rows, session state,
// execution traces) shares one *DB and composes its own key prefixes on
// top of it. The wrapper exists so call sites get context-aware
// transactions and a silenced Badger logger without repeating the
// boilerplate.
package badgerstore

import (
	"context"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the underlying BadgerDB instance is opened.
type Config struct {
	// Path is the on-disk directory for the database. Ignored when
	// InMemory is true.
	Path string

	// InMemory opens a fully in-memory instance. Used by tests and by
	// deployments that treat the store as a disposable cache.
	InMemory bool

	// SyncWrites forces an fsync on every commit. Off by default; the
	// concierge treats write loss on crash as acceptable.
	SyncWrites bool

	// Logger receives Badger's internal warnings. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns the standard on-disk configuration. Callers set
// cfg.Path before passing it to OpenDB.
func DefaultConfig() Config {
	return Config{SyncWrites: false}
}

// InMemoryConfig returns a configuration for an ephemeral in-memory
// instance, suitable for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is a thin handle around a *dgbadger.DB.
//
// # Thread Safety
//
// Safe for concurrent use. Badger serializes conflicting writes
// internally; WithTxn surfaces conflicts as errors.
type DB struct {
	inner *dgbadger.DB
}

// OpenDB opens a BadgerDB instance described by cfg.
//
// # Description
//
// Translates Config into badger.Options, silences Badger's default
// stderr logger (or adapts it onto cfg.Logger when provided), and opens
// the database. On-disk opens create the directory if needed.
//
// # Inputs
//
//   - cfg: Open parameters. cfg.Path must be non-empty unless
//     cfg.InMemory is true.
//
// # Outputs
//
//   - *DB: Open handle. Callers own it and must call Close.
//   - error: Non-nil when the directory cannot be created or is locked
//     by another process.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badgerstore: config.Path required for on-disk database")
	}

	opts := dgbadger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", cfg.Path, err)
	}
	return &DB{inner: inner}, nil
}

// Close releases the database. Safe to call once; subsequent
// transactions fail.
func (d *DB) Close() error {
	if d == nil || d.inner == nil {
		return nil
	}
	return d.inner.Close()
}

// WithReadTxn runs fn inside a read-only transaction.
//
// # Description
//
// Checks ctx before starting so cancelled callers never touch the
// store. fn receives the live transaction and must not retain it after
// returning. Errors from fn pass through unwrapped so callers can match
// sentinels like dgbadger.ErrKeyNotFound.
//
// # Thread Safety
//
// Safe for concurrent use.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.View(fn)
}

// WithTxn runs fn inside a read-write transaction, committing when fn
// returns nil and discarding otherwise.
//
// # Thread Safety
//
// Safe for concurrent use.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.Update(fn)
}

// DropAll deletes every key. Only the seed path uses it, to reset a
// development database before reloading fixtures.
func (d *DB) DropAll() error {
	return d.inner.DropAll()
}

// slogAdapter satisfies badger.Logger by forwarding onto slog at
// matching levels.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}
