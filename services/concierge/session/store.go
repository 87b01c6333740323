// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session persists conversation state between assist turns:
// per-(user, session) context maps, per-user personalization, and
// recorded execution traces. Context maps are bounded on every write
// so long-lived sessions cannot grow without limit.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	badgerstore "github.com/AleutianAI/AleutianCommerce/services/concierge/storage/badger"
)

// History bounds applied on every context write.
const (
	MaxMessageHistory = 10
	MaxTraceHistory   = 5
	MaxStepResults    = 10
)

// BadgerDB key prefixes. User and session ids must not contain ':'.
const (
	keyPrefixSession         = "session:"
	keyPrefixPersonalization = "personalization:"
	keyPrefixTrace           = "trace:"
)

// ErrNotFound is returned when a requested trace does not exist.
var ErrNotFound = errors.New("session: not found")

// UserMemory is everything stored for one user across sessions.
type UserMemory struct {
	UserID   string                    `json:"user_id"`
	Sessions map[string]map[string]any `json:"sessions"`
}

// TraceRecord is one persisted execution trace.
type TraceRecord struct {
	TraceID    string `json:"trace_id"`
	RecordedAt string `json:"recorded_at"`
	Trace      any    `json:"trace"`
}

// Store persists session state in BadgerDB.
//
// Key Schema:
//
//	session:<user_id>:<session_id>  -> JSON context map
//	personalization:<user_id>       -> JSON personalization map
//	trace:<trace_id>                -> JSON TraceRecord
//
// Thread Safety: Store is safe for concurrent use. Callers that need
// read-modify-write isolation for one session serialize those turns
// themselves.
type Store struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewStore creates a Store over an opened BadgerDB.
func NewStore(db *badgerstore.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("session: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

func sessionKey(userID, sessionID string) string {
	return keyPrefixSession + userID + ":" + sessionID
}

// Get returns the context map for one session. A session that has
// never been written returns an empty map, not an error.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (map[string]any, error) {
	out := map[string]any{}
	err := s.getJSON(ctx, sessionKey(userID, sessionID), &out)
	if errors.Is(err, ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: loading %s/%s: %w", userID, sessionID, err)
	}
	return out, nil
}

// Put stores the context map for one session, bounding its histories
// first. The caller's map is mutated by the bounding.
func (s *Store) Put(ctx context.Context, userID, sessionID string, contextMap map[string]any) error {
	if userID == "" || sessionID == "" {
		return fmt.Errorf("session: user_id and session_id must not be empty")
	}
	if contextMap == nil {
		contextMap = map[string]any{}
	}
	boundContext(contextMap)
	if err := s.putJSON(ctx, sessionKey(userID, sessionID), contextMap); err != nil {
		return fmt.Errorf("session: saving %s/%s: %w", userID, sessionID, err)
	}
	return nil
}

// ClearSession removes one session, reporting whether it existed.
func (s *Store) ClearSession(ctx context.Context, userID, sessionID string) (bool, error) {
	return s.deleteKey(ctx, sessionKey(userID, sessionID))
}

// GetUserMemory returns every stored session for one user.
func (s *Store) GetUserMemory(ctx context.Context, userID string) (*UserMemory, error) {
	memory := &UserMemory{UserID: userID, Sessions: map[string]map[string]any{}}
	prefix := keyPrefixSession + userID + ":"
	err := s.scanPrefix(ctx, prefix, func(key string, val []byte) {
		sessionID := strings.TrimPrefix(key, prefix)
		var contextMap map[string]any
		if err := json.Unmarshal(val, &contextMap); err != nil {
			s.logger.Warn("skipping corrupt session row", slog.String("key", key), slog.Any("error", err))
			return
		}
		memory.Sessions[sessionID] = contextMap
	})
	if err != nil {
		return nil, fmt.Errorf("session: loading memory for %s: %w", userID, err)
	}
	return memory, nil
}

// ClearUserMemory removes every session and the personalization for
// one user, reporting what was actually present.
func (s *Store) ClearUserMemory(ctx context.Context, userID string) (sessionsCleared, personalizationCleared bool, err error) {
	prefix := keyPrefixSession + userID + ":"
	var sessionKeys []string
	if err := s.scanKeys(ctx, prefix, func(key string) {
		sessionKeys = append(sessionKeys, key)
	}); err != nil {
		return false, false, fmt.Errorf("session: scanning sessions for %s: %w", userID, err)
	}
	for _, key := range sessionKeys {
		existed, err := s.deleteKey(ctx, key)
		if err != nil {
			return sessionsCleared, false, err
		}
		sessionsCleared = sessionsCleared || existed
	}

	personalizationCleared, err = s.deleteKey(ctx, keyPrefixPersonalization+userID)
	if err != nil {
		return sessionsCleared, false, err
	}

	if sessionsCleared || personalizationCleared {
		s.logger.Info("cleared user memory",
			slog.String("user_id", userID),
			slog.Int("sessions", len(sessionKeys)),
			slog.Bool("personalization", personalizationCleared))
	}
	return sessionsCleared, personalizationCleared, nil
}

// GetPersonalization returns the personalization map for one user. A
// user without one returns an empty map, not an error.
func (s *Store) GetPersonalization(ctx context.Context, userID string) (map[string]any, error) {
	out := map[string]any{}
	err := s.getJSON(ctx, keyPrefixPersonalization+userID, &out)
	if errors.Is(err, ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: loading personalization for %s: %w", userID, err)
	}
	return out, nil
}

// SavePersonalization merges updates into the stored personalization
// map and returns the merged result.
func (s *Store) SavePersonalization(ctx context.Context, userID string, updates map[string]any) (map[string]any, error) {
	if userID == "" {
		return nil, fmt.Errorf("session: user_id must not be empty")
	}
	merged, err := s.GetPersonalization(ctx, userID)
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		merged[k] = v
	}
	if err := s.putJSON(ctx, keyPrefixPersonalization+userID, merged); err != nil {
		return nil, fmt.Errorf("session: saving personalization for %s: %w", userID, err)
	}
	return merged, nil
}

// PutTrace persists an execution trace under a fresh trace id.
func (s *Store) PutTrace(ctx context.Context, trace any) (*TraceRecord, error) {
	record := &TraceRecord{
		TraceID:    uuid.NewString(),
		RecordedAt: time.Now().UTC().Format(time.RFC3339),
		Trace:      trace,
	}
	if err := s.putJSON(ctx, keyPrefixTrace+record.TraceID, record); err != nil {
		return nil, fmt.Errorf("session: saving trace: %w", err)
	}
	s.logger.Info("recorded execution trace", slog.String("trace_id", record.TraceID))
	return record, nil
}

// GetTrace returns one persisted trace by id.
func (s *Store) GetTrace(ctx context.Context, traceID string) (*TraceRecord, error) {
	var record TraceRecord
	if err := s.getJSON(ctx, keyPrefixTrace+traceID, &record); err != nil {
		return nil, fmt.Errorf("session: trace %s: %w", traceID, err)
	}
	return &record, nil
}

// boundContext trims the growable parts of a context map in place:
// message history to the last MaxMessageHistory entries, trace history
// to the last MaxTraceHistory, and step result keys to the
// MaxStepResults highest step indexes.
func boundContext(contextMap map[string]any) {
	if history, ok := contextMap["message_history"].([]any); ok && len(history) > MaxMessageHistory {
		contextMap["message_history"] = history[len(history)-MaxMessageHistory:]
	}
	if traces, ok := contextMap["trace_history"].([]any); ok && len(traces) > MaxTraceHistory {
		contextMap["trace_history"] = traces[len(traces)-MaxTraceHistory:]
	}

	type stepKey struct {
		key   string
		index int
	}
	var stepKeys []stepKey
	for key := range contextMap {
		if index, ok := stepResultIndex(key); ok {
			stepKeys = append(stepKeys, stepKey{key: key, index: index})
		}
	}
	if len(stepKeys) <= MaxStepResults {
		return
	}
	sort.Slice(stepKeys, func(i, j int) bool { return stepKeys[i].index < stepKeys[j].index })
	for _, sk := range stepKeys[:len(stepKeys)-MaxStepResults] {
		delete(contextMap, sk.key)
	}
}

// stepResultIndex parses keys of the form step_<n>_result.
func stepResultIndex(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "step_")
	if !ok {
		return 0, false
	}
	middle, ok := strings.CutSuffix(rest, "_result")
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(middle)
	if err != nil {
		return 0, false
	}
	return index, true
}

// ===========================================================================
// Key-value plumbing
// ===========================================================================

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) getJSON(ctx context.Context, key string, out any) error {
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) deleteKey(ctx context.Context, key string) (bool, error) {
	existed := false
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return existed, nil
}

func (s *Store) scanPrefix(ctx context.Context, prefix string, fn func(key string, val []byte)) error {
	return s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				fn(key, val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) scanKeys(ctx context.Context, prefix string, fn func(key string)) error {
	return s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			fn(string(it.Item().Key()))
		}
		return nil
	})
}
