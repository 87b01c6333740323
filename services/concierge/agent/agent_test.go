// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
	badgerstore "github.com/AleutianAI/AleutianCommerce/services/concierge/storage/badger"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/tools"
	"github.com/AleutianAI/AleutianCommerce/services/llm"
)

// fakeLLM returns scripted completions in order. A nil entry in errs
// means that call succeeds with the matching response.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
	systems   []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt, systemPrompt string, _ llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, systemPrompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("fake llm: no scripted response left")
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return f.Generate(ctx, last, "", params)
}

func (f *fakeLLM) ModelName() string { return "scripted-fake" }

// testHarness bundles the real stores and rules the engine components
// run against in tests: in-memory databases with the standard seed
// data, so catalog lookups resolve real products.
type testHarness struct {
	rules    *config.CommerceRules
	catalog  *catalog.Store
	sessions *session.Store
	registry *tools.Registry
	logger   *slog.Logger
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalogDB, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalogDB.Close() })

	sessionDB, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessionDB.Close() })

	catalogStore, err := catalog.NewStore(catalogDB, logger)
	require.NoError(t, err)
	require.NoError(t, catalogStore.EnsureSeeded(ctx))

	sessionStore, err := session.NewStore(sessionDB, logger)
	require.NoError(t, err)

	rules, err := config.GetCommerceRules(ctx)
	require.NoError(t, err)

	registry, err := tools.New(tools.Deps{
		Catalog:  catalogStore,
		Sessions: sessionStore,
		Rules:    rules,
		Logger:   logger,
	})
	require.NoError(t, err)

	return &testHarness{
		rules:    rules,
		catalog:  catalogStore,
		sessions: sessionStore,
		registry: registry,
		logger:   logger,
	}
}

func (h *testHarness) newResolver(t *testing.T) *Resolver {
	t.Helper()
	resolver, err := NewResolver(h.catalog, h.rules, h.logger)
	require.NoError(t, err)
	return resolver
}

func (h *testHarness) newExecutor(t *testing.T, client llm.Client) *Executor {
	t.Helper()
	responder, err := NewResponder(client, h.rules, h.logger)
	require.NoError(t, err)
	executor, err := NewExecutor(h.registry, h.newResolver(t), responder, h.sessions, h.logger)
	require.NoError(t, err)
	return executor
}

func (h *testHarness) newValidator(t *testing.T, client llm.Client) *Validator {
	t.Helper()
	var repairer *Repairer
	if client != nil {
		var err error
		repairer, err = NewRepairer(client, h.logger)
		require.NoError(t, err)
	}
	validator, err := NewValidator(h.rules, repairer, h.logger)
	require.NoError(t, err)
	return validator
}
