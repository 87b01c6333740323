// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
	badgerstore "github.com/AleutianAI/AleutianCommerce/services/concierge/storage/badger"
)

func newTestRegistry(t *testing.T) *Registry {
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

	registry, err := New(Deps{
		Catalog:  catalogStore,
		Sessions: sessionStore,
		Rules:    rules,
		Logger:   logger,
	})
	require.NoError(t, err)
	return registry
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestRegistryMatchesRuleCatalog(t *testing.T) {
	registry := newTestRegistry(t)

	rules, err := config.GetCommerceRules(context.Background())
	require.NoError(t, err)

	require.ElementsMatch(t, rules.ToolNames(), registry.Names())
	require.Len(t, registry.Names(), 10)
}

func TestHas(t *testing.T) {
	registry := newTestRegistry(t)
	require.True(t, registry.Has("check_inventory"))
	require.False(t, registry.Has("delete_everything"))
}

func TestDispatch_UnknownTool(t *testing.T) {
	registry := newTestRegistry(t)
	_, err := registry.Dispatch(context.Background(), "teleport_order", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestAsString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"PROD-002", "PROD-002"},
		{float64(2), "2"},
		{2.5, "2.5"},
		{7, "7"},
		{true, "true"},
		{nil, ""},
		{[]any{"x"}, ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, asString(tt.in))
	}
}

func TestAsFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{339.0, 339.0},
		{7, 7.0},
		{"559.5", 559.5},
		{"not a number", 0},
		{nil, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, asFloat(tt.in))
	}
}
