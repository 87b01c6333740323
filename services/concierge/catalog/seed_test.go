// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureSeeded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.EnsureSeeded(ctx))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 5)

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 21)

	records, err := store.ListInventory(ctx)
	require.NoError(t, err)
	require.Len(t, records, 80)

	orders, err := store.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 5)

	categories, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 5)

	shirt, err := store.GetProduct(ctx, "PROD-002")
	require.NoError(t, err)
	require.Equal(t, "Men's Shirt", shirt.Name)
	require.Equal(t, 339.0, shirt.BasePrice)

	rec, err := store.GetInventory(ctx, "SKU-002", "M")
	require.NoError(t, err)
	require.Equal(t, 25, rec.Quantity)
	require.Equal(t, "warehouse", rec.Location)

	storeRow, err := store.GetInventory(ctx, "SKU-01", "M")
	require.NoError(t, err)
	require.Equal(t, 56, storeRow.Quantity)
	require.Equal(t, "store-001", storeRow.Location)
}

func TestEnsureSeeded_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.EnsureSeeded(ctx))
	require.NoError(t, store.EnsureSeeded(ctx))

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 21)
}

func TestEnsureSeeded_PreservesEdits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.EnsureSeeded(ctx))

	require.NoError(t, store.PutUser(ctx, &User{UserID: "001", Name: "Evelyn", LoyaltyTier: "bronze"}))
	require.NoError(t, store.EnsureSeeded(ctx))

	u, err := store.GetUser(ctx, "001")
	require.NoError(t, err)
	require.Equal(t, "Evelyn", u.Name)
}

func TestEnsureSeeded_FillsOnlyEmptyTables(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutProduct(ctx, &Product{ProductID: "CUSTOM-1", Name: "Custom Item", Category: "fashion", BasePrice: 50}))
	require.NoError(t, store.EnsureSeeded(ctx))

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 5)
}

func TestReseed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.EnsureSeeded(ctx))

	require.NoError(t, store.PutUser(ctx, &User{UserID: "001", Name: "Evelyn", LoyaltyTier: "platinum"}))
	require.NoError(t, store.Reseed(ctx))

	u, err := store.GetUser(ctx, "001")
	require.NoError(t, err)
	require.Equal(t, "EY", u.Name)
	require.Equal(t, "bronze", u.LoyaltyTier)
}
