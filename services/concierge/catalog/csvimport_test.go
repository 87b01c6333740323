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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImportCSV_Users(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	csv := "user_id,name,loyalty_tier\n" +
		"101,Amara,gold\n" +
		"102,Ben,\n"
	n, err := store.ImportCSV(ctx, "users", strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	u, err := store.GetUser(ctx, "101")
	require.NoError(t, err)
	require.Equal(t, "gold", u.LoyaltyTier)

	u, err = store.GetUser(ctx, "102")
	require.NoError(t, err)
	require.Equal(t, "bronze", u.LoyaltyTier)
}

func TestImportCSV_Products(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	csv := "product_id,name,category,base_price\n" +
		"PROD-201,Denim Jacket,Men's Fashion,1899.50\n" +
		"PROD-202,Plain Cap,Men's Fashion,\n"
	n, err := store.ImportCSV(ctx, "products", strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	p, err := store.GetProduct(ctx, "PROD-201")
	require.NoError(t, err)
	require.Equal(t, 1899.50, p.BasePrice)

	p, err = store.GetProduct(ctx, "PROD-202")
	require.NoError(t, err)
	require.Equal(t, 0.0, p.BasePrice)
}

func TestImportCSV_InventoryDefaults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	csv := "sku,product_id,size,quantity,location\n" +
		"SKU-201,PROD-201,M,12,store-002\n" +
		"SKU-201,PROD-201,L,,\n"
	n, err := store.ImportCSV(ctx, "inventory", strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rec, err := store.GetInventory(ctx, "SKU-201", "L")
	require.NoError(t, err)
	require.Equal(t, 0, rec.Quantity)
	require.Equal(t, "warehouse", rec.Location)
}

func TestImportCSV_Orders(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	csv := "order_id,user_id,total_amount,status,created_at\n" +
		"ORD-201,101,499.0,,\n"
	n, err := store.ImportCSV(ctx, "orders", strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	o, err := store.GetOrder(ctx, "ORD-201")
	require.NoError(t, err)
	require.Equal(t, "pending", o.Status)
	require.NotEmpty(t, o.CreatedAt)
}

func TestImportCSV_Categories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	csv := "category_id,name\nCAT-200,Footwear\n"
	n, err := store.ImportCSV(ctx, "categories", strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	c, err := store.GetCategory(ctx, "CAT-200")
	require.NoError(t, err)
	require.Equal(t, "Footwear", c.Name)
}

// TestImportCSV_FixtureFiles loads the shipped winter-collection CSVs,
// the same files the README points `commerce seed` at.
func TestImportCSV_FixtureFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	counts := map[string]int{
		"categories": 2,
		"products":   5,
		"users":      3,
		"inventory":  5,
		"orders":     2,
	}
	for _, table := range []string{"categories", "products", "users", "inventory", "orders"} {
		file, err := os.Open(filepath.Join("testdata", table+".csv"))
		require.NoError(t, err)
		n, err := store.ImportCSV(ctx, table, file)
		require.NoError(t, file.Close())
		require.NoError(t, err)
		require.Equal(t, counts[table], n, "table %s", table)
	}

	// Blank cells take the documented defaults.
	u, err := store.GetUser(ctx, "102")
	require.NoError(t, err)
	require.Equal(t, "bronze", u.LoyaltyTier)

	rec, err := store.GetInventory(ctx, "SKU-W103-OS", "OS")
	require.NoError(t, err)
	require.Equal(t, "warehouse", rec.Location)

	o, err := store.GetOrder(ctx, "ORD-9002")
	require.NoError(t, err)
	require.Equal(t, "pending", o.Status)
	require.NotEmpty(t, o.CreatedAt)

	// Every stock row points at a product in the same fixture set.
	rows, err := store.ListInventory(ctx)
	require.NoError(t, err)
	for _, row := range rows {
		_, err := store.GetProduct(ctx, row.ProductID)
		require.NoError(t, err, "inventory %s references %s", row.SKU, row.ProductID)
	}
}

func TestImportCSV_EmptyPayload(t *testing.T) {
	store := newTestStore(t)

	n, err := store.ImportCSV(context.Background(), "users", strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = store.ImportCSV(context.Background(), "users", strings.NewReader("user_id,name\n"))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestImportCSV_MalformedNumberAbortsBeforeWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	csv := "product_id,name,category,base_price\n" +
		"PROD-201,Denim Jacket,Men's Fashion,1899.50\n" +
		"PROD-202,Plain Cap,Men's Fashion,cheap\n"
	_, err := store.ImportCSV(ctx, "products", strings.NewReader(csv))
	require.Error(t, err)
	require.Contains(t, err.Error(), "row 3")
	require.Contains(t, err.Error(), "base_price")

	// The valid first row must not have been written.
	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestImportCSV_MissingKeyColumn(t *testing.T) {
	store := newTestStore(t)

	csv := "user_id,name\n,Ghost\n"
	_, err := store.ImportCSV(context.Background(), "users", strings.NewReader(csv))
	require.Error(t, err)
	require.Contains(t, err.Error(), "row 2: missing user_id")
}

func TestImportCSV_HeaderCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	csv := "User_ID,Name,Loyalty_Tier\n301,Casey,silver\n"
	n, err := store.ImportCSV(ctx, "users", strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	u, err := store.GetUser(ctx, "301")
	require.NoError(t, err)
	require.Equal(t, "Casey", u.Name)
}

func TestImportCSV_UnknownTable(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ImportCSV(context.Background(), "loyalty_tiers", strings.NewReader("a,b\n1,2\n"))
	require.Error(t, err)
}

func TestValidTable(t *testing.T) {
	for _, table := range AllowedTables() {
		require.True(t, ValidTable(table), "table %s", table)
	}
	require.False(t, ValidTable("sessions"))
	require.False(t, ValidTable(""))
}

func TestDumpTable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutUser(ctx, &User{UserID: "401", Name: "Dee", LoyaltyTier: "bronze"}))

	rows, err := store.DumpTable(ctx, "users")
	require.NoError(t, err)
	users, ok := rows.([]User)
	require.True(t, ok)
	require.Len(t, users, 1)

	// Empty tables dump as empty slices, not nil.
	rows, err = store.DumpTable(ctx, "orders")
	require.NoError(t, err)
	orders, ok := rows.([]Order)
	require.True(t, ok)
	require.Empty(t, orders)

	_, err = store.DumpTable(ctx, "loyalty_tiers")
	require.Error(t, err)
}
