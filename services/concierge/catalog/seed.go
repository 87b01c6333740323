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
	"fmt"
	"log/slog"
)

func prod(id, name, category string, price float64, categoryID string) Product {
	return Product{ProductID: id, Name: name, Category: category, BasePrice: price, CategoryID: categoryID}
}

func inv(sku, productID, size string, qty int) InventoryRecord {
	return InventoryRecord{SKU: sku, ProductID: productID, Size: size, Quantity: qty, Location: "warehouse"}
}

var seedUsers = []User{
	{UserID: "001", Name: "EY", LoyaltyTier: "bronze"},
	{UserID: "002", Name: "Priya", LoyaltyTier: "silver"},
	{UserID: "003", Name: "Raj", LoyaltyTier: "gold"},
	{UserID: "004", Name: "Anita", LoyaltyTier: "platinum"},
	{UserID: "005", Name: "John", LoyaltyTier: "bronze"},
}

var seedCategories = []Category{
	{CategoryID: "001", Name: "fashion"},
	{CategoryID: "CAT-001", Name: "Women's Fashion"},
	{CategoryID: "CAT-002", Name: "Men's Fashion"},
	{CategoryID: "CAT-003", Name: "Fashion"},
	{CategoryID: "CAT-004", Name: "Electronics"},
}

var seedProducts = []Product{
	// Legacy row kept for sessions that still reference the short id.
	prod("002", "Men's Shirt", "fashion", 339.0, "001"),
	prod("PROD-001", "Female Branded Top", "Women's Fashion", 559.0, "CAT-001"),
	prod("PROD-002", "Men's Shirt", "Men's Fashion", 339.0, "CAT-002"),
	prod("PROD-003", "Women's Casual Dress", "Women's Fashion", 899.0, "CAT-001"),
	prod("PROD-004", "Men's Formal Shirt", "Men's Fashion", 1299.0, "CAT-002"),
	prod("PROD-005", "Women's Designer Blouse", "Women's Fashion", 1499.0, "CAT-001"),
	prod("PROD-006", "Men's T-Shirt", "Men's Fashion", 499.0, "CAT-002"),
	prod("PROD-007", "Women's Jeans", "Women's Fashion", 1199.0, "CAT-001"),
	prod("PROD-008", "Men's Jeans", "Men's Fashion", 1299.0, "CAT-002"),
	prod("PROD-009", "Women's Skirt", "Women's Fashion", 699.0, "CAT-001"),
	prod("PROD-010", "Men's Shorts", "Men's Fashion", 599.0, "CAT-002"),
	prod("PROD-011", "Women's Jacket", "Women's Fashion", 2499.0, "CAT-001"),
	prod("PROD-012", "Men's Jacket", "Men's Fashion", 2599.0, "CAT-002"),
	prod("PROD-013", "Women's Sweater", "Women's Fashion", 1599.0, "CAT-001"),
	prod("PROD-014", "Men's Sweater", "Men's Fashion", 1699.0, "CAT-002"),
	prod("PROD-015", "Women's Leggings", "Women's Fashion", 499.0, "CAT-001"),
	prod("PROD-016", "Men's Track Pants", "Men's Fashion", 799.0, "CAT-002"),
	prod("PROD-017", "Women's Formal Blazer", "Women's Fashion", 2999.0, "CAT-001"),
	prod("PROD-018", "Men's Formal Blazer", "Men's Fashion", 3499.0, "CAT-002"),
	prod("PROD-019", "Women's Saree", "Women's Fashion", 1999.0, "CAT-001"),
	prod("PROD-020", "Men's Kurta", "Men's Fashion", 1299.0, "CAT-002"),
}

var seedInventory = []InventoryRecord{
	{SKU: "SKU-01", ProductID: "PROD-001", Size: "M", Quantity: 56, Location: "store-001"},
	inv("SKU-001", "PROD-001", "XS", 5),
	inv("SKU-001", "PROD-001", "S", 10),
	inv("SKU-001", "PROD-001", "M", 15),
	inv("SKU-001", "PROD-001", "L", 12),
	inv("SKU-001", "PROD-001", "XL", 8),
	inv("SKU-002", "PROD-002", "S", 20),
	inv("SKU-002", "PROD-002", "M", 25),
	inv("SKU-002", "PROD-002", "L", 22),
	inv("SKU-002", "PROD-002", "XL", 18),
	inv("SKU-002", "PROD-002", "XXL", 10),
	inv("SKU-003", "PROD-003", "XS", 3),
	inv("SKU-003", "PROD-003", "S", 8),
	inv("SKU-003", "PROD-003", "M", 12),
	inv("SKU-003", "PROD-003", "L", 10),
	inv("SKU-004", "PROD-004", "S", 15),
	inv("SKU-004", "PROD-004", "M", 20),
	inv("SKU-004", "PROD-004", "L", 18),
	inv("SKU-004", "PROD-004", "XL", 15),
	inv("SKU-005", "PROD-005", "XS", 2),
	inv("SKU-005", "PROD-005", "S", 6),
	inv("SKU-005", "PROD-005", "M", 10),
	inv("SKU-005", "PROD-005", "L", 8),
	inv("SKU-006", "PROD-006", "S", 30),
	inv("SKU-006", "PROD-006", "M", 35),
	inv("SKU-006", "PROD-006", "L", 30),
	inv("SKU-006", "PROD-006", "XL", 25),
	inv("SKU-007", "PROD-007", "S", 8),
	inv("SKU-007", "PROD-007", "M", 12),
	inv("SKU-007", "PROD-007", "L", 10),
	inv("SKU-007", "PROD-007", "XL", 8),
	inv("SKU-008", "PROD-008", "S", 10),
	inv("SKU-008", "PROD-008", "M", 15),
	inv("SKU-008", "PROD-008", "L", 12),
	inv("SKU-008", "PROD-008", "XL", 10),
	inv("SKU-009", "PROD-009", "XS", 5),
	inv("SKU-009", "PROD-009", "S", 8),
	inv("SKU-009", "PROD-009", "M", 10),
	inv("SKU-009", "PROD-009", "L", 8),
	inv("SKU-010", "PROD-010", "S", 12),
	inv("SKU-010", "PROD-010", "M", 15),
	inv("SKU-010", "PROD-010", "L", 12),
	inv("SKU-010", "PROD-010", "XL", 10),
	inv("SKU-011", "PROD-011", "XS", 3),
	inv("SKU-011", "PROD-011", "S", 5),
	inv("SKU-011", "PROD-011", "M", 8),
	inv("SKU-011", "PROD-011", "L", 6),
	inv("SKU-012", "PROD-012", "S", 6),
	inv("SKU-012", "PROD-012", "M", 8),
	inv("SKU-012", "PROD-012", "L", 7),
	inv("SKU-012", "PROD-012", "XL", 5),
	inv("SKU-013", "PROD-013", "XS", 4),
	inv("SKU-013", "PROD-013", "S", 7),
	inv("SKU-013", "PROD-013", "M", 10),
	inv("SKU-013", "PROD-013", "L", 8),
	inv("SKU-014", "PROD-014", "S", 8),
	inv("SKU-014", "PROD-014", "M", 10),
	inv("SKU-014", "PROD-014", "L", 9),
	inv("SKU-014", "PROD-014", "XL", 7),
	inv("SKU-015", "PROD-015", "XS", 10),
	inv("SKU-015", "PROD-015", "S", 15),
	inv("SKU-015", "PROD-015", "M", 20),
	inv("SKU-015", "PROD-015", "L", 15),
	inv("SKU-016", "PROD-016", "S", 12),
	inv("SKU-016", "PROD-016", "M", 15),
	inv("SKU-016", "PROD-016", "L", 12),
	inv("SKU-016", "PROD-016", "XL", 10),
	inv("SKU-017", "PROD-017", "XS", 2),
	inv("SKU-017", "PROD-017", "S", 4),
	inv("SKU-017", "PROD-017", "M", 6),
	inv("SKU-017", "PROD-017", "L", 5),
	inv("SKU-018", "PROD-018", "S", 5),
	inv("SKU-018", "PROD-018", "M", 7),
	inv("SKU-018", "PROD-018", "L", 6),
	inv("SKU-018", "PROD-018", "XL", 4),
	inv("SKU-019", "PROD-019", "One Size", 8),
	inv("SKU-020", "PROD-020", "S", 6),
	inv("SKU-020", "PROD-020", "M", 8),
	inv("SKU-020", "PROD-020", "L", 7),
	inv("SKU-020", "PROD-020", "XL", 5),
}

var seedOrders = []Order{
	{OrderID: "ORD-001", UserID: "001", TotalAmount: 559.0, Status: "completed", CreatedAt: "2024-01-15T10:30:00"},
	{OrderID: "ORD-002", UserID: "001", TotalAmount: 1299.0, Status: "pending", CreatedAt: "2024-01-20T14:20:00"},
	{OrderID: "ORD-003", UserID: "002", TotalAmount: 899.0, Status: "completed", CreatedAt: "2024-01-18T09:15:00"},
	{OrderID: "ORD-004", UserID: "003", TotalAmount: 2599.0, Status: "completed", CreatedAt: "2024-01-22T16:45:00"},
	{OrderID: "ORD-005", UserID: "001", TotalAmount: 1999.0, Status: "processing", CreatedAt: "2024-01-25T11:00:00"},
}

// EnsureSeeded populates any empty table with the demo dataset.
//
// Description:
//
//	Each table is seeded independently and only when it holds zero
//	rows, so a store that has been edited through the admin API keeps
//	its edits across restarts. Call once at startup.
func (s *Store) EnsureSeeded(ctx context.Context) error {
	tables := []struct {
		name   string
		prefix string
		seed   func(context.Context) (int, error)
	}{
		{"users", keyPrefixUser, s.seedUsers},
		{"categories", keyPrefixCategory, s.seedCategories},
		{"products", keyPrefixProduct, s.seedProducts},
		{"inventory", keyPrefixInventory, s.seedInventory},
		{"orders", keyPrefixOrder, s.seedOrders},
	}

	for _, t := range tables {
		count, err := s.countPrefix(ctx, t.prefix)
		if err != nil {
			return fmt.Errorf("catalog: counting %s: %w", t.name, err)
		}
		if count > 0 {
			continue
		}
		n, err := t.seed(ctx)
		if err != nil {
			return fmt.Errorf("catalog: seeding %s: %w", t.name, err)
		}
		s.logger.Info("seeded table",
			slog.String("table", t.name),
			slog.Int("rows", n))
	}
	return nil
}

// Reseed wipes the store and reloads the demo dataset.
func (s *Store) Reseed(ctx context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("catalog: dropping data: %w", err)
	}
	return s.EnsureSeeded(ctx)
}

func (s *Store) seedUsers(ctx context.Context) (int, error) {
	for i := range seedUsers {
		if err := s.PutUser(ctx, &seedUsers[i]); err != nil {
			return 0, err
		}
	}
	return len(seedUsers), nil
}

func (s *Store) seedCategories(ctx context.Context) (int, error) {
	for i := range seedCategories {
		if err := s.PutCategory(ctx, &seedCategories[i]); err != nil {
			return 0, err
		}
	}
	return len(seedCategories), nil
}

func (s *Store) seedProducts(ctx context.Context) (int, error) {
	for i := range seedProducts {
		if err := s.PutProduct(ctx, &seedProducts[i]); err != nil {
			return 0, err
		}
	}
	return len(seedProducts), nil
}

func (s *Store) seedInventory(ctx context.Context) (int, error) {
	for i := range seedInventory {
		if err := s.PutInventory(ctx, &seedInventory[i]); err != nil {
			return 0, err
		}
	}
	return len(seedInventory), nil
}

func (s *Store) seedOrders(ctx context.Context) (int, error) {
	for i := range seedOrders {
		if err := s.PutOrder(ctx, &seedOrders[i]); err != nil {
			return 0, err
		}
	}
	return len(seedOrders), nil
}
