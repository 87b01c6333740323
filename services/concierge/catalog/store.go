// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog stores the retail domain data: products, inventory,
// users, orders, and categories. Rows are JSON values in BadgerDB under
// per-table key prefixes; this is the keyed store the tool catalog and
// the parameter resolver read from.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/AleutianCommerce/services/concierge/storage/badger"
)

// BadgerDB key prefixes, one per table.
const (
	keyPrefixProduct   = "store:product:"
	keyPrefixInventory = "store:inventory:"
	keyPrefixUser      = "store:user:"
	keyPrefixOrder     = "store:order:"
	keyPrefixCategory  = "store:category:"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Product is one sellable item.
type Product struct {
	ProductID  string  `json:"product_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	BasePrice  float64 `json:"base_price"`
	CategoryID string  `json:"category_id,omitempty"`
}

// InventoryRecord is stock for one SKU at one size. The (SKU, Size)
// pair is the row key; one SKU usually carries several sizes.
type InventoryRecord struct {
	SKU       string `json:"sku"`
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	Location  string `json:"location"`
}

// User is a registered shopper.
type User struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	LoyaltyTier string `json:"loyalty_tier"`
}

// Order is a past or in-flight purchase.
type Order struct {
	OrderID     string  `json:"order_id"`
	UserID      string  `json:"user_id"`
	TotalAmount float64 `json:"total_amount"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

// Category is a normalized product category.
type Category struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
}

// Store provides typed access to the retail tables.
//
// Description:
//
//	CRUD plus the lookup queries the tools and the resolver need:
//	category browsing sorted by price, name-to-identifier resolution
//	(exact then contains), and inventory joins by SKU or product.
//
// Thread Safety: Store is safe for concurrent use. BadgerDB handles
// its own concurrency control.
type Store struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewStore creates a Store over an opened BadgerDB.
func NewStore(db *badgerstore.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("catalog: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// ===========================================================================
// Products
// ===========================================================================

// PutProduct inserts or replaces a product row.
func (s *Store) PutProduct(ctx context.Context, p *Product) error {
	if p == nil || p.ProductID == "" {
		return fmt.Errorf("catalog: product_id must not be empty")
	}
	return s.putJSON(ctx, keyPrefixProduct+p.ProductID, p)
}

// GetProduct returns the product with the given id.
func (s *Store) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	if err := s.getJSON(ctx, keyPrefixProduct+productID, &p); err != nil {
		return nil, fmt.Errorf("catalog: product %s: %w", productID, err)
	}
	return &p, nil
}

// DeleteProduct removes a product row, reporting whether it existed.
func (s *Store) DeleteProduct(ctx context.Context, productID string) (bool, error) {
	return s.deleteKey(ctx, keyPrefixProduct+productID)
}

// ListProducts returns all products in product-id order.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	err := s.scanPrefix(ctx, keyPrefixProduct, func(key string, val []byte) {
		var p Product
		if err := json.Unmarshal(val, &p); err != nil {
			s.logger.Warn("skipping corrupt product row", slog.String("key", key), slog.Any("error", err))
			return
		}
		products = append(products, p)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing products: %w", err)
	}
	return products, nil
}

// FindProductsByCategory returns products in a category whose base
// price falls within [minPrice, maxPrice], cheapest first. A limit of
// zero or less means no limit. Category matching is exact.
func (s *Store) FindProductsByCategory(ctx context.Context, category string, minPrice, maxPrice float64, limit int) ([]Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Product
	for _, p := range products {
		if p.Category != category {
			continue
		}
		if p.BasePrice < minPrice || p.BasePrice > maxPrice {
			continue
		}
		matches = append(matches, p)
	}

	// Cheapest first; product id breaks ties so output is stable.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && lessByPrice(matches[j], matches[j-1]); j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func lessByPrice(a, b Product) bool {
	if a.BasePrice != b.BasePrice {
		return a.BasePrice < b.BasePrice
	}
	return a.ProductID < b.ProductID
}

// FindProductByName resolves a human-readable product name to a row.
//
// Description:
//
//	Tries an exact case-insensitive name match first, then a
//	case-insensitive contains match. The two-stage order matters: the
//	resolver depends on "Men's Shirt" hitting the exact row before any
//	"Men's Shirt Deluxe" style superstring.
func (s *Store) FindProductByName(ctx context.Context, name string) (*Product, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, fmt.Errorf("catalog: product name must not be empty")
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range products {
		if strings.ToLower(p.Name) == needle {
			return &p, nil
		}
	}
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("catalog: product named %q: %w", name, ErrNotFound)
}

// ===========================================================================
// Inventory
// ===========================================================================

func inventoryKey(sku, size string) string {
	return keyPrefixInventory + sku + ":" + size
}

// PutInventory inserts or replaces an inventory row keyed by (SKU, size).
func (s *Store) PutInventory(ctx context.Context, rec *InventoryRecord) error {
	if rec == nil || rec.SKU == "" {
		return fmt.Errorf("catalog: sku must not be empty")
	}
	return s.putJSON(ctx, inventoryKey(rec.SKU, rec.Size), rec)
}

// GetInventory returns the inventory row for an exact (SKU, size) pair.
func (s *Store) GetInventory(ctx context.Context, sku, size string) (*InventoryRecord, error) {
	var rec InventoryRecord
	if err := s.getJSON(ctx, inventoryKey(sku, size), &rec); err != nil {
		return nil, fmt.Errorf("catalog: inventory %s/%s: %w", sku, size, err)
	}
	return &rec, nil
}

// DeleteInventory removes an inventory row, reporting whether it existed.
func (s *Store) DeleteInventory(ctx context.Context, sku, size string) (bool, error) {
	return s.deleteKey(ctx, inventoryKey(sku, size))
}

// ListInventoryBySKU returns every size row for one SKU.
func (s *Store) ListInventoryBySKU(ctx context.Context, sku string) ([]InventoryRecord, error) {
	if sku == "" {
		return nil, fmt.Errorf("catalog: sku must not be empty")
	}
	var records []InventoryRecord
	// The trailing colon keeps SKU-01 from also matching SKU-001 rows.
	err := s.scanPrefix(ctx, keyPrefixInventory+sku+":", func(key string, val []byte) {
		var rec InventoryRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			s.logger.Warn("skipping corrupt inventory row", slog.String("key", key), slog.Any("error", err))
			return
		}
		records = append(records, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing inventory for sku %s: %w", sku, err)
	}
	return records, nil
}

// ListInventoryByProduct returns every inventory row whose product id
// matches, across all SKUs and sizes.
func (s *Store) ListInventoryByProduct(ctx context.Context, productID string) ([]InventoryRecord, error) {
	if productID == "" {
		return nil, fmt.Errorf("catalog: product_id must not be empty")
	}
	var records []InventoryRecord
	err := s.scanPrefix(ctx, keyPrefixInventory, func(key string, val []byte) {
		var rec InventoryRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			s.logger.Warn("skipping corrupt inventory row", slog.String("key", key), slog.Any("error", err))
			return
		}
		if rec.ProductID == productID {
			records = append(records, rec)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing inventory for product %s: %w", productID, err)
	}
	return records, nil
}

// ListInventory returns every inventory row.
func (s *Store) ListInventory(ctx context.Context) ([]InventoryRecord, error) {
	var records []InventoryRecord
	err := s.scanPrefix(ctx, keyPrefixInventory, func(key string, val []byte) {
		var rec InventoryRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			s.logger.Warn("skipping corrupt inventory row", slog.String("key", key), slog.Any("error", err))
			return
		}
		records = append(records, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing inventory: %w", err)
	}
	return records, nil
}

// ===========================================================================
// Users
// ===========================================================================

// PutUser inserts or replaces a user row.
func (s *Store) PutUser(ctx context.Context, u *User) error {
	if u == nil || u.UserID == "" {
		return fmt.Errorf("catalog: user_id must not be empty")
	}
	return s.putJSON(ctx, keyPrefixUser+u.UserID, u)
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := s.getJSON(ctx, keyPrefixUser+userID, &u); err != nil {
		return nil, fmt.Errorf("catalog: user %s: %w", userID, err)
	}
	return &u, nil
}

// HasUser reports whether a user row exists.
func (s *Store) HasUser(ctx context.Context, userID string) (bool, error) {
	_, err := s.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteUser removes a user row, reporting whether it existed.
func (s *Store) DeleteUser(ctx context.Context, userID string) (bool, error) {
	return s.deleteKey(ctx, keyPrefixUser+userID)
}

// ListUsers returns all users in user-id order.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.scanPrefix(ctx, keyPrefixUser, func(key string, val []byte) {
		var u User
		if err := json.Unmarshal(val, &u); err != nil {
			s.logger.Warn("skipping corrupt user row", slog.String("key", key), slog.Any("error", err))
			return
		}
		users = append(users, u)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing users: %w", err)
	}
	return users, nil
}

// ===========================================================================
// Orders
// ===========================================================================

// PutOrder inserts or replaces an order row.
func (s *Store) PutOrder(ctx context.Context, o *Order) error {
	if o == nil || o.OrderID == "" {
		return fmt.Errorf("catalog: order_id must not be empty")
	}
	return s.putJSON(ctx, keyPrefixOrder+o.OrderID, o)
}

// GetOrder returns the order with the given id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	if err := s.getJSON(ctx, keyPrefixOrder+orderID, &o); err != nil {
		return nil, fmt.Errorf("catalog: order %s: %w", orderID, err)
	}
	return &o, nil
}

// DeleteOrder removes an order row, reporting whether it existed.
func (s *Store) DeleteOrder(ctx context.Context, orderID string) (bool, error) {
	return s.deleteKey(ctx, keyPrefixOrder+orderID)
}

// ListOrders returns all orders in order-id order.
func (s *Store) ListOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := s.scanPrefix(ctx, keyPrefixOrder, func(key string, val []byte) {
		var o Order
		if err := json.Unmarshal(val, &o); err != nil {
			s.logger.Warn("skipping corrupt order row", slog.String("key", key), slog.Any("error", err))
			return
		}
		orders = append(orders, o)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing orders: %w", err)
	}
	return orders, nil
}

// ===========================================================================
// Categories
// ===========================================================================

// PutCategory inserts or replaces a category row.
func (s *Store) PutCategory(ctx context.Context, c *Category) error {
	if c == nil || c.CategoryID == "" {
		return fmt.Errorf("catalog: category_id must not be empty")
	}
	return s.putJSON(ctx, keyPrefixCategory+c.CategoryID, c)
}

// GetCategory returns the category with the given id.
func (s *Store) GetCategory(ctx context.Context, categoryID string) (*Category, error) {
	var c Category
	if err := s.getJSON(ctx, keyPrefixCategory+categoryID, &c); err != nil {
		return nil, fmt.Errorf("catalog: category %s: %w", categoryID, err)
	}
	return &c, nil
}

// DeleteCategory removes a category row, reporting whether it existed.
func (s *Store) DeleteCategory(ctx context.Context, categoryID string) (bool, error) {
	return s.deleteKey(ctx, keyPrefixCategory+categoryID)
}

// ListCategories returns all categories in category-id order.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	err := s.scanPrefix(ctx, keyPrefixCategory, func(key string, val []byte) {
		var c Category
		if err := json.Unmarshal(val, &c); err != nil {
			s.logger.Warn("skipping corrupt category row", slog.String("key", key), slog.Any("error", err))
			return
		}
		categories = append(categories, c)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing categories: %w", err)
	}
	return categories, nil
}

// FindCategoryByName returns the first category whose name matches exactly.
func (s *Store) FindCategoryByName(ctx context.Context, name string) (*Category, error) {
	categories, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range categories {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("catalog: category named %q: %w", name, ErrNotFound)
}

// ===========================================================================
// Shared row plumbing
// ===========================================================================

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling row %s: %w", key, err)
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

func (s *Store) countPrefix(ctx context.Context, prefix string) (int, error) {
	count := 0
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
