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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// csvWriteConcurrency bounds the parallel row writes during an import.
const csvWriteConcurrency = 4

var importableTables = []string{"users", "products", "inventory", "orders", "categories"}

// AllowedTables returns the table names the admin surface may import or dump.
func AllowedTables() []string {
	out := make([]string, len(importableTables))
	copy(out, importableTables)
	return out
}

// ValidTable reports whether a table name is importable and dumpable.
func ValidTable(table string) bool {
	for _, t := range importableTables {
		if t == table {
			return true
		}
	}
	return false
}

// ImportCSV bulk-loads rows from a CSV stream into one table.
//
// Description:
//
//	The first CSV record is the header; column names are matched
//	case-insensitively. Every row is parsed and validated before any
//	write happens, so a malformed row aborts the import without
//	touching the store. Valid rows are then written concurrently.
//
// Inputs:
//   - table: one of users, products, inventory, orders, categories
//   - r: the CSV payload
//
// Outputs:
//   - the number of rows written, or an error naming the first bad row
func (s *Store) ImportCSV(ctx context.Context, table string, r io.Reader) (int, error) {
	rows, err := readCSVRows(r)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	switch table {
	case "users":
		users, err := parseUserRows(rows)
		if err != nil {
			return 0, err
		}
		return len(users), writeAll(ctx, users, s.PutUser)
	case "products":
		products, err := parseProductRows(rows)
		if err != nil {
			return 0, err
		}
		return len(products), writeAll(ctx, products, s.PutProduct)
	case "inventory":
		records, err := parseInventoryRows(rows)
		if err != nil {
			return 0, err
		}
		return len(records), writeAll(ctx, records, s.PutInventory)
	case "orders":
		orders, err := parseOrderRows(rows)
		if err != nil {
			return 0, err
		}
		return len(orders), writeAll(ctx, orders, s.PutOrder)
	case "categories":
		categories, err := parseCategoryRows(rows)
		if err != nil {
			return 0, err
		}
		return len(categories), writeAll(ctx, categories, s.PutCategory)
	default:
		return 0, fmt.Errorf("catalog: table %q is not importable", table)
	}
}

// DumpTable returns every row of one table for the admin console.
func (s *Store) DumpTable(ctx context.Context, table string) (any, error) {
	switch table {
	case "users":
		users, err := s.ListUsers(ctx)
		if users == nil {
			users = []User{}
		}
		return users, err
	case "products":
		products, err := s.ListProducts(ctx)
		if products == nil {
			products = []Product{}
		}
		return products, err
	case "inventory":
		records, err := s.ListInventory(ctx)
		if records == nil {
			records = []InventoryRecord{}
		}
		return records, err
	case "orders":
		orders, err := s.ListOrders(ctx)
		if orders == nil {
			orders = []Order{}
		}
		return orders, err
	case "categories":
		categories, err := s.ListCategories(ctx)
		if categories == nil {
			categories = []Category{}
		}
		return categories, err
	default:
		return nil, fmt.Errorf("catalog: table %q is not dumpable", table)
	}
}

func writeAll[T any](ctx context.Context, items []T, put func(context.Context, *T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(csvWriteConcurrency)
	for i := range items {
		item := &items[i]
		g.Go(func() error {
			return put(ctx, item)
		})
	}
	return g.Wait()
}

func readCSVRows(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	for i, name := range header {
		name = strings.TrimSpace(strings.ToLower(name))
		header[i] = strings.TrimPrefix(name, "\uFEFF")
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i >= len(rec) {
				break
			}
			row[name] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func csvFloat(row map[string]string, col string, rowNum int) (float64, error) {
	raw := row[col]
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("row %d: invalid %s %q", rowNum, col, raw)
	}
	return v, nil
}

func csvInt(row map[string]string, col string, rowNum int) (int, error) {
	raw := row[col]
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("row %d: invalid %s %q", rowNum, col, raw)
	}
	return v, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Row numbers in error messages count the header as row 1.

func parseUserRows(rows []map[string]string) ([]User, error) {
	users := make([]User, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 2
		if row["user_id"] == "" {
			return nil, fmt.Errorf("row %d: missing user_id", rowNum)
		}
		users = append(users, User{
			UserID:      row["user_id"],
			Name:        row["name"],
			LoyaltyTier: orDefault(row["loyalty_tier"], "bronze"),
		})
	}
	return users, nil
}

func parseProductRows(rows []map[string]string) ([]Product, error) {
	products := make([]Product, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 2
		if row["product_id"] == "" {
			return nil, fmt.Errorf("row %d: missing product_id", rowNum)
		}
		price, err := csvFloat(row, "base_price", rowNum)
		if err != nil {
			return nil, err
		}
		products = append(products, Product{
			ProductID: row["product_id"],
			Name:      row["name"],
			Category:  row["category"],
			BasePrice: price,
		})
	}
	return products, nil
}

func parseInventoryRows(rows []map[string]string) ([]InventoryRecord, error) {
	records := make([]InventoryRecord, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 2
		if row["sku"] == "" {
			return nil, fmt.Errorf("row %d: missing sku", rowNum)
		}
		qty, err := csvInt(row, "quantity", rowNum)
		if err != nil {
			return nil, err
		}
		records = append(records, InventoryRecord{
			SKU:       row["sku"],
			ProductID: row["product_id"],
			Size:      row["size"],
			Quantity:  qty,
			Location:  orDefault(row["location"], "warehouse"),
		})
	}
	return records, nil
}

func parseOrderRows(rows []map[string]string) ([]Order, error) {
	orders := make([]Order, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 2
		if row["order_id"] == "" {
			return nil, fmt.Errorf("row %d: missing order_id", rowNum)
		}
		total, err := csvFloat(row, "total_amount", rowNum)
		if err != nil {
			return nil, err
		}
		orders = append(orders, Order{
			OrderID:     row["order_id"],
			UserID:      row["user_id"],
			TotalAmount: total,
			Status:      orDefault(row["status"], "pending"),
			CreatedAt:   orDefault(row["created_at"], time.Now().Format("2006-01-02T15:04:05")),
		})
	}
	return orders, nil
}

func parseCategoryRows(rows []map[string]string) ([]Category, error) {
	categories := make([]Category, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 2
		if row["category_id"] == "" {
			return nil, fmt.Errorf("row %d: missing category_id", rowNum)
		}
		categories = append(categories, Category{
			CategoryID: row["category_id"],
			Name:       row["name"],
		})
	}
	return categories, nil
}
