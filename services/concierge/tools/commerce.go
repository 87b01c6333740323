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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
)

// checkInventory answers stock questions.
//
// Description:
//
//	Accepts a sku, a product_id, or both, with an optional size. An
//	exact (sku, size) pair returns that row joined with its product.
//	Without a size the quantities of every matching row are
//	aggregated, so a product whose stock spans several SKUs reports
//	its full availability.
func (r *Registry) checkInventory(ctx context.Context, params map[string]any) (any, error) {
	sku := stringParam(params, "sku")
	productID := stringParam(params, "product_id")
	size := stringParam(params, "size")
	if size != "" {
		size = r.deps.Rules.NormalizeSize(size)
	}

	switch {
	case sku != "" && size != "":
		return r.inventoryBySKUAndSize(ctx, sku, size)
	case sku != "":
		records, err := r.deps.Catalog.ListInventoryBySKU(ctx, sku)
		if err != nil {
			return nil, err
		}
		return r.aggregateInventory(ctx, records, map[string]any{"sku": sku}), nil
	case productID != "":
		records, err := r.deps.Catalog.ListInventoryByProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if size != "" {
			records = filterBySize(records, size)
		}
		return r.aggregateInventory(ctx, records, map[string]any{"product_id": productID}), nil
	default:
		return nil, fmt.Errorf("check_inventory requires a product_id or sku")
	}
}

func (r *Registry) inventoryBySKUAndSize(ctx context.Context, sku, size string) (any, error) {
	rec, err := r.deps.Catalog.GetInventory(ctx, sku, size)
	if errors.Is(err, catalog.ErrNotFound) {
		// Sizes like "One Size" are stored in their spoken form; retry
		// against the SKU's rows before reporting the pair missing.
		records, listErr := r.deps.Catalog.ListInventoryBySKU(ctx, sku)
		if listErr != nil {
			return nil, listErr
		}
		for i := range records {
			if strings.EqualFold(records[i].Size, size) {
				rec = &records[i]
				err = nil
				break
			}
		}
	}
	if errors.Is(err, catalog.ErrNotFound) {
		return map[string]any{
			"available":  false,
			"quantity":   0,
			"sku":        sku,
			"size":       size,
			"product_id": nil,
			"location":   nil,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.Quantity <= 0 {
		return map[string]any{
			"available":  false,
			"quantity":   rec.Quantity,
			"sku":        rec.SKU,
			"size":       rec.Size,
			"product_id": rec.ProductID,
			"location":   rec.Location,
		}, nil
	}

	result := map[string]any{
		"available":    true,
		"quantity":     rec.Quantity,
		"sku":          rec.SKU,
		"size":         rec.Size,
		"product_id":   rec.ProductID,
		"location":     rec.Location,
		"product_name": nil,
		"category":     nil,
	}
	if product, err := r.deps.Catalog.GetProduct(ctx, rec.ProductID); err == nil {
		result["product_name"] = product.Name
		result["category"] = product.Category
	}
	return result, nil
}

func (r *Registry) aggregateInventory(ctx context.Context, records []catalog.InventoryRecord, identifiers map[string]any) map[string]any {
	result := map[string]any{
		"available": false,
		"quantity":  0,
		"sizes":     []map[string]any{},
	}
	for k, v := range identifiers {
		result[k] = v
	}
	if len(records) == 0 {
		return result
	}

	total := 0
	available := false
	location := records[0].Location
	sizes := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		total += rec.Quantity
		if rec.Quantity > 0 && !available {
			available = true
			location = rec.Location
		}
		sizes = append(sizes, map[string]any{"size": rec.Size, "quantity": rec.Quantity})
	}

	result["available"] = available
	result["quantity"] = total
	result["sizes"] = sizes
	result["location"] = location
	result["product_id"] = records[0].ProductID
	if product, err := r.deps.Catalog.GetProduct(ctx, records[0].ProductID); err == nil {
		result["product_name"] = product.Name
		result["category"] = product.Category
	}
	return result
}

func filterBySize(records []catalog.InventoryRecord, size string) []catalog.InventoryRecord {
	var out []catalog.InventoryRecord
	for _, rec := range records {
		if strings.EqualFold(rec.Size, size) {
			out = append(out, rec)
		}
	}
	return out
}

// recommendProducts lists catalog products in a category, cheapest
// first, optionally constrained to a "min-max" price range.
func (r *Registry) recommendProducts(ctx context.Context, params map[string]any) (any, error) {
	category := stringParam(params, "category")
	if category == "" {
		return nil, fmt.Errorf("recommend_products requires a category")
	}

	minPrice, maxPrice := parsePriceRange(stringParam(params, "price_range"))
	products, err := r.deps.Catalog.FindProductsByCategory(ctx, category, minPrice, maxPrice, 10)
	if err != nil {
		return nil, err
	}

	recommendations := make([]map[string]any, 0, len(products))
	for _, p := range products {
		recommendations = append(recommendations, map[string]any{
			"product_id": p.ProductID,
			"name":       p.Name,
			"category":   p.Category,
			"base_price": p.BasePrice,
		})
	}
	return recommendations, nil
}

// parsePriceRange reads "a-b" into bounds. "any", empty, and anything
// malformed all mean unconstrained.
func parsePriceRange(priceRange string) (float64, float64) {
	minPrice, maxPrice := 0.0, math.MaxFloat64

	pr := strings.TrimSpace(strings.ToLower(priceRange))
	if pr == "" || pr == "any" {
		return minPrice, maxPrice
	}
	parts := strings.SplitN(pr, "-", 2)
	if len(parts) != 2 {
		return minPrice, maxPrice
	}
	lo, errLo := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	hi, errHi := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLo != nil || errHi != nil {
		return minPrice, maxPrice
	}
	return lo, hi
}

// applyOffers computes the discounts a cart qualifies for: the
// loyalty-tier percentage plus the bulk discount above the configured
// subtotal threshold.
func (r *Registry) applyOffers(ctx context.Context, params map[string]any) (any, error) {
	cart := sliceParam(params, "cart")
	tier := strings.ToLower(stringParam(params, "loyalty_tier"))

	subtotal := cartSubtotal(cart)
	tierPct := r.deps.Rules.TierDiscount(tier)

	discounts := []map[string]any{}
	totalDiscount := 0.0

	if tierPct > 0 {
		amount := subtotal * tierPct
		discounts = append(discounts, map[string]any{
			"type":        "loyalty_tier",
			"description": fmt.Sprintf("%s member discount", capitalize(tier)),
			"percentage":  tierPct * 100,
			"amount":      amount,
		})
		totalDiscount += amount
	}

	offers := r.deps.Rules.Offers
	if subtotal > offers.BulkThreshold {
		amount := subtotal * offers.BulkDiscount
		discounts = append(discounts, map[string]any{
			"type": "bulk",
			"description": fmt.Sprintf("Bulk order discount (%.0f%% off orders over ₹%.0f)",
				offers.BulkDiscount*100, offers.BulkThreshold),
			"percentage": offers.BulkDiscount * 100,
			"amount":     amount,
		})
		totalDiscount += amount
	}

	return map[string]any{
		"discounts":           discounts,
		"total_discount":      totalDiscount,
		"discount_percentage": tierPct * 100,
		"subtotal":            subtotal,
	}, nil
}

// calculatePayment turns a cart and an applyOffers result into the
// final payable amount with tax.
func (r *Registry) calculatePayment(ctx context.Context, params map[string]any) (any, error) {
	cart := sliceParam(params, "cart")
	discounts := mapParam(params, "discounts")

	subtotal := cartSubtotal(cart)
	totalDiscount := asFloat(discounts["total_discount"])
	afterDiscount := subtotal - totalDiscount

	payment := r.deps.Rules.Payment
	tax := afterDiscount * payment.TaxRate

	return map[string]any{
		"subtotal":              subtotal,
		"total_discount":        totalDiscount,
		"amount_after_discount": afterDiscount,
		"tax_rate":              payment.TaxRate * 100,
		"tax":                   tax,
		"final_amount":          afterDiscount + tax,
		"currency":              payment.Currency,
	}, nil
}

// getFulfillmentOptions lists the delivery choices, adding store
// pickup when the location hints the user is near a store.
func (r *Registry) getFulfillmentOptions(ctx context.Context, params map[string]any) (any, error) {
	location := strings.ToLower(stringParam(params, "location"))

	fulfillment := r.deps.Rules.Fulfillment
	options := make([]config.FulfillmentOption, 0, len(fulfillment.Options)+1)
	options = append(options, fulfillment.Options...)

	for _, signal := range fulfillment.PickupSignals {
		if strings.Contains(location, signal) {
			options = append(options, fulfillment.PickupOption)
			break
		}
	}
	return options, nil
}

func cartSubtotal(cart []any) float64 {
	subtotal := 0.0
	for _, item := range cart {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		quantity := 1.0
		if q, ok := m["quantity"]; ok {
			quantity = asFloat(q)
		}
		subtotal += asFloat(m["price"]) * quantity
	}
	return subtotal
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
