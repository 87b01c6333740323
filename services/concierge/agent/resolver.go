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
	"log/slog"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
)

// Placeholder values the planner emits when it knows a parameter is
// needed but not what it should be.
var placeholderValues = map[string]bool{
	"extracted_from_context": true,
	"{{session_id}}":         true,
	"{{user_id}}":            true,
}

// Resolver rewrites step parameters before dispatch: placeholder
// values become concrete identifiers, missing inventory identifiers
// are inferred from earlier recommendation results or the catalog,
// and parameters the target tool never declared are stripped.
//
// Description:
//
//	Resolution never invents data. Identifiers come from prior step
//	results, the session context, or a read-only catalog lookup; when
//	none of those yields one, the step fails with an explicit error
//	instead of running on a guess. Resolution is idempotent: resolving
//	already-resolved parameters is a no-op.
//
// Thread Safety: safe for concurrent use; the input mapping is never
// mutated.
type Resolver struct {
	catalog *catalog.Store
	rules   *config.CommerceRules
	logger  *slog.Logger
}

func NewResolver(store *catalog.Store, rules *config.CommerceRules, logger *slog.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("agent: resolver requires a catalog store")
	}
	if rules == nil {
		return nil, errors.New("agent: resolver requires commerce rules")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: store, rules: rules, logger: logger}, nil
}

// Resolve returns a resolved copy of params for one step. The only
// error it returns is ErrUnresolvedIdentifier, when an inventory step
// has no identifier and none can be inferred.
func (r *Resolver) Resolve(ctx context.Context, action string, params map[string]any, sessionID, userID string, contextMap map[string]any, previous []StepResult) (map[string]any, error) {
	resolved := resolveMapping(params, sessionID, userID, contextMap)

	switch action {
	case "recommend_products":
		r.injectDemographics(resolved, contextMap)
	case "check_inventory":
		if err := r.resolveInventoryIdentifiers(ctx, resolved, previous); err != nil {
			return nil, err
		}
	}

	return r.stripUndeclared(action, resolved), nil
}

// resolveMapping substitutes placeholders throughout a parameter
// mapping, recursing into nested mappings. Sequence elements are
// resolved only when they are mappings themselves; bare strings in
// sequences carry data, not placeholders.
func resolveMapping(params map[string]any, sessionID, userID string, contextMap map[string]any) map[string]any {
	resolved := make(map[string]any, len(params))
	for key, value := range params {
		resolved[key] = resolveValue(key, value, sessionID, userID, contextMap)
	}
	return resolved
}

func resolveValue(key string, value any, sessionID, userID string, contextMap map[string]any) any {
	switch v := value.(type) {
	case string:
		if !placeholderValues[v] {
			return v
		}
		return substitutePlaceholder(key, v, sessionID, userID, contextMap)
	case map[string]any:
		return resolveMapping(v, sessionID, userID, contextMap)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if m, ok := item.(map[string]any); ok {
				out[i] = resolveMapping(m, sessionID, userID, contextMap)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return value
	}
}

// substitutePlaceholder picks a concrete value for one placeholder:
// the session or user identity when the key names one, else the
// same-named context entry, else the literal placeholder unchanged.
func substitutePlaceholder(key, value, sessionID, userID string, contextMap map[string]any) any {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "session"):
		return sessionID
	case strings.Contains(lower, "user"):
		return userID
	}
	if v, ok := contextMap[key]; ok {
		return v
	}
	return value
}

// injectDemographics copies a stored gender into a recommendation step
// that does not already target one.
func (r *Resolver) injectDemographics(params map[string]any, contextMap map[string]any) {
	if _, ok := params["gender"]; ok {
		return
	}
	personalization, ok := contextMap["personalization"].(map[string]any)
	if !ok {
		return
	}
	if gender := asText(personalization["gender"]); gender != "" {
		params["gender"] = gender
		r.logger.Debug("injected stored gender into recommendation", "gender", gender)
	}
}

// resolveInventoryIdentifiers fills in the product a check_inventory
// step is about when the plan did not say. Sources, in order: a
// supplied name matched against prior recommendations then the
// catalog, or the first item of the most recent successful
// recommendation. A supplied identifier that is not among the
// recommended ones is reconciled against them by slug. When nothing
// resolves, ErrUnresolvedIdentifier short-circuits the step.
func (r *Resolver) resolveInventoryIdentifiers(ctx context.Context, params map[string]any, previous []StepResult) error {
	productID := asText(params["product_id"])
	sku := asText(params["sku"])
	recommended := latestRecommendations(previous)

	if productID == "" && sku == "" {
		name := asText(params["product_name"])
		if name != "" {
			if id := matchRecommendationByName(recommended, name); id != "" {
				params["product_id"] = id
				return nil
			}
			if product, err := r.catalog.FindProductByName(ctx, name); err == nil {
				params["product_id"] = product.ProductID
				return nil
			} else if !errors.Is(err, catalog.ErrNotFound) {
				r.logger.Warn("catalog name lookup failed", "name", name, "error", err)
			}
			return ErrUnresolvedIdentifier
		}
		if len(recommended) > 0 {
			params["product_id"] = asText(recommended[0]["product_id"])
			return nil
		}
		return ErrUnresolvedIdentifier
	}

	if productID != "" && len(recommended) > 0 && !isRecommendedID(recommended, productID) {
		if id := reconcileBySlug(productID, recommended); id != "" {
			params["product_id"] = id
		} else {
			params["product_id"] = asText(recommended[0]["product_id"])
		}
		r.logger.Debug("reconciled unknown product identifier",
			"supplied", productID, "resolved", params["product_id"])
	}
	return nil
}

// latestRecommendations walks previous results backward and returns
// the item list of the most recent successful recommendation step,
// nil when there is none.
func latestRecommendations(previous []StepResult) []map[string]any {
	for i := len(previous) - 1; i >= 0; i-- {
		s := previous[i]
		if !s.Success || s.Step != "recommend_products" {
			continue
		}
		if items := asItemList(s.Result); len(items) > 0 {
			return items
		}
	}
	return nil
}

// asItemList normalizes a recommendation result to a list of item
// mappings, accepting both the in-process shape and the shape it takes
// after a JSON round trip through the session store.
func asItemList(result any) []map[string]any {
	switch items := result.(type) {
	case []map[string]any:
		return items
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// matchRecommendationByName finds a recommended item by product name,
// exact case-insensitive first, then substring in either direction.
func matchRecommendationByName(recommended []map[string]any, name string) string {
	for _, item := range recommended {
		if strings.EqualFold(asText(item["name"]), name) {
			return asText(item["product_id"])
		}
	}
	lower := strings.ToLower(name)
	for _, item := range recommended {
		itemName := strings.ToLower(asText(item["name"]))
		if itemName == "" {
			continue
		}
		if strings.Contains(itemName, lower) || strings.Contains(lower, itemName) {
			return asText(item["product_id"])
		}
	}
	return ""
}

func isRecommendedID(recommended []map[string]any, productID string) bool {
	for _, item := range recommended {
		if asText(item["product_id"]) == productID {
			return true
		}
	}
	return false
}

// reconcileBySlug matches a supplied identifier against recommended
// item names after slug normalization, accepting prefix and suffix
// containment in either direction.
func reconcileBySlug(productID string, recommended []map[string]any) string {
	slug := slugify(productID)
	if slug == "" {
		return ""
	}
	for _, item := range recommended {
		nameSlug := slugify(asText(item["name"]))
		if nameSlug == "" {
			continue
		}
		if strings.HasPrefix(nameSlug, slug) || strings.HasSuffix(nameSlug, slug) ||
			strings.HasPrefix(slug, nameSlug) || strings.HasSuffix(slug, nameSlug) {
			return asText(item["product_id"])
		}
	}
	return ""
}

// slugify lower-cases, collapses runs of non-alphanumerics to single
// dashes, and strips the catalog's product-identifier prefix, so
// "PROD-002" and "002" normalize identically.
func slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		} else {
			pendingDash = true
		}
	}
	return strings.TrimPrefix(b.String(), "prod-")
}

// stripUndeclared drops every parameter the tool's allow-list does not
// declare, so inferred or planner-invented keys never reach a tool.
func (r *Resolver) stripUndeclared(action string, params map[string]any) map[string]any {
	allowed := r.rules.AllowedParams(action)
	if len(allowed) == 0 {
		return params
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, p := range allowed {
		allowedSet[p] = true
	}
	kept := make(map[string]any, len(params))
	for k, v := range params {
		if allowedSet[k] {
			kept[k] = v
		}
	}
	return kept
}
