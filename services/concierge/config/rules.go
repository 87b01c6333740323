// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

var rulesTracer = otel.Tracer("commerce/config")

// MaxYAMLFileSize caps rule documents at 1 MiB. Anything larger is a
// mistake, not a rule set.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Embedded Default Commerce Rules
// =============================================================================

//go:embed commerce_rules.yaml
var defaultCommerceRulesYAML []byte

// =============================================================================
// Commerce Rules Types
// =============================================================================

// ToolSpec declares the parameter contract for one dispatchable tool.
type ToolSpec struct {
	// Required parameters are enforced during plan validation.
	Required []string `yaml:"required"`

	// Allowed is the complete accepted parameter set. Empty means
	// "same as Required". Parameters outside it are stripped before
	// dispatch.
	Allowed []string `yaml:"allowed"`
}

// IntentRules holds the token sets the intent-enforcement predicates
// scan the user message for.
type IntentRules struct {
	// BrowseSignals indicate a product-browsing request.
	BrowseSignals []string `yaml:"browse_signals"`

	// AvailabilitySignals indicate a size or stock question.
	AvailabilitySignals []string `yaml:"availability_signals"`

	// FemaleSignals and MaleSignals drive demographic inference for
	// synthesized recommendation steps.
	FemaleSignals []string `yaml:"female_signals"`
	MaleSignals   []string `yaml:"male_signals"`

	// SmallTalkSignals mark greetings and chit-chat that need no tools.
	SmallTalkSignals []string `yaml:"small_talk_signals"`
}

// CategoryRules names the catalog categories a synthesized
// recommendation step targets per inferred demographic.
type CategoryRules struct {
	Female  string `yaml:"female"`
	Male    string `yaml:"male"`
	Default string `yaml:"default"`
}

// OfferRules configures the bulk-order discount.
type OfferRules struct {
	// BulkThreshold is the subtotal above which the bulk discount fires.
	BulkThreshold float64 `yaml:"bulk_threshold"`

	// BulkDiscount is the discount fraction applied above the threshold.
	BulkDiscount float64 `yaml:"bulk_discount"`
}

// PaymentRules configures payment calculation.
type PaymentRules struct {
	TaxRate  float64 `yaml:"tax_rate"`
	Currency string  `yaml:"currency"`
}

// FulfillmentOption is one delivery or pickup choice offered to users.
// The json tags match the shape tool results are serialized in.
type FulfillmentOption struct {
	Type          string  `yaml:"type" json:"type"`
	Description   string  `yaml:"description" json:"description"`
	Cost          float64 `yaml:"cost" json:"cost"`
	EstimatedDays int     `yaml:"estimated_days" json:"estimated_days"`
	MinOrder      float64 `yaml:"min_order,omitempty" json:"min_order,omitempty"`
}

// FulfillmentRules configures the fulfillment-options tool.
type FulfillmentRules struct {
	// PickupSignals are location substrings that unlock store pickup.
	PickupSignals []string `yaml:"pickup_signals"`

	// Options are always offered, in order.
	Options []FulfillmentOption `yaml:"options"`

	// PickupOption is appended when a pickup signal matches.
	PickupOption FulfillmentOption `yaml:"pickup_option"`
}

// CommerceRules is the full rule document backing the plan engine.
//
// Description:
//
//	Declares the tool catalog's parameter contracts, the keyword sets
//	behind the intent heuristics, and the deterministic commerce
//	policy (loyalty, offers, payment, fulfillment, sizes).
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type CommerceRules struct {
	Tools        map[string]ToolSpec `yaml:"tools"`
	Intents      IntentRules         `yaml:"intents"`
	Categories   CategoryRules       `yaml:"categories"`
	LoyaltyTiers map[string]float64  `yaml:"loyalty_tiers"`
	Offers       OfferRules          `yaml:"offers"`
	Payment      PaymentRules        `yaml:"payment"`
	Fulfillment  FulfillmentRules    `yaml:"fulfillment"`
	Sizes        map[string]string   `yaml:"sizes"`

	// fullToAbbrev is derived from Sizes at load time for reverse lookup.
	fullToAbbrev map[string]string
}

// =============================================================================
// Singleton Commerce Rules
// =============================================================================

var (
	commerceRulesMu      sync.RWMutex
	commerceRulesOnce    sync.Once
	cachedCommerceRules  *CommerceRules
	commerceRulesLoadErr error
)

// GetCommerceRules returns the cached commerce rules.
//
// Description:
//
//	Loads the embedded default rules on first call and caches them.
//	A watcher started via WatchRules may replace the cached document
//	at runtime; callers must not retain the pointer across requests
//	if they want to observe reloads.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*CommerceRules - The loaded rules. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetCommerceRules(ctx context.Context) (*CommerceRules, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetCommerceRules: ctx must not be nil")
	}

	commerceRulesMu.RLock()
	if cachedCommerceRules != nil || commerceRulesLoadErr != nil {
		rules, err := cachedCommerceRules, commerceRulesLoadErr
		commerceRulesMu.RUnlock()
		return rules, err
	}
	commerceRulesMu.RUnlock()

	commerceRulesMu.Lock()
	defer commerceRulesMu.Unlock()

	if cachedCommerceRules != nil || commerceRulesLoadErr != nil {
		return cachedCommerceRules, commerceRulesLoadErr
	}

	commerceRulesOnce.Do(func() {
		cachedCommerceRules, commerceRulesLoadErr = LoadCommerceRules(ctx, defaultCommerceRulesYAML)
	})

	return cachedCommerceRules, commerceRulesLoadErr
}

// ResetCommerceRules resets the cached rules for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetCommerceRules() {
	commerceRulesMu.Lock()
	defer commerceRulesMu.Unlock()
	cachedCommerceRules = nil
	commerceRulesLoadErr = nil
	commerceRulesOnce = sync.Once{}
}

// storeCommerceRules swaps the cached rules. Used by the file watcher
// after a successful reload.
func storeCommerceRules(rules *CommerceRules) {
	commerceRulesMu.Lock()
	defer commerceRulesMu.Unlock()
	cachedCommerceRules = rules
	commerceRulesLoadErr = nil
}

// LoadCommerceRules parses and validates a rule document from YAML bytes.
//
// Description:
//
//	Parses the YAML, fills category and currency defaults, derives the
//	reverse size mapping, and validates the tool catalog (every tool
//	needs a name; Allowed must be a superset of Required).
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*CommerceRules - The validated rules.
//	error - Non-nil if parsing or validation fails.
func LoadCommerceRules(ctx context.Context, data []byte) (*CommerceRules, error) {
	_, span := rulesTracer.Start(ctx, "config.LoadCommerceRules")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadCommerceRules: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadCommerceRules: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var rules CommerceRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("LoadCommerceRules: parsing YAML: %w", err)
	}

	if rules.Categories.Default == "" {
		rules.Categories.Default = "Fashion"
	}
	if rules.Payment.Currency == "" {
		rules.Payment.Currency = "INR"
	}

	rules.fullToAbbrev = make(map[string]string, len(rules.Sizes))
	for abbrev, full := range rules.Sizes {
		rules.fullToAbbrev[strings.ToLower(full)] = abbrev
		rules.fullToAbbrev[strings.ToLower(abbrev)] = abbrev
	}

	if err := validateCommerceRules(&rules); err != nil {
		return nil, fmt.Errorf("LoadCommerceRules: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("tool_count", len(rules.Tools)),
		attribute.Int("loyalty_tier_count", len(rules.LoyaltyTiers)),
	)
	return &rules, nil
}

// validateCommerceRules checks the rule document for consistency.
func validateCommerceRules(rules *CommerceRules) error {
	if len(rules.Tools) == 0 {
		return fmt.Errorf("tool catalog is empty")
	}
	for name, spec := range rules.Tools {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tool with empty name")
		}
		if len(spec.Allowed) > 0 {
			allowed := make(map[string]bool, len(spec.Allowed))
			for _, p := range spec.Allowed {
				allowed[p] = true
			}
			for _, p := range spec.Required {
				if !allowed[p] {
					return fmt.Errorf("tool %q: required param %q missing from allowed set", name, p)
				}
			}
		}
	}
	if len(rules.Intents.BrowseSignals) == 0 {
		return fmt.Errorf("intents.browse_signals is empty")
	}
	if len(rules.Intents.AvailabilitySignals) == 0 {
		return fmt.Errorf("intents.availability_signals is empty")
	}
	if len(rules.LoyaltyTiers) == 0 {
		return fmt.Errorf("loyalty_tiers is empty")
	}
	for tier, discount := range rules.LoyaltyTiers {
		if discount < 0 || discount >= 1 {
			return fmt.Errorf("loyalty tier %q: discount %v out of range [0,1)", tier, discount)
		}
	}
	return nil
}

// =============================================================================
// Catalog Accessors
// =============================================================================

// HasTool reports whether name is a dispatchable tool.
func (r *CommerceRules) HasTool(name string) bool {
	_, ok := r.Tools[name]
	return ok
}

// ToolNames returns the sorted tool catalog, for error messages and
// planner prompts.
func (r *CommerceRules) ToolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredParams returns the required parameter set for a tool, nil for
// unknown tools.
func (r *CommerceRules) RequiredParams(tool string) []string {
	spec, ok := r.Tools[tool]
	if !ok {
		return nil
	}
	return spec.Required
}

// AllowedParams returns the full accepted parameter set for a tool.
// Falls back to the required set when no explicit allow-list exists.
func (r *CommerceRules) AllowedParams(tool string) []string {
	spec, ok := r.Tools[tool]
	if !ok {
		return nil
	}
	if len(spec.Allowed) > 0 {
		return spec.Allowed
	}
	return spec.Required
}

// CategoryFor maps an inferred demographic ("female", "male", "") to a
// catalog category name.
func (r *CommerceRules) CategoryFor(gender string) string {
	switch gender {
	case "female":
		if r.Categories.Female != "" {
			return r.Categories.Female
		}
	case "male":
		if r.Categories.Male != "" {
			return r.Categories.Male
		}
	}
	return r.Categories.Default
}

// TierDiscount returns the discount fraction for a loyalty tier,
// 0 for unknown tiers.
func (r *CommerceRules) TierDiscount(tier string) float64 {
	return r.LoyaltyTiers[strings.ToLower(tier)]
}

// =============================================================================
// Size Normalization
// =============================================================================

// NormalizeSize converts a size in any accepted form ("Medium", "m",
// "XL") to its canonical abbreviation. Unknown sizes are returned
// upper-cased and trimmed so lookups stay deterministic.
func (r *CommerceRules) NormalizeSize(size string) string {
	if size == "" {
		return size
	}
	if abbrev, ok := r.fullToAbbrev[strings.ToLower(strings.TrimSpace(size))]; ok {
		return abbrev
	}
	return strings.ToUpper(strings.TrimSpace(size))
}

// FullSize converts a size abbreviation to its spoken full form, for
// user-facing text. Unknown sizes pass through unchanged.
func (r *CommerceRules) FullSize(size string) string {
	if size == "" {
		return size
	}
	if full, ok := r.Sizes[strings.ToUpper(strings.TrimSpace(size))]; ok {
		return full
	}
	return size
}
