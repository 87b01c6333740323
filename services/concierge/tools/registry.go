// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools implements the dispatchable tool catalog: the ten
// deterministic operations a validated plan may invoke. Every tool
// takes a resolved parameter map and returns a JSON-friendly result;
// business data comes from the catalog and session stores, policy
// numbers from the commerce rules.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
)

const tracerName = "services/concierge/tools"

// ErrUnknownTool is wrapped by Dispatch when the action names no tool.
var ErrUnknownTool = errors.New("unknown tool")

// ToolFunc is one dispatchable operation.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// Deps carries the stores and rules the tools operate on.
type Deps struct {
	Catalog  *catalog.Store
	Sessions *session.Store
	Rules    *config.CommerceRules
	Logger   *slog.Logger
}

// Registry is the static name-to-tool dispatch table.
//
// Thread Safety: the table is built once in New and never mutated, so
// Registry is safe for concurrent use.
type Registry struct {
	deps  Deps
	tools map[string]ToolFunc
}

// New builds the registry over its dependencies.
func New(deps Deps) (*Registry, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("tools: catalog store must not be nil")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("tools: session store must not be nil")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("tools: commerce rules must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := &Registry{deps: deps}
	r.tools = map[string]ToolFunc{
		"get_session_context":     r.getSessionContext,
		"save_session_context":    r.saveSessionContext,
		"get_user_profile":        r.getUserProfile,
		"update_user_name":        r.updateUserName,
		"check_inventory":         r.checkInventory,
		"recommend_products":      r.recommendProducts,
		"apply_offers":            r.applyOffers,
		"calculate_payment":       r.calculatePayment,
		"get_fulfillment_options": r.getFulfillmentOptions,
		"log_execution_trace":     r.logExecutionTrace,
	}
	return r, nil
}

// Has reports whether an action names a dispatchable tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes one tool by name with already-resolved parameters.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) (any, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "tools.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	fn, ok := r.tools[name]
	if !ok {
		err := fmt.Errorf("tools: %q: %w", name, ErrUnknownTool)
		span.SetStatus(codes.Error, "unknown tool")
		return nil, err
	}
	r.deps.Logger.Debug("dispatching tool", slog.String("tool", name))
	result, err := fn(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
	}
	return result, err
}

// ===========================================================================
// Parameter coercion
// ===========================================================================

// asString renders a parameter value as a string. Plans produced by a
// language model sometimes carry ids as JSON numbers.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// asFloat renders a parameter value as a number, tolerating numeric
// strings. Anything unparseable counts as zero.
func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func stringParam(params map[string]any, key string) string {
	return asString(params[key])
}

func sliceParam(params map[string]any, key string) []any {
	v, _ := params[key].([]any)
	return v
}

func mapParam(params map[string]any, key string) map[string]any {
	v, _ := params[key].(map[string]any)
	return v
}
