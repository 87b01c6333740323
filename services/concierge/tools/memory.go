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
	"strings"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
)

// getSessionContext returns the stored context map for one session,
// empty when the session has never been written.
func (r *Registry) getSessionContext(ctx context.Context, params map[string]any) (any, error) {
	userID := stringParam(params, "user_id")
	sessionID := stringParam(params, "session_id")
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("get_session_context requires user_id and session_id")
	}
	return r.deps.Sessions.Get(ctx, userID, sessionID)
}

// saveSessionContext stores a context map for one session.
func (r *Registry) saveSessionContext(ctx context.Context, params map[string]any) (any, error) {
	userID := stringParam(params, "user_id")
	sessionID := stringParam(params, "session_id")
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("save_session_context requires user_id and session_id")
	}
	contextMap := mapParam(params, "context")
	if contextMap == nil {
		contextMap = map[string]any{}
	}
	if err := r.deps.Sessions.Put(ctx, userID, sessionID, contextMap); err != nil {
		return nil, err
	}
	return map[string]any{
		"status":     "saved",
		"user_id":    userID,
		"session_id": sessionID,
	}, nil
}

// getUserProfile returns a user's profile. Unknown users resolve to a
// guest profile rather than an error so a stale id never sinks a plan.
func (r *Registry) getUserProfile(ctx context.Context, params map[string]any) (any, error) {
	userID := stringParam(params, "user_id")
	if userID == "" {
		return nil, fmt.Errorf("get_user_profile requires user_id")
	}

	user, err := r.deps.Catalog.GetUser(ctx, userID)
	if errors.Is(err, catalog.ErrNotFound) {
		return map[string]any{
			"user_id":      userID,
			"name":         "Guest",
			"loyalty_tier": "bronze",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id":      user.UserID,
		"name":         user.Name,
		"loyalty_tier": user.LoyaltyTier,
	}, nil
}

// updateUserName renames an existing user and returns the updated
// profile. Unlike profile reads, writes against unknown users fail.
func (r *Registry) updateUserName(ctx context.Context, params map[string]any) (any, error) {
	userID := stringParam(params, "user_id")
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	name := strings.TrimSpace(stringParam(params, "name"))
	if name == "" {
		return nil, fmt.Errorf("name must be a non-empty string")
	}

	user, err := r.deps.Catalog.GetUser(ctx, userID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("User '%s' does not exist in users table", userID)
	}
	if err != nil {
		return nil, err
	}

	user.Name = name
	if err := r.deps.Catalog.PutUser(ctx, user); err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id":      user.UserID,
		"name":         user.Name,
		"loyalty_tier": user.LoyaltyTier,
	}, nil
}

// logExecutionTrace persists a trace payload and returns its id.
func (r *Registry) logExecutionTrace(ctx context.Context, params map[string]any) (any, error) {
	trace, ok := params["trace"]
	if !ok {
		return nil, fmt.Errorf("log_execution_trace requires a trace")
	}
	record, err := r.deps.Sessions.PutTrace(ctx, trace)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":      "logged",
		"trace_id":    record.TraceID,
		"recorded_at": record.RecordedAt,
	}, nil
}
