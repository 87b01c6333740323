// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concierge

import (
	"github.com/AleutianAI/AleutianCommerce/services/concierge/agent"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
)

// AssistRequest is one conversational turn from a shopper.
type AssistRequest struct {
	// SessionID groups turns into a conversation. Empty means start a
	// new conversation; the response carries the minted id.
	SessionID string `json:"session_id"`

	UserID  string `json:"user_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// AssistResponse is the outcome of one turn.
type AssistResponse struct {
	Response       string             `json:"response"`
	SessionID      string             `json:"session_id"`
	Intent         string             `json:"intent"`
	ExecutionSteps []agent.StepResult `json:"execution_steps"`

	// TraceID locates the persisted execution trace. Empty when trace
	// persistence failed; the turn itself still succeeded.
	TraceID string `json:"trace_id,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// StatusResponse acknowledges a mutation.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ===========================================================================
// Admin payloads. Validation happens through the binding tags
// (go-playground/validator underneath gin's ShouldBindJSON).
// ===========================================================================

// AdminProductRequest upserts a product. CategoryID is derived from
// the category name when a matching category row exists.
type AdminProductRequest struct {
	ProductID string  `json:"product_id" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	Category  string  `json:"category" binding:"required"`
	BasePrice float64 `json:"base_price" binding:"required,gt=0"`
}

// AdminUserRequest upserts a shopper.
type AdminUserRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name" binding:"required"`

	// LoyaltyTier is matched case-insensitively against the tiers the
	// commerce rules define. Empty means bronze.
	LoyaltyTier string `json:"loyalty_tier"`
}

// AdminInventoryRequest upserts one (SKU, size) stock row.
type AdminInventoryRequest struct {
	SKU       string `json:"sku" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity" binding:"min=0"`
	Location  string `json:"location"`
}

// AdminOrderRequest records an order.
type AdminOrderRequest struct {
	OrderID     string  `json:"order_id" binding:"required"`
	UserID      string  `json:"user_id" binding:"required"`
	TotalAmount float64 `json:"total_amount" binding:"required,gt=0"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

// AdminCategoryRequest upserts a category.
type AdminCategoryRequest struct {
	CategoryID string `json:"category_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
}

// CSVUploadResponse reports a bulk import.
type CSVUploadResponse struct {
	Status       string `json:"status"`
	Table        string `json:"table"`
	RowsImported int    `json:"rows_imported"`
	Message      string `json:"message,omitempty"`
}

// TableDumpResponse wraps one allow-listed table's rows.
type TableDumpResponse struct {
	Status string `json:"status"`
	Table  string `json:"table"`
	Rows   any    `json:"rows"`
}

// UserDeleteResponse reports a user removal and the memory cleanup
// that rides along with it.
type UserDeleteResponse struct {
	Status        string `json:"status"`
	UserID        string `json:"user_id"`
	DeletedFromDB bool   `json:"deleted_from_db"`
	MemoryCleared bool   `json:"memory_cleared"`
	MemoryStatus  string `json:"memory_status"`
}

// ProfileResponse joins a shopper's catalog row with their stored
// personalization.
type ProfileResponse struct {
	User            *catalog.User  `json:"user"`
	Personalization map[string]any `json:"personalization"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadyResponse reports readiness with per-dependency detail.
type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks"`
}
