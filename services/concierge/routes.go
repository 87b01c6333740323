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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
)

// NewRouter builds the concierge HTTP router with middleware applied.
//
// Description:
//
//	Three route classes share the API key guard but carry separate
//	per-client rate budgets: assist turns (the expensive LLM path),
//	the admin surface, and everything else. Health, readiness, and
//	metrics stay outside auth so probes and scrapers need no key.
//
// Shopper Endpoints:
//
//	POST /v1/assist - One conversational turn
//	GET  /v1/assist/stream - Same turn over WebSocket with step events
//	GET  /v1/tools - Dispatchable tool catalog
//	GET  /v1/sessions/:user_id - All stored sessions for a user
//	GET  /v1/sessions/:user_id/:session_id - One session context
//	DELETE /v1/sessions/:user_id/:session_id - Wipe one session
//	GET  /v1/users/:user_id/profile - Profile + personalization
//	GET  /v1/traces/:trace_id - Execution trace detail
//
// Admin Endpoints:
//
//	POST /admin/users - Upsert a shopper
//	GET  /admin/users/:user_id - Read a shopper row
//	DELETE /admin/users/:user_id - Delete row + stored memory
//	POST /admin/products - Upsert a product
//	DELETE /admin/products/:product_id - Delete a product
//	POST /admin/inventory - Upsert a stock row
//	DELETE /admin/inventory/:sku - Delete stock rows (?size= for one)
//	POST /admin/orders - Record an order
//	POST /admin/categories - Upsert a category
//	DELETE /admin/categories/:category_id - Delete a category
//	POST /admin/upload-csv/:table - Bulk CSV import
//	GET  /admin/db/:table - Dump an allow-listed table
//	GET  /admin/memory/:user_id - Inspect stored user memory
//	DELETE /admin/memory/:user_id - Clear stored user memory
//
// Unauthenticated:
//
//	GET /v1/health - Liveness
//	GET /v1/ready - Readiness (stores + LLM)
//	GET /metrics - Prometheus exposition
//
// Example:
//
//	service, _ := concierge.NewService(deps)
//	handlers := concierge.NewHandlers(service)
//	router := concierge.NewRouter(handlers, concierge.StaticKeySource(cfg.APIKey))
//	router.Run(":8000")
func NewRouter(handlers *Handlers, keySource KeySource) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), otelgin.Middleware("concierge"))

	auth := RequireAPIKey(keySource)
	assistLimit := NewRateLimiter(config.AssistRequestsPerMinute).Middleware()
	adminLimit := NewRateLimiter(config.AdminRequestsPerMinute).Middleware()
	defaultLimit := NewRateLimiter(config.DefaultRequestsPerMinute).Middleware()

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	probes := router.Group("/v1")
	{
		probes.GET("/health", handlers.HandleHealth)
		probes.GET("/ready", handlers.HandleReady)
	}

	assist := router.Group("/v1", auth, assistLimit)
	{
		assist.POST("/assist", handlers.HandleAssist)
		assist.GET("/assist/stream", handlers.HandleAssistStream)
	}

	v1 := router.Group("/v1", auth, defaultLimit)
	{
		v1.GET("/tools", handlers.HandleGetTools)

		v1.GET("/sessions/:user_id", handlers.HandleListSessions)
		v1.GET("/sessions/:user_id/:session_id", handlers.HandleGetSession)
		v1.DELETE("/sessions/:user_id/:session_id", handlers.HandleClearSession)

		v1.GET("/users/:user_id/profile", handlers.HandleGetProfile)
		v1.GET("/traces/:trace_id", handlers.HandleGetTrace)
	}

	admin := router.Group("/admin", auth, adminLimit)
	{
		admin.POST("/users", handlers.HandleAdminUpsertUser)
		admin.GET("/users/:user_id", handlers.HandleAdminGetUser)
		admin.DELETE("/users/:user_id", handlers.HandleAdminDeleteUser)

		admin.POST("/products", handlers.HandleAdminUpsertProduct)
		admin.DELETE("/products/:product_id", handlers.HandleAdminDeleteProduct)

		admin.POST("/inventory", handlers.HandleAdminUpsertInventory)
		admin.DELETE("/inventory/:sku", handlers.HandleAdminDeleteInventory)

		admin.POST("/orders", handlers.HandleAdminUpsertOrder)

		admin.POST("/categories", handlers.HandleAdminUpsertCategory)
		admin.DELETE("/categories/:category_id", handlers.HandleAdminDeleteCategory)

		admin.POST("/upload-csv/:table", handlers.HandleAdminUploadCSV)
		admin.GET("/db/:table", handlers.HandleAdminDumpTable)

		admin.GET("/memory/:user_id", handlers.HandleAdminGetMemory)
		admin.DELETE("/memory/:user_id", handlers.HandleAdminClearMemory)
	}

	return router
}
