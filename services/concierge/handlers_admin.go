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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
)

// The admin surface is thin CRUD over the retail tables plus bulk CSV
// import. It exists for operators and demo seeding, not shoppers, and
// sits behind the same API key with a tighter rate budget.

// HandleAdminUpsertUser handles POST /admin/users.
func (h *Handlers) HandleAdminUpsertUser(c *gin.Context) {
	var req AdminUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PAYLOAD"})
		return
	}
	tier := strings.ToLower(req.LoyaltyTier)
	if tier == "" {
		tier = "bronze"
	}
	rules := h.service.currentEngine(c.Request.Context()).rules
	if _, known := rules.LoyaltyTiers[tier]; !known {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("Unknown loyalty tier %q", req.LoyaltyTier),
			Code:  "INVALID_TIER",
		})
		return
	}
	user := &catalog.User{UserID: req.UserID, Name: req.Name, LoyaltyTier: tier}
	if err := h.service.catalog.PutUser(c.Request.Context(), user); err != nil {
		h.logger.Error("user upsert failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store user", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "user": user})
}

// HandleAdminGetUser handles GET /admin/users/:user_id.
func (h *Handlers) HandleAdminGetUser(c *gin.Context) {
	userID := c.Param("user_id")
	user, err := h.service.catalog.GetUser(c.Request.Context(), userID)
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("User %s does not exist", userID), Code: "USER_NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load user", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// HandleAdminDeleteUser handles DELETE /admin/users/:user_id.
//
// Description:
//
//	Removes the catalog row and wipes the user's stored memory in the
//	same call, so a deleted user leaves no sessions or
//	personalization behind. The response reports both halves
//	separately; memory cleanup failing does not undo the row delete.
func (h *Handlers) HandleAdminDeleteUser(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()

	deleted, err := h.service.catalog.DeleteUser(ctx, userID)
	if err != nil {
		h.logger.Error("user delete failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete user", Code: "STORE_ERROR"})
		return
	}

	memoryStatus := "cleared"
	sessionsCleared, personalizationCleared, err := h.service.sessions.ClearUserMemory(ctx, userID)
	if err != nil {
		h.logger.Warn("memory clear failed after user delete", "user_id", userID, "error", err)
		memoryStatus = "clear_failed"
	} else if !sessionsCleared && !personalizationCleared {
		memoryStatus = "nothing_stored"
	}

	c.JSON(http.StatusOK, UserDeleteResponse{
		Status:        "success",
		UserID:        userID,
		DeletedFromDB: deleted,
		MemoryCleared: err == nil && (sessionsCleared || personalizationCleared),
		MemoryStatus:  memoryStatus,
	})
}

// HandleAdminUpsertProduct handles POST /admin/products. The category
// id is derived from an exact category-name match when one exists.
func (h *Handlers) HandleAdminUpsertProduct(c *gin.Context) {
	var req AdminProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PAYLOAD"})
		return
	}
	ctx := c.Request.Context()

	product := &catalog.Product{
		ProductID: req.ProductID,
		Name:      req.Name,
		Category:  req.Category,
		BasePrice: req.BasePrice,
	}
	if cat, err := h.service.catalog.FindCategoryByName(ctx, req.Category); err == nil {
		product.CategoryID = cat.CategoryID
	}

	if err := h.service.catalog.PutProduct(ctx, product); err != nil {
		h.logger.Error("product upsert failed", "product_id", req.ProductID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store product", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "product": product})
}

// HandleAdminDeleteProduct handles DELETE /admin/products/:product_id.
func (h *Handlers) HandleAdminDeleteProduct(c *gin.Context) {
	productID := c.Param("product_id")
	deleted, err := h.service.catalog.DeleteProduct(c.Request.Context(), productID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete product", Code: "STORE_ERROR"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("Product %s does not exist", productID), Code: "PRODUCT_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "product_id": productID})
}

// HandleAdminUpsertInventory handles POST /admin/inventory. The
// product must already exist; stock rows never invent products.
func (h *Handlers) HandleAdminUpsertInventory(c *gin.Context) {
	var req AdminInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PAYLOAD"})
		return
	}
	ctx := c.Request.Context()

	if _, err := h.service.catalog.GetProduct(ctx, req.ProductID); errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("Product %s does not exist", req.ProductID),
			Code:  "PRODUCT_NOT_FOUND",
		})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to check product", Code: "STORE_ERROR"})
		return
	}

	rec := &catalog.InventoryRecord{
		SKU:       req.SKU,
		ProductID: req.ProductID,
		Size:      req.Size,
		Quantity:  req.Quantity,
		Location:  req.Location,
	}
	if err := h.service.catalog.PutInventory(ctx, rec); err != nil {
		h.logger.Error("inventory upsert failed", "sku", req.SKU, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store inventory", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "inventory": rec})
}

// HandleAdminDeleteInventory handles DELETE /admin/inventory/:sku with
// an optional ?size= narrowing the delete to one row.
func (h *Handlers) HandleAdminDeleteInventory(c *gin.Context) {
	sku := c.Param("sku")
	size := c.Query("size")
	ctx := c.Request.Context()

	if size != "" {
		deleted, err := h.service.catalog.DeleteInventory(ctx, sku, size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete inventory", Code: "STORE_ERROR"})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("Inventory %s/%s does not exist", sku, size), Code: "INVENTORY_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "sku": sku, "size": size})
		return
	}

	records, err := h.service.catalog.ListInventoryBySKU(ctx, sku)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list inventory", Code: "STORE_ERROR"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("Inventory %s does not exist", sku), Code: "INVENTORY_NOT_FOUND"})
		return
	}
	removed := 0
	for _, rec := range records {
		deleted, err := h.service.catalog.DeleteInventory(ctx, rec.SKU, rec.Size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete inventory", Code: "STORE_ERROR"})
			return
		}
		if deleted {
			removed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "sku": sku, "rows_deleted": removed})
}

// HandleAdminUpsertOrder handles POST /admin/orders. CreatedAt
// defaults to now in RFC 3339 when the payload omits it.
func (h *Handlers) HandleAdminUpsertOrder(c *gin.Context) {
	var req AdminOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PAYLOAD"})
		return
	}
	order := &catalog.Order{
		OrderID:     req.OrderID,
		UserID:      req.UserID,
		TotalAmount: req.TotalAmount,
		Status:      req.Status,
		CreatedAt:   req.CreatedAt,
	}
	if order.Status == "" {
		order.Status = "pending"
	}
	if order.CreatedAt == "" {
		order.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := h.service.catalog.PutOrder(c.Request.Context(), order); err != nil {
		h.logger.Error("order upsert failed", "order_id", req.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store order", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "order": order})
}

// HandleAdminUpsertCategory handles POST /admin/categories.
func (h *Handlers) HandleAdminUpsertCategory(c *gin.Context) {
	var req AdminCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PAYLOAD"})
		return
	}
	category := &catalog.Category{CategoryID: req.CategoryID, Name: req.Name}
	if err := h.service.catalog.PutCategory(c.Request.Context(), category); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store category", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "category": category})
}

// HandleAdminDeleteCategory handles DELETE /admin/categories/:category_id.
func (h *Handlers) HandleAdminDeleteCategory(c *gin.Context) {
	categoryID := c.Param("category_id")
	deleted, err := h.service.catalog.DeleteCategory(c.Request.Context(), categoryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete category", Code: "STORE_ERROR"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("Category %s does not exist", categoryID), Code: "CATEGORY_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "category_id": categoryID})
}

// HandleAdminUploadCSV handles POST /admin/upload-csv/:table.
//
// Description:
//
//	Accepts a multipart form with a "file" field holding CSV rows for
//	one allow-listed table. Rows are fully parsed before any write,
//	so a bad row rejects the whole upload.
//
// Response:
//
//	200 OK: CSVUploadResponse
//	400 Bad Request: unknown table, missing file, or malformed rows
func (h *Handlers) HandleAdminUploadCSV(c *gin.Context) {
	table := c.Param("table")
	if !catalog.ValidTable(table) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("Table %q is not importable. Allowed: %s", table, strings.Join(catalog.AllowedTables(), ", ")),
			Code:  "INVALID_TABLE",
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "multipart 'file' field is required", Code: "MISSING_FILE"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to open uploaded file", Code: "INVALID_FILE"})
		return
	}
	defer file.Close()

	imported, err := h.service.catalog.ImportCSV(c.Request.Context(), table, file)
	if err != nil {
		h.logger.Warn("csv import rejected", "table", table, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "IMPORT_FAILED"})
		return
	}

	resp := CSVUploadResponse{Status: "success", Table: table, RowsImported: imported}
	if imported == 0 {
		resp.Message = "No rows found in CSV."
	}
	h.logger.Info("csv import completed", "table", table, "rows", imported)
	c.JSON(http.StatusOK, resp)
}

// HandleAdminDumpTable handles GET /admin/db/:table.
func (h *Handlers) HandleAdminDumpTable(c *gin.Context) {
	table := c.Param("table")
	if !catalog.ValidTable(table) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("Table %q is not dumpable. Allowed: %s", table, strings.Join(catalog.AllowedTables(), ", ")),
			Code:  "INVALID_TABLE",
		})
		return
	}
	rows, err := h.service.catalog.DumpTable(c.Request.Context(), table)
	if err != nil {
		h.logger.Error("table dump failed", "table", table, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to dump table", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, TableDumpResponse{Status: "success", Table: table, Rows: rows})
}

// HandleAdminGetMemory handles GET /admin/memory/:user_id.
func (h *Handlers) HandleAdminGetMemory(c *gin.Context) {
	userID := c.Param("user_id")
	memory, err := h.service.sessions.GetUserMemory(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load memory", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, memory)
}

// HandleAdminClearMemory handles DELETE /admin/memory/:user_id.
func (h *Handlers) HandleAdminClearMemory(c *gin.Context) {
	userID := c.Param("user_id")
	sessionsCleared, personalizationCleared, err := h.service.sessions.ClearUserMemory(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear memory", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":                  "success",
		"user_id":                 userID,
		"sessions_cleared":        sessionsCleared,
		"personalization_cleared": personalizationCleared,
	})
}
