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
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
)

// Handlers exposes the Service over HTTP.
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates the handler set for a wired service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service, logger: service.logger}
}

// HandleAssist handles POST /v1/assist.
//
// Description:
//
//	Runs one conversational turn: plan the user's message, validate
//	and possibly repair the plan, execute it step by step, phrase the
//	reply. The response always carries the session id, so clients
//	omit it on the first turn and echo it afterwards.
//
// Response:
//
//	200 OK: AssistResponse (including degraded turns; the engine
//	  absorbs its own failures into response text)
//	400 Bad Request: malformed payload or identifiers
//	404 Not Found: user does not exist yet
//
// Thread Safety: safe for concurrent use; same-session turns are
// serialized by the service.
func (h *Handlers) HandleAssist(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleAssist")

	var req AssistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "user_id and message are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if code, msg := checkIdentifiers(req.UserID, req.SessionID); code != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: code})
		return
	}

	resp, err := h.service.AssistTurn(c.Request.Context(), req, nil)
	if err != nil {
		var unknown *UnknownUserError
		if errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: unknown.Error(),
				Code:  "USER_NOT_FOUND",
			})
			return
		}
		logger.Error("assist turn failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: internalIssueReply,
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	logger.Info("assist turn completed",
		"user_id", req.UserID,
		"session_id", resp.SessionID,
		"intent", resp.Intent,
		"steps", len(resp.ExecutionSteps))
	c.JSON(http.StatusOK, resp)
}

// checkIdentifiers guards the ':'-free identifier constraint the
// session key schema documents.
func checkIdentifiers(userID, sessionID string) (code, msg string) {
	if strings.ContainsRune(userID, ':') {
		return "INVALID_USER_ID", "user_id must not contain ':'"
	}
	if strings.ContainsRune(sessionID, ':') {
		return "INVALID_SESSION_ID", "session_id must not contain ':'"
	}
	return "", ""
}

// HandleGetTools handles GET /v1/tools: the dispatchable tool catalog
// with each tool's required and accepted parameters.
func (h *Handlers) HandleGetTools(c *gin.Context) {
	eng := h.service.currentEngine(c.Request.Context())
	rules := eng.rules
	names := eng.registry.Names()
	toolList := make([]map[string]any, 0, len(names))
	for _, name := range names {
		toolList = append(toolList, map[string]any{
			"name":     name,
			"required": rules.RequiredParams(name),
			"allowed":  rules.AllowedParams(name),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": toolList, "count": len(toolList)})
}

// HandleListSessions handles GET /v1/sessions/:user_id.
func (h *Handlers) HandleListSessions(c *gin.Context) {
	userID := c.Param("user_id")
	memory, err := h.service.sessions.GetUserMemory(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("user memory load failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load sessions", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, memory)
}

// HandleGetSession handles GET /v1/sessions/:user_id/:session_id.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	userID := c.Param("user_id")
	sessionID := c.Param("session_id")
	contextMap, err := h.service.sessions.Get(c.Request.Context(), userID, sessionID)
	if err != nil {
		h.logger.Error("session load failed", "user_id", userID, "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load session", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    userID,
		"session_id": sessionID,
		"context":    contextMap,
	})
}

// HandleClearSession handles DELETE /v1/sessions/:user_id/:session_id.
func (h *Handlers) HandleClearSession(c *gin.Context) {
	userID := c.Param("user_id")
	sessionID := c.Param("session_id")
	existed, err := h.service.sessions.ClearSession(c.Request.Context(), userID, sessionID)
	if err != nil {
		h.logger.Error("session clear failed", "user_id", userID, "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear session", Code: "STORE_ERROR"})
		return
	}
	status := "cleared"
	if !existed {
		status = "not_found"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"user_id":    userID,
		"session_id": sessionID,
	})
}

// HandleGetProfile handles GET /v1/users/:user_id/profile.
//
// Response:
//
//	200 OK: ProfileResponse
//	404 Not Found: unknown user
func (h *Handlers) HandleGetProfile(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()

	user, err := h.service.catalog.GetUser(ctx, userID)
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: (&UnknownUserError{UserID: userID}).Error(),
			Code:  "USER_NOT_FOUND",
		})
		return
	}
	if err != nil {
		h.logger.Error("profile load failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load profile", Code: "STORE_ERROR"})
		return
	}

	personalization, err := h.service.sessions.GetPersonalization(ctx, userID)
	if err != nil {
		h.logger.Warn("personalization load failed", "user_id", userID, "error", err)
		personalization = map[string]any{}
	}
	c.JSON(http.StatusOK, ProfileResponse{User: user, Personalization: personalization})
}

// HandleGetTrace handles GET /v1/traces/:trace_id. Traces carry the
// per-step diagnostic detail the assist response deliberately omits.
func (h *Handlers) HandleGetTrace(c *gin.Context) {
	traceID := c.Param("trace_id")
	record, err := h.service.sessions.GetTrace(c.Request.Context(), traceID)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "trace not found", Code: "TRACE_NOT_FOUND"})
		return
	}
	if err != nil {
		h.logger.Error("trace load failed", "trace_id", traceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load trace", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: "concierge"})
}

// HandleReady handles GET /v1/ready. Ready means both stores answer
// and an LLM backend is configured.
func (h *Handlers) HandleReady(c *gin.Context) {
	ctx := c.Request.Context()
	checks := map[string]bool{}

	_, err := h.service.catalog.ListCategories(ctx)
	checks["catalog"] = err == nil

	_, err = h.service.sessions.Get(ctx, "readiness", "probe")
	checks["sessions"] = err == nil

	checks["llm"] = h.service.llm != nil && h.service.llm.ModelName() != ""

	ready := checks["catalog"] && checks["sessions"] && checks["llm"]
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ReadyResponse{Ready: ready, Checks: checks})
}
