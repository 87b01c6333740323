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
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/agent"
)

const (
	// streamReadTimeout bounds the wait for the client's request frame.
	streamReadTimeout = 30 * time.Second

	// streamWriteTimeout bounds each outbound frame write.
	streamWriteTimeout = 10 * time.Second

	// maxStreamRequestBytes caps the inbound request frame size.
	maxStreamRequestBytes = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API key middleware runs before the upgrade reaches here,
	// so cross-origin storefront clients are allowed through.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamFrame is one server-to-client message on the assist stream.
// Type selects the payload shape carried in Data.
type streamFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type streamPlan struct {
	Intent string `json:"intent"`
	Steps  int    `json:"steps"`
}

type streamStep struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
}

type streamStepDone struct {
	Index int `json:"index"`
	agent.StepResult
}

type streamResponse struct {
	Response string `json:"response"`
}

type streamError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// wsEventSink relays executor lifecycle events onto the socket as
// they happen. All writes share one mutex so event frames never
// interleave with the final result frame.
type wsEventSink struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu sync.Mutex
}

func (s *wsEventSink) send(frame streamFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.logger.Warn("assist stream write failed",
			"frame_type", frame.Type,
			"error", err)
	}
}

func (s *wsEventSink) PlanStarted(plan *agent.Plan) {
	payload := streamPlan{}
	if plan != nil {
		payload.Intent = plan.Intent
		payload.Steps = len(plan.Steps)
	}
	s.send(streamFrame{Type: "plan_started", Data: payload})
}

func (s *wsEventSink) StepStarted(index int, action string) {
	s.send(streamFrame{Type: "step_started", Data: streamStep{Index: index, Action: action}})
}

func (s *wsEventSink) StepFinished(index int, result agent.StepResult) {
	s.send(streamFrame{Type: "step_completed", Data: streamStepDone{Index: index, StepResult: result}})
}

func (s *wsEventSink) ResponseReady(response string) {
	s.send(streamFrame{Type: "responded", Data: streamResponse{Response: response}})
}

// HandleAssistStream handles GET /v1/assist/stream.
//
// Description:
//
//	Runs one conversational turn over a WebSocket. The client sends a
//	single assist request frame after the upgrade; the server replays
//	plan and step lifecycle events as execution progresses and closes
//	with a result frame carrying the same payload POST /v1/assist
//	returns. Validation failures arrive as an error frame instead.
//
// Server Frames: plan_started, step_started, step_completed,
// responded, result, error.
//
// Thread Safety: safe for concurrent use; each connection is independent.
func (h *Handlers) HandleAssistStream(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxStreamRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

	sink := &wsEventSink{conn: conn, logger: logger}

	var req AssistRequest
	if err := conn.ReadJSON(&req); err != nil {
		sink.send(streamFrame{Type: "error", Data: streamError{
			Error: "invalid assist request frame",
			Code:  "INVALID_REQUEST",
		}})
		return
	}
	if req.UserID == "" || req.Message == "" {
		sink.send(streamFrame{Type: "error", Data: streamError{
			Error: "user_id and message are required",
			Code:  "INVALID_REQUEST",
		}})
		return
	}
	if code, msg := checkIdentifiers(req.UserID, req.SessionID); code != "" {
		sink.send(streamFrame{Type: "error", Data: streamError{Error: msg, Code: code}})
		return
	}

	resp, err := h.service.AssistTurn(c.Request.Context(), req, sink)
	if err != nil {
		var unknown *UnknownUserError
		if errors.As(err, &unknown) {
			sink.send(streamFrame{Type: "error", Data: streamError{
				Error: unknown.Error(),
				Code:  "USER_NOT_FOUND",
			}})
			return
		}
		logger.Error("assist stream turn failed", "user_id", req.UserID, "error", err)
		sink.send(streamFrame{Type: "error", Data: streamError{
			Error: internalIssueReply,
			Code:  "INTERNAL_ERROR",
		}})
		return
	}

	logger.Info("assist stream turn complete",
		"user_id", req.UserID,
		"session_id", resp.SessionID,
		"intent", resp.Intent,
		"steps", len(resp.ExecutionSteps))
	sink.send(streamFrame{Type: "result", Data: resp})

	deadline := time.Now().Add(streamWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
