// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command commerce is the terminal client for the Aleutian Commerce
// concierge server (see cmd/concierge).
//
// Usage:
//
//	commerce chat --user 001
//	commerce chat --user 001 --resume <session-id> --show-steps
//	commerce ask --user 001 show me some shirts for men
//	commerce seed --table products --file products.csv
//	commerce dump --table inventory
//	commerce sessions 001
//	commerce trace <trace-id>
//
// The server address resolves from --server, then COMMERCE_SERVER_URL,
// then http://localhost:8000. When the server enforces auth, pass
// --api-key or set COMMERCE_API_KEY.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Flag values shared across the subcommands.
var (
	serverFlag string
	apiKeyFlag string

	chatUser  string
	resumeID  string
	showSteps bool

	seedTable string
	seedFile  string

	dumpTable string
)

var httpClient = &http.Client{Timeout: 3 * time.Minute}

// errorResponse mirrors the server's uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var rootCmd = &cobra.Command{
	Use:   "commerce",
	Short: "Talk to an Aleutian Commerce concierge server",
	Long: `commerce is the terminal client for the Aleutian Commerce concierge:
an LLM-planned retail sales agent. It drives conversations, inspects
sessions and execution traces, and bulk-loads catalog data over the
concierge's HTTP API.

Start the server first:

  go run ./cmd/concierge

Then chat as one of the seeded users:

  commerce chat --user 001`,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation with the sales agent",
	Run:   runChatCommand,
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a single message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAskCommand,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bulk-load one catalog table from a CSV file",
	Run:   runSeedCommand,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every row of one catalog table",
	Run:   runDumpCommand,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <user_id>",
	Short: "List a user's stored conversation sessions",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionsCommand,
}

var traceCmd = &cobra.Command{
	Use:   "trace <trace_id>",
	Short: "Print the execution trace behind one reply",
	Args:  cobra.ExactArgs(1),
	Run:   runTraceCommand,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Concierge base URL (default COMMERCE_SERVER_URL or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "API key for the server (default COMMERCE_API_KEY)")

	chatCmd.Flags().StringVar(&chatUser, "user", "", "User id to chat as (required)")
	chatCmd.Flags().StringVar(&resumeID, "resume", "", "Resume an existing session id")
	chatCmd.Flags().BoolVar(&showSteps, "show-steps", false, "Print executed tool steps after each reply")

	askCmd.Flags().StringVar(&chatUser, "user", "", "User id to ask as (required)")
	askCmd.Flags().StringVar(&resumeID, "session", "", "Session id to continue")

	seedCmd.Flags().StringVar(&seedTable, "table", "", "Target table: users, products, inventory, orders, categories")
	seedCmd.Flags().StringVar(&seedFile, "file", "", "CSV file to upload")

	dumpCmd.Flags().StringVar(&dumpTable, "table", "", "Table to dump: users, products, inventory, orders, categories")

	rootCmd.AddCommand(chatCmd, askCmd, seedCmd, dumpCmd, sessionsCmd, traceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getConciergeBaseURL resolves the server address from the --server
// flag, the COMMERCE_SERVER_URL environment variable, or the local
// default, in that order.
func getConciergeBaseURL() string {
	if serverFlag != "" {
		return strings.TrimRight(serverFlag, "/")
	}
	if env := os.Getenv("COMMERCE_SERVER_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:8000"
}

func resolveAPIKey() string {
	if apiKeyFlag != "" {
		return apiKeyFlag
	}
	return os.Getenv("COMMERCE_API_KEY")
}

// callServer sends one JSON request to the concierge and decodes the
// body into out. Non-200 responses come back as errors carrying the
// server's error text.
func callServer(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, getConciergeBaseURL()+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return sendRequest(req, out)
}

// sendRequest performs a prepared request with auth attached and
// decodes the JSON body into out when out is non-nil.
func sendRequest(req *http.Request, out any) error {
	if key := resolveAPIKey(); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("concierge unavailable at %s (start it with: go run ./cmd/concierge): %w", getConciergeBaseURL(), err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse server response: %w", err)
	}
	return nil
}
