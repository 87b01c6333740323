// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

// csvUploadResponse mirrors the server's CSV import reply.
type csvUploadResponse struct {
	Status       string `json:"status"`
	Table        string `json:"table"`
	RowsImported int    `json:"rows_imported"`
	Message      string `json:"message,omitempty"`
}

// tableDumpResponse keeps rows raw so they print exactly as the server
// sent them.
type tableDumpResponse struct {
	Status string          `json:"status"`
	Table  string          `json:"table"`
	Rows   json.RawMessage `json:"rows"`
}

// userMemoryResponse mirrors the server's per-user session listing.
type userMemoryResponse struct {
	UserID   string                    `json:"user_id"`
	Sessions map[string]map[string]any `json:"sessions"`
}

// traceRecordResponse mirrors a stored execution trace.
type traceRecordResponse struct {
	TraceID    string          `json:"trace_id"`
	RecordedAt string          `json:"recorded_at"`
	Trace      json.RawMessage `json:"trace"`
}

func runSeedCommand(_ *cobra.Command, _ []string) {
	if seedTable == "" || seedFile == "" {
		log.Fatalf("Usage: commerce seed --table <users|products|inventory|orders|categories> --file <rows.csv>")
	}

	resp, err := uploadCSV(seedTable, seedFile)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Imported %d rows into %q.\n", resp.RowsImported, resp.Table)
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
}

// uploadCSV streams one CSV file to POST /admin/upload-csv/:table as a
// multipart form.
func uploadCSV(table, path string) (csvUploadResponse, error) {
	var out csvUploadResponse

	file, err := os.Open(path)
	if err != nil {
		return out, err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return out, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return out, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return out, err
	}

	req, err := http.NewRequest("POST", getConciergeBaseURL()+"/admin/upload-csv/"+table, &buf)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return out, sendRequest(req, &out)
}

func runDumpCommand(_ *cobra.Command, _ []string) {
	if dumpTable == "" {
		log.Fatalf("Usage: commerce dump --table <users|products|inventory|orders|categories>")
	}

	var resp tableDumpResponse
	if err := callServer("GET", "/admin/db/"+dumpTable, nil, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	pretty, err := json.MarshalIndent(json.RawMessage(resp.Rows), "", "  ")
	if err != nil {
		log.Fatalf("failed to format rows: %v", err)
	}
	fmt.Printf("%s\n", pretty)
}

func runSessionsCommand(_ *cobra.Command, args []string) {
	userID := args[0]

	var memory userMemoryResponse
	if err := callServer("GET", "/v1/sessions/"+userID, nil, &memory); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(memory.Sessions) == 0 {
		fmt.Printf("No stored sessions for user '%s'.\n", userID)
		return
	}

	ids := make([]string, 0, len(memory.Sessions))
	for id := range memory.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("Sessions for user '%s' (%d):\n", userID, len(ids))
	for _, id := range ids {
		fmt.Printf("  %s  (%d context keys)\n", id, len(memory.Sessions[id]))
	}
	fmt.Println("\nResume one with: commerce chat --user", userID, "--resume <session-id>")
}

func runTraceCommand(_ *cobra.Command, args []string) {
	traceID := args[0]

	var record traceRecordResponse
	if err := callServer("GET", "/v1/traces/"+traceID, nil, &record); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Trace %s (recorded %s)\n", record.TraceID, record.RecordedAt)
	pretty, err := json.MarshalIndent(json.RawMessage(record.Trace), "", "  ")
	if err != nil {
		log.Fatalf("failed to format trace: %v", err)
	}
	fmt.Printf("%s\n", pretty)
}
