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
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// assistRequest and assistResponse mirror the server's assist payloads.
type assistRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type assistStep struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error,omitempty"`
}

type assistResponse struct {
	Response       string       `json:"response"`
	SessionID      string       `json:"session_id"`
	Intent         string       `json:"intent"`
	ExecutionSteps []assistStep `json:"execution_steps"`
	TraceID        string       `json:"trace_id,omitempty"`
}

func runChatCommand(cmd *cobra.Command, args []string) {
	// Check for common misuse: positional arguments when flags are expected
	if len(args) > 0 {
		if args[0] == "resume" {
			if len(args) >= 2 {
				fmt.Printf("Hint: Did you mean '--resume %s'? Use 'commerce chat --user <id> --resume <session-id>'\n", args[1])
			} else {
				fmt.Println("Hint: Did you mean '--resume'? Use 'commerce chat --user <id> --resume <session-id>'")
			}
			os.Exit(1)
		}
		fmt.Printf("Warning: Unexpected arguments ignored: %v\n", args)
		fmt.Println("Use 'commerce chat --help' to see available flags.")
	}
	if chatUser == "" {
		log.Fatalf("Usage: commerce chat --user <user_id>  (seeded users: 001..005)")
	}

	sessionID := resumeID
	baseURL := getConciergeBaseURL()
	interactive := isatty.IsTerminal(os.Stdin.Fd())

	// Ctrl+C leaves the loop even while a turn is in flight. The
	// escape code puts the cursor back in case the spinner hid it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Print("\033[?25h")
		fmt.Println("\nGoodbye.")
		os.Exit(0)
	}()

	if interactive {
		fmt.Printf("Aleutian Commerce concierge at %s\n", baseURL)
		if sessionID != "" {
			fmt.Printf("Chatting as user '%s', resuming session %s.\n", chatUser, sessionID)
		} else {
			fmt.Printf("Chatting as user '%s'. Type 'exit' to leave.\n", chatUser)
		}
		fmt.Println("---")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("You> ")
		}
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" || message == "q" {
			fmt.Println("Goodbye.")
			break
		}

		resp, err := sendAssistRequest(chatUser, sessionID, message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		if sessionID == "" && resp.SessionID != "" {
			sessionID = resp.SessionID
			if interactive {
				fmt.Printf("[session: %s]\n", sessionID)
			}
		}

		fmt.Printf("\nAgent> %s\n", resp.Response)
		if showSteps {
			printSteps(resp)
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("reading input: %v", err)
	}
}

func runAskCommand(_ *cobra.Command, args []string) {
	if chatUser == "" {
		log.Fatalf("Usage: commerce ask --user <user_id> <message>")
	}
	question := strings.Join(args, " ")
	fmt.Printf("Asking (as user '%s'): %s\n", chatUser, question)
	fmt.Println("---")

	resp, err := sendAssistRequest(chatUser, resumeID, question)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("\nAnswer:\n%s\n", resp.Response)
	if len(resp.ExecutionSteps) > 0 {
		fmt.Println("\nSteps Executed:")
		for i, step := range resp.ExecutionSteps {
			status := "ok"
			if !step.Success {
				status = "failed: " + step.Error
			}
			fmt.Printf("%d. %s (%s)\n", i+1, step.Step, status)
		}
	} else {
		fmt.Println("\n(No tool steps were needed for this reply)")
	}
	fmt.Printf("\n[session: %s | trace: %s]\n", resp.SessionID, resp.TraceID)
	fmt.Println("---")
}

// sendAssistRequest runs one turn against POST /v1/assist, animating a
// spinner while the planner and executor work.
func sendAssistRequest(userID, sessionID, message string) (assistResponse, error) {
	var done chan bool
	if isatty.IsTerminal(os.Stdout.Fd()) {
		done = make(chan bool)
		go showSpinner("Thinking", done)
	}

	var resp assistResponse
	err := callServer("POST", "/v1/assist", assistRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
	}, &resp)

	if done != nil {
		done <- true
		fmt.Print("\r                                \r")
	}
	return resp, err
}

func printSteps(resp assistResponse) {
	fmt.Printf("[intent: %s]\n", resp.Intent)
	for i, step := range resp.ExecutionSteps {
		status := "ok"
		if !step.Success {
			status = "failed: " + step.Error
		}
		fmt.Printf("  %d. %s (%s)\n", i+1, step.Step, status)
	}
	if resp.TraceID != "" {
		fmt.Printf("[trace: %s]\n", resp.TraceID)
	}
}

// showSpinner animates a progress marker until done fires.
func showSpinner(msg string, done chan bool) {
	chars := []string{"▖", "▘", "▝", "▗"}
	i := 0

	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	for {
		select {
		case <-done:
			return
		default:
			fmt.Printf("\r%s  %s... \033[K", chars[i%len(chars)], msg)
			i++
			time.Sleep(100 * time.Millisecond)
		}
	}
}
