// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SehatAI/SehatOSS/pkg/ux"
)

const chatHistorySize = 50

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive health conversation",
	Long: `Chat opens an interactive loop against the Sehat service. Every
answer continues the same session so follow-up questions keep their
context. Type "exit" or press Ctrl+D to leave.`,
	Run: runChat,
}

func runChat(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := newAPIClient()
	profile := loadAskProfile()
	reader := NewInteractiveInputReader(chatHistorySize)

	ux.Title("Sehat")
	if ux.GetPersonality().Level != ux.PersonalityMachine {
		fmt.Println(ux.Styles.Muted.Render(
			"Ask a health question in English or Hindi. Type \"exit\" to leave."))
		fmt.Println(ux.Styles.Muted.Render(
			"Sehat shares health information, not a diagnosis."))
		fmt.Println()
	}

	session := sessionID
	for {
		if ctx.Err() != nil {
			return
		}

		question, err := readQuestion(reader)
		if err == io.EOF {
			return
		}
		if err != nil {
			ux.Error(fmt.Sprintf("reading input: %v", err))
			return
		}
		if question == "" {
			continue
		}
		if isExitCommand(question) {
			return
		}

		turnSession, err := streamAnswer(ctx, client, ux.AskRequest{
			Question:  question,
			SessionID: session,
			Language:  language,
			Profile:   profile,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ux.Error(err.Error())
			continue
		}
		if turnSession != "" {
			session = turnSession
		}
		fmt.Println()
	}
}

// readQuestion prints the prompt for plain readers; the interactive
// reader renders its own.
func readQuestion(reader InputReader) (string, error) {
	if _, interactive := reader.(*InteractiveInputReader); !interactive {
		fmt.Print("> ")
	}
	return reader.ReadLine()
}

func isExitCommand(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit", "bye":
		return true
	}
	return false
}

// streamAnswer runs one ask and renders the stream. Returns the
// session id from the done event so the caller can continue the
// conversation.
func streamAnswer(ctx context.Context, client *ux.Client, req ux.AskRequest) (string, error) {
	spinner := ux.NewSpinner("thinking")
	spinner.Start()

	firstEvent := true
	session := ""
	renderer := ux.NewRenderer(os.Stdout)

	err := client.AskStream(ctx, req, func(event ux.Event) error {
		if firstEvent {
			spinner.Stop()
			firstEvent = false
		}
		if event.Type == ux.EventDone && event.Metadata != nil {
			session = event.Metadata.SessionID
		}
		renderer.Render(event)
		return nil
	})
	if firstEvent {
		spinner.Stop()
	}
	return session, err
}
