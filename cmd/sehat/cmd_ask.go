// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SehatAI/SehatOSS/pkg/ux"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single health question",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAsk,
}

func runAsk(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	question := strings.Join(args, " ")
	client := newAPIClient()

	_, err := streamAnswer(ctx, client, ux.AskRequest{
		Question:  question,
		SessionID: sessionID,
		Language:  language,
		Profile:   loadAskProfile(),
	})
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
