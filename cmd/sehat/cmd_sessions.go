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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/SehatAI/SehatOSS/pkg/ux"
)

var (
	sessionLimit int

	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}

	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored conversation sessions",
		Run:   runListSessions,
	}

	showSessionCmd = &cobra.Command{
		Use:   "show [session_id]",
		Short: "Show the turns of a session",
		Args:  cobra.ExactArgs(1),
		Run:   runShowSession,
	}

	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session and all its turns",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSession,
	}
)

func init() {
	listSessionsCmd.Flags().IntVar(&sessionLimit, "limit", 0, "Maximum sessions to list")
}

func runListSessions(cmd *cobra.Command, args []string) {
	sessions, err := newAPIClient().ListSessions(context.Background(), sessionLimit)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	for _, s := range sessions {
		if machine {
			fmt.Printf("SESSION: %s\t%s\t%s\n", s.SessionID, s.Language, s.Summary)
			continue
		}
		fmt.Printf("%s %s  %s\n", ux.IconBullet,
			ux.Styles.Highlight.Render(s.SessionID),
			ux.Styles.Muted.Render(formatMillis(s.LastActivityAt)))
		if s.Summary != "" {
			fmt.Println("    " + s.Summary)
		}
	}
}

func runShowSession(cmd *cobra.Command, args []string) {
	turns, err := newAPIClient().ListTurns(context.Background(), args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	for _, t := range turns {
		if machine {
			fmt.Printf("Q: %s\nA: %s\n", t.Question, t.Answer)
			continue
		}
		fmt.Println(ux.Styles.Bold.Render("You: ") + t.Question)
		fmt.Println(ux.Styles.Highlight.Render("Sehat: ") + t.Answer)
		if len(t.SafetyCategories) > 0 {
			ux.Warning(fmt.Sprintf("safety flags: %v", t.SafetyCategories))
		}
		fmt.Println()
	}
}

func runDeleteSession(cmd *cobra.Command, args []string) {
	if err := newAPIClient().DeleteSession(context.Background(), args[0]); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	ux.Success("session deleted: " + args[0])
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}
