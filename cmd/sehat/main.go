// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main is the sehat CLI, the terminal client for the Sehat
// health assistant service.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/SehatAI/SehatOSS/pkg/logging"
	"github.com/SehatAI/SehatOSS/pkg/ux"
)

var (
	serverURL        string
	personalityLevel string
	noVerify         bool
	language         string
	sessionID        string

	rootCmd = &cobra.Command{
		Use:   "sehat",
		Short: "Ask health questions against a Sehat service",
		Long: `Sehat is a terminal client for the Sehat health assistant.
It streams answers from a running orchestrator, verifies the
integrity of every stream, and keeps conversation sessions.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}
)

func main() {
	// Stderr stays clean for rendered output; diagnostics go to the
	// session log file.
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("SEHAT_LOG_LEVEL")),
		LogDir:  "~/.sehat/logs",
		Service: "cli",
		Quiet:   true,
	})
	slog.SetDefault(logger.Slog())

	err := rootCmd.Execute()
	if cerr := logger.Close(); cerr != nil {
		slog.Error("Failed to close logger", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// newAPIClient builds a service client from the global flags.
func newAPIClient() *ux.Client {
	client := ux.NewClient(serverURL)
	client.VerifyChain = !noVerify
	return client
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("SEHAT_SERVER_URL", "http://localhost:12210"),
		"Base URL of the orchestrator service")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine")
	rootCmd.PersistentFlags().BoolVar(&noVerify, "no-verify", false,
		"Skip stream integrity verification")

	askCmd.Flags().StringVar(&language, "language", "", "Answer language (en or hi)")
	askCmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	chatCmd.Flags().StringVar(&language, "language", "", "Answer language (en or hi)")
	chatCmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	retrieveCmd.Flags().StringVar(&language, "language", "", "Answer language (en or hi)")

	sessionCmd.AddCommand(listSessionsCmd, showSessionCmd, deleteSessionCmd)
	rootCmd.AddCommand(askCmd, chatCmd, retrieveCmd, sessionCmd, profileCmd, healthCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
