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
	"strings"

	"github.com/spf13/cobra"

	"github.com/SehatAI/SehatOSS/pkg/ux"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [question]",
	Short: "Inspect retrieval for a question without generating an answer",
	Long: `Retrieve runs the routing and retrieval stages only and prints the
evidence bundle: which lanes the question routed to, the rewritten
query, and the passages and facts each lane returned.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRetrieve,
}

func runRetrieve(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	client := newAPIClient()

	spinner := ux.NewSpinner("retrieving")
	spinner.Start()
	result, err := client.Retrieve(context.Background(), ux.AskRequest{
		Question: question,
		Language: language,
	})
	spinner.Stop()
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if machine {
		fmt.Printf("ROUTE: graph=%t vector=%t\n", result.Route.UseGraph, result.Route.UseVector)
		fmt.Printf("QUERY: %s\n", result.RewrittenQuery)
		for _, p := range result.Bundle.Passages {
			fmt.Printf("PASSAGE[%.2f] %s: %s\n", p.Score, p.Source, p.Text)
		}
		for _, f := range result.Bundle.Facts {
			fmt.Printf("FACT[%s] %s: %s\n", f.Category, f.Subject, f.Detail)
		}
		if result.Bundle.Degraded {
			fmt.Println("DEGRADED: true")
		}
		return
	}

	lanes := make([]string, 0, 2)
	if result.Route.UseVector {
		lanes = append(lanes, "vector")
	}
	if result.Route.UseGraph {
		lanes = append(lanes, "graph")
	}
	fmt.Println(ux.Styles.Bold.Render("Route: ") + strings.Join(lanes, " + "))
	fmt.Println(ux.Styles.Bold.Render("Query: ") + result.RewrittenQuery)

	if len(result.Bundle.Passages) > 0 {
		fmt.Println()
		fmt.Println(ux.Styles.Muted.Render("Passages:"))
		for _, p := range result.Bundle.Passages {
			fmt.Printf("  %s [%.2f] %s (%s)\n", ux.IconBullet, p.Score, p.Source, p.Topic)
			fmt.Println(ux.Styles.Muted.Render("    " + truncate(p.Text, 160)))
		}
	}
	if len(result.Bundle.Facts) > 0 {
		fmt.Println()
		fmt.Println(ux.Styles.Muted.Render("Facts:"))
		for _, f := range result.Bundle.Facts {
			fmt.Printf("  %s %s / %s: %s\n", ux.IconBullet, f.Category, f.Subject, f.Detail)
		}
	}
	if result.Bundle.Degraded {
		ux.Warning("one or more retrieval lanes failed; bundle is partial")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
