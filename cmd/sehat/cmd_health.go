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
	"sort"

	"github.com/spf13/cobra"

	"github.com/SehatAI/SehatOSS/pkg/ux"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the Sehat service is ready",
	Run:   runHealth,
}

func runHealth(cmd *cobra.Command, args []string) {
	status, err := newAPIClient().Health(context.Background())
	if err != nil {
		ux.Error(fmt.Sprintf("service unreachable at %s: %v", serverURL, err))
		os.Exit(1)
	}

	names := make([]string, 0, len(status.Checks))
	for name := range status.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	for _, name := range names {
		if status.Checks[name] {
			if machine {
				fmt.Printf("CHECK: %s ok\n", name)
			} else {
				fmt.Printf("%s %s\n", ux.Styles.Success.Render(string(ux.IconSuccess)), name)
			}
			continue
		}
		if machine {
			fmt.Printf("CHECK: %s failed\n", name)
		} else {
			fmt.Printf("%s %s\n", ux.Styles.Error.Render(string(ux.IconError)), name)
		}
	}

	if !status.Ready {
		ux.Warning("service is not ready")
		os.Exit(1)
	}
	ux.Success("service is ready")
}
