// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SehatAI/SehatOSS/pkg/ux"
)

// localProfile is the on-disk health profile attached to every ask.
// It never leaves the machine except inside ask requests.
type localProfile struct {
	Language   string   `yaml:"language,omitempty"`
	City       string   `yaml:"city,omitempty"`
	Conditions []string `yaml:"conditions,omitempty"`
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Edit the local health profile attached to questions",
	Long: `Profile stores a few optional health facts (chronic conditions,
city, preferred language) in ` + "`~/.sehat/profile.yaml`" + `. The chat and
ask commands attach them to every question so answers account for
them. The file stays on this machine.`,
	Run: runProfile,
}

func runProfile(cmd *cobra.Command, args []string) {
	path, err := profilePath()
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	profile, _ := readProfileFile(path)
	conditions := strings.Join(profile.Conditions, ", ")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Preferred answer language").
				Options(
					huh.NewOption("English", "en"),
					huh.NewOption("Hindi (romanized)", "hi"),
					huh.NewOption("Match my question", ""),
				).
				Value(&profile.Language),
			huh.NewInput().
				Title("City").
				Description("Used for guidance that depends on where you are.").
				Placeholder("e.g. Pune").
				Value(&profile.City),
			huh.NewInput().
				Title("Ongoing conditions").
				Description("Comma separated, e.g. diabetes, asthma. Leave empty for none.").
				Value(&conditions),
		),
	)

	if err := form.Run(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	profile.Conditions = splitConditions(conditions)
	if err := writeProfileFile(path, profile); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	ux.Success("profile saved to " + path)
}

// loadAskProfile reads the stored profile for attaching to requests.
// A missing or unreadable file means no profile; also applies the
// stored language when no --language flag was given.
func loadAskProfile() *ux.Profile {
	path, err := profilePath()
	if err != nil {
		return nil
	}
	profile, err := readProfileFile(path)
	if err != nil {
		return nil
	}

	if language == "" {
		language = profile.Language
	}
	if profile.City == "" && len(profile.Conditions) == 0 {
		return nil
	}
	return &ux.Profile{
		Conditions: profile.Conditions,
		City:       profile.City,
	}
}

func profilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".sehat", "profile.yaml"), nil
}

func readProfileFile(path string) (localProfile, error) {
	var profile localProfile
	data, err := os.ReadFile(path)
	if err != nil {
		return profile, err
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return localProfile{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return profile, nil
}

func writeProfileFile(path string, profile localProfile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}
	data, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

func splitConditions(raw string) []string {
	parts := strings.Split(raw, ",")
	conditions := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			conditions = append(conditions, trimmed)
		}
	}
	return conditions
}
