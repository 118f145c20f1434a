// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed fallback_data.yaml
var embeddedFallbackData []byte

// =============================================================================
// Dataset File Format
// =============================================================================

type fallbackFile struct {
	SymptomConditions []struct {
		Symptom    string `yaml:"symptom"`
		Conditions []struct {
			Name       string  `yaml:"name"`
			Confidence float64 `yaml:"confidence"`
		} `yaml:"conditions"`
	} `yaml:"symptom_conditions"`

	Contraindications []struct {
		Condition string `yaml:"condition"`
		Items     []struct {
			Detail     string  `yaml:"detail"`
			Confidence float64 `yaml:"confidence"`
		} `yaml:"items"`
	} `yaml:"contraindications"`

	Providers []struct {
		City  string `yaml:"city"`
		Items []struct {
			Detail     string  `yaml:"detail"`
			Confidence float64 `yaml:"confidence"`
		} `yaml:"items"`
	} `yaml:"providers"`
}

// fallbackTable is the immutable in-memory index built from one parse.
// Replaced wholesale on reload; readers never see a partial table.
type fallbackTable struct {
	symptomConditions map[string][]Fact
	contraindications map[string][]Fact
	providers         map[string][]Fact
}

// =============================================================================
// FallbackDataset
// =============================================================================

// FallbackDataset serves graph facts from an embedded YAML dataset
// when the live graph backend is unavailable.
//
// # Description
//
// The dataset embeds in the binary and loads lazily on first use. When
// SEHAT_FALLBACK_DATASET points at a file, that file overrides the
// embedded copy and is hot-reloaded on change; a reload that fails to
// parse keeps the previous table.
//
// # Thread Safety
//
// Safe for concurrent use. Lookups read an atomically swapped
// immutable table.
type FallbackDataset struct {
	initOnce sync.Once
	initErr  error
	table    atomic.Pointer[fallbackTable]
	watcher  *fsnotify.Watcher
}

// NewFallbackDataset creates an unloaded dataset. Loading happens on
// first lookup.
func NewFallbackDataset() *FallbackDataset {
	return &FallbackDataset{}
}

// ensureLoaded performs the lazy first load: override file when
// configured, embedded copy otherwise. Starts the file watcher for
// override files.
func (d *FallbackDataset) ensureLoaded() error {
	d.initOnce.Do(func() {
		path := os.Getenv("SEHAT_FALLBACK_DATASET")
		if path == "" {
			d.initErr = d.loadBytes(embeddedFallbackData, "embedded")
			return
		}

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Could not read fallback dataset override, using embedded copy",
				"path", path, "error", err)
			d.initErr = d.loadBytes(embeddedFallbackData, "embedded")
			return
		}
		if err := d.loadBytes(data, path); err != nil {
			slog.Warn("Fallback dataset override failed to parse, using embedded copy",
				"path", path, "error", err)
			d.initErr = d.loadBytes(embeddedFallbackData, "embedded")
			return
		}
		d.startWatcher(path)
	})
	return d.initErr
}

// loadBytes parses and atomically installs a new table.
func (d *FallbackDataset) loadBytes(data []byte, origin string) error {
	var file fallbackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse fallback dataset: %w", err)
	}

	table := &fallbackTable{
		symptomConditions: make(map[string][]Fact),
		contraindications: make(map[string][]Fact),
		providers:         make(map[string][]Fact),
	}

	for _, entry := range file.SymptomConditions {
		key := normalizeSubject(entry.Symptom)
		if key == "" {
			continue
		}
		for _, c := range entry.Conditions {
			table.symptomConditions[key] = append(table.symptomConditions[key], Fact{
				Category:   FactSymptomCondition,
				Subject:    key,
				Detail:     c.Name,
				Confidence: c.Confidence,
			})
		}
	}
	for _, entry := range file.Contraindications {
		key := normalizeSubject(entry.Condition)
		if key == "" {
			continue
		}
		for _, item := range entry.Items {
			table.contraindications[key] = append(table.contraindications[key], Fact{
				Category:   FactContraindication,
				Subject:    key,
				Detail:     item.Detail,
				Confidence: item.Confidence,
			})
		}
	}
	for _, entry := range file.Providers {
		key := normalizeSubject(entry.City)
		if key == "" {
			continue
		}
		for _, item := range entry.Items {
			table.providers[key] = append(table.providers[key], Fact{
				Category:   FactProvider,
				Subject:    key,
				Detail:     item.Detail,
				Confidence: item.Confidence,
			})
		}
	}

	d.table.Store(table)
	slog.Info("Fallback knowledge dataset loaded",
		"origin", origin,
		"symptoms", len(table.symptomConditions),
		"conditions", len(table.contraindications),
		"cities", len(table.providers),
	)
	return nil
}

// startWatcher hot-reloads the override file on change. Reload
// failures keep the current table.
func (d *FallbackDataset) startWatcher(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Could not create fallback dataset watcher", "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		slog.Warn("Could not watch fallback dataset", "path", path, "error", err)
		if cerr := watcher.Close(); cerr != nil {
			slog.Debug("failed to close watcher", "error", cerr)
		}
		return
	}
	d.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					slog.Warn("Fallback dataset reload read failed, keeping current table",
						"path", path, "error", err)
					continue
				}
				if err := d.loadBytes(data, path); err != nil {
					slog.Warn("Fallback dataset reload parse failed, keeping current table",
						"path", path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Fallback dataset watcher error", "error", err)
			}
		}
	}()
	slog.Info("Watching fallback dataset for changes", "path", path)
}

// Close stops the file watcher, if one was started.
func (d *FallbackDataset) Close() error {
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}

// ConditionsForSymptom returns condition facts for a symptom, or an
// empty slice when the symptom is unknown.
func (d *FallbackDataset) ConditionsForSymptom(symptom string) ([]Fact, error) {
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}
	return d.table.Load().symptomConditions[normalizeSubject(symptom)], nil
}

// ContraindicationsFor returns contraindication facts for a condition.
// Unknown conditions yield an empty, well-formed result.
func (d *FallbackDataset) ContraindicationsFor(condition string) ([]Fact, error) {
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}
	return d.table.Load().contraindications[normalizeSubject(condition)], nil
}

// ProvidersIn returns provider facts for a city.
func (d *FallbackDataset) ProvidersIn(city string) ([]Fact, error) {
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}
	return d.table.Load().providers[normalizeSubject(city)], nil
}

// normalizeSubject lowercases and collapses whitespace, matching the
// dataset's key policy.
func normalizeSubject(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
