// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackDataset_EmbeddedLoad(t *testing.T) {
	d := NewFallbackDataset()
	t.Cleanup(func() { _ = d.Close() })

	facts, err := d.ConditionsForSymptom("fever")
	require.NoError(t, err)
	require.NotEmpty(t, facts)
	for _, f := range facts {
		assert.Equal(t, FactSymptomCondition, f.Category)
		assert.Equal(t, "fever", f.Subject)
		assert.NotEmpty(t, f.Detail)
		assert.Greater(t, f.Confidence, 0.0)
	}
}

func TestFallbackDataset_BilingualSubjects(t *testing.T) {
	d := NewFallbackDataset()
	t.Cleanup(func() { _ = d.Close() })

	hindi, err := d.ConditionsForSymptom("bukhar")
	require.NoError(t, err)
	assert.NotEmpty(t, hindi)
}

func TestFallbackDataset_SubjectNormalization(t *testing.T) {
	d := NewFallbackDataset()
	t.Cleanup(func() { _ = d.Close() })

	upper, err := d.ConditionsForSymptom("  FEVER ")
	require.NoError(t, err)
	lower, err := d.ConditionsForSymptom("fever")
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestFallbackDataset_UnknownSubjectsEmpty(t *testing.T) {
	d := NewFallbackDataset()
	t.Cleanup(func() { _ = d.Close() })

	facts, err := d.ConditionsForSymptom("no such symptom")
	require.NoError(t, err)
	assert.Empty(t, facts)

	contra, err := d.ContraindicationsFor("no such condition")
	require.NoError(t, err)
	assert.Empty(t, contra)

	providers, err := d.ProvidersIn("atlantis")
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestFallbackDataset_Contraindications(t *testing.T) {
	d := NewFallbackDataset()
	t.Cleanup(func() { _ = d.Close() })

	facts, err := d.ContraindicationsFor("Diabetes")
	require.NoError(t, err)
	require.NotEmpty(t, facts)
	assert.Equal(t, FactContraindication, facts[0].Category)
}

func TestFallbackDataset_BadParseKeepsTable(t *testing.T) {
	d := NewFallbackDataset()
	t.Cleanup(func() { _ = d.Close() })

	_, err := d.ConditionsForSymptom("fever")
	require.NoError(t, err)
	before := d.table.Load()

	assert.Error(t, d.loadBytes([]byte("{{not yaml"), "test"))
	assert.Same(t, before, d.table.Load())
}
