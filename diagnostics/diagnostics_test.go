// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diagnostics_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cpmech/flarepic/diagnostics"
	"github.com/cpmech/flarepic/transport"
	"github.com/cpmech/flarepic/vectorpatch"
)

func TestNilRecorderStillReducesButDoesNotWrite(t *testing.T) {
	comm := transport.NewFromEnvironment()
	var r *diagnostics.Recorder
	rec, err := r.Record(vectorpatch.DiagSnapshot{Step: 3, LocalEnergy: 5, LocalParticles: 2}, 1.5, comm)
	assert.NoError(t, err)
	assert.Equal(t, 3, rec.Step)
	assert.Equal(t, 5.0, rec.TotalEnergy)
	assert.Equal(t, 2, rec.TotalParticles)
}

func TestRecorderWritesCSVWithDriftAndHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	r, err := diagnostics.NewRecorder(dir)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	comm := transport.NewFromEnvironment()

	_, err = r.Record(vectorpatch.DiagSnapshot{Step: 0, LocalEnergy: 100}, 0, comm)
	assert.NoError(t, err)
	rec2, err := r.Record(vectorpatch.DiagSnapshot{Step: 1, LocalEnergy: 101}, 1, comm)
	assert.NoError(t, err)
	assert.InDelta(t, 0.01, rec2.EnergyDrift, 1e-9)

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "diagnostics.csv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(b)
	assert.Contains(t, content, "total_energy")
	// exactly one header line followed by two data rows
	lines := 0
	for _, c := range content {
		if c == '\n' {
			lines++
		}
	}
	assert.Equal(t, 3, lines)
}

func TestNewRecorderWithEmptyDirDisablesOutput(t *testing.T) {
	r, err := diagnostics.NewRecorder("")
	assert.NoError(t, err)
	assert.Nil(t, r)
}
