// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cpmech/flarepic/checkpoint"
	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/physics"
	"github.com/cpmech/flarepic/transport"
	"github.com/cpmech/flarepic/vectorpatch"
)

func newTestSim(t *testing.T) *inp.Simulation {
	t.Helper()
	sim := &inp.Simulation{
		Geometry:       inp.Geometry1D3V,
		CellLength:     [3]float64{1, 1, 1},
		NSpaceGlobal:   [3]int{8, 1, 1},
		NSpacePerPatch: [3]int{2, 1, 1},
		GhostCells:     1,
		Timestep:       1,
		NTime:          1,
		Species: []inp.SpeciesConfig{
			{Name: "e", Mass: 1, Charge: -1},
		},
	}
	if err := sim.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return sim
}

func newTestVP(t *testing.T, sim *inp.Simulation, grid *decomp.Grid, own *decomp.Ownership, comm *transport.Comm) *vectorpatch.VectorPatch {
	t.Helper()
	vp, err := vectorpatch.New(sim, grid, own, comm,
		physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	if err != nil {
		t.Fatalf("vectorpatch.New: %v", err)
	}
	return vp
}

// TestDumpThenFetchPatchesRoundTripsUnderDifferentPartition writes a checkpoint from a
// 1-rank owner of every patch, then reads it back as if restarted under a 2-rank
// partition where rank 1 owns global indices this process never wrote under that
// identity — exercising spec §4.8's "direct random access... patch_count[] may differ
// from the writer's".
func TestDumpThenFetchPatchesRoundTripsUnderDifferentPartition(t *testing.T) {
	dir := t.TempDir()
	sim := newTestSim(t)
	grid, err := vectorpatch.BuildGrid(sim)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	writerOwn, err := decomp.NewEqualOwnership(grid.NPatches(), 1)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	comm := transport.NewRing(1)[0]
	vp := newTestVP(t, sim, grid, writerOwn, comm)

	for i, p := range vp.Patches {
		p.Species[0].Add(particle.Particle{Pos: [3]float64{float64(i), 0, 0}, Weight: 1})
	}

	digest, err := sim.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	err = checkpoint.Dump(dir, 7, 3.5, 1, 0, digest, vp.Patches)
	assert.NoError(t, err)

	meta, err := checkpoint.ReadMeta(dir, 7)
	assert.NoError(t, err)
	assert.Equal(t, 7, meta.Step)
	assert.Equal(t, 3.5, meta.Time)
	assert.Equal(t, 1, meta.NMoved)
	assert.Equal(t, digest, meta.ParamsDigest)
	assert.Equal(t, grid.NPatches(), len(meta.Index))

	readerOwn, err := decomp.NewEqualOwnership(grid.NPatches(), 2)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	lo, hi := readerOwn.LocalRange(1)
	indices := make([]int, 0, hi-lo)
	for g := lo; g < hi; g++ {
		indices = append(indices, g)
	}
	snaps, err := checkpoint.FetchPatches(dir, 7, meta, indices)
	assert.NoError(t, err)
	assert.Equal(t, len(indices), len(snaps))
	for i, snap := range snaps {
		assert.Equal(t, indices[i], snap.GlobalIndex)
		assert.Equal(t, 1, len(snap.Species[0]))
		assert.Equal(t, float64(indices[i]), snap.Species[0][0].Pos[0])
	}
}

// TestDumpFromMultipleRanksMergesIntoOneIndex dumps two disjoint patch sets for the same
// step (as two ranks would, each covering only the patches it owns) and checks the
// resulting meta/blob covers every global index exactly once.
func TestDumpFromMultipleRanksMergesIntoOneIndex(t *testing.T) {
	dir := t.TempDir()
	sim := newTestSim(t)
	grid, err := vectorpatch.BuildGrid(sim)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	own, err := decomp.NewEqualOwnership(grid.NPatches(), 2)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	comms := transport.NewRing(2)

	vps := make([]*vectorpatch.VectorPatch, 2)
	for r := 0; r < 2; r++ {
		vps[r] = newTestVP(t, sim, grid, own, comms[r])
	}

	digest, err := sim.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	for r := 0; r < 2; r++ {
		err := checkpoint.Dump(dir, 1, 0, 0, 0, digest, vps[r].Patches)
		assert.NoError(t, err)
	}

	meta, err := checkpoint.ReadMeta(dir, 1)
	assert.NoError(t, err)
	assert.Equal(t, grid.NPatches(), len(meta.Index))

	all := make([]int, grid.NPatches())
	for g := range all {
		all[g] = g
	}
	snaps, err := checkpoint.FetchPatches(dir, 1, meta, all)
	assert.NoError(t, err)
	assert.Equal(t, grid.NPatches(), len(snaps))
}

func TestFetchPatchesUnknownIndexFails(t *testing.T) {
	dir := t.TempDir()
	sim := newTestSim(t)
	grid, err := vectorpatch.BuildGrid(sim)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	own, err := decomp.NewEqualOwnership(grid.NPatches(), 1)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	comm := transport.NewRing(1)[0]
	vp := newTestVP(t, sim, grid, own, comm)

	err = checkpoint.Dump(dir, 2, 0, 0, 0, "digest", vp.Patches)
	assert.NoError(t, err)
	meta, err := checkpoint.ReadMeta(dir, 2)
	assert.NoError(t, err)

	_, err = checkpoint.FetchPatches(dir, 2, meta, []int{grid.NPatches() + 5})
	assert.Error(t, err)
}

func TestReadMetaMissingStepFails(t *testing.T) {
	dir := t.TempDir()
	_, err := checkpoint.ReadMeta(dir, 99)
	assert.Error(t, err)
}
