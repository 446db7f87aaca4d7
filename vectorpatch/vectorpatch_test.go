// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vectorpatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/pbc"
	"github.com/cpmech/flarepic/physics"
	"github.com/cpmech/flarepic/transport"
	"github.com/cpmech/flarepic/vectorpatch"
)

func buildTestSim() *inp.Simulation {
	return &inp.Simulation{
		Geometry:       inp.Geometry1D3V,
		CellLength:     [3]float64{1, 1, 1},
		NSpaceGlobal:   [3]int{8, 1, 1},
		NSpacePerPatch: [3]int{4, 1, 1},
		GhostCells:     1,
		Timestep:       0.1,
		NDimField:      1,
		NDimParticle:   1,
	}
}

func buildSingleRankVectorPatch(t *testing.T, sim *inp.Simulation) *vectorpatch.VectorPatch {
	t.Helper()
	grid, err := vectorpatch.BuildGrid(sim)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	own, err := decomp.NewEqualOwnership(grid.NPatches(), 1)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	comms := transport.NewRing(1)
	vp, err := vectorpatch.New(sim, grid, own, comms[0], physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	if err != nil {
		t.Fatalf("vectorpatch.New: %v", err)
	}
	return vp
}

func TestNewBuildsContiguousPatchesForSingleRank(t *testing.T) {
	vp := buildSingleRankVectorPatch(t, buildTestSim())
	assert.Len(t, vp.Patches, 2)
	assert.Equal(t, 0, vp.Patches[0].GlobalIndex)
	assert.Equal(t, 1, vp.Patches[1].GlobalIndex)
	assert.True(t, vp.Patches[0].IsMin[0])
	assert.False(t, vp.Patches[0].IsMax[0])
	assert.False(t, vp.Patches[1].IsMin[0])
	assert.True(t, vp.Patches[1].IsMax[0])
}

func TestSumDensitiesExchangesAdditiveGhostsBetweenLocalNeighbors(t *testing.T) {
	vp := buildSingleRankVectorPatch(t, buildTestSim())
	p0, p1 := vp.Patches[0], vp.Patches[1]

	lo, hi := p0.SendBandRange(0, pbc.Max)
	for i := lo; i < hi; i++ {
		p0.J.Add(i, 0, 0, physics.EMField{2, 0, 0})
	}

	if err := vp.SumDensities(); err != nil {
		t.Fatalf("SumDensities: %v", err)
	}

	glo, ghi := p1.GhostBandRange(0, pbc.Min)
	for i := glo; i < ghi; i++ {
		v := p1.J.At(i, 0, 0)
		assert.Equal(t, 2.0, v[0])
	}
	// the sender's own band is untouched by an additive exchange into the neighbor
	for i := lo; i < hi; i++ {
		v := p0.J.At(i, 0, 0)
		assert.Equal(t, 2.0, v[0])
	}
}

func TestFinalizeSyncAndBCFieldsOverwritesGhostsBetweenLocalNeighbors(t *testing.T) {
	vp := buildSingleRankVectorPatch(t, buildTestSim())
	p0, p1 := vp.Patches[0], vp.Patches[1]

	glo, ghi := p1.GhostBandRange(0, pbc.Min)
	for i := glo; i < ghi; i++ {
		p1.E.Set(i, 0, 0, physics.EMField{9, 9, 9})
	}

	lo, hi := p0.SendBandRange(0, pbc.Max)
	for i := lo; i < hi; i++ {
		p0.E.Set(i, 0, 0, physics.EMField{5, 0, 0})
	}

	if err := vp.FinalizeSyncAndBCFields(); err != nil {
		t.Fatalf("FinalizeSyncAndBCFields: %v", err)
	}

	for i := glo; i < ghi; i++ {
		v := p1.E.At(i, 0, 0)
		assert.Equal(t, physics.EMField{5, 0, 0}, v)
	}
}

func TestFinalizeAndSortPartsExchangesInteriorCrossingParticle(t *testing.T) {
	sim := buildTestSim()
	sim.Species = []inp.SpeciesConfig{{Name: "e", Mass: 1, Charge: -1}}
	vp := buildSingleRankVectorPatch(t, sim)
	p0, p1 := vp.Patches[0], vp.Patches[1]

	p0.Species[0].Add(particle.Particle{Pos: [3]float64{3.95, 0, 0}, Mom: [3]float64{50, 0, 0}, Weight: 1})

	if err := p0.Push(0, 0.1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := vp.FinalizeAndSortParts(); err != nil {
		t.Fatalf("FinalizeAndSortParts: %v", err)
	}

	assert.Len(t, p0.Species[0].Parts, 0)
	assert.Len(t, p1.Species[0].Parts, 1)
}

func TestApplyAntennasDrivesFieldOnlyAtItsGlobalBoundaryFace(t *testing.T) {
	vp := buildSingleRankVectorPatch(t, buildTestSim())
	vp.Antennas = []vectorpatch.Antenna{
		{Axis: 0, Side: pbc.Min, Component: 1, OnE: true, Profile: physics.ConstantDrive{Amplitude: 3}},
	}
	vp.ApplyAntennas(0)

	p0, p1 := vp.Patches[0], vp.Patches[1]
	lo, hi := p0.SendBandRange(0, pbc.Min)
	for i := lo; i < hi; i++ {
		v := p0.E.At(i, 0, 0)
		assert.Equal(t, 3.0, v[1])
	}
	v := p1.E.At(0, 0, 0)
	assert.Equal(t, 0.0, v[1])
}

func TestApplyExternalFieldsAddsUniformlyAcrossEveryPatch(t *testing.T) {
	vp := buildSingleRankVectorPatch(t, buildTestSim())
	vp.ExternalFields = []vectorpatch.ExternalField{
		{Component: 2, OnE: false, Profile: physics.ConstantDrive{Amplitude: 7}},
	}
	vp.ApplyExternalFields(0)
	for _, p := range vp.Patches {
		v := p.B.At(0, 0, 0)
		assert.Equal(t, 7.0, v[2])
	}
}

func TestSolvePoissonNoOpWhenRhoIsZero(t *testing.T) {
	sim := buildTestSim()
	sim.SolvePoisson = true
	sim.PoissonTol = 1e-9
	vp := buildSingleRankVectorPatch(t, sim)

	if err := vp.SolvePoisson(); err != nil {
		t.Fatalf("SolvePoisson: %v", err)
	}
	for _, p := range vp.Patches {
		v := p.E.At(1, 0, 0)
		assert.Equal(t, physics.EMField{}, v)
	}
}

func TestSolvePoissonSkippedWhenDisabled(t *testing.T) {
	sim := buildTestSim()
	sim.SolvePoisson = false
	vp := buildSingleRankVectorPatch(t, sim)
	p := vp.Patches[0]
	p.Rho.Set(1, 0, 0, 5)

	if err := vp.SolvePoisson(); err != nil {
		t.Fatalf("SolvePoisson: %v", err)
	}
	v := p.E.At(1, 0, 0)
	assert.Equal(t, physics.EMField{}, v)
}

func TestRunAllDiagsCountsLocalParticles(t *testing.T) {
	sim := buildTestSim()
	sim.Species = []inp.SpeciesConfig{{Name: "e", Mass: 1, Charge: -1}}
	vp := buildSingleRankVectorPatch(t, sim)
	vp.Patches[0].Species[0].Add(particle.Particle{Pos: [3]float64{0.5, 0, 0}, Mom: [3]float64{1, 0, 0}, Weight: 1})
	vp.Patches[1].Species[0].Add(particle.Particle{Pos: [3]float64{4.5, 0, 0}, Mom: [3]float64{0, 0, 0}, Weight: 1})

	snap := vp.RunAllDiags(3)
	assert.Equal(t, 3, snap.Step)
	assert.Equal(t, 2, snap.LocalParticles)
}

func TestMigrateOutAndMigrateInRoundTrip(t *testing.T) {
	vp := buildSingleRankVectorPatch(t, buildTestSim())
	snap, err := vp.MigrateOut(1)
	if err != nil {
		t.Fatalf("MigrateOut: %v", err)
	}
	assert.Len(t, vp.Patches, 1)

	if err := vp.MigrateIn(snap); err != nil {
		t.Fatalf("MigrateIn: %v", err)
	}
	assert.Len(t, vp.Patches, 2)
	assert.Equal(t, 0, vp.Patches[0].GlobalIndex)
	assert.Equal(t, 1, vp.Patches[1].GlobalIndex)
}
