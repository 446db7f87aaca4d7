// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"testing"

	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/pbc"
	"github.com/cpmech/flarepic/physics"
	"github.com/stretchr/testify/assert"
)

func newTestPatch(t *testing.T) *Patch {
	species := []particle.Species{{Name: "electron", Mass: 1, Charge: -1}}
	ext := Extent{Lo: [3]int{0, 0, 0}, Hi: [3]int{3, 0, 0}}
	p, err := New(0, 1, 1, 1, ext, [3]float64{0.1, 1, 1}, [3]bool{true, true, true}, [3]bool{true, true, true},
		species, physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	assert.NoError(t, err)
	return p
}

func TestNewRejectsBadDims(t *testing.T) {
	_, err := New(0, 4, 4, 1, Extent{}, [3]float64{}, [3]bool{}, [3]bool{}, nil,
		physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	assert.Error(t, err)
}

func TestPushStationaryParticleStaysStationary(t *testing.T) {
	p := newTestPatch(t)
	p.Species[0].Add(particle.Particle{Pos: [3]float64{0.2, 0, 0}, Weight: 1})
	err := p.Push(0, 0.01)
	assert.NoError(t, err)
	got := p.Species[0].Parts[0].Pos
	assert.InDelta(t, 0.2, got[0], 1e-12)
}

func TestExitedFaceFlagsLeavingParticle(t *testing.T) {
	p := newTestPatch(t)
	p.Species[0].Add(particle.Particle{Pos: [3]float64{0.05, 0, 0}, Mom: [3]float64{-10, 0, 0}, Weight: 1})
	err := p.Push(0, 1.0)
	assert.NoError(t, err)
	leaving := p.LeavingParticles()
	if assert.Len(t, leaving, 1) {
		assert.Equal(t, 0, leaving[0].face.Axis)
	}
}

func TestReflectiveBoundaryMirrorsMomentum(t *testing.T) {
	p := newTestPatch(t)
	d := p.Dispatchers[0]
	d.Set(0, pbc.Min, pbc.Reflective)
	part := particle.Particle{Pos: [3]float64{-0.01, 0, 0}, Mom: [3]float64{-5, 0, 0}, Weight: 1, Mass: 1, Charge: -1}
	p.Species[0].Parts = append(p.Species[0].Parts, part)
	outcome := p.ApplyBoundary(0, 0, Face{Axis: 0})
	got := p.Species[0].Parts[0]
	assert.Equal(t, 5.0, got.Mom[0])
	assert.InDelta(t, 0.01, got.Pos[0], 1e-12)
	_ = outcome
}

func TestSnapshotRoundTrip(t *testing.T) {
	p := newTestPatch(t)
	p.Species[0].Add(particle.Particle{Pos: [3]float64{0.25, 0, 0}, Mom: [3]float64{1, 0, 0}, Weight: 2})
	p.E.Set(1, 0, 0, physics.EMField{1, 2, 3})
	snap := p.Snapshot()

	species := []particle.Species{{Name: "electron", Mass: 1, Charge: -1}}
	restored, err := FromSnapshot(snap, species, physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	assert.NoError(t, err)
	assert.Equal(t, p.GlobalIndex, restored.GlobalIndex)
	assert.Equal(t, 1, restored.Species[0].Len())
	assert.Equal(t, physics.EMField{1, 2, 3}, restored.E.At(1, 0, 0))
}

func TestComputeChargeConservesTotalCharge(t *testing.T) {
	p := newTestPatch(t)
	p.Species[0].Add(particle.Particle{Pos: [3]float64{0.15, 0, 0}, Weight: 3})
	p.ComputeCharge()
	total := p.Rho.SumInterior(p.Ghost)
	expected := 3.0 * -1.0 // weight * charge
	assert.InDelta(t, expected, total, 1e-9)
}

