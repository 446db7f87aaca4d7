// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package window_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/physics"
	"github.com/cpmech/flarepic/transport"
	"github.com/cpmech/flarepic/vectorpatch"
	"github.com/cpmech/flarepic/window"
)

func newTestVP(t *testing.T) *vectorpatch.VectorPatch {
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
	grid, err := vectorpatch.BuildGrid(sim)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	own, err := decomp.NewEqualOwnership(grid.NPatches(), 1)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	comm := transport.NewRing(1)[0]
	vp, err := vectorpatch.New(sim, grid, own, comm,
		physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	if err != nil {
		t.Fatalf("vectorpatch.New: %v", err)
	}
	return vp
}

func TestOperateNoOpBeforeTriggerOrWhenDisabled(t *testing.T) {
	vp := newTestVP(t)
	w := window.New(inp.MovingWindowConfig{Enabled: false, TStart: 0, EveryKSteps: 1})
	shifted, recycled, err := w.Operate(vp, 0, 0)
	assert.NoError(t, err)
	assert.False(t, shifted)
	assert.False(t, recycled)
	assert.Equal(t, 0, w.NMoved)

	w2 := window.New(inp.MovingWindowConfig{Enabled: true, TStart: 10, EveryKSteps: 1})
	shifted, recycled, err = w2.Operate(vp, 0, 0)
	assert.NoError(t, err)
	assert.False(t, shifted)
	assert.False(t, recycled)
}

func TestOperateRecyclesTrailingPatchAfterFullPatchWidthOfShifts(t *testing.T) {
	vp := newTestVP(t)
	var trailing *patchByIndex
	for _, p := range vp.Patches {
		if p.IsMin[0] {
			trailing = &patchByIndex{globalIndex: p.GlobalIndex}
		}
	}
	if trailing == nil {
		t.Fatal("expected exactly one trailing patch")
	}

	// seed the trailing patch's species so retirement has something to count
	for _, p := range vp.Patches {
		if p.GlobalIndex == trailing.globalIndex {
			p.Species[0].Add(particle.Particle{Pos: [3]float64{0.5, 0, 0}, Weight: 1})
			p.Species[0].Add(particle.Particle{Pos: [3]float64{1.5, 0, 0}, Weight: 1})
		}
	}

	w := window.New(inp.MovingWindowConfig{Enabled: true, TStart: 0, EveryKSteps: 1})

	// n_space_per_patch[0] == 2, so the first trigger only accumulates cells
	shifted, recycled, err := w.Operate(vp, 0, 0)
	assert.NoError(t, err)
	assert.True(t, shifted)
	assert.False(t, recycled)
	assert.Equal(t, int64(0), w.LostParticles)

	// the second trigger reaches the full patch width and recycles
	shifted, recycled, err = w.Operate(vp, 1, 0)
	assert.NoError(t, err)
	assert.True(t, shifted)
	assert.True(t, recycled)
	assert.Equal(t, int64(2), w.LostParticles)
	assert.Equal(t, 2, w.NMoved)

	for _, p := range vp.Patches {
		if p.GlobalIndex == trailing.globalIndex {
			assert.Equal(t, 0, p.Species[0].Len())
			assert.Equal(t, 8, p.Extent.Lo[0]) // shifted forward by n_space_global[0]=8
		}
	}
}

type patchByIndex struct {
	globalIndex int
}

// TestOperateAdvancesTrailingColumnAcrossMultipleRecycles drives two full recycle events
// on a 4-column grid and checks that the second one retires the *next* column rather than
// re-selecting the column fixed at construction time (IsMin/IsMax are mutated by Operate,
// not read as a static per-patch attribute).
func TestOperateAdvancesTrailingColumnAcrossMultipleRecycles(t *testing.T) {
	vp := newTestVP(t)
	col := func(globalIndex int) int { return vp.Grid.CoordOf(globalIndex)[0] }

	w := window.New(inp.MovingWindowConfig{Enabled: true, TStart: 0, EveryKSteps: 1})

	// n_space_per_patch[0] == 2: two triggers per recycle.
	for step := 0; step < 2; step++ {
		_, recycled, err := w.Operate(vp, step, 0)
		assert.NoError(t, err)
		if step == 1 {
			assert.True(t, recycled)
		}
	}
	for _, p := range vp.Patches {
		switch col(p.GlobalIndex) {
		case 0:
			assert.False(t, p.IsMin[0])
			assert.True(t, p.IsMax[0])
			assert.Equal(t, 8, p.Extent.Lo[0]) // shifted forward by n_space_global[0]=8
		case 1:
			assert.True(t, p.IsMin[0])
			assert.False(t, p.IsMax[0])
		case 3:
			assert.False(t, p.IsMax[0]) // lost the leading-edge role to column 0
		}
	}

	for step := 2; step < 4; step++ {
		_, recycled, err := w.Operate(vp, step, 0)
		assert.NoError(t, err)
		if step == 3 {
			assert.True(t, recycled)
		}
	}

	// the second recycle must retire column 1, not column 0 again.
	for _, p := range vp.Patches {
		switch col(p.GlobalIndex) {
		case 0:
			assert.False(t, p.IsMin[0])
			assert.False(t, p.IsMax[0]) // lost the leading-edge role to column 1
			assert.Equal(t, 8, p.Extent.Lo[0])
		case 1:
			assert.False(t, p.IsMin[0])
			assert.True(t, p.IsMax[0])
			assert.Equal(t, 10, p.Extent.Lo[0]) // column 1 started at Lo=2, shifted forward by 8
		case 2:
			assert.True(t, p.IsMin[0])
			assert.False(t, p.IsMax[0])
		}
	}
}
