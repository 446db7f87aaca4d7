// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mirror_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/mirror"
	"github.com/cpmech/flarepic/patch"
	"github.com/cpmech/flarepic/physics"
)

func buildPatch(t *testing.T, globalIndex int, lo, hi int, isMin, isMax bool) *patch.Patch {
	t.Helper()
	ext := patch.Extent{Lo: [3]int{lo, 0, 0}, Hi: [3]int{hi, 0, 0}}
	p, err := patch.New(globalIndex, 1, 1, 1, ext, [3]float64{1, 1, 1},
		[3]bool{isMin, true, true}, [3]bool{isMax, true, true}, nil,
		physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	if err != nil {
		t.Fatalf("patch.New: %v", err)
	}
	return p
}

func TestBuildGatherScatterRoundTripsFieldValues(t *testing.T) {
	p0 := buildPatch(t, 0, 0, 3, true, false)
	p1 := buildPatch(t, 1, 4, 7, false, true)

	for i := 1; i <= 4; i++ { // interior cells of p0 (ghost=1, 4 owned cells => local 1..4)
		p0.E.Set(i, 0, 0, physics.EMField{float64(i), 0, 0})
	}
	for i := 1; i <= 4; i++ {
		p1.E.Set(i, 0, 0, physics.EMField{float64(i) + 10, 0, 0})
	}

	dom, err := mirror.Build(1, [3]float64{1, 1, 1}, []*patch.Patch{p0, p1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assert.Equal(t, [3]int{8, 1, 1}, dom.Dims())

	dom.Gather([]*patch.Patch{p0, p1})
	assert.Equal(t, 1.0, dom.EAt(0, 0, 0)[0])
	assert.Equal(t, 4.0, dom.EAt(3, 0, 0)[0])
	assert.Equal(t, 11.0, dom.EAt(4, 0, 0)[0])
	assert.Equal(t, 14.0, dom.EAt(7, 0, 0)[0])

	// mutate the domain the way a FieldSolver would, then scatter back
	for i := 0; i < 8; i++ {
		dom.SetE(i, 0, 0, physics.EMField{100 + float64(i), 0, 0})
	}
	dom.Scatter([]*patch.Patch{p0, p1})
	assert.Equal(t, 100.0, p0.E.At(1, 0, 0)[0])
	assert.Equal(t, 107.0, p1.E.At(4, 0, 0)[0])
}

func TestBuildRejectsNonRectangularPatchSet(t *testing.T) {
	p0 := buildPatch(t, 0, 0, 3, true, false)
	p2 := buildPatch(t, 2, 8, 11, false, true) // gap between [0,3] and [8,11]

	_, err := mirror.Build(1, [3]float64{1, 1, 1}, []*patch.Patch{p0, p2})
	assert.Error(t, err)
}

func TestReconcileOwnershipFindsMissingPatchAcrossTileBoundary(t *testing.T) {
	grid, err := decomp.NewGrid(1, [3]int{4, 1, 1})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	own := &decomp.Ownership{Offset: []int{0, 3}, PatchCount: []int{3, 1}}

	_, missing, peerOf := mirror.ReconcileOwnership(grid, own, [3]int{2, 1, 1}, 1, 1)
	if assert.Len(t, missing, 1) {
		assert.Equal(t, 0, peerOf[missing[0]])
	}

	additional, _, _ := mirror.ReconcileOwnership(grid, own, [3]int{2, 1, 1}, 1, 0)
	assert.Len(t, additional, 1)
}

func TestReconcileOwnershipEmptyWhenAlreadyTileAligned(t *testing.T) {
	grid, err := decomp.NewGrid(1, [3]int{4, 1, 1})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	own, err := decomp.NewEqualOwnership(4, 2)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}

	for rank := 0; rank < 2; rank++ {
		additional, missing, _ := mirror.ReconcileOwnership(grid, own, [3]int{2, 1, 1}, 1, rank)
		assert.Empty(t, additional)
		assert.Empty(t, missing)
	}
}
