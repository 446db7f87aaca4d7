// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decomp

import (
	"sort"

	"github.com/cpmech/flarepic/errs"
)

// Grid is the static patch-grid layout: how many patches exist along each axis,
// and the SFC that linearizes them into [0, NPatches) (spec §4.3).
type Grid struct {
	NDim      int
	PatchDims [3]int // number of patches along each axis (1 for unused axes)
	Curve     Curve

	// keyOf[globalIndex] caches each patch's SFC position, and coordOf the inverse,
	// avoiding repeated Decode calls on the hot neighbor-lookup path.
	keyOf   []int64
	coordOf [][3]int
}

// NewGrid builds the patch grid and its SFC ordering, padding a Hilbert grid's side up
// to the next power of two when the raw patch count doesn't divide evenly (spec is
// silent on this; padding with always-empty ghost patch slots keeps the curve bijective
// without forcing the caller's patch counts to already be powers of two).
func NewGrid(nDim int, patchDims [3]int) (*Grid, error) {
	dims := patchDims
	if nDim >= 2 {
		side := maxInt(dims[0], dims[1])
		pow := 1
		for pow < side {
			pow *= 2
		}
		dims[0], dims[1] = pow, pow
	}
	curve, err := NewCurve(nDim, dims)
	if err != nil {
		return nil, err
	}
	g := &Grid{NDim: nDim, PatchDims: patchDims, Curve: curve}
	g.buildIndex()
	return g, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// buildIndex computes the SFC position of every real (non-padding) patch-grid
// coordinate, sorted by key, giving a dense global index 0..NPatches-1 in curve order.
func (g *Grid) buildIndex() {
	type entry struct {
		key   int64
		coord [3]int
	}
	var entries []entry
	nx, ny, nz := g.PatchDims[0], g.PatchDims[1], g.PatchDims[2]
	if g.NDim < 2 {
		ny = 1
	}
	if g.NDim < 3 {
		nz = 1
	}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				c := [3]int{i, j, k}
				entries = append(entries, entry{key: g.Curve.Encode(c), coord: c})
			}
		}
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].key < entries[b].key })
	g.keyOf = make([]int64, len(entries))
	g.coordOf = make([][3]int, len(entries))
	for i, e := range entries {
		g.keyOf[i] = e.key
		g.coordOf[i] = e.coord
	}
}

// NPatches returns the total number of patches in the grid
func (g *Grid) NPatches() int { return len(g.coordOf) }

// CoordOf returns the patch-grid coordinate of a global index in SFC order
func (g *Grid) CoordOf(globalIndex int) [3]int { return g.coordOf[globalIndex] }

// IndexOfCoord returns the global SFC-order index of a patch-grid coordinate, or -1 if
// out of range; used by neighbor lookups that start from a coordinate offset.
func (g *Grid) IndexOfCoord(coord [3]int) int {
	key := g.Curve.Encode(coord)
	i := sort.Search(len(g.keyOf), func(i int) bool { return g.keyOf[i] >= key })
	if i < len(g.keyOf) && g.keyOf[i] == key {
		return i
	}
	return -1
}

// NeighborIndex returns the global index of the patch adjacent to globalIndex along
// (axis, delta=+-1), or -1 if that neighbor is outside the grid (a true domain edge,
// handled by the caller via the species/EM boundary tables instead).
func (g *Grid) NeighborIndex(globalIndex, axis, delta int) int {
	c := g.coordOf[globalIndex]
	c[axis] += delta
	nx, ny, nz := g.realDims()
	if c[axis] < 0 || c[axis] >= [3]int{nx, ny, nz}[axis] {
		return -1
	}
	return g.IndexOfCoord(c)
}

// NeighborIndexPeriodic is NeighborIndex's wraparound variant, used when the caller has
// already determined the axis is globally periodic (spec §4.2's periodic policy: "handled
// not locally but by the inter-patch exchange, position wrapped into the global domain").
func (g *Grid) NeighborIndexPeriodic(globalIndex, axis, delta int) int {
	c := g.coordOf[globalIndex]
	nx, ny, nz := g.realDims()
	n := [3]int{nx, ny, nz}[axis]
	c[axis] = ((c[axis]+delta)%n + n) % n
	return g.IndexOfCoord(c)
}

func (g *Grid) realDims() (nx, ny, nz int) {
	nx, ny, nz = g.PatchDims[0], g.PatchDims[1], g.PatchDims[2]
	if g.NDim < 2 {
		ny = 1
	}
	if g.NDim < 3 {
		nz = 1
	}
	return
}

// Ownership is the contiguous-interval partition of SFC-ordered patches across
// processes (spec §4.3: "offset[r], patch_count[r]" contiguous ownership).
type Ownership struct {
	Offset     []int // Offset[r] is the first global (SFC-order) index owned by rank r
	PatchCount []int // PatchCount[r] is the number of patches owned by rank r
}

// NewEqualOwnership splits nPatches contiguously and as evenly as possible across
// nRanks processes (spec's initial static partition, before any load balancing runs).
func NewEqualOwnership(nPatches, nRanks int) (*Ownership, error) {
	if nRanks <= 0 {
		return nil, errs.Config("nRanks must be positive, got %d", nRanks)
	}
	if nPatches < nRanks {
		return nil, errs.Config("nPatches (%d) must be >= nRanks (%d): every process needs at least one patch", nPatches, nRanks)
	}
	o := &Ownership{Offset: make([]int, nRanks), PatchCount: make([]int, nRanks)}
	base := nPatches / nRanks
	rem := nPatches % nRanks
	off := 0
	for r := 0; r < nRanks; r++ {
		count := base
		if r < rem {
			count++
		}
		o.Offset[r] = off
		o.PatchCount[r] = count
		off += count
	}
	return o, nil
}

// RankOf returns the owning rank of a global (SFC-order) patch index via O(log R)
// binary search on the offset prefix sum (spec §4.3's required complexity bound).
func (o *Ownership) RankOf(globalIndex int) int {
	// find the last rank r such that Offset[r] <= globalIndex
	lo, hi := 0, len(o.Offset)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if o.Offset[mid] <= globalIndex {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// LocalRange returns the [lo,hi) global-index range owned by rank r
func (o *Ownership) LocalRange(r int) (lo, hi int) {
	return o.Offset[r], o.Offset[r] + o.PatchCount[r]
}
