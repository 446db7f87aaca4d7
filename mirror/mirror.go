// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package mirror implements C5: the Cartesian Mirror Domain, a contiguous single-block
// reassembly of a process's patch field slabs used to host the global Maxwell solve
// (spec §4.5). Grounded on fem/domain.go's "gather onto one contiguous structure, run a
// global operation, scatter back" shape, generalized from finite-element assembly to
// field-array gather/scatter.
package mirror

import (
	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/errs"
	"github.com/cpmech/flarepic/patch"
	"github.com/cpmech/flarepic/physics"
	"gonum.org/v1/gonum/floats"
)

// Domain is the contiguous field block covering the union of a process's patches
// (spec §4.5: "Holds only field arrays, no particles"). It implements
// physics.MaxwellDomain so any FieldSolver can operate on it directly.
type Domain struct {
	Nx, Ny, Nz int
	CellSizeV  [3]float64

	// globalLo is the global cell coordinate (per axis) of this domain's (0,0,0) cell,
	// used to translate between a patch's Extent and this domain's local indices.
	globalLo [3]int
	ndim     int

	E, B, J *patch.VectorField
}

func (d *Domain) Dims() [3]int           { return [3]int{d.Nx, d.Ny, d.Nz} }
func (d *Domain) CellSize() [3]float64   { return d.CellSizeV }
func (d *Domain) EAt(i, j, k int) physics.EMField { return d.E.At(i, j, k) }
func (d *Domain) BAt(i, j, k int) physics.EMField { return d.B.At(i, j, k) }
func (d *Domain) JAt(i, j, k int) physics.EMField { return d.J.At(i, j, k) }
func (d *Domain) SetE(i, j, k int, e physics.EMField) { d.E.Set(i, j, k, e) }
func (d *Domain) SetB(i, j, k int, b physics.EMField) { d.B.Set(i, j, k, b) }

// FieldEnergy reduces 0.5*(|E|^2+|B|^2) over the whole domain, summing the per-cell terms
// with gonum/floats.Sum the way pthm-soup/game leans on gonum for its scalar reductions.
func (d *Domain) FieldEnergy() float64 {
	n := d.Nx * d.Ny * d.Nz
	terms := make([]float64, 0, n)
	for k := 0; k < d.Nz; k++ {
		for j := 0; j < d.Ny; j++ {
			for i := 0; i < d.Nx; i++ {
				e := d.E.At(i, j, k)
				b := d.B.At(i, j, k)
				terms = append(terms, 0.5*(e[0]*e[0]+e[1]*e[1]+e[2]*e[2]+b[0]*b[0]+b[1]*b[1]+b[2]*b[2]))
			}
		}
	}
	return floats.Sum(terms)
}

// Build reassembles a rectangular-tiled set of patches into one contiguous Domain
// (spec's patchedToCartesian). It fails with errs.Invariant if the patches' owned cells
// do not exactly tile their bounding rectangle — the coverage protocol (ReconcileOwnership)
// must run first to restore that invariant after a load-balance event.
func Build(ndim int, cellSize [3]float64, patches []*patch.Patch) (*Domain, error) {
	if len(patches) == 0 {
		return nil, errs.Invariant("mirror: cannot build a domain from zero patches")
	}
	lo, hi := patches[0].Extent.Lo, patches[0].Extent.Hi
	for _, p := range patches[1:] {
		for a := 0; a < 3; a++ {
			if p.Extent.Lo[a] < lo[a] {
				lo[a] = p.Extent.Lo[a]
			}
			if p.Extent.Hi[a] > hi[a] {
				hi[a] = p.Extent.Hi[a]
			}
		}
	}
	dims := [3]int{1, 1, 1}
	vol := 1
	for a := 0; a < ndim; a++ {
		dims[a] = hi[a] - lo[a] + 1
		vol *= dims[a]
	}
	owned := 0
	for _, p := range patches {
		cells := 1
		for a := 0; a < ndim; a++ {
			cells *= p.Extent.NCells(a)
		}
		owned += cells
	}
	if owned != vol {
		return nil, errs.Invariant(
			"mirror: owned patches (%d cells) do not tile their bounding rectangle (%d cells); repartition before a mirror-domain solve", owned, vol)
	}
	dom := &Domain{
		Nx: dims[0], Ny: dims[1], Nz: dims[2],
		CellSizeV: cellSize,
		globalLo:  lo,
		ndim:      ndim,
		E:         patch.NewVectorField(dims[0], dims[1], dims[2]),
		B:         patch.NewVectorField(dims[0], dims[1], dims[2]),
		J:         patch.NewVectorField(dims[0], dims[1], dims[2]),
	}
	return dom, nil
}

// patchLocalCoord maps a patch-interior coordinate (0-based, ghost excluded) to that
// patch's own ghosted field-array indices.
func patchLocalCoord(p *patch.Patch, ndim int, local [3]int) (int, int, int) {
	var c [3]int
	for a := 0; a < 3; a++ {
		if a < ndim {
			c[a] = local[a] + p.Ghost
		}
	}
	return c[0], c[1], c[2]
}

// domainCoord maps a patch-interior coordinate to this domain's local indices.
func (d *Domain) domainCoord(patchLo [3]int, local [3]int) (int, int, int) {
	var c [3]int
	for a := 0; a < 3; a++ {
		if a < d.ndim {
			c[a] = patchLo[a] + local[a] - d.globalLo[a]
		}
	}
	return c[0], c[1], c[2]
}

func interiorDims(ndim int, p *patch.Patch) [3]int {
	d := [3]int{1, 1, 1}
	for a := 0; a < ndim; a++ {
		d[a] = p.Extent.NCells(a)
	}
	return d
}

// Gather copies every patch's owned (ghost-excluded) E, B and J cells into the domain
// (spec's patchedToCartesian).
func (d *Domain) Gather(patches []*patch.Patch) {
	for _, p := range patches {
		nc := interiorDims(d.ndim, p)
		for k := 0; k < nc[2]; k++ {
			for j := 0; j < nc[1]; j++ {
				for i := 0; i < nc[0]; i++ {
					local := [3]int{i, j, k}
					pi, pj, pk := patchLocalCoord(p, d.ndim, local)
					di, dj, dk := d.domainCoord(p.Extent.Lo, local)
					d.E.Set(di, dj, dk, p.E.At(pi, pj, pk))
					d.B.Set(di, dj, dk, p.B.At(pi, pj, pk))
					d.J.Set(di, dj, dk, p.J.At(pi, pj, pk))
				}
			}
		}
	}
}

// Scatter writes the domain's (solver-updated) E and B back into each patch's owned cells
// (spec's cartesianToPatches). J is never scattered back: it is deposited fresh from
// particle motion every step and ResetCurrents zeroes it before the next dynamics pass.
func (d *Domain) Scatter(patches []*patch.Patch) {
	for _, p := range patches {
		nc := interiorDims(d.ndim, p)
		for k := 0; k < nc[2]; k++ {
			for j := 0; j < nc[1]; j++ {
				for i := 0; i < nc[0]; i++ {
					local := [3]int{i, j, k}
					pi, pj, pk := patchLocalCoord(p, d.ndim, local)
					di, dj, dk := d.domainCoord(p.Extent.Lo, local)
					p.E.Set(pi, pj, pk, d.E.At(di, dj, dk))
					p.B.Set(pi, pj, pk, d.B.At(di, dj, dk))
				}
			}
		}
	}
}

// ReconcileOwnership computes the coverage-protocol lists spec §4.5/§9 requires in place of
// the source's hard-coded rank-specific scaffolding. Patches tile the patch-grid into
// axis-aligned blocks of globalFactor[a] patches per axis ("global_factor[]": mirror-domain
// tile alignment); a rank's own tile is the block containing its first (lowest SFC-order)
// owned patch. additional is this rank's currently-owned global indices that fall outside
// its own tile and must be relinquished; missing is the set inside its tile that some other
// rank currently owns and must be acquired; peerOf maps every entry in both lists to the
// rank to exchange it with (a missing patch's current owner; for an additional patch, the
// current owner of its block's lowest-coordinate anchor patch) — found by the same
// Ownership.RankOf O(log R) binary search the spec calls out, never a linear scan.
func ReconcileOwnership(grid *decomp.Grid, own *decomp.Ownership, globalFactor [3]int, ndim, rank int) (additional, missing []int, peerOf map[int]int) {
	peerOf = make(map[int]int)
	lo, hi := own.LocalRange(rank)
	if lo >= hi {
		return nil, nil, peerOf
	}
	factor := [3]int{1, 1, 1}
	for a := 0; a < ndim; a++ {
		if globalFactor[a] > 1 {
			factor[a] = globalFactor[a]
		}
	}
	myTile := tileOf(grid.CoordOf(lo), factor)
	for g := lo; g < hi; g++ {
		if tileOf(grid.CoordOf(g), factor) != myTile {
			additional = append(additional, g)
		}
	}

	tLo, tHi := [3]int{0, 0, 0}, [3]int{1, 1, 1}
	for a := 0; a < 3; a++ {
		tLo[a] = myTile[a] * factor[a]
		tHi[a] = tLo[a] + factor[a]
		if a >= ndim {
			tHi[a] = 1
		}
		if tHi[a] > grid.PatchDims[a] {
			tHi[a] = grid.PatchDims[a]
		}
	}
	for k := tLo[2]; k < tHi[2]; k++ {
		for j := tLo[1]; j < tHi[1]; j++ {
			for i := tLo[0]; i < tHi[0]; i++ {
				g := grid.IndexOfCoord([3]int{i, j, k})
				if g < 0 {
					continue
				}
				if g < lo || g >= hi {
					missing = append(missing, g)
				}
			}
		}
	}
	for _, g := range missing {
		peerOf[g] = own.RankOf(g)
	}
	for _, g := range additional {
		t := tileOf(grid.CoordOf(g), factor)
		anchor := [3]int{t[0] * factor[0], t[1] * factor[1], t[2] * factor[2]}
		if a := grid.IndexOfCoord(anchor); a >= 0 {
			peerOf[g] = own.RankOf(a)
		}
	}
	return additional, missing, peerOf
}

func tileOf(coord [3]int, factor [3]int) [3]int {
	var t [3]int
	for a := 0; a < 3; a++ {
		t[a] = coord[a] / factor[a]
	}
	return t
}
