// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import "github.com/cpmech/flarepic/physics"

// VectorField is a ghosted 3-component Cartesian grid field (E, B or J),
// flattened row-major like the teacher's dense arrays (gosl/la.MatAlloc style)
// rather than [][]float64-of-slices, to keep one contiguous allocation per patch.
type VectorField struct {
	Nx, Ny, Nz int // including ghost layers on both sides of each active axis
	Data       []float64
}

// NewVectorField allocates a zeroed field of the given ghosted dimensions
func NewVectorField(nx, ny, nz int) *VectorField {
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	if nz < 1 {
		nz = 1
	}
	return &VectorField{Nx: nx, Ny: ny, Nz: nz, Data: make([]float64, nx*ny*nz*3)}
}

func (f *VectorField) idx(i, j, k int) (int, bool) {
	if i < 0 || i >= f.Nx || j < 0 || j >= f.Ny || k < 0 || k >= f.Nz {
		return 0, false
	}
	return 3 * ((k*f.Ny+j)*f.Nx + i), true
}

// At returns the 3-component value at (i,j,k); out-of-range reads return zero
func (f *VectorField) At(i, j, k int) physics.EMField {
	idx, ok := f.idx(i, j, k)
	if !ok {
		return physics.EMField{}
	}
	return physics.EMField{f.Data[idx], f.Data[idx+1], f.Data[idx+2]}
}

// Set overwrites the value at (i,j,k); out-of-range writes are silently ignored
func (f *VectorField) Set(i, j, k int, v physics.EMField) {
	idx, ok := f.idx(i, j, k)
	if !ok {
		return
	}
	f.Data[idx], f.Data[idx+1], f.Data[idx+2] = v[0], v[1], v[2]
}

// Add accumulates into the value at (i,j,k), used by additive ghost-layer deposition
func (f *VectorField) Add(i, j, k int, v physics.EMField) {
	idx, ok := f.idx(i, j, k)
	if !ok {
		return
	}
	f.Data[idx] += v[0]
	f.Data[idx+1] += v[1]
	f.Data[idx+2] += v[2]
}

// Fill zeros (or constant-fills) the entire field
func (f *VectorField) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// dimAt returns the ghosted extent along one axis
func (f *VectorField) dimAt(axis int) int {
	switch axis {
	case 0:
		return f.Nx
	case 1:
		return f.Ny
	default:
		return f.Nz
	}
}

// ExtractBand flattens the cells with axis-coordinate in [lo,hi), every other axis taken
// in full, in the same (k,j,i) traversal order idx() uses — the wire format for one side
// of a ghost-layer exchange (spec §4.4's "boundary slab").
func (f *VectorField) ExtractBand(axis, lo, hi int) []float64 {
	dims := [3]int{f.Nx, f.Ny, f.Nz}
	lo3, hi3 := [3]int{0, 0, 0}, dims
	lo3[axis], hi3[axis] = lo, hi
	out := make([]float64, 0, 3*(hi-lo)*f.Nx*f.Ny*f.Nz/dims[axis])
	for k := lo3[2]; k < hi3[2]; k++ {
		for j := lo3[1]; j < hi3[1]; j++ {
			for i := lo3[0]; i < hi3[0]; i++ {
				idx, ok := f.idx(i, j, k)
				if !ok {
					continue
				}
				out = append(out, f.Data[idx], f.Data[idx+1], f.Data[idx+2])
			}
		}
	}
	return out
}

// ApplyBand writes a band previously produced by ExtractBand into [lo,hi) on this field,
// either overwriting (E, B) or accumulating (J, ρ) per spec §4.4's additive/overwrite rule.
func (f *VectorField) ApplyBand(axis, lo, hi int, data []float64, additive bool) {
	dims := [3]int{f.Nx, f.Ny, f.Nz}
	lo3, hi3 := [3]int{0, 0, 0}, dims
	lo3[axis], hi3[axis] = lo, hi
	p := 0
	for k := lo3[2]; k < hi3[2]; k++ {
		for j := lo3[1]; j < hi3[1]; j++ {
			for i := lo3[0]; i < hi3[0]; i++ {
				idx, ok := f.idx(i, j, k)
				if !ok {
					continue
				}
				if p+3 > len(data) {
					return
				}
				if additive {
					f.Data[idx] += data[p]
					f.Data[idx+1] += data[p+1]
					f.Data[idx+2] += data[p+2]
				} else {
					f.Data[idx] = data[p]
					f.Data[idx+1] = data[p+1]
					f.Data[idx+2] = data[p+2]
				}
				p += 3
			}
		}
	}
}

// ScalarField is a ghosted 1-component Cartesian grid field (ρ)
type ScalarField struct {
	Nx, Ny, Nz int
	Data       []float64
}

// NewScalarField allocates a zeroed scalar field
func NewScalarField(nx, ny, nz int) *ScalarField {
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	if nz < 1 {
		nz = 1
	}
	return &ScalarField{Nx: nx, Ny: ny, Nz: nz, Data: make([]float64, nx*ny*nz)}
}

func (f *ScalarField) idx(i, j, k int) (int, bool) {
	if i < 0 || i >= f.Nx || j < 0 || j >= f.Ny || k < 0 || k >= f.Nz {
		return 0, false
	}
	return (k*f.Ny+j)*f.Nx + i, true
}

// At returns the value at (i,j,k)
func (f *ScalarField) At(i, j, k int) float64 {
	idx, ok := f.idx(i, j, k)
	if !ok {
		return 0
	}
	return f.Data[idx]
}

// Set overwrites the value at (i,j,k)
func (f *ScalarField) Set(i, j, k int, v float64) {
	idx, ok := f.idx(i, j, k)
	if !ok {
		return
	}
	f.Data[idx] = v
}

// Add accumulates into the value at (i,j,k)
func (f *ScalarField) Add(i, j, k int, v float64) {
	idx, ok := f.idx(i, j, k)
	if !ok {
		return
	}
	f.Data[idx] += v
}

// Fill sets every cell to v
func (f *ScalarField) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// ExtractBand is ScalarField's analogue of VectorField.ExtractBand
func (f *ScalarField) ExtractBand(axis, lo, hi int) []float64 {
	dims := [3]int{f.Nx, f.Ny, f.Nz}
	lo3, hi3 := [3]int{0, 0, 0}, dims
	lo3[axis], hi3[axis] = lo, hi
	out := make([]float64, 0, (hi-lo)*f.Nx*f.Ny*f.Nz/dims[axis])
	for k := lo3[2]; k < hi3[2]; k++ {
		for j := lo3[1]; j < hi3[1]; j++ {
			for i := lo3[0]; i < hi3[0]; i++ {
				idx, ok := f.idx(i, j, k)
				if !ok {
					continue
				}
				out = append(out, f.Data[idx])
			}
		}
	}
	return out
}

// ApplyBand is ScalarField's analogue of VectorField.ApplyBand
func (f *ScalarField) ApplyBand(axis, lo, hi int, data []float64, additive bool) {
	dims := [3]int{f.Nx, f.Ny, f.Nz}
	lo3, hi3 := [3]int{0, 0, 0}, dims
	lo3[axis], hi3[axis] = lo, hi
	p := 0
	for k := lo3[2]; k < hi3[2]; k++ {
		for j := lo3[1]; j < hi3[1]; j++ {
			for i := lo3[0]; i < hi3[0]; i++ {
				idx, ok := f.idx(i, j, k)
				if !ok {
					continue
				}
				if p >= len(data) {
					return
				}
				if additive {
					f.Data[idx] += data[p]
				} else {
					f.Data[idx] = data[p]
				}
				p++
			}
		}
	}
}

// SumInterior reduces the scalar field over its owned (non-ghost) interior, given ghost thickness
func (f *ScalarField) SumInterior(ghost int) float64 {
	kLo, kHi := interiorRange(f.Nz, ghost)
	jLo, jHi := interiorRange(f.Ny, ghost)
	iLo, iHi := interiorRange(f.Nx, ghost)
	var total float64
	for k := kLo; k < kHi; k++ {
		for j := jLo; j < jHi; j++ {
			for i := iLo; i < iHi; i++ {
				total += f.At(i, j, k)
			}
		}
	}
	return total
}

// interiorRange returns [lo,hi) excluding ghost cells on both sides along an axis
// of size n; an axis collapsed to a single cell (unused dimension) has no ghosts.
func interiorRange(n, ghost int) (lo, hi int) {
	if n <= 1 {
		return 0, n
	}
	return ghost, n - ghost
}
