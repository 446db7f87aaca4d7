// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package patch implements C1: a rectangular sub-grid owning local field slabs and
// particle containers for all species, with ghost-layer regions for reads (spec §4.1).
package patch

import (
	"sort"

	"github.com/cpmech/flarepic/errs"
	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/pbc"
	"github.com/cpmech/flarepic/physics"
)

// Face identifies one of the patch's axis-aligned boundary faces
type Face struct {
	Axis int
	Side pbc.Side
}

// Extent is the patch's local grid extent in global cell coordinates, inclusive, per axis
type Extent struct {
	Lo, Hi [3]int // [lo,hi] inclusive, in global cell indices
}

// NCells returns the number of owned cells along one axis
func (e Extent) NCells(axis int) int { return e.Hi[axis] - e.Lo[axis] + 1 }

// Patch is C1: a non-overlapping axis-aligned block of the global grid (spec §3, §4.1)
type Patch struct {
	GlobalIndex int
	NDimField   int
	NDimParts   int
	Extent      Extent
	Ghost       int
	CellSizeV   [3]float64
	OriginV     [3]float64 // global-frame coordinate of cell (Lo[0],Lo[1],Lo[2]) minus ghost offset

	// global-boundary flags: IsMin[axis]/IsMax[axis] (spec's isXmin/isXmax/...)
	IsMin, IsMax [3]bool

	E, B, J *VectorField
	Rho     *ScalarField

	Species     []*particle.Container
	Dispatchers []*pbc.Dispatcher // one per species, indexed like Species

	Interp    physics.Interpolator
	Pusher    physics.Pusher
	Depositor physics.Depositor

	// particles flagged by Push as having left the patch domain this step, pending
	// apply_boundary/pack-unpack resolution in VectorPatch.FinalizeAndSortParts
	leaving []leavingParticle
}

type leavingParticle struct {
	speciesIdx int
	partIdx    int
	face       Face
}

// dims returns the ghosted field-array dimensions along each of the 3 axes (1 for unused dims)
func (p *Patch) dims() (nx, ny, nz int) {
	d := [3]int{1, 1, 1}
	for a := 0; a < p.NDimField; a++ {
		d[a] = p.Extent.NCells(a) + 2*p.Ghost
	}
	return d[0], d[1], d[2]
}

// New constructs a patch owning the given global extent (spec's Patch Factory `create`)
func New(globalIndex int, ndimField, ndimParts, ghost int, extent Extent, cellSize [3]float64,
	isMin, isMax [3]bool, species []particle.Species,
	interp physics.Interpolator, pusher physics.Pusher, depositor physics.Depositor) (*Patch, error) {

	if ndimField < 1 || ndimField > 3 {
		return nil, errs.Config("patch %d: nDim_field must be in {1,2,3}, got %d", globalIndex, ndimField)
	}
	if ndimParts < ndimField {
		return nil, errs.Config("patch %d: nDim_particle (%d) must be >= nDim_field (%d)", globalIndex, ndimParts, ndimField)
	}

	p := &Patch{
		GlobalIndex: globalIndex,
		NDimField:   ndimField,
		NDimParts:   ndimParts,
		Extent:      extent,
		Ghost:       ghost,
		CellSizeV:   cellSize,
		IsMin:       isMin,
		IsMax:       isMax,
		Interp:      interp,
		Pusher:      pusher,
		Depositor:   depositor,
	}
	for a := 0; a < 3; a++ {
		p.OriginV[a] = float64(extent.Lo[a]-ghost) * cellSize[a]
	}
	nx, ny, nz := p.dims()
	p.E = NewVectorField(nx, ny, nz)
	p.B = NewVectorField(nx, ny, nz)
	p.J = NewVectorField(nx, ny, nz)
	p.Rho = NewScalarField(nx, ny, nz)

	p.Species = make([]*particle.Container, len(species))
	p.Dispatchers = make([]*pbc.Dispatcher, len(species))
	for i, sp := range species {
		p.Species[i] = particle.NewContainer(sp)
		p.Dispatchers[i] = pbc.NewDispatcher(ndimParts)
	}
	return p, nil
}

// physics.FieldReader / physics.FieldWriter implementation, local-index based (not global cell)

// CellSize implements physics.FieldReader
func (p *Patch) CellSize() [3]float64 { return p.CellSizeV }

// Origin implements physics.FieldReader
func (p *Patch) Origin() [3]float64 { return p.OriginV }

// NDim implements physics.FieldReader
func (p *Patch) NDim() int { return p.NDimField }

// EAt implements physics.FieldReader (local indices, ghosts included)
func (p *Patch) EAt(i, j, k int) physics.EMField { return p.E.At(i, j, k) }

// BAt implements physics.FieldReader
func (p *Patch) BAt(i, j, k int) physics.EMField { return p.B.At(i, j, k) }

// AddJ implements physics.FieldWriter
func (p *Patch) AddJ(i, j, k int, v physics.EMField) { p.J.Add(i, j, k, v) }

// AddRho implements physics.FieldWriter
func (p *Patch) AddRho(i, j, k int, rho float64) { p.Rho.Add(i, j, k, rho) }

// InterpolateFields returns (E,B) at a particle's position (spec's interpolate_fields)
func (p *Patch) InterpolateFields(pos [3]float64) (e, b physics.EMField) {
	return p.Interp.Interpolate(p, pos)
}

// localLo returns the global-frame coordinate of this patch's open interior, used for residency checks
func (p *Patch) localLo(axis int) float64 { return float64(p.Extent.Lo[axis]) * p.CellSizeV[axis] }
func (p *Patch) localHi(axis int) float64 {
	return float64(p.Extent.Hi[axis]+1) * p.CellSizeV[axis]
}

// insideInterior reports whether a position lies strictly inside this patch's open interior (spec's residency invariant)
func (p *Patch) insideInterior(pos [3]float64) bool {
	for a := 0; a < p.NDimField; a++ {
		if pos[a] <= p.localLo(a) || pos[a] >= p.localHi(a) {
			return false
		}
	}
	return true
}

// Push advances one species' momenta then positions by dt (relativistic Boris by default),
// flagging particles that left the patch for later apply_boundary/pack-unpack resolution.
func (p *Patch) Push(speciesIdx int, dt float64) error {
	if speciesIdx < 0 || speciesIdx >= len(p.Species) {
		return errs.Invariant("patch %d: species index %d out of range", p.GlobalIndex, speciesIdx)
	}
	c := p.Species[speciesIdx]
	for i := range c.Parts {
		part := &c.Parts[i]
		if part.Weight < 0 {
			return errs.Invariant("patch %d: negative-weight particle in species %q", p.GlobalIndex, c.Species.Name)
		}
		e, b := p.InterpolateFields(part.Pos)
		p.Pusher.Push(&part.Pos, &part.Mom, part.Mass, part.Charge, part.Weight, e, b, dt)
		if face, left := p.exitedFace(part.Pos); left {
			p.leaving = append(p.leaving, leavingParticle{speciesIdx: speciesIdx, partIdx: i, face: face})
		}
	}
	return nil
}

// exitedFace returns the first face a position now lies outside of, if any
func (p *Patch) exitedFace(pos [3]float64) (Face, bool) {
	for a := 0; a < p.NDimField; a++ {
		if pos[a] <= p.localLo(a) {
			return Face{Axis: a, Side: pbc.Min}, true
		}
		if pos[a] >= p.localHi(a) {
			return Face{Axis: a, Side: pbc.Max}, true
		}
	}
	return Face{}, false
}

// axisDim returns the ghosted extent of this patch's fields along one axis
func (p *Patch) axisDim(axis int) int {
	switch axis {
	case 0:
		return p.E.Nx
	case 1:
		return p.E.Ny
	default:
		return p.E.Nz
	}
}

// SendBandRange returns the [lo,hi) range of this patch's own (owned) cells adjacent to
// a face that must be sent to the neighbor across that face, so the neighbor can fill its
// ghost layer with it (spec §4.4 ghost-exchange protocol). Thickness equals Ghost.
func (p *Patch) SendBandRange(axis int, side pbc.Side) (lo, hi int) {
	dim := p.axisDim(axis)
	g := p.Ghost
	if side == pbc.Min {
		return g, 2 * g
	}
	return dim - 2*g, dim - g
}

// GhostBandRange returns the [lo,hi) range of this patch's own ghost cells on a face,
// where a neighbor's sent band must be written (spec §4.4).
func (p *Patch) GhostBandRange(axis int, side pbc.Side) (lo, hi int) {
	dim := p.axisDim(axis)
	g := p.Ghost
	if side == pbc.Min {
		return 0, g
	}
	return dim - g, dim
}

// LeavingParticles returns the particles flagged by the last Push call, for VectorPatch
// to resolve (spec's "particles_leaving" parameter to apply_boundary)
func (p *Patch) LeavingParticles() []leavingParticle { return p.leaving }

// ClearLeaving resets the leaving-particle buffer, called after resolution
func (p *Patch) ClearLeaving() { p.leaving = p.leaving[:0] }

// ApplyBoundary delegates a leaving particle to this species' Boundary Dispatcher
// (spec's apply_boundary); returns Removed if the particle must be deleted by the caller.
func (p *Patch) ApplyBoundary(speciesIdx int, partIdx int, face Face) pbc.Outcome {
	faceCoord := p.localLo(face.Axis)
	if face.Side == pbc.Max {
		faceCoord = p.localHi(face.Axis)
	}
	isGlobal := (face.Side == pbc.Min && p.IsMin[face.Axis]) || (face.Side == pbc.Max && p.IsMax[face.Axis])
	part := &p.Species[speciesIdx].Parts[partIdx]
	return p.Dispatchers[speciesIdx].Apply(part, face.Axis, face.Side, faceCoord, isGlobal)
}

// ResolvedLeaving is the outcome of resolving every particle flagged by the last Push call
// against this patch's boundary dispatchers (spec §4.4 finalize_and_sort_parts).
type ResolvedLeaving struct {
	Exchange []ExchangeBuffer // particles bound for a neighboring patch: interior crossing or periodic wrap
}

// ResolveLeaving dispatches every flagged-leaving particle: a global-boundary face runs
// its species' Boundary Dispatcher (reflective/stop/thermalize/remove/none); a periodic
// global face or an interior face is instead packed for inter-patch exchange, since neither
// is resolvable locally. Callers must apply the removals (already done here) and then hand
// Exchange to VectorPatch for unpacking into the destination patches, followed by ClearLeaving.
func (p *Patch) ResolveLeaving() ResolvedLeaving {
	var crossing []leavingParticle
	removeBySpecies := make(map[int][]int)
	for _, lv := range p.leaving {
		isGlobal := (lv.face.Side == pbc.Min && p.IsMin[lv.face.Axis]) || (lv.face.Side == pbc.Max && p.IsMax[lv.face.Axis])
		if !isGlobal {
			crossing = append(crossing, lv)
			removeBySpecies[lv.speciesIdx] = append(removeBySpecies[lv.speciesIdx], lv.partIdx)
			continue
		}
		policy := p.Dispatchers[lv.speciesIdx].Get(lv.face.Axis, lv.face.Side)
		if policy == pbc.Periodic {
			crossing = append(crossing, lv)
			removeBySpecies[lv.speciesIdx] = append(removeBySpecies[lv.speciesIdx], lv.partIdx)
			continue
		}
		outcome := p.ApplyBoundary(lv.speciesIdx, lv.partIdx, lv.face)
		if outcome == pbc.Removed {
			removeBySpecies[lv.speciesIdx] = append(removeBySpecies[lv.speciesIdx], lv.partIdx)
		}
	}
	buffers := p.Pack(crossing)
	for si, idxs := range removeBySpecies {
		sort.Sort(sort.Reverse(sort.IntSlice(idxs)))
		last := -1
		for _, idx := range idxs {
			if idx == last {
				continue
			}
			p.Species[si].RemoveAt(idx)
			last = idx
		}
	}
	return ResolvedLeaving{Exchange: buffers}
}

// Deposit writes one particle's charge-conserving current/charge contribution (spec's deposit)
func (p *Patch) Deposit(speciesIdx, partIdx int, posOld [3]float64, dt float64) {
	c := p.Species[speciesIdx]
	part := &c.Parts[partIdx]
	p.Depositor.Deposit(p, posOld, part.Pos, part.Mass, part.Charge, part.Weight, dt)
}

// ComputeCharge accumulates ρ from the current particle positions of every species,
// overwriting any prior deposition (used at initialization for solve_poisson, spec §4.4)
func (p *Patch) ComputeCharge() {
	p.Rho.Fill(0)
	interp := LinearCharge{}
	for _, c := range p.Species {
		for i := range c.Parts {
			interp.Spread(p, c.Parts[i].Pos, c.Parts[i].Charge*c.Parts[i].Weight)
		}
	}
}

// LinearCharge spreads a point charge with the same CIC weights used by the reference depositor
type LinearCharge struct{}

// Spread deposits a bare charge value at a position using CIC weights
func (LinearCharge) Spread(f physics.FieldWriter, pos [3]float64, q float64) {
	physics.CICDepositor{}.Deposit(f, pos, pos, 0, q, 1, 0)
}

// ShiftOrigin displaces this patch's extent and global-frame origin by cells cells along
// axis, without touching its field arrays or species containers. Used by the moving
// window (C6) to recycle a trailing patch to the leading edge: the caller is responsible
// for resetting/reseeding particles and fields before the patch is used again.
func (p *Patch) ShiftOrigin(axis int, cells int) {
	p.Extent.Lo[axis] += cells
	p.Extent.Hi[axis] += cells
	p.OriginV[axis] += float64(cells) * p.CellSizeV[axis]
}

// ResetCurrents zeroes J and ρ before a new dynamics pass (ghosts included, since
// deposition writes additively into ghost layers that sum_densities will later reduce)
func (p *Patch) ResetCurrents() {
	p.J.Fill(0)
	p.Rho.Fill(0)
}

// CheckResidency validates the invariant: every particle lies strictly inside the
// patch's interior, or has already been removed/queued for exchange.
func (p *Patch) CheckResidency() error {
	for si, c := range p.Species {
		for i := range c.Parts {
			if !p.insideInterior(c.Parts[i].Pos) {
				return errs.Invariant("patch %d species %d: particle %d not resident after finalize", p.GlobalIndex, si, i)
			}
		}
	}
	return nil
}

// SortByCell reorders particles by flattened local cell index to preserve cache
// locality (spec's finalize_and_sort_parts re-sort)
func (p *Patch) SortByCell() {
	for _, c := range p.Species {
		sortContainerByCell(p, c)
	}
}

func sortContainerByCell(p *Patch, c *particle.Container) {
	n := len(c.Parts)
	if n < 2 {
		return
	}
	keys := make([]int, n)
	for i := range c.Parts {
		keys[i] = p.cellKey(c.Parts[i].Pos)
	}
	// simple insertion sort: patches hold a bounded number of particles per
	// cell-locality pass and are re-sorted every step, so a stable O(n log n)
	// sort is unnecessary churn; insertion sort is also stable, matching the
	// teacher's preference (gosl/utl.IntSort) for small, already-near-sorted inputs
	for i := 1; i < n; i++ {
		kj, pj := keys[i], c.Parts[i]
		j := i - 1
		for j >= 0 && keys[j] > kj {
			keys[j+1] = keys[j]
			c.Parts[j+1] = c.Parts[j]
			j--
		}
		keys[j+1] = kj
		c.Parts[j+1] = pj
	}
}

func (p *Patch) cellKey(pos [3]float64) int {
	key := 0
	for a := p.NDimField - 1; a >= 0; a-- {
		n := p.Extent.NCells(a)
		idx := int((pos[a] - p.localLo(a)) / p.CellSizeV[a])
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		key = key*n + idx
	}
	return key
}
