// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"github.com/cpmech/flarepic/errs"
	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/pbc"
	"github.com/cpmech/flarepic/physics"
)

// Snapshot is the gob-serializable state of a patch, used both for checkpoint/restart
// (C8) and for full-state migration during load balancing (C7). It excludes the
// Interp/Pusher/Depositor strategies, which are re-attached by the caller on restore
// since they are process-wide configuration, not per-patch state.
type Snapshot struct {
	GlobalIndex int
	NDimField   int
	NDimParts   int
	Extent      Extent
	Ghost       int
	CellSizeV   [3]float64
	IsMin, IsMax [3]bool
	E, B, J     []float64
	FieldDims   [3]int
	Rho         []float64
	Species     [][]particle.Particle
}

// Snapshot captures this patch's full state for checkpointing or migration (spec's pack)
func (p *Patch) Snapshot() Snapshot {
	s := Snapshot{
		GlobalIndex: p.GlobalIndex,
		NDimField:   p.NDimField,
		NDimParts:   p.NDimParts,
		Extent:      p.Extent,
		Ghost:       p.Ghost,
		CellSizeV:   p.CellSizeV,
		IsMin:       p.IsMin,
		IsMax:       p.IsMax,
		E:           append([]float64(nil), p.E.Data...),
		B:           append([]float64(nil), p.B.Data...),
		J:           append([]float64(nil), p.J.Data...),
		FieldDims:   [3]int{p.E.Nx, p.E.Ny, p.E.Nz},
		Rho:         append([]float64(nil), p.Rho.Data...),
		Species:     make([][]particle.Particle, len(p.Species)),
	}
	for i, c := range p.Species {
		s.Species[i] = append([]particle.Particle(nil), c.Parts...)
	}
	return s
}

// FromSnapshot rebuilds a patch from a previously captured Snapshot, re-attaching the
// process-wide field strategies and species metadata (spec's create_from_snapshot).
func FromSnapshot(s Snapshot, species []particle.Species, interp physics.Interpolator,
	pusher physics.Pusher, depositor physics.Depositor) (*Patch, error) {

	if len(species) != len(s.Species) {
		return nil, errs.CkptLoad("patch %d: snapshot has %d species, config has %d", s.GlobalIndex, len(s.Species), len(species))
	}
	p := &Patch{
		GlobalIndex: s.GlobalIndex,
		NDimField:   s.NDimField,
		NDimParts:   s.NDimParts,
		Extent:      s.Extent,
		Ghost:       s.Ghost,
		CellSizeV:   s.CellSizeV,
		IsMin:       s.IsMin,
		IsMax:       s.IsMax,
		Interp:      interp,
		Pusher:      pusher,
		Depositor:   depositor,
	}
	for a := 0; a < 3; a++ {
		p.OriginV[a] = float64(s.Extent.Lo[a]-s.Ghost) * s.CellSizeV[a]
	}
	nx, ny, nz := s.FieldDims[0], s.FieldDims[1], s.FieldDims[2]
	p.E = &VectorField{Nx: nx, Ny: ny, Nz: nz, Data: append([]float64(nil), s.E...)}
	p.B = &VectorField{Nx: nx, Ny: ny, Nz: nz, Data: append([]float64(nil), s.B...)}
	p.J = &VectorField{Nx: nx, Ny: ny, Nz: nz, Data: append([]float64(nil), s.J...)}
	p.Rho = &ScalarField{Nx: nx, Ny: ny, Nz: nz, Data: append([]float64(nil), s.Rho...)}

	p.Species = make([]*particle.Container, len(species))
	p.Dispatchers = make([]*pbc.Dispatcher, len(species))
	for i, sp := range species {
		p.Species[i] = &particle.Container{Species: sp, Parts: append([]particle.Particle(nil), s.Species[i]...)}
		p.Dispatchers[i] = pbc.NewDispatcher(s.NDimParts)
	}
	return p, nil
}

// ExchangeBuffer is the wire format for particles crossing a patch boundary into a
// neighboring patch, one per (species, destination face) pair (spec's pack/unpack).
type ExchangeBuffer struct {
	SpeciesIdx int
	Face       Face
	Parts      []particle.Particle
}

// Pack drains the particles flagged by the last Push+ApplyBoundary pass that are bound
// for inter-patch exchange (Kept outcome on a non-global or periodic-wrapped face),
// grouping them per destination face for batched sends (spec's pack(face) -> buffer).
func (p *Patch) Pack(crossing []leavingParticle) []ExchangeBuffer {
	type key struct {
		face    Face
		species int
	}
	grouped := make(map[key][]particle.Particle)
	var order []key
	for _, lv := range crossing {
		part := p.Species[lv.speciesIdx].Parts[lv.partIdx]
		k := key{face: lv.face, species: lv.speciesIdx}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], part)
	}
	out := make([]ExchangeBuffer, 0, len(order))
	for _, k := range order {
		out = append(out, ExchangeBuffer{SpeciesIdx: k.species, Face: k.face, Parts: grouped[k]})
	}
	return out
}

// Unpack admits particles received from a neighbor into this patch's species containers
// (spec's unpack), applying periodic coordinate rewrap when the source crossed a
// global periodic boundary (offset is the domain length to add/subtract along the axis,
// zero for a purely local interior hand-off).
func (p *Patch) Unpack(buf ExchangeBuffer, periodicOffset float64) {
	for _, part := range buf.Parts {
		if periodicOffset != 0 {
			part.Pos[buf.Face.Axis] += periodicOffset
		}
		p.Species[buf.SpeciesIdx].Parts = append(p.Species[buf.SpeciesIdx].Parts, part)
	}
}
