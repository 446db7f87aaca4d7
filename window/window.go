// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package window implements C6: the moving window (spec §4.6). It slides the active
// domain along the x axis at a cell-integer velocity, retiring trailing patches (counting
// their discarded particles) and re-seeding them at the leading edge from each species'
// injection profile. Grounded on fem/domain.go's SetStage activate/deactivate pattern,
// generalized from "some elements turn on, some turn off between stages" to "some patches
// retire, some are re-seeded between steps".
package window

import (
	"github.com/cpmech/flarepic/errs"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/patch"
	"github.com/cpmech/flarepic/physics"
	"github.com/cpmech/flarepic/vectorpatch"
)

// windowAxis is the moving window's direction; spec §4.6 fixes it to x (axis 0).
const windowAxis = 0

// Window drives C6 against one rank's VectorPatch.
type Window struct {
	Cfg inp.MovingWindowConfig

	NMoved        int   // cumulative 1-cell shifts applied so far (this rank's view; every rank computes the same value from the same trigger)
	LostParticles int64 // particles discarded by this rank's retired patches

	cellsAccum int // cells accumulated toward the next whole-patch recycle

	// trailingCol is the patch-grid coordinate (along windowAxis) currently holding the
	// trailing edge of the active window. A patch's GlobalIndex and grid coordinate never
	// change once assigned (only ShiftOrigin's Extent/OriginV move), so this, not the
	// immutable IsMin/IsMax a patch was built with, is what actually advances as the
	// window recycles: every rank derives it from the same step/config trigger, so it
	// stays in lockstep across ranks with no extra coordination, the same way NMoved does.
	trailingCol int
}

// New returns a Window driven by the given configuration.
func New(cfg inp.MovingWindowConfig) *Window {
	return &Window{Cfg: cfg}
}

// Operate advances the window by one cell if this step's trigger fires (spec's "cell-integer
// velocity, shifts every k steps"). The underlying field/particle arrays are never shifted
// cell-by-cell: a whole patch is only retired and re-seeded once the accumulated per-cell
// shift reaches a full patch width along the window axis, matching the spec's own
// pseudocode, which only ever describes whole-patch destruction and creation, never a
// sub-patch array shift. recycled reports whether that structural step happened this call.
//
// A recycle retires the column currently at trailingCol, shifts it to sit one full domain
// length ahead (spec's ring buffer: grid coordinates never move, only physical placement),
// and hands it the leading-edge role the column that used to hold it just lost. IsMin/IsMax
// are updated to match on every patch this rank owns in the affected columns, so the rest
// of the engine (neighbor resolution, boundary dispatch) keeps seeing the true edges of the
// active domain instead of the columns fixed at construction time.
func (w *Window) Operate(vp *vectorpatch.VectorPatch, step int, t float64) (shifted, recycled bool, err error) {
	if !w.Cfg.Enabled || t < w.Cfg.TStart || w.Cfg.EveryKSteps <= 0 || step%w.Cfg.EveryKSteps != 0 {
		return false, false, nil
	}
	w.NMoved++
	w.cellsAccum++

	perPatch := vp.Sim.NSpacePerPatch[windowAxis]
	if perPatch <= 0 {
		return false, false, errs.Invariant("window: n_space_per_patch[%d] must be positive", windowAxis)
	}
	if w.cellsAccum < perPatch {
		return true, false, nil
	}
	w.cellsAccum = 0

	nAxis := vp.Sim.NSpaceGlobal[windowAxis] / perPatch
	if nAxis <= 0 {
		return false, false, errs.Invariant("window: n_space_global[%d]/n_space_per_patch[%d] must be positive", windowAxis, windowAxis)
	}
	retiredCol := w.trailingCol
	newTrailingCol := (retiredCol + 1) % nAxis

	shiftCells := vp.Sim.NSpaceGlobal[windowAxis]
	for _, p := range vp.Patches {
		col := vp.Grid.CoordOf(p.GlobalIndex)[windowAxis]
		switch col {
		case retiredCol:
			// this column falls behind the active window and leaps to the front,
			// becoming the new leading edge (spec's "trailing edge now lies
			// outside the active domain").
			w.LostParticles += int64(retireParticles(p))
			p.ShiftOrigin(windowAxis, shiftCells)
			if err := injectLeadingEdge(vp, p, t); err != nil {
				return true, true, err
			}
			p.IsMax[windowAxis] = true
			p.IsMin[windowAxis] = newTrailingCol == retiredCol // only a single-column window stays both
		case newTrailingCol:
			p.IsMin[windowAxis] = true
			p.IsMax[windowAxis] = false
		default:
			if p.IsMax[windowAxis] {
				// this column held the leading edge before retiredCol displaced it
				p.IsMax[windowAxis] = false
			}
		}
	}
	w.trailingCol = newTrailingCol
	return true, true, nil
}

// retireParticles discards every particle a recycled patch held, returning the count
// removed for the lost-particle accounting spec §4.6 requires (callers AllReduceSum
// LostParticles across ranks for the global counter).
func retireParticles(p *patch.Patch) int {
	n := 0
	for _, c := range p.Species {
		n += c.Len()
		c.Parts = c.Parts[:0]
	}
	return n
}

// injectLeadingEdge refills a freshly-recycled patch from each species' injection profile
// (spec's "populated from species injection profiles and zero fields"). ShiftOrigin moves a
// patch's placement without touching E/B/J/rho, and the recycled patch still holds the
// fields it had as the trailing column, so they are zeroed here first.
func injectLeadingEdge(vp *vectorpatch.VectorPatch, p *patch.Patch, t float64) error {
	p.E.Fill(0)
	p.B.Fill(0)
	p.J.Fill(0)
	p.Rho.Fill(0)
	for si, sp := range vp.Sim.Species {
		profile, err := vp.Sim.DriveProfiles.Get(sp.InjectionProfile)
		if err != nil {
			return errs.Config("moving window: species %q: %v", sp.Name, err)
		}
		seedSpecies(p, si, profile, t)
	}
	return nil
}

// seedSpecies samples one macro-particle per cell at the cell center, weighted by the
// injection profile's density value there (zero-density cells are left empty).
func seedSpecies(p *patch.Patch, speciesIdx int, profile physics.DriveProfile, t float64) {
	c := p.Species[speciesIdx]
	var dims [3]int
	dims[0], dims[1], dims[2] = 1, 1, 1
	for a := 0; a < p.NDimField; a++ {
		dims[a] = p.Extent.NCells(a)
	}
	cellVol := 1.0
	for a := 0; a < p.NDimField; a++ {
		cellVol *= p.CellSizeV[a]
	}
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				pos := cellCenter(p, i, j, k)
				density := profile.F(t, pos)
				if density <= 0 {
					continue
				}
				c.Add(particle.Particle{Pos: pos, Weight: density * cellVol})
			}
		}
	}
}

// cellCenter returns the global-frame position of the center of local owned cell (i,j,k).
func cellCenter(p *patch.Patch, i, j, k int) [3]float64 {
	local := [3]int{i, j, k}
	var pos [3]float64
	for a := 0; a < 3; a++ {
		if a < p.NDimField {
			pos[a] = (float64(p.Extent.Lo[a]+local[a]) + 0.5) * p.CellSizeV[a]
		}
	}
	return pos
}
