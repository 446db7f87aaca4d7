// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package vectorpatch implements C4: the process-local, SFC-contiguous sequence of
// Patches one rank owns, and the per-step orchestration spec §4.4 names over them
// (compute_charge, sum_densities, dynamics, finalize_and_sort_parts,
// finalize_sync_and_bc_fields, apply_antennas, apply_collisions, apply_external_fields,
// solve_poisson, run_all_diags). Grounded on fem.FEM/fem.Domain's role as the per-process
// orchestrator owning a slice of elements (fem/fem.go, fem/domain.go) and on
// pthm-soup/game/parallel.go for the goroutine worker-pool / chunked-static-partition
// pattern used for the per-patch parallel dispatch.
package vectorpatch

import (
	"bytes"
	"encoding/gob"
	"runtime"
	"sort"
	"sync"

	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/errs"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/mirror"
	"github.com/cpmech/flarepic/particle"
	"github.com/cpmech/flarepic/patch"
	"github.com/cpmech/flarepic/pbc"
	"github.com/cpmech/flarepic/physics"
	"github.com/cpmech/flarepic/transport"
)

// Antenna is a boundary-face field drive (spec's apply_antennas): a physics.DriveProfile
// added into one field component of every owned patch whose face lies on the named
// global boundary, evaluated at each face cell's position.
type Antenna struct {
	Axis      int
	Side      pbc.Side
	Component int // 0,1,2 => x,y,z component of the driven field
	OnE       bool
	Profile   physics.DriveProfile
}

// ExternalField is a uniform background field contribution added by each
// ApplyExternalFields call (spec's apply_external_fields), e.g. a background magnetic field
// for magnetized runs. The driver's step loop does not call ApplyExternalFields.
type ExternalField struct {
	OnE       bool
	Component int
	Profile   physics.DriveProfile
}

// VectorPatch is C4: one rank's contiguous run of Patches along the SFC (spec §3, §4.4).
type VectorPatch struct {
	Sim  *inp.Simulation
	Grid *decomp.Grid
	Own  *decomp.Ownership
	Comm *transport.Comm

	Patches  []*patch.Patch
	byGlobal map[int]*patch.Patch

	Interp    physics.Interpolator
	Pusher    physics.Pusher
	Depositor physics.Depositor

	Antennas       []Antenna
	ExternalFields []ExternalField
	Collisions     physics.CollisionModel
	RadReaction    []physics.RadiationReactionModel // indexed like Sim.Species; nil entries allowed
	PairProd       []physics.PairProductionModel

	Workers int // goroutine team size for the per-patch parallel loop

	domainLength [3]float64
}

// New builds the VectorPatch owning this rank's contiguous SFC range (spec's patch
// factory applied across the whole local run). interp/pusher/depositor are the process-wide
// strategies every owned (and later migrated-in) patch is built with.
func New(sim *inp.Simulation, grid *decomp.Grid, own *decomp.Ownership, comm *transport.Comm,
	interp physics.Interpolator, pusher physics.Pusher, depositor physics.Depositor) (*VectorPatch, error) {

	vp := &VectorPatch{
		Sim:        sim,
		Grid:       grid,
		Own:        own,
		Comm:       comm,
		byGlobal:   make(map[int]*patch.Patch),
		Interp:     interp,
		Pusher:     pusher,
		Depositor:  depositor,
		Collisions: physics.NoOpCollision{},
		Workers:    runtime.GOMAXPROCS(0),
	}
	for a := 0; a < 3; a++ {
		vp.domainLength[a] = sim.CellLength[a] * float64(sim.NSpaceGlobal[a])
	}

	species := buildSpecies(sim)
	lo, hi := own.LocalRange(comm.Rank())
	for g := lo; g < hi; g++ {
		p, err := vp.buildPatch(g, species)
		if err != nil {
			return nil, err
		}
		vp.Patches = append(vp.Patches, p)
		vp.byGlobal[g] = p
	}
	return vp, nil
}

// BuildGrid derives the patch-grid dimensions from a validated Simulation record and
// constructs the SFC (spec §4.3); callers build this once, share it across ranks (every
// rank computes the same deterministic grid), and pass it to New/decomp.NewEqualOwnership.
func BuildGrid(sim *inp.Simulation) (*decomp.Grid, error) {
	var dims [3]int
	for a := 0; a < 3; a++ {
		dims[a] = 1
	}
	for a := 0; a < sim.NDimField; a++ {
		dims[a] = sim.NSpaceGlobal[a] / sim.NSpacePerPatch[a]
	}
	return decomp.NewGrid(sim.NDimField, dims)
}

func buildSpecies(sim *inp.Simulation) []particle.Species {
	species := make([]particle.Species, len(sim.Species))
	for i, sp := range sim.Species {
		species[i] = particle.Species{Name: sp.Name, Mass: sp.Mass, Charge: sp.Charge, Track: sp.Track}
	}
	return species
}

func (vp *VectorPatch) buildPatch(globalIndex int, species []particle.Species) (*patch.Patch, error) {
	c := vp.Grid.CoordOf(globalIndex)
	var ext patch.Extent
	var isMin, isMax [3]bool
	for a := 0; a < 3; a++ {
		if a < vp.Sim.NDimField {
			ext.Lo[a] = c[a] * vp.Sim.NSpacePerPatch[a]
			ext.Hi[a] = ext.Lo[a] + vp.Sim.NSpacePerPatch[a] - 1
			isMin[a] = c[a] == 0
			nAxis := vp.Sim.NSpaceGlobal[a] / vp.Sim.NSpacePerPatch[a]
			isMax[a] = c[a] == nAxis-1
		} else {
			isMin[a], isMax[a] = true, true
		}
	}
	p, err := patch.New(globalIndex, vp.Sim.NDimField, vp.Sim.NDimParticle, vp.Sim.GhostCells, ext,
		vp.Sim.CellLength, isMin, isMax, species, vp.Interp, vp.Pusher, vp.Depositor)
	if err != nil {
		return nil, err
	}
	if err := vp.configureDispatchers(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (vp *VectorPatch) configureDispatchers(p *patch.Patch) error {
	for si, sp := range vp.Sim.Species {
		for a := 0; a < vp.Sim.NDimField; a++ {
			for _, side := range []pbc.Side{pbc.Min, pbc.Max} {
				pol, err := sp.Policy(a, side)
				if err != nil {
					return err
				}
				p.Dispatchers[si].Set(a, side, pol)
			}
		}
		if sp.ThermalizeTemp > 0 {
			seed := int64(p.GlobalIndex*len(vp.Sim.Species) + si)
			p.Dispatchers[si].SetSampler(pbc.NewMaxwellJuttnerSampler(sp.ThermalizeTemp, seed))
		}
	}
	return nil
}

// parallelOverPatches dispatches work across a fixed worker team using a chunked static
// partition of vp.Patches, grounded on pthm-soup/game/parallel.go's GOMAXPROCS-sized
// goroutine pool over a slice of entities rather than one goroutine per patch.
func (vp *VectorPatch) parallelOverPatches(work func(p *patch.Patch)) {
	n := len(vp.Patches)
	if n == 0 {
		return
	}
	workers := vp.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= n {
			break
		}
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				work(vp.Patches[i])
			}
		}(lo, hi)
	}
	wg.Wait()
}

// ComputeCharge seeds rho from every owned patch's current particle positions
// (spec's compute_charge, run once at startup ahead of SolvePoisson).
func (vp *VectorPatch) ComputeCharge() {
	vp.parallelOverPatches(func(p *patch.Patch) { p.ComputeCharge() })
}

// Dynamics advances every owned patch's particles by dt: reset currents, push, deposit,
// and (if configured) apply radiation reaction per species (spec's dynamics).
func (vp *VectorPatch) Dynamics(dt float64) error {
	var mu sync.Mutex
	var firstErr error
	vp.parallelOverPatches(func(p *patch.Patch) {
		p.ResetCurrents()
		for si, c := range p.Species {
			old := make([][3]float64, len(c.Parts))
			for i := range c.Parts {
				old[i] = c.Parts[i].Pos
			}
			if err := p.Push(si, dt); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			for i := range c.Parts {
				p.Deposit(si, i, old[i], dt)
			}
			if si < len(vp.RadReaction) && vp.RadReaction[si] != nil {
				for i := range c.Parts {
					part := &c.Parts[i]
					e, b := p.InterpolateFields(part.Pos)
					vp.RadReaction[si].Apply(&part.Mom, part.Mass, part.Weight, e, b, dt)
				}
			}
		}
	})
	return firstErr
}

// ApplyCollisions dispatches every configured species pair within each owned patch through
// the CollisionModel (spec's apply_collisions); partner selection is index-paired, the
// simplest pairing scheme a thin dispatch point can offer without picking a Monte-Carlo
// collision algorithm the spec never names (physics.CollisionModel's doc comment).
func (vp *VectorPatch) ApplyCollisions(dt float64) {
	if vp.Collisions == nil {
		return
	}
	vp.parallelOverPatches(func(p *patch.Patch) {
		for a := 0; a < len(p.Species); a++ {
			for b := a + 1; b < len(p.Species); b++ {
				collidePair(vp.Collisions, p.Species[a], p.Species[b], dt)
			}
		}
	})
}

func collidePair(model physics.CollisionModel, ca, cb *particle.Container, dt float64) {
	n := len(ca.Parts)
	if len(cb.Parts) < n {
		n = len(cb.Parts)
	}
	for i := 0; i < n; i++ {
		pa, pb := &ca.Parts[i], &cb.Parts[i]
		model.Apply(&pa.Mom, &pb.Mom, pa.Mass, pb.Mass, pa.Weight, pb.Weight, dt)
	}
}

// ApplyAntennas drives configured boundary antennas at time t (spec's apply_antennas).
func (vp *VectorPatch) ApplyAntennas(t float64) {
	for _, ant := range vp.Antennas {
		for _, p := range vp.Patches {
			if (ant.Side == pbc.Min && p.IsMin[ant.Axis]) || (ant.Side == pbc.Max && p.IsMax[ant.Axis]) {
				applyAntennaToPatch(p, ant, t)
			}
		}
	}
}

func applyAntennaToPatch(p *patch.Patch, ant Antenna, t float64) {
	lo, hi := p.SendBandRange(ant.Axis, ant.Side)
	nx, ny, nz := p.E.Nx, p.E.Ny, p.E.Nz
	dims := [3]int{nx, ny, nz}
	lo3, hi3 := [3]int{0, 0, 0}, dims
	lo3[ant.Axis], hi3[ant.Axis] = lo, hi
	origin, cell := p.Origin(), p.CellSize()
	for k := lo3[2]; k < hi3[2]; k++ {
		for j := lo3[1]; j < hi3[1]; j++ {
			for i := lo3[0]; i < hi3[0]; i++ {
				pos := [3]float64{
					origin[0] + (float64(i)+0.5)*cell[0],
					origin[1] + (float64(j)+0.5)*cell[1],
					origin[2] + (float64(k)+0.5)*cell[2],
				}
				var delta physics.EMField
				delta[ant.Component] = ant.Profile.F(t, pos)
				if ant.OnE {
					p.E.Add(i, j, k, delta)
				} else {
					p.B.Add(i, j, k, delta)
				}
			}
		}
	}
}

// ApplyExternalFields adds every configured uniform background field contribution into
// every owned patch's full (ghost-included) field array (spec's apply_external_fields).
func (vp *VectorPatch) ApplyExternalFields(t float64) {
	for _, ef := range vp.ExternalFields {
		for _, p := range vp.Patches {
			addUniformField(p, ef, t)
		}
	}
}

func addUniformField(p *patch.Patch, ef ExternalField, t float64) {
	var delta physics.EMField
	delta[ef.Component] = ef.Profile.F(t, p.Origin())
	nx, ny, nz := p.E.Nx, p.E.Ny, p.E.Nz
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				if ef.OnE {
					p.E.Add(i, j, k, delta)
				} else {
					p.B.Add(i, j, k, delta)
				}
			}
		}
	}
}

// DiagSnapshot is the minimal per-rank reduction diagnostics needs every step; the
// diagnostics package cross-rank-reduces and writes these out (spec's run_all_diags).
type DiagSnapshot struct {
	Step             int
	LocalEnergy      float64
	LocalCharge      float64
	LocalFieldEnergy float64
	LocalParticles   int
}

// RunAllDiags gathers this rank's local reductions for one step (spec's run_all_diags
// dispatch point; the diagnostics package owns cross-rank reduction and file output).
func (vp *VectorPatch) RunAllDiags(step int) DiagSnapshot {
	n := 0
	for _, p := range vp.Patches {
		for _, c := range p.Species {
			n += len(c.Parts)
		}
	}
	return DiagSnapshot{
		Step:             step,
		LocalEnergy:      vp.TotalEnergy(),
		LocalCharge:      vp.TotalCharge(),
		LocalFieldEnergy: vp.TotalFieldEnergy(),
		LocalParticles:   n,
	}
}

// TotalEnergy sums weighted relativistic kinetic energy across every owned patch (local rank only)
func (vp *VectorPatch) TotalEnergy() float64 {
	var total float64
	for _, p := range vp.Patches {
		for _, c := range p.Species {
			for i := range c.Parts {
				total += c.Parts[i].KineticEnergy()
			}
		}
	}
	return total
}

// TotalCharge sums weighted charge across every owned patch (local rank only)
func (vp *VectorPatch) TotalCharge() float64 {
	var total float64
	for _, p := range vp.Patches {
		for _, c := range p.Species {
			for i := range c.Parts {
				total += c.Parts[i].Weight * c.Parts[i].Charge
			}
		}
	}
	return total
}

// TotalFieldEnergy sums 0.5*(E^2+B^2) over every owned patch's interior cells (local rank only)
func (vp *VectorPatch) TotalFieldEnergy() float64 {
	var total float64
	for _, p := range vp.Patches {
		total += fieldEnergyInterior(p)
	}
	return total
}

func fieldEnergyInterior(p *patch.Patch) float64 {
	g := p.Ghost
	nx, ny, nz := p.E.Nx, p.E.Ny, p.E.Nz
	var total float64
	for k := interiorLo(nz, g); k < interiorHi(nz, g); k++ {
		for j := interiorLo(ny, g); j < interiorHi(ny, g); j++ {
			for i := interiorLo(nx, g); i < interiorHi(nx, g); i++ {
				e := p.E.At(i, j, k)
				b := p.B.At(i, j, k)
				total += 0.5 * (e[0]*e[0] + e[1]*e[1] + e[2]*e[2] + b[0]*b[0] + b[1]*b[1] + b[2]*b[2])
			}
		}
	}
	return total
}

func interiorLo(n, g int) int {
	if n <= 1 {
		return 0
	}
	return g
}

func interiorHi(n, g int) int {
	if n <= 1 {
		return n
	}
	return n - g
}

// MigrateOut removes and returns a snapshot of an owned patch, for relocation to another
// rank. It does not consult Ownership: the load balancer calls it while vp.Own still
// holds the old partition and installs the new one afterwards (spec's load-balancing
// migration, source side).
func (vp *VectorPatch) MigrateOut(globalIndex int) (patch.Snapshot, error) {
	p, ok := vp.byGlobal[globalIndex]
	if !ok {
		return patch.Snapshot{}, errs.Invariant("rank %d: cannot migrate out untracked patch %d", vp.Comm.Rank(), globalIndex)
	}
	snap := p.Snapshot()
	delete(vp.byGlobal, globalIndex)
	for i, pp := range vp.Patches {
		if pp.GlobalIndex == globalIndex {
			vp.Patches = append(vp.Patches[:i], vp.Patches[i+1:]...)
			break
		}
	}
	return snap, nil
}

// MigrateIn rebuilds a patch from a received Snapshot and adds it to this rank's
// ownership, re-attaching the process-wide field strategies and boundary policies
// (spec's load-balancing migration, target side).
func (vp *VectorPatch) MigrateIn(snap patch.Snapshot) error {
	species := buildSpecies(vp.Sim)
	p, err := patch.FromSnapshot(snap, species, vp.Interp, vp.Pusher, vp.Depositor)
	if err != nil {
		return err
	}
	if err := vp.configureDispatchers(p); err != nil {
		return err
	}
	vp.Patches = append(vp.Patches, p)
	vp.byGlobal[p.GlobalIndex] = p
	sort.Slice(vp.Patches, func(i, j int) bool { return vp.Patches[i].GlobalIndex < vp.Patches[j].GlobalIndex })
	return nil
}

// bandField is the ghost-exchange wire surface both patch.VectorField and
// patch.ScalarField satisfy; defined here (not in patch) purely as a local abstraction
// over "whichever of E/B/J/Rho" the exchange loop is currently moving.
type bandField interface {
	ExtractBand(axis, lo, hi int) []float64
	ApplyBand(axis, lo, hi int, data []float64, additive bool)
}

func fieldByName(p *patch.Patch, name string) bandField {
	switch name {
	case "E":
		return p.E
	case "B":
		return p.B
	case "J":
		return p.J
	case "Rho":
		return p.Rho
	}
	return nil
}

func opposite(s pbc.Side) pbc.Side {
	if s == pbc.Min {
		return pbc.Max
	}
	return pbc.Min
}

// neighborFor resolves the neighbor across (axis,side) of a patch: its global index, and
// whether no exchange applies at all (a non-periodic global boundary has nothing to
// exchange with — the boundary condition itself, not a neighbor, governs that face).
func (vp *VectorPatch) neighborFor(p *patch.Patch, axis int, side pbc.Side) (neighborGlobal int, skip bool) {
	isGlobalBoundary := (side == pbc.Min && p.IsMin[axis]) || (side == pbc.Max && p.IsMax[axis])
	delta := 1
	if side == pbc.Min {
		delta = -1
	}
	if isGlobalBoundary {
		if vp.Sim.EMBCs[axis][side] != inp.EMPeriodic {
			return -1, true
		}
		return vp.Grid.NeighborIndexPeriodic(p.GlobalIndex, axis, delta), false
	}
	n := vp.Grid.NeighborIndex(p.GlobalIndex, axis, delta)
	if n < 0 {
		return -1, true
	}
	return n, false
}

// ghostMsg is the wire format for a cross-rank field-band exchange (spec §4.4).
type ghostMsg struct {
	GlobalIndex int
	Axis        int
	Side        int
	Name        string
	Additive    bool
	Data        []float64
}

// exchangeFields performs one ghost-layer exchange pass over every named field, ordered
// axis 0 -> 1 -> 2 to keep diagonal (corner) ghosts consistent (spec §4.4): every send for
// an axis is posted before any receive for that axis is drained, so a diagonal neighbor's
// already-correct edge ghost is available before the next axis reads it. The whole call
// shares one Comm.NextEpoch value, tagging every "ghost" message it posts so a rank still
// draining this call can never mistake a "ghost" message from a later call (this step's
// other exchangeFields invocation, or a faster neighbor already into next step) for one
// of its own — the two mandatory barriers only bracket the Maxwell solve, not this.
func (vp *VectorPatch) exchangeFields(names []string, additive bool) error {
	epoch := vp.Comm.NextEpoch()
	for axis := 0; axis < vp.Sim.NDimField; axis++ {
		expected := 0
		for _, side := range []pbc.Side{pbc.Min, pbc.Max} {
			for _, p := range vp.Patches {
				n, err := vp.postFieldFace(p, axis, side, names, additive, epoch)
				if err != nil {
					return err
				}
				expected += n
			}
		}
		if err := vp.drainGhostMessages(expected, epoch); err != nil {
			return err
		}
	}
	return nil
}

func (vp *VectorPatch) postFieldFace(p *patch.Patch, axis int, side pbc.Side, names []string, additive bool, epoch int) (int, error) {
	neighborGlobal, skip := vp.neighborFor(p, axis, side)
	if skip {
		return 0, nil
	}
	lo, hi := p.SendBandRange(axis, side)
	oppSide := opposite(side)
	ownerRank := vp.Own.RankOf(neighborGlobal)
	if ownerRank == vp.Comm.Rank() {
		neighborPatch, ok := vp.byGlobal[neighborGlobal]
		if !ok {
			return 0, errs.Invariant("rank %d: neighbor patch %d owned locally but not tracked", vp.Comm.Rank(), neighborGlobal)
		}
		glo, ghi := neighborPatch.GhostBandRange(axis, oppSide)
		for _, name := range names {
			band := fieldByName(p, name).ExtractBand(axis, lo, hi)
			fieldByName(neighborPatch, name).ApplyBand(axis, glo, ghi, band, additive)
		}
		return 0, nil
	}
	for _, name := range names {
		band := fieldByName(p, name).ExtractBand(axis, lo, hi)
		msg := ghostMsg{GlobalIndex: neighborGlobal, Axis: axis, Side: int(oppSide), Name: name, Additive: additive, Data: band}
		buf, err := encodeGob(msg)
		if err != nil {
			return 0, errs.Comm("rank %d: cannot encode ghost message: %v", vp.Comm.Rank(), err)
		}
		if err := vp.Comm.Send(ownerRank, "ghost", epoch, buf); err != nil {
			return 0, err
		}
	}
	return len(names), nil
}

func (vp *VectorPatch) drainGhostMessages(expected, epoch int) error {
	received := 0
	idle := 0
	const maxIdle = 200000
	var stash []transport.Message
	for received < expected {
		msg, ok := vp.Comm.Recv()
		if !ok {
			idle++
			if idle > maxIdle {
				return errs.Comm("rank %d: timed out waiting for %d ghost messages (got %d)", vp.Comm.Rank(), expected, received)
			}
			runtime.Gosched()
			continue
		}
		idle = 0
		if msg.Kind != "ghost" || msg.Epoch != epoch {
			// belongs to a different exchange call (another axis's drain already
			// moved on, or a different step entirely): hold it for whichever call
			// actually expects it instead of discarding it.
			stash = append(stash, msg)
			continue
		}
		var g ghostMsg
		if err := decodeGob(msg.Data, &g); err != nil {
			return errs.Comm("rank %d: cannot decode ghost message: %v", vp.Comm.Rank(), err)
		}
		p, ok := vp.byGlobal[g.GlobalIndex]
		if !ok {
			return errs.Invariant("rank %d: received ghost data for untracked patch %d", vp.Comm.Rank(), g.GlobalIndex)
		}
		lo, hi := p.GhostBandRange(g.Axis, pbc.Side(g.Side))
		fieldByName(p, g.Name).ApplyBand(g.Axis, lo, hi, g.Data, g.Additive)
		received++
	}
	for _, m := range stash {
		vp.Comm.Requeue(m)
	}
	return nil
}

// SumDensities additively exchanges the ghost contributions of J and rho deposited by
// Dynamics, folding each patch's spillover into its owning neighbor (spec's sum_densities).
func (vp *VectorPatch) SumDensities() error {
	return vp.exchangeFields([]string{"J", "Rho"}, true)
}

// FinalizeSyncAndBCFields overwrite-exchanges E and B ghost layers after the Maxwell
// solve (spec's finalize_sync_and_bc_fields). No electromagnetic boundary condition
// (silver-muller, PML, reflective) is applied here, and the shipped physics.YeeSolver
// applies none during SolveMaxwell either.
func (vp *VectorPatch) FinalizeSyncAndBCFields() error {
	return vp.exchangeFields([]string{"E", "B"}, false)
}

// SyncMirrorDomain runs one Maxwell solve via the C5 Cartesian Mirror Domain (spec §4.9's
// "patches -> mirror domain; barrier; solveMaxwell; mirror domain -> patches", the two
// barriers the driver's pseudocode requires around the process-wide collective gather).
// It is a no-op while t is still within the frozen-field warm-up window. The local patch
// set must already tile a rectangle or Build returns an errs.Invariant; nothing in the
// step loop runs mirror.ReconcileOwnership to restore that after a repartition.
func (vp *VectorPatch) SyncMirrorDomain(solver physics.FieldSolver, solverDt, t float64) error {
	if t < vp.Sim.TimeFieldsFrozen {
		return nil
	}
	vp.Comm.Barrier()
	dom, err := mirror.Build(vp.Sim.NDimField, vp.Sim.CellLength, vp.Patches)
	if err != nil {
		return err
	}
	dom.Gather(vp.Patches)
	vp.Comm.Barrier()
	if err := solver.SolveMaxwell(dom, solverDt); err != nil {
		return errs.Invariant("rank %d: field solver %q failed: %v", vp.Comm.Rank(), solver.Name(), err)
	}
	dom.Scatter(vp.Patches)
	return nil
}

// partMsg is the wire format for a cross-rank particle-exchange buffer (spec §4.4).
type partMsg struct {
	GlobalIndex int
	Buffer      patch.ExchangeBuffer
	Offset      float64
}

// FinalizeAndSortParts resolves every particle flagged by Dynamics' Push calls: global
// boundaries dispatch locally (reflective/stop/thermalize/remove/none); periodic wraps and
// interior crossings exchange into the owning neighbor patch, wherever that patch lives
// (same rank: direct Unpack; other rank: transport.Comm). Concludes with a cache-locality
// re-sort and the patch residency invariant check (spec's finalize_and_sort_parts).
func (vp *VectorPatch) FinalizeAndSortParts() error {
	epoch := vp.Comm.NextEpoch()
	type pending struct {
		from     *patch.Patch
		resolved patch.ResolvedLeaving
	}
	pendings := make([]pending, len(vp.Patches))
	for i, p := range vp.Patches {
		pendings[i] = pending{from: p, resolved: p.ResolveLeaving()}
	}

	expected := 0
	for _, pd := range pendings {
		for _, buf := range pd.resolved.Exchange {
			neighborGlobal, skip := vp.neighborFor(pd.from, buf.Face.Axis, buf.Face.Side)
			if skip {
				return errs.Invariant("patch %d: particle exchange queued on a face with no neighbor and no periodic wrap", pd.from.GlobalIndex)
			}
			isGlobalBoundary := (buf.Face.Side == pbc.Min && pd.from.IsMin[buf.Face.Axis]) || (buf.Face.Side == pbc.Max && pd.from.IsMax[buf.Face.Axis])
			var offset float64
			if isGlobalBoundary {
				if buf.Face.Side == pbc.Min {
					offset = -vp.domainLength[buf.Face.Axis]
				} else {
					offset = vp.domainLength[buf.Face.Axis]
				}
			}
			ownerRank := vp.Own.RankOf(neighborGlobal)
			if ownerRank == vp.Comm.Rank() {
				neighborPatch, ok := vp.byGlobal[neighborGlobal]
				if !ok {
					return errs.Invariant("rank %d: neighbor patch %d owned locally but not tracked", vp.Comm.Rank(), neighborGlobal)
				}
				neighborPatch.Unpack(buf, offset)
				continue
			}
			data, err := encodeGob(partMsg{GlobalIndex: neighborGlobal, Buffer: buf, Offset: offset})
			if err != nil {
				return errs.Comm("rank %d: cannot encode particle-exchange message: %v", vp.Comm.Rank(), err)
			}
			if err := vp.Comm.Send(ownerRank, "parts", epoch, data); err != nil {
				return err
			}
			expected++
		}
	}

	if err := vp.drainPartMessages(expected, epoch); err != nil {
		return err
	}
	for _, pd := range pendings {
		pd.from.ClearLeaving()
	}

	var firstErr error
	vp.parallelOverPatches(func(p *patch.Patch) {
		p.SortByCell()
		if err := p.CheckResidency(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

func (vp *VectorPatch) drainPartMessages(expected, epoch int) error {
	received := 0
	idle := 0
	const maxIdle = 200000
	var stash []transport.Message
	for received < expected {
		msg, ok := vp.Comm.Recv()
		if !ok {
			idle++
			if idle > maxIdle {
				return errs.Comm("rank %d: timed out waiting for %d particle-exchange messages (got %d)", vp.Comm.Rank(), expected, received)
			}
			runtime.Gosched()
			continue
		}
		idle = 0
		if msg.Kind != "parts" || msg.Epoch != epoch {
			// a fast neighbor can already be this far into next step's (or the
			// load balancer's) traffic while we are still draining this call;
			// hold the message for whichever call actually expects it.
			stash = append(stash, msg)
			continue
		}
		var m partMsg
		if err := decodeGob(msg.Data, &m); err != nil {
			return errs.Comm("rank %d: cannot decode particle-exchange message: %v", vp.Comm.Rank(), err)
		}
		p, ok := vp.byGlobal[m.GlobalIndex]
		if !ok {
			return errs.Invariant("rank %d: received particles for untracked patch %d", vp.Comm.Rank(), m.GlobalIndex)
		}
		p.Unpack(m.Buffer, m.Offset)
		received++
	}
	for _, m := range stash {
		vp.Comm.Requeue(m)
	}
	return nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
