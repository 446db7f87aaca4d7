// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package physics defines the plug-in contracts that the orchestration core
// (patch, vectorpatch, mirror, window) dispatches through. The concrete
// numerics behind each contract — field-solver stencils, particle pushers,
// shape-function interpolation/deposition, QED table lookups, laser/antenna
// source profiles — are external collaborators (spec §1 Non-goals); this
// package ships reference implementations sufficient to exercise every
// operation end-to-end, not production-grade physics kernels.
package physics

// EMField holds the three Cartesian components of a field sampled at one point
type EMField [3]float64

// Interpolator maps grid field values to a particle position (shape-function order left to implementation)
type Interpolator interface {
	// Interpolate returns (E, B) at the given global-frame position, reading patch-local field slabs
	Interpolate(fields FieldReader, pos [3]float64) (e, b EMField)
}

// FieldReader is the minimal read surface a patch's fields expose to an Interpolator/Depositor
type FieldReader interface {
	CellSize() [3]float64
	Origin() [3]float64
	NDim() int
	EAt(i, j, k int) EMField
	BAt(i, j, k int) EMField
}

// FieldWriter is the minimal write surface a Depositor needs (additive into ghosts allowed)
type FieldWriter interface {
	FieldReader
	AddJ(i, j, k int, j3 EMField)
	AddRho(i, j, k int, rho float64)
}

// Pusher advances one particle's momentum then position over dt given interpolated fields (relativistic Boris by default)
type Pusher interface {
	Push(pos, mom *[3]float64, mass, charge, weight float64, e, b EMField, dt float64)
}

// Depositor writes a charge-conserving current/charge contribution for one particle's motion into a patch's fields
type Depositor interface {
	Deposit(fields FieldWriter, posOld, posNew [3]float64, mass, charge, weight float64, dt float64)
}

// FieldSolver advances E,B on a contiguous Cartesian mirror domain by one Maxwell step (Yee, PSATD, ... — see spec §4.5/§9)
type FieldSolver interface {
	Name() string
	SolveMaxwell(domain MaxwellDomain, dt float64) error
}

// MaxwellDomain is the contiguous single-block field representation the field solver operates on
type MaxwellDomain interface {
	Dims() [3]int
	CellSize() [3]float64
	EAt(i, j, k int) EMField
	BAt(i, j, k int) EMField
	SetE(i, j, k int, e EMField)
	SetB(i, j, k int, b EMField)
	JAt(i, j, k int) EMField
}

// DriveProfile is a time-space callable used for antennas, lasers and species injection profiles
type DriveProfile interface {
	F(t float64, x [3]float64) float64
}

// RadiationReactionModel is the QED nonlinear-Compton contract (table generation is a Non-goal; this is the dispatch point)
type RadiationReactionModel interface {
	// Apply may reduce the particle's momentum (radiation reaction) and optionally emit a photon energy/weight pair
	Apply(mom *[3]float64, mass, weight float64, e, b EMField, dt float64) (emittedEnergy, emittedWeight float64, emitted bool)
}

// PairProductionModel is the multiphoton Breit-Wheeler contract
type PairProductionModel interface {
	// Apply may convert a photon into an electron-positron pair; returns whether a pair was created and the pair's momentum
	Apply(mom [3]float64, weight float64, e, b EMField, dt float64) (electronMom, positronMom [3]float64, pairWeight float64, created bool)
}

// CollisionModel is the inter-particle (binary or Monte-Carlo) collision contract
// VectorPatch.ApplyCollisions dispatches through once per configured species pair; the
// specific rate/scattering physics is an external collaborator the same way the QED
// table lookups are (spec §1 Non-goals list stops at "QED lookup-table generation", and
// collisions are only named as a C4 call site, never specified further — so this stays a
// thin dispatch contract plus a no-op default, like RadiationReactionModel/PairProductionModel).
type CollisionModel interface {
	// Apply may scatter the two particles' momenta in place; returns whether a collision occurred
	Apply(momA, momB *[3]float64, massA, massB, weightA, weightB float64, dt float64) (collided bool)
}
