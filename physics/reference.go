// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package physics

import "math"

// LinearInterpolator implements order-1 (CIC) shape-function interpolation.
// A real engine plugs in higher-order B-spline shapes here (spec §1 Non-goals); this
// reference keeps the contract exercisable without that machinery.
type LinearInterpolator struct{}

func (LinearInterpolator) Interpolate(f FieldReader, pos [3]float64) (e, b EMField) {
	dx := f.CellSize()
	org := f.Origin()
	nd := f.NDim()
	var fi, ff [3]float64
	for a := 0; a < 3; a++ {
		if a < nd && dx[a] > 0 {
			rel := (pos[a] - org[a]) / dx[a]
			i := math.Floor(rel)
			fi[a] = i
			ff[a] = rel - i
		}
	}
	i0, j0, k0 := int(fi[0]), int(fi[1]), int(fi[2])
	i1, j1, k1 := i0, j0, k0
	if nd > 0 {
		i1 = i0 + 1
	}
	if nd > 1 {
		j1 = j0 + 1
	}
	if nd > 2 {
		k1 = k0 + 1
	}
	fx, fy, fz := ff[0], ff[1], ff[2]
	corners := [8]struct {
		i, j, k int
		w       float64
	}{
		{i0, j0, k0, (1 - fx) * (1 - fy) * (1 - fz)},
		{i1, j0, k0, fx * (1 - fy) * (1 - fz)},
		{i0, j1, k0, (1 - fx) * fy * (1 - fz)},
		{i1, j1, k0, fx * fy * (1 - fz)},
		{i0, j0, k1, (1 - fx) * (1 - fy) * fz},
		{i1, j0, k1, fx * (1 - fy) * fz},
		{i0, j1, k1, (1 - fx) * fy * fz},
		{i1, j1, k1, fx * fy * fz},
	}
	for _, c := range corners {
		if c.w == 0 {
			continue
		}
		ce := f.EAt(c.i, c.j, c.k)
		cb := f.BAt(c.i, c.j, c.k)
		for a := 0; a < 3; a++ {
			e[a] += c.w * ce[a]
			b[a] += c.w * cb[a]
		}
	}
	return
}

// SpeedOfLight in normalized (code) units, matching the teacher-adjacent convention of c=1
const SpeedOfLight = 1.0

// BorisPusher implements the standard relativistic Boris rotation.
type BorisPusher struct{}

func (BorisPusher) Push(pos, mom *[3]float64, mass, charge, weight float64, e, b EMField, dt float64) {
	if mass == 0 {
		// photons: free-streaming at c along their momentum direction
		p := math.Sqrt(mom[0]*mom[0] + mom[1]*mom[1] + mom[2]*mom[2])
		if p > 0 {
			for a := 0; a < 3; a++ {
				pos[a] += SpeedOfLight * dt * mom[a] / p
			}
		}
		return
	}

	qmdt2 := charge * dt / (2 * mass)

	var uMinus [3]float64
	for a := 0; a < 3; a++ {
		uMinus[a] = mom[a] + qmdt2*e[a]
	}
	gammaMinus := math.Sqrt(1 + (uMinus[0]*uMinus[0]+uMinus[1]*uMinus[1]+uMinus[2]*uMinus[2])/(mass*mass*SpeedOfLight*SpeedOfLight))

	var t [3]float64
	for a := 0; a < 3; a++ {
		t[a] = qmdt2 * b[a] / gammaMinus
	}
	tMagSq := t[0]*t[0] + t[1]*t[1] + t[2]*t[2]

	uPrime := cross(uMinus, t)
	for a := 0; a < 3; a++ {
		uPrime[a] += uMinus[a]
	}

	var s [3]float64
	for a := 0; a < 3; a++ {
		s[a] = 2 * t[a] / (1 + tMagSq)
	}

	uPlus := cross(uPrime, s)
	for a := 0; a < 3; a++ {
		uPlus[a] += uMinus[a]
	}

	var uNew [3]float64
	for a := 0; a < 3; a++ {
		uNew[a] = uPlus[a] + qmdt2*e[a]
	}
	gammaNew := math.Sqrt(1 + (uNew[0]*uNew[0]+uNew[1]*uNew[1]+uNew[2]*uNew[2])/(mass*mass*SpeedOfLight*SpeedOfLight))

	for a := 0; a < 3; a++ {
		mom[a] = uNew[a]
		pos[a] += dt * uNew[a] / (gammaNew * mass)
	}
}

func cross(u, v [3]float64) [3]float64 {
	return [3]float64{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
}

// CICDepositor deposits charge/current onto the 8 (or fewer, in lower dims) surrounding
// primal nodes using the midpoint of the old/new position, charge-conserving only in the
// approximate sense a CIC scheme allows — the full Esirkepov scheme is an external collaborator.
type CICDepositor struct{}

func (CICDepositor) Deposit(f FieldWriter, posOld, posNew [3]float64, mass, charge, weight float64, dt float64) {
	dx := f.CellSize()
	org := f.Origin()
	nd := f.NDim()
	var mid [3]float64
	for a := 0; a < 3; a++ {
		mid[a] = 0.5 * (posOld[a] + posNew[a])
	}
	var vel [3]float64
	if dt > 0 {
		for a := 0; a < 3; a++ {
			vel[a] = (posNew[a] - posOld[a]) / dt
		}
	}

	var fi, ff [3]float64
	for a := 0; a < 3; a++ {
		if a < nd && dx[a] > 0 {
			rel := (mid[a] - org[a]) / dx[a]
			i := math.Floor(rel)
			fi[a] = i
			ff[a] = rel - i
		}
	}
	i0, j0, k0 := int(fi[0]), int(fi[1]), int(fi[2])
	i1, j1, k1 := i0, j0, k0
	if nd > 0 {
		i1 = i0 + 1
	}
	if nd > 1 {
		j1 = j0 + 1
	}
	if nd > 2 {
		k1 = k0 + 1
	}
	fx, fy, fz := ff[0], ff[1], ff[2]
	rho := charge * weight
	j3 := EMField{rho * vel[0], rho * vel[1], rho * vel[2]}
	corners := [8]struct {
		i, j, k int
		w       float64
	}{
		{i0, j0, k0, (1 - fx) * (1 - fy) * (1 - fz)},
		{i1, j0, k0, fx * (1 - fy) * (1 - fz)},
		{i0, j1, k0, (1 - fx) * fy * (1 - fz)},
		{i1, j1, k0, fx * fy * (1 - fz)},
		{i0, j0, k1, (1 - fx) * (1 - fy) * fz},
		{i1, j0, k1, fx * (1 - fy) * fz},
		{i0, j1, k1, (1 - fx) * fy * fz},
		{i1, j1, k1, fx * fy * fz},
	}
	for _, c := range corners {
		if c.w == 0 {
			continue
		}
		f.AddRho(c.i, c.j, c.k, c.w*rho)
		f.AddJ(c.i, c.j, c.k, EMField{c.w * j3[0], c.w * j3[1], c.w * j3[2]})
	}
}

// ConstantDrive is a trivial DriveProfile returning a fixed amplitude, used by tests
// and as the default antenna/injection profile when the deck does not supply one.
type ConstantDrive struct{ Amplitude float64 }

func (d ConstantDrive) F(t float64, x [3]float64) float64 { return d.Amplitude }

// GaussianPulseDrive is a reference laser-style time envelope: a0 * exp(-((t-x/c)/tau)^2)
type GaussianPulseDrive struct {
	A0  float64
	Tau float64
}

func (d GaussianPulseDrive) F(t float64, x [3]float64) float64 {
	arg := (t - x[0]/SpeedOfLight) / d.Tau
	return d.A0 * math.Exp(-arg*arg)
}

// NoOpRadiationReaction is the default RadiationReactionModel: QED table generation
// is an external collaborator (spec §1); this no-op keeps the dispatch point real.
type NoOpRadiationReaction struct{}

func (NoOpRadiationReaction) Apply(mom *[3]float64, mass, weight float64, e, b EMField, dt float64) (float64, float64, bool) {
	return 0, 0, false
}

// NoOpPairProduction is the default PairProductionModel.
type NoOpPairProduction struct{}

func (NoOpPairProduction) Apply(mom [3]float64, weight float64, e, b EMField, dt float64) ([3]float64, [3]float64, float64, bool) {
	return [3]float64{}, [3]float64{}, 0, false
}

// NoOpCollision is the default CollisionModel: no inter-species collision physics.
type NoOpCollision struct{}

func (NoOpCollision) Apply(momA, momB *[3]float64, massA, massB, weightA, weightB float64, dt float64) bool {
	return false
}

// YeeSolver is a reference FieldSolver: a leapfrog finite-difference time-domain update
// (Faraday then Ampere-Maxwell, central-differenced curls) over whatever contiguous block a
// MaxwellDomain presents. The exact half-cell primal/dual staggering a production Yee
// scheme uses is the out-of-scope stencil detail (spec §1 Non-goals); this reference keeps
// solve_poisson's sibling, solveMaxwell, exercisable end-to-end without that machinery.
// PSATD and other spectral variants are a second FieldSolver implementation an operator
// supplies; the core only depends on the Name/SolveMaxwell contract.
type YeeSolver struct{}

func (YeeSolver) Name() string { return "yee" }

func (YeeSolver) SolveMaxwell(domain MaxwellDomain, dt float64) error {
	dims := domain.Dims()
	dx := domain.CellSize()
	nx, ny, nz := dims[0], dims[1], dims[2]
	n := nx * ny * nz
	newB := make([]EMField, n)
	idx := func(i, j, k int) int { return (k*ny+j)*nx + i }

	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				b := domain.BAt(i, j, k)
				c := curl(domain.EAt, dx, dims, i, j, k)
				var nb EMField
				for a := 0; a < 3; a++ {
					nb[a] = b[a] - dt*c[a]
				}
				newB[idx(i, j, k)] = nb
			}
		}
	}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				domain.SetB(i, j, k, newB[idx(i, j, k)])
			}
		}
	}

	newE := make([]EMField, n)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				e := domain.EAt(i, j, k)
				c := curl(domain.BAt, dx, dims, i, j, k)
				jv := domain.JAt(i, j, k)
				var ne EMField
				for a := 0; a < 3; a++ {
					ne[a] = e[a] + dt*(c[a]-jv[a])
				}
				newE[idx(i, j, k)] = ne
			}
		}
	}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				domain.SetE(i, j, k, newE[idx(i, j, k)])
			}
		}
	}
	return nil
}

// curl computes the discrete curl of a sampled vector field at (i,j,k) via central
// differences, treating any axis of extent <=1 as flat (zero derivative along it).
func curl(get func(i, j, k int) EMField, dx [3]float64, dims [3]int, i, j, k int) EMField {
	dFzdy := partialDeriv(get, 2, 1, dims, dx[1], i, j, k)
	dFydz := partialDeriv(get, 1, 2, dims, dx[2], i, j, k)
	dFxdz := partialDeriv(get, 0, 2, dims, dx[2], i, j, k)
	dFzdx := partialDeriv(get, 2, 0, dims, dx[0], i, j, k)
	dFydx := partialDeriv(get, 1, 0, dims, dx[0], i, j, k)
	dFxdy := partialDeriv(get, 0, 1, dims, dx[1], i, j, k)
	return EMField{dFzdy - dFydz, dFxdz - dFzdx, dFydx - dFxdy}
}

func partialDeriv(get func(i, j, k int) EMField, comp, axis int, dims [3]int, dxAxis float64, i, j, k int) float64 {
	if dims[axis] <= 1 || dxAxis == 0 {
		return 0
	}
	ip, jp, kp := i, j, k
	im, jm, km := i, j, k
	switch axis {
	case 0:
		ip++
		im--
	case 1:
		jp++
		jm--
	default:
		kp++
		km--
	}
	return (get(ip, jp, kp)[comp] - get(im, jm, km)[comp]) / (2 * dxAxis)
}
