// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vectorpatch

import (
	"github.com/cpmech/flarepic/patch"
	"github.com/cpmech/gosl/la"
)

// SolvePoisson initializes E from the current charge density via a patch-local conjugate
// gradient solve of the discrete Poisson equation (spec's solve_poisson), run once at
// startup when sim.solve_poisson is set so the field starts charge-consistent instead of
// relying on the Maxwell solver alone to catch up over many steps.
//
// This reference solve treats each patch's interior independently with homogeneous
// Dirichlet conditions at its own boundary; it is deliberately NOT the fully distributed,
// ghost-coupled Poisson solve a production engine would run across the whole mirror
// domain (see DESIGN.md's SolvePoisson entry for the scope call). It exists so a deck
// requesting solve_poisson exercises a concrete gosl/la-based numerical kernel end-to-end.
func (vp *VectorPatch) SolvePoisson() error {
	if !vp.Sim.SolvePoisson {
		return nil
	}
	var firstErr error
	vp.parallelOverPatches(func(p *patch.Patch) {
		if err := solvePoissonPatch(p, vp.Sim.PoissonTol); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// poissonOperator applies the 7-point (or fewer, in lower dims) discrete Laplacian with
// homogeneous Dirichlet boundaries to x, writing into y.
type poissonOperator struct {
	nx, ny, nz int
	invh2      [3]float64
}

func (o poissonOperator) idx(i, j, k int) int { return (k*o.ny+j)*o.nx + i }

func (o poissonOperator) apply(x, y []float64) {
	for k := 0; k < o.nz; k++ {
		for j := 0; j < o.ny; j++ {
			for i := 0; i < o.nx; i++ {
				center := x[o.idx(i, j, k)]
				lap := -2 * center * (o.invh2[0] + o.invh2[1] + o.invh2[2])
				if i > 0 {
					lap += o.invh2[0] * x[o.idx(i-1, j, k)]
				}
				if i < o.nx-1 {
					lap += o.invh2[0] * x[o.idx(i+1, j, k)]
				}
				if j > 0 {
					lap += o.invh2[1] * x[o.idx(i, j-1, k)]
				}
				if j < o.ny-1 {
					lap += o.invh2[1] * x[o.idx(i, j+1, k)]
				}
				if k > 0 {
					lap += o.invh2[2] * x[o.idx(i, j, k-1)]
				}
				if k < o.nz-1 {
					lap += o.invh2[2] * x[o.idx(i, j, k+1)]
				}
				y[o.idx(i, j, k)] = lap
			}
		}
	}
}

func solvePoissonPatch(p *patch.Patch, tol float64) error {
	nx, ny, nz := p.Rho.Nx, p.Rho.Ny, p.Rho.Nz
	n := nx * ny * nz
	if n == 0 {
		return nil
	}
	op := poissonOperator{nx: nx, ny: ny, nz: nz}
	dx := p.CellSize()
	for a := 0; a < 3; a++ {
		if dx[a] > 0 {
			op.invh2[a] = 1 / (dx[a] * dx[a])
		}
	}

	rho := make([]float64, n)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				rho[op.idx(i, j, k)] = p.Rho.At(i, j, k)
			}
		}
	}

	phi := make([]float64, n)
	la.VecFill(phi, 0)

	r := make([]float64, n)
	la.VecCopy(r, -1, rho)
	d := make([]float64, n)
	la.VecCopy(d, 1, r)

	rsOld := dotProduct(r, r)
	if rsOld == 0 {
		return nil
	}
	maxIter := 2 * n
	if maxIter < 50 {
		maxIter = 50
	}
	ad := make([]float64, n)
	for iter := 0; iter < maxIter; iter++ {
		op.apply(d, ad)
		denom := dotProduct(d, ad)
		if denom == 0 {
			break
		}
		alpha := rsOld / denom
		axpy(phi, alpha, d)
		axpy(r, -alpha, ad)
		rsNew := dotProduct(r, r)
		if la.VecNorm(r) < tol {
			rsOld = rsNew
			break
		}
		beta := rsNew / rsOld
		for i := range d {
			d[i] = r[i] + beta*d[i]
		}
		rsOld = rsNew
	}

	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				var e [3]float64
				if i > 0 && i < nx-1 {
					e[0] = -(phi[op.idx(i+1, j, k)] - phi[op.idx(i-1, j, k)]) / (2 * dx[0])
				}
				if j > 0 && j < ny-1 {
					e[1] = -(phi[op.idx(i, j+1, k)] - phi[op.idx(i, j-1, k)]) / (2 * dx[1])
				}
				if k > 0 && k < nz-1 {
					e[2] = -(phi[op.idx(i, j, k+1)] - phi[op.idx(i, j, k-1)]) / (2 * dx[2])
				}
				p.E.Set(i, j, k, e)
			}
		}
	}
	return nil
}

// dotProduct and axpy are hand-rolled: gosl/la demonstrates MatAlloc/MatVecMul/VecCopy/
// VecFill/VecNorm across the pack but no dot-product or scaled-accumulate call, so the
// two primitives this CG needs beyond those are written directly (see DESIGN.md).
func dotProduct(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func axpy(y []float64, alpha float64, x []float64) {
	for i := range y {
		y[i] += alpha * x[i]
	}
}
