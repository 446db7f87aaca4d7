// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package physics

import "github.com/cpmech/flarepic/errs"

// NewFieldSolver resolves inp.FieldSolverConfig.Name into a concrete FieldSolver (spec
// §9's single explicit solver switch). Only the Yee reference stencil is registered;
// PSATD and other spectral variants are a second FieldSolver implementation an operator
// can register here without touching any orchestration code (spec §1 Non-goals).
func NewFieldSolver(name string) (FieldSolver, error) {
	switch name {
	case "", "yee":
		return YeeSolver{}, nil
	}
	return nil, errs.Config("unrecognized field_solver.em_solver %q: must be one of yee", name)
}
