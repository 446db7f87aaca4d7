// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package inp implements the input data record consumed by the engine: the parsed,
// fully-populated parameter record spec §6 describes as the hand-off from the (external,
// Non-goal) input-deck scripting host. Parsing a .py deck into this struct is out of
// scope; reading this struct's own JSON representation and validating it is not.
package inp

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/cpmech/flarepic/errs"
	"github.com/cpmech/flarepic/pbc"
	"github.com/cpmech/gosl/io"
	"gopkg.in/yaml.v3"
)

// Geometry selects the field/particle dimensionality pairing (spec §3, §6)
type Geometry string

// recognized geometries
const (
	Geometry1D3V Geometry = "1d3v"
	Geometry2D3V Geometry = "2d3v"
	Geometry3D3V Geometry = "3d3v"
	Geometry3DRZ Geometry = "3drz" // axisymmetric cylindrical: nDim_field=2, nDim_particle=3
)

// NDims returns (nDim_field, nDim_particle) for this geometry, or an error for an
// unrecognized value (spec §3's "nDim_particle equal to nDim_field except in 3drz")
func (g Geometry) NDims() (ndimField, ndimParticle int, err error) {
	switch g {
	case Geometry1D3V:
		return 1, 1, nil
	case Geometry2D3V:
		return 2, 2, nil
	case Geometry3D3V:
		return 3, 3, nil
	case Geometry3DRZ:
		return 2, 3, nil
	}
	return 0, 0, errs.Config("unrecognized geometry %q: must be one of 1d3v, 2d3v, 3d3v, 3drz", g)
}

// EMBoundary is one EM field boundary-condition family for one (axis, side) (spec §6 EM_BCs)
type EMBoundary string

// recognized EM boundary families; the concrete absorbing solver stencil is a Non-goal
// plug-in (spec §1), so only the dispatch tag needed to validate against species BCs lives here
const (
	EMPeriodic EMBoundary = "periodic"
	EMSilverMuller EMBoundary = "silver-muller"
	EMPML          EMBoundary = "pml"
	EMReflective   EMBoundary = "reflective"
)

// SpeciesConfig is one species' static configuration from the deck (spec §6 species.*)
type SpeciesConfig struct {
	Name               string        `json:"name"`
	Mass               float64       `json:"mass"` // 0 flags a photon species
	Charge             float64       `json:"charge"`
	Track              bool          `json:"track"`
	ThermalizeTemp     float64       `json:"thermalize_temperature"` // mass*c^2 units, used by the thermalize policy
	BoundaryConditions [3][2]string  `json:"boundary_conditions"`    // [axis][side] in {reflective,remove,stop,thermalize,periodic,none}
	InjectionProfile   string        `json:"injection_profile"`      // name into DriveProfiles, used by moving-window leading-edge fill
}

// IsPhoton reports whether this species config describes a massless species
func (s SpeciesConfig) IsPhoton() bool { return s.Mass == 0 }

// Policy parses one (axis,side) entry of BoundaryConditions into a pbc.Policy
func (s SpeciesConfig) Policy(axis int, side pbc.Side) (pbc.Policy, error) {
	raw := s.BoundaryConditions[axis][side]
	switch raw {
	case "reflective":
		return pbc.Reflective, nil
	case "remove":
		return pbc.Remove, nil
	case "stop":
		return pbc.Stop, nil
	case "thermalize":
		return pbc.Thermalize, nil
	case "periodic":
		return pbc.Periodic, nil
	case "none", "":
		return pbc.None, nil
	}
	return pbc.None, errs.Config("species %q: unknown boundary_conditions[%d][%d] = %q", s.Name, axis, side, raw)
}

// LoadBalanceConfig is C7's schedule and cost model (spec §4.7, §6 has_load_balancing)
type LoadBalanceConfig struct {
	Enabled bool    `json:"has_load_balancing"`
	Every   int     `json:"every"`         // regular-interval schedule in steps; 0 disables
	Steps   []int   `json:"time_selection"` // explicit step schedule, combined with Every
	Alpha   float64 `json:"alpha"`         // per-particle cost weight
	Beta    float64 `json:"beta"`          // per-cell cost weight
}

// MovingWindowConfig is C6's trigger and injection configuration (spec §4.6, §6 hasWindow)
type MovingWindowConfig struct {
	Enabled          bool    `json:"has_window"`
	TStart           float64 `json:"t_start"`
	EveryKSteps      int     `json:"every_k_steps"` // shift velocity expressed as "one cell every k steps"
	InjectionProfile string  `json:"injection_profile"`
}

// CheckpointConfig is C8's dump schedule (spec §4.8, §7 Kind 4/5)
type CheckpointConfig struct {
	Enabled          bool    `json:"enabled"`
	EveryNSteps      int     `json:"every_n_steps"`
	EveryWallSeconds float64 `json:"every_wall_seconds"`
	Dir              string  `json:"dir"`
}

// FieldSolverConfig names the single explicit solver switch spec §9 calls for (replacing
// the teacher's disabled Yee/PSATD commented-out branches with one chosen-at-setup value)
type FieldSolverConfig struct {
	Name string `json:"em_solver"` // "yee" or empty (the only names physics.NewFieldSolver accepts) — resolved there, not in this package
}

// Simulation is the fully-populated parameter record the core receives (spec §6)
type Simulation struct {
	Geometry       Geometry             `json:"geometry"`
	CellLength     [3]float64           `json:"cell_length"`
	NSpaceGlobal   [3]int               `json:"n_space_global"`
	NSpacePerPatch [3]int               `json:"n_space_per_patch"`
	GhostCells     int                  `json:"ghost_cells"`
	Timestep       float64              `json:"timestep"`
	NTime          int                  `json:"n_time"`
	EMBCs          [3][2]EMBoundary     `json:"em_bcs"`
	GlobalFactor   [3]int               `json:"global_factor"`
	Species        []SpeciesConfig      `json:"species"`
	SolvePoisson   bool                 `json:"solve_poisson"`
	PoissonTol     float64              `json:"poisson_tol"`
	TimeFieldsFrozen float64            `json:"time_fields_frozen"`
	LoadBalance    LoadBalanceConfig    `json:"load_balancing"`
	Window         MovingWindowConfig   `json:"moving_window"`
	Checkpoint     CheckpointConfig     `json:"checkpoint"`
	FieldSolver    FieldSolverConfig    `json:"field_solver"`
	DriveProfiles  DriveProfilesData    `json:"drive_profiles"`

	// derived, filled by Validate
	NDimField    int `json:"-"`
	NDimParticle int `json:"-"`
	RadialAxis   int `json:"-"` // only meaningful for Geometry3DRZ; index 1 by convention (x is axis 0)
}

// ReadSim reads and validates a simulation parameter record from its JSON representation
// (spec §6: the core receives an already-populated record; this is that record's own
// serialization, not the external deck parser)
func ReadSim(path string) (*Simulation, error) {
	b, err := io.ReadFile(path)
	if err != nil {
		return nil, errs.Config("cannot read simulation file %q: %v", path, err)
	}
	var s Simulation
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errs.Config("cannot unmarshal simulation file %q: %v", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate fills derived fields and enforces every Kind-1 configuration error named in
// spec §4.2 and §7: unknown boundary policy, EM/particle BC incompatibility, nonconformant
// global_factor, unrecognized geometry.
func (s *Simulation) Validate() error {
	ndimField, ndimParticle, err := s.Geometry.NDims()
	if err != nil {
		return err
	}
	s.NDimField, s.NDimParticle = ndimField, ndimParticle
	if s.Geometry == Geometry3DRZ {
		s.RadialAxis = 1
	}

	for a := 0; a < ndimField; a++ {
		if s.NSpaceGlobal[a] <= 0 {
			return errs.Config("n_space_global[%d] must be positive, got %d", a, s.NSpaceGlobal[a])
		}
		if s.NSpacePerPatch[a] <= 0 {
			return errs.Config("n_space_per_patch[%d] must be positive, got %d", a, s.NSpacePerPatch[a])
		}
		if s.NSpaceGlobal[a]%s.NSpacePerPatch[a] != 0 {
			return errs.Config("n_space_global[%d]=%d is not a multiple of n_space_per_patch[%d]=%d",
				a, s.NSpaceGlobal[a], a, s.NSpacePerPatch[a])
		}
		nPatchesAxis := s.NSpaceGlobal[a] / s.NSpacePerPatch[a]
		gf := s.GlobalFactor[a]
		if gf <= 0 {
			gf = 1
		}
		if nPatchesAxis%gf != 0 {
			return errs.Config("global_factor[%d]=%d does not evenly divide the patch-grid side (%d) on axis %d",
				a, gf, nPatchesAxis, a)
		}
	}
	if s.Timestep <= 0 {
		return errs.Config("timestep must be positive, got %g", s.Timestep)
	}

	for _, sp := range s.Species {
		for a := 0; a < ndimField; a++ {
			for _, side := range []pbc.Side{pbc.Min, pbc.Max} {
				pol, err := sp.Policy(a, side)
				if err != nil {
					return err
				}
				if s.Geometry == Geometry3DRZ && a == s.RadialAxis {
					if side == pbc.Max && pol != pbc.Remove {
						return errs.Config("species %q: axisymmetric outer radial boundary must be 'remove', got %q", sp.Name, pol)
					}
					if side == pbc.Min && pol != pbc.None {
						return errs.Config("species %q: axisymmetric inner radial boundary (r=0) must be 'none', got %q", sp.Name, pol)
					}
					continue
				}
				emPeriodic := s.EMBCs[a][side] == EMPeriodic
				if emPeriodic && !sp.Track && pol != pbc.Periodic {
					return errs.Config("species %q axis %d: EM boundary is periodic but species boundary is %q, not periodic", sp.Name, a, pol)
				}
			}
		}
		if sp.Mass < 0 {
			return errs.Config("species %q: mass must be nonnegative, got %g", sp.Name, sp.Mass)
		}
	}
	return nil
}

// Digest returns a stable hash of the subset of configuration that must match between a
// checkpoint writer and a restart reader (spec §7 Kind 1 "restart with incompatible
// parameters digest"): the whole record, canonicalized through a YAML marshal the way
// pthm-soup/config/config.go canonicalizes its own config before hashing/diffing it.
func (s *Simulation) Digest() (string, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return "", errs.Config("cannot canonicalize simulation record for digesting: %v", err)
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}

// CheckDigestCompatible compares a restart reader's record against the digest stored in a
// checkpoint, failing with a Kind-1 configuration error on mismatch (spec §7)
func (s *Simulation) CheckDigestCompatible(checkpointDigest string) error {
	d, err := s.Digest()
	if err != nil {
		return err
	}
	if d != checkpointDigest {
		return errs.Config("restart parameters digest mismatch: running config hashes to %s, checkpoint was produced with %s", d, checkpointDigest)
	}
	return nil
}
