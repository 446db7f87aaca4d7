// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inp

import (
	"testing"

	"github.com/cpmech/flarepic/pbc"
)

func TestValidateGeometryDims(t *testing.T) {
	s := &Simulation{Geometry: Geometry3DRZ, Timestep: 1e-3,
		NSpaceGlobal: [3]int{64, 32, 1}, NSpacePerPatch: [3]int{8, 8, 1}, GlobalFactor: [3]int{1, 1, 1}}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.NDimField != 2 || s.NDimParticle != 3 {
		t.Fatalf("3drz must have nDimField=2, nDimParticle=3, got %d,%d", s.NDimField, s.NDimParticle)
	}
	if s.RadialAxis != 1 {
		t.Fatalf("3drz radial axis must be 1, got %d", s.RadialAxis)
	}
}

func TestValidateUnknownGeometry(t *testing.T) {
	s := &Simulation{Geometry: "bogus"}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected a configuration error for an unrecognized geometry")
	}
}

func TestValidateAxisymmetricRejectsReflectiveOuterRadial(t *testing.T) {
	s := &Simulation{Geometry: Geometry3DRZ, Timestep: 1e-3,
		NSpaceGlobal: [3]int{64, 32, 1}, NSpacePerPatch: [3]int{8, 8, 1}, GlobalFactor: [3]int{1, 1, 1},
		Species: []SpeciesConfig{{
			Name: "electron",
			BoundaryConditions: [3][2]string{
				{"periodic", "periodic"},
				{"none", "reflective"},
			},
		}},
	}
	err := s.Validate()
	if err == nil {
		t.Fatalf("expected setup to fail before the time loop starts (spec §8 scenario 6)")
	}
}

func TestValidateAxisymmetricAcceptsRemoveOuterRadial(t *testing.T) {
	s := &Simulation{Geometry: Geometry3DRZ, Timestep: 1e-3,
		NSpaceGlobal: [3]int{64, 32, 1}, NSpacePerPatch: [3]int{8, 8, 1}, GlobalFactor: [3]int{1, 1, 1},
		Species: []SpeciesConfig{{
			Name: "electron",
			BoundaryConditions: [3][2]string{
				{"periodic", "periodic"},
				{"none", "remove"},
			},
		}},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEMPeriodicRequiresSpeciesPeriodic(t *testing.T) {
	s := &Simulation{Geometry: Geometry2D3V, Timestep: 1e-3,
		NSpaceGlobal: [3]int{64, 32, 1}, NSpacePerPatch: [3]int{8, 8, 1}, GlobalFactor: [3]int{1, 1, 1},
		EMBCs: [3][2]EMBoundary{
			{EMPeriodic, EMPeriodic},
			{EMSilverMuller, EMSilverMuller},
		},
		Species: []SpeciesConfig{{
			Name: "electron",
			BoundaryConditions: [3][2]string{
				{"remove", "remove"}, // inconsistent with EM periodic on axis 0
				{"remove", "remove"},
			},
		}},
	}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected a configuration error: EM boundary periodic but species boundary is not")
	}
}

func TestSpeciesConfigPolicy(t *testing.T) {
	sp := SpeciesConfig{Name: "e", BoundaryConditions: [3][2]string{{"reflective", "remove"}, {"", ""}}}
	pol, err := sp.Policy(0, pbc.Min)
	if err != nil || pol != pbc.Reflective {
		t.Fatalf("expected reflective, got %v, err=%v", pol, err)
	}
	pol, err = sp.Policy(1, pbc.Max)
	if err != nil || pol != pbc.None {
		t.Fatalf("expected none for an unset entry, got %v, err=%v", pol, err)
	}
}

func TestDigestStableAcrossCalls(t *testing.T) {
	s := &Simulation{Geometry: Geometry1D3V, Timestep: 1e-3, NSpaceGlobal: [3]int{64, 1, 1},
		NSpacePerPatch: [3]int{8, 1, 1}, GlobalFactor: [3]int{1, 1, 1}}
	d1, err := s.Digest()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, _ := s.Digest()
	if d1 != d2 {
		t.Fatalf("digest must be stable across calls on an unchanged record")
	}
	if err := s.CheckDigestCompatible(d1); err != nil {
		t.Fatalf("unexpected digest mismatch: %v", err)
	}
	if err := s.CheckDigestCompatible("deadbeef"); err == nil {
		t.Fatalf("expected a mismatch error against a different digest")
	}
}

func TestDriveProfilesGetConst(t *testing.T) {
	var profiles DriveProfilesData
	p, err := profiles.Get("zero")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := p.F(0, [3]float64{1, 2, 3}); v != 0 {
		t.Fatalf("zero profile must evaluate to 0, got %g", v)
	}
}

func TestDriveProfilesGetMissing(t *testing.T) {
	var profiles DriveProfilesData
	if _, err := profiles.Get("laser1"); err == nil {
		t.Fatalf("expected an error for an unregistered profile name")
	}
}
