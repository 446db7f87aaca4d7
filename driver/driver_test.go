// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/diagnostics"
	"github.com/cpmech/flarepic/driver"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/loadbalance"
	"github.com/cpmech/flarepic/physics"
	"github.com/cpmech/flarepic/transport"
	"github.com/cpmech/flarepic/vectorpatch"
	"github.com/cpmech/flarepic/window"
)

func newTestSim(t *testing.T, nTime int) *inp.Simulation {
	t.Helper()
	sim := &inp.Simulation{
		Geometry:         inp.Geometry1D3V,
		CellLength:       [3]float64{1, 1, 1},
		NSpaceGlobal:     [3]int{8, 1, 1},
		NSpacePerPatch:   [3]int{2, 1, 1},
		GhostCells:       1,
		Timestep:         0.1,
		NTime:            nTime,
		TimeFieldsFrozen: 1e9, // keep the mirror-domain solve a no-op for this test
		Species: []inp.SpeciesConfig{
			{Name: "e", Mass: 1, Charge: -1},
		},
	}
	if err := sim.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return sim
}

func newTestDriver(t *testing.T, sim *inp.Simulation, diagDir string) *driver.Driver {
	t.Helper()
	grid, err := vectorpatch.BuildGrid(sim)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	own, err := decomp.NewEqualOwnership(grid.NPatches(), 1)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	comm := transport.NewRing(1)[0]
	vp, err := vectorpatch.New(sim, grid, own, comm,
		physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	if err != nil {
		t.Fatalf("vectorpatch.New: %v", err)
	}
	diag, err := diagnostics.NewRecorder(diagDir)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return driver.New(vp, physics.YeeSolver{}, nil, nil, diag)
}

func TestRunAdvancesToNTimeAndClosesDiagnostics(t *testing.T) {
	sim := newTestSim(t, 5)
	d := newTestDriver(t, sim, t.TempDir())
	err := d.Run()
	assert.NoError(t, err)
	assert.Equal(t, 5, d.Step)
	assert.InDelta(t, 0.5, d.TDual, 1e-12)
}

func TestRequestExitStopsLoopEarly(t *testing.T) {
	sim := newTestSim(t, 1000)
	d := newTestDriver(t, sim, "")
	d.RequestExit()
	err := d.Run()
	assert.NoError(t, err)
	assert.Equal(t, 0, d.Step)
}

func TestCheckpointThenRestoreResumesState(t *testing.T) {
	dir := t.TempDir()
	sim := newTestSim(t, 3)
	sim.Checkpoint = inp.CheckpointConfig{Enabled: true, EveryNSteps: 2, Dir: dir}
	d := newTestDriver(t, sim, "")
	err := d.Run()
	assert.NoError(t, err)

	// A restart reader must carry the identical record the writer checkpointed with:
	// CheckDigestCompatible hashes the whole Simulation, NTime included.
	restoreSim := newTestSim(t, 3)
	restoreSim.Checkpoint = sim.Checkpoint
	grid, err := vectorpatch.BuildGrid(restoreSim)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	own, err := decomp.NewEqualOwnership(grid.NPatches(), 1)
	if err != nil {
		t.Fatalf("NewEqualOwnership: %v", err)
	}
	comm := transport.NewRing(1)[0]
	vp2, err := vectorpatch.New(restoreSim, grid, own, comm,
		physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	if err != nil {
		t.Fatalf("vectorpatch.New: %v", err)
	}
	// Restore builds onto an empty VectorPatch, so clear the freshly-built patches first
	// the way a real restart would (the process starts with no local state at all).
	built := make([]int, 0, len(vp2.Patches))
	for _, p := range vp2.Patches {
		built = append(built, p.GlobalIndex)
	}
	for _, g := range built {
		_, err := vp2.MigrateOut(g)
		assert.NoError(t, err)
	}

	meta, err := driver.Restore(vp2, dir, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, meta.Step)

	d2 := driver.New(vp2, physics.YeeSolver{}, nil, nil, nil)
	d2.SeedFromCheckpoint(meta)
	assert.Equal(t, 2, d2.Step)

	err = d2.Run()
	assert.NoError(t, err)
	assert.Equal(t, restoreSim.NTime, d2.Step)
}

func TestLoadBalancerInvokedOnSchedule(t *testing.T) {
	sim := newTestSim(t, 1)
	sim.LoadBalance = inp.LoadBalanceConfig{Enabled: true, Every: 1, Alpha: 1, Beta: 0}
	d := newTestDriver(t, sim, "")
	d.Balancer = loadbalance.New(sim.LoadBalance)
	err := d.Run()
	assert.NoError(t, err)
}

func TestMovingWindowWiredIntoLoop(t *testing.T) {
	sim := newTestSim(t, 1)
	sim.Window = inp.MovingWindowConfig{Enabled: true, TStart: 0, EveryKSteps: 1}
	d := newTestDriver(t, sim, "")
	d.Window = window.New(sim.Window)
	err := d.Run()
	assert.NoError(t, err)
	assert.Equal(t, 1, d.Window.NMoved)
}
