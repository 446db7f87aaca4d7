// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"

	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/diagnostics"
	"github.com/cpmech/flarepic/driver"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/loadbalance"
	"github.com/cpmech/flarepic/patch"
	"github.com/cpmech/flarepic/physics"
	"github.com/cpmech/flarepic/transport"
	"github.com/cpmech/flarepic/vectorpatch"
	"github.com/cpmech/flarepic/window"
	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/io"
	"github.com/cpmech/gosl/mpi"
	"github.com/cpmech/gosl/utl"
)

func main() {

	// catch errors
	defer func() {
		if err := recover(); err != nil {
			if mpi.Rank() == 0 {
				chk.Verbose = true
				for i := 8; i > 3; i-- {
					chk.CallerInfo(i)
				}
				io.PfRed("ERROR: %v\n", err)
			}
		}
		mpi.Stop(false)
	}()
	mpi.Start(false)

	// profiling, same opt-in switch the teacher's own main.go uses
	defer utl.DoProf(false)()

	// message
	if mpi.Rank() == 0 {
		io.PfWhite("\nflarepic -- relativistic electromagnetic Particle-In-Cell engine\n\n")
	}

	// simulation record path and run options
	nranks := flag.Int("nranks", 1, "number of in-process logical ranks to run as goroutines (ignored under a real mpirun launch)")
	restartStep := flag.Int("restart", 0, "checkpoint step to restart from; 0 starts a fresh run")
	restartDir := flag.String("restart-dir", "", "checkpoint directory to restart from; defaults to the sim record's checkpoint.dir")
	printEvery := flag.Int("print-every", 0, "status-print interval in steps; 0 disables")
	flag.Parse()

	var fnamepath string
	if len(flag.Args()) > 0 {
		fnamepath = flag.Arg(0)
	} else {
		chk.Panic("Please, provide a simulation record. Ex.: shock.sim\n")
	}
	if io.FnExt(fnamepath) == "" {
		fnamepath += ".sim"
	}

	sim, err := inp.ReadSim(fnamepath)
	if err != nil {
		chk.Panic("%v\n", err)
	}
	solver, err := physics.NewFieldSolver(sim.FieldSolver.Name)
	if err != nil {
		chk.Panic("%v\n", err)
	}

	if mpi.IsOn() {
		comm := transport.NewFromEnvironment()
		if err := runRank(sim, solver, comm, *restartStep, *restartDir, *printEvery, mpi.Rank() == 0); err != nil {
			chk.Panic("%v\n", err)
		}
		return
	}

	// no real mpirun launch: run *nranks logical ranks as goroutines sharing one process,
	// the same in-process arrangement NewRing exists for (spec's "one process per rank"
	// without requiring a cluster for a desktop-sized run).
	comms := transport.NewRing(*nranks)
	errCh := make(chan error, *nranks)
	for r := 0; r < *nranks; r++ {
		go func(r int) {
			errCh <- runRank(sim, solver, comms[r], *restartStep, *restartDir, *printEvery, r == 0)
		}(r)
	}
	var firstErr error
	for range comms {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		chk.Panic("%v\n", firstErr)
	}
}

// runRank builds one rank's VectorPatch (fresh or restored) and runs its Driver to
// completion. Only the showMsg rank (by convention, rank 0) prints status and writes
// diagnostics, so a multi-rank in-process run doesn't interleave N copies of the same log.
func runRank(sim *inp.Simulation, solver physics.FieldSolver, comm *transport.Comm, restartStep int, restartDir string, printEvery int, showMsg bool) error {
	grid, err := vectorpatch.BuildGrid(sim)
	if err != nil {
		return err
	}
	own, err := decomp.NewEqualOwnership(grid.NPatches(), comm.Size())
	if err != nil {
		return err
	}
	vp, err := vectorpatch.New(sim, grid, own, comm,
		physics.LinearInterpolator{}, physics.BorisPusher{}, physics.CICDepositor{})
	if err != nil {
		return err
	}

	var w *window.Window
	if sim.Window.Enabled {
		w = window.New(sim.Window)
	}
	var bal *loadbalance.Balancer
	if sim.LoadBalance.Enabled {
		bal = loadbalance.New(sim.LoadBalance)
	}

	diagDir := ""
	if showMsg {
		diagDir = sim.Checkpoint.Dir // diagnostics.csv lives alongside checkpoints by default
	}
	diag, err := diagnostics.NewRecorder(diagDir)
	if err != nil {
		return err
	}

	d := driver.New(vp, solver, w, bal, diag)
	d.ShowMsg = showMsg
	d.PrintEvery = printEvery

	if restartStep > 0 {
		dir := restartDir
		if dir == "" {
			dir = sim.Checkpoint.Dir
		}
		// vectorpatch.New already auto-built this rank's local-range patches fresh;
		// drop them before MigrateIn repopulates the same global indices from the
		// checkpoint, the way a restarting process has no local state to begin with.
		for _, p := range append([]*patch.Patch{}, vp.Patches...) {
			if _, err := vp.MigrateOut(p.GlobalIndex); err != nil {
				return err
			}
		}
		meta, err := driver.Restore(vp, dir, restartStep)
		if err != nil {
			return err
		}
		d.SeedFromCheckpoint(meta)
		if showMsg {
			io.Pf("> restarted from step %d (t=%.4g) in %s\n", meta.Step, meta.Time, dir)
		}
	} else {
		vp.ComputeCharge()
		if err := vp.SolvePoisson(); err != nil {
			return err
		}
	}

	if showMsg {
		io.Pf("> rank %d/%d: %d patches owned, running to n_time=%d\n", comm.Rank(), comm.Size(), len(vp.Patches), sim.NTime)
	}
	return d.Run()
}
