// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package loadbalance implements C7: the periodic repartitioning of patches across ranks
// by estimated cost (spec §4.7). Grounded on fem/fem.go's rank-ownership recomputation
// shape (a process-wide cost estimate feeds a new contiguous partition, then state moves
// between processes), generalized from the teacher's static partition-at-setup-only model
// to a partition recomputed throughout the run.
package loadbalance

import (
	"bytes"
	"encoding/gob"
	"runtime"

	"github.com/cpmech/flarepic/decomp"
	"github.com/cpmech/flarepic/errs"
	"github.com/cpmech/flarepic/inp"
	"github.com/cpmech/flarepic/patch"
	"github.com/cpmech/flarepic/transport"
	"github.com/cpmech/flarepic/vectorpatch"
)

// Balancer drives C7 against one rank's VectorPatch.
type Balancer struct {
	Cfg inp.LoadBalanceConfig
}

// New returns a Balancer driven by the given configuration.
func New(cfg inp.LoadBalanceConfig) *Balancer {
	return &Balancer{Cfg: cfg}
}

// ShouldRun reports whether step's load-balance schedule fires (spec's theTimeIsNow):
// a regular interval, an explicit step list, or both combined.
func (b *Balancer) ShouldRun(step int) bool {
	if !b.Cfg.Enabled {
		return false
	}
	if b.Cfg.Every > 0 && step%b.Cfg.Every == 0 {
		return true
	}
	for _, s := range b.Cfg.Steps {
		if s == step {
			return true
		}
	}
	return false
}

// cost estimates one patch's load-balancing cost: alpha*N_particles + beta*N_cells
// (spec §4.7's cost model).
func (b *Balancer) cost(p *patch.Patch) float64 {
	nParticles := 0
	for _, c := range p.Species {
		nParticles += c.Len()
	}
	nCells := 1
	for a := 0; a < p.NDimField; a++ {
		nCells *= p.Extent.NCells(a)
	}
	return b.Cfg.Alpha*float64(nParticles) + b.Cfg.Beta*float64(nCells)
}

// Rebalance runs one load-balance pass: estimate costs, gather them across every rank,
// compute a new greedy equal-cost partition, and migrate any patch whose owner changed
// (spec §4.7 steps 1-4). Step 5, restoring a rectangular mirror-domain tiling, is not done
// here and no caller runs mirror.ReconcileOwnership afterwards: the next SyncMirrorDomain
// rebuilds the domain from the current patches and fails with errs.Invariant if they do
// not tile a rectangle.
// migrated reports whether any patch actually changed hands.
func (b *Balancer) Rebalance(vp *vectorpatch.VectorPatch) (newOwn *decomp.Ownership, migrated bool, err error) {
	nPatches := vp.Grid.NPatches()
	local := make([]float64, nPatches)
	for _, p := range vp.Patches {
		local[p.GlobalIndex] = b.cost(p)
	}
	global := make([]float64, nPatches)
	vp.Comm.AllReduceSumFloat64(global, local)

	newOwn, err = partition(global, vp.Comm.Size())
	if err != nil {
		return nil, false, err
	}
	if sameOwnership(vp.Own, newOwn) {
		return newOwn, false, nil
	}
	if err := migrate(vp, newOwn); err != nil {
		return nil, false, err
	}
	vp.Own = newOwn
	return newOwn, true, nil
}

// partition computes a contiguous, approximately-equal-cost split of costs (already in
// SFC order, spec §4.7 step 2) across nRanks ranks via a greedy running-sum walk: each
// rank but the last takes patches until its accumulated cost reaches the per-rank target,
// reserving at least one patch for every rank still to come so no rank is ever starved.
func partition(costs []float64, nRanks int) (*decomp.Ownership, error) {
	n := len(costs)
	if n < nRanks {
		return nil, errs.Invariant("loadbalance: cannot partition %d patches across %d ranks", n, nRanks)
	}
	var total float64
	for _, c := range costs {
		total += c
	}
	target := total / float64(nRanks)

	offset := make([]int, nRanks)
	count := make([]int, nRanks)
	idx := 0
	for r := 0; r < nRanks; r++ {
		offset[r] = idx
		remainingRanks := nRanks - r
		if remainingRanks == 1 {
			count[r] = n - idx
			idx = n
			continue
		}
		reserve := remainingRanks - 1
		acc := costs[idx]
		idx++
		for idx < n-reserve && acc < target {
			acc += costs[idx]
			idx++
		}
		count[r] = idx - offset[r]
	}
	return &decomp.Ownership{Offset: offset, PatchCount: count}, nil
}

func sameOwnership(a, b *decomp.Ownership) bool {
	if len(a.Offset) != len(b.Offset) {
		return false
	}
	for r := range a.Offset {
		if a.Offset[r] != b.Offset[r] || a.PatchCount[r] != b.PatchCount[r] {
			return false
		}
	}
	return true
}

// migrateMsgKind is the wire kind for a full-patch-state handoff during load balancing
// (spec §4.7 step 3: "send its full state (fields + particles) to the new owner").
const migrateMsgKind = "loadbalance"

// migrate moves every patch whose owner changed between vp.Own and newOwn: this rank
// sends out patches it no longer owns and receives the ones it has newly acquired.
// Conservation (spec's invariant) falls out for free: MigrateOut/MigrateIn move a
// patch's exact Snapshot, no field or particle data is recomputed or dropped in transit.
// The whole call shares one Comm.NextEpoch value so a "loadbalance" message from this
// Rebalance pass is never confused with one from a later pass, or with unrelated traffic
// a faster neighbor has already moved on to (spec §4.9's between-barrier drift).
func migrate(vp *vectorpatch.VectorPatch, newOwn *decomp.Ownership) error {
	epoch := vp.Comm.NextEpoch()
	rank := vp.Comm.Rank()
	oldLo, oldHi := vp.Own.LocalRange(rank)
	newLo, newHi := newOwn.LocalRange(rank)

	for g := oldLo; g < oldHi; g++ {
		if g >= newLo && g < newHi {
			continue
		}
		toRank := newOwn.RankOf(g)
		snap, err := vp.MigrateOut(g)
		if err != nil {
			return err
		}
		data, err := encodeGob(snap)
		if err != nil {
			return errs.Comm("rank %d: cannot encode migrating patch %d: %v", rank, g, err)
		}
		if err := vp.Comm.Send(toRank, migrateMsgKind, epoch, data); err != nil {
			return err
		}
	}

	expected := 0
	for g := newLo; g < newHi; g++ {
		if g < oldLo || g >= oldHi {
			expected++
		}
	}
	return drainMigrations(vp, expected, epoch)
}

func drainMigrations(vp *vectorpatch.VectorPatch, expected, epoch int) error {
	received := 0
	idle := 0
	const maxIdle = 200000
	var stash []transport.Message
	for received < expected {
		msg, ok := vp.Comm.Recv()
		if !ok {
			idle++
			if idle > maxIdle {
				return errs.Comm("rank %d: timed out waiting for %d load-balance migrations (got %d)", vp.Comm.Rank(), expected, received)
			}
			runtime.Gosched()
			continue
		}
		idle = 0
		if msg.Kind != migrateMsgKind || msg.Epoch != epoch {
			stash = append(stash, msg)
			continue
		}
		var snap patch.Snapshot
		if err := decodeGob(msg.Data, &snap); err != nil {
			return errs.Comm("rank %d: cannot decode migrating patch: %v", vp.Comm.Rank(), err)
		}
		if err := vp.MigrateIn(snap); err != nil {
			return err
		}
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
