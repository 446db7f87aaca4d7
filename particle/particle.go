// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package particle holds the macro-particle representation and per-species containers (spec §3)
package particle

import (
	"math"

	"github.com/google/uuid"
)

// Particle is a macro-particle: real-valued position in the global frame, three momentum
// components regardless of nDim_field, nonnegative weight, mass (0 for photons) and charge.
type Particle struct {
	Pos    [3]float64 // global-frame position
	Mom    [3]float64 // px, py, pz (momentum, not velocity)
	Weight float64    // nonnegative statistical weight
	Mass   float64    // rest mass; 0 flags a photon
	Charge float64    // charge of one real particle represented by this macro-particle
	Track  *uuid.UUID // optional tracking id; nil when the species is not tracked
}

// IsPhoton reports whether this particle is massless
func (p *Particle) IsPhoton() bool { return p.Mass == 0 }

// Species describes the static configuration of one particle species
type Species struct {
	Name   string
	Mass   float64 // 0 => photon species
	Charge float64 // charge number of one real particle
	Track  bool    // assign tracking ids on creation
}

// Container holds all live particles of one species within one patch.
// Particles are stored by value in a slice; removal is O(1) via swap-with-last,
// which is safe because within-patch ordering carries no physical meaning until
// the cache-locality re-sort in finalize_and_sort_parts (spec §4.4).
type Container struct {
	Species Species
	Parts   []Particle
}

// NewContainer returns an empty container for the given species
func NewContainer(sp Species) *Container {
	return &Container{Species: sp, Parts: make([]Particle, 0)}
}

// Add appends a new particle, assigning a tracking id if the species is tracked
func (c *Container) Add(p Particle) {
	if c.Species.Track && p.Track == nil {
		id := uuid.New()
		p.Track = &id
	}
	p.Mass = c.Species.Mass
	p.Charge = c.Species.Charge
	c.Parts = append(c.Parts, p)
}

// RemoveAt deletes the particle at index i by swapping with the last element.
// Invalidates any index > i held by a caller; callers must iterate back-to-front
// or collect indices-to-remove first.
func (c *Container) RemoveAt(i int) {
	n := len(c.Parts)
	c.Parts[i] = c.Parts[n-1]
	c.Parts = c.Parts[:n-1]
}

// Len returns the number of live particles
func (c *Container) Len() int { return len(c.Parts) }

// KineticEnergy returns this particle's weighted relativistic kinetic energy,
// used by conservation property tests and lost-particle accounting.
func (p *Particle) KineticEnergy() float64 {
	if p.Mass == 0 {
		// photon: E = |p|*c, c=1 in code units
		return p.Weight * magnitude(p.Mom)
	}
	gamma := gammaFromMom(p.Mom, p.Mass)
	return p.Weight * p.Mass * (gamma - 1)
}

func magnitude(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func gammaFromMom(mom [3]float64, mass float64) float64 {
	psq := mom[0]*mom[0] + mom[1]*mom[1] + mom[2]*mom[2]
	return math.Sqrt(1 + psq/(mass*mass))
}
