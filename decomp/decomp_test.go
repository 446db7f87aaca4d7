// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearCurveRoundTrip(t *testing.T) {
	c := LinearCurve{Dims: [3]int{4, 1, 1}}
	for i := 0; i < 4; i++ {
		key := c.Encode([3]int{i, 0, 0})
		assert.Equal(t, [3]int{i, 0, 0}, c.Decode(key))
	}
}

func TestHilbertCurveIsBijective(t *testing.T) {
	curve, err := NewCurve(2, [3]int{4, 4, 1})
	assert.NoError(t, err)
	seen := make(map[int64][3]int)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			key := curve.Encode([3]int{i, j, 0})
			if other, ok := seen[key]; ok {
				t.Fatalf("key collision: %v and %v both map to %d", other, [3]int{i, j, 0}, key)
			}
			seen[key] = [3]int{i, j, 0}
			assert.Equal(t, [3]int{i, j, 0}, curve.Decode(key))
		}
	}
}

func TestNewCurveRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewCurve(2, [3]int{3, 3, 1})
	assert.Error(t, err)
}

func TestGridNeighborIndexOutOfRangeAtEdge(t *testing.T) {
	g, err := NewGrid(1, [3]int{4, 1, 1})
	assert.NoError(t, err)
	assert.Equal(t, -1, g.NeighborIndex(0, 0, -1))
	assert.Equal(t, -1, g.NeighborIndex(3, 0, 1))
	assert.NotEqual(t, -1, g.NeighborIndex(0, 0, 1))
}

func TestEqualOwnershipCoversAllPatches(t *testing.T) {
	o, err := NewEqualOwnership(10, 3)
	assert.NoError(t, err)
	total := 0
	for _, c := range o.PatchCount {
		total += c
	}
	assert.Equal(t, 10, total)
	for g := 0; g < 10; g++ {
		r := o.RankOf(g)
		lo, hi := o.LocalRange(r)
		assert.True(t, g >= lo && g < hi)
	}
}

func TestEqualOwnershipRejectsMoreRanksThanPatches(t *testing.T) {
	_, err := NewEqualOwnership(2, 5)
	assert.Error(t, err)
}
