// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package buffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimFlatOffsetBytes(t *testing.T) {
	d := NewDim(2, 10, 4)
	assert.Equal(t, Index(0), d.FlatOffsetBytes(2))
	assert.Equal(t, Index(4), d.FlatOffsetBytes(3))
	assert.Equal(t, Index(-8), d.FlatOffsetBytes(0))

	d.SetFoldFactor(4)
	// Folded dims index modulo the fold factor.
	assert.Equal(t, d.FlatOffsetBytes(1), d.FlatOffsetBytes(5))
	assert.Equal(t, d.FlatOffsetBytes(2), d.FlatOffsetBytes(-2))
	assert.Equal(t, Index(3*4), d.FlatOffsetBytes(7))
}

func TestMakeOfRoundTrip(t *testing.T) {
	b := MakeOf[int32](4, 3)
	require.Equal(t, 2, b.Rank())
	for i := Index(0); i < 4; i++ {
		for j := Index(0); j < 3; j++ {
			b.Set(int32(i*10+j), i, j)
		}
	}
	for i := Index(0); i < 4; i++ {
		for j := Index(0); j < 3; j++ {
			assert.Equal(t, int32(i*10+j), b.Get(i, j))
		}
	}
}

func TestFromSliceAliases(t *testing.T) {
	data := []int64{1, 2, 3}
	b := FromSlice(data)
	b.Set(42, 1)
	assert.Equal(t, int64(42), data[1])
	assert.Equal(t, int64(3), b.Get(2))
}

func TestFill(t *testing.T) {
	b := MakeOf[int32](5, 4)
	value := int32(7)
	Fill(b.Raw, int32Bytes(value))
	ForEachIndex(b.Raw, func(idx []Index) {
		assert.Equal(t, value, b.Get(idx...))
	})
}

func int32Bytes(v int32) []byte {
	b := MakeOf[int32](1)
	b.Set(v, 0)
	return b.At(0)
}

// randomBuffer makes a rank-`rank` buffer with random extents, mins and a
// random dimension order (so strides are not always in rank order).
func randomBuffer(rng *rand.Rand, rank int) Of[int32] {
	extents := make([]Index, rank)
	for d := range extents {
		extents[d] = Index(rng.Intn(5) + 1)
	}
	b := MakeOf[int32](extents...)
	for d := range extents {
		b.Dims[d].SetMinExtent(Index(rng.Intn(7)-3), extents[d])
	}
	// Shuffle the dims, moving strides with them: the flat layout stays
	// valid, the stride order becomes arbitrary.
	rng.Shuffle(rank, func(i, j int) {
		b.Dims[i], b.Dims[j] = b.Dims[j], b.Dims[i]
	})
	return b
}

func fillSequential(b Of[int32]) {
	n := int32(0)
	ForEachIndex(b.Raw, func(idx []Index) {
		b.Set(n, idx...)
		n++
	})
}

// TestCopyPad checks that copy-then-read yields the src value inside the
// src bounds and the padding value outside, over random shapes, strides
// and offsets.
func TestCopyPad(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for test := 0; test < 100; test++ {
		rank := rng.Intn(4) + 1
		src := randomBuffer(rng, rank)
		dst := randomBuffer(rng, rank)
		fillSequential(src)

		padding := int32(-1)
		Copy(src.Raw, dst.Raw, int32Bytes(padding))

		ForEachIndex(dst.Raw, func(idx []Index) {
			inBounds := true
			for d, i := range idx {
				if !src.Dims[d].Contains(i) {
					inBounds = false
				}
			}
			if inBounds {
				require.Equal(t, src.Get(idx...), dst.Get(idx...), "test %d at %v", test, idx)
			} else {
				require.Equal(t, padding, dst.Get(idx...), "test %d at %v", test, idx)
			}
		})
	}
}

// TestCopyBroadcast copies a zero-stride (broadcast) source dimension.
func TestCopyBroadcast(t *testing.T) {
	src := MakeOf[int32](1, 3)
	dst := MakeOf[int32](4, 3)
	for j := Index(0); j < 3; j++ {
		src.Set(int32(j+1), 0, j)
	}
	// Stretch the broadcast dim over dst's bounds with stride 0.
	src.Dims[0] = NewDim(0, 4, 0)
	Copy(src.Raw, dst.Raw, nil)
	ForEachIndex(dst.Raw, func(idx []Index) {
		assert.Equal(t, int32(idx[1]+1), dst.Get(idx...))
	})
}

// TestFuseContiguousDims checks that fusing never changes what a copy
// writes.
func TestFuseContiguousDims(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for test := 0; test < 50; test++ {
		rank := rng.Intn(3) + 2
		extents := make([]Index, rank)
		for d := range extents {
			extents[d] = Index(rng.Intn(4) + 1)
		}
		src := MakeOf[int32](extents...)
		fillSequential(src)

		plain := MakeOf[int32](extents...)
		Copy(src.Raw, plain.Raw, nil)

		fused := MakeOf[int32](extents...)
		fusedView := *src.Raw
		fusedView.Dims = append([]Dim(nil), src.Dims...)
		FuseContiguousDims(&fusedView)
		fusedDst := *fused.Raw
		fusedDst.Dims = append([]Dim(nil), fused.Dims...)
		FuseContiguousDims(&fusedDst)
		require.Equal(t, len(fusedDst.Dims), len(fusedView.Dims), "test %d", test)
		Copy(&fusedView, &fusedDst, nil)

		ForEachIndex(src.Raw, func(idx []Index) {
			require.Equal(t, plain.Get(idx...), fused.Get(idx...), "test %d at %v", test, idx)
		})
	}
}

func TestForEachContiguousSlice(t *testing.T) {
	b := MakeOf[int32](6, 3)
	fillSequential(b)
	var total Index
	ForEachContiguousSlice(b.Raw, func(data []byte, extent Index) {
		// The whole buffer is dense, one slice covers it.
		total += extent
	})
	assert.Equal(t, Index(18), total)

	// Cropping dim 0 makes the rows non-fusable.
	b.Dims[0].SetMinExtent(1, 4)
	var slices int
	total = 0
	ForEachContiguousSlice(b.Raw, func(data []byte, extent Index) {
		slices++
		total += extent
		assert.Equal(t, Index(4), extent)
	})
	assert.Equal(t, 3, slices)
	assert.Equal(t, Index(12), total)
}

func TestSizeBytesFolded(t *testing.T) {
	b := &Raw{ElemSize: 4, Dims: []Dim{NewDim(0, 100, 4)}}
	b.Dims[0].SetFoldFactor(8)
	assert.Equal(t, Index(8*4), b.SizeBytes())
	b.Allocate()
	assert.Len(t, b.Data, 32)
}
