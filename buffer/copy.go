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
	"slices"

	"github.com/alexander-shaposhnikov/slinky/base/num"
)

// copyDim is the per-dimension plan of a copy, pad or fill operation:
// padBefore elements of padding, size copied elements, padAfter elements of
// padding, walking dst by dstStride and src by srcStride.
type copyDim struct {
	padBefore Index
	size      Index
	padAfter  Index
	totalSize Index
	srcStride Index
	dstStride Index
}

func fillRun(data []byte, at Index, elemSize Index, value []byte, size Index) {
	if value == nil {
		return
	}
	for i := Index(0); i < size; i++ {
		copy(data[at:at+elemSize], value)
		at += elemSize
	}
}

func fillStrided(data []byte, at, stride, elemSize Index, value []byte, size Index) {
	if value == nil {
		return
	}
	for i := Index(0); i < size; i++ {
		copy(data[at:at+elemSize], value)
		at += stride
	}
}

func copyStrided(src []byte, srcAt, srcStride Index, dst []byte, dstAt, dstStride, elemSize, size Index) {
	for i := Index(0); i < size; i++ {
		copy(dst[dstAt:dstAt+elemSize], src[srcAt:srcAt+elemSize])
		srcAt += srcStride
		dstAt += dstStride
	}
}

func fillDims(dst []byte, dstAt Index, dims []copyDim, elemSize Index, value []byte, dim int) {
	if value == nil {
		return
	}
	d := &dims[dim]
	if dim == 0 {
		if d.dstStride == elemSize {
			fillRun(dst, dstAt, elemSize, value, d.totalSize)
		} else {
			fillStrided(dst, dstAt, d.dstStride, elemSize, value, d.totalSize)
		}
		return
	}
	for i := Index(0); i < d.totalSize; i++ {
		fillDims(dst, dstAt, dims, elemSize, value, dim-1)
		dstAt += d.dstStride
	}
}

// copyDims copies the plan. src may be nil, in which case only the padding
// is written.
func copyDims(src []byte, srcAt Index, dst []byte, dstAt Index, dims []copyDim, elemSize Index, padding []byte, dim int) {
	d := &dims[dim]
	if dim == 0 {
		if d.dstStride == elemSize {
			if d.padBefore > 0 {
				fillRun(dst, dstAt, elemSize, padding, d.padBefore)
				dstAt += d.padBefore * d.dstStride
			}
			switch {
			case src == nil:
			case d.srcStride == elemSize:
				// src and dst are both dense, one copy call does it.
				copy(dst[dstAt:dstAt+d.size*elemSize], src[srcAt:srcAt+d.size*elemSize])
			case d.srcStride == 0:
				// Broadcasting to a dense dst.
				fillRun(dst, dstAt, elemSize, src[srcAt:srcAt+elemSize], d.size)
			default:
				copyStrided(src, srcAt, d.srcStride, dst, dstAt, d.dstStride, elemSize, d.size)
			}
			dstAt += d.size * d.dstStride
			if d.padAfter > 0 {
				fillRun(dst, dstAt, elemSize, padding, d.padAfter)
			}
		} else {
			if d.padBefore > 0 {
				fillStrided(dst, dstAt, d.dstStride, elemSize, padding, d.padBefore)
				dstAt += d.dstStride * d.padBefore
			}
			if src != nil {
				copyStrided(src, srcAt, d.srcStride, dst, dstAt, d.dstStride, elemSize, d.size)
			}
			dstAt += d.size * d.dstStride
			if d.padAfter > 0 {
				fillStrided(dst, dstAt, d.dstStride, elemSize, padding, d.padAfter)
			}
		}
		return
	}
	for i := Index(0); i < d.padBefore; i++ {
		fillDims(dst, dstAt, dims, elemSize, padding, dim-1)
		dstAt += d.dstStride
	}
	for i := Index(0); i < d.size; i++ {
		copyDims(src, srcAt, dst, dstAt, dims, elemSize, padding, dim-1)
		if src != nil {
			srcAt += d.srcStride
		}
		dstAt += d.dstStride
	}
	for i := Index(0); i < d.padAfter; i++ {
		fillDims(dst, dstAt, dims, elemSize, padding, dim-1)
		dstAt += d.dstStride
	}
}

// computePadding splits the dst dimension into padding before, copied
// elements, and padding after, given the src bounds. It returns the byte
// adjustment of the src position when the dst begins after the src.
func computePadding(src, dst *Dim, cd *copyDim) Index {
	srcOffset := Index(0)
	if dst.End() <= src.Begin() || dst.Begin() >= src.End() {
		// This dimension is all padding.
		cd.padBefore = cd.totalSize
		cd.size = 0
		cd.padAfter = 0
	} else {
		copyBegin := num.Max(src.Begin(), dst.Begin())
		copyEnd := num.Min(src.End(), dst.End())
		cd.size = num.Max(0, copyEnd-copyBegin)
		cd.padBefore = num.Max(0, copyBegin-dst.Begin())
		cd.padAfter = num.Max(0, dst.End()-copyEnd)
		if dst.Begin() > src.Begin() {
			srcOffset = cd.srcStride * (dst.Begin() - src.Begin())
		}
	}
	return srcOffset
}

// optimizeCopyDims sorts the plan by dst stride and fuses dimensions that
// together walk dense memory, shrinking the depth of the copy recursion.
func optimizeCopyDims(dims []copyDim) []copyDim {
	if len(dims) == 1 {
		return dims
	}
	slices.SortStableFunc(dims, func(a, b copyDim) int {
		switch {
		case a.dstStride < b.dstStride:
			return -1
		case a.dstStride > b.dstStride:
			return 1
		}
		return 0
	})
	for d := 0; d+1 < len(dims); {
		a := &dims[d]
		b := dims[d+1]
		if a.padBefore == 0 && a.padAfter == 0 &&
			b.dstStride == a.dstStride*a.totalSize &&
			b.srcStride == a.srcStride*a.totalSize {
			a.padBefore = b.padBefore * a.size
			a.padAfter = b.padAfter * a.size
			a.totalSize = b.totalSize * a.size
			a.size = b.size * a.size
			dims = append(dims[:d+1], dims[d+2:]...)
		} else {
			d++
		}
	}
	return dims
}

// Copy copies the elements of src that are in bounds of dst into dst, and
// writes padding into the elements of dst outside the bounds of src. A nil
// padding leaves those elements untouched.
func Copy(src, dst *Raw, padding []byte) {
	if src.Rank() != dst.Rank() || src.ElemSize != dst.ElemSize {
		panic("buffer.Copy: src and dst must have the same rank and element size")
	}
	if dst.Rank() == 0 {
		copy(dst.At(), src.At())
		return
	}
	srcAt := src.Base
	dims := make([]copyDim, dst.Rank())
	for i := range dims {
		dims[i].srcStride = src.Dims[i].Stride()
		dims[i].dstStride = dst.Dims[i].Stride()
		dims[i].totalSize = dst.Dims[i].Extent()
		srcAt += computePadding(&src.Dims[i], &dst.Dims[i], &dims[i])
	}
	dims = optimizeCopyDims(dims)
	copyDims(src.Data, srcAt, dst.Data, dst.Base, dims, dst.ElemSize, padding, len(dims)-1)
}

// Pad writes padding into every element of dst outside inBounds.
func Pad(inBounds []Dim, dst *Raw, padding []byte) {
	if dst.Rank() == 0 {
		return
	}
	dims := make([]copyDim, dst.Rank())
	for i := range dims {
		dims[i].srcStride = 0
		dims[i].dstStride = dst.Dims[i].Stride()
		dims[i].totalSize = dst.Dims[i].Extent()
		computePadding(&inBounds[i], &dst.Dims[i], &dims[i])
	}
	dims = optimizeCopyDims(dims)
	copyDims(nil, 0, dst.Data, dst.Base, dims, dst.ElemSize, padding, len(dims)-1)
}

// Fill writes value over every element of dst.
func Fill(dst *Raw, value []byte) {
	if dst.Rank() == 0 {
		copy(dst.At(), value)
		return
	}
	dims := make([]copyDim, dst.Rank())
	for i := range dims {
		dims[i].dstStride = dst.Dims[i].Stride()
		dims[i].srcStride = 0
		dims[i].totalSize = dst.Dims[i].Extent()
		dims[i].padBefore = dims[i].totalSize
		dims[i].size = 0
		dims[i].padAfter = 0
	}
	dims = optimizeCopyDims(dims)
	fillDims(dst.Data, dst.Base, dims, dst.ElemSize, value, len(dims)-1)
}
