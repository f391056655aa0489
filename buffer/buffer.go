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

// Package buffer implements multi-dimensional strided buffers.
//
// A buffer is a flat byte allocation described by a list of dimensions.
// Each dimension maps an index in [min, max] to a byte offset via its
// stride. A dimension may be folded: indices are then reduced modulo the
// fold factor before striding, implementing a circular buffer along that
// dimension.
package buffer

import (
	"unsafe"

	"github.com/alexander-shaposhnikov/slinky/base/num"
)

// Index is the scalar type of mins, extents, strides and offsets.
type Index = int64

// Unfolded marks a dimension without a fold factor.
const Unfolded Index = -1

// Dim describes one dimension of a buffer.
type Dim struct {
	min    Index
	extent Index
	stride Index
	fold   Index
}

// NewDim returns a dimension with the given bounds and stride, unfolded.
func NewDim(min, extent, stride Index) Dim {
	return Dim{min: min, extent: extent, stride: stride, fold: Unfolded}
}

// Min returns the first index of the dimension.
func (d *Dim) Min() Index { return d.min }

// Max returns the last index of the dimension.
func (d *Dim) Max() Index { return d.min + d.extent - 1 }

// Begin returns the first index of the dimension.
func (d *Dim) Begin() Index { return d.min }

// End returns one past the last index of the dimension.
func (d *Dim) End() Index { return d.min + d.extent }

// Extent returns the number of indices in the dimension.
func (d *Dim) Extent() Index { return d.extent }

// Stride returns the distance in bytes between consecutive indices.
func (d *Dim) Stride() Index { return d.stride }

// FoldFactor returns the fold factor, or Unfolded.
func (d *Dim) FoldFactor() Index { return d.fold }

// SetBounds sets the dimension to cover [min, max].
func (d *Dim) SetBounds(min, max Index) {
	d.min = min
	d.extent = max - min + 1
}

// SetMinExtent sets the dimension to cover [min, min+extent).
func (d *Dim) SetMinExtent(min, extent Index) {
	d.min = min
	d.extent = extent
}

// SetPoint sets the dimension to the single index p.
func (d *Dim) SetPoint(p Index) {
	d.min = p
	d.extent = 1
}

// SetStride sets the byte stride.
func (d *Dim) SetStride(stride Index) { d.stride = stride }

// SetFoldFactor sets the fold factor. Pass Unfolded to clear it.
func (d *Dim) SetFoldFactor(fold Index) { d.fold = fold }

// Contains returns true if i is within the dimension's bounds.
func (d *Dim) Contains(i Index) bool { return d.min <= i && i <= d.Max() }

// FlatOffsetBytes returns the byte offset of index i relative to the
// buffer's base.
func (d *Dim) FlatOffsetBytes(i Index) Index {
	if d.fold > 0 {
		return num.EuclideanMod(i, d.fold) * d.stride
	}
	return (i - d.min) * d.stride
}

// Raw is a buffer descriptor. Data is the underlying allocation; Base is
// the byte offset within Data of the element at every dimension's min.
// Crops and slices adjust Base and Dims without copying Data.
type Raw struct {
	Data     []byte
	Base     Index
	ElemSize Index
	Dims     []Dim
}

// Rank returns the number of dimensions.
func (b *Raw) Rank() int { return len(b.Dims) }

// Dim returns the d'th dimension.
func (b *Raw) Dim(d int) *Dim { return &b.Dims[d] }

// SizeBytes returns the number of bytes spanned by the addressable
// elements of the buffer.
func (b *Raw) SizeBytes() Index {
	size := b.ElemSize
	for i := range b.Dims {
		d := &b.Dims[i]
		extent := d.extent
		if d.fold > 0 && d.fold < extent {
			extent = d.fold
		}
		if extent > 0 {
			size += num.Abs(d.stride) * (extent - 1)
		}
	}
	return size
}

// FlatOffsetBytes returns the byte offset, relative to Base, of the
// element at the given indices. Fewer indices than dimensions address a
// prefix of the dimensions.
func (b *Raw) FlatOffsetBytes(indices ...Index) Index {
	offset := Index(0)
	for i, idx := range indices {
		offset += b.Dims[i].FlatOffsetBytes(idx)
	}
	return offset
}

// At returns the bytes of the element at the given indices.
func (b *Raw) At(indices ...Index) []byte {
	offset := b.Base + b.FlatOffsetBytes(indices...)
	return b.Data[offset : offset+b.ElemSize]
}

// Allocate gives the buffer a data area sized by its dimensions. The base
// is placed so that every addressable element has a non-negative offset,
// which handles negative strides.
func (b *Raw) Allocate() {
	b.Data = make([]byte, b.SizeBytes())
	base := Index(0)
	for i := range b.Dims {
		d := &b.Dims[i]
		extent := d.extent
		if d.fold > 0 && d.fold < extent {
			extent = d.fold
		}
		if d.stride < 0 && extent > 0 {
			base += -d.stride * (extent - 1)
		}
	}
	b.Base = base
}

// Free releases the data area.
func (b *Raw) Free() {
	b.Data = nil
	b.Base = 0
}

// Load reinterprets the element at the given indices as a T.
func Load[T any](b *Raw, indices ...Index) T {
	return *(*T)(unsafe.Pointer(&b.At(indices...)[0]))
}

// Store writes v over the element at the given indices.
func Store[T any](b *Raw, v T, indices ...Index) {
	*(*T)(unsafe.Pointer(&b.At(indices...)[0])) = v
}

// ForEachIndex calls f with every index tuple in the buffer's bounds.
// Dimension 0 is the innermost loop.
func ForEachIndex(b *Raw, f func(indices []Index)) {
	indices := make([]Index, b.Rank())
	forEachIndex(b, b.Rank()-1, indices, f)
}

func forEachIndex(b *Raw, d int, indices []Index, f func([]Index)) {
	if d < 0 {
		f(indices)
		return
	}
	dim := &b.Dims[d]
	for i := dim.Begin(); i < dim.End(); i++ {
		indices[d] = i
		forEachIndex(b, d-1, indices, f)
	}
}

// ForEachContiguousSlice calls f with each maximal run of elements that is
// dense in memory. Kernels use this to vectorize their inner loops.
func ForEachContiguousSlice(b *Raw, f func(data []byte, extent Index)) {
	fused := *b
	fused.Dims = append([]Dim(nil), b.Dims...)
	FuseContiguousDims(&fused)
	if fused.Rank() == 0 {
		f(fused.Data[fused.Base:fused.Base+fused.ElemSize], 1)
		return
	}
	// Dimension 0 is the contiguous run when dense; otherwise every
	// element is its own run.
	inner := fused.Dim(0)
	dense := inner.Stride() == fused.ElemSize && inner.FoldFactor() <= 0
	emit := func(indices []Index) {
		offset := fused.Base
		for d := 1; d < fused.Rank(); d++ {
			offset += fused.Dims[d].FlatOffsetBytes(indices[d])
		}
		if dense {
			f(fused.Data[offset:offset+inner.Extent()*fused.ElemSize], inner.Extent())
			return
		}
		for i := inner.Begin(); i < inner.End(); i++ {
			at := offset + inner.FlatOffsetBytes(i)
			f(fused.Data[at:at+fused.ElemSize], 1)
		}
	}
	indices := make([]Index, fused.Rank())
	var walk func(d int)
	walk = func(d int) {
		if d == 0 {
			emit(indices)
			return
		}
		dim := fused.Dim(d)
		for i := dim.Begin(); i < dim.End(); i++ {
			indices[d] = i
			walk(d - 1)
		}
	}
	walk(fused.Rank() - 1)
}

// FuseContiguousDims merges adjacent dimensions that together address a
// dense range of memory, reducing the rank without changing which byte any
// element addresses. Folded dimensions never fuse.
func FuseContiguousDims(b *Raw) {
	for d := 1; d < b.Rank(); {
		inner := &b.Dims[d-1]
		outer := &b.Dims[d]
		if inner.fold > 0 || outer.fold > 0 || outer.stride != inner.stride*inner.extent {
			d++
			continue
		}
		b.Dims[d-1] = Dim{min: 0, extent: inner.extent * outer.extent, stride: inner.stride, fold: Unfolded}
		b.Dims = append(b.Dims[:d], b.Dims[d+1:]...)
	}
}

// Of is a typed view of a raw buffer, for kernels and tests.
type Of[T any] struct {
	*Raw
}

// MakeOf allocates a dense buffer of T with the given extents, all mins
// zero, dimension 0 dense.
func MakeOf[T any](extents ...Index) Of[T] {
	var zero T
	elemSize := Index(unsafe.Sizeof(zero))
	dims := make([]Dim, len(extents))
	stride := elemSize
	for d := 0; d < len(extents); d++ {
		dims[d] = NewDim(0, extents[d], stride)
		stride *= extents[d]
	}
	b := &Raw{ElemSize: elemSize, Dims: dims}
	b.Allocate()
	return Of[T]{Raw: b}
}

// FromSlice wraps a []T as a rank-1 buffer sharing the slice's memory.
func FromSlice[T any](data []T) Of[T] {
	var zero T
	elemSize := Index(unsafe.Sizeof(zero))
	raw := &Raw{
		ElemSize: elemSize,
		Dims:     []Dim{NewDim(0, Index(len(data)), elemSize)},
	}
	if len(data) > 0 {
		raw.Data = unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), elemSize*Index(len(data)))
	}
	return Of[T]{Raw: raw}
}

// Get returns the element at the given indices.
func (b Of[T]) Get(indices ...Index) T { return Load[T](b.Raw, indices...) }

// Set writes the element at the given indices.
func (b Of[T]) Set(v T, indices ...Index) { Store(b.Raw, v, indices...) }
