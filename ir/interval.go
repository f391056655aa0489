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

package ir

// Interval is an inclusive range [Min, Max] of symbolic expressions.
// Either endpoint may be nil, meaning "keep the existing bound" in crops
// and "undefined" elsewhere.
type Interval struct {
	Min, Max Expr
}

// NewInterval returns [min, max].
func NewInterval(min, max Expr) Interval { return Interval{Min: min, Max: max} }

// PointInterval returns [p, p] sharing the expression for both endpoints.
func PointInterval(p Expr) Interval { return Interval{Min: p, Max: p} }

// UnionIdentity returns the identity of Union: [+inf, -inf].
func UnionIdentity() Interval {
	return Interval{Min: PositiveInfinity(), Max: NegativeInfinity()}
}

// Defined returns true if both endpoints are defined.
func (i Interval) Defined() bool { return i.Min != nil && i.Max != nil }

// Extent returns max - min + 1.
func (i Interval) Extent() Expr { return NewAdd(NewSub(i.Max, i.Min), Const(1)) }

// Union returns the smallest interval containing i and o.
func (i Interval) Union(o Interval) Interval {
	return Interval{Min: NewMin(i.Min, o.Min), Max: NewMax(i.Max, o.Max)}
}

// SameAs returns true if the endpoints of i and o are the same nodes.
func (i Interval) SameAs(o Interval) bool {
	return SameAs(i.Min, o.Min) && SameAs(i.Max, o.Max)
}

// Box is a per-dimension list of intervals describing which indices of a
// buffer a consumer requires.
type Box []Interval

// SameAs returns true if every interval of b is the same as in o.
func (b Box) SameAs(o Box) bool {
	if len(b) != len(o) {
		return false
	}
	for d := range b {
		if !b[d].SameAs(o[d]) {
			return false
		}
	}
	return true
}

// Clone returns a copy of the box sharing the interval expressions.
func (b Box) Clone() Box {
	return append(Box(nil), b...)
}

// GrowTo extends the box with union identities until it has rank dims.
func (b Box) GrowTo(rank int) Box {
	for len(b) < rank {
		b = append(b, UnionIdentity())
	}
	return b
}

// SameAs returns true if the fields of d and o are the same nodes.
func (d DimExpr) SameAs(o DimExpr) bool {
	return d.Bounds.SameAs(o.Bounds) && SameAs(d.Stride, o.Stride) && SameAs(d.FoldFactor, o.FoldFactor)
}
