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

import (
	"github.com/alexander-shaposhnikov/slinky/base/num"
)

// Const returns a constant expression.
func Const(v Index) *Constant { return &Constant{Value: v} }

// Var returns a variable expression.
func Var(sym Symbol) *Variable { return &Variable{Sym: sym} }

// Wild returns a wildcard expression for use in rule patterns.
func Wild(sym Symbol) *Wildcard { return &Wildcard{Sym: sym} }

// AsConstant returns the value of e if it is a constant.
func AsConstant(e Expr) (Index, bool) {
	if c, ok := e.(*Constant); ok {
		return c.Value, true
	}
	return 0, false
}

// AsVariable returns the symbol of e if it is a variable or a wildcard.
func AsVariable(e Expr) (Symbol, bool) {
	switch v := e.(type) {
	case *Variable:
		return v.Sym, true
	case *Wildcard:
		return v.Sym, true
	}
	return 0, false
}

// IsZero returns true if e is the constant 0.
func IsZero(e Expr) bool {
	c, ok := AsConstant(e)
	return ok && c == 0
}

// IsOne returns true if e is the constant 1.
func IsOne(e Expr) bool {
	c, ok := AsConstant(e)
	return ok && c == 1
}

// The binary constructors fold two constant operands immediately, unless
// folding would overflow, in which case the unfolded node is kept.

func fold2(a, b Expr, f func(x, y Index) (Index, bool)) (Expr, bool) {
	ca, oka := AsConstant(a)
	cb, okb := AsConstant(b)
	if !oka || !okb {
		return nil, false
	}
	v, ok := f(ca, cb)
	if !ok {
		return nil, false
	}
	return Const(v), true
}

// NewAdd returns a + b.
func NewAdd(a, b Expr) Expr {
	if c, ok := fold2(a, b, num.AddOk); ok {
		return c
	}
	return &Add{A: a, B: b}
}

// NewSub returns a - b.
func NewSub(a, b Expr) Expr {
	if c, ok := fold2(a, b, num.SubOk); ok {
		return c
	}
	return &Sub{A: a, B: b}
}

// NewMul returns a * b.
func NewMul(a, b Expr) Expr {
	if c, ok := fold2(a, b, num.MulOk); ok {
		return c
	}
	return &Mul{A: a, B: b}
}

// NewDiv returns the Euclidean division a / b.
func NewDiv(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return num.EuclideanDiv(x, y), true }); ok {
		return c
	}
	return &Div{A: a, B: b}
}

// NewMod returns the Euclidean remainder a % b.
func NewMod(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return num.EuclideanMod(x, y), true }); ok {
		return c
	}
	return &Mod{A: a, B: b}
}

// NewMin returns the smaller of a and b. The infinities are absorbed and
// equal operands collapse, so interval unions stay compact.
func NewMin(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return num.Min(x, y), true }); ok {
		return c
	}
	switch {
	case SameAs(a, Expr(positiveInfinity)):
		return b
	case SameAs(b, Expr(positiveInfinity)):
		return a
	case SameAs(a, Expr(negativeInfinity)) || SameAs(b, Expr(negativeInfinity)):
		return negativeInfinity
	case EqualExpr(a, b):
		return a
	}
	return &Min{A: a, B: b}
}

// NewMax returns the larger of a and b, canonicalized like NewMin.
func NewMax(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return num.Max(x, y), true }); ok {
		return c
	}
	switch {
	case SameAs(a, Expr(negativeInfinity)):
		return b
	case SameAs(b, Expr(negativeInfinity)):
		return a
	case SameAs(a, Expr(positiveInfinity)) || SameAs(b, Expr(positiveInfinity)):
		return positiveInfinity
	case EqualExpr(a, b):
		return a
	}
	return &Max{A: a, B: b}
}

func boolIndex(b bool) Index {
	if b {
		return 1
	}
	return 0
}

// NewEqual returns a == b.
func NewEqual(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return boolIndex(x == y), true }); ok {
		return c
	}
	return &Equal{A: a, B: b}
}

// NewNotEqual returns a != b.
func NewNotEqual(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return boolIndex(x != y), true }); ok {
		return c
	}
	return &NotEqual{A: a, B: b}
}

// NewLess returns a < b.
func NewLess(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return boolIndex(x < y), true }); ok {
		return c
	}
	return &Less{A: a, B: b}
}

// NewLessEqual returns a <= b.
func NewLessEqual(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return boolIndex(x <= y), true }); ok {
		return c
	}
	return &LessEqual{A: a, B: b}
}

// NewAnd returns a && b.
func NewAnd(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return boolIndex(x != 0 && y != 0), true }); ok {
		return c
	}
	return &LogicalAnd{A: a, B: b}
}

// NewOr returns a || b.
func NewOr(a, b Expr) Expr {
	if c, ok := fold2(a, b, func(x, y Index) (Index, bool) { return boolIndex(x != 0 || y != 0), true }); ok {
		return c
	}
	return &LogicalOr{A: a, B: b}
}

// NewNot returns !x.
func NewNot(x Expr) Expr {
	if c, ok := AsConstant(x); ok {
		return Const(boolIndex(c == 0))
	}
	return &LogicalNot{X: x}
}

// NewSelect returns select(c, t, f).
func NewSelect(c, t, f Expr) Expr {
	if cv, ok := AsConstant(c); ok {
		if cv != 0 {
			return t
		}
		return f
	}
	return &Select{Condition: c, TrueValue: t, FalseValue: f}
}

// NewLet returns let sym = value in body.
func NewLet(sym Symbol, value, body Expr) Expr {
	return &Let{Sym: sym, Value: value, Body: body}
}

// NewCall returns a call to an intrinsic.
func NewCall(intr Intrinsic, args ...Expr) Expr {
	return &Call{Intrinsic: intr, Args: args}
}

// Cached nullary intrinsics, so the common sentinels share one node.
var (
	positiveInfinity = &Call{Intrinsic: IntrinsicPositiveInfinity}
	negativeInfinity = &Call{Intrinsic: IntrinsicNegativeInfinity}
	indeterminate    = &Call{Intrinsic: IntrinsicIndeterminate}
)

// PositiveInfinity is the expression representing +inf.
func PositiveInfinity() Expr { return positiveInfinity }

// NegativeInfinity is the expression representing -inf.
func NegativeInfinity() Expr { return negativeInfinity }

// Indeterminate is the expression representing an indeterminate value.
func Indeterminate() Expr { return indeterminate }

// Abs returns |x|.
func Abs(x Expr) Expr { return NewCall(IntrinsicAbs, x) }

// BufferRank returns the rank of the buffer bound to buf.
func BufferRank(buf Expr) Expr { return NewCall(IntrinsicBufferRank, buf) }

// BufferElemSize returns the element size of the buffer bound to buf.
func BufferElemSize(buf Expr) Expr { return NewCall(IntrinsicBufferElemSize, buf) }

// BufferBase returns the base address of the buffer bound to buf.
func BufferBase(buf Expr) Expr { return NewCall(IntrinsicBufferBase, buf) }

// BufferSizeBytes returns the size in bytes of the buffer bound to buf.
func BufferSizeBytes(buf Expr) Expr { return NewCall(IntrinsicBufferSizeBytes, buf) }

// BufferMin returns the min of dimension d of the buffer bound to buf.
func BufferMin(buf, d Expr) Expr { return NewCall(IntrinsicBufferMin, buf, d) }

// BufferMax returns the max of dimension d of the buffer bound to buf.
func BufferMax(buf, d Expr) Expr { return NewCall(IntrinsicBufferMax, buf, d) }

// BufferExtent returns the extent of dimension d of the buffer bound to buf.
func BufferExtent(buf, d Expr) Expr { return NewCall(IntrinsicBufferExtent, buf, d) }

// BufferStride returns the stride of dimension d of the buffer bound to buf.
func BufferStride(buf, d Expr) Expr { return NewCall(IntrinsicBufferStride, buf, d) }

// BufferFoldFactor returns the fold factor of dimension d of the buffer
// bound to buf.
func BufferFoldFactor(buf, d Expr) Expr { return NewCall(IntrinsicBufferFoldFactor, buf, d) }

// BufferAt returns the address of the element of buf at the given indices.
func BufferAt(buf Expr, at ...Expr) Expr {
	return NewCall(IntrinsicBufferAt, append([]Expr{buf}, at...)...)
}

// IsBufferIntrinsic returns true for the intrinsics that take a
// buffer-valued variable as their first argument.
func IsBufferIntrinsic(i Intrinsic) bool {
	switch i {
	case IntrinsicBufferRank, IntrinsicBufferElemSize, IntrinsicBufferBase, IntrinsicBufferSizeBytes,
		IntrinsicBufferMin, IntrinsicBufferMax, IntrinsicBufferExtent, IntrinsicBufferStride,
		IntrinsicBufferFoldFactor, IntrinsicBufferAt:
		return true
	}
	return false
}
