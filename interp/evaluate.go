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

package interp

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/alexander-shaposhnikov/slinky/base/num"
	"github.com/alexander-shaposhnikov/slinky/buffer"
	"github.com/alexander-shaposhnikov/slinky/ir"
)

// Evaluate evaluates an expression under the context. Every variable the
// expression reads must be bound.
func Evaluate(e ir.Expr, ctx *Context) Index {
	return evalExpr(e, ctx)
}

// EvaluateStmt evaluates a statement under the context. It returns 0 on
// success; a non-zero result aborts enclosing blocks and loops and
// propagates up.
func EvaluateStmt(s ir.Stmt, ctx *Context) Index {
	return evalStmt(s, ctx)
}

func evalOr(e ir.Expr, def Index, ctx *Context) Index {
	if e == nil {
		return def
	}
	return evalExpr(e, ctx)
}

func evalExpr(e ir.Expr, ctx *Context) Index {
	switch e := e.(type) {
	case *ir.Constant:
		return e.Value
	case *ir.Variable:
		return evalVariable(e.Sym, ctx)
	case *ir.Wildcard:
		return evalVariable(e.Sym, ctx)
	case *ir.Add:
		return evalExpr(e.A, ctx) + evalExpr(e.B, ctx)
	case *ir.Sub:
		return evalExpr(e.A, ctx) - evalExpr(e.B, ctx)
	case *ir.Mul:
		return evalExpr(e.A, ctx) * evalExpr(e.B, ctx)
	case *ir.Div:
		return num.EuclideanDiv(evalExpr(e.A, ctx), evalExpr(e.B, ctx))
	case *ir.Mod:
		return num.EuclideanMod(evalExpr(e.A, ctx), evalExpr(e.B, ctx))
	case *ir.Min:
		return num.Min(evalExpr(e.A, ctx), evalExpr(e.B, ctx))
	case *ir.Max:
		return num.Max(evalExpr(e.A, ctx), evalExpr(e.B, ctx))
	case *ir.Equal:
		return boolIndex(evalExpr(e.A, ctx) == evalExpr(e.B, ctx))
	case *ir.NotEqual:
		return boolIndex(evalExpr(e.A, ctx) != evalExpr(e.B, ctx))
	case *ir.Less:
		return boolIndex(evalExpr(e.A, ctx) < evalExpr(e.B, ctx))
	case *ir.LessEqual:
		return boolIndex(evalExpr(e.A, ctx) <= evalExpr(e.B, ctx))
	case *ir.LogicalAnd:
		return boolIndex(evalExpr(e.A, ctx) != 0 && evalExpr(e.B, ctx) != 0)
	case *ir.LogicalOr:
		return boolIndex(evalExpr(e.A, ctx) != 0 || evalExpr(e.B, ctx) != 0)
	case *ir.LogicalNot:
		return boolIndex(evalExpr(e.X, ctx) == 0)
	case *ir.Select:
		if evalExpr(e.Condition, ctx) != 0 {
			return evalExpr(e.TrueValue, ctx)
		}
		return evalExpr(e.FalseValue, ctx)
	case *ir.Let:
		restore := ctx.values.Bind(e.Sym, Value{Index: evalExpr(e.Value, ctx)})
		defer restore()
		return evalExpr(e.Body, ctx)
	case *ir.Call:
		return evalCall(e, ctx)
	}
	panic("interp: unknown expression kind")
}

func boolIndex(b bool) Index {
	if b {
		return 1
	}
	return 0
}

func evalVariable(sym ir.Symbol, ctx *Context) Index {
	v, ok := ctx.values.Get(sym)
	if !ok {
		panic(fmt.Sprintf("interp: %s is not defined", ctx.symbolName(sym)))
	}
	return v.Index
}

func evalCall(e *ir.Call, ctx *Context) Index {
	switch e.Intrinsic {
	case ir.IntrinsicPositiveInfinity, ir.IntrinsicNegativeInfinity, ir.IntrinsicIndeterminate:
		panic(fmt.Sprintf("interp: cannot evaluate %s", e.Intrinsic))
	case ir.IntrinsicAbs:
		return num.Abs(evalExpr(e.Args[0], ctx))
	}
	buf := evalBufferArg(e, ctx)
	switch e.Intrinsic {
	case ir.IntrinsicBufferRank:
		return Index(buf.Rank())
	case ir.IntrinsicBufferElemSize:
		return buf.ElemSize
	case ir.IntrinsicBufferBase:
		return buf.Base
	case ir.IntrinsicBufferSizeBytes:
		return buf.SizeBytes()
	}
	if e.Intrinsic == ir.IntrinsicBufferAt {
		at := buf.Base
		for d := 0; d+1 < len(e.Args); d++ {
			if e.Args[d+1] != nil {
				at += buf.Dim(d).FlatOffsetBytes(evalExpr(e.Args[d+1], ctx))
			}
		}
		return at
	}
	dim := buf.Dim(int(evalExpr(e.Args[1], ctx)))
	switch e.Intrinsic {
	case ir.IntrinsicBufferMin:
		return dim.Min()
	case ir.IntrinsicBufferMax:
		return dim.Max()
	case ir.IntrinsicBufferExtent:
		return dim.Extent()
	case ir.IntrinsicBufferStride:
		return dim.Stride()
	case ir.IntrinsicBufferFoldFactor:
		return dim.FoldFactor()
	}
	panic(fmt.Sprintf("interp: unknown intrinsic %s", e.Intrinsic))
}

func evalBufferArg(e *ir.Call, ctx *Context) *buffer.Raw {
	sym, ok := ir.AsVariable(e.Args[0])
	if !ok {
		panic("interp: buffer intrinsic on a non-variable argument")
	}
	return ctx.LookupBuffer(sym)
}

func evalStmt(s ir.Stmt, ctx *Context) Index {
	switch s := s.(type) {
	case *ir.LetStmt:
		restore := ctx.values.Bind(s.Sym, Value{Index: evalExpr(s.Value, ctx)})
		defer restore()
		return evalStmt(s.Body, ctx)
	case *ir.Block:
		result := Index(0)
		if s.A != nil {
			result = evalStmt(s.A, ctx)
		}
		if result == 0 && s.B != nil {
			result = evalStmt(s.B, ctx)
		}
		return result
	case *ir.Loop:
		return evalLoop(s, ctx)
	case *ir.IfThenElse:
		if evalExpr(s.Condition, ctx) != 0 {
			if s.TrueBody != nil {
				return evalStmt(s.TrueBody, ctx)
			}
		} else if s.FalseBody != nil {
			return evalStmt(s.FalseBody, ctx)
		}
		return 0
	case *ir.CallFunc:
		return evalCallFunc(s, ctx)
	case *ir.Allocate:
		return evalAllocate(s, ctx)
	case *ir.MakeBuffer:
		return evalMakeBuffer(s, ctx)
	case *ir.CropBuffer:
		return evalCropBuffer(s, ctx)
	case *ir.CropDim:
		return evalCropDim(s, ctx)
	case *ir.SliceBuffer:
		return evalSliceBuffer(s, ctx)
	case *ir.SliceDim:
		return evalSliceDim(s, ctx)
	case *ir.TruncateRank:
		buf := ctx.LookupBuffer(s.Sym)
		oldDims := buf.Dims
		buf.Dims = buf.Dims[:s.Rank]
		result := evalStmt(s.Body, ctx)
		buf.Dims = oldDims
		return result
	case *ir.Check:
		return evalCheck(s, ctx)
	}
	panic("interp: unknown statement kind")
}

func evalLoop(s *ir.Loop, ctx *Context) Index {
	min := evalExpr(s.Bounds.Min, ctx)
	max := evalExpr(s.Bounds.Max, ctx)
	step := evalOr(s.Step, 1, ctx)
	restore := ctx.values.Bind(s.Sym, Value{})
	defer restore()
	result := Index(0)
	for i := min; result == 0 && min <= i && i <= max; i += step {
		ctx.values.Set(s.Sym, Value{Index: i})
		result = evalStmt(s.Body, ctx)
	}
	return result
}

func evalCallFunc(s *ir.CallFunc, ctx *Context) Index {
	lookup := func(syms []ir.Symbol) []*buffer.Raw {
		bufs := make([]*buffer.Raw, len(syms))
		for i, sym := range syms {
			bufs[i] = ctx.LookupBuffer(sym)
		}
		return bufs
	}
	result := s.Target(lookup(s.Inputs), lookup(s.Outputs))
	if result != 0 {
		if ctx.CallFailed != nil {
			ctx.err = ctx.CallFailed(s)
		} else {
			ctx.err = errors.Errorf("kernel failed with status %d: %s", result, ir.ToString(s, ctx.Symbols))
		}
	}
	return result
}

func evalDims(dims []ir.DimExpr, ctx *Context) []buffer.Dim {
	out := make([]buffer.Dim, len(dims))
	for i, d := range dims {
		out[i].SetBounds(evalExpr(d.Bounds.Min, ctx), evalExpr(d.Bounds.Max, ctx))
		out[i].SetStride(evalExpr(d.Stride, ctx))
		out[i].SetFoldFactor(evalOr(d.FoldFactor, buffer.Unfolded, ctx))
	}
	return out
}

func evalAllocate(s *ir.Allocate, ctx *Context) Index {
	buf := &buffer.Raw{
		ElemSize: s.ElemSize,
		Dims:     evalDims(s.Dims, ctx),
	}
	heap := s.Storage == ir.MemoryHeap
	if heap && ctx.Allocate != nil {
		ctx.Allocate(s.Sym, buf)
		defer ctx.Free(s.Sym, buf)
	} else {
		buf.Allocate()
		defer buf.Free()
	}
	restore := ctx.values.Bind(s.Sym, Value{Buffer: buf})
	defer restore()
	return evalStmt(s.Body, ctx)
}

func evalMakeBuffer(s *ir.MakeBuffer, ctx *Context) Index {
	buf := &buffer.Raw{
		ElemSize: evalExpr(s.ElemSize, ctx),
		Dims:     evalDims(s.Dims, ctx),
	}
	// A base built from buffer_at aliases the addressed buffer's data;
	// any other base is an opaque address carried as an offset.
	if at, ok := s.Base.(*ir.Call); ok && at.Intrinsic == ir.IntrinsicBufferAt {
		buf.Data = evalBufferArg(at, ctx).Data
	}
	buf.Base = evalExpr(s.Base, ctx)
	restore := ctx.values.Bind(s.Sym, Value{Buffer: buf})
	defer restore()
	return evalStmt(s.Body, ctx)
}

func evalCropBuffer(s *ir.CropBuffer, ctx *Context) Index {
	buf := ctx.LookupBuffer(s.Sym)
	type oldBounds struct{ min, extent Index }
	old := make([]oldBounds, len(s.Bounds))
	oldBase := buf.Base
	offset := Index(0)
	for d := range s.Bounds {
		dim := buf.Dim(d)
		old[d] = oldBounds{min: dim.Min(), extent: dim.Extent()}
		// Undefined bounds keep the dim's existing values.
		min := num.Max(dim.Min(), evalOr(s.Bounds[d].Min, dim.Min(), ctx))
		max := num.Min(dim.Max(), evalOr(s.Bounds[d].Max, dim.Max(), ctx))
		offset += dim.FlatOffsetBytes(min)
		dim.SetBounds(min, max)
	}
	buf.Base += offset
	result := evalStmt(s.Body, ctx)
	buf.Base = oldBase
	for d := range s.Bounds {
		buf.Dim(d).SetMinExtent(old[d].min, old[d].extent)
	}
	return result
}

func evalCropDim(s *ir.CropDim, ctx *Context) Index {
	buf := ctx.LookupBuffer(s.Sym)
	dim := buf.Dim(s.Dim)
	oldBase := buf.Base
	oldMin, oldExtent := dim.Min(), dim.Extent()
	min := num.Max(dim.Min(), evalExpr(s.Bounds.Min, ctx))
	buf.Base += dim.FlatOffsetBytes(min)
	if ir.SameAs(s.Bounds.Min, s.Bounds.Max) {
		// Crops to a single element are common; reuse the evaluated min.
		dim.SetPoint(min)
	} else {
		dim.SetBounds(min, num.Min(dim.Max(), evalExpr(s.Bounds.Max, ctx)))
	}
	result := evalStmt(s.Body, ctx)
	buf.Base = oldBase
	dim.SetMinExtent(oldMin, oldExtent)
	return result
}

func evalSliceBuffer(s *ir.SliceBuffer, ctx *Context) Index {
	buf := ctx.LookupBuffer(s.Sym)
	oldDims := buf.Dims
	oldBase := buf.Base
	dims := make([]buffer.Dim, 0, len(oldDims))
	offset := Index(0)
	for d := range oldDims {
		if d < len(s.At) && s.At[d] != nil {
			offset += oldDims[d].FlatOffsetBytes(evalExpr(s.At[d], ctx))
		} else {
			dims = append(dims, oldDims[d])
		}
	}
	buf.Dims = dims
	buf.Base += offset
	result := evalStmt(s.Body, ctx)
	buf.Base = oldBase
	buf.Dims = oldDims
	return result
}

func evalSliceDim(s *ir.SliceDim, ctx *Context) Index {
	buf := ctx.LookupBuffer(s.Sym)
	oldDims := buf.Dims
	oldBase := buf.Base
	buf.Base += oldDims[s.Dim].FlatOffsetBytes(evalExpr(s.At, ctx))
	dims := make([]buffer.Dim, 0, len(oldDims)-1)
	dims = append(dims, oldDims[:s.Dim]...)
	dims = append(dims, oldDims[s.Dim+1:]...)
	buf.Dims = dims
	result := evalStmt(s.Body, ctx)
	buf.Base = oldBase
	buf.Dims = oldDims
	return result
}

func evalCheck(s *ir.Check, ctx *Context) Index {
	if evalOr(s.Condition, 0, ctx) != 0 {
		return 0
	}
	if ctx.CheckFailed != nil {
		ctx.err = ctx.CheckFailed(s.Condition)
	} else {
		ctx.err = errors.Errorf("check failed: %s\ncontext:\n%s",
			ir.ToString(s.Condition, ctx.Symbols), ctx.dumpFor(s.Condition))
	}
	return 1
}
