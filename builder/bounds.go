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

package builder

import (
	"fmt"

	"github.com/alexander-shaposhnikov/slinky/ir"
)

// InferBounds rewrites the statement emitted by the pipeline builder so
// that every allocation has closed-form dimensions in the pipeline's
// inputs and loop variables.
//
// Consumer demand is propagated backwards through each call's bounds
// expressions into a growing box per buffer. Each allocation's dims are
// rewritten from its box, crops are tightened around calls (including the
// sliding window shrink across loop iterations), and checks are emitted
// asserting that declared bounds dominate inferred bounds. For each
// pipeline input, top-level checks assert the caller-supplied buffer
// contains the inferred demand.
func InferBounds(s ir.Stmt, ctx *ir.Context, inputs []ir.Symbol) ir.Stmt {
	b := &boundsInferrer{ctx: ctx}
	// The bounds of the inputs are inferred like those of any
	// intermediate buffer.
	for _, in := range inputs {
		b.inferring.Set(in, &ir.Box{})
	}
	result := b.mutateStmt(s)

	var checks []ir.Stmt
	for _, in := range inputs {
		box, _ := b.inferring.Get(in)
		v := ir.Var(in)
		for d, bounds := range *box {
			dim := ir.Const(ir.Index(d))
			checks = append(checks, &ir.Check{Condition: ir.NewLessEqual(ir.BufferMin(v, dim), bounds.Min)})
			checks = append(checks, &ir.Check{Condition: ir.NewLessEqual(bounds.Max, ir.BufferMax(v, dim))})
		}
	}
	return ir.NewBlock(ir.NewBlock(checks...), result)
}

type loopMin struct {
	sym ir.Symbol
	min ir.Expr
}

type boundsInferrer struct {
	ctx *ir.Context

	// inferring grows the required bounds of each buffer whose
	// allocation is still being determined.
	inferring ir.SymbolMap[*ir.Box]

	// crops tracks the active crop on each buffer from enclosing
	// crop_buffer and crop_dim statements.
	crops ir.SymbolMap[ir.Box]

	// loopMins is the stack of enclosing loops; the min expression of a
	// loop is shifted downward when a producer inside it slides.
	loopMins []loopMin

	// loopsSinceAllocate records the loop depth at each buffer's
	// allocation point.
	loopsSinceAllocate ir.SymbolMap[int]
}

func (b *boundsInferrer) mutateStmt(s ir.Stmt) ir.Stmt {
	if s == nil {
		return nil
	}
	switch s := s.(type) {
	case *ir.Allocate:
		return b.visitAllocate(s)
	case *ir.CallFunc:
		return b.visitCallFunc(s)
	case *ir.CropBuffer:
		restore := b.crops.Bind(s.Sym, s.Bounds)
		defer restore()
		return ir.MutateStmtChildren(s, identityExpr, b.mutateStmt)
	case *ir.CropDim:
		return b.visitCropDim(s)
	case *ir.Loop:
		return b.visitLoop(s)
	case *ir.Block:
		// Visit in reverse order: consumer demand must be gathered
		// before the producers earlier in the block are rewritten.
		bb := b.mutateStmt(s.B)
		aa := b.mutateStmt(s.A)
		if aa == nil {
			return bb
		}
		if bb == nil {
			return aa
		}
		if ir.SameAs(aa, s.A) && ir.SameAs(bb, s.B) {
			return s
		}
		return &ir.Block{A: aa, B: bb}
	default:
		return ir.MutateStmtChildren(s, identityExpr, b.mutateStmt)
	}
}

func identityExpr(e ir.Expr) ir.Expr { return e }

func (b *boundsInferrer) visitAllocate(alloc *ir.Allocate) ir.Stmt {
	if b.inferring.Contains(alloc.Sym) {
		panic(fmt.Sprintf("builder: %s allocated twice", b.ctx.Name(alloc.Sym)))
	}
	b.inferring.Set(alloc.Sym, &ir.Box{})
	restore := b.loopsSinceAllocate.Bind(alloc.Sym, len(b.loopMins))
	body := b.mutateStmt(alloc.Body)
	restore()

	// The allocation's dims were emitted as buffer metadata expressions
	// on the allocated buffer itself. Build replacements mapping those
	// expressions to the inferred values, so a user override such as
	// "extent + 10" picks up the inferred extent.
	inferredBox, _ := b.inferring.Get(alloc.Sym)
	inferred := *inferredBox
	allocVar := ir.Var(alloc.Sym)
	var strideBytes ir.Expr = ir.Const(alloc.ElemSize)
	type replacement struct{ from, to ir.Expr }
	var replacements []replacement
	type letBinding struct {
		sym   ir.Symbol
		value ir.Expr
	}
	var lets []letBinding
	for d, bounds := range inferred {
		dim := ir.Const(ir.Index(d))

		min := Simplify(bounds.Min)

		extentSym := b.ctx.InsertUnique()
		lets = append(lets, letBinding{sym: extentSym, value: Simplify(bounds.Extent())})
		extent := ir.Var(extentSym)

		replacements = append(replacements,
			replacement{from: ir.BufferMin(allocVar, dim), to: min},
			replacement{from: ir.BufferExtent(allocVar, dim), to: extent},
			replacement{from: ir.BufferStride(allocVar, dim), to: strideBytes},
			replacement{from: ir.BufferFoldFactor(allocVar, dim), to: ir.Const(-1)},
			replacement{from: ir.BufferMax(allocVar, dim), to: ir.NewSub(ir.NewAdd(min, extent), ir.Const(1))},
		)
		strideBytes = ir.NewMul(strideBytes, extent)
	}

	// Keep replacing until nothing changes: an override may reference
	// metadata of another dim, which itself rewrites to metadata.
	dims := append([]ir.DimExpr(nil), alloc.Dims...)
	for {
		changed := false
		for d := range dims {
			newDim := dims[d]
			for _, r := range replacements {
				newDim = ir.DimExpr{
					Bounds: ir.NewInterval(
						SubstituteExpr(newDim.Bounds.Min, r.from, r.to),
						SubstituteExpr(newDim.Bounds.Max, r.from, r.to)),
					Stride:     SubstituteExpr(newDim.Stride, r.from, r.to),
					FoldFactor: SubstituteExpr(newDim.FoldFactor, r.from, r.to),
				}
			}
			if !newDim.SameAs(dims[d]) {
				changed = true
				dims[d] = newDim
			}
		}
		if !changed {
			break
		}
	}

	// Check that the bounds we are going to allocate dominate the
	// inferred bounds.
	var checks []ir.Stmt
	for d := range dims {
		if d >= len(inferred) {
			break
		}
		checks = append(checks,
			&ir.Check{Condition: ir.NewLessEqual(dims[d].Bounds.Min, inferred[d].Min)},
			&ir.Check{Condition: ir.NewLessEqual(inferred[d].Max, dims[d].Bounds.Max)})
	}

	var s ir.Stmt = &ir.Allocate{
		Sym:      alloc.Sym,
		Storage:  alloc.Storage,
		ElemSize: alloc.ElemSize,
		Dims:     dims,
		Body:     body,
	}
	s = ir.NewBlock(ir.NewBlock(checks...), s)
	for _, let := range lets {
		s = &ir.LetStmt{Sym: let.sym, Value: let.value, Body: s}
	}
	return s
}

// bufferMeta returns the inferred bound of a buffer dimension when one is
// being inferred, falling back to the metadata intrinsic.
func (b *boundsInferrer) bufferMeta(buf ir.Symbol, intr ir.Intrinsic, d int) ir.Expr {
	if box, ok := b.inferring.Get(buf); ok && d < len(*box) {
		switch intr {
		case ir.IntrinsicBufferMin:
			return (*box)[d].Min
		case ir.IntrinsicBufferMax:
			return (*box)[d].Max
		case ir.IntrinsicBufferExtent:
			return (*box)[d].Extent()
		}
	}
	return ir.NewCall(intr, ir.Var(buf), ir.Const(ir.Index(d)))
}

func (b *boundsInferrer) visitCallFunc(c *ir.CallFunc) ir.Stmt {
	if c.Fn == nil {
		return c
	}

	// Bind each output dim variable to the output's current crop, or to
	// the buffer's own bounds when it is not cropped.
	mins := Matches{}
	maxs := Matches{}
	for _, out := range c.Fn.OutputDims() {
		cropped, hasCrop := b.crops.Get(out.Buffer)
		for d, dimVar := range out.Dims {
			sym, ok := ir.AsVariable(dimVar)
			if !ok {
				panic("builder: output dims must be variables")
			}
			if hasCrop && d < len(cropped) && cropped[d].Defined() {
				mins[sym] = cropped[d].Min
				maxs[sym] = cropped[d].Max
			} else {
				mins[sym] = b.bufferMeta(out.Buffer, ir.IntrinsicBufferMin, d)
				maxs[sym] = b.bufferMeta(out.Buffer, ir.IntrinsicBufferMax, d)
			}
		}
	}

	// Expand the bounds required of the inputs.
	for _, in := range c.Fn.InputBounds() {
		box, ok := b.inferring.Get(in.Buffer)
		if !ok {
			panic(fmt.Sprintf("builder: no allocation in scope for %s", b.ctx.Name(in.Buffer)))
		}
		*box = box.GrowTo(len(in.Bounds))
		for d, bounds := range in.Bounds {
			min := Substitute(bounds.Min, mins)
			max := Substitute(bounds.Max, maxs)
			// A pipeline may flip a dimension, leaving min > max; union
			// both orientations.
			(*box)[d] = (*box)[d].Union(ir.NewInterval(min, max)).Union(ir.NewInterval(max, min))
		}
	}

	// Re-emit the call wrapped in a crop per output.
	var s ir.Stmt = c
	for _, out := range c.Fn.OutputDims() {
		box, ok := b.inferring.Get(out.Buffer)
		if !ok {
			continue
		}
		// Keep the inferred bounds for allocation, but shrink the crop
		// to the slice not covered by previous iterations of enclosing
		// loops (the sliding window).
		cropBounds := box.Clone()
		firstLoop := b.loopsSinceAllocate.GetOr(out.Buffer, 0)
		for l := firstLoop; l < len(b.loopMins); l++ {
			lm := &b.loopMins[l]
			prevIter := Matches{lm.sym: ir.NewSub(ir.Var(lm.sym), ir.Const(1))}
			for d := range cropBounds {
				prevMin := Simplify(Substitute(cropBounds[d].Min, prevIter))
				prevMax := Simplify(Substitute(cropBounds[d].Max, prevIter))
				if CanProve(ir.NewLessEqual(prevMin, cropBounds[d].Min)) &&
					CanProve(ir.NewLess(prevMax, cropBounds[d].Max)) {
					// The bounds grow monotonically with the loop
					// variable: only the newly uncovered slice needs to
					// be produced each iteration. Shift the loop min
					// down so the first iteration primes the window.
					oldMin := cropBounds[d].Min
					newMin := ir.NewAdd(prevMax, ir.Const(1))
					lm.min = ir.NewSub(lm.min, Simplify(ir.NewSub(newMin, oldMin)))
					cropBounds[d].Min = newMin
					break
				}
			}
		}
		s = &ir.CropBuffer{Sym: out.Buffer, Bounds: cropBounds, Body: s}
	}

	// Guard the call against iterations below each loop's original min,
	// in case a later producer shifts the loop min down.
	for _, lm := range b.loopMins {
		s = &ir.IfThenElse{
			Condition: ir.NewLessEqual(lm.min, ir.Var(lm.sym)),
			TrueBody:  s,
		}
	}
	return s
}

func (b *boundsInferrer) visitCropDim(c *ir.CropDim) ir.Stmt {
	cropped, ok := b.crops.Get(c.Sym)
	if !ok {
		cropped = make(ir.Box, c.Dim+1)
	} else {
		cropped = cropped.Clone()
		for len(cropped) <= c.Dim {
			cropped = append(cropped, ir.Interval{})
		}
	}
	cropped[c.Dim] = c.Bounds

	restore := b.crops.Bind(c.Sym, cropped)
	s := ir.MutateStmtChildren(c, identityExpr, b.mutateStmt)
	restore()

	// The guard inserted around the call assumes the buffer metadata the
	// condition reads is the uncropped one; hoist it outside the crop so
	// it still eliminates out-of-range first iterations after a loop min
	// shift.
	c2, ok := s.(*ir.CropDim)
	if !ok {
		return s
	}
	if ite, ok := c2.Body.(*ir.IfThenElse); ok && ite.FalseBody == nil {
		return &ir.IfThenElse{
			Condition: ite.Condition,
			TrueBody: &ir.CropDim{
				Sym:    c2.Sym,
				Dim:    c2.Dim,
				Bounds: c2.Bounds,
				Body:   ite.TrueBody,
			},
		}
	}
	return s
}

func (b *boundsInferrer) visitLoop(l *ir.Loop) ir.Stmt {
	b.loopMins = append(b.loopMins, loopMin{sym: l.Sym, min: l.Bounds.Min})
	body := b.mutateStmt(l.Body)
	shiftedMin := b.loopMins[len(b.loopMins)-1].min
	b.loopMins = b.loopMins[:len(b.loopMins)-1]

	var s ir.Stmt
	if ir.SameAs(shiftedMin, l.Bounds.Min) && ir.SameAs(body, l.Body) {
		s = l
	} else {
		s = &ir.Loop{
			Sym:    l.Sym,
			Bounds: ir.NewInterval(shiftedMin, l.Bounds.Max),
			Step:   l.Step,
			Body:   body,
		}
	}

	// We are leaving the loop: close the loop variable over its original
	// range in every bound still being inferred. Taking the min and max
	// of both endpoints also restores bounds a flipped dimension may
	// have swapped.
	b.inferring.ForEach(func(_ ir.Symbol, box *ir.Box) {
		for d := range *box {
			bounds := &(*box)[d]
			if ir.DependsOnVariable(bounds.Min, l.Sym) {
				atMin := SubstituteSym(bounds.Min, l.Sym, l.Bounds.Min)
				atMax := SubstituteSym(bounds.Min, l.Sym, l.Bounds.Max)
				bounds.Min = ir.NewMin(atMin, atMax)
			}
			if ir.DependsOnVariable(bounds.Max, l.Sym) {
				atMin := SubstituteSym(bounds.Max, l.Sym, l.Bounds.Min)
				atMax := SubstituteSym(bounds.Max, l.Sym, l.Bounds.Max)
				bounds.Max = ir.NewMax(atMin, atMax)
			}
		}
	})
	return s
}
