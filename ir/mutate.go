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

// The mutator discipline: passes are exhaustive switches over the node
// kinds they care about, and fall back to MutateExprChildren or
// MutateStmtChildren for the rest. The helpers reconstruct a node from
// mutated children, returning the original node when no child changed so
// SameAs-driven early-outs keep working.

// MutateExprChildren applies fn to each child expression of x and
// reconstructs x. A nil child stays nil.
func MutateExprChildren(x Expr, fn func(Expr) Expr) Expr {
	mutate := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return fn(e)
	}
	switch x := x.(type) {
	case *Constant, *Variable, *Wildcard:
		return x
	case *Add:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Add{A: a, B: b}
	case *Sub:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Sub{A: a, B: b}
	case *Mul:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Mul{A: a, B: b}
	case *Div:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Div{A: a, B: b}
	case *Mod:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Mod{A: a, B: b}
	case *Min:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Min{A: a, B: b}
	case *Max:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Max{A: a, B: b}
	case *Equal:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Equal{A: a, B: b}
	case *NotEqual:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &NotEqual{A: a, B: b}
	case *Less:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &Less{A: a, B: b}
	case *LessEqual:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &LessEqual{A: a, B: b}
	case *LogicalAnd:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &LogicalAnd{A: a, B: b}
	case *LogicalOr:
		a, b := mutate(x.A), mutate(x.B)
		if SameAs(a, x.A) && SameAs(b, x.B) {
			return x
		}
		return &LogicalOr{A: a, B: b}
	case *LogicalNot:
		nx := mutate(x.X)
		if SameAs(nx, x.X) {
			return x
		}
		return &LogicalNot{X: nx}
	case *Select:
		c, t, f := mutate(x.Condition), mutate(x.TrueValue), mutate(x.FalseValue)
		if SameAs(c, x.Condition) && SameAs(t, x.TrueValue) && SameAs(f, x.FalseValue) {
			return x
		}
		return &Select{Condition: c, TrueValue: t, FalseValue: f}
	case *Let:
		value, body := mutate(x.Value), mutate(x.Body)
		if SameAs(value, x.Value) && SameAs(body, x.Body) {
			return x
		}
		return &Let{Sym: x.Sym, Value: value, Body: body}
	case *Call:
		args := make([]Expr, len(x.Args))
		changed := false
		for i, arg := range x.Args {
			args[i] = mutate(arg)
			changed = changed || !SameAs(args[i], arg)
		}
		if !changed {
			return x
		}
		return &Call{Intrinsic: x.Intrinsic, Args: args}
	}
	panic("ir.MutateExprChildren: unknown expression kind")
}

func mutateInterval(i Interval, fn func(Expr) Expr) Interval {
	mutate := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return fn(e)
	}
	return Interval{Min: mutate(i.Min), Max: mutate(i.Max)}
}

func mutateDims(dims []DimExpr, fn func(Expr) Expr) ([]DimExpr, bool) {
	mutate := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return fn(e)
	}
	out := make([]DimExpr, len(dims))
	changed := false
	for i, d := range dims {
		out[i] = DimExpr{
			Bounds:     mutateInterval(d.Bounds, fn),
			Stride:     mutate(d.Stride),
			FoldFactor: mutate(d.FoldFactor),
		}
		changed = changed || !out[i].SameAs(d)
	}
	return out, changed
}

// MutateStmtChildren applies fe to each child expression and fs to each
// child statement of s, and reconstructs s. Nil children stay nil.
func MutateStmtChildren(s Stmt, fe func(Expr) Expr, fs func(Stmt) Stmt) Stmt {
	mutateExpr := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return fe(e)
	}
	mutateStmt := func(s Stmt) Stmt {
		if s == nil {
			return nil
		}
		return fs(s)
	}
	switch s := s.(type) {
	case *LetStmt:
		value, body := mutateExpr(s.Value), mutateStmt(s.Body)
		if SameAs(value, s.Value) && SameAs(body, s.Body) {
			return s
		}
		return &LetStmt{Sym: s.Sym, Value: value, Body: body}
	case *Block:
		a, b := mutateStmt(s.A), mutateStmt(s.B)
		if a == nil {
			return b
		}
		if b == nil {
			return a
		}
		if SameAs(a, s.A) && SameAs(b, s.B) {
			return s
		}
		return &Block{A: a, B: b}
	case *Loop:
		bounds := mutateInterval(s.Bounds, fe)
		step := mutateExpr(s.Step)
		body := mutateStmt(s.Body)
		if bounds.SameAs(s.Bounds) && SameAs(step, s.Step) && SameAs(body, s.Body) {
			return s
		}
		return &Loop{Sym: s.Sym, Bounds: bounds, Step: step, Body: body}
	case *IfThenElse:
		cond := mutateExpr(s.Condition)
		t, f := mutateStmt(s.TrueBody), mutateStmt(s.FalseBody)
		if SameAs(cond, s.Condition) && SameAs(t, s.TrueBody) && SameAs(f, s.FalseBody) {
			return s
		}
		return &IfThenElse{Condition: cond, TrueBody: t, FalseBody: f}
	case *CallFunc:
		return s
	case *Allocate:
		dims, changed := mutateDims(s.Dims, fe)
		body := mutateStmt(s.Body)
		if !changed && SameAs(body, s.Body) {
			return s
		}
		return &Allocate{Sym: s.Sym, Storage: s.Storage, ElemSize: s.ElemSize, Dims: dims, Body: body}
	case *MakeBuffer:
		base := mutateExpr(s.Base)
		elemSize := mutateExpr(s.ElemSize)
		dims, changed := mutateDims(s.Dims, fe)
		body := mutateStmt(s.Body)
		if !changed && SameAs(base, s.Base) && SameAs(elemSize, s.ElemSize) && SameAs(body, s.Body) {
			return s
		}
		return &MakeBuffer{Sym: s.Sym, Base: base, ElemSize: elemSize, Dims: dims, Body: body}
	case *CropBuffer:
		bounds := make(Box, len(s.Bounds))
		changed := false
		for i, b := range s.Bounds {
			bounds[i] = mutateInterval(b, fe)
			changed = changed || !bounds[i].SameAs(b)
		}
		body := mutateStmt(s.Body)
		if !changed && SameAs(body, s.Body) {
			return s
		}
		return &CropBuffer{Sym: s.Sym, Bounds: bounds, Body: body}
	case *CropDim:
		bounds := mutateInterval(s.Bounds, fe)
		body := mutateStmt(s.Body)
		if bounds.SameAs(s.Bounds) && SameAs(body, s.Body) {
			return s
		}
		return &CropDim{Sym: s.Sym, Dim: s.Dim, Bounds: bounds, Body: body}
	case *SliceBuffer:
		at := make([]Expr, len(s.At))
		changed := false
		for i, a := range s.At {
			at[i] = mutateExpr(a)
			changed = changed || !SameAs(at[i], a)
		}
		body := mutateStmt(s.Body)
		if !changed && SameAs(body, s.Body) {
			return s
		}
		return &SliceBuffer{Sym: s.Sym, At: at, Body: body}
	case *SliceDim:
		at := mutateExpr(s.At)
		body := mutateStmt(s.Body)
		if SameAs(at, s.At) && SameAs(body, s.Body) {
			return s
		}
		return &SliceDim{Sym: s.Sym, Dim: s.Dim, At: at, Body: body}
	case *TruncateRank:
		body := mutateStmt(s.Body)
		if SameAs(body, s.Body) {
			return s
		}
		return &TruncateRank{Sym: s.Sym, Rank: s.Rank, Body: body}
	case *Check:
		cond := mutateExpr(s.Condition)
		if SameAs(cond, s.Condition) {
			return s
		}
		return &Check{Condition: cond}
	}
	panic("ir.MutateStmtChildren: unknown statement kind")
}

// NewBlock sequences statements, dropping nils. It returns nil for an
// empty sequence and the statement itself for a single one.
func NewBlock(stmts ...Stmt) Stmt {
	var result Stmt
	for _, s := range stmts {
		if s == nil {
			continue
		}
		if result == nil {
			result = s
		} else {
			result = &Block{A: result, B: s}
		}
	}
	return result
}
