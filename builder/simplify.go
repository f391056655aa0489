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
	"github.com/alexander-shaposhnikov/slinky/base/num"
	"github.com/alexander-shaposhnikov/slinky/ir"
)

// Pattern variables of the rule tables.
var (
	rx ir.Expr = ir.Wild(0)
	ry ir.Expr = ir.Wild(1)
	rz ir.Expr = ir.Wild(2)
)

// rule rewrites an expression matching pattern into the replacement with
// the captured bindings. A rule with a predicate fires only when the
// predicate is provable after binding.
type rule struct {
	pattern     ir.Expr
	replacement ir.Expr
	predicate   ir.Expr
}

var minRules = []rule{
	{pattern: &ir.Min{A: rx, B: rx}, replacement: rx},
	{pattern: &ir.Min{A: rx, B: ir.PositiveInfinity()}, replacement: rx},
	{pattern: &ir.Min{A: rx, B: ir.NegativeInfinity()}, replacement: ir.NegativeInfinity()},
	{pattern: &ir.Min{A: &ir.Div{A: rx, B: rz}, B: &ir.Div{A: ry, B: rz}},
		replacement: &ir.Div{A: &ir.Min{A: rx, B: ry}, B: rz},
		predicate:   &ir.Less{A: ir.Const(0), B: rz}},
	{pattern: &ir.Min{A: &ir.Add{A: rx, B: rz}, B: &ir.Add{A: ry, B: rz}},
		replacement: &ir.Add{A: &ir.Min{A: rx, B: ry}, B: rz}},
	{pattern: &ir.Min{A: ir.BufferMin(rx, ry), B: ir.BufferMax(rx, ry)},
		replacement: ir.BufferMin(rx, ry)},
}

var maxRules = []rule{
	{pattern: &ir.Max{A: rx, B: rx}, replacement: rx},
	{pattern: &ir.Max{A: rx, B: ir.NegativeInfinity()}, replacement: rx},
	{pattern: &ir.Max{A: rx, B: ir.PositiveInfinity()}, replacement: ir.PositiveInfinity()},
	{pattern: &ir.Max{A: &ir.Div{A: rx, B: rz}, B: &ir.Div{A: ry, B: rz}},
		replacement: &ir.Div{A: &ir.Max{A: rx, B: ry}, B: rz},
		predicate:   &ir.Less{A: ir.Const(0), B: rz}},
	{pattern: &ir.Max{A: &ir.Add{A: rx, B: rz}, B: &ir.Add{A: ry, B: rz}},
		replacement: &ir.Add{A: &ir.Max{A: rx, B: ry}, B: rz}},
	{pattern: &ir.Max{A: ir.BufferMin(rx, ry), B: ir.BufferMax(rx, ry)},
		replacement: ir.BufferMax(rx, ry)},
}

var addRules = []rule{
	{pattern: &ir.Add{A: &ir.Sub{A: ir.BufferMax(rx, ry), B: ir.BufferMin(rx, ry)}, B: ir.Const(1)},
		replacement: ir.BufferExtent(rx, ry)},
}

var subRules = []rule{
	{pattern: &ir.Sub{A: rx, B: rx}, replacement: ir.Const(0)},
	{pattern: &ir.Sub{A: &ir.Add{A: ir.BufferMin(rx, ry), B: ir.BufferExtent(rx, ry)}, B: ir.Const(1)},
		replacement: ir.BufferMax(rx, ry)},
	{pattern: &ir.Sub{A: &ir.Add{A: rx, B: ry}, B: ry}, replacement: rx},
	{pattern: &ir.Sub{A: &ir.Add{A: ry, B: rx}, B: ry}, replacement: rx},
	{pattern: &ir.Sub{A: rx, B: &ir.Add{A: rx, B: ry}}, replacement: &ir.Sub{A: ir.Const(0), B: ry}},
	{pattern: &ir.Sub{A: &ir.Add{A: rx, B: ry}, B: &ir.Add{A: rx, B: rz}}, replacement: &ir.Sub{A: ry, B: rz}},
}

var divRules = []rule{
	{pattern: &ir.Div{A: ir.Const(0), B: rx}, replacement: ir.Const(0)},
	{pattern: &ir.Div{A: rx, B: ir.Const(1)}, replacement: rx},
}

var modRules = []rule{
	{pattern: &ir.Mod{A: rx, B: ir.Const(1)}, replacement: ir.Const(0)},
}

var selectRules = []rule{
	{pattern: &ir.Select{Condition: ry, TrueValue: rx, FalseValue: rx}, replacement: rx},
}

// Simplify rewrites an expression into an equivalent, usually smaller
// form. Simplification never fails: unrecognised structure is returned
// unchanged.
func Simplify(e ir.Expr) ir.Expr {
	s := &simplifier{}
	return s.mutateExpr(e)
}

// SimplifyStmt simplifies every expression of a statement and prunes
// trivial control flow.
func SimplifyStmt(st ir.Stmt) ir.Stmt {
	s := &simplifier{}
	return s.mutateStmt(st)
}

// CanProve returns true if e simplifies to a non-zero constant. It is
// best-effort: a false result means unknown, not disproven.
func CanProve(e ir.Expr) bool {
	c, ok := ir.AsConstant(Simplify(e))
	return ok && c != 0
}

type simplifier struct {
	// refs counts references to each symbol below the let binding it,
	// for let elimination.
	refs ir.SymbolMap[int]
}

func (s *simplifier) applyRules(rules []rule, e ir.Expr) ir.Expr {
	for i := range rules {
		r := &rules[i]
		m := Matches{}
		if !Match(r.pattern, e, m) {
			continue
		}
		if r.predicate != nil && !CanProve(Substitute(r.predicate, m)) {
			continue
		}
		return s.mutateExpr(Substitute(r.replacement, m))
	}
	return e
}

// commuteConstant returns a, b with a constant operand moved to the
// right, so the constant handling below only looks right.
func commuteConstant(a, b ir.Expr) (ir.Expr, ir.Expr, bool) {
	if _, ok := ir.AsConstant(a); !ok {
		return a, b, false
	}
	if _, ok := ir.AsConstant(b); ok {
		return a, b, false
	}
	return b, a, true
}

func (s *simplifier) mutateExpr(e ir.Expr) ir.Expr {
	if e == nil {
		return nil
	}
	switch e := e.(type) {
	case *ir.Constant:
		return e
	case *ir.Variable:
		s.countRef(e.Sym)
		return e
	case *ir.Wildcard:
		s.countRef(e.Sym)
		return e
	case *ir.Add:
		return s.visitAdd(e)
	case *ir.Sub:
		return s.visitSub(e)
	case *ir.Mul:
		return s.visitMul(e)
	case *ir.Div:
		return s.visitBinary(e, e.A, e.B, ir.NewDiv, divRules)
	case *ir.Mod:
		return s.visitBinary(e, e.A, e.B, ir.NewMod, modRules)
	case *ir.Min:
		return s.visitMinMax(e, e.A, e.B, true)
	case *ir.Max:
		return s.visitMinMax(e, e.A, e.B, false)
	case *ir.Equal:
		return s.visitCompare(e, e.A, e.B, ir.NewEqual, 1)
	case *ir.NotEqual:
		return s.visitCompare(e, e.A, e.B, ir.NewNotEqual, 0)
	case *ir.Less:
		return s.visitCompare(e, e.A, e.B, ir.NewLess, 0)
	case *ir.LessEqual:
		return s.visitCompare(e, e.A, e.B, ir.NewLessEqual, 1)
	case *ir.LogicalAnd:
		return s.visitAnd(e)
	case *ir.LogicalOr:
		return s.visitOr(e)
	case *ir.LogicalNot:
		return s.visitNot(e)
	case *ir.Select:
		cond := s.mutateExpr(e.Condition)
		t := s.mutateExpr(e.TrueValue)
		f := s.mutateExpr(e.FalseValue)
		if c, ok := ir.AsConstant(cond); ok {
			if c != 0 {
				return t
			}
			return f
		}
		var out ir.Expr = e
		if !ir.SameAs(cond, e.Condition) || !ir.SameAs(t, e.TrueValue) || !ir.SameAs(f, e.FalseValue) {
			out = ir.NewSelect(cond, t, f)
		}
		if _, ok := out.(*ir.Select); !ok {
			return s.mutateExpr(out)
		}
		return s.applyRules(selectRules, out)
	case *ir.Let:
		return s.visitLet(e)
	case *ir.Call:
		return ir.MutateExprChildren(e, s.mutateExpr)
	}
	panic("builder.Simplify: unknown expression kind")
}

func (s *simplifier) countRef(sym ir.Symbol) {
	s.refs.Update(sym, func(n int, _ bool) int { return n + 1 })
}

// visitBinary is the generic path: simplify children, fold constants,
// preserve sharing, then try the rule table.
func (s *simplifier) visitBinary(e ir.Expr, ea, eb ir.Expr, make func(a, b ir.Expr) ir.Expr, rules []rule) ir.Expr {
	a := s.mutateExpr(ea)
	b := s.mutateExpr(eb)
	out := make(a, b)
	if _, ok := out.(*ir.Constant); ok {
		return out
	}
	if ir.SameAs(a, ea) && ir.SameAs(b, eb) {
		out = e
	}
	return s.applyRules(rules, out)
}

// visitMinMax additionally collapses min and max when the ordering of the
// operands is decided by a constant difference, which is how the union
// chains built by bounds inference become closed forms.
func (s *simplifier) visitMinMax(e ir.Expr, ea, eb ir.Expr, isMin bool) ir.Expr {
	a := s.mutateExpr(ea)
	b := s.mutateExpr(eb)
	if ir.EqualExpr(a, b) {
		return a
	}
	if diff, ok := ir.AsConstant(s.mutateExpr(&ir.Sub{A: b, B: a})); ok {
		// b == a + diff.
		if (diff >= 0) == isMin {
			return a
		}
		return b
	}
	var out ir.Expr
	if ir.SameAs(a, ea) && ir.SameAs(b, eb) {
		out = e
	} else {
		if isMin {
			out = ir.NewMin(a, b)
		} else {
			out = ir.NewMax(a, b)
		}
		if _, ok := ir.AsConstant(out); ok {
			return out
		}
	}
	if isMin {
		return s.applyRules(minRules, out)
	}
	return s.applyRules(maxRules, out)
}

func (s *simplifier) visitAdd(e *ir.Add) ir.Expr {
	a := s.mutateExpr(e.A)
	b := s.mutateExpr(e.B)
	a, b, swapped := commuteConstant(a, b)
	if cb, ok := ir.AsConstant(b); ok {
		if cb == 0 {
			return a
		}
		// Re-associate constants: (x + c1) + c2 -> x + (c1 + c2).
		if aa, ok := a.(*ir.Add); ok {
			if c1, ok := ir.AsConstant(aa.B); ok {
				if c, ok := num.AddOk(c1, cb); ok {
					return s.mutateExpr(ir.NewAdd(aa.A, ir.Const(c)))
				}
			}
		}
		if aa, ok := a.(*ir.Sub); ok {
			if c1, ok := ir.AsConstant(aa.B); ok {
				// (x - c1) + c2 -> x + (c2 - c1)
				if c, ok := num.SubOk(cb, c1); ok {
					return s.mutateExpr(ir.NewAdd(aa.A, ir.Const(c)))
				}
			}
		}
	}
	out := ir.NewAdd(a, b)
	if _, ok := out.(*ir.Constant); ok {
		return out
	}
	if !swapped && ir.SameAs(a, e.A) && ir.SameAs(b, e.B) {
		out = e
	}
	return s.applyRules(addRules, out)
}

func (s *simplifier) visitSub(e *ir.Sub) ir.Expr {
	a := s.mutateExpr(e.A)
	b := s.mutateExpr(e.B)
	out := ir.NewSub(a, b)
	if _, ok := out.(*ir.Constant); ok {
		return out
	}
	if ir.SameAs(a, e.A) && ir.SameAs(b, e.B) {
		out = e
	}
	if r := s.applyRules(subRules, out); !ir.SameAs(r, out) {
		return r
	}
	// No rule fired: x - c -> x + (-c), reusing the add
	// canonicalizations.
	if cb, ok := ir.AsConstant(b); ok {
		if _, aConst := ir.AsConstant(a); !aConst {
			if cb == 0 {
				return a
			}
			if neg, ok := num.SubOk(0, cb); ok {
				return s.mutateExpr(ir.NewAdd(a, ir.Const(neg)))
			}
		}
	}
	return out
}

func (s *simplifier) visitMul(e *ir.Mul) ir.Expr {
	a := s.mutateExpr(e.A)
	b := s.mutateExpr(e.B)
	a, b, swapped := commuteConstant(a, b)
	if cb, ok := ir.AsConstant(b); ok {
		switch cb {
		case 0:
			return ir.Const(0)
		case 1:
			return a
		}
		// (x * c1) * c2 -> x * (c1 * c2).
		if aa, ok := a.(*ir.Mul); ok {
			if c1, ok := ir.AsConstant(aa.B); ok {
				if c, ok := num.MulOk(c1, cb); ok {
					return s.mutateExpr(ir.NewMul(aa.A, ir.Const(c)))
				}
			}
		}
	}
	out := ir.NewMul(a, b)
	if _, ok := out.(*ir.Constant); !ok && !swapped && ir.SameAs(a, e.A) && ir.SameAs(b, e.B) {
		return e
	}
	return out
}

// visitCompare folds comparisons of equal operands to their reflexive
// value and comparisons whose difference simplifies to a constant, which
// resolves shapes like x - 1 < x that bounds inference leans on.
func (s *simplifier) visitCompare(e ir.Expr, ea, eb ir.Expr, make func(a, b ir.Expr) ir.Expr, reflexive ir.Index) ir.Expr {
	a := s.mutateExpr(ea)
	b := s.mutateExpr(eb)
	if ir.EqualExpr(a, b) {
		return ir.Const(reflexive)
	}
	if diff, ok := ir.AsConstant(s.mutateExpr(&ir.Sub{A: b, B: a})); ok {
		// a on the left of the comparison is b - diff.
		switch e.(type) {
		case *ir.Less:
			return ir.Const(boolConst(diff > 0))
		case *ir.LessEqual:
			return ir.Const(boolConst(diff >= 0))
		case *ir.Equal:
			return ir.Const(boolConst(diff == 0))
		case *ir.NotEqual:
			return ir.Const(boolConst(diff != 0))
		}
	}
	if ir.SameAs(a, ea) && ir.SameAs(b, eb) {
		return e
	}
	return make(a, b)
}

func boolConst(b bool) ir.Index {
	if b {
		return 1
	}
	return 0
}

// isBoolean returns true for expressions whose value is always 0 or 1.
func isBoolean(e ir.Expr) bool {
	switch e.(type) {
	case *ir.Less, *ir.LessEqual, *ir.Equal, *ir.NotEqual, *ir.LogicalAnd, *ir.LogicalOr, *ir.LogicalNot:
		return true
	}
	return false
}

func (s *simplifier) visitAnd(e *ir.LogicalAnd) ir.Expr {
	a := s.mutateExpr(e.A)
	b := s.mutateExpr(e.B)
	a, b, swapped := commuteConstant(a, b)
	if cb, ok := ir.AsConstant(b); ok {
		if cb == 0 {
			return ir.Const(0)
		}
		if isBoolean(a) {
			return a
		}
		return s.mutateExpr(ir.NewNotEqual(a, ir.Const(0)))
	}
	if !swapped && ir.SameAs(a, e.A) && ir.SameAs(b, e.B) {
		return e
	}
	return ir.NewAnd(a, b)
}

func (s *simplifier) visitOr(e *ir.LogicalOr) ir.Expr {
	a := s.mutateExpr(e.A)
	b := s.mutateExpr(e.B)
	a, b, swapped := commuteConstant(a, b)
	if cb, ok := ir.AsConstant(b); ok {
		if cb != 0 {
			return ir.Const(1)
		}
		if isBoolean(a) {
			return a
		}
		return s.mutateExpr(ir.NewNotEqual(a, ir.Const(0)))
	}
	if !swapped && ir.SameAs(a, e.A) && ir.SameAs(b, e.B) {
		return e
	}
	return ir.NewOr(a, b)
}

func (s *simplifier) visitNot(e *ir.LogicalNot) ir.Expr {
	x := s.mutateExpr(e.X)
	switch x := x.(type) {
	case *ir.Constant:
		return ir.NewNot(x)
	case *ir.Less:
		return s.mutateExpr(ir.NewLessEqual(x.B, x.A))
	case *ir.LessEqual:
		return s.mutateExpr(ir.NewLess(x.B, x.A))
	case *ir.Equal:
		return s.mutateExpr(ir.NewNotEqual(x.A, x.B))
	case *ir.NotEqual:
		return s.mutateExpr(ir.NewEqual(x.A, x.B))
	}
	if ir.SameAs(x, e.X) {
		return e
	}
	return ir.NewNot(x)
}

// cheapValue returns true for let values that are free to duplicate.
func cheapValue(e ir.Expr) bool {
	switch e := e.(type) {
	case *ir.Constant, *ir.Variable:
		return true
	case *ir.Call:
		return ir.IsBufferIntrinsic(e.Intrinsic) && e.Intrinsic != ir.IntrinsicBufferAt
	}
	return false
}

func (s *simplifier) visitLet(e *ir.Let) ir.Expr {
	value := s.mutateExpr(e.Value)
	restore := s.refs.Bind(e.Sym, 0)
	body := s.mutateExpr(e.Body)
	refs := s.refs.GetOr(e.Sym, 0)
	restore()
	switch {
	case refs == 0:
		// The let is dead.
		return body
	case refs == 1 || cheapValue(value):
		return Substitute(body, Matches{e.Sym: value})
	case ir.SameAs(value, e.Value) && ir.SameAs(body, e.Body):
		return e
	default:
		return &ir.Let{Sym: e.Sym, Value: value, Body: body}
	}
}

func (s *simplifier) visitLetStmt(st *ir.LetStmt) ir.Stmt {
	value := s.mutateExpr(st.Value)
	restore := s.refs.Bind(st.Sym, 0)
	body := s.mutateStmt(st.Body)
	refs := s.refs.GetOr(st.Sym, 0)
	restore()
	switch {
	case body == nil:
		return nil
	case refs == 0:
		return body
	case refs == 1 || cheapValue(value):
		return SubstituteStmt(body, Matches{st.Sym: value})
	case ir.SameAs(value, st.Value) && ir.SameAs(body, st.Body):
		return st
	default:
		return &ir.LetStmt{Sym: st.Sym, Value: value, Body: body}
	}
}

func (s *simplifier) mutateStmt(st ir.Stmt) ir.Stmt {
	if st == nil {
		return nil
	}
	switch st := st.(type) {
	case *ir.LetStmt:
		return s.visitLetStmt(st)
	case *ir.IfThenElse:
		cond := s.mutateExpr(st.Condition)
		if c, ok := ir.AsConstant(cond); ok {
			if c != 0 {
				return s.mutateStmt(st.TrueBody)
			}
			return s.mutateStmt(st.FalseBody)
		}
		t := s.mutateStmt(st.TrueBody)
		f := s.mutateStmt(st.FalseBody)
		if t == nil && f == nil {
			return nil
		}
		if ir.SameAs(cond, st.Condition) && ir.SameAs(t, st.TrueBody) && ir.SameAs(f, st.FalseBody) {
			return st
		}
		return &ir.IfThenElse{Condition: cond, TrueBody: t, FalseBody: f}
	case *ir.Check:
		cond := s.mutateExpr(st.Condition)
		if c, ok := ir.AsConstant(cond); ok && c != 0 {
			// The check always passes, drop it.
			return nil
		}
		if ir.SameAs(cond, st.Condition) {
			return st
		}
		return &ir.Check{Condition: cond}
	default:
		return ir.MutateStmtChildren(st, s.mutateExpr, s.mutateStmt)
	}
}
