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

// Package builder lowers a dataflow description of funcs over buffers into
// a single statement: pattern matching and substitution, the algebraic
// simplifier, bounds inference, and the pipeline builder.
package builder

import (
	"golang.org/x/exp/maps"

	"github.com/alexander-shaposhnikov/slinky/ir"
)

// Matches maps the symbols of a pattern to the subexpressions they bound.
type Matches = map[ir.Symbol]ir.Expr

// Match structurally matches x against a pattern. A wildcard or variable
// in the pattern binds its symbol to the corresponding subexpression of x;
// a conflicting rebinding rejects the match. Constants match only equal
// constants. Commutative operators match both operand orders.
//
// Bindings accumulate into matches, including bindings of a failed match
// attempt's prefix, so callers should treat matches as undefined when
// Match returns false.
func Match(pattern, x ir.Expr, matches Matches) bool {
	if pattern == nil || x == nil {
		return pattern == nil && x == nil
	}
	if sym, ok := ir.AsVariable(pattern); ok {
		if bound, ok := matches[sym]; ok {
			return ir.EqualExpr(bound, x)
		}
		matches[sym] = x
		return true
	}
	switch pattern := pattern.(type) {
	case *ir.Constant:
		c, ok := ir.AsConstant(x)
		return ok && c == pattern.Value
	case *ir.Add:
		x, ok := x.(*ir.Add)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.Sub:
		x, ok := x.(*ir.Sub)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, false, matches)
	case *ir.Mul:
		x, ok := x.(*ir.Mul)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.Div:
		x, ok := x.(*ir.Div)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, false, matches)
	case *ir.Mod:
		x, ok := x.(*ir.Mod)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, false, matches)
	case *ir.Min:
		x, ok := x.(*ir.Min)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.Max:
		x, ok := x.(*ir.Max)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.Equal:
		x, ok := x.(*ir.Equal)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.NotEqual:
		x, ok := x.(*ir.NotEqual)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.Less:
		x, ok := x.(*ir.Less)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, false, matches)
	case *ir.LessEqual:
		x, ok := x.(*ir.LessEqual)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, false, matches)
	case *ir.LogicalAnd:
		x, ok := x.(*ir.LogicalAnd)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.LogicalOr:
		x, ok := x.(*ir.LogicalOr)
		return ok && matchBinary(pattern.A, pattern.B, x.A, x.B, true, matches)
	case *ir.LogicalNot:
		x, ok := x.(*ir.LogicalNot)
		return ok && Match(pattern.X, x.X, matches)
	case *ir.Select:
		x, ok := x.(*ir.Select)
		return ok && Match(pattern.Condition, x.Condition, matches) &&
			Match(pattern.TrueValue, x.TrueValue, matches) &&
			Match(pattern.FalseValue, x.FalseValue, matches)
	case *ir.Call:
		x, ok := x.(*ir.Call)
		if !ok || pattern.Intrinsic != x.Intrinsic || len(pattern.Args) != len(x.Args) {
			return false
		}
		for i := range pattern.Args {
			if !Match(pattern.Args[i], x.Args[i], matches) {
				return false
			}
		}
		return true
	case *ir.Let:
		panic("builder.Match: let must not appear in a pattern")
	}
	panic("builder.Match: unknown pattern kind")
}

func matchBinary(pa, pb, xa, xb ir.Expr, commutative bool, matches Matches) bool {
	saved := maps.Clone(matches)
	if Match(pa, xa, matches) && Match(pb, xb, matches) {
		return true
	}
	if !commutative {
		return false
	}
	maps.Clear(matches)
	maps.Copy(matches, saved)
	if Match(pa, xb, matches) && Match(pb, xa, matches) {
		return true
	}
	return false
}

// substitution carries the active bindings of one substitution pass.
// Exactly one of matches or (target, replacement) is set.
type substitution struct {
	matches Matches

	target      ir.Expr
	replacement ir.Expr

	// overflowed is set when a folded constant sub-result would have
	// overflowed; the unfolded form is kept in that case.
	overflowed bool
}

// Substitute returns e with every free variable bound in matches replaced
// by its binding. Bound symbols of let bodies shadow the substitution.
func Substitute(e ir.Expr, matches Matches) ir.Expr {
	s := &substitution{matches: matches}
	return s.expr(e)
}

// SubstituteChecked is Substitute, also reporting whether folding any
// constant sub-result overflowed.
func SubstituteChecked(e ir.Expr, matches Matches) (ir.Expr, bool) {
	s := &substitution{matches: matches}
	out := s.expr(e)
	return out, s.overflowed
}

// SubstituteSym replaces the free variable sym with r.
func SubstituteSym(e ir.Expr, sym ir.Symbol, r ir.Expr) ir.Expr {
	return Substitute(e, Matches{sym: r})
}

// SubstituteExpr replaces every subexpression structurally equal to target
// with replacement.
func SubstituteExpr(e, target, replacement ir.Expr) ir.Expr {
	s := &substitution{target: target, replacement: replacement}
	return s.expr(e)
}

// SubstituteStmt applies a variable substitution below a statement,
// respecting shadowing by let and loop bindings.
func SubstituteStmt(st ir.Stmt, matches Matches) ir.Stmt {
	s := &substitution{matches: matches}
	return s.stmt(st)
}

func (s *substitution) shadow(sym ir.Symbol) func() {
	if s.matches == nil {
		return func() {}
	}
	old, present := s.matches[sym]
	delete(s.matches, sym)
	return func() {
		if present {
			s.matches[sym] = old
		}
	}
}

func (s *substitution) expr(e ir.Expr) ir.Expr {
	if e == nil {
		return nil
	}
	if s.target != nil && ir.EqualExpr(e, s.target) {
		return s.replacement
	}
	switch e := e.(type) {
	case *ir.Variable:
		if r, ok := s.matches[e.Sym]; ok {
			return r
		}
		return e
	case *ir.Wildcard:
		if r, ok := s.matches[e.Sym]; ok {
			return r
		}
		return e
	case *ir.Let:
		value := s.expr(e.Value)
		restore := s.shadow(e.Sym)
		body := s.expr(e.Body)
		restore()
		if ir.SameAs(value, e.Value) && ir.SameAs(body, e.Body) {
			return e
		}
		return &ir.Let{Sym: e.Sym, Value: value, Body: body}
	}
	out := ir.MutateExprChildren(e, s.expr)
	return s.fold(out, e)
}

// fold re-canonicalizes a rebuilt node whose children may have become
// constants, and records overflow when folding was not possible.
func (s *substitution) fold(out, orig ir.Expr) ir.Expr {
	if ir.SameAs(out, orig) {
		return out
	}
	both := func(a, b ir.Expr) bool {
		_, oka := ir.AsConstant(a)
		_, okb := ir.AsConstant(b)
		return oka && okb
	}
	switch e := out.(type) {
	case *ir.Add:
		folded := ir.NewAdd(e.A, e.B)
		if _, ok := folded.(*ir.Constant); !ok && both(e.A, e.B) {
			s.overflowed = true
		}
		return folded
	case *ir.Sub:
		folded := ir.NewSub(e.A, e.B)
		if _, ok := folded.(*ir.Constant); !ok && both(e.A, e.B) {
			s.overflowed = true
		}
		return folded
	case *ir.Mul:
		folded := ir.NewMul(e.A, e.B)
		if _, ok := folded.(*ir.Constant); !ok && both(e.A, e.B) {
			s.overflowed = true
		}
		return folded
	case *ir.Div:
		return ir.NewDiv(e.A, e.B)
	case *ir.Mod:
		return ir.NewMod(e.A, e.B)
	case *ir.Min:
		return ir.NewMin(e.A, e.B)
	case *ir.Max:
		return ir.NewMax(e.A, e.B)
	case *ir.Equal:
		return ir.NewEqual(e.A, e.B)
	case *ir.NotEqual:
		return ir.NewNotEqual(e.A, e.B)
	case *ir.Less:
		return ir.NewLess(e.A, e.B)
	case *ir.LessEqual:
		return ir.NewLessEqual(e.A, e.B)
	case *ir.LogicalAnd:
		return ir.NewAnd(e.A, e.B)
	case *ir.LogicalOr:
		return ir.NewOr(e.A, e.B)
	case *ir.LogicalNot:
		return ir.NewNot(e.X)
	case *ir.Select:
		return ir.NewSelect(e.Condition, e.TrueValue, e.FalseValue)
	}
	return out
}

func (s *substitution) stmt(st ir.Stmt) ir.Stmt {
	if st == nil {
		return nil
	}
	switch st := st.(type) {
	case *ir.LetStmt:
		value := s.expr(st.Value)
		restore := s.shadow(st.Sym)
		body := s.stmt(st.Body)
		restore()
		if ir.SameAs(value, st.Value) && ir.SameAs(body, st.Body) {
			return st
		}
		return &ir.LetStmt{Sym: st.Sym, Value: value, Body: body}
	case *ir.Loop:
		bounds := ir.NewInterval(s.expr(st.Bounds.Min), s.expr(st.Bounds.Max))
		step := s.expr(st.Step)
		restore := s.shadow(st.Sym)
		body := s.stmt(st.Body)
		restore()
		if bounds.SameAs(st.Bounds) && ir.SameAs(step, st.Step) && ir.SameAs(body, st.Body) {
			return st
		}
		return &ir.Loop{Sym: st.Sym, Bounds: bounds, Step: step, Body: body}
	}
	return ir.MutateStmtChildren(st, s.expr, s.stmt)
}
