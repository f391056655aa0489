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
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestContextIntern(t *testing.T) {
	ctx := NewContext()
	x := ctx.Insert("x")
	y := ctx.Insert("y")
	if x == y {
		t.Fatal("distinct names interned to the same symbol")
	}
	if got := ctx.Insert("x"); got != x {
		t.Errorf("re-inserting x gave %d, want %d", got, x)
	}
	if got := ctx.Name(x); got != "x" {
		t.Errorf("Name(x) = %q", got)
	}
	if sym, ok := ctx.Lookup("y"); !ok || sym != y {
		t.Errorf("Lookup(y) = %d, %v", sym, ok)
	}
	u := ctx.InsertUnique()
	if u == x || u == y {
		t.Error("InsertUnique returned an existing symbol")
	}
	if name := ctx.Name(u); name == "" {
		t.Error("InsertUnique produced an empty name")
	}
	if got := ctx.Insert(ctx.Name(u)); got != u {
		t.Error("the synthesized name does not round trip")
	}
}

func TestSymbolMapScoping(t *testing.T) {
	var m SymbolMap[int]
	m.Set(3, 30)
	if v, ok := m.Get(3); !ok || v != 30 {
		t.Fatalf("Get(3) = %d, %v", v, ok)
	}
	if _, ok := m.Get(100); ok {
		t.Error("Get outside the populated range must be unset")
	}

	restore := m.Bind(3, 42)
	inner := m.Bind(5, 7)
	if v, _ := m.Get(3); v != 42 {
		t.Errorf("bound value = %d, want 42", v)
	}
	inner()
	restore()
	if v, _ := m.Get(3); v != 30 {
		t.Errorf("restored value = %d, want 30", v)
	}
	if m.Contains(5) {
		t.Error("restore of an unset symbol must unset it")
	}

	forget := m.Forget(3)
	if m.Contains(3) {
		t.Error("Forget left the symbol bound")
	}
	forget()
	if v, _ := m.Get(3); v != 30 {
		t.Error("Forget restore lost the value")
	}
}

func TestConstructorsFold(t *testing.T) {
	tests := []struct {
		got  Expr
		want Index
	}{
		{got: NewAdd(Const(2), Const(3)), want: 5},
		{got: NewSub(Const(2), Const(3)), want: -1},
		{got: NewMul(Const(4), Const(3)), want: 12},
		{got: NewDiv(Const(-7), Const(2)), want: -4},
		{got: NewMod(Const(-7), Const(2)), want: 1},
		{got: NewMin(Const(2), Const(3)), want: 2},
		{got: NewMax(Const(2), Const(3)), want: 3},
		{got: NewLess(Const(2), Const(3)), want: 1},
		{got: NewLessEqual(Const(3), Const(3)), want: 1},
		{got: NewEqual(Const(2), Const(3)), want: 0},
		{got: NewNotEqual(Const(2), Const(3)), want: 1},
		{got: NewAnd(Const(2), Const(0)), want: 0},
		{got: NewOr(Const(0), Const(5)), want: 1},
		{got: NewNot(Const(0)), want: 1},
		{got: NewSelect(Const(1), Const(10), Const(20)), want: 10},
	}
	for _, test := range tests {
		c, ok := AsConstant(test.got)
		if !ok {
			t.Errorf("%s did not fold", ToString(test.got, nil))
			continue
		}
		if c != test.want {
			t.Errorf("%s = %d, want %d", ToString(test.got, nil), c, test.want)
		}
	}
}

func TestConstructorsKeepOverflow(t *testing.T) {
	// Folding that would overflow is not performed.
	e := NewAdd(Const(math.MaxInt64), Const(1))
	if _, ok := AsConstant(e); ok {
		t.Error("overflowing add was folded")
	}
	if _, ok := e.(*Add); !ok {
		t.Errorf("expected the unfolded add, got %T", e)
	}
	if _, ok := NewMul(Const(math.MaxInt64), Const(2)).(*Mul); !ok {
		t.Error("overflowing mul was folded")
	}
}

func TestMinMaxCanonical(t *testing.T) {
	x := Var(0)
	if got := NewMin(x, PositiveInfinity()); !SameAs(got, Expr(x)) {
		t.Error("min(x, +inf) != x")
	}
	if got := NewMax(PositiveInfinity(), x); !SameAs(got, PositiveInfinity()) {
		t.Error("max(+inf, x) != +inf")
	}
	if got := NewMin(x, Var(0)); !EqualExpr(got, x) {
		t.Error("min(x, x) != x")
	}
}

func TestSameAsVersusEqual(t *testing.T) {
	a := NewAdd(Var(0), Const(1))
	b := NewAdd(Var(0), Const(1))
	if SameAs(a, b) {
		t.Error("distinct nodes must not be SameAs")
	}
	if !EqualExpr(a, b) {
		t.Error("structurally identical nodes must be Equal")
	}
	if !SameAs(a, a) {
		t.Error("a node must be SameAs itself")
	}
}

func TestMutateChildrenPreservesIdentity(t *testing.T) {
	e := NewAdd(Var(0), NewMul(Var(1), Const(2)))
	same := MutateExprChildren(e, func(x Expr) Expr { return x })
	if !SameAs(same, e) {
		t.Error("identity mutation must return the original node")
	}
	changed := MutateExprChildren(e, func(x Expr) Expr {
		if v, ok := x.(*Variable); ok && v.Sym == 0 {
			return Const(7)
		}
		return x
	})
	if SameAs(changed, e) {
		t.Error("mutation of a child must produce a new node")
	}
}

func TestPrint(t *testing.T) {
	ctx := NewContext()
	x := ctx.Insert("x")
	y := ctx.Insert("y")
	b := ctx.Insert("b")

	e := NewSelect(&Less{A: Var(x), B: Var(y)},
		BufferMin(Var(b), Const(0)),
		&Add{A: Var(x), B: Const(1)})
	got := ToString(e, ctx)
	want := "select((x < y), buffer_min(b, 0), (x + 1))"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected printed form (-want +got):\n%s", diff)
	}

	s := &Loop{
		Sym:    x,
		Bounds: NewInterval(Const(0), Const(4)),
		Body: &Block{
			A: &Check{Condition: &LessEqual{A: Const(0), B: Var(x)}},
			B: &CropDim{Sym: b, Dim: 0, Bounds: PointInterval(Var(x)),
				Body: &CallFunc{Outputs: []Symbol{b}}},
		},
	}
	gotStmt := ToString(s, ctx)
	wantStmt := "loop(x in [0, 4]) {\n" +
		"  check (0 <= x)\n" +
		"  crop_dim b(0, [x, x]) {\n" +
		"    call(in: {}, out: {b})\n" +
		"  }\n" +
		"}\n"
	if diff := cmp.Diff(wantStmt, gotStmt); diff != "" {
		t.Errorf("unexpected printed form (-want +got):\n%s", diff)
	}
}

func TestDependsOn(t *testing.T) {
	x, y, b := Symbol(0), Symbol(1), Symbol(2)
	e := NewAdd(Var(x), BufferMin(Var(b), Const(0)))
	if !DependsOnVariable(e, x) {
		t.Error("x is a scalar dependency")
	}
	if DependsOnVariable(e, b) {
		t.Error("b is not a scalar dependency")
	}
	if !DependsOnBuffer(e, b) {
		t.Error("b is a buffer dependency")
	}
	if DependsOnBuffer(e, x) {
		t.Error("x is not a buffer dependency")
	}
	if DependsOnVariable(e, y) {
		t.Error("y does not appear at all")
	}
}

func TestIntervalUnion(t *testing.T) {
	x := Var(0)
	u := UnionIdentity().Union(PointInterval(x))
	if !EqualExpr(u.Min, x) || !EqualExpr(u.Max, x) {
		t.Errorf("union with identity = [%s, %s]", ToString(u.Min, nil), ToString(u.Max, nil))
	}
	u = u.Union(NewInterval(NewSub(x, Const(1)), NewAdd(x, Const(1))))
	if _, ok := u.Min.(*Min); !ok {
		t.Errorf("expected a symbolic min, got %T", u.Min)
	}
}
