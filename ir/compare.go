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

// EqualExpr reports structural equality of two expressions. Nil
// expressions are equal only to nil.
func EqualExpr(a, b Expr) bool {
	if SameAs(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	switch a := a.(type) {
	case *Constant:
		b, ok := b.(*Constant)
		return ok && a.Value == b.Value
	case *Variable:
		b, ok := b.(*Variable)
		return ok && a.Sym == b.Sym
	case *Wildcard:
		b, ok := b.(*Wildcard)
		return ok && a.Sym == b.Sym
	case *Add:
		b, ok := b.(*Add)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Sub:
		b, ok := b.(*Sub)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Mul:
		b, ok := b.(*Mul)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Div:
		b, ok := b.(*Div)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Mod:
		b, ok := b.(*Mod)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Min:
		b, ok := b.(*Min)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Max:
		b, ok := b.(*Max)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Equal:
		b, ok := b.(*Equal)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *NotEqual:
		b, ok := b.(*NotEqual)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *Less:
		b, ok := b.(*Less)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *LessEqual:
		b, ok := b.(*LessEqual)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *LogicalAnd:
		b, ok := b.(*LogicalAnd)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *LogicalOr:
		b, ok := b.(*LogicalOr)
		return ok && EqualExpr(a.A, b.A) && EqualExpr(a.B, b.B)
	case *LogicalNot:
		b, ok := b.(*LogicalNot)
		return ok && EqualExpr(a.X, b.X)
	case *Select:
		b, ok := b.(*Select)
		return ok && EqualExpr(a.Condition, b.Condition) && EqualExpr(a.TrueValue, b.TrueValue) && EqualExpr(a.FalseValue, b.FalseValue)
	case *Let:
		b, ok := b.(*Let)
		return ok && a.Sym == b.Sym && EqualExpr(a.Value, b.Value) && EqualExpr(a.Body, b.Body)
	case *Call:
		b, ok := b.(*Call)
		if !ok || a.Intrinsic != b.Intrinsic || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if !EqualExpr(a.Args[i], b.Args[i]) {
				return false
			}
		}
		return true
	}
	panic("ir.EqualExpr: unknown expression kind")
}
