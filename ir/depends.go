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

// WalkExpr calls f for every node of the expression tree, parents first.
// It stops early when f returns false.
func WalkExpr(e Expr, f func(Expr) bool) bool {
	if e == nil {
		return true
	}
	if !f(e) {
		return false
	}
	walk := func(children ...Expr) bool {
		for _, c := range children {
			if !WalkExpr(c, f) {
				return false
			}
		}
		return true
	}
	switch e := e.(type) {
	case *Constant, *Variable, *Wildcard:
		return true
	case *Add:
		return walk(e.A, e.B)
	case *Sub:
		return walk(e.A, e.B)
	case *Mul:
		return walk(e.A, e.B)
	case *Div:
		return walk(e.A, e.B)
	case *Mod:
		return walk(e.A, e.B)
	case *Min:
		return walk(e.A, e.B)
	case *Max:
		return walk(e.A, e.B)
	case *Equal:
		return walk(e.A, e.B)
	case *NotEqual:
		return walk(e.A, e.B)
	case *Less:
		return walk(e.A, e.B)
	case *LessEqual:
		return walk(e.A, e.B)
	case *LogicalAnd:
		return walk(e.A, e.B)
	case *LogicalOr:
		return walk(e.A, e.B)
	case *LogicalNot:
		return walk(e.X)
	case *Select:
		return walk(e.Condition, e.TrueValue, e.FalseValue)
	case *Let:
		return walk(e.Value, e.Body)
	case *Call:
		return walk(e.Args...)
	}
	panic("ir.WalkExpr: unknown expression kind")
}

// DependsOnVariable returns true if the expression reads sym as a scalar.
func DependsOnVariable(e Expr, sym Symbol) bool {
	found := false
	WalkExpr(e, func(x Expr) bool {
		if call, ok := x.(*Call); ok && IsBufferIntrinsic(call.Intrinsic) && len(call.Args) > 0 {
			// The first argument names a buffer, not a scalar. Keep
			// walking the remaining arguments.
			for _, arg := range call.Args[1:] {
				if DependsOnVariable(arg, sym) {
					found = true
				}
			}
			return false
		}
		if s, ok := AsVariable(x); ok && s == sym {
			found = true
			return false
		}
		return !found
	})
	return found
}

// DependsOnBuffer returns true if the expression reads metadata of the
// buffer bound to sym.
func DependsOnBuffer(e Expr, sym Symbol) bool {
	found := false
	WalkExpr(e, func(x Expr) bool {
		call, ok := x.(*Call)
		if !ok || !IsBufferIntrinsic(call.Intrinsic) || len(call.Args) == 0 {
			return !found
		}
		if s, ok := AsVariable(call.Args[0]); ok && s == sym {
			found = true
		}
		return !found
	})
	return found
}

// FreeVariables returns the symbols the expression reads, scalar or
// buffer, in first-use order.
func FreeVariables(e Expr) []Symbol {
	var seen SymbolMap[bool]
	var syms []Symbol
	WalkExpr(e, func(x Expr) bool {
		if s, ok := AsVariable(x); ok && !seen.Contains(s) {
			seen.Set(s, true)
			syms = append(syms, s)
		}
		return true
	})
	return syms
}
