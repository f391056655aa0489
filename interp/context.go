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

// Package interp evaluates lowered statements against concrete buffers.
package interp

import (
	"fmt"
	"strings"

	"github.com/alexander-shaposhnikov/slinky/buffer"
	"github.com/alexander-shaposhnikov/slinky/ir"
)

// Index is the scalar type of all values.
type Index = ir.Index

// Value is what a symbol resolves to during evaluation: a scalar or a
// buffer, depending on the statement that bound it.
type Value struct {
	Index  Index
	Buffer *buffer.Raw
}

// Context is the symbol environment of one evaluation, plus the hooks the
// caller may install to intercept allocation and failures.
type Context struct {
	values ir.SymbolMap[Value]

	// Symbols resolves symbol names in diagnostics. Optional.
	Symbols *ir.Context

	// Allocate and Free intercept heap allocations. Install both or
	// neither.
	Allocate func(ir.Symbol, *buffer.Raw)
	Free     func(ir.Symbol, *buffer.Raw)

	// CheckFailed is called when a check condition evaluates to zero.
	// When nil, the evaluator records a diagnostic error instead.
	CheckFailed func(condition ir.Expr) error

	// CallFailed is called when a kernel returns non-zero. When nil, the
	// evaluator records a diagnostic error instead.
	CallFailed func(call *ir.CallFunc) error

	err error
}

// Set binds a symbol to a scalar.
func (c *Context) Set(sym ir.Symbol, v Index) {
	c.values.Set(sym, Value{Index: v})
}

// SetBuffer binds a symbol to a buffer.
func (c *Context) SetBuffer(sym ir.Symbol, b *buffer.Raw) {
	c.values.Set(sym, Value{Buffer: b})
}

// Lookup returns the value bound to a symbol.
func (c *Context) Lookup(sym ir.Symbol) (Value, bool) {
	return c.values.Get(sym)
}

// LookupBuffer returns the buffer bound to a symbol.
func (c *Context) LookupBuffer(sym ir.Symbol) *buffer.Raw {
	v, ok := c.values.Get(sym)
	if !ok || v.Buffer == nil {
		panic(fmt.Sprintf("interp: %s is not a buffer in scope", c.symbolName(sym)))
	}
	return v.Buffer
}

// Err returns the failure recorded by the default check and call hooks.
func (c *Context) Err() error { return c.err }

func (c *Context) symbolName(sym ir.Symbol) string {
	if c.Symbols == nil {
		return fmt.Sprintf("<%d>", sym)
	}
	return c.Symbols.Name(sym)
}

// dumpFor formats the part of the environment a failing condition depends
// on: scalar values and buffer summaries.
func (c *Context) dumpFor(depsOf ir.Expr) string {
	var sb strings.Builder
	c.values.ForEach(func(sym ir.Symbol, v Value) {
		if v.Buffer != nil {
			if depsOf != nil && !ir.DependsOnBuffer(depsOf, sym) {
				return
			}
			fmt.Fprintf(&sb, "  %s = {elem_size=%d, dims={", c.symbolName(sym), v.Buffer.ElemSize)
			for d := 0; d < v.Buffer.Rank(); d++ {
				dim := v.Buffer.Dim(d)
				if d > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "{min=%d, max=%d, stride=%d", dim.Min(), dim.Max(), dim.Stride())
				if dim.FoldFactor() > 0 {
					fmt.Fprintf(&sb, ", fold_factor=%d", dim.FoldFactor())
				}
				sb.WriteString("}")
			}
			sb.WriteString("}}\n")
			return
		}
		if depsOf != nil && !ir.DependsOnVariable(depsOf, sym) {
			return
		}
		fmt.Fprintf(&sb, "  %s = %d\n", c.symbolName(sym), v.Index)
	})
	return sb.String()
}
