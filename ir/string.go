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
	"fmt"
	"io"
	"strings"
)

// Print writes a deterministic textual form of the node, resolving symbol
// names through ctx. A nil ctx prints symbols as <id>. The format is for
// debugging and test equality on lowered pipelines; it is not versioned.
func Print(w io.Writer, n Node, ctx *Context) {
	p := printer{w: w, ctx: ctx}
	switch n := n.(type) {
	case Expr:
		p.expr(n)
	case Stmt:
		p.stmt(n)
		return
	}
}

// ToString returns the printed form of the node.
func ToString(n Node, ctx *Context) string {
	var sb strings.Builder
	Print(&sb, n, ctx)
	return sb.String()
}

type printer struct {
	w      io.Writer
	ctx    *Context
	indent int
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) name(sym Symbol) string {
	if p.ctx == nil {
		return fmt.Sprintf("<%d>", sym)
	}
	return p.ctx.Name(sym)
}

func (p *printer) line(format string, args ...any) {
	p.printf("%s", strings.Repeat("  ", p.indent))
	p.printf(format, args...)
	p.printf("\n")
}

func (p *printer) exprString(e Expr) string {
	if e == nil {
		return "<>"
	}
	var sb strings.Builder
	sub := printer{w: &sb, ctx: p.ctx}
	sub.expr(e)
	return sb.String()
}

func (p *printer) binary(op string, a, b Expr) {
	p.printf("(%s %s %s)", p.exprString(a), op, p.exprString(b))
}

func (p *printer) expr(e Expr) {
	switch e := e.(type) {
	case *Constant:
		p.printf("%d", e.Value)
	case *Variable:
		p.printf("%s", p.name(e.Sym))
	case *Wildcard:
		p.printf("%s", p.name(e.Sym))
	case *Add:
		p.binary("+", e.A, e.B)
	case *Sub:
		p.binary("-", e.A, e.B)
	case *Mul:
		p.binary("*", e.A, e.B)
	case *Div:
		p.binary("/", e.A, e.B)
	case *Mod:
		p.binary("%", e.A, e.B)
	case *Min:
		p.printf("min(%s, %s)", p.exprString(e.A), p.exprString(e.B))
	case *Max:
		p.printf("max(%s, %s)", p.exprString(e.A), p.exprString(e.B))
	case *Equal:
		p.binary("==", e.A, e.B)
	case *NotEqual:
		p.binary("!=", e.A, e.B)
	case *Less:
		p.binary("<", e.A, e.B)
	case *LessEqual:
		p.binary("<=", e.A, e.B)
	case *LogicalAnd:
		p.binary("&&", e.A, e.B)
	case *LogicalOr:
		p.binary("||", e.A, e.B)
	case *LogicalNot:
		p.printf("!%s", p.exprString(e.X))
	case *Select:
		p.printf("select(%s, %s, %s)", p.exprString(e.Condition), p.exprString(e.TrueValue), p.exprString(e.FalseValue))
	case *Let:
		p.printf("let %s = %s in %s", p.name(e.Sym), p.exprString(e.Value), p.exprString(e.Body))
	case *Call:
		args := make([]string, len(e.Args))
		for i, arg := range e.Args {
			args[i] = p.exprString(arg)
		}
		p.printf("%s(%s)", e.Intrinsic, strings.Join(args, ", "))
	default:
		panic("ir.Print: unknown expression kind")
	}
}

func (p *printer) interval(i Interval) string {
	return fmt.Sprintf("[%s, %s]", p.exprString(i.Min), p.exprString(i.Max))
}

func (p *printer) dims(dims []DimExpr) string {
	ss := make([]string, len(dims))
	for i, d := range dims {
		ss[i] = fmt.Sprintf("{%s, %s, %s}", p.interval(d.Bounds), p.exprString(d.Stride), p.exprString(d.FoldFactor))
	}
	return strings.Join(ss, ", ")
}

func (p *printer) symbols(syms []Symbol) string {
	ss := make([]string, len(syms))
	for i, sym := range syms {
		ss[i] = p.name(sym)
	}
	return strings.Join(ss, ", ")
}

func (p *printer) body(s Stmt) {
	p.indent++
	if s != nil {
		p.stmt(s)
	}
	p.indent--
	p.line("}")
}

func (p *printer) stmt(s Stmt) {
	switch s := s.(type) {
	case *LetStmt:
		p.line("let %s = %s {", p.name(s.Sym), p.exprString(s.Value))
		p.body(s.Body)
	case *Block:
		if s.A != nil {
			p.stmt(s.A)
		}
		if s.B != nil {
			p.stmt(s.B)
		}
	case *Loop:
		if s.Step == nil || IsOne(s.Step) {
			p.line("loop(%s in %s) {", p.name(s.Sym), p.interval(s.Bounds))
		} else {
			p.line("loop(%s in %s, step %s) {", p.name(s.Sym), p.interval(s.Bounds), p.exprString(s.Step))
		}
		p.body(s.Body)
	case *IfThenElse:
		p.line("if %s {", p.exprString(s.Condition))
		if s.FalseBody == nil {
			p.body(s.TrueBody)
			return
		}
		p.indent++
		if s.TrueBody != nil {
			p.stmt(s.TrueBody)
		}
		p.indent--
		p.line("} else {")
		p.body(s.FalseBody)
	case *CallFunc:
		p.line("call(in: {%s}, out: {%s})", p.symbols(s.Inputs), p.symbols(s.Outputs))
	case *Allocate:
		p.line("allocate %s(%s, %d, {%s}) {", p.name(s.Sym), s.Storage, s.ElemSize, p.dims(s.Dims))
		p.body(s.Body)
	case *MakeBuffer:
		p.line("make_buffer %s(%s, %s, {%s}) {", p.name(s.Sym), p.exprString(s.Base), p.exprString(s.ElemSize), p.dims(s.Dims))
		p.body(s.Body)
	case *CropBuffer:
		bounds := make([]string, len(s.Bounds))
		for i, b := range s.Bounds {
			bounds[i] = p.interval(b)
		}
		p.line("crop_buffer %s({%s}) {", p.name(s.Sym), strings.Join(bounds, ", "))
		p.body(s.Body)
	case *CropDim:
		p.line("crop_dim %s(%d, %s) {", p.name(s.Sym), s.Dim, p.interval(s.Bounds))
		p.body(s.Body)
	case *SliceBuffer:
		at := make([]string, len(s.At))
		for i, a := range s.At {
			at[i] = p.exprString(a)
		}
		p.line("slice_buffer %s({%s}) {", p.name(s.Sym), strings.Join(at, ", "))
		p.body(s.Body)
	case *SliceDim:
		p.line("slice_dim %s(%d, %s) {", p.name(s.Sym), s.Dim, p.exprString(s.At))
		p.body(s.Body)
	case *TruncateRank:
		p.line("truncate_rank %s(%d) {", p.name(s.Sym), s.Rank)
		p.body(s.Body)
	case *Check:
		p.line("check %s", p.exprString(s.Condition))
	default:
		panic("ir.Print: unknown statement kind")
	}
}
