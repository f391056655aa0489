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
	"math/rand"
	"strings"
	"testing"

	"github.com/alexander-shaposhnikov/slinky/buffer"
	"github.com/alexander-shaposhnikov/slinky/interp"
	"github.com/alexander-shaposhnikov/slinky/ir"
)

func fillKernel(c int32) ir.Callable {
	return func(_, outs []*buffer.Raw) ir.Index {
		out := outs[0]
		d := out.Dim(0)
		for i := d.Begin(); i < d.End(); i++ {
			buffer.Store(out, c, i)
		}
		return 0
	}
}

func binaryKernel(op func(a, b int32) int32) ir.Callable {
	return func(ins, outs []*buffer.Raw) ir.Index {
		a, b, out := ins[0], ins[1], outs[0]
		d := out.Dim(0)
		for i := d.Begin(); i < d.End(); i++ {
			buffer.Store(out, op(buffer.Load[int32](a, i), buffer.Load[int32](b, i)), i)
		}
		return 0
	}
}

// elementwiseBuilder (ab)uses the expression IR as an elementwise
// calculator: each node becomes a func producing a rank-1 buffer.
type elementwiseBuilder struct {
	t   *testing.T
	ctx *ir.Context
	d0  ir.Symbol

	inputs    []*exprInput
	buffers   map[ir.Symbol]*BufferExpr
	lastFunc  *Func
	nameCount int
}

type exprInput struct {
	sym ir.Symbol
	buf *BufferExpr
}

func newElementwiseBuilder(t *testing.T, ctx *ir.Context) *elementwiseBuilder {
	return &elementwiseBuilder{
		t:       t,
		ctx:     ctx,
		d0:      ctx.Insert("d0"),
		buffers: map[ir.Symbol]*BufferExpr{},
	}
}

func (b *elementwiseBuilder) pointBounds() ir.Box {
	return ir.Box{ir.PointInterval(ir.Var(b.d0))}
}

func (b *elementwiseBuilder) newBuffer(prefix string) *BufferExpr {
	b.nameCount++
	return NewBufferExpr(b.ctx, fmt.Sprintf("%s%d", prefix, b.nameCount), 4, 1)
}

func (b *elementwiseBuilder) newFunc(impl ir.Callable, ins []*BufferExpr, out *BufferExpr) {
	inputs := make([]Input, len(ins))
	for i, in := range ins {
		inputs[i] = Input{Buffer: in, Bounds: b.pointBounds()}
	}
	f, err := NewFunc(impl, inputs, []Output{{Buffer: out, Dims: []ir.Symbol{b.d0}}})
	if err != nil {
		b.t.Fatal(err)
	}
	b.lastFunc = f
}

func (b *elementwiseBuilder) visit(e ir.Expr) *BufferExpr {
	switch e := e.(type) {
	case *ir.Variable:
		if buf, ok := b.buffers[e.Sym]; ok {
			return buf
		}
		buf := NewBufferExpr(b.ctx, b.ctx.Name(e.Sym)+"_buf", 4, 1)
		b.buffers[e.Sym] = buf
		b.inputs = append(b.inputs, &exprInput{sym: e.Sym, buf: buf})
		return buf
	case *ir.Constant:
		out := b.newBuffer("c")
		b.newFunc(fillKernel(int32(e.Value)), nil, out)
		return out
	case *ir.Add:
		return b.binary(e.A, e.B, func(a, c int32) int32 { return a + c })
	case *ir.Sub:
		return b.binary(e.A, e.B, func(a, c int32) int32 { return a - c })
	case *ir.Mul:
		return b.binary(e.A, e.B, func(a, c int32) int32 { return a * c })
	case *ir.Min:
		return b.binary(e.A, e.B, func(a, c int32) int32 { return min(a, c) })
	case *ir.Max:
		return b.binary(e.A, e.B, func(a, c int32) int32 { return max(a, c) })
	}
	b.t.Fatalf("elementwise builder does not handle %T", e)
	return nil
}

func (b *elementwiseBuilder) binary(ea, eb ir.Expr, op func(a, b int32) int32) *BufferExpr {
	a := b.visit(ea)
	c := b.visit(eb)
	out := b.newBuffer("t")
	b.newFunc(binaryKernel(op), []*BufferExpr{a, c}, out)
	return out
}

// runExprPipeline lowers an expression as a pipeline over rank-1 buffers
// of length n and cross-checks the result against direct evaluation of the
// expression at every index. split > 0 wraps the final func in an explicit
// loop over its output dimension.
func runExprPipeline(t *testing.T, e ir.Expr, n ir.Index, split int) {
	ctx := ir.NewContext()
	b := newElementwiseBuilder(t, ctx)
	result := b.visit(e)
	if b.lastFunc == nil {
		t.Fatal("expression has no funcs")
	}
	if split > 0 {
		b.lastFunc.SetLoops(b.d0)
	}

	var pipelineInputs []*BufferExpr
	for _, in := range b.inputs {
		pipelineInputs = append(pipelineInputs, in.buf)
	}
	p, err := NewPipeline(ctx, pipelineInputs, []*BufferExpr{result})
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(17))
	var rawInputs []*buffer.Raw
	env := map[ir.Symbol][]int32{}
	for _, in := range b.inputs {
		buf := buffer.MakeOf[int32](n)
		values := make([]int32, n)
		for i := range values {
			values[i] = int32(rng.Intn(20) - 10)
			buf.Set(values[i], ir.Index(i))
		}
		env[in.sym] = values
		rawInputs = append(rawInputs, buf.Raw)
	}
	out := buffer.MakeOf[int32](n)
	if err := p.Evaluate(rawInputs, []*buffer.Raw{out.Raw}); err != nil {
		t.Fatalf("evaluate: %v\nbody:\n%s", err, ir.ToString(p.Body(), ctx))
	}

	for i := ir.Index(0); i < n; i++ {
		ectx := &interp.Context{}
		for sym, values := range env {
			ectx.Set(sym, ir.Index(values[i]))
		}
		want := int32(interp.Evaluate(e, ectx))
		if got := out.Get(i); got != want {
			t.Errorf("split %d: out[%d] = %d, want %d", split, i, got, want)
		}
	}
}

func TestElementwise(t *testing.T) {
	ctx := ir.NewContext()
	x := ir.Var(ctx.Insert("x"))
	y := ir.Var(ctx.Insert("y"))
	z := ir.Var(ctx.Insert("z"))

	pow := func(base ir.Expr, k int) ir.Expr {
		e := base
		for i := 1; i < k; i++ {
			e = &ir.Mul{A: e, B: base}
		}
		return e
	}

	tests := []struct {
		name string
		expr ir.Expr
	}{
		{name: "add_1", expr: &ir.Add{A: ir.Const(1), B: x}},
		{name: "add_xy", expr: &ir.Add{A: x, B: y}},
		{name: "mul_add", expr: &ir.Add{A: &ir.Mul{A: x, B: y}, B: z}},
		{name: "add_max_mul", expr: &ir.Mul{A: &ir.Max{A: &ir.Add{A: x, B: y}, B: ir.Const(0)}, B: z}},
		{name: "exp3", expr: &ir.Add{A: ir.Const(1), B: &ir.Add{A: x, B: &ir.Add{A: pow(x, 2), B: pow(x, 3)}}}},
		{name: "exp3_horners", expr: &ir.Add{A: ir.Const(1),
			B: &ir.Mul{A: x, B: &ir.Add{A: ir.Const(1), B: &ir.Mul{A: x, B: &ir.Add{A: ir.Const(1), B: x}}}}}},
	}
	for _, test := range tests {
		for split := 0; split < 2; split++ {
			t.Run(fmt.Sprintf("%s_split%d", test.name, split), func(t *testing.T) {
				runExprPipeline(t, test.expr, 5, split)
			})
		}
	}
}

// The Horner evaluation of 1 + x*(1 + x*(1 + x)) at x = [0,1,2,3] is
// [1,3,11,31] under both the unsplit and the split schedule.
func TestHornerValues(t *testing.T) {
	for split := 0; split < 2; split++ {
		ctx := ir.NewContext()
		b := newElementwiseBuilder(t, ctx)
		x := ir.Var(ctx.Insert("x"))
		e := &ir.Add{A: ir.Const(1),
			B: &ir.Mul{A: x, B: &ir.Add{A: ir.Const(1), B: &ir.Mul{A: x, B: &ir.Add{A: ir.Const(1), B: x}}}}}
		result := b.visit(e)
		if split > 0 {
			b.lastFunc.SetLoops(b.d0)
		}
		p, err := NewPipeline(ctx, []*BufferExpr{b.inputs[0].buf}, []*BufferExpr{result})
		if err != nil {
			t.Fatal(err)
		}

		in := buffer.MakeOf[int32](4)
		for i := ir.Index(0); i < 4; i++ {
			in.Set(int32(i), i)
		}
		out := buffer.MakeOf[int32](4)
		if err := p.Evaluate([]*buffer.Raw{in.Raw}, []*buffer.Raw{out.Raw}); err != nil {
			t.Fatal(err)
		}
		want := []int32{1, 3, 11, 31}
		for i := range want {
			if got := out.Get(ir.Index(i)); got != want[i] {
				t.Errorf("split %d: out[%d] = %d, want %d", split, i, got, want[i])
			}
		}
	}
}

// z = max(x + y, 0) * z0 with x=[-2,3], y=[5,-9], z0=[2,4] produces [6,0].
func TestMaxAddMulValues(t *testing.T) {
	ctx := ir.NewContext()
	b := newElementwiseBuilder(t, ctx)
	x := ir.Var(ctx.Insert("x"))
	y := ir.Var(ctx.Insert("y"))
	z0 := ir.Var(ctx.Insert("z0"))
	e := &ir.Mul{A: &ir.Max{A: &ir.Add{A: x, B: y}, B: ir.Const(0)}, B: z0}
	result := b.visit(e)
	p, err := NewPipeline(ctx,
		[]*BufferExpr{b.buffers[ctx.Insert("x")], b.buffers[ctx.Insert("y")], b.buffers[ctx.Insert("z0")]},
		[]*BufferExpr{result})
	if err != nil {
		t.Fatal(err)
	}

	mk := func(values ...int32) *buffer.Raw {
		buf := buffer.MakeOf[int32](ir.Index(len(values)))
		for i, v := range values {
			buf.Set(v, ir.Index(i))
		}
		return buf.Raw
	}
	out := buffer.MakeOf[int32](2)
	err = p.Evaluate([]*buffer.Raw{mk(-2, 3), mk(5, -9), mk(2, 4)}, []*buffer.Raw{out.Raw})
	if err != nil {
		t.Fatal(err)
	}
	if out.Get(0) != 6 || out.Get(1) != 0 {
		t.Errorf("z = [%d, %d], want [6, 0]", out.Get(0), out.Get(1))
	}

	// An input that does not dominate the inferred bounds fails the
	// emitted checks.
	short := buffer.MakeOf[int32](1)
	err = p.Evaluate([]*buffer.Raw{short.Raw, mk(5, -9), mk(2, 4)}, []*buffer.Raw{out.Raw})
	if err == nil {
		t.Error("a too-small input must fail the dominance checks")
	}
}

// The lowered body of y = x + 1 over a length-5 buffer with a split
// schedule has one loop over [0, 4], one kernel call, and no allocation
// for the output. Evaluating it adds one to every element.
func TestLoweredShape(t *testing.T) {
	ctx := ir.NewContext()
	d0 := ctx.Insert("d0")
	x := NewBufferExpr(ctx, "x", 4, 1)
	y := NewBufferExpr(ctx, "y", 4, 1)
	addOne := func(ins, outs []*buffer.Raw) ir.Index {
		d := outs[0].Dim(0)
		for i := d.Begin(); i < d.End(); i++ {
			buffer.Store(outs[0], buffer.Load[int32](ins[0], i)+1, i)
		}
		return 0
	}
	f, err := NewFunc(addOne,
		[]Input{{Buffer: x, Bounds: ir.Box{ir.PointInterval(ir.Var(d0))}}},
		[]Output{{Buffer: y, Dims: []ir.Symbol{d0}}})
	if err != nil {
		t.Fatal(err)
	}
	f.SetLoops(d0)
	p, err := NewPipeline(ctx, []*BufferExpr{x}, []*BufferExpr{y})
	if err != nil {
		t.Fatal(err)
	}

	body := ir.ToString(p.Body(), ctx)
	if got := strings.Count(body, "loop("); got != 1 {
		t.Errorf("lowered body has %d loops, want 1:\n%s", got, body)
	}
	if got := strings.Count(body, "call("); got != 1 {
		t.Errorf("lowered body has %d calls, want 1:\n%s", got, body)
	}
	if strings.Contains(body, "allocate ") {
		t.Errorf("the pipeline output must not be allocated:\n%s", body)
	}

	in := buffer.MakeOf[int32](5)
	for i := ir.Index(0); i < 5; i++ {
		in.Set(int32(i), i)
	}
	out := buffer.MakeOf[int32](5)
	if err := p.Evaluate([]*buffer.Raw{in.Raw}, []*buffer.Raw{out.Raw}); err != nil {
		t.Fatalf("evaluate: %v\nbody:\n%s", err, body)
	}
	for i := ir.Index(0); i < 5; i++ {
		if got := out.Get(i); got != int32(i)+1 {
			t.Errorf("y[%d] = %d, want %d", i, got, i+1)
		}
	}
}

func TestDependencyCycleFails(t *testing.T) {
	ctx := ir.NewContext()
	d0 := ctx.Insert("d0")
	a := NewBufferExpr(ctx, "a", 4, 1)
	b := NewBufferExpr(ctx, "b", 4, 1)
	out := NewBufferExpr(ctx, "out", 4, 1)
	bounds := ir.Box{ir.PointInterval(ir.Var(d0))}
	nop := func(_, _ []*buffer.Raw) ir.Index { return 0 }

	// a -> b -> a is a cycle; out depends on it.
	if _, err := NewFunc(nop, []Input{{Buffer: b, Bounds: bounds}}, []Output{{Buffer: a, Dims: []ir.Symbol{d0}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFunc(nop, []Input{{Buffer: a, Bounds: bounds}}, []Output{{Buffer: b, Dims: []ir.Symbol{d0}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFunc(nop, []Input{{Buffer: a, Bounds: bounds}}, []Output{{Buffer: out, Dims: []ir.Symbol{d0}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPipeline(ctx, nil, []*BufferExpr{out}); err == nil {
		t.Fatal("a cyclic producer graph must fail pipeline construction")
	}
}

func TestDoubleProducerFails(t *testing.T) {
	ctx := ir.NewContext()
	d0 := ctx.Insert("d0")
	out := NewBufferExpr(ctx, "out", 4, 1)
	nop := func(_, _ []*buffer.Raw) ir.Index { return 0 }
	if _, err := NewFunc(nop, nil, []Output{{Buffer: out, Dims: []ir.Symbol{d0}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFunc(nop, nil, []Output{{Buffer: out, Dims: []ir.Symbol{d0}}}); err == nil {
		t.Fatal("two producers of one buffer must be rejected")
	}
}

func TestKernelFailureAborts(t *testing.T) {
	ctx := ir.NewContext()
	d0 := ctx.Insert("d0")
	out := NewBufferExpr(ctx, "out", 4, 1)
	failing := func(_, _ []*buffer.Raw) ir.Index { return 7 }
	if _, err := NewFunc(failing, nil, []Output{{Buffer: out, Dims: []ir.Symbol{d0}}}); err != nil {
		t.Fatal(err)
	}
	p, err := NewPipeline(ctx, nil, []*BufferExpr{out})
	if err != nil {
		t.Fatal(err)
	}
	buf := buffer.MakeOf[int32](3)
	if err := p.Evaluate(nil, []*buffer.Raw{buf.Raw}); err == nil {
		t.Fatal("a failing kernel must abort the pipeline")
	}
}

// A two-stage pipeline where the consumer reads [x, x+1] of the producer,
// with the producer fused into the consumer's loop: the producer's
// per-iteration crop shrinks to a single element and the loop min shifts
// down by one to prime the window.
func TestSlidingWindow(t *testing.T) {
	const n = 10
	ctx := ir.NewContext()
	x := ctx.Insert("x")
	src := NewBufferExpr(ctx, "src", 4, 1)
	b := NewBufferExpr(ctx, "b", 4, 1)
	out := NewBufferExpr(ctx, "out", 4, 1)

	stage1Calls := 0
	var cropWidths []ir.Index
	var firstIter ir.Index
	stage1 := func(ins, outs []*buffer.Raw) ir.Index {
		d := outs[0].Dim(0)
		if stage1Calls == 0 {
			firstIter = d.Min()
		}
		stage1Calls++
		cropWidths = append(cropWidths, d.Extent())
		for i := d.Begin(); i < d.End(); i++ {
			buffer.Store(outs[0], buffer.Load[int32](ins[0], i)*2, i)
		}
		return 0
	}
	stage2Calls := 0
	stage2 := func(ins, outs []*buffer.Raw) ir.Index {
		stage2Calls++
		d := outs[0].Dim(0)
		for i := d.Begin(); i < d.End(); i++ {
			buffer.Store(outs[0], buffer.Load[int32](ins[0], i)+buffer.Load[int32](ins[0], i+1), i)
		}
		return 0
	}

	f1, err := NewFunc(stage1,
		[]Input{{Buffer: src, Bounds: ir.Box{ir.PointInterval(ir.Var(x))}}},
		[]Output{{Buffer: b, Dims: []ir.Symbol{x}}})
	if err != nil {
		t.Fatal(err)
	}
	f2, err := NewFunc(stage2,
		[]Input{{Buffer: b, Bounds: ir.Box{ir.NewInterval(ir.Var(x), ir.NewAdd(ir.Var(x), ir.Const(1)))}}},
		[]Output{{Buffer: out, Dims: []ir.Symbol{x}}})
	if err != nil {
		t.Fatal(err)
	}
	f2.SetLoops(x)
	f1.SetComputeAt(f2, x)

	p, err := NewPipeline(ctx, []*BufferExpr{src}, []*BufferExpr{out})
	if err != nil {
		t.Fatal(err)
	}

	// The producer reads src over the bounds it produces, so the caller
	// must supply one extra element.
	srcBuf := buffer.MakeOf[int32](n + 1)
	for i := ir.Index(0); i <= n; i++ {
		srcBuf.Set(int32(i), i)
	}
	outBuf := buffer.MakeOf[int32](n)
	if err := p.Evaluate([]*buffer.Raw{srcBuf.Raw}, []*buffer.Raw{outBuf.Raw}); err != nil {
		t.Fatalf("evaluate: %v\nbody:\n%s", err, ir.ToString(p.Body(), ctx))
	}

	// out[i] = 2*i + 2*(i+1).
	for i := ir.Index(0); i < n; i++ {
		want := int32(4*i + 2)
		if got := outBuf.Get(i); got != want {
			t.Errorf("out[%d] = %d, want %d", i, got, want)
		}
	}

	// Incremental production: the loop runs one extra priming iteration,
	// and every iteration after the first produces a single element.
	if stage1Calls != n+1 {
		t.Errorf("stage 1 ran %d times, want %d", stage1Calls, n+1)
	}
	if stage2Calls != n {
		t.Errorf("stage 2 ran %d times, want %d", stage2Calls, n)
	}
	if firstIter != 0 {
		t.Errorf("the priming iteration produced from %d, want 0", firstIter)
	}
	for i, w := range cropWidths {
		if w != 1 {
			t.Errorf("iteration %d produced %d elements, want 1", i, w)
		}
	}
}

// The sliding schedule computes the same values as the unfused schedule.
func TestSlidingWindowEquivalence(t *testing.T) {
	run := func(fuse bool) []int32 {
		const n = 7
		ctx := ir.NewContext()
		x := ctx.Insert("x")
		src := NewBufferExpr(ctx, "src", 4, 1)
		b := NewBufferExpr(ctx, "b", 4, 1)
		out := NewBufferExpr(ctx, "out", 4, 1)

		stage1 := func(ins, outs []*buffer.Raw) ir.Index {
			d := outs[0].Dim(0)
			for i := d.Begin(); i < d.End(); i++ {
				buffer.Store(outs[0], buffer.Load[int32](ins[0], i)*3, i)
			}
			return 0
		}
		stage2 := func(ins, outs []*buffer.Raw) ir.Index {
			d := outs[0].Dim(0)
			for i := d.Begin(); i < d.End(); i++ {
				buffer.Store(outs[0], buffer.Load[int32](ins[0], i)-buffer.Load[int32](ins[0], i+1), i)
			}
			return 0
		}

		f1, err := NewFunc(stage1,
			[]Input{{Buffer: src, Bounds: ir.Box{ir.PointInterval(ir.Var(x))}}},
			[]Output{{Buffer: b, Dims: []ir.Symbol{x}}})
		if err != nil {
			t.Fatal(err)
		}
		f2, err := NewFunc(stage2,
			[]Input{{Buffer: b, Bounds: ir.Box{ir.NewInterval(ir.Var(x), ir.NewAdd(ir.Var(x), ir.Const(1)))}}},
			[]Output{{Buffer: out, Dims: []ir.Symbol{x}}})
		if err != nil {
			t.Fatal(err)
		}
		if fuse {
			f2.SetLoops(x)
			f1.SetComputeAt(f2, x)
		}

		p, err := NewPipeline(ctx, []*BufferExpr{src}, []*BufferExpr{out})
		if err != nil {
			t.Fatal(err)
		}
		srcBuf := buffer.MakeOf[int32](n + 1)
		for i := ir.Index(0); i <= n; i++ {
			srcBuf.Set(int32(i*i-3), i)
		}
		outBuf := buffer.MakeOf[int32](n)
		if err := p.Evaluate([]*buffer.Raw{srcBuf.Raw}, []*buffer.Raw{outBuf.Raw}); err != nil {
			t.Fatalf("evaluate (fuse=%v): %v\nbody:\n%s", fuse, err, ir.ToString(p.Body(), ctx))
		}
		values := make([]int32, n)
		for i := range values {
			values[i] = outBuf.Get(ir.Index(i))
		}
		return values
	}

	fused := run(true)
	unfused := run(false)
	for i := range fused {
		if fused[i] != unfused[i] {
			t.Errorf("out[%d]: fused %d != unfused %d", i, fused[i], unfused[i])
		}
	}
}
