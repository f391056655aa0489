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
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/alexander-shaposhnikov/slinky/base/ordered"
	"github.com/alexander-shaposhnikov/slinky/buffer"
	"github.com/alexander-shaposhnikov/slinky/interp"
	"github.com/alexander-shaposhnikov/slinky/ir"
)

// Index is the scalar type of all values.
type Index = ir.Index

// BufferExpr is a symbolic buffer declared by the user. Each dimension's
// fields default to the corresponding buffer metadata intrinsics on the
// buffer's own variable, so any field can be overridden with a concrete
// expression (e.g. to force a stride). A buffer has at most one producer
// func and any number of consumers.
type BufferExpr struct {
	sym      ir.Symbol
	elemSize Index
	dims     []ir.DimExpr
	storage  ir.MemoryType

	producer  *Func
	consumers []*Func
}

// NewBufferExpr declares a buffer with the given name, element size and
// rank.
func NewBufferExpr(ctx *ir.Context, name string, elemSize Index, rank int) *BufferExpr {
	sym := ctx.Insert(name)
	v := ir.Var(sym)
	dims := make([]ir.DimExpr, rank)
	for d := range dims {
		dims[d] = ir.DimExpr{
			Bounds:     ir.NewInterval(ir.BufferMin(v, ir.Const(Index(d))), ir.BufferMax(v, ir.Const(Index(d)))),
			Stride:     ir.BufferStride(v, ir.Const(Index(d))),
			FoldFactor: ir.BufferFoldFactor(v, ir.Const(Index(d))),
		}
	}
	return &BufferExpr{sym: sym, elemSize: elemSize, dims: dims, storage: ir.MemoryHeap}
}

// Sym returns the buffer's symbol.
func (b *BufferExpr) Sym() ir.Symbol { return b.sym }

// ElemSize returns the element size in bytes.
func (b *BufferExpr) ElemSize() Index { return b.elemSize }

// Rank returns the number of dimensions.
func (b *BufferExpr) Rank() int { return len(b.dims) }

// Dim returns the d'th dimension for reading or overriding.
func (b *BufferExpr) Dim(d int) *ir.DimExpr { return &b.dims[d] }

// Storage returns where the buffer is allocated when it is a temporary.
func (b *BufferExpr) Storage() ir.MemoryType { return b.storage }

// SetStorage overrides where the buffer is allocated.
func (b *BufferExpr) SetStorage(storage ir.MemoryType) *BufferExpr {
	b.storage = storage
	return b
}

// Producer returns the func producing this buffer, if any.
func (b *BufferExpr) Producer() *Func { return b.producer }

// Consumers returns the funcs consuming this buffer.
func (b *BufferExpr) Consumers() []*Func { return b.consumers }

type (
	// Input is one consumed buffer of a func: the interval of indices
	// read in each output dimension, as expressions in the func's output
	// dim variables.
	Input struct {
		Buffer *BufferExpr
		Bounds ir.Box
	}

	// Output is one produced buffer of a func and the free variable
	// indexing each of its dimensions.
	Output struct {
		Buffer *BufferExpr
		Dims   []ir.Symbol
	}

	// LoopID names one loop of one func, for compute_at placement.
	LoopID struct {
		Func *Func
		Var  ir.Symbol
	}
)

// Func consumes input buffers over symbolic bounds and produces output
// buffers by calling an opaque kernel.
type Func struct {
	impl    ir.Callable
	inputs  []Input
	outputs []Output

	loops     []ir.Symbol
	computeAt *LoopID
}

// NewFunc declares a func. Every output buffer must not already have a
// producer.
func NewFunc(impl ir.Callable, inputs []Input, outputs []Output) (*Func, error) {
	f := &Func{impl: impl, inputs: inputs, outputs: outputs}
	for _, in := range inputs {
		in.Buffer.consumers = append(in.Buffer.consumers, f)
	}
	for _, out := range outputs {
		if out.Buffer.producer != nil {
			return nil, errors.Errorf("buffer already has a producer")
		}
		out.Buffer.producer = f
	}
	return f, nil
}

// SetLoops declares the loop variables, outermost last, that the lowered
// producer iterates explicitly.
func (f *Func) SetLoops(vars ...ir.Symbol) *Func {
	f.loops = vars
	return f
}

// SetComputeAt places this func's body at the beginning of the given loop
// of the given consumer, enabling fusion.
func (f *Func) SetComputeAt(consumer *Func, loopVar ir.Symbol) *Func {
	f.computeAt = &LoopID{Func: consumer, Var: loopVar}
	return f
}

// InputBounds implements ir.FuncDecl.
func (f *Func) InputBounds() []ir.FuncInput {
	ins := make([]ir.FuncInput, len(f.inputs))
	for i, in := range f.inputs {
		ins[i] = ir.FuncInput{Buffer: in.Buffer.sym, Bounds: in.Bounds}
	}
	return ins
}

// OutputDims implements ir.FuncDecl.
func (f *Func) OutputDims() []ir.FuncOutput {
	outs := make([]ir.FuncOutput, len(f.outputs))
	for i, out := range f.outputs {
		dims := make([]ir.Expr, len(out.Dims))
		for d, sym := range out.Dims {
			dims[d] = ir.Var(sym)
		}
		outs[i] = ir.FuncOutput{Buffer: out.Buffer.sym, Dims: dims}
	}
	return outs
}

var _ ir.FuncDecl = (*Func)(nil)

// Pipeline is a lowered dataflow program. The body is built once at
// construction and immutable thereafter.
type Pipeline struct {
	symbols *ir.Context
	inputs  []*BufferExpr
	outputs []*BufferExpr
	body    ir.Stmt
}

// NewPipeline lowers the funcs reachable from the outputs into a single
// statement. It fails, producing no partial body, on structural errors
// such as a producer-scheduling deadlock.
func NewPipeline(ctx *ir.Context, inputs, outputs []*BufferExpr) (*Pipeline, error) {
	body, err := buildPipeline(ctx, inputs, outputs)
	if err != nil {
		return nil, err
	}
	return &Pipeline{symbols: ctx, inputs: inputs, outputs: outputs, body: body}, nil
}

// Body returns the lowered statement.
func (p *Pipeline) Body() ir.Stmt { return p.body }

// Inputs returns the declared input buffers.
func (p *Pipeline) Inputs() []*BufferExpr { return p.inputs }

// Outputs returns the declared output buffers.
func (p *Pipeline) Outputs() []*BufferExpr { return p.outputs }

// Symbols returns the symbol context the pipeline was built in.
func (p *Pipeline) Symbols() *ir.Context { return p.symbols }

// Evaluate runs the pipeline against concrete buffers, in declaration
// order.
func (p *Pipeline) Evaluate(inputs, outputs []*buffer.Raw) error {
	ctx := &interp.Context{Symbols: p.symbols}
	return p.EvaluateInContext(inputs, outputs, ctx)
}

// EvaluateInContext runs the pipeline with caller-installed hooks.
func (p *Pipeline) EvaluateInContext(inputs, outputs []*buffer.Raw, ctx *interp.Context) error {
	if len(inputs) != len(p.inputs) || len(outputs) != len(p.outputs) {
		return errors.Errorf("pipeline expects %d inputs and %d outputs, got %d and %d",
			len(p.inputs), len(p.outputs), len(inputs), len(outputs))
	}
	var err error
	for i, in := range p.inputs {
		err = multierr.Append(err, bindBuffer(ctx, in, inputs[i]))
	}
	for i, out := range p.outputs {
		err = multierr.Append(err, bindBuffer(ctx, out, outputs[i]))
	}
	if err != nil {
		return err
	}
	if status := interp.EvaluateStmt(p.body, ctx); status != 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Errorf("pipeline failed with status %d", status)
	}
	return nil
}

// bindBuffer binds a declared buffer to a concrete one, checking that the
// concrete buffer satisfies any constraints the user added to the
// declaration (e.g. a pinned stride).
func bindBuffer(ctx *interp.Context, decl *BufferExpr, buf *buffer.Raw) error {
	if decl.Rank() != buf.Rank() {
		return errors.Errorf("%v: declared rank %d, buffer has rank %d", decl.sym, decl.Rank(), buf.Rank())
	}
	ctx.SetBuffer(decl.sym, buf)
	for d := 0; d < buf.Rank(); d++ {
		dim := buf.Dim(d)
		declDim := decl.dims[d]
		if interp.Evaluate(declDim.Bounds.Min, ctx) != dim.Min() ||
			interp.Evaluate(declDim.Bounds.Max, ctx) != dim.Max() ||
			interp.Evaluate(declDim.Stride, ctx) != dim.Stride() ||
			interp.Evaluate(declDim.FoldFactor, ctx) != dim.FoldFactor() {
			return errors.Errorf("buffer does not satisfy the constraints declared on dimension %d", d)
		}
	}
	return nil
}

// pipelineBuilder incrementally builds the body, starting at the end of
// the pipeline and adding producers as necessary.
type pipelineBuilder struct {
	toProduce *ordered.Set[*BufferExpr]
	produced  *ordered.Set[*BufferExpr]
	allocated *ordered.Set[*BufferExpr]

	// pending collects buffers whose allocation still has to wrap the
	// statement being built. Allocations are emitted outside a func's
	// explicit loops, so a producer fused into a consumer loop keeps its
	// allocation at the consumer's level and the sliding window can
	// shrink its per-iteration crop.
	pending []*BufferExpr
}

func newPipelineBuilder(inputs, outputs []*BufferExpr) *pipelineBuilder {
	b := &pipelineBuilder{
		toProduce: ordered.NewSet[*BufferExpr](),
		produced:  ordered.NewSet[*BufferExpr](),
		allocated: ordered.NewSet[*BufferExpr](),
	}
	// To start with, we need to produce the outputs.
	for _, out := range outputs {
		b.toProduce.Add(out)
		b.allocated.Add(out)
	}
	for _, in := range inputs {
		b.produced.Add(in)
	}
	// Close over everything those buffers need, transitively.
	for {
		next := ordered.NewSet[*BufferExpr]()
		for buf := range b.toProduce.Iter() {
			if buf.producer == nil {
				// Must be an input.
				continue
			}
			for _, in := range buf.producer.inputs {
				if !b.toProduce.Contains(in.Buffer) {
					next.Add(in.Buffer)
				}
			}
		}
		if next.Size() == 0 {
			break
		}
		b.toProduce.AddAll(next)
	}
	return b
}

// findNextProducer returns a func that produces a buffer we still need,
// such that none of its outputs is consumed by a func that has not run
// yet. Scheduling such a func now can never starve a later consumer of a
// sibling output.
func (b *pipelineBuilder) findNextProducer() *Func {
	for buf := range b.toProduce.Iter() {
		if b.produced.Contains(buf) {
			continue
		}
		f := buf.producer
		if f == nil {
			continue
		}
		ready := true
		for _, consumer := range buf.consumers {
			for _, out := range consumer.outputs {
				if out.Buffer == buf {
					// This is the buffer we are proposing to produce now.
					continue
				}
				if !b.produced.Contains(out.Buffer) {
					ready = false
				}
			}
		}
		if ready {
			return f
		}
	}
	return nil
}

func (b *pipelineBuilder) complete() bool {
	for buf := range b.toProduce.Iter() {
		if !b.produced.Contains(buf) {
			return false
		}
	}
	return true
}

// produce emits the statement computing f's outputs and prepends it to
// result, wrapping it in the func's explicit loops and in allocations for
// outputs no outer scope allocated.
func (b *pipelineBuilder) produce(result ir.Stmt, f *Func) ir.Stmt {
	bufferArgs := func(count int, at func(int) *BufferExpr) []ir.Symbol {
		syms := make([]ir.Symbol, count)
		for i := range syms {
			syms[i] = at(i).sym
		}
		return syms
	}
	for _, out := range f.outputs {
		if !b.allocated.Contains(out.Buffer) {
			b.pending = append(b.pending, out.Buffer)
			b.allocated.Add(out.Buffer)
		}
	}
	var callF ir.Stmt = &ir.CallFunc{
		Target:  f.impl,
		Inputs:  bufferArgs(len(f.inputs), func(i int) *BufferExpr { return f.inputs[i].Buffer }),
		Outputs: bufferArgs(len(f.outputs), func(i int) *BufferExpr { return f.outputs[i].Buffer }),
		Fn:      f,
	}

	// Generate the loops that we want to be explicit.
	for _, loopVar := range f.loops {
		var bounds ir.Interval
		for _, out := range f.outputs {
			for d, dimVar := range out.Dims {
				if dimVar != loopVar {
					continue
				}
				// This output uses this loop. Add it to the bounds, and
				// crop the output to the loop variable within the body.
				dim := out.Buffer.dims[d]
				if bounds.Defined() {
					bounds = bounds.Union(dim.Bounds)
				} else {
					bounds = dim.Bounds
				}
				callF = &ir.CropDim{
					Sym:    out.Buffer.sym,
					Dim:    d,
					Bounds: ir.PointInterval(ir.Var(loopVar)),
					Body:   callF,
				}
			}
		}

		// Before closing this loop, bring in any producers that want to
		// be computed at it.
		for buf := range b.toProduce.Iter() {
			if buf.producer == nil || buf.producer.computeAt == nil {
				continue
			}
			at := buf.producer.computeAt
			if at.Func == f && at.Var == loopVar {
				callF = b.produce(callF, buf.producer)
			}
		}

		callF = &ir.Loop{Sym: loopVar, Bounds: bounds, Body: callF}
	}

	if result != nil {
		result = &ir.Block{A: callF, B: result}
	} else {
		result = callF
	}

	for _, out := range f.outputs {
		b.produced.Add(out.Buffer)
	}
	return result
}

// wrapAllocations wraps the statement in an allocation for every buffer
// produced since the last wrap.
func (b *pipelineBuilder) wrapAllocations(result ir.Stmt) ir.Stmt {
	for _, buf := range b.pending {
		result = &ir.Allocate{
			Sym:      buf.sym,
			Storage:  buf.storage,
			ElemSize: buf.elemSize,
			Dims:     append([]ir.DimExpr(nil), buf.dims...),
			Body:     result,
		}
	}
	b.pending = b.pending[:0]
	return result
}

func buildPipeline(ctx *ir.Context, inputs, outputs []*BufferExpr) (ir.Stmt, error) {
	b := newPipelineBuilder(inputs, outputs)

	var result ir.Stmt
	for !b.complete() {
		f := b.findNextProducer()
		if f == nil {
			var err error
			for buf := range b.toProduce.Iter() {
				if !b.produced.Contains(buf) {
					err = multierr.Append(err, errors.Errorf("no producer can be scheduled for %s", ctx.Name(buf.sym)))
				}
			}
			return nil, errors.Wrap(err, "problem in dependency graph")
		}
		result = b.wrapAllocations(b.produce(result, f))
	}

	inputSyms := make([]ir.Symbol, len(inputs))
	for i, in := range inputs {
		inputSyms[i] = in.sym
	}
	result = InferBounds(result, ctx, inputSyms)
	result = SimplifyStmt(result)
	return result, nil
}
