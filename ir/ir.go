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

// Package ir defines the expression and statement tree that pipelines are
// lowered to.
//
// Expressions are pure, immutable and shared: transformations build new
// trees that reuse unmodified subtrees, and passes compare nodes by
// pointer identity (SameAs) to detect where nothing changed. Variables are
// symbols interned by a Context; a symbol resolves at evaluation time to
// either a scalar or a buffer depending on the statement that bound it.
package ir

import (
	"github.com/alexander-shaposhnikov/slinky/buffer"
)

// Index is the scalar type of all values: a signed 64-bit integer.
type Index = int64

// Symbol identifies a variable. Symbols are dense non-negative ids
// interned by a Context and are the sole form of variable identity.
type Symbol int

// ----------------------------------------------------------------------------
// Types of node in the tree.
type (
	// Node is an expression or a statement.
	Node interface {
		// node prevents implementations of the interface outside this
		// package, keeping the variant list sealed.
		node()
	}

	// Expr is a pure expression node.
	Expr interface {
		Node
		exprNode()
	}

	// Stmt is a statement node.
	Stmt interface {
		Node
		stmtNode()
	}
)

// SameAs reports whether two nodes are the same node, by pointer identity.
// Nil nodes are only the same as nil.
func SameAs[T comparable](a, b T) bool { return a == b }

// ----------------------------------------------------------------------------
// Expressions.
type (
	// Constant is a literal Index value.
	Constant struct {
		Value Index
	}

	// Variable references the value bound to a symbol.
	Variable struct {
		Sym Symbol
	}

	// Wildcard matches any subexpression during pattern matching. It
	// behaves as a Variable everywhere else.
	Wildcard struct {
		Sym Symbol
	}

	// Add is a + b.
	Add struct{ A, B Expr }
	// Sub is a - b.
	Sub struct{ A, B Expr }
	// Mul is a * b.
	Mul struct{ A, B Expr }
	// Div is Euclidean division: the remainder is non-negative when the
	// divisor is positive. Division by zero evaluates to zero.
	Div struct{ A, B Expr }
	// Mod is the remainder of Div.
	Mod struct{ A, B Expr }

	// Min is the smaller of a and b.
	Min struct{ A, B Expr }
	// Max is the larger of a and b.
	Max struct{ A, B Expr }

	// Equal is 1 if a == b, else 0.
	Equal struct{ A, B Expr }
	// NotEqual is 1 if a != b, else 0.
	NotEqual struct{ A, B Expr }
	// Less is 1 if a < b, else 0.
	Less struct{ A, B Expr }
	// LessEqual is 1 if a <= b, else 0.
	LessEqual struct{ A, B Expr }

	// LogicalAnd is 1 if both a and b are non-zero, else 0.
	LogicalAnd struct{ A, B Expr }
	// LogicalOr is 1 if either a or b is non-zero, else 0.
	LogicalOr struct{ A, B Expr }
	// LogicalNot is 1 if x is zero, else 0.
	LogicalNot struct{ X Expr }

	// Select is t if the condition is non-zero, else f. Exactly one of
	// the two value operands is evaluated.
	Select struct {
		Condition  Expr
		TrueValue  Expr
		FalseValue Expr
	}

	// Let binds a scalar value to a symbol within a lexical body.
	Let struct {
		Sym   Symbol
		Value Expr
		Body  Expr
	}

	// Call applies an intrinsic to arguments.
	Call struct {
		Intrinsic Intrinsic
		Args      []Expr
	}
)

// Intrinsic is the closed set of builtin functions.
type Intrinsic int

// The intrinsic set. The buffer metadata intrinsics take a buffer-valued
// variable as first argument and, where applicable, a dimension index.
const (
	IntrinsicAbs Intrinsic = iota

	IntrinsicPositiveInfinity
	IntrinsicNegativeInfinity
	IntrinsicIndeterminate

	IntrinsicBufferRank
	IntrinsicBufferElemSize
	IntrinsicBufferBase
	IntrinsicBufferSizeBytes

	IntrinsicBufferMin
	IntrinsicBufferMax
	IntrinsicBufferExtent
	IntrinsicBufferStride
	IntrinsicBufferFoldFactor

	IntrinsicBufferAt
)

var intrinsicNames = [...]string{
	IntrinsicAbs:              "abs",
	IntrinsicPositiveInfinity: "positive_infinity",
	IntrinsicNegativeInfinity: "negative_infinity",
	IntrinsicIndeterminate:    "indeterminate",
	IntrinsicBufferRank:       "buffer_rank",
	IntrinsicBufferElemSize:   "buffer_elem_size",
	IntrinsicBufferBase:       "buffer_base",
	IntrinsicBufferSizeBytes:  "buffer_size_bytes",
	IntrinsicBufferMin:        "buffer_min",
	IntrinsicBufferMax:        "buffer_max",
	IntrinsicBufferExtent:     "buffer_extent",
	IntrinsicBufferStride:     "buffer_stride",
	IntrinsicBufferFoldFactor: "buffer_fold_factor",
	IntrinsicBufferAt:         "buffer_at",
}

// String returns the name of the intrinsic.
func (i Intrinsic) String() string { return intrinsicNames[i] }

// ----------------------------------------------------------------------------
// Statements.

// Callable is a user kernel. It receives raw descriptors for the buffers
// listed in the CallFunc, and returns 0 on success or non-zero to abort
// the pipeline.
type Callable func(inputs, outputs []*buffer.Raw) Index

// MemoryType selects where an Allocate places its data.
type MemoryType int

// Memory types.
const (
	MemoryStack MemoryType = iota
	MemoryHeap
)

// String returns "stack" or "heap".
func (m MemoryType) String() string {
	if m == MemoryStack {
		return "stack"
	}
	return "heap"
}

// FuncDecl is the dataflow signature of the function behind a CallFunc.
// Bounds inference uses it to propagate consumer demand back through the
// function's bounds expressions.
type FuncDecl interface {
	// InputBounds returns, per input buffer, the interval of indices read
	// in each output dimension, as expressions in the output dim vars.
	InputBounds() []FuncInput

	// OutputDims returns, per output buffer, the free variable indexing
	// each dimension.
	OutputDims() []FuncOutput
}

type (
	// FuncInput is one consumed buffer of a FuncDecl.
	FuncInput struct {
		Buffer Symbol
		Bounds Box
	}

	// FuncOutput is one produced buffer of a FuncDecl.
	FuncOutput struct {
		Buffer Symbol
		Dims   []Expr
	}
)

type (
	// LetStmt binds a scalar value to a symbol within a statement body.
	LetStmt struct {
		Sym   Symbol
		Value Expr
		Body  Stmt
	}

	// Block sequences two statements. Either may be nil. The second runs
	// only if the first succeeds.
	Block struct {
		A, B Stmt
	}

	// Loop runs the body with the symbol bound to min, min+step, ... max
	// (inclusive). A nil step means 1.
	Loop struct {
		Sym    Symbol
		Bounds Interval
		Step   Expr
		Body   Stmt
	}

	// IfThenElse runs exactly one branch. Either branch may be nil.
	IfThenElse struct {
		Condition Expr
		TrueBody  Stmt
		FalseBody Stmt
	}

	// CallFunc invokes an opaque user kernel with the buffers bound to
	// the listed symbols. Fn carries the dataflow signature for bounds
	// inference; it is nil for raw calls.
	CallFunc struct {
		Target  Callable
		Inputs  []Symbol
		Outputs []Symbol
		Fn      FuncDecl
	}

	// DimExpr describes one dimension of an Allocate or MakeBuffer.
	DimExpr struct {
		Bounds     Interval
		Stride     Expr
		FoldFactor Expr
	}

	// Allocate binds a symbol to a freshly allocated buffer for the
	// extent of the body. The data area is released on every exit path.
	Allocate struct {
		Sym      Symbol
		Storage  MemoryType
		ElemSize Index
		Dims     []DimExpr
		Body     Stmt
	}

	// MakeBuffer binds a symbol to a buffer wrapping an externally owned
	// base pointer for the extent of the body.
	MakeBuffer struct {
		Sym      Symbol
		Base     Expr
		ElemSize Expr
		Dims     []DimExpr
		Body     Stmt
	}

	// CropBuffer narrows the leading dimensions of the buffer bound to
	// the symbol within the body. Undefined interval endpoints keep the
	// existing bounds.
	CropBuffer struct {
		Sym    Symbol
		Bounds Box
		Body   Stmt
	}

	// CropDim narrows a single dimension of the buffer bound to the
	// symbol within the body.
	CropDim struct {
		Sym    Symbol
		Dim    int
		Bounds Interval
		Body   Stmt
	}

	// SliceBuffer drops the dimensions with a defined `at` expression
	// from the buffer bound to the symbol within the body.
	SliceBuffer struct {
		Sym  Symbol
		At   []Expr
		Body Stmt
	}

	// SliceDim drops a single dimension from the buffer bound to the
	// symbol within the body.
	SliceDim struct {
		Sym  Symbol
		Dim  int
		At   Expr
		Body Stmt
	}

	// TruncateRank lowers the rank of the buffer bound to the symbol
	// within the body.
	TruncateRank struct {
		Sym  Symbol
		Rank int
		Body Stmt
	}

	// Check evaluates the condition and aborts evaluation if it is zero.
	Check struct {
		Condition Expr
	}
)

func (*Constant) node()   {}
func (*Variable) node()   {}
func (*Wildcard) node()   {}
func (*Add) node()        {}
func (*Sub) node()        {}
func (*Mul) node()        {}
func (*Div) node()        {}
func (*Mod) node()        {}
func (*Min) node()        {}
func (*Max) node()        {}
func (*Equal) node()      {}
func (*NotEqual) node()   {}
func (*Less) node()       {}
func (*LessEqual) node()  {}
func (*LogicalAnd) node() {}
func (*LogicalOr) node()  {}
func (*LogicalNot) node() {}
func (*Select) node()     {}
func (*Let) node()        {}
func (*Call) node()       {}

func (*Constant) exprNode()   {}
func (*Variable) exprNode()   {}
func (*Wildcard) exprNode()   {}
func (*Add) exprNode()        {}
func (*Sub) exprNode()        {}
func (*Mul) exprNode()        {}
func (*Div) exprNode()        {}
func (*Mod) exprNode()        {}
func (*Min) exprNode()        {}
func (*Max) exprNode()        {}
func (*Equal) exprNode()      {}
func (*NotEqual) exprNode()   {}
func (*Less) exprNode()       {}
func (*LessEqual) exprNode()  {}
func (*LogicalAnd) exprNode() {}
func (*LogicalOr) exprNode()  {}
func (*LogicalNot) exprNode() {}
func (*Select) exprNode()     {}
func (*Let) exprNode()        {}
func (*Call) exprNode()       {}

func (*LetStmt) node()      {}
func (*Block) node()        {}
func (*Loop) node()         {}
func (*IfThenElse) node()   {}
func (*CallFunc) node()     {}
func (*Allocate) node()     {}
func (*MakeBuffer) node()   {}
func (*CropBuffer) node()   {}
func (*CropDim) node()      {}
func (*SliceBuffer) node()  {}
func (*SliceDim) node()     {}
func (*TruncateRank) node() {}
func (*Check) node()        {}

func (*LetStmt) stmtNode()      {}
func (*Block) stmtNode()        {}
func (*Loop) stmtNode()         {}
func (*IfThenElse) stmtNode()   {}
func (*CallFunc) stmtNode()     {}
func (*Allocate) stmtNode()     {}
func (*MakeBuffer) stmtNode()   {}
func (*CropBuffer) stmtNode()   {}
func (*CropDim) stmtNode()      {}
func (*SliceBuffer) stmtNode()  {}
func (*SliceDim) stmtNode()     {}
func (*TruncateRank) stmtNode() {}
func (*Check) stmtNode()        {}
