package ixfun

import (
	"farc/ferrors"
	"farc/ir"
)

// Dim is one axis of an LMAD: how far (in elements) to step in memory for
// each unit step along this logical axis, and how many logical steps the
// axis has.
type Dim struct {
	Stride *Expr
	Shape  *Expr
}

// Kind distinguishes an index function that is still a plain LMAD from one
// that has lost linearity through a non-direct reshape.
type Kind int

const (
	KindLMAD Kind = iota
	KindAffineReshape
)

// IxFun is the index function: an LMAD when Kind == KindLMAD, or an opaque
// "reshaped, linearity unknown" marker carrying only a shape when Kind ==
// KindAffineReshape.
type IxFun struct {
	Kind   Kind
	Offset *Expr
	Dims   []Dim      // valid when Kind == KindLMAD
	Shape  []*Expr    // logical shape, always valid
}

// Iota builds the row-major identity index function over shape.
func Iota(shape []*Expr) *IxFun {
	dims := make([]Dim, len(shape))
	stride := ConstE(1)
	for i := len(shape) - 1; i >= 0; i-- {
		dims[i] = Dim{Stride: stride, Shape: shape[i]}
		stride = MulE(stride, shape[i])
	}
	return &IxFun{Kind: KindLMAD, Offset: ConstE(0), Dims: dims, Shape: shape}
}

// Rank returns the number of dimensions.
func (f *IxFun) Rank() int { return len(f.Shape) }

// Base returns the logical shape the index function indexes over.
func (f *IxFun) Base() []*Expr { return f.Shape }

// IsDirect reports whether f is exactly row-major with zero offset, i.e.
// equal to Iota(f.Shape).
func (f *IxFun) IsDirect() bool {
	if f.Kind != KindLMAD {
		return false
	}
	if !isZero(Normalize(f.Offset)) {
		return false
	}
	direct := Iota(f.Shape)
	if len(direct.Dims) != len(f.Dims) {
		return false
	}
	for i := range f.Dims {
		if !Equal(f.Dims[i].Stride, direct.Dims[i].Stride) || !Equal(f.Dims[i].Shape, direct.Dims[i].Shape) {
			return false
		}
	}
	return true
}

// Index evaluates the index function at a tuple of element indices,
// returning the symbolic linear element offset.
func (f *IxFun) Index(indices []*Expr) (*Expr, error) {
	if f.Kind != KindLMAD {
		return nil, ferrors.Shape("ixfun.Index", "", "cannot index an affine-reshaped (linearity-lost) index function")
	}
	if len(indices) != len(f.Dims) {
		return nil, ferrors.Shape("ixfun.Index", "", "index arity %d does not match rank %d", len(indices), len(f.Dims))
	}
	off := f.Offset
	for i, idx := range indices {
		off = AddE(off, MulE(idx, f.Dims[i].Stride))
	}
	return Normalize(off), nil
}

// Permute records a permutation of axes; physically reordering Dims has
// the same effect as recording perm and applying it at index time, since
// Dim pairs carry their stride/shape independent of position.
func (f *IxFun) Permute(perm []int) (*IxFun, error) {
	if len(perm) != len(f.Dims) {
		return nil, ferrors.Shape("ixfun.Permute", "", "permutation length %d does not match rank %d", len(perm), len(f.Dims))
	}
	newDims := make([]Dim, len(perm))
	newShape := make([]*Expr, len(perm))
	for i, p := range perm {
		newDims[i] = f.Dims[p]
		newShape[i] = f.Shape[p]
	}
	return &IxFun{Kind: KindLMAD, Offset: f.Offset, Dims: newDims, Shape: newShape}, nil
}

// Inverse returns the inverse permutation of perm, used by the coalescing
// pass to undo a writeback transposition.
func Inverse(perm []int) []int {
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}

// Slice restricts each axis by fix or range; fixed axes drop from the
// resulting rank.
func (f *IxFun) Slice(idxs []ir.DimIndex) (*IxFun, error) {
	if f.Kind != KindLMAD {
		return nil, ferrors.Shape("ixfun.Slice", "", "cannot slice an affine-reshaped index function")
	}
	if len(idxs) != len(f.Dims) {
		return nil, ferrors.Shape("ixfun.Slice", "", "slice arity %d does not match rank %d", len(idxs), len(f.Dims))
	}
	offset := f.Offset
	var dims []Dim
	var shape []*Expr
	for i, di := range idxs {
		d := f.Dims[i]
		switch di.Kind {
		case ir.DimFix:
			fixE := FromSubExp(di.Fix)
			offset = AddE(offset, MulE(fixE, d.Stride))
		case ir.DimSlice:
			offE := FromSubExp(di.Offset)
			lenE := FromSubExp(di.Length)
			strideE := FromSubExp(di.Stride)
			offset = AddE(offset, MulE(offE, d.Stride))
			newStride := MulE(d.Stride, strideE)
			dims = append(dims, Dim{Stride: newStride, Shape: lenE})
			shape = append(shape, lenE)
		}
	}
	return &IxFun{Kind: KindLMAD, Offset: offset, Dims: dims, Shape: shape}, nil
}

// Reshape replaces the shape. If f is direct the result is simply
// Iota(newShape); otherwise linearity is lost and the result becomes an
// opaque affine-reshape node.
func (f *IxFun) Reshape(newShape []*Expr) *IxFun {
	if f.IsDirect() {
		return Iota(newShape)
	}
	return &IxFun{Kind: KindAffineReshape, Offset: ConstE(0), Shape: newShape}
}

// OffsetIndex shifts the index function's resulting linear offset by e —
// used when a view starts partway through a larger buffer without
// otherwise changing its shape or strides.
func (f *IxFun) OffsetIndex(e *Expr) *IxFun {
	g := *f
	g.Offset = AddE(f.Offset, e)
	return &g
}

// Rebase re-expresses f relative to a new base index function: the new
// base's offset is folded additively into f's (the common case exercised
// by farc/memexpand, where rebasing adds a per-thread offset
// thread_id*per_thread_size onto an index function that is otherwise
// unchanged). newBase's own Dims are not further composed into f's
// strides — a genuine base-substitution (as opposed to an additive shift)
// is represented directly by reconstructing the LMAD from scratch, which
// farc/memexpand does explicitly rather than through this helper.
func (f *IxFun) Rebase(newBase *IxFun) *IxFun {
	g := *f
	g.Offset = AddE(newBase.Offset, f.Offset)
	return &g
}

// LinearWithOffset returns (offset, true) iff f is row-major with a
// constant shift, i.e. the strides are the monotonically-decreasing
// products of the inner shapes (as Iota would produce) and the offset is a
// compile-time constant — unlocking bulk memcpy in ImpGen.
func (f *IxFun) LinearWithOffset(elemSize int) (int64, bool) {
	if f.Kind != KindLMAD {
		return 0, false
	}
	off, ok := f.Offset.Eval()
	if !ok {
		return 0, false
	}
	expectedStride := int64(1)
	for i := len(f.Dims) - 1; i >= 0; i-- {
		stride, ok := f.Dims[i].Stride.Eval()
		if !ok || stride != expectedStride {
			return 0, false
		}
		shape, ok := f.Dims[i].Shape.Eval()
		if !ok {
			return 0, false
		}
		expectedStride *= shape
	}
	return off * int64(elemSize), true
}
