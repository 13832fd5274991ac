// Package ixfun implements the index-function algebra: a symbolic map from a multi-dimensional element index to a scalar
// byte/element offset within a memory block, built by composing
// permute/slice/reshape/rebase/offsetIndex on top of a row-major `iota`.
//
// An index function is represented as an LMAD (linear-memory-address
// descriptor): a symbolic offset plus one (stride, shape) pair per
// dimension, which is exactly how a row-major array layout, a transposed
// view, a strided slice, and a coalescing-pass rebase are all representable
// without a general-purpose tree-rewriting engine.
package ixfun

import (
	"fmt"

	"farc/ir"
)

// ExprKind is the symbolic expression former over integer-typed dimension
// sizes and offsets.
type ExprKind int

const (
	EConst ExprKind = iota
	EVar
	EAdd
	ESub
	EMul
	EExt // existential placeholder (de-Bruijn index into the context tuple)
)

// Expr is a small affine expression tree over constants and ir.Names,
// sufficient to represent strides (products of dimension sizes) and
// offsets (sums of scaled indices) without pulling in a full CAS.
type Expr struct {
	Kind ExprKind
	C    int64
	V    ir.Name
	L, R *Expr
}

func ConstE(c int64) *Expr  { return &Expr{Kind: EConst, C: c} }
func VarE(v ir.Name) *Expr  { return &Expr{Kind: EVar, V: v} }
func ExtE(idx int) *Expr    { return &Expr{Kind: EExt, C: int64(idx)} }

func AddE(l, r *Expr) *Expr {
	if isZero(l) {
		return r
	}
	if isZero(r) {
		return l
	}
	return &Expr{Kind: EAdd, L: l, R: r}
}

func SubE(l, r *Expr) *Expr {
	if isZero(r) {
		return l
	}
	return &Expr{Kind: ESub, L: l, R: r}
}

func MulE(l, r *Expr) *Expr {
	if isZero(l) || isZero(r) {
		return ConstE(0)
	}
	if isOne(l) {
		return r
	}
	if isOne(r) {
		return l
	}
	return &Expr{Kind: EMul, L: l, R: r}
}

func isZero(e *Expr) bool { return e != nil && e.Kind == EConst && e.C == 0 }
func isOne(e *Expr) bool  { return e != nil && e.Kind == EConst && e.C == 1 }

// FromSubExp lifts an ir.SubExp (constant or variable) into an Expr.
func FromSubExp(s ir.SubExp) *Expr {
	if s.IsConst() {
		return ConstE(s.Const.IntVal)
	}
	return VarE(s.Var)
}

// Eval attempts to fold e to a constant, returning ok=false if any free
// variable remains after normalization.
func (e *Expr) Eval() (int64, bool) {
	n := Normalize(e)
	if n.Kind == EConst {
		return n.C, true
	}
	return 0, false
}

// Vars returns the distinct free variables mentioned in e, in
// first-encountered order.
func (e *Expr) Vars() []ir.Name {
	seen := map[ir.Name]bool{}
	var out []ir.Name
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x == nil {
			return
		}
		switch x.Kind {
		case EVar:
			if !seen[x.V] {
				seen[x.V] = true
				out = append(out, x.V)
			}
		case EAdd, ESub, EMul:
			walk(x.L)
			walk(x.R)
		}
	}
	walk(e)
	return out
}

// Normalize applies constant folding so structural equality isn't tripped
// up by e.g. (2*3) vs 6.
func Normalize(e *Expr) *Expr {
	if e == nil {
		return ConstE(0)
	}
	switch e.Kind {
	case EConst, EVar, EExt:
		return e
	case EAdd:
		l, r := Normalize(e.L), Normalize(e.R)
		if l.Kind == EConst && r.Kind == EConst {
			return ConstE(l.C + r.C)
		}
		return AddE(l, r)
	case ESub:
		l, r := Normalize(e.L), Normalize(e.R)
		if l.Kind == EConst && r.Kind == EConst {
			return ConstE(l.C - r.C)
		}
		return SubE(l, r)
	case EMul:
		l, r := Normalize(e.L), Normalize(e.R)
		if l.Kind == EConst && r.Kind == EConst {
			return ConstE(l.C * r.C)
		}
		return MulE(l, r)
	}
	return e
}

// Equal compares two expressions after normalization: equality on index
// functions is structural, not syntactic.
func Equal(a, b *Expr) bool {
	a, b = Normalize(a), Normalize(b)
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case EConst:
		return a.C == b.C
	case EVar:
		return a.V.Equal(b.V)
	case EExt:
		return a.C == b.C
	case EAdd, ESub, EMul:
		return Equal(a.L, b.L) && Equal(a.R, b.R)
	}
	return false
}

// Substitute replaces every occurrence of `from` with `to`.
func Substitute(e *Expr, from ir.Name, to *Expr) *Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case EConst:
		return e
	case EVar:
		if e.V.Equal(from) {
			return to
		}
		return e
	case EAdd:
		return AddE(Substitute(e.L, from, to), Substitute(e.R, from, to))
	case ESub:
		return SubE(Substitute(e.L, from, to), Substitute(e.R, from, to))
	case EMul:
		return MulE(Substitute(e.L, from, to), Substitute(e.R, from, to))
	}
	return e
}

func (e *Expr) String() string {
	if e == nil {
		return "0"
	}
	switch e.Kind {
	case EConst:
		return fmt.Sprintf("%d", e.C)
	case EVar:
		return e.V.String()
	case EExt:
		return fmt.Sprintf("?%d", e.C)
	case EAdd:
		return fmt.Sprintf("(%s + %s)", e.L, e.R)
	case ESub:
		return fmt.Sprintf("(%s - %s)", e.L, e.R)
	case EMul:
		return fmt.Sprintf("(%s * %s)", e.L, e.R)
	default:
		return "?expr"
	}
}
