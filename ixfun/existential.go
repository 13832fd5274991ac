package ixfun

import "farc/ir"

// Subst pairs a fresh existential index with the concrete expression it
// replaced, the bookkeeping farc/explicitmem attaches to a pattern's
// Context elements.
type Subst struct {
	Ext  int
	Expr *Expr
}

// Existentialize replaces every free Name in f with a fresh existential
// index, returning the existentialised index function and the list of
// substitutions needed to recover it.
func (f *IxFun) Existentialize(nextExt func() int) (*IxFun, []Subst) {
	var substs []Subst
	seen := map[ir.Name]int{}
	extFor := func(v ir.Name) *Expr {
		if idx, ok := seen[v]; ok {
			return ExtE(idx)
		}
		idx := nextExt()
		seen[v] = idx
		substs = append(substs, Subst{Ext: idx, Expr: VarE(v)})
		return ExtE(idx)
	}
	var rewrite func(*Expr) *Expr
	rewrite = func(e *Expr) *Expr {
		if e == nil {
			return nil
		}
		switch e.Kind {
		case EConst:
			return e
		case EVar:
			return extFor(e.V)
		case EAdd:
			return AddE(rewrite(e.L), rewrite(e.R))
		case ESub:
			return SubE(rewrite(e.L), rewrite(e.R))
		case EMul:
			return MulE(rewrite(e.L), rewrite(e.R))
		}
		return e
	}

	g := &IxFun{Kind: f.Kind, Offset: rewrite(f.Offset)}
	for _, d := range f.Dims {
		g.Dims = append(g.Dims, Dim{Stride: rewrite(d.Stride), Shape: rewrite(d.Shape)})
	}
	for _, s := range f.Shape {
		g.Shape = append(g.Shape, rewrite(s))
	}
	return g, substs
}

// GenSubst is one position where two index functions diverge during
// least-general generalization: subA/subB are the two original
// sub-expressions a fresh existential now stands in for.
type GenSubst struct {
	SubA, SubB *Expr
}

// LeastGeneralGeneralization anti-unifies two index-function trees
// position-wise, collecting diverging sub-expressions as substitution
// obligations. Returns ok=false only if the two trees differ in top-level
// kind or in rank; any other diverging sub-expression becomes a fresh
// existential.
func LeastGeneralGeneralization(a, b *IxFun) (*IxFun, []GenSubst, bool) {
	if a.Kind != b.Kind || len(a.Dims) != len(b.Dims) {
		return nil, nil, false
	}
	var substs []GenSubst
	next := 0
	fresh := func(x, y *Expr) *Expr {
		idx := next
		next++
		substs = append(substs, GenSubst{SubA: x, SubB: y})
		return ExtE(idx)
	}
	var gen func(x, y *Expr) *Expr
	gen = func(x, y *Expr) *Expr {
		x, y = Normalize(x), Normalize(y)
		if Equal(x, y) {
			return x
		}
		if x.Kind != y.Kind {
			return fresh(x, y)
		}
		switch x.Kind {
		case EAdd:
			return AddE(gen(x.L, y.L), gen(x.R, y.R))
		case ESub:
			return SubE(gen(x.L, y.L), gen(x.R, y.R))
		case EMul:
			return MulE(gen(x.L, y.L), gen(x.R, y.R))
		default:
			return fresh(x, y)
		}
	}

	result := &IxFun{Kind: a.Kind, Offset: gen(a.Offset, b.Offset)}
	for i := range a.Dims {
		result.Dims = append(result.Dims, Dim{
			Stride: gen(a.Dims[i].Stride, b.Dims[i].Stride),
			Shape:  gen(a.Dims[i].Shape, b.Dims[i].Shape),
		})
	}
	for i := range a.Shape {
		result.Shape = append(result.Shape, gen(a.Shape[i], b.Shape[i]))
	}
	return result, substs, true
}
