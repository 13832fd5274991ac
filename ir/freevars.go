package ir

// OpFreeVarsFunc is the function-typed visitor hook a concrete IR level
// supplies so the generic walker can recurse into its level-specific Op
// payload without farc/ir knowing anything about SOAC or Kernel shapes —
// a visitor struct with function-typed fields, standing in for the
// per-level traversal boilerplate a sealed interface hierarchy would need.
type OpFreeVarsFunc[Op any] func(op Op) []Name

func subExpFree(s SubExp, out map[Name]bool) {
	if !s.IsConst() {
		out[s.Var] = true
	}
}

func dimIndexFree(d DimIndex, out map[Name]bool) {
	switch d.Kind {
	case DimFix:
		subExpFree(d.Fix, out)
	case DimSlice:
		subExpFree(d.Offset, out)
		subExpFree(d.Length, out)
		subExpFree(d.Stride, out)
	}
}

func basicOpFree(b BasicOp, out map[Name]bool) {
	switch b.Kind {
	case OpSubExp:
		subExpFree(b.SubExp, out)
	case OpBinOp, OpUnOp, OpConvOp:
		subExpFree(b.X, out)
		subExpFree(b.Y, out)
	case OpIndex:
		out[b.Arr] = true
		for _, d := range b.Slice {
			dimIndexFree(d, out)
		}
	case OpUpdate:
		out[b.Arr] = true
		for _, d := range b.Slice {
			dimIndexFree(d, out)
		}
		subExpFree(b.Value, out)
	case OpArrayLit:
		for _, e := range b.Elems {
			subExpFree(e, out)
		}
	case OpReplicate:
		for _, e := range b.Shape {
			subExpFree(e, out)
		}
		subExpFree(b.Repl, out)
	case OpIota:
		subExpFree(b.N, out)
		subExpFree(b.Start, out)
		subExpFree(b.Stride, out)
	case OpReshape:
		for _, e := range b.NewShape {
			subExpFree(e, out)
		}
		out[b.Arr] = true
	case OpRearrange, OpCopy:
		out[b.Arr] = true
	case OpConcat:
		for _, a := range b.ConcatArrs {
			out[a] = true
		}
	case OpAlloc:
		subExpFree(b.AllocSize, out)
	case OpPartition:
		out[b.Flags] = true
		for _, a := range b.PartArrs {
			out[a] = true
		}
	}
}

// FreeVarsInBody computes the set of names free in a body: used by the
// simplifier's usage table and remove-unused-map-input rule, by the SOACS
// and Kernels OpFreeVars hooks, and by the pipeline's scoped-use check.
func FreeVarsInBody[Dec any, Op any](b Body[Dec, Op], opFree OpFreeVarsFunc[Op]) map[Name]bool {
	out := map[Name]bool{}
	bound := map[Name]bool{}
	for _, s := range b.Stms {
		freeVarsInExp(s.Exp, opFree, out, bound)
		for _, n := range s.Pattern.Names() {
			bound[n] = true
		}
		for _, n := range s.Pattern.ContextNames() {
			bound[n] = true
		}
	}
	for _, r := range b.Result {
		subExpFree(r, out)
	}
	for n := range bound {
		delete(out, n)
	}
	return out
}

func freeVarsInExp[Dec any, Op any](e Exp[Dec, Op], opFree OpFreeVarsFunc[Op], out, bound map[Name]bool) {
	switch e.Kind {
	case EBasicOp:
		basicOpFree(e.Basic, out)
	case EApply:
		for _, a := range e.Args {
			subExpFree(a, out)
		}
	case EIf:
		subExpFree(e.Cond, out)
		if e.True != nil {
			mergeFree(out, FreeVarsInBody(*e.True, opFree))
		}
		if e.False != nil {
			mergeFree(out, FreeVarsInBody(*e.False, opFree))
		}
	case EDoLoop:
		for _, i := range e.MergeInit {
			subExpFree(i, out)
		}
		if e.Form.IsWhile {
			out[e.Form.Cond] = true
		} else {
			subExpFree(e.Form.Bound, out)
		}
		if e.LoopBody != nil {
			inner := FreeVarsInBody(*e.LoopBody, opFree)
			for _, p := range e.MergeParams {
				delete(inner, p.Name)
			}
			if !e.Form.IsWhile {
				delete(inner, e.Form.Index.Name)
			}
			mergeFree(out, inner)
		}
	case EOp:
		if e.Op != nil && opFree != nil {
			for _, n := range opFree(*e.Op) {
				out[n] = true
			}
		}
	}
}

func mergeFree(dst, src map[Name]bool) {
	for n := range src {
		dst[n] = true
	}
}
