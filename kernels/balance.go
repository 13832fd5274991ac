package kernels

import (
	"farc/ir"
	"farc/soacs"
)

// IsBalanced implements the balance predicate: a lambda is
// unbalanced iff its body contains a Map/Reduce/Scan/Redomap whose size
// expression references a name bound inside the lambda, a DoLoop with a
// bound-dependent iteration count, or a WhileLoop. Unbalanced lambdas are
// sequentialised instead of distributed.
func IsBalanced(l *ir.Lambda[soacs.Dec, soacs.SOAC]) bool {
	bound := map[ir.Name]bool{}
	for _, p := range l.Params {
		bound[p.Name] = true
	}
	return bodyBalanced(l.Body, bound)
}

func boundDependent(e ir.SubExp, bound map[ir.Name]bool) bool {
	return !e.IsConst() && bound[e.Var]
}

func bodyBalanced(b soacs.Body, outerBound map[ir.Name]bool) bool {
	bound := make(map[ir.Name]bool, len(outerBound))
	for k, v := range outerBound {
		bound[k] = v
	}
	for _, s := range b.Stms {
		if !stmBalanced(s, bound) {
			return false
		}
		for _, n := range s.Pattern.Names() {
			bound[n] = true
		}
	}
	return true
}

func stmBalanced(s soacs.Stm, bound map[ir.Name]bool) bool {
	switch s.Exp.Kind {
	case ir.EOp:
		if s.Exp.Op == nil {
			return true
		}
		op := *s.Exp.Op
		switch op.Kind {
		case soacs.KMap, soacs.KReduce, soacs.KScan, soacs.KRedomap:
			if boundDependent(op.Width, bound) {
				return false
			}
		}
		return true
	case ir.EDoLoop:
		if s.Exp.Form.IsWhile {
			return false
		}
		if boundDependent(s.Exp.Form.Bound, bound) {
			return false
		}
		if s.Exp.LoopBody != nil {
			loopBound := make(map[ir.Name]bool, len(bound))
			for k, v := range bound {
				loopBound[k] = v
			}
			for _, p := range s.Exp.MergeParams {
				loopBound[p.Name] = true
			}
			loopBound[s.Exp.Form.Index.Name] = true
			return bodyBalanced(*s.Exp.LoopBody, loopBound)
		}
		return true
	default:
		return true
	}
}
