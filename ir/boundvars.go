package ir

// OpBoundVarsFunc is the bound-name counterpart to OpFreeVarsFunc: a
// level-specific hook letting the generic walker descend into a level's Op
// payload (SOAC lambdas, Kernel bodies, ...) when collecting every name a
// program binds, not just the ones it references free. Used by
// farc/pipeline's global-uniqueness validator.
type OpBoundVarsFunc[Op any] func(op Op) []Name

// BoundVarsInBody returns every name bound anywhere within b: pattern
// elements (including existential context), loop indices and merge
// parameters, branch-arm bodies, and whatever opBound reports for the
// level-specific Op payload. Unlike FreeVarsInBody this never subtracts
// anything — every name it finds is, by construction, a binding site.
func BoundVarsInBody[Dec any, Op any](b Body[Dec, Op], opBound OpBoundVarsFunc[Op]) []Name {
	var out []Name
	for _, s := range b.Stms {
		out = append(out, s.Pattern.Names()...)
		out = append(out, s.Pattern.ContextNames()...)
		out = append(out, boundVarsInExp(s.Exp, opBound)...)
	}
	return out
}

func boundVarsInExp[Dec any, Op any](e Exp[Dec, Op], opBound OpBoundVarsFunc[Op]) []Name {
	var out []Name
	switch e.Kind {
	case EIf:
		if e.True != nil {
			out = append(out, BoundVarsInBody(*e.True, opBound)...)
		}
		if e.False != nil {
			out = append(out, BoundVarsInBody(*e.False, opBound)...)
		}
	case EDoLoop:
		for _, p := range e.MergeParams {
			out = append(out, p.Name)
		}
		if !e.Form.IsWhile {
			out = append(out, e.Form.Index.Name)
		}
		if e.LoopBody != nil {
			out = append(out, BoundVarsInBody(*e.LoopBody, opBound)...)
		}
	case EOp:
		if e.Op != nil && opBound != nil {
			out = append(out, opBound(*e.Op)...)
		}
	}
	return out
}
