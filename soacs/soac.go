// Package soacs implements the SOACS IR: the
// second-order array combinators Map, Reduce, Scan, Filter, Redomap, and
// Stream, plus their simplification rules (simplify.go).
package soacs

import "farc/ir"

// Dec is the SOACS-level per-binding decoration: let-bound names carry a
// type only, with no memory annotation yet.
type Dec = ir.Type

// Kind enumerates the five SOACs plus the sequential Stream.
type Kind int

const (
	KMap Kind = iota
	KReduce
	KScan
	KFilter
	KRedomap
	KStream
)

func (k Kind) String() string {
	switch k {
	case KMap:
		return "map"
	case KReduce:
		return "reduce"
	case KScan:
		return "scan"
	case KFilter:
		return "filter"
	case KRedomap:
		return "redomap"
	case KStream:
		return "stream"
	default:
		return "?soac"
	}
}

// SOAC is the level-specific operation plugged into ir.Exp's Op slot at
// the SOACS level (ir.Exp[Dec, SOAC]).
type SOAC struct {
	Kind Kind

	// Width is the combinator's outer iteration count (the length of
	// Inputs' leading dimension).
	Width ir.SubExp

	// Inputs are the arrays mapped/reduced/scanned/filtered/streamed over.
	Inputs []ir.Name

	// Lambda is map's body, filter's predicate, or stream's per-chunk body.
	Lambda *ir.Lambda[Dec, SOAC]

	// FoldLambda is reduce/scan/redomap's associative combining function.
	FoldLambda *ir.Lambda[Dec, SOAC]

	// Neutral holds the neutral element(s) for reduce/scan/redomap.
	Neutral []ir.SubExp

	// MapLambda is redomap's per-element map stage, applied before
	// FoldLambda folds the results.
	MapLambda *ir.Lambda[Dec, SOAC]

	// ScanExclusive marks an exclusive (as opposed to inclusive) scan.
	ScanExclusive bool
}

// OpFreeVars implements the farc/ir.OpFreeVarsFunc hook so
// ir.FreeVarsInBody can recurse through a SOAC's lambdas.
func OpFreeVars(op SOAC) []ir.Name {
	var out []ir.Name
	seen := map[ir.Name]bool{}
	add := func(n ir.Name) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	if !op.Width.IsConst() {
		add(op.Width.Var)
	}
	for _, n := range op.Inputs {
		add(n)
	}
	for _, se := range op.Neutral {
		if !se.IsConst() {
			add(se.Var)
		}
	}
	for _, l := range []*ir.Lambda[Dec, SOAC]{op.Lambda, op.FoldLambda, op.MapLambda} {
		if l == nil {
			continue
		}
		free := ir.FreeVarsInBody(l.Body, OpFreeVars)
		for _, p := range l.Params {
			delete(free, p.Name)
		}
		for n := range free {
			add(n)
		}
	}
	return out
}

// OpBoundVars implements farc/ir.OpBoundVarsFunc for the SOACS level: every
// lambda parameter plus every name bound within a lambda's body.
func OpBoundVars(op SOAC) []ir.Name {
	var out []ir.Name
	for _, l := range []*ir.Lambda[Dec, SOAC]{op.Lambda, op.FoldLambda, op.MapLambda} {
		if l == nil {
			continue
		}
		for _, p := range l.Params {
			out = append(out, p.Name)
		}
		out = append(out, ir.BoundVarsInBody(l.Body, OpBoundVars)...)
	}
	return out
}

// Body is shorthand for the SOACS-level body type.
type Body = ir.Body[Dec, SOAC]

// Stm is shorthand for the SOACS-level statement type.
type Stm = ir.Stm[Dec, SOAC]

// Exp is shorthand for the SOACS-level expression type.
type Exp = ir.Exp[Dec, SOAC]

// Program/FunDef aliases for the SOACS level.
type FunDef = ir.FunDef[Dec, SOAC]
type Program = ir.Program[Dec, SOAC]
