package ir

// StmAux carries per-statement metadata independent of the decoration: the
// certificates it depends on (for bounds/shape checks hoisted by earlier
// passes) and a source-less comment slot used only for pretty-printing.
type StmAux struct {
	Certs   []Name
	Comment string
}

// Stm is a single let-binding: pattern = exp.
type Stm[Dec any, Op any] struct {
	Pattern Pattern[Dec]
	Aux     StmAux
	Exp     Exp[Dec, Op]
}

// Body is an ordered sequence of let-bindings plus a result.
type Body[Dec any, Op any] struct {
	Stms   []Stm[Dec, Op]
	Result []SubExp
}

// BoundNames returns every name bound anywhere in the body's top-level
// statements (not recursing into nested bodies), in binding order.
func (b Body[Dec, Op]) BoundNames() []Name {
	var ns []Name
	for _, s := range b.Stms {
		ns = append(ns, s.Pattern.Names()...)
		ns = append(ns, s.Pattern.ContextNames()...)
	}
	return ns
}
