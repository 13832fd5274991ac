package soacs

import (
	"farc/config"
	"farc/ferrors"
	"farc/ir"
	"farc/namesrc"
)

const passName = "soacs.simplify"

// usedAfter reports which names among `names` are mentioned by the
// statements from index `from` onward plus the body's result — this is
// the usage table bottom-up rules receive, answering "which outputs of
// this expression were actually consumed".
func usedAfter(stms []Stm, result []ir.SubExp, from int) map[ir.Name]bool {
	suffix := Body{Stms: append([]Stm(nil), stms[from:]...), Result: result}
	return ir.FreeVarsInBody(suffix, OpFreeVars)
}

// Simplify repeatedly applies the rewrite rules in simplify.go to body
// until fixpoint, recursing into nested lambda bodies first (bottom-up).
// The fixpoint is capped at cfg.SimplifyFixpointFactor * initial binding
// count; exceeding it is an internal invariant violation rather than an
// infinite loop.
func Simplify(cfg *config.Config, names *namesrc.Source, sc *SimplifyScope, body Body) (Body, error) {
	iterCap := cfg.SimplifyFixpointFactor * (len(body.Stms) + 1)
	cur := body
	for iter := 0; ; iter++ {
		if iter > iterCap {
			return Body{}, ferrors.Internal(passName, nil, "simplifier exceeded fixpoint cap (%d) — a rule is almost certainly cycling", iterCap)
		}
		next, changed, err := simplifyOnce(cfg, names, sc, cur)
		if err != nil {
			return Body{}, err
		}
		if !changed {
			return next, nil
		}
		cur = next
	}
}

// SimplifyScope supplies the outer-scope lookup the rules need to decide
// whether a variable referenced by a lambda result is free in the
// enclosing scope (lift-identity-map) rather than merely a name the
// simplifier hasn't seen bound locally.
type SimplifyScope struct {
	OuterBound map[ir.Name]bool
}

func simplifyOnce(cfg *config.Config, names *namesrc.Source, sc *SimplifyScope, body Body) (Body, bool, error) {
	changed := false

	// Recurse into nested lambda bodies first: a rule only fires on a
	// subtree after that subtree is itself already simplified.
	rewritten := make([]Stm, len(body.Stms))
	for i, stm := range body.Stms {
		ns, err := simplifyNestedLambdas(cfg, names, sc, stm)
		if err != nil {
			return Body{}, false, err
		}
		rewritten[i] = ns
	}
	body = Body{Stms: rewritten, Result: body.Result}

	defs := map[ir.Name]Exp{}
	var out []Stm
	for i, stm := range body.Stms {
		usage := usedAfter(body.Stms, body.Result, i+1)

		newStms, fired, err := applyRules(cfg, names, sc, defs, stm, usage)
		if err != nil {
			return Body{}, false, err
		}
		if fired {
			changed = true
			for _, s := range newStms {
				for _, e := range s.Pattern.Elems {
					defs[e.Name] = s.Exp
				}
				out = append(out, s)
			}
			continue
		}
		for _, e := range stm.Pattern.Elems {
			defs[e.Name] = stm.Exp
		}
		out = append(out, stm)
	}
	return Body{Stms: out, Result: body.Result}, changed, nil
}

func simplifyNestedLambdas(cfg *config.Config, names *namesrc.Source, sc *SimplifyScope, stm Stm) (Stm, error) {
	if stm.Exp.Kind != ir.EOp || stm.Exp.Op == nil {
		return stm, nil
	}
	op := *stm.Exp.Op
	for _, l := range []**ir.Lambda[Dec, SOAC]{&op.Lambda, &op.FoldLambda, &op.MapLambda} {
		if *l == nil {
			continue
		}
		nb, err := Simplify(cfg, names, sc, (*l).Body)
		if err != nil {
			return Stm{}, err
		}
		lam := **l
		lam.Body = nb
		*l = &lam
	}
	stm.Exp.Op = &op
	return stm, nil
}

// applyRules tries each rule in turn against stm, returning the
// replacement statement list if one fired.
func applyRules(cfg *config.Config, names *namesrc.Source, sc *SimplifyScope, defs map[ir.Name]Exp, stm Stm, usage map[ir.Name]bool) ([]Stm, bool, error) {
	rules := []func(*config.Config, *namesrc.Source, *SimplifyScope, map[ir.Name]Exp, Stm, map[ir.Name]bool) ([]Stm, bool, error){
		ruleDeadMap,
		ruleRemoveUnnecessaryCopy,
		ruleRemoveUnusedMapInput,
		ruleRemoveReplicateMap,
		ruleLiftIdentityMap,
		ruleClosedFormReduce,
	}
	for _, r := range rules {
		out, fired, err := r(cfg, names, sc, defs, stm, usage)
		if err != nil {
			return nil, false, err
		}
		if fired {
			return out, true, nil
		}
	}
	return nil, false, nil
}

func isAlive(pat ir.Pattern[Dec], usage map[ir.Name]bool) bool {
	for _, e := range pat.Elems {
		if usage[e.Name] {
			return true
		}
	}
	return false
}

// ruleDeadMap deletes a SOAC binding none of whose outputs are used.
// Applies uniformly to every SOAC kind, not just map — an unused
// reduce/scan/filter/stream is equally dead.
func ruleDeadMap(_ *config.Config, _ *namesrc.Source, _ *SimplifyScope, _ map[ir.Name]Exp, stm Stm, usage map[ir.Name]bool) ([]Stm, bool, error) {
	if stm.Exp.Kind != ir.EOp {
		return nil, false, nil
	}
	if isAlive(stm.Pattern, usage) {
		return nil, false, nil
	}
	return []Stm{}, true, nil
}

// ruleRemoveUnnecessaryCopy turns `copy x` into `x` when x is a primitive
// (non-array) value, which can never alias anything.
func ruleRemoveUnnecessaryCopy(_ *config.Config, _ *namesrc.Source, _ *SimplifyScope, _ map[ir.Name]Exp, stm Stm, _ map[ir.Name]bool) ([]Stm, bool, error) {
	if stm.Exp.Kind != ir.EBasicOp || stm.Exp.Basic.Kind != ir.OpCopy {
		return nil, false, nil
	}
	if len(stm.Pattern.Elems) != 1 {
		return nil, false, nil
	}
	if stm.Pattern.Elems[0].Dec.IsArray() {
		return nil, false, nil
	}
	newStm := Stm{
		Pattern: stm.Pattern,
		Aux:     stm.Aux,
		Exp:     ir.BasicExp[Dec, SOAC](ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Var(stm.Exp.Basic.Arr)}),
	}
	return []Stm{newStm}, true, nil
}

// ruleRemoveUnusedMapInput drops any map input whose corresponding lambda
// parameter is unused in the body.
func ruleRemoveUnusedMapInput(_ *config.Config, _ *namesrc.Source, _ *SimplifyScope, _ map[ir.Name]Exp, stm Stm, _ map[ir.Name]bool) ([]Stm, bool, error) {
	if stm.Exp.Kind != ir.EOp || stm.Exp.Op == nil {
		return nil, false, nil
	}
	op := *stm.Exp.Op
	if op.Kind != KMap || op.Lambda == nil {
		return nil, false, nil
	}
	free := ir.FreeVarsInBody(op.Lambda.Body, OpFreeVars)
	keepIdx := make([]int, 0, len(op.Lambda.Params))
	for i, p := range op.Lambda.Params {
		if free[p.Name] {
			keepIdx = append(keepIdx, i)
		}
	}
	if len(keepIdx) == len(op.Lambda.Params) {
		return nil, false, nil
	}
	newLambda := *op.Lambda
	newParams := make([]ir.Param[Dec], len(keepIdx))
	newInputs := make([]ir.Name, len(keepIdx))
	for j, i := range keepIdx {
		newParams[j] = op.Lambda.Params[i]
		newInputs[j] = op.Inputs[i]
	}
	newLambda.Params = newParams
	op.Lambda = &newLambda
	op.Inputs = newInputs
	newStm := stm
	newStm.Exp.Op = &op
	return []Stm{newStm}, true, nil
}

// ruleRemoveReplicateMap lifts a replicate's scalar out of the lambda when
// one of a map's inputs is bound to `replicate n v`, dropping that input
// and substituting the corresponding parameter with the free variable v
// inside the lambda body.
func ruleRemoveReplicateMap(_ *config.Config, _ *namesrc.Source, _ *SimplifyScope, defs map[ir.Name]Exp, stm Stm, _ map[ir.Name]bool) ([]Stm, bool, error) {
	if stm.Exp.Kind != ir.EOp || stm.Exp.Op == nil {
		return nil, false, nil
	}
	op := *stm.Exp.Op
	if op.Kind != KMap || op.Lambda == nil {
		return nil, false, nil
	}
	for i, input := range op.Inputs {
		def, ok := defs[input]
		if !ok || def.Kind != ir.EBasicOp || def.Basic.Kind != ir.OpReplicate {
			continue
		}
		param := op.Lambda.Params[i]
		newLambda := *op.Lambda
		newLambda.Body = substituteBody(newLambda.Body, param.Name, def.Basic.Repl)
		newLambda.Params = append(append([]ir.Param[Dec]{}, op.Lambda.Params[:i]...), op.Lambda.Params[i+1:]...)
		newInputs := append(append([]ir.Name{}, op.Inputs[:i]...), op.Inputs[i+1:]...)
		op.Lambda = &newLambda
		op.Inputs = newInputs
		newStm := stm
		newStm.Exp.Op = &op
		return []Stm{newStm}, true, nil
	}
	return nil, false, nil
}

// ruleLiftIdentityMap lifts a map output that is either its lambda's
// matching parameter (an identity pass-through, replaced by forwarding the
// corresponding input array) or a variable free in the enclosing scope
// (replaced by a `replicate` emitted outside the map), shrinking the map's
// return arity. The lifted binding keeps the pattern element's original
// name so downstream uses are untouched.
func ruleLiftIdentityMap(_ *config.Config, _ *namesrc.Source, sc *SimplifyScope, _ map[ir.Name]Exp, stm Stm, _ map[ir.Name]bool) ([]Stm, bool, error) {
	if stm.Exp.Kind != ir.EOp || stm.Exp.Op == nil {
		return nil, false, nil
	}
	op := *stm.Exp.Op
	if op.Kind != KMap || op.Lambda == nil {
		return nil, false, nil
	}
	lifted := -1
	var liftedExp ir.BasicOp
	for i, r := range op.Lambda.Body.Result {
		if r.IsConst() {
			continue
		}
		if i < len(op.Lambda.Params) && i < len(op.Inputs) && r.Var.Equal(op.Lambda.Params[i].Name) {
			lifted = i
			liftedExp = ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Var(op.Inputs[i])}
			break
		}
		if sc != nil && sc.OuterBound[r.Var] {
			lifted = i
			liftedExp = ir.BasicOp{
				Kind:  ir.OpReplicate,
				Shape: []ir.SubExp{op.Width},
				Repl:  r,
			}
			break
		}
	}
	if lifted < 0 {
		return nil, false, nil
	}

	replStm := Stm{
		Pattern: ir.Singleton(stm.Pattern.Elems[lifted].Name, stm.Pattern.Elems[lifted].Dec),
		Exp:     ir.BasicExp[Dec, SOAC](liftedExp),
	}

	newLambda := *op.Lambda
	newLambda.Body.Result = append(append([]ir.SubExp{}, op.Lambda.Body.Result[:lifted]...), op.Lambda.Body.Result[lifted+1:]...)
	newLambda.ReturnType = append(append([]ir.Type{}, op.Lambda.ReturnType[:lifted]...), op.Lambda.ReturnType[lifted+1:]...)
	op.Lambda = &newLambda

	newPat := ir.Pattern[Dec]{
		Elems: append(append([]ir.PatElem[Dec]{}, stm.Pattern.Elems[:lifted]...), stm.Pattern.Elems[lifted+1:]...),
	}
	newStm := stm
	newStm.Pattern = newPat
	newStm.Exp.Op = &op

	if len(newPat.Elems) == 0 {
		return []Stm{replStm}, true, nil
	}
	return []Stm{replStm, newStm}, true, nil
}

// closedFormReduceVersion gates the closed-form rewrite: it reorders the
// additions a sequential fold would perform, so a build pinned below this
// core version keeps the fold's original evaluation order.
const closedFormReduceVersion = "v1.0.0"

// ruleClosedFormReduce replaces a reduce whose fold function is addition
// over a constant-stride iota (or over a replicated constant) with a
// closed-form arithmetic expression.
func ruleClosedFormReduce(cfg *config.Config, names *namesrc.Source, _ *SimplifyScope, defs map[ir.Name]Exp, stm Stm, _ map[ir.Name]bool) ([]Stm, bool, error) {
	if !cfg.RuleEnabled(closedFormReduceVersion) {
		return nil, false, nil
	}
	if stm.Exp.Kind != ir.EOp || stm.Exp.Op == nil {
		return nil, false, nil
	}
	op := *stm.Exp.Op
	if op.Kind != KReduce || op.FoldLambda == nil || len(op.Inputs) != 1 || len(op.Neutral) != 1 {
		return nil, false, nil
	}
	if !isAddLambda(op.FoldLambda) {
		return nil, false, nil
	}
	def, ok := defs[op.Inputs[0]]
	if !ok || def.Kind != ir.EBasicOp {
		return nil, false, nil
	}
	elemType := stm.Pattern.Elems[0].Dec.Prim

	switch def.Basic.Kind {
	case ir.OpIota:
		// sum = neutral + n*start + stride*n*(n-1)/2
		var out []Stm
		emit := func(b ir.BasicOp) ir.SubExp {
			n := names.Fresh("cf")
			out = append(out, Stm{Pattern: ir.Singleton(n, ir.PrimT(elemType)), Exp: ir.BasicExp[Dec, SOAC](b)})
			return ir.Var(n)
		}
		nMinus1 := emit(ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Sub, X: def.Basic.N, Y: ir.Const(ir.IntConst(ir.W64, 1))})
		nTimesNm1 := emit(ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Mul, X: def.Basic.N, Y: nMinus1})
		strideTerm := emit(ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Mul, X: def.Basic.Stride, Y: nTimesNm1})
		strideTerm = emit(ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Div, X: strideTerm, Y: ir.Const(ir.IntConst(ir.W64, 2))})
		startTerm := emit(ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Mul, X: def.Basic.N, Y: def.Basic.Start})
		sum := emit(ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Add, X: startTerm, Y: strideTerm})
		result := emit(ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Add, X: sum, Y: op.Neutral[0]})
		final := Stm{Pattern: stm.Pattern, Exp: ir.BasicExp[Dec, SOAC](ir.BasicOp{Kind: ir.OpSubExp, SubExp: result})}
		out = append(out, final)
		return out, true, nil
	case ir.OpReplicate:
		n := names.Fresh("cf")
		mul := Stm{Pattern: ir.Singleton(n, ir.PrimT(elemType)), Exp: ir.BasicExp[Dec, SOAC](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Mul, X: def.Basic.Shape[0], Y: def.Basic.Repl,
		})}
		final := Stm{Pattern: stm.Pattern, Exp: ir.BasicExp[Dec, SOAC](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(n), Y: op.Neutral[0],
		})}
		return []Stm{mul, final}, true, nil
	}
	return nil, false, nil
}

func isAddLambda(l *ir.Lambda[Dec, SOAC]) bool {
	if len(l.Params) != 2 || len(l.Body.Stms) != 1 || len(l.Body.Result) != 1 {
		return false
	}
	s := l.Body.Stms[0]
	if s.Exp.Kind != ir.EBasicOp || s.Exp.Basic.Kind != ir.OpBinOp || s.Exp.Basic.BinOp != ir.Add {
		return false
	}
	return true
}

// substituteBody replaces every free occurrence of `from` with `to` across
// a body's statements and result, used by ruleRemoveReplicateMap.
func substituteBody(b Body, from ir.Name, to ir.SubExp) Body {
	sub := func(s ir.SubExp) ir.SubExp {
		if !s.IsConst() && s.Var.Equal(from) {
			return to
		}
		return s
	}
	subSlice := func(ss []ir.SubExp) []ir.SubExp {
		out := make([]ir.SubExp, len(ss))
		for i, s := range ss {
			out[i] = sub(s)
		}
		return out
	}
	newStms := make([]Stm, len(b.Stms))
	for i, s := range b.Stms {
		e := s.Exp
		switch e.Kind {
		case ir.EBasicOp:
			bo := e.Basic
			bo.SubExp = sub(bo.SubExp)
			bo.X, bo.Y = sub(bo.X), sub(bo.Y)
			bo.Value = sub(bo.Value)
			bo.Elems = subSlice(bo.Elems)
			bo.Shape = subSlice(bo.Shape)
			bo.Repl = sub(bo.Repl)
			bo.N, bo.Start, bo.Stride = sub(bo.N), sub(bo.Start), sub(bo.Stride)
			bo.NewShape = subSlice(bo.NewShape)
			bo.AllocSize = sub(bo.AllocSize)
			if bo.Arr.Equal(from) && !to.IsConst() {
				bo.Arr = to.Var
			}
			e.Basic = bo
		case ir.EApply:
			e.Args = subSlice(e.Args)
		}
		newStms[i] = ir.Stm[Dec, SOAC]{Pattern: s.Pattern, Aux: s.Aux, Exp: e}
	}
	return Body{Stms: newStms, Result: subSlice(b.Result)}
}
