package kernels

import (
	"farc/config"
	"farc/ir"
	"farc/namesrc"
	"farc/soacs"
)

// lowerReduceStm implements the two-stage blocked reduction of a Reduce or
// Redomap SOAC: num_chunks * group_size threads each fold a
// ceiling-divided chunk of the width, then a second kernel combines the
// per-thread partials.
//
// Scan and Filter are intentionally absent here: the chunk-wise strategy
// below only commutes with the operation when each thread's partial result
// can be combined independently of position, which holds for a fold but not
// for an inclusive/exclusive running prefix or a compaction predicate. They
// stay undistributed SOACs until a dedicated pass picks them up.
func (ex *extractor) lowerReduceStm(stm soacs.Stm, op soacs.SOAC) ([]Stm, error) {
	if op.FoldLambda == nil {
		return ex.fallback(stm)
	}
	if !IsBalanced(op.FoldLambda) {
		return ex.fallback(stm)
	}

	rk, err := buildReduceKernel(ex.cfg, ex.names, op)
	if err != nil {
		return ex.fallback(stm)
	}

	kop := KernelOp{Kind: OReduceKernel, ReduceKernel: rk}
	return []Stm{{Pattern: stm.Pattern, Aux: stm.Aux, Exp: ir.OpExp[Dec, KernelOp](kop)}}, nil
}

// buildReduceKernel constructs the PerThread fold kernel and the Cross
// combine kernel sharing op's fold lambda. Each of NumThreads per-thread
// lanes folds its chunk of the input sequentially; the Cross kernel then combines the NumThreads partial
// results down to one value using the very same associative operator.
func buildReduceKernel(cfg *config.Config, names *namesrc.Source, op soacs.SOAC) (*ReduceKernel, error) {
	groupSize := ir.Const(ir.IntConst(ir.W64, int64(cfg.DefaultGroupSize)))
	// num_threads = num_chunks * group_size; both factors are config
	// constants, so the product folds to one constant here.
	numThreads := ir.Const(ir.IntConst(ir.W64, int64(cfg.DefaultNumChunks)*int64(cfg.DefaultGroupSize)))

	perThread, err := buildPerThreadFold(names, op, numThreads)
	if err != nil {
		return nil, err
	}
	cross, err := buildCrossCombine(names, op, numThreads)
	if err != nil {
		return nil, err
	}

	return &ReduceKernel{
		PerThread:  perThread,
		NumThreads: numThreads,
		GroupSize:  groupSize,
		FoldLambda: op.FoldLambda,
		Neutral:    op.Neutral,
		Cross:      cross,
	}, nil
}

// buildPerThreadFold produces a Kernel whose body is a sequential DoLoop
// over this thread's slice of the input, accumulating with op's fold
// lambda starting from the neutral element, and returning the per-thread
// partial.
func buildPerThreadFold(names *namesrc.Source, op soacs.SOAC, numThreads ir.SubExp) (Kernel, error) {
	tid := ir.Param[Dec]{Name: names.Fresh("tid"), Dec: ir.PrimT(ir.I64)}

	accParams := make([]ir.Param[Dec], len(op.FoldLambda.Params)/2)
	for i := range accParams {
		accParams[i] = ir.Param[Dec]{Name: names.Fresh("acc"), Dec: op.FoldLambda.Params[i].Dec}
	}
	idx := ir.Param[Dec]{Name: names.Fresh("i"), Dec: ir.PrimT(ir.I64)}

	// pos = tid*chunkwidth + i: each thread folds its own run of
	// consecutive elements, not the array's first chunk.
	posName := names.Fresh("pos")
	baseName := names.Fresh("chunk_base")
	inbName := names.Fresh("inbounds")
	var chunkStms []Stm
	chunkStms = append(chunkStms,
		Stm{
			Pattern: ir.Singleton[Dec](posName, ir.PrimT(ir.I64)),
			Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
				Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(baseName), Y: ir.Var(idx.Name),
			}),
		},
		Stm{
			Pattern: ir.Singleton[Dec](inbName, ir.PrimT(ir.Bool)),
			Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
				Kind: ir.OpBinOp, BinOp: ir.Lt, X: ir.Var(posName), Y: op.Width,
			}),
		},
	)

	// The element reads and the fold step sit behind a bounds check: with a
	// ceiling-divided chunk width the last thread's chunk may run past the
	// width, and the out-of-range tail must leave the accumulator untouched.
	var thenStms []Stm
	elemNames := make([]ir.SubExp, len(op.Inputs))
	for i, arr := range op.Inputs {
		elemName := names.Fresh("elem")
		thenStms = append(thenStms, Stm{
			Pattern: ir.Singleton[Dec](elemName, accParams[i%len(accParams)].Dec),
			Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
				Kind: ir.OpIndex, Arr: arr, Slice: []ir.DimIndex{ir.Fix(ir.Var(posName))},
			}),
		})
		elemNames[i] = ir.Var(elemName)
	}

	foldArgs := make([]ir.SubExp, 0, len(accParams)+len(elemNames))
	for _, p := range accParams {
		foldArgs = append(foldArgs, ir.Var(p.Name))
	}
	foldArgs = append(foldArgs, elemNames...)

	foldBody, err := inlineLambdaBody(names, op.FoldLambda, foldArgs)
	if err != nil {
		return Kernel{}, err
	}
	thenStms = append(thenStms, foldBody.Stms...)
	thenBody := Body{Stms: thenStms, Result: foldBody.Result}

	elseResults := make([]ir.SubExp, len(accParams))
	for i, p := range accParams {
		elseResults[i] = ir.Var(p.Name)
	}
	elseBody := Body{Result: elseResults}

	accNext := make([]ir.PatElem[Dec], len(accParams))
	loopResults := make([]ir.SubExp, len(accParams))
	for i, p := range accParams {
		n := names.Fresh("acc_next")
		accNext[i] = ir.PatElem[Dec]{Name: n, Dec: p.Dec}
		loopResults[i] = ir.Var(n)
	}
	chunkStms = append(chunkStms, Stm{
		Pattern: ir.Pattern[Dec]{Elems: accNext},
		Exp:     Exp{Kind: ir.EIf, Cond: ir.Var(inbName), True: &thenBody, False: &elseBody},
	})

	// chunkwidth = ceil(width / numThreads), so numThreads*chunkwidth >=
	// width and every element is covered by exactly one thread; the bounds
	// check above absorbs the padded tail.
	nm1Name := names.Fresh("nthreads_m1")
	nm1Stm := Stm{
		Pattern: ir.Singleton[Dec](nm1Name, ir.PrimT(ir.I64)),
		Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Sub, X: numThreads, Y: ir.Const(ir.IntConst(ir.W64, 1)),
		}),
	}
	padName := names.Fresh("width_pad")
	padStm := Stm{
		Pattern: ir.Singleton[Dec](padName, ir.PrimT(ir.I64)),
		Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Add, X: op.Width, Y: ir.Var(nm1Name),
		}),
	}
	chunkwidthName := names.Fresh("chunkwidth")
	chunkwidthStm := Stm{
		Pattern: ir.Singleton[Dec](chunkwidthName, ir.PrimT(ir.I64)),
		Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Div, X: ir.Var(padName), Y: numThreads,
		}),
	}

	baseStm := Stm{
		Pattern: ir.Singleton[Dec](baseName, ir.PrimT(ir.I64)),
		Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Mul, X: ir.Var(tid.Name), Y: ir.Var(chunkwidthName),
		}),
	}

	loopBody := Body{Stms: chunkStms, Result: loopResults}
	loopExp := Exp{
		Kind:        ir.EDoLoop,
		MergeParams: accParams,
		MergeInit:   op.Neutral,
		Form:        ir.LoopForm[Dec]{Index: idx, Bound: ir.Var(chunkwidthName)},
		LoopBody:    &loopBody,
	}
	resultName := names.Fresh("partial")
	kBody := Body{
		Stms: []Stm{
			nm1Stm,
			padStm,
			chunkwidthStm,
			baseStm,
			{Pattern: ir.Singleton[Dec](resultName, op.FoldLambda.ReturnType[0]), Exp: loopExp},
		},
		Result: []ir.SubExp{ir.Var(resultName)},
	}

	var inputs []KernelInput
	for i, arr := range op.Inputs {
		inputs = append(inputs, KernelInput{
			Param: ir.Param[Dec]{Name: names.Fresh("chunk_in"), Dec: accParams[i%len(accParams)].Dec},
			Array: arr,
		})
	}

	return Kernel{
		ThreadIndex: tid,
		NumThreads:  numThreads,
		Inputs:      inputs,
		Body:        kBody,
		ReturnType:  op.FoldLambda.ReturnType,
	}, nil
}

// buildCrossCombine produces the second-stage Kernel: a single thread
// folding the NumThreads per-thread partials down to one value, again
// using op's fold lambda. A single-thread cross step is always correct and
// is the same conservative choice a balanced-but-shallow Kernel nest makes
// elsewhere in this package — a tree-shaped combine is a further
// refinement this pass leaves on the table.
func buildCrossCombine(names *namesrc.Source, op soacs.SOAC, numThreads ir.SubExp) (Kernel, error) {
	tid := ir.Param[Dec]{Name: names.Fresh("ctid"), Dec: ir.PrimT(ir.I64)}
	partials := names.Fresh("partials")

	accParams := make([]ir.Param[Dec], len(op.FoldLambda.Params)/2)
	for i := range accParams {
		accParams[i] = ir.Param[Dec]{Name: names.Fresh("cacc"), Dec: op.FoldLambda.Params[i].Dec}
	}
	idx := ir.Param[Dec]{Name: names.Fresh("j"), Dec: ir.PrimT(ir.I64)}

	elemName := names.Fresh("partial_elem")
	readStm := Stm{
		Pattern: ir.Singleton[Dec](elemName, accParams[0].Dec),
		Exp: ir.BasicExp[Dec, KernelOp](ir.BasicOp{
			Kind: ir.OpIndex, Arr: partials, Slice: []ir.DimIndex{ir.Fix(ir.Var(idx.Name))},
		}),
	}

	foldArgs := make([]ir.SubExp, 0, len(accParams)+1)
	for _, p := range accParams {
		foldArgs = append(foldArgs, ir.Var(p.Name))
	}
	foldArgs = append(foldArgs, ir.Var(elemName))

	foldBody, err := inlineLambdaBody(names, op.FoldLambda, foldArgs)
	if err != nil {
		return Kernel{}, err
	}

	loopBody := Body{Stms: append([]Stm{readStm}, foldBody.Stms...), Result: foldBody.Result}
	loopExp := Exp{
		Kind:        ir.EDoLoop,
		MergeParams: accParams,
		MergeInit:   op.Neutral,
		Form:        ir.LoopForm[Dec]{Index: idx, Bound: numThreads},
		LoopBody:    &loopBody,
	}
	resultName := names.Fresh("combined")
	kBody := Body{
		Stms:   []Stm{{Pattern: ir.Singleton[Dec](resultName, op.FoldLambda.ReturnType[0]), Exp: loopExp}},
		Result: []ir.SubExp{ir.Var(resultName)},
	}

	inputs := []KernelInput{{
		Param: ir.Param[Dec]{Name: partials, Dec: op.FoldLambda.ReturnType[0]},
		Array: partials,
	}}

	return Kernel{
		ThreadIndex: tid,
		NumThreads:  ir.Const(ir.IntConst(ir.W64, 1)),
		Inputs:      inputs,
		Body:        kBody,
		ReturnType:  op.FoldLambda.ReturnType,
	}, nil
}

// inlineLambdaBody substitutes a lambda's parameters with the given
// arguments throughout its body, returning the (renamed-free) body to
// splice directly into a caller's statement list. Arguments that are
// themselves bare variables are substituted without introducing a
// forwarding binding; constants are substituted in place into SubExp
// operands, also without a binding, and Name-typed fields such as Arr are
// left unchanged.
func inlineLambdaBody(names *namesrc.Source, l *ir.Lambda[soacs.Dec, soacs.SOAC], args []ir.SubExp) (Body, error) {
	body, err := convertBodyLevel(l.Body)
	if err != nil {
		return Body{}, err
	}
	for i, p := range l.Params {
		if i >= len(args) {
			break
		}
		arg := args[i]
		if arg.IsConst() {
			body = substituteConstBody(body, p.Name, arg)
		} else {
			body = substituteNameBody(body, p.Name, arg.Var)
		}
	}
	// Each inline site gets its own copy of the lambda's bindings; the
	// bound names are freshened so the per-thread and cross-combine copies
	// (and the lambda retained on the ReduceKernel) never share a binding.
	for si, s := range body.Stms {
		elems := make([]ir.PatElem[Dec], len(s.Pattern.Elems))
		copy(elems, s.Pattern.Elems)
		for ei, el := range elems {
			fresh := names.Fresh(el.Name.Tag)
			rest := substituteNameBody(Body{Stms: body.Stms[si+1:], Result: body.Result}, el.Name, fresh)
			copy(body.Stms[si+1:], rest.Stms)
			body.Result = rest.Result
			elems[ei] = ir.PatElem[Dec]{Name: fresh, Dec: el.Dec}
		}
		body.Stms[si] = Stm{Pattern: ir.Pattern[Dec]{Elems: elems, Context: s.Pattern.Context}, Aux: s.Aux, Exp: s.Exp}
	}
	return body, nil
}

// convertBodyLevel re-types a SOACS body as a Kernels body. Every SOAC
// reduce/redomap lambda's statements are plain BasicOp/Apply/If/DoLoop by
// construction (a lambda supplied to reduce never itself contains a nested
// SOAC worth distributing further), so this is a straight field copy
// rather than a recursive walk through (*extractor).walkBody.
func convertBodyLevel(b soacs.Body) (Body, error) {
	out := make([]Stm, len(b.Stms))
	for i, s := range b.Stms {
		e, err := convertExpLevel(s.Exp)
		if err != nil {
			return Body{}, err
		}
		out[i] = Stm{Pattern: s.Pattern, Aux: s.Aux, Exp: e}
	}
	return Body{Stms: out, Result: b.Result}, nil
}

func convertExpLevel(e soacs.Exp) (Exp, error) {
	switch e.Kind {
	case ir.EBasicOp:
		return ir.BasicExp[Dec, KernelOp](e.Basic), nil
	case ir.EApply:
		return Exp{Kind: ir.EApply, FuncName: e.FuncName, Args: e.Args}, nil
	case ir.EIf:
		t, err := convertBodyLevel(*e.True)
		if err != nil {
			return Exp{}, err
		}
		f, err := convertBodyLevel(*e.False)
		if err != nil {
			return Exp{}, err
		}
		return Exp{Kind: ir.EIf, Cond: e.Cond, True: &t, False: &f, IfSort: ir.IfSort(e.IfSort)}, nil
	case ir.EDoLoop:
		lb, err := convertBodyLevel(*e.LoopBody)
		if err != nil {
			return Exp{}, err
		}
		return Exp{
			Kind: ir.EDoLoop, MergeParams: e.MergeParams, MergeInit: e.MergeInit,
			Form:     ir.LoopForm[Dec]{IsWhile: e.Form.IsWhile, Index: e.Form.Index, Bound: e.Form.Bound, Cond: e.Form.Cond},
			LoopBody: &lb,
		}, nil
	case ir.EOp:
		return Exp{Kind: ir.EOp, Op: &KernelOp{Kind: OSOAC, SOAC: e.Op}}, nil
	}
	return Exp{}, nil
}

func substituteNameBody(b Body, from, to ir.Name) Body {
	out := make([]Stm, len(b.Stms))
	for i, s := range b.Stms {
		out[i] = Stm{Pattern: s.Pattern, Aux: s.Aux, Exp: substituteNameExp(s.Exp, from, to)}
	}
	res := make([]ir.SubExp, len(b.Result))
	for i, r := range b.Result {
		res[i] = substituteNameSubExp(r, from, to)
	}
	return Body{Stms: out, Result: res}
}

func substituteNameSubExp(s ir.SubExp, from, to ir.Name) ir.SubExp {
	if !s.IsConst() && s.Var.Equal(from) {
		return ir.Var(to)
	}
	return s
}

// substituteNameExp covers the EBasicOp shape that an arithmetic fold
// lambda's single combining statement always takes in practice; a fold
// lambda whose body branches or loops internally would need substitution
// to recurse into that nested body too, which this pass does not attempt.
func substituteNameExp(e Exp, from, to ir.Name) Exp {
	switch e.Kind {
	case ir.EBasicOp:
		b := e.Basic
		b.SubExp = substituteNameSubExp(b.SubExp, from, to)
		b.X = substituteNameSubExp(b.X, from, to)
		b.Y = substituteNameSubExp(b.Y, from, to)
		if b.Arr.Equal(from) {
			b.Arr = to
		}
		b.Value = substituteNameSubExp(b.Value, from, to)
		b.Repl = substituteNameSubExp(b.Repl, from, to)
		b.N = substituteNameSubExp(b.N, from, to)
		b.Start = substituteNameSubExp(b.Start, from, to)
		b.Stride = substituteNameSubExp(b.Stride, from, to)
		b.AllocSize = substituteNameSubExp(b.AllocSize, from, to)
		e.Basic = b
		return e
	default:
		return e
	}
}

func substituteConstBody(b Body, from ir.Name, to ir.SubExp) Body {
	out := make([]Stm, len(b.Stms))
	for i, s := range b.Stms {
		out[i] = Stm{Pattern: s.Pattern, Aux: s.Aux, Exp: substituteConstExp(s.Exp, from, to)}
	}
	res := make([]ir.SubExp, len(b.Result))
	for i, r := range b.Result {
		if !r.IsConst() && r.Var.Equal(from) {
			res[i] = to
		} else {
			res[i] = r
		}
	}
	return Body{Stms: out, Result: res}
}

func substituteConstExp(e Exp, from ir.Name, to ir.SubExp) Exp {
	if e.Kind != ir.EBasicOp {
		return e
	}
	sub := func(s ir.SubExp) ir.SubExp {
		if !s.IsConst() && s.Var.Equal(from) {
			return to
		}
		return s
	}
	b := e.Basic
	b.SubExp = sub(b.SubExp)
	b.X = sub(b.X)
	b.Y = sub(b.Y)
	b.Value = sub(b.Value)
	b.Repl = sub(b.Repl)
	b.N = sub(b.N)
	b.Start = sub(b.Start)
	b.Stride = sub(b.Stride)
	b.AllocSize = sub(b.AllocSize)
	e.Basic = b
	return e
}
