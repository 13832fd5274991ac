// ImpGen is the syntax-directed walk producing ImpCode (impcode.go) from a
// KernelsMem program. Every statement's memory decoration is already known
// (farc/explicitmem, farc/memexpand), so this pass resolves index functions
// to concrete offset expressions and lowers control flow to For/While/If.
// It emits allocations only where the program asks for them (OpAlloc) and
// for the blocks of array-typed loop merge parameters.
package impgen

import (
	"farc/config"
	"farc/explicitmem"
	"farc/ferrors"
	"farc/ir"
	"farc/kernels"
	"farc/namesrc"

	"github.com/llir/llvm/ir/value"
)

const passName = "impgen"

// genFun threads the pieces one function's lowering needs: the name
// source (for loop indices and offset temporaries), the config (default
// space, logging), the backend's operations table, and a running map from
// every name bound so far to its MemDec — populated as the walk proceeds,
// mirroring farc/explicitmem.allocator's own env-as-you-go map.
type genFun struct {
	names *namesrc.Source
	cfg   *config.Config
	ops   *Ops
	dec   map[ir.Name]explicitmem.MemDec
}

// GenProgram lowers every function of a KernelsMem program to ImpCode. ops
// may be nil, in which case every memory-space dispatch falls back to the
// generic inline statement forms (correct for ir.DefaultSpace; a real
// device backend should supply Ops for Device/Local spaces).
func GenProgram(cfg *config.Config, names *namesrc.Source, ops *Ops, prog explicitmem.Program) (Program, error) {
	if ops == nil {
		ops = &Ops{}
	}
	out := Program{}
	for _, fn := range prog.Funs {
		f, err := genFunction(cfg, names, ops, fn)
		if err != nil {
			return Program{}, err
		}
		out.Funs = append(out.Funs, f)
	}
	return out, nil
}

func genFunction(cfg *config.Config, names *namesrc.Source, ops *Ops, fn explicitmem.FunDef) (Function, error) {
	g := &genFun{names: names, cfg: cfg, ops: ops, dec: map[ir.Name]explicitmem.MemDec{}}

	var params []Param
	for _, p := range fn.Params {
		g.dec[p.Name] = p.Dec
		switch {
		case p.Dec.Kind == explicitmem.DecMem:
			params = append(params, Param{Kind: ParamMem, Name: p.Name, Space: p.Dec.Space})
		case !p.Dec.Type.IsArray():
			params = append(params, Param{Kind: ParamScalar, Name: p.Name, Type: p.Dec.Type.Prim})
		}
		// Array-typed value params need no Param entry of their own: their
		// storage is the paired mem param just emitted above, and their
		// shape/index function is carried in g.dec for use at read sites.
	}

	body, err := g.genBody(fn.Body)
	if err != nil {
		return Function{}, err
	}
	body = append(body, g.genReturn(fn.Body.Result)...)

	return Function{Name: fn.Name, Params: params, Body: body}, nil
}

// genReturn lowers a function's final result tuple to a single opaque
// "return" Op. Concrete calling-convention lowering (which register/stack
// slot each result lands in) belongs to a backend; ImpGen's job stops at
// naming the values being returned, matching the documented role of SOp as
// the generic backend-opaque escape hatch (not only for kernel launches).
func (g *genFun) genReturn(results []ir.SubExp) []Code {
	args := make([]value.Value, len(results))
	for i, r := range results {
		args[i] = llvmOperand(r, g.typeOfSubExp(r))
	}
	return []Code{{Kind: SOp, OpName: "return", OpArgs: args}}
}

func (g *genFun) typeOfSubExp(s ir.SubExp) ir.PrimType {
	if s.IsConst() {
		return s.Const.Type
	}
	if d, ok := g.dec[s.Var]; ok && d.Kind == explicitmem.DecValue && !d.Type.IsArray() {
		return d.Type.Prim
	}
	return ir.I64
}

func (g *genFun) genBody(b explicitmem.Body) ([]Code, error) {
	var out []Code
	for _, stm := range b.Stms {
		code, err := g.genStm(stm)
		if err != nil {
			return nil, err
		}
		out = append(out, code...)
	}
	return out, nil
}

func (g *genFun) genStm(stm explicitmem.Stm) ([]Code, error) {
	for _, el := range stm.Pattern.Elems {
		g.dec[el.Name] = el.Dec
	}
	for _, el := range stm.Pattern.Context {
		g.dec[el.Name] = el.Dec
	}

	switch stm.Exp.Kind {
	case ir.EBasicOp:
		return g.genBasicOp(stm.Pattern, stm.Exp.Basic)
	case ir.EApply:
		return g.genApply(stm.Pattern, stm.Exp)
	case ir.EIf:
		return g.genIf(stm.Pattern, stm.Exp)
	case ir.EDoLoop:
		return g.genDoLoop(stm.Pattern, stm.Exp)
	case ir.EOp:
		return g.genOp(stm.Pattern, stm.Exp.Op)
	}
	return nil, ferrors.Internal(passName, nil, "unhandled expression kind %d", stm.Exp.Kind)
}

// genApply lowers a call to another function in the same program to an
// opaque Op statement. A full inliner/call-lowering pass sits above this
// library's scope, which ends at the middle-end IRs; the
// call's operand types are still threaded through so a backend retains
// enough information to emit a real call.
func (g *genFun) genApply(pat ir.Pattern[explicitmem.MemDec], e explicitmem.Exp) ([]Code, error) {
	opArgs := make([]value.Value, len(e.Args))
	for i, a := range e.Args {
		opArgs[i] = llvmOperand(a, g.typeOfSubExp(a))
	}
	var out []Code
	for _, el := range pat.Elems {
		if el.Dec.Kind == explicitmem.DecValue && !el.Dec.Type.IsArray() {
			out = append(out, Code{Kind: SDeclareScalar, Name: el.Name, Type: el.Dec.Type.Prim})
		}
	}
	out = append(out, Code{Kind: SOp, OpName: "call:" + e.FuncName, OpArgs: opArgs})
	return out, nil
}

// genIf lowers a branch. Each arm independently computes its result(s)
// into the memory explicitmem.AllocateProgram already gave that arm (per
// its own documented simplification: every array-producing binding gets
// an independent fresh allocation rather than a full branch-generalised
// one), so genIf's own job is to splice a copy-into-pat step onto the end
// of each arm reconciling the arm's result names with pat's blocks.
func (g *genFun) genIf(pat ir.Pattern[explicitmem.MemDec], e explicitmem.Exp) ([]Code, error) {
	trueCode, err := g.genBody(*e.True)
	if err != nil {
		return nil, err
	}
	trueCode = append(trueCode, g.bindResults(pat, e.True.Result)...)

	falseCode, err := g.genBody(*e.False)
	if err != nil {
		return nil, err
	}
	falseCode = append(falseCode, g.bindResults(pat, e.False.Result)...)

	return []Code{{Kind: SIf, IfCond: e.Cond, True: trueCode, False: falseCode}}, nil
}

// bindResults copies each of an arm's or loop's final result SubExps into
// the corresponding pattern element's own memory/name, for scalars via a
// plain SetScalar and for arrays via a full element copy (emitArrayCopy).
func (g *genFun) bindResults(pat ir.Pattern[explicitmem.MemDec], results []ir.SubExp) []Code {
	var out []Code
	for i, r := range results {
		if i >= len(pat.Elems) {
			break
		}
		dst := pat.Elems[i]
		if dst.Dec.Kind == explicitmem.DecValue && dst.Dec.Type.IsArray() {
			if r.IsConst() {
				continue
			}
			src, ok := g.dec[r.Var]
			if !ok || src.Kind != explicitmem.DecValue {
				continue
			}
			out = append(out, g.emitArrayCopy(dst.Dec.Mem, dst.Dec.IxFun, src.Mem, src.IxFun, dst.Dec.Type.Array.Shape, dst.Dec.Type.Array.Elem)...)
			continue
		}
		out = append(out, Code{Kind: SDeclareScalar, Name: dst.Name, Type: dst.Dec.Type.Prim})
		out = append(out, Code{Kind: SSetScalar, Target: dst.Name, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: r}})
	}
	return out
}

// genDoLoop lowers a bounded For or open-ended While loop. Every array
// merge parameter gets its own persistent block (farc/explicitmem's EDoLoop
// handling allocates one per array merge param, though — unlike
// freshAlloc's prelude for an ordinary array binding — it leaves the
// actual allocation statement to be synthesised here, since only ImpGen
// knows the parameter's static shape is all it needs to size it up front).
// Each iteration's body computes its result(s) into their own fresh
// blocks as usual; genDoLoop's own job is the "copy-to-merge" step —
// splicing a copy of the body's result back into the merge parameter's
// persistent block onto the end of the body, so the next iteration (or
// the loop's final value) reads the update.
func (g *genFun) genDoLoop(pat ir.Pattern[explicitmem.MemDec], e explicitmem.Exp) ([]Code, error) {
	var pre []Code
	for i, p := range e.MergeParams {
		g.dec[p.Name] = p.Dec
		if p.Dec.Kind == explicitmem.DecValue && p.Dec.Type.IsArray() {
			size, sizeCode := g.byteSize(p.Dec.Type.Array.Shape, p.Dec.Type.Array.Elem)
			pre = append(pre, sizeCode...)
			pre = append(pre, g.emitAllocate(p.Dec.Mem, size, ir.DefaultSpace)...)

			init := e.MergeInit[i]
			if !init.IsConst() {
				if src, ok := g.dec[init.Var]; ok && src.Kind == explicitmem.DecValue {
					pre = append(pre, g.emitArrayCopy(p.Dec.Mem, p.Dec.IxFun, src.Mem, src.IxFun, p.Dec.Type.Array.Shape, p.Dec.Type.Array.Elem)...)
				}
			}
			continue
		}
		pre = append(pre,
			Code{Kind: SDeclareScalar, Name: p.Name, Type: p.Dec.Type.Prim},
			Code{Kind: SSetScalar, Target: p.Name, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: e.MergeInit[i]}},
		)
	}

	bodyCode, err := g.genBody(*e.LoopBody)
	if err != nil {
		return nil, err
	}
	bodyCode = append(bodyCode, g.copyBackMergeResults(e.MergeParams, e.LoopBody.Result)...)

	var loop Code
	if e.Form.IsWhile {
		loop = Code{Kind: SWhile, Cond: e.Form.Cond, Body: bodyCode}
	} else {
		g.dec[e.Form.Index.Name] = e.Form.Index.Dec
		loop = Code{Kind: SFor, Index: e.Form.Index.Name, Bound: e.Form.Bound, Body: bodyCode}
	}

	out := append(pre, loop)
	finalResults := make([]ir.SubExp, len(e.MergeParams))
	for i, p := range e.MergeParams {
		finalResults[i] = ir.Var(p.Name)
	}
	out = append(out, g.bindResults(pat, finalResults)...)
	return out, nil
}

// copyBackMergeResults writes each loop iteration's result into the
// corresponding merge parameter's own persistent storage, so the next
// pass through the loop body (or the value read after it exits) observes
// the update. A result already occupying the merge parameter's own block
// (the common case for a loop that never reassigns the array, e.g. one
// only updating a scalar counter alongside it) needs no copy at all.
func (g *genFun) copyBackMergeResults(params []ir.Param[explicitmem.MemDec], results []ir.SubExp) []Code {
	var out []Code
	for i, p := range params {
		if i >= len(results) {
			break
		}
		r := results[i]
		if p.Dec.Kind == explicitmem.DecValue && p.Dec.Type.IsArray() {
			if r.IsConst() {
				continue
			}
			src, ok := g.dec[r.Var]
			if !ok || src.Kind != explicitmem.DecValue || src.Mem.Equal(p.Dec.Mem) {
				continue
			}
			out = append(out, g.emitArrayCopy(p.Dec.Mem, p.Dec.IxFun, src.Mem, src.IxFun, p.Dec.Type.Array.Shape, p.Dec.Type.Array.Elem)...)
			continue
		}
		out = append(out, Code{Kind: SSetScalar, Target: p.Name, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: r}})
	}
	return out
}

// genOp lowers a Kernels-level operation: a Kernel or ReduceKernel becomes
// one (or two) opaque kernel-launch Ops, and a SOAC extraction declined to
// distribute is sequentialised directly (soacfallback.go) — the "fall back
// to emitting the offending binding verbatim" path kernel extraction
// takes, continued one stage further since nothing downstream of ImpGen can still
// lower a SOAC.
func (g *genFun) genOp(pat ir.Pattern[explicitmem.MemDec], op *kernels.KernelOp) ([]Code, error) {
	if op == nil {
		return nil, nil
	}
	switch op.Kind {
	case kernels.OKernel:
		return g.genKernelLaunch(pat, *op.Kernel, "kernel"), nil
	case kernels.OReduceKernel:
		rk := *op.ReduceKernel
		out := g.genKernelLaunch(pat, rk.PerThread, "reduce_per_thread", rk.GroupSize)
		out = append(out, g.genKernelLaunch(pat, rk.Cross, "reduce_cross", rk.GroupSize)...)
		return out, nil
	case kernels.OSOAC:
		if op.SOAC == nil {
			return nil, ferrors.Internal(passName, nil, "OSOAC op with nil SOAC")
		}
		return g.genUndistributedSOAC(pat, *op.SOAC)
	}
	return nil, ferrors.Internal(passName, nil, "unhandled kernel op kind %d", op.Kind)
}

// genKernelLaunch emits a single opaque SOp naming the launch, its thread
// count, any extra launch parameters (a reduction's workgroup size), and
// its input arrays as typed operands. The kernel body itself is
// not walked here: lowering a Kernel's body to an actual GPU source string
// is a concrete-backend concern, and the
// operand list gives a backend everything it needs to locate that body
// (by the launch's label) and its live-in arrays.
func (g *genFun) genKernelLaunch(pat ir.Pattern[explicitmem.MemDec], k kernels.Kernel, label string, extra ...ir.SubExp) []Code {
	args := []value.Value{llvmOperand(k.NumThreads, ir.I64)}
	for _, e := range extra {
		args = append(args, llvmOperand(e, ir.I64))
	}
	for _, in := range k.Inputs {
		if d, ok := g.dec[in.Array]; ok && d.Kind == explicitmem.DecValue {
			args = append(args, llvmOperand(ir.Var(in.Array), d.Type.Array.Elem))
		} else {
			args = append(args, llvmOperand(ir.Var(in.Array), ir.I64))
		}
	}
	return []Code{{Kind: SOp, OpName: label, OpArgs: args}}
}
