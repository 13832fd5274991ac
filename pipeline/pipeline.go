// Package pipeline wires the passes into one data flow:
// SOACS -> (simplify, kernel extraction, blocked reduction) -> Kernels ->
// (explicit allocations) -> KernelsMem -> (coalesce, expand) -> KernelsMem
// -> (ImpGen) -> ImpCode. Every stage is a plain sequential function call
// (single-threaded and deterministic, every pass a total function modulo
// fatal errors); the only concurrency introduced here runs strictly *after* a
// stage completes, over its read-only well-formedness validators, which
// have no ordering dependency on one another.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"farc/config"
	"farc/explicitmem"
	"farc/ferrors"
	"farc/impgen"
	"farc/ir"
	"farc/kernels"
	"farc/memexpand"
	"farc/namesrc"
	"farc/soacs"
)

// Result is everything a full pipeline run produces, kept around instead
// of just the final ImpCode so an Action (farc/action) can run against an
// earlier stage (e.g. "print" against the KernelsMem level).
type Result struct {
	// RunID correlates every diagnostic emitted during one compilation;
	// stamped once per Run call, never per name (farc/namesrc's own
	// counter remains the per-name identity source).
	RunID string

	Kernels kernels.Program
	Mem     explicitmem.Program
	Rebase  memexpand.RebaseMap
	Imp     impgen.Program
}

// Run drives the full middle-end pipeline over a SOACS program: kernel
// extraction, explicit allocation, coalescing, allocation expansion, and
// ImpCode generation, with every stage's documented well-formedness
// properties checked immediately after it completes.
func Run(cfg *config.Config, names *namesrc.Source, ops *impgen.Ops, prog soacs.Program) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	cfg.Logger.Infof("run %s: starting pipeline over %d function(s)", res.RunID, len(prog.Funs))

	if err := validateSOACS(prog); err != nil {
		return res, ferrors.Wrap("pipeline", ferrors.InternalErr, err, "SOACS input failed validation")
	}

	prog, err := simplifyProgram(cfg, names, prog)
	if err != nil {
		return res, err
	}
	if err := validateSOACS(prog); err != nil {
		return res, ferrors.Wrap("pipeline", ferrors.InternalErr, err, "simplified SOACS failed validation")
	}
	cfg.Logger.Debugf("run %s: SOACS simplification done", res.RunID)

	kprog, err := kernels.ExtractProgram(cfg, names, prog)
	if err != nil {
		return res, err
	}
	if err := validateKernels(kprog); err != nil {
		return res, ferrors.Wrap("pipeline", ferrors.InternalErr, err, "Kernels stage failed validation")
	}
	res.Kernels = kprog
	cfg.Logger.Debugf("run %s: kernel extraction produced %d function(s)", res.RunID, len(kprog.Funs))

	mem, err := explicitmem.AllocateProgram(names, ir.Space(cfg.DefaultSpace), kprog)
	if err != nil {
		return res, err
	}
	if err := validateMem(mem); err != nil {
		return res, ferrors.Wrap("pipeline", ferrors.InternalErr, err, "explicit-allocations stage failed validation")
	}

	mem, err = memexpand.CoalesceProgram(cfg, names, mem)
	if err != nil {
		return res, err
	}
	mem, rebase, err := memexpand.ExpandProgram(cfg, names, mem)
	if err != nil {
		return res, err
	}
	if err := validateMem(mem); err != nil {
		return res, ferrors.Wrap("pipeline", ferrors.InternalErr, err, "coalesce/expand stage failed validation")
	}
	res.Mem = mem
	res.Rebase = rebase
	cfg.Logger.Debugf("run %s: explicit allocations + coalesce/expand done", res.RunID)

	imp, err := impgen.GenProgram(cfg, names, ops, mem)
	if err != nil {
		return res, err
	}
	res.Imp = imp
	cfg.Logger.Infof("run %s: pipeline complete, %d ImpCode function(s)", res.RunID, len(imp.Funs))
	return res, nil
}

// simplifyProgram runs the SOACS rewrite rules over every function
// body before extraction, seeding each function's SimplifyScope with its
// own parameters — the outer-scope bindings the lift-identity-map rule
// consults when deciding whether a lambda result is map-invariant.
func simplifyProgram(cfg *config.Config, names *namesrc.Source, prog soacs.Program) (soacs.Program, error) {
	out := soacs.Program{Funs: make([]soacs.FunDef, len(prog.Funs))}
	for i, fn := range prog.Funs {
		sc := &soacs.SimplifyScope{OuterBound: map[ir.Name]bool{}}
		for _, p := range fn.Params {
			sc.OuterBound[p.Name] = true
		}
		body, err := soacs.Simplify(cfg, names, sc, fn.Body)
		if err != nil {
			return soacs.Program{}, err
		}
		fn.Body = body
		out.Funs[i] = fn
	}
	return out, nil
}

// validators groups the read-only well-formedness checks
// run after a pass: global name uniqueness and scoped-use of every free
// name at every IR level, plus, at KernelsMem, a memory annotation on every
// array binding. No pattern/return arity check is made. They have no
// dependency on one another,
// so runValidators executes them concurrently via errgroup — the one use
// of concurrency in this otherwise single-threaded pipeline.
func runValidators(checks ...func() error) error {
	g, _ := errgroup.WithContext(context.Background())
	for _, c := range checks {
		c := c
		g.Go(c)
	}
	return g.Wait()
}

func validateSOACS(prog soacs.Program) error {
	return runValidators(
		func() error { return checkGloballyUnique(prog.Funs, soacsBound) },
		func() error { return checkScopedUses(prog.Funs, soacs.OpFreeVars) },
	)
}

func validateKernels(prog kernels.Program) error {
	return runValidators(
		func() error { return checkGloballyUnique(prog.Funs, kernelsBound) },
		func() error { return checkScopedUses(prog.Funs, kernels.OpFreeVars) },
	)
}

func validateMem(prog explicitmem.Program) error {
	return runValidators(
		func() error { return checkGloballyUnique(prog.Funs, memBound) },
		func() error { return checkScopedUses(prog.Funs, kernels.OpFreeVars) },
		func() error { return checkMemAnnotated(prog) },
	)
}

func soacsBound(fn soacs.FunDef) []ir.Name {
	return boundInFun(fn, soacs.OpBoundVars)
}

func kernelsBound(fn kernels.FunDef) []ir.Name {
	return boundInFun(fn, kernels.OpBoundVars)
}

func memBound(fn explicitmem.FunDef) []ir.Name {
	return boundInFun(fn, kernels.OpBoundVars)
}

func boundInFun[Dec any, Op any](fn ir.FunDef[Dec, Op], opBound ir.OpBoundVarsFunc[Op]) []ir.Name {
	out := make([]ir.Name, 0, len(fn.Params))
	for _, p := range fn.Params {
		out = append(out, p.Name)
	}
	return append(out, ir.BoundVarsInBody(fn.Body, opBound)...)
}

// checkGloballyUnique enforces global uniqueness: no two distinct
// bindings anywhere in the program share the same name.
func checkGloballyUnique[Dec any, Op any](funs []ir.FunDef[Dec, Op], boundOf func(ir.FunDef[Dec, Op]) []ir.Name) error {
	seen := map[uint64]ir.Name{}
	for _, fn := range funs {
		for _, n := range boundOf(fn) {
			if prev, ok := seen[n.ID()]; ok {
				return ferrors.Internal("pipeline.globallyUnique", nil,
					"name %q bound twice (previously as %q) in function %q", n, prev, fn.Name)
			}
			seen[n.ID()] = n
		}
	}
	return nil
}

// checkScopedUses enforces scoped use: every free name in every
// function body is bound by one of that function's own parameters (a
// closed top-level program has no other source of a free name reaching a
// function body — everything else a pass might reference is bound
// somewhere inside the body itself, which farc/ir.FreeVarsInBody already
// subtracts).
func checkScopedUses[Dec any, Op any](funs []ir.FunDef[Dec, Op], opFree ir.OpFreeVarsFunc[Op]) error {
	for _, fn := range funs {
		bound := map[uint64]bool{}
		for _, p := range fn.Params {
			bound[p.Name.ID()] = true
		}
		free := ir.FreeVarsInBody(fn.Body, opFree)
		for n := range free {
			if !bound[n.ID()] {
				return ferrors.Internal("pipeline.scopedUses", nil,
					"name %q free in function %q body but not bound by any parameter", n, fn.Name)
			}
		}
	}
	return nil
}

// checkMemAnnotated enforces that, after explicit
// allocations, every array binding carries a memory annotation.
func checkMemAnnotated(prog explicitmem.Program) error {
	for _, fn := range prog.Funs {
		if err := checkBodyMemAnnotated(fn.Body); err != nil {
			return fmt.Errorf("function %q: %w", fn.Name, err)
		}
	}
	return nil
}

func checkBodyMemAnnotated(b explicitmem.Body) error {
	for _, stm := range b.Stms {
		for _, el := range stm.Pattern.Elems {
			if el.Dec.Kind == explicitmem.DecValue && el.Dec.Type.Kind == ir.TArray && el.Dec.Mem.ID() == 0 {
				return ferrors.Internal("pipeline.memAnnotated", nil,
					"array binding %q has no memory block", el.Name)
			}
		}
		if stm.Exp.True != nil {
			if err := checkBodyMemAnnotated(*stm.Exp.True); err != nil {
				return err
			}
		}
		if stm.Exp.False != nil {
			if err := checkBodyMemAnnotated(*stm.Exp.False); err != nil {
				return err
			}
		}
		if stm.Exp.LoopBody != nil {
			if err := checkBodyMemAnnotated(*stm.Exp.LoopBody); err != nil {
				return err
			}
		}
	}
	return nil
}
