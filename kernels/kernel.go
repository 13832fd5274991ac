// Package kernels implements the Kernels IR and the two
// passes that populate it from SOACS: kernel extraction (extract.go)
// and blocked reduction (blockedreduce.go).
package kernels

import (
	"farc/ir"
	"farc/soacs"
)

// Dec is unchanged from the SOACS level: a plain Type.
type Dec = ir.Type

// OpKind distinguishes a flat SPMD Kernel, a two-stage ReduceKernel, or a
// SOAC that extraction left undistributed.
type OpKind int

const (
	OKernel OpKind = iota
	OReduceKernel
	OSOAC
)

// KernelInput binds one flat kernel parameter to the array it is read from.
type KernelInput struct {
	Param ir.Param[Dec]
	Array ir.Name
}

// Kernel is a flat SPMD loop: a thread index ranging over [0, NumThreads),
// certified-safe inputs, and a body producing one tuple of results per
// thread.
type Kernel struct {
	ThreadIndex ir.Param[Dec]
	NumThreads  ir.SubExp
	Inputs      []KernelInput
	Body        ir.Body[Dec, KernelOp]
	ReturnType  []ir.Type
}

// ReduceKernel is the two-level reduction of a commutative-associative
// fold: per-thread fold followed by a cross-thread combine. Represented as a single Op so the
// pair can be simplified/allocated/ImpGen'd as one unit; farc/impgen emits
// it as two kernel launches.
type ReduceKernel struct {
	PerThread  Kernel
	NumThreads ir.SubExp
	GroupSize  ir.SubExp
	FoldLambda *ir.Lambda[Dec, KernelOp]
	Neutral    []ir.SubExp
	Cross      Kernel
}

// KernelOp is the Kernels-level operation plugged into ir.Exp's Op slot.
type KernelOp struct {
	Kind         OpKind
	Kernel       *Kernel
	ReduceKernel *ReduceKernel
	SOAC         *soacs.SOAC // OSOAC: undistributed SOAC kept as-is
}

// OpFreeVars implements ir.OpFreeVarsFunc for the Kernels level.
func OpFreeVars(op KernelOp) []ir.Name {
	var out []ir.Name
	add := func(ns ...ir.Name) { out = append(out, ns...) }
	switch op.Kind {
	case OKernel:
		if op.Kernel != nil {
			add(kernelFree(*op.Kernel)...)
		}
	case OReduceKernel:
		if op.ReduceKernel != nil {
			add(kernelFree(op.ReduceKernel.PerThread)...)
			add(kernelFree(op.ReduceKernel.Cross)...)
		}
	case OSOAC:
		if op.SOAC != nil {
			add(soacs.OpFreeVars(*op.SOAC)...)
		}
	}
	return out
}

func kernelFree(k Kernel) []ir.Name {
	free := ir.FreeVarsInBody(k.Body, OpFreeVars)
	delete(free, k.ThreadIndex.Name)
	params := make(map[ir.Name]bool, len(k.Inputs))
	for _, in := range k.Inputs {
		params[in.Param.Name] = true
		delete(free, in.Param.Name)
	}
	for _, in := range k.Inputs {
		// An input whose array carries the kernel's own parameter name is
		// an internally-produced buffer (the cross-combine kernel reading
		// the per-thread partials), not a reference to an outer binding.
		if !params[in.Array] {
			free[in.Array] = true
		}
	}
	if !k.NumThreads.IsConst() {
		free[k.NumThreads.Var] = true
	}
	out := make([]ir.Name, 0, len(free))
	for n := range free {
		out = append(out, n)
	}
	return out
}

// OpBoundVars implements farc/ir.OpBoundVarsFunc for the Kernels level.
func OpBoundVars(op KernelOp) []ir.Name {
	var out []ir.Name
	switch op.Kind {
	case OKernel:
		if op.Kernel != nil {
			out = append(out, kernelBound(*op.Kernel)...)
		}
	case OReduceKernel:
		if op.ReduceKernel != nil {
			out = append(out, kernelBound(op.ReduceKernel.PerThread)...)
			out = append(out, kernelBound(op.ReduceKernel.Cross)...)
			if fl := op.ReduceKernel.FoldLambda; fl != nil {
				for _, p := range fl.Params {
					out = append(out, p.Name)
				}
				out = append(out, ir.BoundVarsInBody(fl.Body, OpBoundVars)...)
			}
		}
	case OSOAC:
		if op.SOAC != nil {
			out = append(out, soacs.OpBoundVars(*op.SOAC)...)
		}
	}
	return out
}

func kernelBound(k Kernel) []ir.Name {
	out := []ir.Name{k.ThreadIndex.Name}
	for _, in := range k.Inputs {
		out = append(out, in.Param.Name)
	}
	out = append(out, ir.BoundVarsInBody(k.Body, OpBoundVars)...)
	return out
}

type Body = ir.Body[Dec, KernelOp]
type Stm = ir.Stm[Dec, KernelOp]
type Exp = ir.Exp[Dec, KernelOp]
type FunDef = ir.FunDef[Dec, KernelOp]
type Program = ir.Program[Dec, KernelOp]

// FromSOAC wraps a SOAC that extraction declined to distribute, kept
// around as a potential target for a later pass rather than discarded.
func FromSOAC(op soacs.SOAC) KernelOp {
	o := op
	return KernelOp{Kind: OSOAC, SOAC: &o}
}
