// Package memexpand implements the coalesce and expand-allocations passes
// that run after farc/explicitmem: rewriting kernel-result index functions
// for coalesced writeback, and hoisting per-thread kernel allocations out
// to a single num_threads-sized block.
package memexpand

import (
	"farc/ir"
	"farc/ixfun"
)

// RebaseEntry is the rule the expand pass installs for one hoisted
// allocation: the kernel's thread index and thread count, which together
// determine how an old index function into the original per-thread block
// re-expresses against the new, num_threads-times-bigger one.
type RebaseEntry struct {
	ThreadIndex ir.Name
	NumThreads  ir.SubExp
}

// Rebase computes the index function a thread uses to address its private
// region of the hoisted block: permute(iota(oldShape ++ [num_threads]),
// [rank, 0..rank-1]) applied at thread_index, so indexing with the
// original (pre-hoist) shape lands in the slice belonging to this thread.
func (e RebaseEntry) Rebase(oldShape []ir.SubExp) (*ixfun.IxFun, error) {
	exprs := make([]*ixfun.Expr, len(oldShape)+1)
	for i, s := range oldShape {
		exprs[i] = ixfun.FromSubExp(s)
	}
	exprs[len(oldShape)] = ixfun.FromSubExp(e.NumThreads)

	rank := len(exprs)
	perm := make([]int, rank)
	perm[0] = rank - 1
	for i := 1; i < rank; i++ {
		perm[i] = i - 1
	}
	permuted, err := ixfun.Iota(exprs).Permute(perm)
	if err != nil {
		return nil, err
	}

	zero := ir.Const(ir.IntConst(ir.W64, 0))
	one := ir.Const(ir.IntConst(ir.W64, 1))
	idxs := make([]ir.DimIndex, rank)
	idxs[0] = ir.Fix(ir.Var(e.ThreadIndex))
	for i := 1; i < rank; i++ {
		idxs[i] = ir.Slice(zero, oldShape[i-1], one)
	}
	return permuted.Slice(idxs)
}

// RebaseMap tracks, per hoisted memory block, the rule needed to re-express
// an index function against the block's new base. Built by ExpandProgram
// and returned to the caller; nothing in this package consumes it further
// since address computation proper belongs to farc/impgen, the only stage
// with a concrete notion of byte offsets into a block.
type RebaseMap map[ir.Name]RebaseEntry
