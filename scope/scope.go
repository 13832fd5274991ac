// Package scope implements the scope / type environment shared by ir and
// builder: a map with explicit push/pop-style extension, snapshotted
// whenever a sub-action (farc/builder.CollectStms) must not leak bindings
// into the caller.
package scope

import (
	"golang.org/x/exp/maps"

	"farc/namesrc"
)

// Kind records what introduced a binding.
type Kind int

const (
	KindParam Kind = iota
	KindLet
	KindLoopIndex
	KindMemory
	KindKernelThread
)

func (k Kind) String() string {
	switch k {
	case KindParam:
		return "param"
	case KindLet:
		return "let"
	case KindLoopIndex:
		return "loop-index"
	case KindMemory:
		return "memory"
	case KindKernelThread:
		return "kernel-thread"
	default:
		return "unknown"
	}
}

// Binding is the per-name scope entry. Dec is left as `interface{}` here
// (the decoration is typed precisely one level up, in package ir, which is
// generic over the decoration type); scope only needs to remember the
// binding's kind for diagnostics and lookup-failure messages.
type Binding struct {
	Kind Kind
	Dec  interface{}
}

// Scope is an immutable-from-the-outside extension chain: Extend never
// mutates the receiver, it returns a new Scope whose map is a copy of the
// parent's bindings plus the extension (copy-on-write-at-extend). Entering
// a scope therefore costs O(total scope), and the caller's scope is
// unchanged on return.
type Scope struct {
	bindings map[namesrc.Name]Binding
}

// Empty returns the empty scope.
func Empty() *Scope {
	return &Scope{bindings: map[namesrc.Name]Binding{}}
}

// Extend returns a new Scope containing the receiver's bindings plus adds,
// leaving the receiver untouched.
func (s *Scope) Extend(adds map[namesrc.Name]Binding) *Scope {
	merged := make(map[namesrc.Name]Binding, len(s.bindings)+len(adds))
	maps.Copy(merged, s.bindings)
	maps.Copy(merged, adds)
	return &Scope{bindings: merged}
}

// Lookup finds a binding. A miss is a fatal internal-invariant violation;
// callers convert the bool into a ferrors.Internal at the call site where
// the offending expression is available for pretty-printing.
func (s *Scope) Lookup(n namesrc.Name) (Binding, bool) {
	b, ok := s.bindings[n]
	return b, ok
}

// Names returns the scope's bound names in deterministic (insertion-order
// independent, but stable-per-call) order, used for diagnostics that must
// not depend on Go's randomized map iteration.
func (s *Scope) Names() []namesrc.Name {
	ks := maps.Keys(s.bindings)
	// Sort by numeric id for determinism; names carry no other total order.
	for i := 1; i < len(ks); i++ {
		for j := i; j > 0 && ks[j].ID() < ks[j-1].ID(); j-- {
			ks[j], ks[j-1] = ks[j-1], ks[j]
		}
	}
	return ks
}

// Len reports the number of bindings visible in this scope.
func (s *Scope) Len() int { return len(s.bindings) }
