// Package builder implements the Builder / scope monad:
// thread a name supply, collect emitted bindings, and maintain a scope.
// Bundles mutable compilation state behind a constructor + methods
// instead of a literal monad transformer stack — Go has no do-notation, so the
// "monad" is just a struct threaded by the caller.
package builder

import (
	"farc/ferrors"
	"farc/ir"
	"farc/namesrc"
	"farc/scope"
)

// Typed is the constraint a decoration type must satisfy so Builder can
// answer lookupType without knowing anything else about Dec.
type Typed interface {
	TypeOf() ir.Type
}

// Builder threads the name source and scope across a simplification or
// lowering pass, accumulating bindings emitted via AddStm/LetExp until the
// caller flushes them with CollectStms.
type Builder[Dec Typed, Op any] struct {
	names   *namesrc.Source
	sc      *scope.Scope
	pending []ir.Stm[Dec, Op]
	pass    string // pass name, for error messages only
}

// New creates a Builder over an existing name source and base scope.
func New[Dec Typed, Op any](pass string, names *namesrc.Source, base *scope.Scope) *Builder[Dec, Op] {
	return &Builder[Dec, Op]{names: names, sc: base, pass: pass}
}

// NewName allocates a fresh name via the underlying source.
func (b *Builder[Dec, Op]) NewName(tag string) ir.Name {
	return b.names.Fresh(tag)
}

// Names returns the underlying name source, for passes that need to hand it
// to a nested Builder instantiated over a different (Dec, Op) pair (e.g.
// farc/kernels building a Kernels-level builder from inside a SOACS-level
// pass).
func (b *Builder[Dec, Op]) Names() *namesrc.Source { return b.names }

// Scope returns the builder's current scope (read-only to the caller; use
// LocalScope to extend it).
func (b *Builder[Dec, Op]) Scope() *scope.Scope { return b.sc }

// LookupType resolves a name's type. A miss is a fatal internal-invariant
// violation.
func (b *Builder[Dec, Op]) LookupType(n ir.Name) (ir.Type, error) {
	bind, ok := b.sc.Lookup(n)
	if !ok {
		return ir.Type{}, ferrors.Internal(b.pass, n, "lookup of unbound name")
	}
	dec, ok := bind.Dec.(Typed)
	if !ok {
		return ir.Type{}, ferrors.Internal(b.pass, n, "binding decoration is not Typed")
	}
	return dec.TypeOf(), nil
}

// AddStm appends a single statement to the pending stream and extends the
// scope with its pattern's bindings, so subsequent lookups see it.
func (b *Builder[Dec, Op]) AddStm(stm ir.Stm[Dec, Op]) {
	b.pending = append(b.pending, stm)
	adds := make(map[ir.Name]scope.Binding, len(stm.Pattern.Elems)+len(stm.Pattern.Context))
	for _, e := range stm.Pattern.Elems {
		adds[e.Name] = scope.Binding{Kind: scope.KindLet, Dec: e.Dec}
	}
	for _, e := range stm.Pattern.Context {
		adds[e.Name] = scope.Binding{Kind: scope.KindLet, Dec: e.Dec}
	}
	b.sc = b.sc.Extend(adds)
}

// CollectStms runs m and returns its result together with exactly the
// statements m emitted, in emission order, removing them from the
// builder's own pending stream.
func CollectStms[Dec Typed, Op any, R any](b *Builder[Dec, Op], m func(*Builder[Dec, Op]) (R, error)) (R, []ir.Stm[Dec, Op], error) {
	saved := b.pending
	b.pending = nil
	result, err := m(b)
	collected := b.pending
	b.pending = saved
	return result, collected, err
}

// LocalScope runs m with the scope extended by adds; on return the
// builder's scope reverts to what it was before the call, regardless of
// what m did internally.
func LocalScope[Dec Typed, Op any, R any](b *Builder[Dec, Op], adds map[ir.Name]scope.Binding, m func(*Builder[Dec, Op]) (R, error)) (R, error) {
	outer := b.sc
	b.sc = b.sc.Extend(adds)
	result, err := m(b)
	b.sc = outer
	return result, err
}

// LetExp binds exp under a fresh name tagged desc and returns the name.
func (b *Builder[Dec, Op]) LetExp(desc string, exp ir.Exp[Dec, Op], dec Dec) ir.Name {
	n := b.NewName(desc)
	b.AddStm(ir.Stm[Dec, Op]{Pattern: ir.Singleton(n, dec), Exp: exp})
	return n
}

// LetSubExp binds exp and returns it as a SubExp, except when exp is
// already a trivial SubExp wrapper — in that case it returns the wrapped
// SubExp directly with no binding emitted.
func (b *Builder[Dec, Op]) LetSubExp(desc string, exp ir.Exp[Dec, Op], dec Dec) ir.SubExp {
	if exp.Kind == ir.EBasicOp && exp.Basic.Kind == ir.OpSubExp {
		return exp.Basic.SubExp
	}
	return ir.Var(b.LetExp(desc, exp, dec))
}
