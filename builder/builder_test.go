package builder

import (
	"testing"

	"farc/ir"
	"farc/namesrc"
	"farc/scope"
)

type noOp struct{}

func newBuilder(names *namesrc.Source) *Builder[ir.Type, noOp] {
	return New[ir.Type, noOp]("test", names, scope.Empty())
}

func constStm(n ir.Name) ir.Stm[ir.Type, noOp] {
	return ir.Stm[ir.Type, noOp]{
		Pattern: ir.Singleton(n, ir.PrimT(ir.I32)),
		Exp: ir.BasicExp[ir.Type, noOp](ir.BasicOp{
			Kind: ir.OpSubExp, SubExp: ir.Const(ir.IntConst(ir.W32, 0)),
		}),
	}
}

func TestCollectStmsReturnsExactlyTheEmittedStms(t *testing.T) {
	var names namesrc.Source
	b := newBuilder(&names)

	outer := names.Fresh("outer")
	b.AddStm(constStm(outer))

	a := names.Fresh("a")
	c := names.Fresh("c")
	_, collected, err := CollectStms(b, func(b *Builder[ir.Type, noOp]) (struct{}, error) {
		b.AddStm(constStm(a))
		b.AddStm(constStm(c))
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("CollectStms: %v", err)
	}
	if len(collected) != 2 {
		t.Fatalf("expected exactly the 2 statements the action emitted, got %d", len(collected))
	}
	if !collected[0].Pattern.Elems[0].Name.Equal(a) || !collected[1].Pattern.Elems[0].Name.Equal(c) {
		t.Fatalf("collected statements out of emission order: %v, %v", collected[0].Pattern.Names(), collected[1].Pattern.Names())
	}
	if len(b.pending) != 1 || !b.pending[0].Pattern.Elems[0].Name.Equal(outer) {
		t.Fatalf("the outer stream must keep only its own statement, got %d pending", len(b.pending))
	}
}

func TestLocalScopeRestoresCallerScope(t *testing.T) {
	var names namesrc.Source
	b := newBuilder(&names)

	n := names.Fresh("x")
	adds := map[ir.Name]scope.Binding{n: {Kind: scope.KindParam, Dec: ir.PrimT(ir.I32)}}
	_, err := LocalScope(b, adds, func(b *Builder[ir.Type, noOp]) (struct{}, error) {
		if _, err := b.LookupType(n); err != nil {
			t.Fatalf("the extension must be visible inside the action: %v", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("LocalScope: %v", err)
	}
	if _, err := b.LookupType(n); err == nil {
		t.Fatalf("the extension must not survive LocalScope's return")
	}
}

func TestLetSubExpOnTrivialSubExpEmitsNothing(t *testing.T) {
	var names namesrc.Source
	b := newBuilder(&names)

	v := ir.Const(ir.IntConst(ir.W32, 7))
	got := b.LetSubExp("tmp", ir.BasicExp[ir.Type, noOp](ir.BasicOp{Kind: ir.OpSubExp, SubExp: v}), ir.PrimT(ir.I32))
	if len(b.pending) != 0 {
		t.Fatalf("a trivial SubExp wrapper must not emit a binding, got %d", len(b.pending))
	}
	if !got.IsConst() || got.Const.IntVal != 7 {
		t.Fatalf("LetSubExp must return the wrapped SubExp unchanged, got %+v", got)
	}
}

func TestLetExpBindsUnderAFreshNameAndExtendsScope(t *testing.T) {
	var names namesrc.Source
	b := newBuilder(&names)

	exp := ir.BasicExp[ir.Type, noOp](ir.BasicOp{
		Kind: ir.OpBinOp, BinOp: ir.Add,
		X: ir.Const(ir.IntConst(ir.W32, 1)), Y: ir.Const(ir.IntConst(ir.W32, 2)),
	})
	n := b.LetExp("sum", exp, ir.PrimT(ir.I32))
	if len(b.pending) != 1 {
		t.Fatalf("LetExp must emit exactly one binding, got %d", len(b.pending))
	}
	typ, err := b.LookupType(n)
	if err != nil {
		t.Fatalf("the fresh binding must be in scope after LetExp: %v", err)
	}
	if typ.Kind != ir.TPrim || typ.Prim != ir.I32 {
		t.Fatalf("LookupType(%v) = %v, want i32", n, typ)
	}
}
