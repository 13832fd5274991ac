package scope

import (
	"testing"

	"farc/namesrc"
)

func TestExtendLeavesReceiverUnchanged(t *testing.T) {
	var names namesrc.Source
	n := names.Fresh("x")
	base := Empty()
	extended := base.Extend(map[namesrc.Name]Binding{n: {Kind: KindLet}})

	if base.Len() != 0 {
		t.Fatalf("Extend must not mutate the receiver, base.Len() = %d", base.Len())
	}
	if extended.Len() != 1 {
		t.Fatalf("expected the extended scope to see the new binding, got Len() = %d", extended.Len())
	}
	if _, ok := base.Lookup(n); ok {
		t.Fatalf("the receiver must not see a binding only visible in the extension")
	}
}

func TestLookupMiss(t *testing.T) {
	var names namesrc.Source
	n := names.Fresh("x")
	s := Empty()
	if _, ok := s.Lookup(n); ok {
		t.Fatalf("Lookup on an empty scope must report a miss")
	}
}

func TestNamesIsOrderedByID(t *testing.T) {
	var names namesrc.Source
	a := names.Fresh("a")
	b := names.Fresh("b")
	c := names.Fresh("c")
	s := Empty().Extend(map[namesrc.Name]Binding{
		c: {Kind: KindLet},
		a: {Kind: KindLet},
		b: {Kind: KindLet},
	})
	got := s.Names()
	if len(got) != 3 || got[0].ID() != a.ID() || got[1].ID() != b.ID() || got[2].ID() != c.ID() {
		t.Fatalf("Names() = %v, want ascending id order [%v %v %v]", got, a, b, c)
	}
}

func TestExtendOverridesExistingBinding(t *testing.T) {
	var names namesrc.Source
	n := names.Fresh("x")
	s := Empty().Extend(map[namesrc.Name]Binding{n: {Kind: KindParam}})
	s2 := s.Extend(map[namesrc.Name]Binding{n: {Kind: KindLet}})
	b, ok := s2.Lookup(n)
	if !ok || b.Kind != KindLet {
		t.Fatalf("a later Extend should override an earlier binding for the same name, got %+v", b)
	}
}
