package action

import "testing"

func TestDefaultRegistersPrint(t *testing.T) {
	r := Default()
	act, ok := r.Lookup("print")
	if !ok {
		t.Fatalf("Default() must register a %q action", "print")
	}
	if act.Name() != "print" {
		t.Fatalf("Name() = %q, want %q", act.Name(), "print")
	}
	if act.RequiredLevel() != LevelKernelsMem {
		t.Fatalf("print's RequiredLevel = %v, want %v", act.RequiredLevel(), LevelKernelsMem)
	}
}

func TestLookupMissReturnsFalse(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("does-not-exist"); ok {
		t.Fatalf("Lookup on an unregistered name must report a miss")
	}
}

func TestRegisterOverwritesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("x", func() Action { return printAction{} })
	r.Register("x", func() Action { return printAction{} })
	if len(r.Names()) != 1 {
		t.Fatalf("re-registering the same name must overwrite, not accumulate: Names() = %v", r.Names())
	}
}

func TestEachLookupCallBuildsAFreshAction(t *testing.T) {
	calls := 0
	r := NewRegistry()
	r.Register("counted", func() Action {
		calls++
		return printAction{}
	})
	r.Lookup("counted")
	r.Lookup("counted")
	if calls != 2 {
		t.Fatalf("Lookup should invoke the factory every call, got %d calls for 2 lookups", calls)
	}
}

func TestLevelString(t *testing.T) {
	if LevelSOACSMem.String() != "SOACSMem" {
		t.Fatalf("LevelSOACSMem.String() = %q", LevelSOACSMem.String())
	}
	if LevelKernelsMem.String() != "KernelsMem" {
		t.Fatalf("LevelKernelsMem.String() = %q", LevelKernelsMem.String())
	}
}
