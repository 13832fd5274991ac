package ferrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIncludesKindAndName(t *testing.T) {
	err := Shape("kernels.extract", "arr_3", "width %d does not divide %d", 5, 17)
	got := err.Error()
	if want := "kernels.extract[ShapeError]: width 5 does not divide 17 (at arr_3)"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorOmitsNameWhenAbsent(t *testing.T) {
	err := Internal("pipeline.globallyUnique", nil, "name bound twice")
	got := err.Error()
	if want := "pipeline.globallyUnique[InternalInvariantViolation]: name bound twice"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestInternalAppendsStringerWhenPresent(t *testing.T) {
	err := Internal("impgen", fmt.Stringer(stringerFunc(func() string { return "x_1" })), "unexpected shape")
	got := err.Error()
	if want := "impgen[InternalInvariantViolation]: unexpected shape: x_1"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

type stringerFunc func() string

func (f stringerFunc) String() string { return f() }

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	root := errors.New("disk full")
	wrapped := Wrap("memexpand.coalesce", InternalErr, root, "coalesce failed")
	if !errors.Is(wrapped, root) {
		t.Fatalf("errors.Is(wrapped, root) should hold through CompileError.Unwrap")
	}
	if Cause(wrapped).Error() != root.Error() {
		t.Fatalf("Cause(wrapped) = %v, want %v", Cause(wrapped), root)
	}
}

func TestEachConstructorUsesItsOwnKind(t *testing.T) {
	cases := []struct {
		name string
		err  *CompileError
		want Kind
	}{
		{"Type", Type("p", "", "x"), TypeErr},
		{"Aliasing", Aliasing("p", "", "x"), AliasingErr},
		{"Shape", Shape("p", "", "x"), ShapeErr},
		{"Distribution", Distribution("p", "", "x"), DistributionErr},
		{"Internal", Internal("p", nil, "x"), InternalErr},
	}
	for _, c := range cases {
		if c.err.Kind != c.want {
			t.Errorf("%s: Kind = %q, want %q", c.name, c.err.Kind, c.want)
		}
	}
}
