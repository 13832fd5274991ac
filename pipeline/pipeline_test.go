package pipeline

import (
	"strings"
	"testing"

	"farc/config"
	"farc/impgen"
	"farc/ir"
	"farc/kernels"
	"farc/soacs"
)

func runExample(t *testing.T, name string) Result {
	t.Helper()
	prog, names, err := ExampleProgram(name)
	if err != nil {
		t.Fatalf("ExampleProgram(%q): %v", name, err)
	}
	cfg := config.New()
	res, err := Run(cfg, names, &impgen.Ops{}, prog)
	if err != nil {
		t.Fatalf("Run(%q): %v", name, err)
	}
	return res
}

// TestExampleProgramsLowerEndToEnd exercises the literal
// end-to-end scenarios: every example program must make it all the way
// from SOACS to ImpCode without a pass rejecting it.
func TestExampleProgramsLowerEndToEnd(t *testing.T) {
	for _, name := range Names() {
		name := name
		t.Run(name, func(t *testing.T) {
			res := runExample(t, name)
			if len(res.Imp.Funs) != 1 {
				t.Fatalf("expected exactly one ImpCode function, got %d", len(res.Imp.Funs))
			}
			if len(res.Imp.Funs[0].Body) == 0 {
				t.Fatalf("expected a non-empty ImpCode body")
			}
		})
	}
}

// TestReduceSumLowersToKernelLaunch checks the reduce-sum scenario
// specifically produces the two-stage blocked-reduction kernel pair
// rather than falling back to a sequential loop, since its fold lambda
// ((+) over a plain array) is exactly the balanced case that lowering targets.
func TestReduceSumLowersToKernelLaunch(t *testing.T) {
	res := runExample(t, "reduce-sum")
	if !containsLaunch(res.Imp.Funs[0].Body) {
		t.Fatalf("expected reduce-sum's ImpCode to contain a kernel-launch Op statement")
	}
}

// TestReduceSumKernelGeometry guards the wrong-answer regressions the
// structural assertions above cannot see: under the default tuning the
// reduction must launch num_chunks*group_size threads (not num_chunks
// alone), and the per-thread chunk width must be the ceiling of
// width/num_threads — a truncating width/num_threads with the default
// 8192-thread complement over a width-4 input gives every thread a
// zero-length chunk and computes 0 instead of 10.
func TestReduceSumKernelGeometry(t *testing.T) {
	res := runExample(t, "reduce-sum")

	var rk *kernels.ReduceKernel
	for _, s := range res.Kernels.Funs[0].Body.Stms {
		if s.Exp.Kind == ir.EOp && s.Exp.Op != nil && s.Exp.Op.Kind == kernels.OReduceKernel {
			rk = s.Exp.Op.ReduceKernel
		}
	}
	if rk == nil {
		t.Fatalf("expected reduce-sum to lower to a ReduceKernel")
	}

	cfg := config.New()
	want := int64(cfg.DefaultNumChunks) * int64(cfg.DefaultGroupSize)
	if !rk.NumThreads.IsConst() || rk.NumThreads.Const.IntVal != want {
		t.Fatalf("NumThreads = %v, want num_chunks*group_size = %d", rk.NumThreads, want)
	}
	if !rk.GroupSize.IsConst() || rk.GroupSize.Const.IntVal != int64(cfg.DefaultGroupSize) {
		t.Fatalf("GroupSize = %v, want %d", rk.GroupSize, cfg.DefaultGroupSize)
	}

	// The chunk-width division's numerator must be a padded temporary
	// (width + num_threads - 1), never the raw width.
	var sawCeilingDiv bool
	for _, s := range rk.PerThread.Body.Stms {
		if s.Exp.Kind != ir.EBasicOp {
			continue
		}
		b := s.Exp.Basic
		if b.Kind == ir.OpBinOp && b.BinOp == ir.Div && b.Y.IsConst() && b.Y.Const.IntVal == want {
			if b.X.IsConst() {
				t.Fatalf("chunk width divides the raw width (truncating), want the padded ceiling form")
			}
			sawCeilingDiv = true
		}
	}
	if !sawCeilingDiv {
		t.Fatalf("expected a ceiling-division chunk-width computation in the per-thread kernel body")
	}
}

// TestMapIDSimplifiesToACopy checks that an identity map is eliminated by
// the simplifier (lift-identity-map) before extraction ever sees it: the
// result is forwarded from the input array, which ImpGen lowers to a bulk
// copy rather than a kernel launch.
func TestMapIDSimplifiesToACopy(t *testing.T) {
	res := runExample(t, "map-id")
	if containsLaunch(res.Imp.Funs[0].Body) {
		t.Fatalf("an identity map should simplify away, not launch a kernel")
	}
	if !containsOp(res.Imp.Funs[0].Body, impgen.SCopy) {
		t.Fatalf("expected map-id's ImpCode to contain a bulk Copy of the forwarded input")
	}
}

// TestMapIncLowersToKernelLaunch checks that a map doing real per-element
// work — balanced, with no nested parallel construct — gets distributed
// into a flat Kernel rather than falling back to a sequential loop.
func TestMapIncLowersToKernelLaunch(t *testing.T) {
	res := runExample(t, "map-inc")
	if !containsLaunch(res.Imp.Funs[0].Body) {
		t.Fatalf("expected map-inc's ImpCode to contain a kernel-launch Op statement")
	}
}

// TestScanPlusAndFilterEvenLowerSequentially checks that scan and filter —
// intentionally left undistributed (only Map/Reduce/Redomap are
// extracted) — still reach ImpCode via the sequential
// SOAC fallback (impgen/soacfallback.go), producing a For loop nest rather
// than an Op kernel launch.
func TestScanPlusAndFilterEvenLowerSequentially(t *testing.T) {
	for _, name := range []string{"scan-plus", "filter-even"} {
		res := runExample(t, name)
		if containsLaunch(res.Imp.Funs[0].Body) {
			t.Fatalf("%s: expected a sequential loop, not a kernel launch", name)
		}
		if !containsOp(res.Imp.Funs[0].Body, impgen.SFor) {
			t.Fatalf("%s: expected at least one For loop in the sequential lowering", name)
		}
	}
}

// containsLaunch distinguishes a genuine kernel-launch Op from the other
// opaque Ops ImpGen emits (function returns, assertions), which share the
// SOp statement kind but not a launch label.
func containsLaunch(code []impgen.Code) bool {
	for _, c := range code {
		if c.Kind == impgen.SOp && (c.OpName == "kernel" || strings.HasPrefix(c.OpName, "reduce_")) {
			return true
		}
		if containsLaunch(c.Body) || containsLaunch(c.True) || containsLaunch(c.False) {
			return true
		}
	}
	return false
}

func containsOp(code []impgen.Code, kind impgen.StmKind) bool {
	for _, c := range code {
		if c.Kind == kind {
			return true
		}
		if containsOp(c.Body, kind) || containsOp(c.True, kind) || containsOp(c.False, kind) {
			return true
		}
	}
	return false
}

// TestGloballyUniqueRejectsDuplicateNames exercises the globally-unique
// validator directly: a hand-built program with
// two bindings sharing the same underlying name must fail validation, while
// an unmodified example program validates cleanly.
func TestGloballyUniqueRejectsDuplicateNames(t *testing.T) {
	prog, _, err := ExampleProgram("map-id")
	if err != nil {
		t.Fatalf("ExampleProgram: %v", err)
	}
	if err := validateSOACS(prog); err != nil {
		t.Fatalf("unmodified example should validate cleanly: %v", err)
	}

	dup := prog.Funs[0].Body.Stms[0].Pattern.Elems[0].Name
	bogus := soacs.Stm{
		Pattern: ir.Singleton(dup, ir.PrimT(ir.I32)),
		Exp:     ir.BasicExp[ir.Type, soacs.SOAC](ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Const(ir.IntConst(ir.W32, 0))}),
	}
	prog.Funs[0].Body.Stms = append(prog.Funs[0].Body.Stms, bogus)

	if err := validateSOACS(prog); err == nil {
		t.Fatalf("expected a globally-unique violation after rebinding %v", dup)
	}
}
