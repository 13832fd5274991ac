// Package action implements the external Action interface:
// a thin CLI surface selecting what to do with a lowered program, and a
// registry of the Actions this library itself provides end-to-end.
// Concrete backend emitters (C/OpenCL/CUDA) live elsewhere; only their
// interface is specified here as a name -> factory registry.
package action

import (
	"context"
	"fmt"

	"github.com/kr/pretty"

	"farc/config"
	"farc/explicitmem"
	"farc/impgen"
	"farc/namesrc"
)

// Level is the IR level an Action expects its input program to already be
// lowered to.
type Level int

const (
	LevelSOACSMem Level = iota
	LevelKernelsMem
)

func (l Level) String() string {
	switch l {
	case LevelSOACSMem:
		return "SOACSMem"
	case LevelKernelsMem:
		return "KernelsMem"
	default:
		return "?level"
	}
}

// Action is { name, description, run: Program -> IOEffect }, specialized
// to the one concrete program representation every pass in this repo
// lowers to (KernelsMem).
type Action interface {
	Name() string
	Description() string
	RequiredLevel() Level
	Run(ctx context.Context, prog explicitmem.Program) error
}

// printAction pretty-prints the KernelsMem IR. This is a real,
// in-core-scope Action (no backend emitter involved): everything it
// touches is this repo's own data.
type printAction struct{}

func (printAction) Name() string          { return "print" }
func (printAction) Description() string   { return "pretty-print the KernelsMem IR" }
func (printAction) RequiredLevel() Level   { return LevelKernelsMem }
func (printAction) Run(_ context.Context, prog explicitmem.Program) error {
	for _, fn := range prog.Funs {
		fmt.Printf("%# v\n", pretty.Formatter(fn))
	}
	return nil
}

// impcodeAction runs ImpGen over the supplied program and prints the
// resulting imperative program, entirely within this library.
type impcodeAction struct {
	cfg   *config.Config
	names *namesrc.Source
	ops   *impgen.Ops
}

// NewImpcodeAction builds the "impcode" Action over a shared config, name
// source, and operations table (the latter supplied by the backend driving
// this Action, even though no concrete backend body lives in this repo).
func NewImpcodeAction(cfg *config.Config, names *namesrc.Source, ops *impgen.Ops) Action {
	return impcodeAction{cfg: cfg, names: names, ops: ops}
}

func (impcodeAction) Name() string        { return "impcode" }
func (impcodeAction) Description() string { return "lower to ImpCode and print it" }
func (impcodeAction) RequiredLevel() Level { return LevelKernelsMem }

func (a impcodeAction) Run(_ context.Context, prog explicitmem.Program) error {
	code, err := impgen.GenProgram(a.cfg, a.names, a.ops, prog)
	if err != nil {
		return err
	}
	for _, fn := range code.Funs {
		fmt.Printf("%# v\n", pretty.Formatter(fn))
	}
	return nil
}
