// cmd/farc/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"farc/action"
	"farc/config"
	"farc/diag"
	"farc/impgen"
	"farc/pipeline"
)

const version = "0.1.0"

// commandAliases maps single-letter shorthands to their commands.
var commandAliases = map[string]string{
	"r": "run",
	"l": "list",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		fmt.Println("farc", version)
	case "list":
		listExamples()
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: farc run <example> [action]")
			os.Exit(1)
		}
		actionName := "print"
		if len(args) > 2 {
			actionName = args[2]
		}
		if err := runExample(args[1], actionName); err != nil {
			log.Fatalf("farc: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "farc: unknown command %q\n", cmd)
		showUsage()
		os.Exit(1)
	}
}

// runExample stands in for "parse this file, then run an Action over it"
// (the surface parser lives outside this library): it builds one of the
// built-in example SOACS programs, lowers it through the full pipeline,
// then dispatches the chosen Action over the resulting KernelsMem
// program.
func runExample(name, actionName string) error {
	prog, names, err := pipeline.ExampleProgram(name)
	if err != nil {
		return err
	}

	cfg := config.New(config.WithLogger(diag.New(os.Stderr, false)))

	reg := action.Default()
	reg.Register("impcode", func() action.Action {
		return action.NewImpcodeAction(cfg, names, &impgen.Ops{})
	})

	act, ok := reg.Lookup(actionName)
	if !ok {
		return fmt.Errorf("unknown action %q (known: %s)", actionName, strings.Join(reg.Names(), ", "))
	}

	res, err := pipeline.Run(cfg, names, &impgen.Ops{}, prog)
	if err != nil {
		return fmt.Errorf("run %s: %w", res.RunID, err)
	}

	return act.Run(context.Background(), res.Mem)
}

func listExamples() {
	fmt.Println("built-in examples:")
	for _, name := range pipeline.Names() {
		fmt.Println(" ", name)
	}
}

func showUsage() {
	fmt.Println(`farc - data-parallel array compiler middle-end

Usage:
  farc run <example> [action]   lower a built-in example through the full
                                 pipeline and run an action over it
                                 (actions: print, impcode; default print)
  farc list                     list built-in example programs
  farc version                  print the version
  farc help                     show this message`)
}
