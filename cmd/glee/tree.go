package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/glee/v2"
)

// TreeCommand represents a command for printing the path tree after a
// bounded number of steps as a Graphviz DOT file.
type TreeCommand struct {
	Stdout io.Writer
}

// NewTreeCommand returns a new instance of TreeCommand.
func NewTreeCommand() *TreeCommand {
	return &TreeCommand{Stdout: os.Stdout}
}

// Run executes the "tree" subcommand.
func (cmd *TreeCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("glee-tree", flag.ContinueOnError)
	opt := registerOptions(fs)
	steps := fs.Int("steps", 1000, "number of instructions to execute")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 1 {
		return fmt.Errorf("exactly one package required")
	}

	config, err := opt.Config()
	if err != nil {
		return err
	}
	e, closer, err := opt.NewExecutor(fs.Arg(0), config)
	if err != nil {
		return err
	}
	defer closer.Close()

	for i := 0; i < *steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		} else if _, err := e.Step(ctx); err == glee.ErrNoStates {
			break
		} else if err != nil {
			return err
		}
	}

	if e.PTree().Root == nil {
		return fmt.Errorf("every path terminated within %d steps", *steps)
	}
	_, err = io.WriteString(cmd.Stdout, e.PTree().DOT(fs.Arg(0)))
	return err
}

func (cmd *TreeCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: glee tree [arguments] [package]

Arguments:

	-steps N
	    Number of instructions to execute before printing. Defaults to 1000.
`[1:]+optionsUsage)
}
