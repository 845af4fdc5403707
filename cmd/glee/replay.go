package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/glee/v2"
)

// ReplayCommand represents a command for re-executing a program with the
// objects of a test case.
type ReplayCommand struct {
	Stdout io.Writer
}

// NewReplayCommand returns a new instance of ReplayCommand.
func NewReplayCommand() *ReplayCommand {
	return &ReplayCommand{Stdout: os.Stdout}
}

// Run executes the "replay" subcommand.
func (cmd *ReplayCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("glee-replay", flag.ContinueOnError)
	opt := registerOptions(fs)
	testPath := fs.String("test", "", "test case file")
	usePath := fs.Bool("path", false, "follow the recorded branch path")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 1 {
		return fmt.Errorf("exactly one package required")
	} else if *testPath == "" {
		return fmt.Errorf("test case required")
	}

	tc, err := glee.ReadTestCaseFile(*testPath)
	if err != nil {
		return err
	}

	config, err := opt.Config()
	if err != nil {
		return err
	}
	if *usePath {
		config.ReplayPath = tc.Path
	} else {
		config.ReplayOut = tc
	}

	e, closer, err := opt.NewExecutor(fs.Arg(0), config)
	if err != nil {
		return err
	}
	defer closer.Close()

	e.Handler = glee.HandlerFunc(func(state *glee.ExecutionState, tc *glee.TestCase) error {
		if tc.Suffix == "" {
			fmt.Fprintf(cmd.Stdout, "state#%d: exited normally\n", state.ID())
			return nil
		}
		fmt.Fprintf(cmd.Stdout, "state#%d: %s\n%s", state.ID(), tc.Suffix, tc.Message)
		return nil
	})
	return e.Run(ctx)
}

func (cmd *ReplayCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: glee replay -test PATH [arguments] [package]

Arguments:

	-test PATH
	    Test case file to replay.

	-path
	    Replay the recorded branch decisions instead of the object contents.
`[1:]+optionsUsage)
}
