package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "run":
		return NewRunCommand().Run(ctx, args)
	case "replay":
		return NewReplayCommand().Run(ctx, args)
	case "tree":
		return NewTreeCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`glee %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Glee is a tool for symbolic execution of Go code.

Usage:

	glee <command> [arguments]

The commands are:

	run         explore a program and write test cases
	replay      re-execute a program with a test case
	tree        print the path tree of a partial exploration
	help        this screen
`[1:])
}
