package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/glee/v2"
	"github.com/benbjohnson/glee/v2/enum"
	"github.com/benbjohnson/glee/v2/z3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// RunCommand represents a command for exploring a program and writing its
// test cases.
type RunCommand struct {
	opt *Options

	outputDir   string
	metricsAddr string
	seedPaths   stringSlice

	Stdout io.Writer
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{Stdout: os.Stdout}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("glee-run", flag.ContinueOnError)
	cmd.opt = registerOptions(fs)
	fs.StringVar(&cmd.outputDir, "out", "glee-out", "test case output directory")
	fs.StringVar(&cmd.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.Var(&cmd.seedPaths, "seed", "seed test case file (may be repeated)")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 1 {
		return fmt.Errorf("exactly one package required")
	}

	config, err := cmd.opt.Config()
	if err != nil {
		return err
	}
	for _, path := range cmd.seedPaths {
		tc, err := glee.ReadTestCaseFile(path)
		if err != nil {
			return err
		}
		config.Seeds = append(config.Seeds, tc)
	}

	e, closer, err := cmd.opt.NewExecutor(fs.Arg(0), config)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := os.MkdirAll(cmd.outputDir, 0777); err != nil {
		return err
	}
	var n int
	e.Handler = glee.HandlerFunc(func(state *glee.ExecutionState, tc *glee.TestCase) error {
		n++
		return writeTestCase(cmd.outputDir, n, tc)
	})

	if cmd.metricsAddr != "" {
		cmd.serveMetrics(e.Stats())
	}

	err = e.Run(ctx)
	printStats(cmd.Stdout, e.Stats(), n)
	if err == context.Canceled {
		return nil
	}
	return err
}

// serveMetrics exposes stats over HTTP until the process exits.
func (cmd *RunCommand) serveMetrics(stats *glee.Stats) {
	reg := prometheus.NewRegistry()
	stats.Register(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cmd.metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] %s", err)
		}
	}()
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: glee run [arguments] [package]

Arguments:

	-out DIR
	    Directory test cases are written to. Defaults to glee-out.

	-seed PATH
	    Run a test case file as a seed before exploring. May be repeated.

	-metrics-addr ADDR
	    Serve Prometheus metrics on ADDR.
`[1:]+optionsUsage)
}

// writeTestCase writes tc as testNNNNNN.yaml. Errors also get a
// testNNNNNN.<suffix> file holding the message.
func writeTestCase(dir string, n int, tc *glee.TestCase) error {
	base := filepath.Join(dir, fmt.Sprintf("test%06d", n))
	if err := glee.WriteTestCaseFile(base+".yaml", tc); err != nil {
		return err
	}
	if tc.Suffix != "" && tc.Suffix != "early" {
		if err := os.WriteFile(base+"."+tc.Suffix, []byte(tc.Message), 0666); err != nil {
			return err
		}
	}
	return nil
}

func printStats(w io.Writer, stats *glee.Stats, testCases int) {
	fmt.Fprintf(w, "instructions=%d paths=%d errors=%d early=%d forks=%d schedule-forks=%d races=%d\n",
		stats.Instructions.Load(), stats.Paths.Load(), stats.Errors.Load(), stats.EarlyExits.Load(),
		stats.Forks.Load(), stats.ScheduleForks.Load(), stats.Races.Load())
	fmt.Fprintf(w, "queries=%d timeouts=%d solver-time=%s test-cases=%d\n",
		stats.Queries.Load(), stats.QueryTimeouts.Load(), stats.SolverTime(), testCases)
}

// Options holds the flags shared by every command that builds an executor.
type Options struct {
	ConfigPath     string
	Func           string
	Solver         string
	Search         string
	Verbose        bool
	MaxPreemptions int
	ForkOnSchedule bool
}

const optionsUsage = `
	-config PATH
	    YAML configuration file.

	-func NAME
	    Entry function. Defaults to main.

	-solver NAME
	    Constraint solver: enum or z3. Defaults to enum.

	-search NAME
	    Search strategy: dfs, bfs, random, random-path or interleaved.

	-max-preemptions N
	    Forced context switches explored per path.

	-fork-on-schedule
	    Fork at every schedule point.

	-v
	    Enable verbose logging.
`

func registerOptions(fs *flag.FlagSet) *Options {
	opt := &Options{}
	fs.StringVar(&opt.ConfigPath, "config", "", "config file")
	fs.StringVar(&opt.Func, "func", "main", "entry function")
	fs.StringVar(&opt.Solver, "solver", "enum", "constraint solver")
	fs.StringVar(&opt.Search, "search", "dfs", "search strategy")
	fs.BoolVar(&opt.Verbose, "v", false, "verbose")
	fs.IntVar(&opt.MaxPreemptions, "max-preemptions", -1, "preemption bound")
	fs.BoolVar(&opt.ForkOnSchedule, "fork-on-schedule", false, "fork at every schedule point")
	return opt
}

// Config returns the configuration file contents overridden by flags.
func (opt *Options) Config() (glee.Config, error) {
	log.SetFlags(0)
	if !opt.Verbose {
		log.SetOutput(io.Discard)
	}

	config := glee.DefaultConfig()
	if opt.ConfigPath != "" {
		var err error
		if config, err = glee.LoadConfig(opt.ConfigPath); err != nil {
			return config, err
		}
	}
	if opt.MaxPreemptions >= 0 {
		config.MaxPreemptions = opt.MaxPreemptions
	}
	if opt.ForkOnSchedule {
		config.ForkOnSchedule = true
	}
	return config, nil
}

// NewExecutor builds path and returns an executor over its entry function.
// The closer releases the solver.
func (opt *Options) NewExecutor(path string, config glee.Config) (*glee.Executor, io.Closer, error) {
	fn, err := loadFunction(path, opt.Func)
	if err != nil {
		return nil, nil, err
	}

	var solver glee.Solver
	var closer io.Closer = nopCloser{}
	switch opt.Solver {
	case "enum":
		solver = enum.NewSolver()
	case "z3":
		s := z3.NewSolver()
		solver, closer = s, s
	default:
		return nil, nil, fmt.Errorf("unknown solver: %q", opt.Solver)
	}
	solver = glee.NewCachingSolver(glee.NewDedupSolver(solver))
	if opt.Verbose {
		solver = glee.NewLoggingSolver(solver)
	}

	e := glee.NewExecutor(fn, solver, config)
	rnd := rand.New(rand.NewSource(config.RandomSeed))
	switch opt.Search {
	case "dfs":
	case "bfs":
		e.Searcher = glee.NewBFSSearcher()
	case "random":
		e.Searcher = glee.NewRandomSearcher(rnd)
	case "random-path":
		e.Searcher = glee.NewRandomPathSearcher(e, rnd)
	case "interleaved":
		e.Searcher = glee.NewMultiSearcher(glee.NewRandomPathSearcher(e, rnd), glee.NewDFSSearcher())
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("unknown search strategy: %q", opt.Search)
	}
	return e, closer, nil
}

// loadFunction builds the program at path in SSA form and returns the
// named function of its main package.
func loadFunction(path, name string) (*ssa.Function, error) {
	initial, err := packages.Load(&packages.Config{
		Mode: packages.LoadAllSyntax,
	}, path)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(initial) > 0 {
		return nil, fmt.Errorf("packages contain errors")
	}

	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			return nil, fmt.Errorf("cannot build SSA for package %s", initial[i])
		}
		pkg.SetDebugMode(true)
	}
	prog.Build()

	for _, pkg := range pkgs {
		if fn, ok := pkg.Members[name].(*ssa.Function); ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("function %q not found in %s", name, path)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// stringSlice is a repeatable string flag.
type stringSlice []string

func (a *stringSlice) String() string { return strings.Join(*a, ",") }

func (a *stringSlice) Set(v string) error {
	*a = append(*a, v)
	return nil
}
