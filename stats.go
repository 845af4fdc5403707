package glee

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/tools/go/ssa"
)

// Counter is a monotonically increasing value safe for concurrent use.
type Counter struct {
	v uint64
}

// Inc increments the counter by one.
func (c *Counter) Inc() { atomic.AddUint64(&c.v, 1) }

// Add increments the counter by n.
func (c *Counter) Add(n uint64) { atomic.AddUint64(&c.v, n) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return atomic.LoadUint64(&c.v) }

// Stats holds the counters of a run.
type Stats struct {
	Instructions  Counter
	Forks         Counter
	Paths         Counter // terminated states
	Errors        Counter // states terminated with an error
	EarlyExits    Counter // states terminated early
	Queries       Counter
	QueryTimeouts Counter
	QueryTime     Counter // nanoseconds spent in the solver
	Races         Counter
	Covered       Counter // distinct instructions executed
	ScheduleForks Counter

	// Number of live states, updated by the run loop.
	states int64

	// Per-instruction & per-function accounting used by static budgets.
	mu         sync.Mutex
	current    ssa.Instruction
	instrForks map[ssa.Instruction]uint64
	instrTime  map[ssa.Instruction]time.Duration
	fnForks    map[*ssa.Function]uint64
	fnTime     map[*ssa.Function]time.Duration
}

// NewStats returns a new, zeroed instance of Stats.
func NewStats() *Stats {
	return &Stats{
		instrForks: make(map[ssa.Instruction]uint64),
		instrTime:  make(map[ssa.Instruction]time.Duration),
		fnForks:    make(map[*ssa.Function]uint64),
		fnTime:     make(map[*ssa.Function]time.Duration),
	}
}

// States returns the number of live states.
func (s *Stats) States() int { return int(atomic.LoadInt64(&s.states)) }

func (s *Stats) setStates(n int) { atomic.StoreInt64(&s.states, int64(n)) }

// SolverTime returns the total time spent in the solver.
func (s *Stats) SolverTime() time.Duration { return time.Duration(s.QueryTime.Load()) }

// setCurrent sets the instruction that subsequent forks & queries are
// attributed to.
func (s *Stats) setCurrent(instr ssa.Instruction) {
	s.mu.Lock()
	s.current = instr
	s.mu.Unlock()
}

// addQuery records a solver query attributed to the current instruction.
func (s *Stats) addQuery(d time.Duration) {
	s.Queries.Inc()
	s.QueryTime.Add(uint64(d))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.instrTime[s.current] += d
		if fn := s.current.Parent(); fn != nil {
			s.fnTime[fn] += d
		}
	}
}

// addFork records a fork attributed to the current instruction.
func (s *Stats) addFork() {
	s.Forks.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.instrForks[s.current]++
		if fn := s.current.Parent(); fn != nil {
			s.fnForks[fn]++
		}
	}
}

// InstructionForks returns the forks & solver time attributed to instr.
func (s *Stats) InstructionForks(instr ssa.Instruction) (uint64, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instrForks[instr], s.instrTime[instr]
}

// FunctionForks returns the forks & solver time attributed to fn.
func (s *Stats) FunctionForks(fn *ssa.Function) (uint64, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fnForks[fn], s.fnTime[fn]
}

// Register exposes the counters as Prometheus collectors on reg.
func (s *Stats) Register(reg prometheus.Registerer) {
	factory := promauto.With(reg)

	counter := func(name, help string, c *Counter) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "glee",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(c.Load()) })
	}

	counter("instructions_total", "Number of instructions executed.", &s.Instructions)
	counter("forks_total", "Number of state forks.", &s.Forks)
	counter("schedule_forks_total", "Number of forks taken at schedule points.", &s.ScheduleForks)
	counter("paths_total", "Number of terminated paths.", &s.Paths)
	counter("path_errors_total", "Number of paths terminated with an error.", &s.Errors)
	counter("path_early_exits_total", "Number of paths terminated early.", &s.EarlyExits)
	counter("solver_queries_total", "Number of solver queries.", &s.Queries)
	counter("solver_timeouts_total", "Number of solver queries that timed out.", &s.QueryTimeouts)
	counter("races_total", "Number of data races detected.", &s.Races)
	counter("covered_instructions_total", "Number of distinct instructions executed.", &s.Covered)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "glee",
		Name:      "solver_seconds_total",
		Help:      "Time spent in the solver.",
	}, func() float64 { return s.SolverTime().Seconds() })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "glee",
		Name:      "states",
		Help:      "Number of live states.",
	}, func() float64 { return float64(s.States()) })
}
