package glee

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the options that control exploration. A Config is copied into
// the Executor at construction and is never modified afterwards.
type Config struct {
	// Maximum number of forced context switches explored per path.
	MaxPreemptions int `yaml:"max-preemptions"`

	// Fork at every schedule point, not only on preemption.
	ForkOnSchedule bool `yaml:"fork-on-schedule"`

	// Hard exploration caps. Zero disables the cap.
	MaxForks int `yaml:"max-forks"`
	MaxDepth int `yaml:"max-depth"`

	// Memory cap in megabytes. Zero disables the cap.
	MaxMemory        uint64 `yaml:"max-memory"`
	MaxMemoryInhibit bool   `yaml:"max-memory-inhibit"`

	// Share of all forks or solver time a single instruction (or call path)
	// may account for before its branches are concretized. 1.0 disables
	// the budget.
	MaxStaticForkPct    float64       `yaml:"max-static-fork-pct"`
	MaxStaticSolvePct   float64       `yaml:"max-static-solve-pct"`
	MaxStaticCPForkPct  float64       `yaml:"max-static-cpfork-pct"`
	MaxStaticCPSolvePct float64       `yaml:"max-static-cpsolve-pct"`
	StaticBudgetWarmup  time.Duration `yaml:"static-budget-warmup"`

	// Time limit of a single solver query. Zero disables the limit.
	SolverTimeout time.Duration `yaml:"solver-timeout"`

	// Seed size mismatch policy.
	AllowSeedExtension  bool `yaml:"allow-seed-extension"`
	ZeroSeedExtension   bool `yaml:"zero-seed-extension"`
	AllowSeedTruncation bool `yaml:"allow-seed-truncation"`
	NamedSeedMatching   bool `yaml:"named-seed-matching"`

	// Seeding behavior.
	OnlyReplaySeeds   bool `yaml:"only-replay-seeds"`
	OnlySeed          bool `yaml:"only-seed"`
	AlwaysOutputSeeds bool `yaml:"always-output-seeds"`

	// Seeds to run before the searcher takes over.
	Seeds []*TestCase `yaml:"-"`

	// Branch decisions to replay instead of consulting the solver.
	ReplayPath []bool `yaml:"-"`

	// Test case whose objects are written concretely into every symbolic
	// object, in order.
	ReplayOut *TestCase `yaml:"-"`

	EmitAllErrors               bool  `yaml:"emit-all-errors"`
	RandomizeFork               bool  `yaml:"randomize-fork"`
	InhibitForking              bool  `yaml:"inhibit-forking"`
	OnlyOutputStatesCoveringNew bool  `yaml:"only-output-states-covering-new"`
	RandomSeed                  int64 `yaml:"random-seed"`

	// Object size above which a symbolic-offset flush logs a warning.
	SymbolicFlushWarnSize uint `yaml:"symbolic-flush-warn-size"`

	// Largest single allocation. Larger requests return a nil pointer.
	MaxAllocSize uint `yaml:"max-alloc-size"`

	// Byte order of multi-byte memory accesses.
	Endianness Endianness `yaml:"endianness"`

	// Target architecture used for type sizes.
	Arch string `yaml:"arch"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxMemory:             2000,
		MaxStaticForkPct:      1.0,
		MaxStaticSolvePct:     1.0,
		MaxStaticCPForkPct:    1.0,
		MaxStaticCPSolvePct:   1.0,
		StaticBudgetWarmup:    60 * time.Second,
		SymbolicFlushWarnSize: DefaultSymbolicFlushWarnSize,
		MaxAllocSize:          256 * 1024 * 1024,
		Endianness:            LittleEndian,
		Arch:                  "amd64",
		RandomSeed:            1,
	}
}

// LoadConfig reads a YAML configuration file. Options missing from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return config, err
	} else if err := yaml.Unmarshal(buf, &config); err != nil {
		return config, errors.Wrapf(err, "parse config %s", path)
	}
	return config, nil
}

// staticBudgetsEnabled returns true if any static percentage budget is set.
func (c *Config) staticBudgetsEnabled() bool {
	return c.MaxStaticForkPct != 1 || c.MaxStaticSolvePct != 1 ||
		c.MaxStaticCPForkPct != 1 || c.MaxStaticCPSolvePct != 1
}

// MarshalYAML encodes the byte order by name.
func (e Endianness) MarshalYAML() (interface{}, error) {
	return e.String(), nil
}

// UnmarshalYAML decodes the byte order from its name.
func (e *Endianness) UnmarshalYAML(node *yaml.Node) error {
	switch node.Value {
	case "", "little":
		*e = LittleEndian
	case "big":
		*e = BigEndian
	default:
		return errors.Errorf("invalid endianness: %q", node.Value)
	}
	return nil
}
