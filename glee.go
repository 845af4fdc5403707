package glee

import (
	"fmt"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64

	// MaxWidth is the widest constant supported by ConstantExpr.
	MaxWidth = 256
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	// ErrNoStates is returned by the executor when no live states remain.
	ErrNoStates = errors.New("no states remaining")

	// ErrStateTerminated is returned when operating on a terminated state.
	ErrStateTerminated = errors.New("state terminated")

	// ErrUnsupported is returned by the interpreter for unhandled SSA constructs.
	ErrUnsupported = errors.New("unsupported instruction")
)

// Endianness represents the byte order of multi-byte memory accesses.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// String returns the name of the byte order.
func (e Endianness) String() string {
	switch e {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return fmt.Sprintf("Endianness<%d>", int(e))
	}
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
