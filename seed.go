package glee

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TestCase is a concrete input for a path: one byte vector per symbolic
// object, plus the reason the path terminated.
type TestCase struct {
	Objects []TestObject `yaml:"objects"`
	Message string       `yaml:"message,omitempty"`
	Suffix  string       `yaml:"suffix,omitempty"`
	Path    []bool       `yaml:"path,omitempty"`
	Races   []string     `yaml:"races,omitempty"`
}

// TestObject is the concrete content of one symbolic object.
type TestObject struct {
	Name  string `yaml:"name"`
	Bytes []byte `yaml:"bytes"`
}

// ReadTestCase decodes a YAML test case from r.
func ReadTestCase(r io.Reader) (*TestCase, error) {
	var tc TestCase
	if err := yaml.NewDecoder(r).Decode(&tc); err != nil {
		return nil, errors.Wrap(err, "decode test case")
	}
	return &tc, nil
}

// ReadTestCaseFile decodes a YAML test case from a file.
func ReadTestCaseFile(path string) (*TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tc, err := ReadTestCase(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return tc, nil
}

// WriteTo encodes the test case as YAML to w. Implements io.WriterTo.
func (tc *TestCase) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(tc); err != nil {
		return 0, err
	} else if err := enc.Close(); err != nil {
		return 0, err
	}
	return buf.WriteTo(w)
}

// WriteTestCaseFile encodes tc as YAML into a new file at path.
func WriteTestCaseFile(path string, tc *TestCase) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := tc.WriteTo(f); err != nil {
		return err
	}
	return f.Close()
}

// Assignment binds concrete contents to symbolic arrays.
type Assignment struct {
	arrays   []*Array
	bindings map[uint64][]byte

	// Constant arrays substituted for bound arrays, built on demand.
	roots map[uint64]*Array
}

// NewAssignment returns an empty assignment.
func NewAssignment() *Assignment {
	return &Assignment{
		bindings: make(map[uint64][]byte),
		roots:    make(map[uint64]*Array),
	}
}

// Bind sets the contents of array.
func (a *Assignment) Bind(array *Array, values []byte) {
	if _, ok := a.bindings[array.ID]; !ok {
		a.arrays = append(a.arrays, array)
	}
	a.bindings[array.ID] = values
	delete(a.roots, array.ID)
}

// Values returns the contents bound to array.
func (a *Assignment) Values(array *Array) ([]byte, bool) {
	v, ok := a.bindings[array.ID]
	return v, ok
}

// Arrays returns the bound arrays in binding order.
func (a *Assignment) Arrays() []*Array { return a.arrays }

// set changes a single bound byte.
func (a *Assignment) set(array *Array, i uint, value byte) {
	a.bindings[array.ID][i] = value
	delete(a.roots, array.ID)
}

// Evaluate returns expr with every read of a bound array replaced by the
// bound contents. Reads of unbound arrays are left symbolic.
func (a *Assignment) Evaluate(expr Expr) Expr {
	return WalkExpr(assignmentVisitor{a}, expr)
}

// root returns a constant array holding the contents bound to array.
func (a *Assignment) root(array *Array) *Array {
	if root := a.roots[array.ID]; root != nil {
		return root
	}

	values := a.bindings[array.ID]
	constants := make([]*ConstantExpr, array.Size)
	for i := range constants {
		var v uint64
		if i < len(values) {
			v = uint64(values[i])
		}
		constants[i] = NewConstantExpr(v, array.Range)
	}

	root := NewConstantArray(array.Name, array.Range, constants)
	a.roots[array.ID] = root
	return root
}

type assignmentVisitor struct {
	a *Assignment
}

func (v assignmentVisitor) Visit(expr Expr) (Expr, ExprVisitor) {
	re, ok := expr.(*ReadExpr)
	if !ok {
		return expr, v
	} else if _, ok := v.a.bindings[re.Updates.Root.ID]; !ok {
		return expr, v
	}

	// Rebuild the update list over the constant root.
	var updates []*ArrayUpdate
	for upd := re.Updates.Head; upd != nil; upd = upd.Next {
		updates = append(updates, upd)
	}
	ul := NewUpdateList(v.a.root(re.Updates.Root))
	for i := len(updates) - 1; i >= 0; i-- {
		ul = ul.Extend(WalkExpr(v, updates[i].Index), WalkExpr(v, updates[i].Value))
	}
	return NewReadExpr(ul, WalkExpr(v, re.Index)), nil
}

// SeedInfo tracks the consumption of one seed along a path.
type SeedInfo struct {
	Assignment *Assignment
	Input      *TestCase

	inputPosition int
	used          map[int]struct{}
}

// NewSeedInfo returns a seed cursor over input.
func NewSeedInfo(input *TestCase) *SeedInfo {
	return &SeedInfo{
		Assignment: NewAssignment(),
		Input:      input,
		used:       make(map[int]struct{}),
	}
}

// NextInput returns the seed object to use for mo. When byName is set the
// first unused object named after mo is preferred, falling back to the
// first unused object if its size matches. Returns nil if the seed has no
// object left.
func (si *SeedInfo) NextInput(mo *MemoryObject, byName bool) *TestObject {
	if !byName {
		if si.inputPosition >= len(si.Input.Objects) {
			return nil
		}
		obj := &si.Input.Objects[si.inputPosition]
		si.inputPosition++
		return obj
	}

	for i := range si.Input.Objects {
		if _, ok := si.used[i]; ok {
			continue
		} else if si.Input.Objects[i].Name == mo.Name {
			si.used[i] = struct{}{}
			return &si.Input.Objects[i]
		}
	}

	for i := range si.Input.Objects {
		if _, ok := si.used[i]; ok {
			continue
		}
		if obj := &si.Input.Objects[i]; uint(len(obj.Bytes)) == mo.Size {
			si.used[i] = struct{}{}
			log.Printf("[seed] using seed input %s[%d] for %s (no name match)", obj.Name, len(obj.Bytes), mo.Name)
			return obj
		}
		break
	}

	log.Printf("[seed] no seed input for %s", mo.Name)
	return nil
}

// Patch changes the seed so that it satisfies cond under the constraints
// of state. Bytes read directly by cond are patched first; if that is not
// enough every bound byte is checked.
func (si *SeedInfo) Patch(ctx context.Context, state *ExecutionState, cond Expr, solver *TimingSolver) error {
	required := append(state.constraints[:len(state.constraints):len(state.constraints)], cond)

	patch := func(array *Array, i uint) error {
		values, ok := si.Assignment.Values(array)
		if !ok || i >= uint(len(values)) {
			return nil
		}

		read := NewReadExpr(NewUpdateList(array), NewConstantExpr32(uint64(i)))
		isSeed := NewBinaryExpr(EQ, read, NewConstantExpr8(uint64(values[i])))
		if ok, err := solver.mustBeTrue(ctx, required, NewIsZeroExpr(isSeed)); err != nil {
			return err
		} else if !ok {
			required = append(required, isSeed)
			return nil
		}

		value, err := solver.getValue(ctx, required, read)
		if err != nil {
			return err
		}
		si.Assignment.set(array, i, byte(value.Uint64()))
		required = append(required, NewBinaryExpr(EQ, read, NewConstantExpr8(value.Uint64())))
		return nil
	}

	for _, read := range directReads(cond) {
		if err := patch(read.array, read.index); err != nil {
			return err
		}
	}

	if ok, err := solver.mayBeTrue(ctx, state.constraints, si.Assignment.Evaluate(cond)); err != nil {
		return err
	} else if ok {
		return nil
	}

	for _, array := range si.Assignment.Arrays() {
		for i := uint(0); i < array.Size; i++ {
			if err := patch(array, i); err != nil {
				return err
			}
		}
	}
	return nil
}

type arrayByte struct {
	array *Array
	index uint
}

// directReads returns the distinct constant-index reads of symbolic arrays
// within expr.
func directReads(expr Expr) []arrayByte {
	v := &directReadVisitor{seen: make(map[arrayByte]struct{})}
	WalkExpr(v, expr)
	return v.reads
}

type directReadVisitor struct {
	seen  map[arrayByte]struct{}
	reads []arrayByte
}

func (v *directReadVisitor) Visit(expr Expr) (Expr, ExprVisitor) {
	re, ok := expr.(*ReadExpr)
	if !ok || re.Updates.Root.IsConstant() {
		return expr, v
	}
	if index, ok := re.Index.(*ConstantExpr); ok {
		key := arrayByte{array: re.Updates.Root, index: uint(index.Uint64())}
		if _, ok := v.seen[key]; !ok {
			v.seen[key] = struct{}{}
			v.reads = append(v.reads, key)
		}
	}
	return expr, v
}
