package glee

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// AddressSpaceID identifies one of the address spaces visible to a thread.
type AddressSpaceID int

const (
	GlobalSpace AddressSpaceID = iota // process memory
	GroupSpace                        // memory shared by a workgroup
	ThreadSpace                       // thread-local memory
)

// String returns the name of the address space.
func (id AddressSpaceID) String() string {
	switch id {
	case GlobalSpace:
		return "global"
	case GroupSpace:
		return "group"
	case ThreadSpace:
		return "thread"
	default:
		return fmt.Sprintf("AddressSpaceID<%d>", int(id))
	}
}

var cowKeySeq uint64

func nextCowKey() uint64 {
	return atomic.AddUint64(&cowKeySeq, 1)
}

// ObjectPair associates a memory object with its contents.
type ObjectPair struct {
	Object *MemoryObject
	State  *ObjectState
}

// AddressSpace maps memory objects to their contents. Spaces are persistent:
// cloning is constant time and object states are shared between clones
// until one of them asks for a writeable copy.
type AddressSpace struct {
	objects *immutable.SortedMap // base address -> ObjectPair
	cowKey  uint64
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		objects: immutable.NewSortedMap(&uint64Comparer{}),
		cowKey:  nextCowKey(),
	}
}

// Clone returns a copy of the space. Both spaces receive new copy-on-write
// keys so that any state shared before the clone is copied on first write.
func (as *AddressSpace) Clone() *AddressSpace {
	as.cowKey = nextCowKey()
	return &AddressSpace{objects: as.objects, cowKey: nextCowKey()}
}

// Len returns the number of bound objects.
func (as *AddressSpace) Len() int {
	return as.objects.Len()
}

// Bind associates os with mo. The space takes ownership of os.
func (as *AddressSpace) Bind(mo *MemoryObject, os *ObjectState) {
	os.owner = as.cowKey
	as.objects = as.objects.Set(mo.Address, ObjectPair{Object: mo, State: os})
}

// Unbind removes mo from the space.
func (as *AddressSpace) Unbind(mo *MemoryObject) {
	as.objects = as.objects.Delete(mo.Address)
}

// Find returns the state bound to mo, if any.
func (as *AddressSpace) Find(mo *MemoryObject) *ObjectState {
	v, ok := as.objects.Get(mo.Address)
	if !ok {
		return nil
	} else if pair := v.(ObjectPair); pair.Object == mo {
		return pair.State
	}
	return nil
}

// GetWriteable returns a state for mo that may be modified by the caller.
// os must be the state currently bound to mo.
func (as *AddressSpace) GetWriteable(mo *MemoryObject, os *ObjectState) *ObjectState {
	assert(!os.ReadOnly, "writeable copy of read-only object %s", mo)
	if os.owner == as.cowKey {
		return os
	}
	other := os.Clone()
	as.Bind(mo, other)
	return other
}

// Objects returns all bound objects in address order.
func (as *AddressSpace) Objects() []ObjectPair {
	a := make([]ObjectPair, 0, as.objects.Len())
	itr := as.objects.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(ObjectPair))
	}
	return a
}

// ResolveConstantAddress returns the object containing addr.
func (as *AddressSpace) ResolveConstantAddress(addr uint64) (ObjectPair, bool) {
	itr := as.objects.Iterator()
	if itr.Seek(addr); itr.Done() {
		itr.Last()
	}
	for !itr.Done() {
		k, v := itr.Prev()
		if k.(uint64) > addr {
			continue
		}
		pair := v.(ObjectPair)
		if pair.Object.Contains(addr) {
			return pair, true
		}
		break
	}
	return ObjectPair{}, false
}

// ResolveOne returns a single object that addr may point into under the
// constraints of state.
func (as *AddressSpace) ResolveOne(ctx context.Context, state *ExecutionState, solver *TimingSolver, addr Expr) (ObjectPair, bool, error) {
	if c, ok := addr.(*ConstantExpr); ok {
		pair, ok := as.ResolveConstantAddress(c.Uint64())
		return pair, ok, nil
	}

	example, err := solver.GetValue(ctx, state, addr)
	if err != nil {
		return ObjectPair{}, false, err
	}
	if pair, ok := as.ResolveConstantAddress(example.Uint64()); ok {
		return pair, true, nil
	}

	var found *ObjectPair
	err = as.walk(example.Uint64(), func(pair ObjectPair, below bool) (bool, error) {
		ok, err := solver.MayBeTrue(ctx, state, pair.Object.BoundsCheckPointer(addr, 1))
		if err != nil {
			return false, err
		} else if ok {
			found = &pair
			return false, errStopWalk
		}
		return as.beyond(ctx, state, solver, addr, pair.Object, below)
	})
	if err != nil {
		return ObjectPair{}, false, err
	} else if found == nil {
		return ObjectPair{}, false, nil
	}
	return *found, true, nil
}

// Resolve returns every object that addr may point into, up to max objects
// when max is positive. The returned flag is set if the search stopped
// early because of the limit or a solver timeout.
func (as *AddressSpace) Resolve(ctx context.Context, state *ExecutionState, solver *TimingSolver, addr Expr, max int) ([]ObjectPair, bool, error) {
	if c, ok := addr.(*ConstantExpr); ok {
		if pair, ok := as.ResolveConstantAddress(c.Uint64()); ok {
			return []ObjectPair{pair}, false, nil
		}
		return nil, false, nil
	}

	example, err := solver.GetValue(ctx, state, addr)
	if errors.Cause(err) == ErrSolverTimeout {
		return nil, true, nil
	} else if err != nil {
		return nil, false, err
	}

	var a []ObjectPair
	var incomplete bool
	err = as.walk(example.Uint64(), func(pair ObjectPair, below bool) (bool, error) {
		ok, err := solver.MayBeTrue(ctx, state, pair.Object.BoundsCheckPointer(addr, 1))
		if err != nil {
			return false, err
		} else if ok {
			a = append(a, pair)
			if max > 0 && len(a) == max {
				incomplete = true
				return false, errStopWalk
			}
		}
		return as.beyond(ctx, state, solver, addr, pair.Object, below)
	})
	if errors.Cause(err) == ErrSolverTimeout {
		return a, true, nil
	} else if err != nil {
		return nil, false, err
	}
	return a, incomplete, nil
}

// beyond reports whether the search may continue past mo. Walking down,
// it stops once addr must lie above mo; walking up, once addr must lie
// below mo.
func (as *AddressSpace) beyond(ctx context.Context, state *ExecutionState, solver *TimingSolver, addr Expr, mo *MemoryObject, below bool) (bool, error) {
	addr = NewCastExpr(addr, Width64, false)
	var cond Expr
	if below {
		cond = NewBinaryExpr(UGE, addr, NewConstantExpr64(mo.Address+uint64(mo.Size)))
	} else {
		cond = NewBinaryExpr(ULT, addr, mo.BaseExpr())
	}
	stop, err := solver.MustBeTrue(ctx, state, cond)
	return !stop, err
}

// errStopWalk ends a walk in both directions.
var errStopWalk = errors.New("stop walk")

// walk visits objects outwards from addr: first those at or below addr in
// descending order, then those above it in ascending order. Visiting stops
// in a direction when fn returns false, and altogether when fn returns
// errStopWalk.
func (as *AddressSpace) walk(addr uint64, fn func(pair ObjectPair, below bool) (bool, error)) error {
	itr := as.objects.Iterator()
	if itr.Seek(addr); itr.Done() {
		itr.Last()
	}
	for !itr.Done() {
		k, v := itr.Prev()
		if k.(uint64) > addr {
			continue
		}
		if ok, err := fn(v.(ObjectPair), true); err == errStopWalk {
			return nil
		} else if err != nil {
			return err
		} else if !ok {
			break
		}
	}

	if addr == ^uint64(0) {
		return nil
	}
	itr = as.objects.Iterator()
	for itr.Seek(addr + 1); !itr.Done(); {
		_, v := itr.Next()
		if ok, err := fn(v.(ObjectPair), false); err == errStopWalk {
			return nil
		} else if err != nil {
			return err
		} else if !ok {
			break
		}
	}
	return nil
}

// ResetLogs clears the race log of every object. If global is false only
// the accesses of group are released.
func (as *AddressSpace) ResetLogs(group uint64, global bool) {
	for _, pair := range as.Objects() {
		if pair.State.ReadOnly {
			continue
		}
		os := as.GetWriteable(pair.Object, pair.State)
		if global {
			os.GlobalResetLog()
		} else {
			os.LocalResetLog(group)
		}
	}
}

// Dump returns a description of every bound object.
func (as *AddressSpace) Dump() string {
	var buf bytes.Buffer
	for _, pair := range as.Objects() {
		buf.WriteString(pair.State.Dump())
	}
	return buf.String()
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not an int.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
