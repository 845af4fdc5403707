package glee

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// Thread identities reserved by the engine.
const (
	// EngineThreadID is used for accesses made by the engine itself, such
	// as initializing globals. It never takes part in race detection.
	EngineThreadID = 0

	// MainThreadID is the thread id of the entry goroutine.
	MainThreadID = 1

	// MainProcessID is the process id of the initial process.
	MainProcessID = 1

	// DefaultGroupID is the workgroup threads belong to unless changed.
	DefaultGroupID = 1
)

// Binding represents an object that can be bound to an SSA value.
// This can be either an Expr or a Tuple.
type Binding interface {
	binding()
	String() string
}

func (*BinaryExpr) binding()       {}
func (*CastExpr) binding()         {}
func (*ConcatExpr) binding()       {}
func (*ConstantExpr) binding()     {}
func (*ExtractExpr) binding()      {}
func (*IteExpr) binding()          {}
func (*NotExpr) binding()          {}
func (*NotOptimizedExpr) binding() {}
func (*ReadExpr) binding()         {}
func (Tuple) binding()             {}

// ThreadUID uniquely identifies a thread within an execution state.
type ThreadUID struct {
	TID uint64
	PID uint64
}

// String returns the string representation of the identity.
func (u ThreadUID) String() string {
	return fmt.Sprintf("t%d/p%d", u.TID, u.PID)
}

// less orders thread identities by thread id, then process id.
func (u ThreadUID) less(other ThreadUID) bool {
	if u.TID != other.TID {
		return u.TID < other.TID
	}
	return u.PID < other.PID
}

// WaitListID identifies a wait list. Zero means no list.
type WaitListID uint64

// Thread represents a thread of execution within a process.
type Thread struct {
	UID     ThreadUID
	Stack   []*StackFrame
	Enabled bool

	// Wait list the thread is sleeping on, if disabled.
	WaitList WaitListID

	// Workgroup the thread belongs to.
	GroupID uint64

	// Thread-local address space.
	Local *AddressSpace

	// Set for the thread whose return ends the process.
	main bool
}

// NewThread returns an enabled thread that begins executing fn.
func NewThread(uid ThreadUID, group uint64, fn *ssa.Function) *Thread {
	t := &Thread{
		UID:     uid,
		Enabled: true,
		GroupID: group,
		Local:   NewAddressSpace(),
	}
	if fn != nil {
		t.Push(fn)
	}
	return t
}

// IsMain returns true if the thread's return ends its process.
func (t *Thread) IsMain() bool { return t.main }

// Frame returns the current stack frame.
func (t *Thread) Frame() *StackFrame {
	if len(t.Stack) == 0 {
		return nil
	}
	return t.Stack[len(t.Stack)-1]
}

// CallerFrame returns the parent of the current stack frame.
func (t *Thread) CallerFrame() *StackFrame {
	if len(t.Stack) <= 1 {
		return nil
	}
	return t.Stack[len(t.Stack)-2]
}

// Push adds a frame for fn to the top of the stack.
func (t *Thread) Push(fn *ssa.Function) *StackFrame {
	f := NewStackFrame(fn)
	t.Stack = append(t.Stack, f)
	return f
}

// Pop removes the current frame from the stack.
func (t *Thread) Pop() *StackFrame {
	f := t.Frame()
	t.Stack[len(t.Stack)-1] = nil
	t.Stack = t.Stack[:len(t.Stack)-1]
	return f
}

// Clone returns a copy of the thread with cloned frames and a copy-on-write
// clone of the local address space.
func (t *Thread) Clone() *Thread {
	other := *t
	other.Stack = make([]*StackFrame, len(t.Stack))
	for i := range t.Stack {
		other.Stack[i] = t.Stack[i].Clone()
	}
	other.Local = t.Local.Clone()
	return &other
}

// Process is a set of threads sharing a global address space.
type Process struct {
	PID   uint64
	PPID  uint64
	Space *AddressSpace

	Threads map[ThreadUID]struct{}
}

// NewProcess returns a process with an empty address space.
func NewProcess(pid, ppid uint64) *Process {
	return &Process{
		PID:     pid,
		PPID:    ppid,
		Space:   NewAddressSpace(),
		Threads: make(map[ThreadUID]struct{}),
	}
}

// Clone returns a copy of the process. The address space is cloned
// copy-on-write.
func (p *Process) Clone() *Process {
	other := &Process{
		PID:     p.PID,
		PPID:    p.PPID,
		Space:   p.Space.Clone(),
		Threads: make(map[ThreadUID]struct{}, len(p.Threads)),
	}
	for uid := range p.Threads {
		other.Threads[uid] = struct{}{}
	}
	return other
}

// ThreadUIDs returns the threads of the process in order.
func (p *Process) ThreadUIDs() []ThreadUID {
	a := make([]ThreadUID, 0, len(p.Threads))
	for uid := range p.Threads {
		a = append(a, uid)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].less(a[j]) })
	return a
}

// StackFrame represents the state of a call into a function.
type StackFrame struct {
	fn       *ssa.Function
	bindings map[ssa.Value]Binding

	// Call instruction in the caller awaiting the results of this frame.
	call *ssa.Call

	// Non-heap allocations released when the frame returns.
	allocas []*MemoryObject

	block *ssa.BasicBlock
	prev  *ssa.BasicBlock
	pc    int
}

// NewStackFrame returns a new instance of StackFrame for a given function.
func NewStackFrame(fn *ssa.Function) *StackFrame {
	f := &StackFrame{
		fn:       fn,
		bindings: make(map[ssa.Value]Binding),
	}
	if len(fn.Blocks) > 0 {
		f.block = fn.Blocks[0]
	}
	return f
}

// Fn returns the function executing in the frame.
func (f *StackFrame) Fn() *ssa.Function { return f.fn }

// Instr returns the next instruction to execute.
func (f *StackFrame) Instr() ssa.Instruction {
	if f.block == nil || f.pc < 0 || f.pc >= len(f.block.Instrs) {
		return nil
	}
	return f.block.Instrs[f.pc]
}

// NextInstr moves the current execution to the next instruction.
func (f *StackFrame) NextInstr() {
	if f.block != nil && f.pc < len(f.block.Instrs) {
		f.pc++
	}
}

// rewind moves the instruction pointer back to instr so that it executes
// again. It is a no-op if instr is not in the current block.
func (f *StackFrame) rewind(instr ssa.Instruction) {
	if f.block == nil {
		return
	}
	for i, in := range f.block.Instrs {
		if in == instr {
			f.pc = i
			return
		}
	}
}

// jump moves to dst from the current block. The instruction pointer is
// left on the first instruction after the phi nodes of dst.
func (f *StackFrame) jump(dst *ssa.BasicBlock) {
	f.prev, f.block, f.pc = f.block, dst, 0
	for f.pc < len(dst.Instrs) {
		if _, ok := dst.Instrs[f.pc].(*ssa.Phi); !ok {
			break
		}
		f.pc++
	}
}

// bind assigns the expression or slice of expressions to a given SSA value.
func (f *StackFrame) bind(value ssa.Value, b Binding) {
	f.bindings[value] = b
}

// Binding returns the binding of value in the frame.
func (f *StackFrame) Binding(value ssa.Value) Binding {
	return f.bindings[value]
}

// Clone returns a copy of the stack frame.
func (f *StackFrame) Clone() *StackFrame {
	other := *f

	other.bindings = make(map[ssa.Value]Binding, len(f.bindings))
	for k := range f.bindings {
		other.bindings[k] = f.bindings[k]
	}

	other.allocas = make([]*MemoryObject, len(f.allocas))
	copy(other.allocas, f.allocas)

	return &other
}

// BoundValues returns all bound values, sorted by name.
func (f *StackFrame) BoundValues() []ssa.Value {
	a := make([]ssa.Value, 0, len(f.bindings))
	for value := range f.bindings {
		a = append(a, value)
	}

	sort.Slice(a, func(i, j int) bool {
		x, _ := strconv.Atoi(strings.TrimPrefix(a[i].Name(), "t"))
		y, _ := strconv.Atoi(strings.TrimPrefix(a[j].Name(), "t"))
		if x != y {
			return x < y
		}
		return a[i].Name() < a[j].Name()
	})

	return a
}

// Dump returns the contents of the frame as a string.
func (f *StackFrame) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "fn=%s\n", f.fn.String())
	for _, value := range f.BoundValues() {
		binding := f.bindings[value]
		fmt.Fprintf(&buf, "%s (%s)\n%s\n\n", value.Name(), value.Type().String(), binding)
	}
	return buf.String()
}
