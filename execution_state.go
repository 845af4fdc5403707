package glee

import (
	"bytes"
	"fmt"
	"go/token"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/tools/go/ssa"
)

// ExecutionState representing a path under exploration.
type ExecutionState struct {
	id int

	// Executor this is executed within.
	executor *Executor

	// Leaf of the path tree holding this state.
	node *PTreeNode

	// Number of forks along the path.
	depth int

	// Shows whether state is running, finished, or terminated by error state.
	status ExecutionStatus
	reason string

	// Constraints collected so far during execution.
	constraints []Expr

	// Thread & process tables. Threads are ordered by ThreadUID.
	threads   map[ThreadUID]*Thread
	processes map[uint64]*Process
	current   ThreadUID

	// Sleeping threads, ordered by ThreadUID within each list.
	waitLists map[WaitListID][]ThreadUID

	// Workgroup address spaces, keyed by group id.
	groups map[uint64]*AddressSpace

	tidSeq      uint64
	pidSeq      uint64
	waitListSeq WaitListID

	preemptions  int
	forkDisabled bool
	coveredNew   bool

	// Branch decisions taken along the path, for replay.
	path []bool

	symbolics  []SymbolicObject
	arrayNames map[string]struct{}
	races      []Race

	// Last instruction executed by the state.
	prevInstr ssa.Instruction

	// Set once the state has been handed to TerminateState.
	terminated bool
}

// SymbolicObject associates a memory object with the array holding its
// initial contents.
type SymbolicObject struct {
	Object *MemoryObject
	Array  *Array
}

// NewExecutionState returns a state with a single process whose main thread
// begins executing fn.
func NewExecutionState(executor *Executor, fn *ssa.Function) *ExecutionState {
	s := &ExecutionState{
		executor:   executor,
		status:     ExecutionStatusRunning,
		threads:    make(map[ThreadUID]*Thread),
		processes:  make(map[uint64]*Process),
		waitLists:  make(map[WaitListID][]ThreadUID),
		groups:     make(map[uint64]*AddressSpace),
		arrayNames: make(map[string]struct{}),
		tidSeq:     MainThreadID,
		pidSeq:     MainProcessID,
	}

	proc := NewProcess(MainProcessID, 0)
	s.processes[proc.PID] = proc

	t := s.createThread(MainThreadID, proc.PID, DefaultGroupID, fn)
	t.main = true
	s.current = t.UID
	return s
}

// ID returns an autoincrementing ID assigned by the executor.
func (s *ExecutionState) ID() int { return s.id }

// Executor returns the parent executor of this state.
func (s *ExecutionState) Executor() *Executor {
	return s.executor
}

// Constraints returns the path constraints of the state.
func (s *ExecutionState) Constraints() []Expr {
	return s.constraints
}

// Depth returns the number of forks along the path.
func (s *ExecutionState) Depth() int { return s.depth }

// Node returns the path tree leaf holding the state.
func (s *ExecutionState) Node() *PTreeNode { return s.node }

// Path returns the branch decisions taken along the path.
func (s *ExecutionState) Path() []bool { return s.path }

// Symbolics returns the objects made symbolic along the path.
func (s *ExecutionState) Symbolics() []SymbolicObject { return s.symbolics }

// Races returns the data races detected along the path.
func (s *ExecutionState) Races() []Race { return s.races }

// CoveredNew returns true if the path executed a previously unseen instruction.
func (s *ExecutionState) CoveredNew() bool { return s.coveredNew }

// Preemptions returns the number of preemptive context switches taken.
func (s *ExecutionState) Preemptions() int { return s.preemptions }

// ForkDisabled returns true if forking is disabled for the path.
func (s *ExecutionState) ForkDisabled() bool { return s.forkDisabled }

// SetForkDisabled enables or disables forking for the path.
func (s *ExecutionState) SetForkDisabled(v bool) { s.forkDisabled = v }

// Clone returns a copy of the state including deep copies of the thread &
// process tables. Address spaces are cloned copy-on-write.
func (s *ExecutionState) Clone() *ExecutionState {
	other := *s
	other.node = nil

	other.constraints = make([]Expr, len(s.constraints))
	copy(other.constraints, s.constraints)

	other.threads = make(map[ThreadUID]*Thread, len(s.threads))
	for uid, t := range s.threads {
		other.threads[uid] = t.Clone()
	}

	other.processes = make(map[uint64]*Process, len(s.processes))
	for pid, p := range s.processes {
		other.processes[pid] = p.Clone()
	}

	other.waitLists = make(map[WaitListID][]ThreadUID, len(s.waitLists))
	for id, a := range s.waitLists {
		other.waitLists[id] = append([]ThreadUID(nil), a...)
	}

	other.groups = make(map[uint64]*AddressSpace, len(s.groups))
	for gid, as := range s.groups {
		other.groups[gid] = as.Clone()
	}

	other.path = append([]bool(nil), s.path...)
	other.symbolics = append([]SymbolicObject(nil), s.symbolics...)
	other.races = append([]Race(nil), s.races...)

	other.arrayNames = make(map[string]struct{}, len(s.arrayNames))
	for name := range s.arrayNames {
		other.arrayNames[name] = struct{}{}
	}
	return &other
}

// Status returns the current status of the state.
// See Reason() for additional information if status is in an error state.
func (s *ExecutionState) Status() ExecutionStatus {
	return s.status
}

// Reason returns additional information about the status of the state.
func (s *ExecutionState) Reason() string {
	return s.reason
}

// Terminated returns true if the state completes execution of a path.
func (s *ExecutionState) Terminated() bool {
	return s.status != ExecutionStatusRunning
}

// Position returns the position of the last executed instruction.
func (s *ExecutionState) Position() token.Position {
	instr := s.prevInstr
	if instr == nil {
		instr = s.Instr()
	}
	if instr == nil || s.executor == nil {
		return token.Position{}
	}
	switch instr := instr.(type) {
	case *ssa.If:
		return s.executor.prog.Fset.Position(instr.Cond.Pos())
	default:
		return s.executor.prog.Fset.Position(instr.Pos())
	}
}

// Thread returns the currently scheduled thread.
func (s *ExecutionState) Thread() *Thread {
	return s.threads[s.current]
}

// ThreadByUID returns the thread with the given identity, if any.
func (s *ExecutionState) ThreadByUID(uid ThreadUID) *Thread {
	return s.threads[uid]
}

// Threads returns every thread in identity order.
func (s *ExecutionState) Threads() []*Thread {
	a := make([]*Thread, 0, len(s.threads))
	for _, uid := range s.threadUIDs() {
		a = append(a, s.threads[uid])
	}
	return a
}

func (s *ExecutionState) threadUIDs() []ThreadUID {
	a := make([]ThreadUID, 0, len(s.threads))
	for uid := range s.threads {
		a = append(a, uid)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].less(a[j]) })
	return a
}

// nextThread returns the thread following uid in identity order, wrapping
// around at the end.
func (s *ExecutionState) nextThread(uid ThreadUID) ThreadUID {
	uids := s.threadUIDs()
	i := sort.Search(len(uids), func(i int) bool { return uid.less(uids[i]) })
	if i == len(uids) {
		i = 0
	}
	return uids[i]
}

// scheduleNext makes uid the current thread.
func (s *ExecutionState) scheduleNext(uid ThreadUID) {
	assert(s.threads[uid] != nil, "schedule of unknown thread %s", uid)
	s.current = uid
}

// Process returns the process of the current thread.
func (s *ExecutionState) Process() *Process {
	return s.processes[s.current.PID]
}

// Processes returns every process in pid order.
func (s *ExecutionState) Processes() []*Process {
	a := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		a = append(a, p)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].PID < a[j].PID })
	return a
}

// Space returns the address space of the given kind as seen by the current
// thread. Group spaces are created on first use.
func (s *ExecutionState) Space(id AddressSpaceID) *AddressSpace {
	switch id {
	case GlobalSpace:
		return s.Process().Space
	case GroupSpace:
		gid := s.Thread().GroupID
		as := s.groups[gid]
		if as == nil {
			as = NewAddressSpace()
			s.groups[gid] = as
		}
		return as
	case ThreadSpace:
		return s.Thread().Local
	default:
		panic(fmt.Sprintf("invalid address space: %d", id))
	}
}

// createThread adds a thread to the given process.
func (s *ExecutionState) createThread(tid, pid, group uint64, fn *ssa.Function) *Thread {
	uid := ThreadUID{TID: tid, PID: pid}
	assert(s.threads[uid] == nil, "duplicate thread %s", uid)
	t := NewThread(uid, group, fn)
	s.threads[uid] = t
	s.processes[pid].Threads[uid] = struct{}{}
	return t
}

// terminateThread removes a thread from the state.
func (s *ExecutionState) terminateThread(uid ThreadUID) {
	assert(uid != s.current, "terminating the current thread %s", uid)
	delete(s.threads, uid)
	if p := s.processes[uid.PID]; p != nil {
		delete(p.Threads, uid)
	}
}

// terminateProcess removes a process and all of its threads from the state.
func (s *ExecutionState) terminateProcess(pid uint64) {
	p := s.processes[pid]
	assert(p != nil, "terminating unknown process %d", pid)
	for uid := range p.Threads {
		assert(uid != s.current, "terminating the process of the current thread %s", uid)
		delete(s.threads, uid)
	}
	delete(s.processes, pid)
}

// removeWaiter takes uid off the wait list it sleeps on, if any.
func (s *ExecutionState) removeWaiter(uid ThreadUID) {
	t := s.threads[uid]
	if t == nil || t.WaitList == 0 {
		return
	}
	a := s.waitLists[t.WaitList]
	for i := range a {
		if a[i] == uid {
			a = append(a[:i:i], a[i+1:]...)
			break
		}
	}
	if len(a) == 0 {
		delete(s.waitLists, t.WaitList)
	} else {
		s.waitLists[t.WaitList] = a
	}
	t.WaitList = 0
}

// sleepThread disables the current thread and adds it to a wait list.
func (s *ExecutionState) sleepThread(wl WaitListID) {
	t := s.Thread()
	t.Enabled, t.WaitList = false, wl
	s.waitLists[wl] = insertThreadUID(s.waitLists[wl], t.UID)
}

// notifyOne wakes uid from the wait list.
func (s *ExecutionState) notifyOne(wl WaitListID, uid ThreadUID) {
	a := s.waitLists[wl]
	for i := range a {
		if a[i] == uid {
			s.waitLists[wl] = append(a[:i:i], a[i+1:]...)
			break
		}
	}
	if len(s.waitLists[wl]) == 0 {
		delete(s.waitLists, wl)
	}

	t := s.threads[uid]
	assert(t != nil, "notify of unknown thread %s", uid)
	t.Enabled, t.WaitList = true, 0
}

// notifyAll wakes every thread on the wait list.
func (s *ExecutionState) notifyAll(wl WaitListID) {
	for _, uid := range s.waitLists[wl] {
		if t := s.threads[uid]; t != nil {
			t.Enabled, t.WaitList = true, 0
		}
	}
	delete(s.waitLists, wl)
}

// WaitList returns the threads sleeping on wl in identity order.
func (s *ExecutionState) WaitList(wl WaitListID) []ThreadUID {
	return s.waitLists[wl]
}

// insertThreadUID adds uid to the sorted slice a if not present.
func insertThreadUID(a []ThreadUID, uid ThreadUID) []ThreadUID {
	i := sort.Search(len(a), func(i int) bool { return !a[i].less(uid) })
	if i < len(a) && a[i] == uid {
		return a
	}
	a = append(a, ThreadUID{})
	copy(a[i+1:], a[i:])
	a[i] = uid
	return a
}

// Frame returns the current stack frame of the current thread.
func (s *ExecutionState) Frame() *StackFrame {
	if t := s.Thread(); t != nil {
		return t.Frame()
	}
	return nil
}

// CallerFrame returns the parent of the current stack frame.
func (s *ExecutionState) CallerFrame() *StackFrame {
	if t := s.Thread(); t != nil {
		return t.CallerFrame()
	}
	return nil
}

// Instr returns the next SSA instruction of the current thread.
func (s *ExecutionState) Instr() ssa.Instruction {
	if frame := s.Frame(); frame != nil {
		return frame.Instr()
	}
	return nil
}

// Eval returns the expression or tuple bound to a given SSA value.
func (s *ExecutionState) Eval(value ssa.Value) Binding {
	return s.executor.eval(s, value)
}

// AddConstraint adds a constraint to the state. Panic if expr is a constant false.
func (s *ExecutionState) AddConstraint(expr Expr) {
	if expr, ok := expr.(*ConstantExpr); ok {
		assert(expr.IsTrue(), "invalid false constraint")
		return
	}

	// Split logical conjunctions into two separate constraints.
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND && ExprWidth(expr) == WidthBool {
		s.AddConstraint(expr.LHS)
		s.AddConstraint(expr.RHS)
		return
	}

	s.constraints = append(s.constraints, expr)
}

// addSymbolic records that mo was made symbolic with the contents of array.
func (s *ExecutionState) addSymbolic(mo *MemoryObject, array *Array) {
	s.symbolics = append(s.symbolics, SymbolicObject{Object: mo, Array: array})
}

// uniqueArrayName returns name, or name with a numeric suffix if an array
// of that name already exists on the path. The name is reserved.
func (s *ExecutionState) uniqueArrayName(name string) string {
	unique := name
	for id := 1; ; id++ {
		if _, ok := s.arrayNames[unique]; !ok {
			break
		}
		unique = fmt.Sprintf("%s_%d", name, id)
	}
	s.arrayNames[unique] = struct{}{}
	return unique
}

// dumpConfig prints thread tables without pointer noise.
var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
	MaxDepth:                3,
}

// Dump returns the contents of the state and frames as a string.
func (s *ExecutionState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "id=%d depth=%d\n", s.id, s.depth)
	fmt.Fprintf(&buf, "status=%s\n", s.status)
	fmt.Fprintf(&buf, "reason=%s\n", s.reason)
	fmt.Fprintf(&buf, "current=%s preemptions=%d\n", s.current, s.preemptions)
	fmt.Fprintln(&buf, "")

	for _, t := range s.Threads() {
		fmt.Fprintf(&buf, "== THREAD %s enabled=%v group=%d\n", t.UID, t.Enabled, t.GroupID)
		for i := len(t.Stack) - 1; i >= 0; i-- {
			fmt.Fprintf(&buf, "-- FRAME #%d\n", i)
			fmt.Fprintln(&buf, t.Stack[i].Dump())
		}
	}

	if len(s.waitLists) > 0 {
		fmt.Fprintln(&buf, "== WAIT LISTS")
		dumpConfig.Fdump(&buf, s.waitLists)
		fmt.Fprintln(&buf, "")
	}

	for _, p := range s.Processes() {
		fmt.Fprintf(&buf, "== PROCESS %d\n", p.PID)
		fmt.Fprintln(&buf, p.Space.Dump())
	}

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.constraints {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}
	return buf.String()
}

// dumpStack returns the call stack of the current thread, innermost first.
func (s *ExecutionState) dumpStack() string {
	var buf bytes.Buffer
	t := s.Thread()
	if t == nil {
		return ""
	}
	for i := len(t.Stack) - 1; i >= 0; i-- {
		f := t.Stack[i]
		var pos token.Position
		if s.executor != nil {
			if instr := f.Instr(); instr != nil {
				pos = s.executor.prog.Fset.Position(instr.Pos())
			}
		}
		fmt.Fprintf(&buf, "\t#%d %s", len(t.Stack)-1-i, f.fn.String())
		if pos.IsValid() {
			fmt.Fprintf(&buf, " at %s", pos)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// ExecutionStatus represents the current status of the execution state.
// The state will also include a reason if the status is not running.
type ExecutionStatus string

const (
	ExecutionStatusRunning  = ExecutionStatus("running")  // has future states
	ExecutionStatusFinished = ExecutionStatus("finished") // clean completion
	ExecutionStatusPanicked = ExecutionStatus("panicked") // panic occurred
	ExecutionStatusFailed   = ExecutionStatus("failed")   // error detected
	ExecutionStatusEarly    = ExecutionStatus("early")    // stopped by a resource limit
)
