package glee

import (
	"log"

	"golang.org/x/tools/go/ssa"
)

// Schedule selects the thread of state that runs next.
//
// If the current thread is disabled or yield is set, the next enabled thread
// in round-robin order is scheduled. Otherwise the current thread keeps
// running, but while the path is within its preemption bound one state is
// forked per other enabled thread with that thread scheduled instead.
// Returns false if state was terminated because no thread can run.
func (e *Executor) Schedule(state *ExecutionState, yield bool) bool {
	var enabled int
	for _, t := range state.threads {
		if t.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		e.TerminateOnError(state, "deadlock", "deadlock.err", "")
		return false
	}

	var forkSchedule, incPreemptions bool
	oldUID := state.current
	if t := state.Thread(); t == nil || !t.Enabled || yield {
		uid := state.nextThread(oldUID)
		for !state.threads[uid].Enabled {
			uid = state.nextThread(uid)
		}
		state.scheduleNext(uid)
		forkSchedule = e.config.ForkOnSchedule
	} else if state.preemptions < e.config.MaxPreemptions {
		forkSchedule, incPreemptions = true, true
	}

	if forkSchedule {
		preemptions := state.preemptions
		finalUID := state.current
		lastState, class := state, ForkSchedule
		for uid := state.nextThread(finalUID); uid != finalUID; uid = state.nextThread(uid) {
			if !state.threads[uid].Enabled || (yield && uid == oldUID) {
				continue
			}

			other := e.ForkState(lastState, class)
			if incPreemptions {
				other.preemptions = preemptions + 1
			}
			other.scheduleNext(uid)
			lastState, class = other, ForkMulti
		}
	}

	if state.current != oldUID {
		log.Printf("[sched] state#%d: switch %s -> %s", state.id, oldUID, state.current)
	}
	return true
}

// scheduleThen runs the scheduler on state and applies fn to state and to
// every state forked by the scheduler.
func (e *Executor) scheduleThen(state *ExecutionState, fn func(*ExecutionState)) {
	n := len(e.added)
	if !e.Schedule(state, false) {
		return
	}
	fn(state)
	for _, other := range e.added[n:] {
		fn(other)
	}
}

// ThreadCreate starts a thread executing fn in the process of the current
// thread. The thread joins the workgroup of its creator.
func (e *Executor) ThreadCreate(state *ExecutionState, fn *ssa.Function, args []Binding) *Thread {
	assert(len(args) == len(fn.Params), "thread args mismatch: %d != %d", len(args), len(fn.Params))

	cur := state.Thread()
	state.tidSeq++
	t := state.createThread(state.tidSeq, cur.UID.PID, cur.GroupID, fn)

	frame := t.Frame()
	for i, param := range fn.Params {
		frame.bind(param, args[i])
	}

	log.Printf("[sched] state#%d: create thread %s (%s)", state.id, t.UID, fn.Name())
	return t
}

// ThreadExit ends the current thread. The state terminates normally when
// the last thread exits.
func (e *Executor) ThreadExit(state *ExecutionState) {
	if len(state.threads) == 1 {
		e.TerminateOnExit(state)
		return
	}

	uid := state.current
	state.Thread().Enabled = false
	e.scheduleThen(state, func(s *ExecutionState) {
		s.terminateThread(uid)
	})
}

// ProcessExit ends the process of the current thread. The state terminates
// normally when the last process exits.
func (e *Executor) ProcessExit(state *ExecutionState) {
	if len(state.processes) == 1 {
		e.TerminateOnExit(state)
		return
	}

	pid := state.current.PID
	for _, uid := range state.processes[pid].ThreadUIDs() {
		if t := state.threads[uid]; t.Enabled {
			t.Enabled = false
		} else {
			state.removeWaiter(uid)
		}
	}

	e.scheduleThen(state, func(s *ExecutionState) {
		s.terminateProcess(pid)
	})
}

// ProcessFork duplicates the process of the current thread together with
// its threads and address space. result receives the child pid in the
// parent and zero in the child. Returns the child pid.
func (e *Executor) ProcessFork(state *ExecutionState, result ssa.Value) uint64 {
	parent := state.Process()
	state.pidSeq++
	child := NewProcess(state.pidSeq, parent.PID)
	child.Space = parent.Space.Clone()
	state.processes[child.PID] = child

	for _, uid := range parent.ThreadUIDs() {
		t := state.threads[uid].Clone()
		t.UID = ThreadUID{TID: uid.TID, PID: child.PID}
		state.threads[t.UID] = t
		child.Threads[t.UID] = struct{}{}
		if t.WaitList != 0 {
			state.waitLists[t.WaitList] = insertThreadUID(state.waitLists[t.WaitList], t.UID)
		}
	}

	cur := state.current
	if result != nil {
		state.threads[cur].Frame().bind(result, NewConstantExpr64(child.PID))
		state.threads[ThreadUID{TID: cur.TID, PID: child.PID}].Frame().bind(result, NewConstantExpr64(0))
	}

	log.Printf("[sched] state#%d: fork process %d -> %d", state.id, parent.PID, child.PID)
	return child.PID
}

// NewWaitList allocates a wait list identifier unique within state.
func (e *Executor) NewWaitList(state *ExecutionState) WaitListID {
	state.waitListSeq++
	return state.waitListSeq
}

// Sleep puts the current thread on wl and schedules another thread.
func (e *Executor) Sleep(state *ExecutionState, wl WaitListID) bool {
	state.sleepThread(wl)
	return e.Schedule(state, false)
}

// NotifyOne wakes a single thread sleeping on wl. When every schedule is
// explored one state is forked per distinct waiter.
func (e *Executor) NotifyOne(state *ExecutionState, wl WaitListID) {
	waiters := append([]ThreadUID(nil), state.WaitList(wl)...)
	if !e.config.ForkOnSchedule || len(waiters) <= 1 {
		if len(waiters) > 0 {
			state.notifyOne(wl, waiters[0])
		}
		return
	}

	lastState, class := state, ForkSchedule
	for i, uid := range waiters {
		if i == len(waiters)-1 {
			lastState.notifyOne(wl, uid)
			break
		}
		other := e.ForkState(lastState, class)
		lastState.notifyOne(wl, uid)
		lastState, class = other, ForkMulti
	}
}

// NotifyAll wakes every thread sleeping on wl.
func (e *Executor) NotifyAll(state *ExecutionState, wl WaitListID) {
	state.notifyAll(wl)
}

// Barrier blocks the current thread on wl until n threads have arrived.
// The last thread to arrive wakes the others and releases the accesses of
// its workgroup from the race logs so the next phase starts clean.
func (e *Executor) Barrier(state *ExecutionState, wl WaitListID, n int) bool {
	if len(state.WaitList(wl))+1 < n {
		return e.Sleep(state, wl)
	}

	group := state.Thread().GroupID
	state.notifyAll(wl)
	state.Space(GroupSpace).ResetLogs(group, true)
	state.Space(GlobalSpace).ResetLogs(group, false)
	return true
}
