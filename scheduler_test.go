package glee_test

import (
	"testing"

	"github.com/benbjohnson/glee/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

// newSchedulerExecutor returns an executor over main along with a worker
// function that takes no arguments.
func newSchedulerExecutor(tb testing.TB, config glee.Config) (*Executor, *ssa.Function) {
	tb.Helper()
	pkg := MustBuildPackage(tb, `package main

func main() {}

func worker() {}
`)
	return NewExecutor(pkg.Func("main"), config), pkg.Func("worker")
}

// leaves returns the states held by the path tree, left to right.
func leaves(n *glee.PTreeNode) []*glee.ExecutionState {
	if n == nil {
		return nil
	} else if n.IsLeaf() {
		return []*glee.ExecutionState{n.State}
	}
	return append(leaves(n.Left), leaves(n.Right)...)
}

func tid(state *glee.ExecutionState) uint64 {
	return state.Thread().UID.TID
}

func TestExecutor_Schedule(t *testing.T) {
	t.Run("NoPreemption", func(t *testing.T) {
		e, worker := newSchedulerExecutor(t, glee.DefaultConfig())
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)

		require.True(t, e.Schedule(state, false))
		require.Equal(t, uint64(1), tid(state))
		require.Len(t, leaves(e.PTree().Root), 1)
	})

	t.Run("Yield", func(t *testing.T) {
		e, worker := newSchedulerExecutor(t, glee.DefaultConfig())
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)

		require.True(t, e.Schedule(state, true))
		require.Equal(t, uint64(2), tid(state))
		require.True(t, e.Schedule(state, true))
		require.Equal(t, uint64(1), tid(state))
		require.Len(t, leaves(e.PTree().Root), 1)
	})

	t.Run("BoundedPreemption", func(t *testing.T) {
		config := glee.DefaultConfig()
		config.MaxPreemptions = 1
		e, worker := newSchedulerExecutor(t, config)
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)

		// A single extra state runs the worker instead.
		require.True(t, e.Schedule(state, false))
		a := leaves(e.PTree().Root)
		require.Len(t, a, 2)
		other := a[0]
		require.Same(t, state, a[1])
		require.Equal(t, uint64(1), tid(state))
		require.Equal(t, 0, state.Preemptions())
		require.Equal(t, uint64(2), tid(other))
		require.Equal(t, 1, other.Preemptions())
		require.Equal(t, glee.ForkSchedule, e.PTree().Root.Tag.Class)
		require.Equal(t, uint64(1), e.Stats().ScheduleForks.Load())

		// The preempted path has used up its bound.
		require.True(t, e.Schedule(other, false))
		require.Len(t, leaves(e.PTree().Root), 2)
		require.Equal(t, uint64(2), tid(other))
	})

	t.Run("ForkOnSchedule", func(t *testing.T) {
		config := glee.DefaultConfig()
		config.ForkOnSchedule = true
		e, worker := newSchedulerExecutor(t, config)
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)
		e.ThreadCreate(state, worker, nil)

		// Yielding explores every other thread but never the yielding one.
		require.True(t, e.Schedule(state, true))
		a := leaves(e.PTree().Root)
		require.Len(t, a, 2)

		var tids []uint64
		for _, s := range a {
			tids = append(tids, tid(s))
			require.Zero(t, s.Preemptions())
		}
		require.ElementsMatch(t, []uint64{2, 3}, tids)
	})

	t.Run("Deadlock", func(t *testing.T) {
		e, worker := newSchedulerExecutor(t, glee.DefaultConfig())
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)
		for _, th := range state.Threads() {
			th.Enabled = false
		}

		require.False(t, e.Schedule(state, false))
		require.True(t, state.Terminated())
		require.Equal(t, glee.ExecutionStatusFailed, state.Status())
		require.Equal(t, "deadlock", state.Reason())
		require.Equal(t, []string{"deadlock.err"}, e.Suffixes())
	})
}

func TestExecutor_ThreadExit(t *testing.T) {
	t.Run("Worker", func(t *testing.T) {
		e, worker := newSchedulerExecutor(t, glee.DefaultConfig())
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)
		e.Schedule(state, true)
		require.Equal(t, uint64(2), tid(state))

		e.ThreadExit(state)
		require.False(t, state.Terminated())
		require.Len(t, state.Threads(), 1)
		require.Equal(t, uint64(1), tid(state))
	})

	t.Run("Last", func(t *testing.T) {
		e, _ := newSchedulerExecutor(t, glee.DefaultConfig())
		state := e.RootState()

		e.ThreadExit(state)
		require.True(t, state.Terminated())
		require.Equal(t, glee.ExecutionStatusFinished, state.Status())
		require.Equal(t, []string{""}, e.Suffixes())
	})
}

func TestExecutor_ProcessFork(t *testing.T) {
	e, worker := newSchedulerExecutor(t, glee.DefaultConfig())
	state := e.RootState()
	e.ThreadCreate(state, worker, nil)

	mo := e.Memory().Allocate(1, false, false, "test")
	os := glee.NewObjectState(mo, glee.LittleEndian)
	os.InitializeToZero()
	state.Space(glee.GlobalSpace).Bind(mo, os)

	pid := e.ProcessFork(state, nil)
	require.Equal(t, uint64(2), pid)

	procs := state.Processes()
	require.Len(t, procs, 2)
	require.Equal(t, uint64(1), procs[1].PPID)
	require.Len(t, procs[1].Threads, 2)
	require.Len(t, state.Threads(), 4)

	// The child sees the parent memory until one of them writes.
	parent, child := procs[0].Space, procs[1].Space
	require.Same(t, parent.Find(mo), child.Find(mo))
	child.GetWriteable(mo, child.Find(mo)).Write8(0, 1, nil)
	if c := parent.Find(mo).Read8(0, nil).(*glee.ConstantExpr); !c.IsZero() {
		t.Fatalf("parent modified: %s", c)
	}

	t.Run("ProcessExit", func(t *testing.T) {
		e.ProcessExit(state)
		require.False(t, state.Terminated())
		require.Len(t, state.Processes(), 1)
		require.Equal(t, uint64(2), state.Thread().UID.PID)
		require.Len(t, state.Threads(), 2)

		e.ProcessExit(state)
		require.True(t, state.Terminated())
	})
}

func TestExecutor_WaitList(t *testing.T) {
	t.Run("NotifyOne", func(t *testing.T) {
		e, worker := newSchedulerExecutor(t, glee.DefaultConfig())
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)
		e.ThreadCreate(state, worker, nil)
		wl := e.NewWaitList(state)

		// Both workers go to sleep.
		e.Schedule(state, true)
		require.Equal(t, uint64(2), tid(state))
		require.True(t, e.Sleep(state, wl))
		require.Equal(t, uint64(3), tid(state))
		require.True(t, e.Sleep(state, wl))
		require.Equal(t, uint64(1), tid(state))
		require.Len(t, state.WaitList(wl), 2)

		e.NotifyOne(state, wl)
		require.Equal(t, []glee.ThreadUID{{TID: 3, PID: 1}}, state.WaitList(wl))
		require.True(t, state.ThreadByUID(glee.ThreadUID{TID: 2, PID: 1}).Enabled)

		e.NotifyAll(state, wl)
		require.Empty(t, state.WaitList(wl))
		for _, th := range state.Threads() {
			require.True(t, th.Enabled)
			require.Zero(t, th.WaitList)
		}
	})

	t.Run("NotifyOneForks", func(t *testing.T) {
		config := glee.DefaultConfig()
		config.ForkOnSchedule = true
		e, worker := newSchedulerExecutor(t, config)
		state := e.RootState()
		e.ThreadCreate(state, worker, nil)
		e.ThreadCreate(state, worker, nil)
		wl := e.NewWaitList(state)

		e.Schedule(state, true)
		e.Sleep(state, wl)
		e.Sleep(state, wl)
		require.Equal(t, uint64(1), tid(state))

		// One state per waiter, each waking a different thread.
		e.NotifyOne(state, wl)
		other := state.Node().Parent.Left.State
		require.NotSame(t, state, other)
		require.Equal(t, []glee.ThreadUID{{TID: 3, PID: 1}}, state.WaitList(wl))
		require.Equal(t, []glee.ThreadUID{{TID: 2, PID: 1}}, other.WaitList(wl))
	})

	t.Run("SleepDeadlock", func(t *testing.T) {
		e, _ := newSchedulerExecutor(t, glee.DefaultConfig())
		state := e.RootState()

		require.False(t, e.Sleep(state, e.NewWaitList(state)))
		require.Equal(t, []string{"deadlock.err"}, e.Suffixes())
	})
}

func TestExecutor_Barrier(t *testing.T) {
	e, worker := newSchedulerExecutor(t, glee.DefaultConfig())
	state := e.RootState()
	e.ThreadCreate(state, worker, nil)
	wl := e.NewWaitList(state)

	mo := e.Memory().Allocate(1, false, false, "test")
	os := glee.NewObjectState(mo, glee.LittleEndian)
	state.Space(glee.GlobalSpace).Bind(mo, os)
	os.Write8(0, 1, &glee.Access{ThreadID: 1, GroupID: glee.DefaultGroupID})

	// The first thread waits for the second.
	require.True(t, e.Barrier(state, wl, 2))
	require.Equal(t, uint64(2), tid(state))
	require.Len(t, state.WaitList(wl), 1)

	// The second releases both and the accesses before the barrier.
	require.True(t, e.Barrier(state, wl, 2))
	require.Empty(t, state.WaitList(wl))
	entry := state.Space(glee.GlobalSpace).Find(mo).Log().Entry(0)
	require.Zero(t, entry.ThreadID)
	require.True(t, entry.Write)

	acc := &glee.Access{ThreadID: 2, GroupID: glee.DefaultGroupID}
	state.Space(glee.GlobalSpace).Find(mo).Read8(0, acc)
	require.Empty(t, acc.Races)
}
