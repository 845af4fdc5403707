package glee_test

import (
	"math/rand"
	"testing"

	"github.com/benbjohnson/glee/v2"
	"github.com/stretchr/testify/require"
)

func newStates(n int) []*glee.ExecutionState {
	a := make([]*glee.ExecutionState, n)
	for i := range a {
		a[i] = &glee.ExecutionState{}
	}
	return a
}

func TestDFSSearcher(t *testing.T) {
	s, states := glee.NewDFSSearcher(), newStates(3)
	require.True(t, s.Empty())

	s.Update(nil, states[:1], nil)
	require.Same(t, states[0], s.SelectState())

	s.Update(states[0], states[1:], nil)
	require.Same(t, states[2], s.SelectState())

	s.Update(states[2], nil, states[2:])
	require.Same(t, states[1], s.SelectState())

	s.Update(nil, nil, states[:2])
	require.True(t, s.Empty())
}

func TestBFSSearcher(t *testing.T) {
	s, states := glee.NewBFSSearcher(), newStates(3)
	s.Update(nil, states[:2], nil)
	require.Same(t, states[0], s.SelectState())

	// Stepping without a fork keeps the current state at the front.
	s.Update(states[0], nil, nil)
	require.Same(t, states[0], s.SelectState())

	// A fork moves the current state behind its siblings.
	s.Update(states[0], states[2:], nil)
	require.Same(t, states[1], s.SelectState())

	s.Update(states[1], nil, states[1:2])
	require.Same(t, states[0], s.SelectState())
	s.Update(states[0], nil, states[:1])
	require.Same(t, states[2], s.SelectState())
}

func TestRandomSearcher(t *testing.T) {
	s, states := glee.NewRandomSearcher(rand.New(rand.NewSource(0))), newStates(4)
	s.Update(nil, states, nil)

	seen := make(map[*glee.ExecutionState]bool)
	for i := 0; i < 100; i++ {
		seen[s.SelectState()] = true
	}
	require.Len(t, seen, 4)

	s.Update(nil, nil, states)
	require.True(t, s.Empty())
}

func TestRandomPathSearcher(t *testing.T) {
	e := newForkExecutor(t, glee.DefaultConfig())
	state := e.RootState()
	other := e.ForkState(state, glee.ForkDefault)

	s := glee.NewRandomPathSearcher(e.Executor, rand.New(rand.NewSource(0)))
	require.False(t, s.Empty())

	seen := make(map[*glee.ExecutionState]bool)
	for i := 0; i < 100; i++ {
		seen[s.SelectState()] = true
	}
	require.True(t, seen[state])
	require.True(t, seen[other])
	require.Len(t, seen, 2)
}

func TestMultiSearcher(t *testing.T) {
	states := newStates(2)
	s := glee.NewMultiSearcher(glee.NewDFSSearcher(), glee.NewBFSSearcher())
	s.Update(nil, states, nil)

	require.Same(t, states[1], s.SelectState())
	require.Same(t, states[0], s.SelectState())
	require.Same(t, states[1], s.SelectState())

	s.Update(nil, nil, states)
	require.True(t, s.Empty())
}
