package glee

import (
	"math/rand"
)

// Searcher represents an object for choosing the next state to execute.
type Searcher interface {
	// SelectState returns the state to execute next. Only called when the
	// searcher is not empty.
	SelectState() *ExecutionState

	// Update notifies the searcher of the states added and removed by the
	// last step of current. current is nil outside of a step.
	Update(current *ExecutionState, added, removed []*ExecutionState)

	// Empty returns true if no state remains.
	Empty() bool
}

// removeState returns a with state removed, preserving order.
func removeState(a []*ExecutionState, state *ExecutionState) []*ExecutionState {
	for i := range a {
		if a[i] == state {
			return append(a[:i], a[i+1:]...)
		}
	}
	panic("glee: searcher removing unknown state")
}

// DFSSearcher executes the most recently added state until it terminates.
type DFSSearcher struct {
	states []*ExecutionState
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectState returns the last state added to the searcher.
func (s *DFSSearcher) SelectState() *ExecutionState {
	return s.states[len(s.states)-1]
}

// Update adds & removes states.
func (s *DFSSearcher) Update(current *ExecutionState, added, removed []*ExecutionState) {
	s.states = append(s.states, added...)
	for _, state := range removed {
		s.states = removeState(s.states, state)
	}
}

// Empty returns true if no state remains.
func (s *DFSSearcher) Empty() bool { return len(s.states) == 0 }

// BFSSearcher executes states in the order they were created. A state that
// forks is moved behind its siblings.
type BFSSearcher struct {
	states []*ExecutionState
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectState returns the first state in the queue.
func (s *BFSSearcher) SelectState() *ExecutionState {
	return s.states[0]
}

// Update adds & removes states.
func (s *BFSSearcher) Update(current *ExecutionState, added, removed []*ExecutionState) {
	// Rotate the current state to the back if it forked.
	if current != nil && len(added) > 0 && !containsState(removed, current) {
		s.states = append(removeState(s.states, current), current)
	}

	s.states = append(s.states, added...)
	for _, state := range removed {
		s.states = removeState(s.states, state)
	}
}

// Empty returns true if no state remains.
func (s *BFSSearcher) Empty() bool { return len(s.states) == 0 }

func containsState(a []*ExecutionState, state *ExecutionState) bool {
	for i := range a {
		if a[i] == state {
			return true
		}
	}
	return false
}

// RandomSearcher selects a uniformly random state.
type RandomSearcher struct {
	states []*ExecutionState
	rand   *rand.Rand
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{
		rand: rand,
	}
}

// SelectState returns a random execution state to explore.
func (s *RandomSearcher) SelectState() *ExecutionState {
	return s.states[s.rand.Intn(len(s.states))]
}

// Update adds & removes states.
func (s *RandomSearcher) Update(current *ExecutionState, added, removed []*ExecutionState) {
	s.states = append(s.states, added...)
	for _, state := range removed {
		s.states = removeState(s.states, state)
	}
}

// Empty returns true if no state remains.
func (s *RandomSearcher) Empty() bool { return len(s.states) == 0 }

// RandomPathSearcher walks the path tree from the root, choosing a random
// branch at each fork. States under shallow forks are favored.
type RandomPathSearcher struct {
	executor *Executor
	rand     *rand.Rand
}

// NewRandomPathSearcher returns a new instance of RandomPathSearcher.
func NewRandomPathSearcher(executor *Executor, rand *rand.Rand) *RandomPathSearcher {
	return &RandomPathSearcher{
		executor: executor,
		rand:     rand,
	}
}

// SelectState returns the state of a random leaf of the path tree.
func (s *RandomPathSearcher) SelectState() *ExecutionState {
	return s.executor.ptree.RandomLeaf(s.rand).State
}

// Update is a no-op. Searcher finds states from the executor's path tree.
func (s *RandomPathSearcher) Update(current *ExecutionState, added, removed []*ExecutionState) {}

// Empty returns true if the path tree has no leaves.
func (s *RandomPathSearcher) Empty() bool { return s.executor.ptree.Root == nil }

// MultiSearcher interleaves several searchers, switching searcher after
// every selection.
type MultiSearcher struct {
	searchers []Searcher
	index     int
}

// NewMultiSearcher returns a searcher that round-robins over searchers.
func NewMultiSearcher(searchers ...Searcher) *MultiSearcher {
	return &MultiSearcher{searchers: searchers}
}

// SelectState returns the state chosen by the next searcher in turn.
func (s *MultiSearcher) SelectState() *ExecutionState {
	state := s.searchers[s.index].SelectState()
	s.index = (s.index + 1) % len(s.searchers)
	return state
}

// Update forwards the update to every searcher.
func (s *MultiSearcher) Update(current *ExecutionState, added, removed []*ExecutionState) {
	for _, searcher := range s.searchers {
		searcher.Update(current, added, removed)
	}
}

// Empty returns true if no state remains.
func (s *MultiSearcher) Empty() bool { return s.searchers[0].Empty() }
