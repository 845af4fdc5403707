package glee

import (
	"fmt"
	"math/rand"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// ForkClass identifies why a state was forked.
type ForkClass int

const (
	ForkDefault  ForkClass = iota // branch on a symbolic condition
	ForkInternal                  // memory resolution, allocation sizes
	ForkSchedule                  // scheduling decision
	ForkMulti                     // additional scheduling alternatives
	ForkUser                      // explicit process fork requested by the program
)

// String returns the name of the class.
func (c ForkClass) String() string {
	switch c {
	case ForkDefault:
		return "default"
	case ForkInternal:
		return "internal"
	case ForkSchedule:
		return "schedule"
	case ForkMulti:
		return "multi"
	case ForkUser:
		return "user"
	default:
		return fmt.Sprintf("ForkClass<%d>", int(c))
	}
}

// ForkTag annotates a split in the path tree.
type ForkTag struct {
	Class    ForkClass
	Location string // function executing when the fork occurred
}

// PTreeNode is a node in the path tree. Only leaves carry a state.
type PTreeNode struct {
	id     int
	Parent *PTreeNode
	Left   *PTreeNode
	Right  *PTreeNode
	State  *ExecutionState
	Tag    ForkTag
}

// ID returns the node identifier, unique within its tree.
func (n *PTreeNode) ID() int { return n.id }

// IsLeaf returns true if the node has no children.
func (n *PTreeNode) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// PTree records the fork history of every live state.
type PTree struct {
	Root *PTreeNode
	seq  int
}

// NewPTree returns a tree with a single leaf holding state.
func NewPTree(state *ExecutionState) *PTree {
	t := &PTree{}
	t.Root = t.newNode(nil, state)
	if state != nil {
		state.node = t.Root
	}
	return t
}

func (t *PTree) newNode(parent *PTreeNode, state *ExecutionState) *PTreeNode {
	t.seq++
	return &PTreeNode{id: t.seq, Parent: parent, State: state}
}

// Split turns the leaf n into an inner node with two new leaves holding
// left and right. Returns the new leaves.
func (t *PTree) Split(n *PTreeNode, left, right *ExecutionState, tag ForkTag) (*PTreeNode, *PTreeNode) {
	assert(n.IsLeaf(), "split of inner node %d", n.id)
	n.State, n.Tag = nil, tag
	n.Left, n.Right = t.newNode(n, left), t.newNode(n, right)
	return n.Left, n.Right
}

// Remove detaches the leaf n and prunes every ancestor left without
// children.
func (t *PTree) Remove(n *PTreeNode) {
	assert(n.IsLeaf(), "remove of inner node %d", n.id)
	n.State = nil
	for n != nil && n.IsLeaf() {
		p := n.Parent
		if p == nil {
			t.Root = nil
			return
		}
		if p.Left == n {
			p.Left = nil
		} else {
			p.Right = nil
		}
		n.Parent = nil
		n = p
	}
}

// RandomLeaf walks from the root choosing a random child at each inner
// node. Returns nil if the tree is empty.
func (t *PTree) RandomLeaf(rand *rand.Rand) *PTreeNode {
	n := t.Root
	for n != nil && !n.IsLeaf() {
		switch {
		case n.Left == nil:
			n = n.Right
		case n.Right == nil:
			n = n.Left
		case rand.Intn(2) == 0:
			n = n.Left
		default:
			n = n.Right
		}
	}
	return n
}

// Graph returns the tree as a lattice graph. Inner nodes are labeled with
// their fork tag and leaves with the state they hold.
func (t *PTree) Graph() *lattice.Graph {
	g := &lattice.Graph{}
	if t.Root == nil {
		return g
	}

	var visit func(n *PTreeNode)
	visit = func(n *PTreeNode) {
		name := t.label(n)
		g.Nodes = append(g.Nodes, name)
		for _, child := range []*PTreeNode{n.Left, n.Right} {
			if child == nil {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{Caller: name, Callee: t.label(child)})
			visit(child)
		}
	}
	visit(t.Root)
	g.Dedup()
	return g
}

func (t *PTree) label(n *PTreeNode) string {
	if n.IsLeaf() {
		if n.State != nil {
			return fmt.Sprintf("n%d state#%d", n.id, n.State.ID())
		}
		return fmt.Sprintf("n%d", n.id)
	}
	if n.Tag.Location != "" {
		return fmt.Sprintf("n%d %s@%s", n.id, n.Tag.Class, n.Tag.Location)
	}
	return fmt.Sprintf("n%d %s", n.id, n.Tag.Class)
}

// DOT renders the tree in Graphviz format.
func (t *PTree) DOT(title string) string {
	return render.DOT(t.Graph(), title)
}
