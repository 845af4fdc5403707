package glee_test

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/benbjohnson/glee/v2"
	"github.com/stretchr/testify/require"
)

func TestPTree_Split(t *testing.T) {
	tree := glee.NewPTree(nil)
	root := tree.Root
	require.True(t, root.IsLeaf())

	l, r := tree.Split(root, nil, nil, glee.ForkTag{Class: glee.ForkSchedule, Location: "main.main"})
	require.False(t, root.IsLeaf())
	require.Same(t, root, l.Parent)
	require.Same(t, root, r.Parent)
	require.NotEqual(t, l.ID(), r.ID())
	require.Equal(t, glee.ForkSchedule, root.Tag.Class)

	t.Run("Remove", func(t *testing.T) {
		ll, lr := tree.Split(l, nil, nil, glee.ForkTag{})

		// Removing a leaf leaves its sibling under the parent.
		tree.Remove(ll)
		require.Nil(t, l.Left)
		require.Same(t, lr, l.Right)

		// The last leaf under a node prunes it from the tree.
		tree.Remove(lr)
		require.Nil(t, root.Left)
		require.Same(t, r, root.Right)

		tree.Remove(r)
		require.Nil(t, tree.Root)
	})
}

func TestPTree_RandomLeaf(t *testing.T) {
	tree := glee.NewPTree(nil)
	l, r := tree.Split(tree.Root, nil, nil, glee.ForkTag{})
	rl, rr := tree.Split(r, nil, nil, glee.ForkTag{})

	rand := rand.New(rand.NewSource(0))
	seen := make(map[*glee.PTreeNode]int)
	for i := 0; i < 1000; i++ {
		n := tree.RandomLeaf(rand)
		require.True(t, n.IsLeaf())
		seen[n]++
	}
	require.Len(t, seen, 3)

	// The shallow leaf is chosen about half the time.
	require.InDelta(t, 500, seen[l], 100)
	require.InDelta(t, 250, seen[rl], 100)
	require.InDelta(t, 250, seen[rr], 100)

	t.Run("Empty", func(t *testing.T) {
		tree := glee.NewPTree(nil)
		tree.Remove(tree.Root)
		require.Nil(t, tree.RandomLeaf(rand))
	})
}

func TestPTree_DOT(t *testing.T) {
	tree := glee.NewPTree(nil)
	l, _ := tree.Split(tree.Root, nil, nil, glee.ForkTag{Class: glee.ForkDefault, Location: "main.f"})
	tree.Split(l, nil, nil, glee.ForkTag{Class: glee.ForkInternal})

	g := tree.Graph()
	require.Len(t, g.Nodes, 5)
	require.Len(t, g.Edges, 4)
	require.Contains(t, g.Nodes, "n1 default@main.f")
	require.Contains(t, g.Nodes, "n2 internal")

	dot := tree.DOT("ptree")
	require.NotEmpty(t, dot)
	require.True(t, strings.Contains(dot, "internal"), dot)
}
