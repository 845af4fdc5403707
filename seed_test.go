package glee_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/glee/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestTestCase_WriteTo(t *testing.T) {
	tc := &glee.TestCase{
		Objects: []glee.TestObject{
			{Name: "uint8", Bytes: []byte{42}},
			{Name: "string", Bytes: []byte("go")},
		},
		Message: "Error: assertion failed\n",
		Suffix:  "assert.err",
		Path:    []bool{true, false},
	}

	var buf bytes.Buffer
	var _ io.WriterTo = tc
	n, err := tc.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	require.NotZero(t, n)

	other, err := glee.ReadTestCase(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(tc, other); diff != "" {
		t.Fatalf("mismatch:\n%s\n%s", diff, spew.Sdump(other))
	}

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test000001.yaml")
		require.NoError(t, glee.WriteTestCaseFile(path, tc))

		other, err := glee.ReadTestCaseFile(path)
		require.NoError(t, err)
		require.Equal(t, tc, other)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := glee.ReadTestCase(bytes.NewBufferString("objects: [[["))
		require.Error(t, err)
	})
}

func TestAssignment_Evaluate(t *testing.T) {
	x, y := glee.NewArray("x", 2), glee.NewArray("y", 1)
	a := glee.NewAssignment()
	a.Bind(x, []byte{5, 6})

	require.Equal(t, []*glee.Array{x}, a.Arrays())
	require.Equal(t, glee.NewConstantExpr8(6), a.Evaluate(read(x, 1)))

	cond := glee.NewBinaryExpr(glee.EQ, read(x, 0), glee.NewConstantExpr8(5))
	require.True(t, glee.IsConstantTrue(a.Evaluate(cond)))

	// Reads of unbound arrays stay symbolic.
	_, ok := a.Evaluate(read(y, 0)).(*glee.ReadExpr)
	require.True(t, ok)

	// Rebinding replaces the contents.
	a.Bind(x, []byte{0, 0})
	require.True(t, glee.IsConstantFalse(a.Evaluate(cond)))
	require.Len(t, a.Arrays(), 1)
}

func TestSeedInfo_NextInput(t *testing.T) {
	input := &glee.TestCase{Objects: []glee.TestObject{
		{Name: "a", Bytes: []byte{1}},
		{Name: "b", Bytes: []byte{2, 2}},
		{Name: "c", Bytes: []byte{3}},
	}}

	t.Run("Positional", func(t *testing.T) {
		si := glee.NewSeedInfo(input)
		for _, want := range []string{"a", "b", "c"} {
			obj := si.NextInput(&glee.MemoryObject{Name: "x", Size: 1}, false)
			require.NotNil(t, obj)
			require.Equal(t, want, obj.Name)
		}
		require.Nil(t, si.NextInput(&glee.MemoryObject{Name: "x", Size: 1}, false))
	})

	t.Run("ByName", func(t *testing.T) {
		si := glee.NewSeedInfo(input)
		require.Equal(t, "c", si.NextInput(&glee.MemoryObject{Name: "c", Size: 1}, true).Name)
		require.Equal(t, "b", si.NextInput(&glee.MemoryObject{Name: "b", Size: 2}, true).Name)

		// Falls back to the first unused object of the same size.
		require.Equal(t, "a", si.NextInput(&glee.MemoryObject{Name: "z", Size: 1}, true).Name)
		require.Nil(t, si.NextInput(&glee.MemoryObject{Name: "a", Size: 1}, true))
	})

	t.Run("ByNameSizeMismatch", func(t *testing.T) {
		si := glee.NewSeedInfo(input)
		require.Nil(t, si.NextInput(&glee.MemoryObject{Name: "z", Size: 4}, true))
	})
}

func TestSeedInfo_Patch(t *testing.T) {
	e := newForkExecutor(t, glee.DefaultConfig())
	state := e.RootState()
	x := glee.NewArray("x", 2)

	si := glee.NewSeedInfo(&glee.TestCase{})
	si.Assignment.Bind(x, []byte{5, 7})

	cond := glee.NewBinaryExpr(glee.EQ, read(x, 0), glee.NewConstantExpr8(9))
	require.NoError(t, si.Patch(context.Background(), state, cond, e.Solver()))

	values, ok := si.Assignment.Values(x)
	require.True(t, ok)
	require.Equal(t, []byte{9, 7}, values)
	require.True(t, glee.IsConstantTrue(si.Assignment.Evaluate(cond)))
}
