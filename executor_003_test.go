package glee_test

import (
	"testing"

	"github.com/benbjohnson/glee/v2"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Pkg003_Slice(t *testing.T) {
	prog := MustBuildProgram(t, "./testdata/pkg003_slice")

	t.Run("ByteSlice", func(t *testing.T) {
		e := MustRunFunction(t, prog, "sliceByteSlice", glee.DefaultConfig())
		require.Equal(t, []string{"", "panic.err"}, e.Suffixes())

		tc, _ := e.FindTestCase("", nil)
		require.Equal(t, "XY", string(tc.Objects[0].Bytes[1:3]))
		tc, _ = e.FindTestCase("panic.err", nil)
		require.NotEqual(t, "XY", string(tc.Objects[0].Bytes[1:3]))
	})

	t.Run("IndexAddr", func(t *testing.T) {
		e := MustRunFunction(t, prog, "byteSliceIndexAddr", glee.DefaultConfig())
		require.Equal(t, []string{"", "panic.err"}, e.Suffixes())

		tc, _ := e.FindTestCase("", nil)
		require.Equal(t, "YX", string(tc.Objects[0].Bytes[1:3]))
	})

	t.Run("Make", func(t *testing.T) {
		e := MustRunFunction(t, prog, "byteSliceMake", glee.DefaultConfig())
		require.Equal(t, []string{"", "panic.err"}, e.Suffixes())

		tc, _ := e.FindTestCase("", nil)
		require.Len(t, tc.Objects, 2)
		require.Equal(t, "byte", tc.Objects[0].Name)
		require.Equal(t, []byte("X"), tc.Objects[0].Bytes)
		require.Equal(t, []byte("Y"), tc.Objects[1].Bytes)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		e := MustRunFunction(t, prog, "byteSliceOutOfRange", glee.DefaultConfig())
		require.Equal(t, []string{"", "", "panic.err"}, e.Suffixes())

		tc, _ := e.FindTestCase("panic.err", nil)
		require.GreaterOrEqual(t, tc.Objects[0].Bytes[0], byte(4))
		require.Contains(t, tc.Message, "index out of range")

		// Only the index of the 'X' takes the true branch.
		tc, _ = e.FindTestCase("", func(tc *glee.TestCase) bool { return tc.Path[0] })
		require.NotNil(t, tc)
		require.Equal(t, []byte{1}, tc.Objects[0].Bytes)
	})

	t.Run("Append", func(t *testing.T) {
		e := MustRunFunction(t, prog, "byteSliceAppend", glee.DefaultConfig())
		require.Equal(t, []string{"", "", ""}, e.Suffixes())

		tc, _ := e.FindTestCase("", func(tc *glee.TestCase) bool { return string(tc.Objects[0].Bytes) == "go" })
		require.NotNil(t, tc, "no test case appends %q", "go")
	})
}
