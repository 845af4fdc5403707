package glee_test

import (
	"testing"

	"github.com/benbjohnson/glee/v2"
)

func TestExecutor_Pkg005_Array(t *testing.T) {
	prog := MustBuildProgram(t, "./testdata/pkg005_array")

	t.Run("Slice", func(t *testing.T) {
		e := MustRunFunction(t, prog, "arraySlice", glee.DefaultConfig())

		// True 'if' block reads the copied bytes.
		if tc, _ := e.FindTestCase("", nil); tc == nil {
			t.Fatalf("expected normal exit: %v", e.Suffixes())
		} else if got, exp := string(tc.Objects[0].Bytes)[1:3], "XY"; got != exp {
			t.Fatalf("Objects[0]=%s, expected contains %s", got, exp)
		}

		// False 'if' block panics.
		if tc, pos := e.FindTestCase("panic.err", nil); tc == nil {
			t.Fatalf("expected panic: %v", e.Suffixes())
		} else if got, exp := pos.String(), `slice.go:15`; got != exp {
			t.Fatalf("unexpected position: %s", got)
		} else if got, exp := string(tc.Objects[0].Bytes)[1:3], "XY"; got == exp {
			t.Fatalf("Objects[0]=%s, expected NOT contains %s", got, exp)
		}
	})
}
