package glee_test

import (
	"testing"

	"github.com/benbjohnson/glee/v2"
)

func TestExecutor_Pkg001_Call(t *testing.T) {
	prog := MustBuildProgram(t, "./testdata/pkg001_call")

	t.Run("Simple", func(t *testing.T) {
		e := MustRunFunction(t, prog, "caller", glee.DefaultConfig())

		// The 'if' in caller() is only feasible after the true branch of callee().
		if got, exp := e.Suffixes(), []string{"", "", ""}; len(got) != len(exp) {
			t.Fatalf("unexpected suffixes: %q", got)
		} else if n := e.Stats().Paths.Load(); n != 3 {
			t.Fatalf("unexpected path count: %d", n)
		}

		paths := make(map[string]*glee.TestCase)
		for _, tc := range e.TestCases {
			paths[formatPath(tc.Path)] = tc
		}

		// callee() true, caller() true.
		if tc := paths["TT"]; tc == nil {
			t.Fatalf("missing path TT: %v", paths)
		} else if x, y := int8(tc.Objects[0].Bytes[0]), int8(tc.Objects[1].Bytes[0]); int32(x)*int32(y)+1 != 0x0AB1 {
			t.Fatalf("unexpected 'x' & 'y': %d, %d", x, y)
		}

		// callee() true, caller() false.
		if tc := paths["TF"]; tc == nil {
			t.Fatalf("missing path TF: %v", paths)
		} else if x, y := int8(tc.Objects[0].Bytes[0]), int8(tc.Objects[1].Bytes[0]); int32(x)*int32(y) <= 10 || int32(x)*int32(y)+1 == 0x0AB1 {
			t.Fatalf("unexpected 'x' & 'y': %d, %d", x, y)
		}

		// callee() false. The true condition in caller() is impossible.
		if tc := paths["FF"]; tc == nil {
			t.Fatalf("missing path FF: %v", paths)
		} else if x, y := int8(tc.Objects[0].Bytes[0]), int8(tc.Objects[1].Bytes[0]); int32(x)*int32(y) > 10 {
			t.Fatalf("unexpected 'x' & 'y': %d, %d", x, y)
		}
	})
}

// formatPath returns the branch path as a string of 'T' and 'F'.
func formatPath(path []bool) string {
	b := make([]byte, len(path))
	for i, v := range path {
		if b[i] = 'F'; v {
			b[i] = 'T'
		}
	}
	return string(b)
}

func TestExecutor_Pkg001_Call_Dynamic(t *testing.T) {
	prog := MustBuildProgram(t, "./testdata/pkg001_call")
	e := MustRunFunction(t, prog, "dynamic", glee.DefaultConfig())

	// Both targets of the function value are called.
	if got, exp := e.Suffixes(), []string{"", ""}; len(got) != len(exp) {
		t.Fatalf("unexpected suffixes: %q", got)
	}
	paths := make(map[string]*glee.TestCase)
	for _, tc := range e.TestCases {
		paths[formatPath(tc.Path)] = tc
	}
	if tc := paths["T"]; tc == nil || int8(tc.Objects[0].Bytes[0]) <= 0 {
		t.Fatalf("unexpected path T: %v", paths)
	} else if tc := paths["F"]; tc == nil || int8(tc.Objects[0].Bytes[0]) > 0 {
		t.Fatalf("unexpected path F: %v", paths)
	}
}
