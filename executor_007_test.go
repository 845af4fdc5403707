package glee_test

import (
	"strings"
	"testing"

	"github.com/benbjohnson/glee/v2"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Pkg007_Thread(t *testing.T) {
	prog := MustBuildProgram(t, "./testdata/pkg007_thread")

	t.Run("Race", func(t *testing.T) {
		e := MustRunFunction(t, prog, "race", glee.DefaultConfig())
		require.Equal(t, []string{""}, e.Suffixes())

		// Races are reported without ending the path.
		races := e.TestCases[0].Races
		require.NotEmpty(t, races)
		for _, race := range races {
			require.Contains(t, race, "counter")
			require.Contains(t, race, "between threads 2 and 1")
		}
		require.Equal(t, uint64(len(races)), e.Stats().Races.Load())
	})

	t.Run("Barrier", func(t *testing.T) {
		e := MustRunFunction(t, prog, "barrier", glee.DefaultConfig())
		require.Equal(t, []string{""}, e.Suffixes())
		require.Empty(t, e.TestCases[0].Races)
	})

	t.Run("Fork", func(t *testing.T) {
		e := MustRunFunction(t, prog, "fork", glee.DefaultConfig())
		require.Equal(t, []string{""}, e.Suffixes(), "%v", e.TestCases)
		require.Empty(t, e.TestCases[0].Races)
	})

	t.Run("Preempt", func(t *testing.T) {
		t.Run("Disabled", func(t *testing.T) {
			e := MustRunFunction(t, prog, "preempt", glee.DefaultConfig())
			require.Equal(t, []string{""}, e.Suffixes())
			require.Zero(t, e.Stats().ScheduleForks.Load())
		})

		// One preemption lets the worker run first either at the go
		// statement or at the explicit preemption point.
		t.Run("Bounded", func(t *testing.T) {
			config := glee.DefaultConfig()
			config.MaxPreemptions = 1
			config.EmitAllErrors = true
			e := MustRunFunction(t, prog, "preempt", config)
			require.Equal(t, []string{"", "panic.err", "panic.err"}, e.Suffixes())
			require.Equal(t, uint64(2), e.Stats().ScheduleForks.Load())

			for _, tc := range e.TestCasesBySuffix()["panic.err"] {
				require.True(t, strings.HasPrefix(tc.Message, "Error: panic: worker ran first\n"), tc.Message)
				require.NotEmpty(t, tc.Races)
			}
		})
	})
}
