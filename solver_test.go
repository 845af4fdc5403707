package glee_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/glee/v2"
	"github.com/benbjohnson/glee/v2/enum"
	"github.com/stretchr/testify/require"
)

// SolverFunc adapts a function to the glee.Solver interface.
type SolverFunc func(ctx context.Context, constraints []glee.Expr, arrays []*glee.Array) (bool, [][]byte, error)

func (fn SolverFunc) Solve(ctx context.Context, constraints []glee.Expr, arrays []*glee.Array) (bool, [][]byte, error) {
	return fn(ctx, constraints, arrays)
}

func TestTimingSolver_Evaluate(t *testing.T) {
	ctx := context.Background()
	e := newForkExecutor(t, glee.DefaultConfig())
	state := e.RootState()
	x := read(glee.NewArray("x", 1), 0)
	require.NoError(t, e.AddConstraint(ctx, state, glee.NewBinaryExpr(glee.ULT, x, glee.NewConstantExpr8(10))))

	for _, tt := range []struct {
		cond glee.Expr
		want glee.Validity
	}{
		{glee.NewBinaryExpr(glee.ULT, x, glee.NewConstantExpr8(20)), glee.True},
		{glee.NewBinaryExpr(glee.UGT, x, glee.NewConstantExpr8(20)), glee.False},
		{glee.NewBinaryExpr(glee.EQ, x, glee.NewConstantExpr8(5)), glee.Unknown},
		{glee.NewBoolConstantExpr(true), glee.True},
	} {
		got, err := e.Solver().Evaluate(ctx, state, tt.cond)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, "%s", tt.cond)
	}
}

func TestTimingSolver_GetRange(t *testing.T) {
	ctx := context.Background()
	e := newForkExecutor(t, glee.DefaultConfig())
	state := e.RootState()
	x := read(glee.NewArray("x", 1), 0)
	require.NoError(t, e.AddConstraint(ctx, state, glee.NewBinaryExpr(glee.UGT, x, glee.NewConstantExpr8(2))))
	require.NoError(t, e.AddConstraint(ctx, state, glee.NewBinaryExpr(glee.ULT, x, glee.NewConstantExpr8(10))))

	t.Run("Int", func(t *testing.T) {
		min, max, err := e.Solver().GetRange(ctx, state, x)
		require.NoError(t, err)
		require.Equal(t, uint64(3), min.Uint64())
		require.Equal(t, uint64(9), max.Uint64())
	})

	t.Run("Bool", func(t *testing.T) {
		min, max, err := e.Solver().GetRange(ctx, state, glee.NewBinaryExpr(glee.EQ, x, glee.NewConstantExpr8(4)))
		require.NoError(t, err)
		require.True(t, min.IsFalse())
		require.True(t, max.IsTrue())
	})

	t.Run("Constant", func(t *testing.T) {
		min, max, err := e.Solver().GetRange(ctx, state, glee.NewConstantExpr8(7))
		require.NoError(t, err)
		require.Same(t, min, max)
	})
}

func TestTimingSolver_Timeout(t *testing.T) {
	blocking := SolverFunc(func(ctx context.Context, constraints []glee.Expr, arrays []*glee.Array) (bool, [][]byte, error) {
		<-ctx.Done()
		return false, nil, ctx.Err()
	})

	stats := glee.NewStats()
	s := glee.NewTimingSolver(blocking, stats)
	s.SetTimeout(10 * time.Millisecond)

	cond := glee.NewBinaryExpr(glee.EQ, read(glee.NewArray("x", 1), 0), glee.NewConstantExpr8(1))
	_, err := s.MayBeTrue(context.Background(), &glee.ExecutionState{}, cond)
	require.True(t, glee.IsSolverTimeout(err), "unexpected error: %v", err)
	require.Equal(t, uint64(1), stats.QueryTimeouts.Load())
	require.Equal(t, uint64(1), stats.Queries.Load())

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.MayBeTrue(ctx, &glee.ExecutionState{}, cond)
		require.Equal(t, context.Canceled, err)
	})
}

func TestTimingSolver_Error(t *testing.T) {
	errBroken := errors.New("broken")
	s := glee.NewTimingSolver(SolverFunc(func(ctx context.Context, constraints []glee.Expr, arrays []*glee.Array) (bool, [][]byte, error) {
		return false, nil, errBroken
	}), nil)

	cond := glee.NewBinaryExpr(glee.EQ, read(glee.NewArray("x", 1), 0), glee.NewConstantExpr8(1))
	_, err := s.MustBeTrue(context.Background(), &glee.ExecutionState{}, cond)

	var serr *glee.SolverError
	require.True(t, errors.As(err, &serr))
	require.Equal(t, "mustBeTrue", serr.Op)
	require.True(t, errors.Is(err, errBroken))
	require.False(t, glee.IsSolverTimeout(err))
}

func TestTimingSolver_GetInitialValues(t *testing.T) {
	ctx := context.Background()
	s := glee.NewTimingSolver(enum.NewSolver(), nil)
	x := glee.NewArray("x", 2)

	t.Run("NoArrays", func(t *testing.T) {
		values, err := s.GetInitialValues(ctx, &glee.ExecutionState{}, nil)
		require.NoError(t, err)
		require.Nil(t, values)
	})

	t.Run("Unconstrained", func(t *testing.T) {
		values, err := s.GetInitialValues(ctx, &glee.ExecutionState{}, []*glee.Array{x})
		require.NoError(t, err)
		require.Equal(t, [][]byte{{0, 0}}, values)
	})
}

func TestCachingSolver(t *testing.T) {
	var n int
	s := glee.NewCachingSolver(SolverFunc(func(ctx context.Context, constraints []glee.Expr, arrays []*glee.Array) (bool, [][]byte, error) {
		n++
		return true, [][]byte{{byte(n)}}, nil
	}))

	x := glee.NewArray("x", 1)
	cond := glee.NewBinaryExpr(glee.EQ, read(x, 0), glee.NewConstantExpr8(1))

	ok, values, err := s.Solve(context.Background(), []glee.Expr{cond}, []*glee.Array{x})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{{1}}, values)

	// Cached values are copies.
	values[0][0] = 0xFF
	_, values, err = s.Solve(context.Background(), []glee.Expr{cond}, []*glee.Array{x})
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1}}, values)
	require.Equal(t, 1, n)

	// A structurally equal query hits the cache too.
	other := glee.NewBinaryExpr(glee.EQ, read(x, 0), glee.NewConstantExpr8(1))
	_, _, err = s.Solve(context.Background(), []glee.Expr{other}, []*glee.Array{x})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Different arrays miss.
	_, _, err = s.Solve(context.Background(), []glee.Expr{cond}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	hits, misses := s.Stats()
	require.Equal(t, 2, hits)
	require.Equal(t, 2, misses)
}

func TestDedupSolver(t *testing.T) {
	var got []glee.Expr
	s := glee.NewDedupSolver(SolverFunc(func(ctx context.Context, constraints []glee.Expr, arrays []*glee.Array) (bool, [][]byte, error) {
		got = constraints
		return true, nil, nil
	}))

	x := read(glee.NewArray("x", 1), 0)
	a := glee.NewBinaryExpr(glee.EQ, x, glee.NewConstantExpr8(1))
	b := glee.NewBinaryExpr(glee.ULT, x, glee.NewConstantExpr8(2))

	ok, _, err := s.Solve(context.Background(), []glee.Expr{
		a,
		glee.NewBoolConstantExpr(true),
		b,
		glee.NewBinaryExpr(glee.EQ, x, glee.NewConstantExpr8(1)),
	}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []glee.Expr{a, b}, got)

	t.Run("ConstantFalse", func(t *testing.T) {
		got = nil
		ok, _, err := s.Solve(context.Background(), []glee.Expr{a, glee.NewBoolConstantExpr(false)}, nil)
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, got)
	})
}
