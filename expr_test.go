package glee_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/benbjohnson/glee/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// read returns a read of element i of a symbolic array.
func read(a *glee.Array, i uint64) glee.Expr {
	return glee.NewReadExpr(glee.NewUpdateList(a), glee.NewConstantExpr32(i))
}

func TestExprWidth(t *testing.T) {
	a := glee.NewArray("a", 4)

	t.Run("ConstantExpr", func(t *testing.T) {
		if w := glee.ExprWidth(glee.NewConstantExpr(0, 8)); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("NotOptimizedExpr", func(t *testing.T) {
		if w := glee.ExprWidth(glee.NewNotOptimizedExpr(glee.NewConstantExpr(0, 8))); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("ReadExpr", func(t *testing.T) {
		if w := glee.ExprWidth(read(a, 0)); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("ConcatExpr", func(t *testing.T) {
		if w := glee.ExprWidth(&glee.ConcatExpr{
			MSB: glee.NewConstantExpr(0, 8),
			LSB: glee.NewConstantExpr(0, 16),
		}); w != 24 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("BinaryExpr", func(t *testing.T) {
		t.Run("Arithmetic", func(t *testing.T) {
			if w := glee.ExprWidth(&glee.BinaryExpr{Op: glee.ADD, LHS: read(a, 0), RHS: read(a, 1)}); w != 8 {
				t.Fatalf("unexpected width: %d", w)
			}
		})
		t.Run("Compare", func(t *testing.T) {
			if w := glee.ExprWidth(&glee.BinaryExpr{Op: glee.ULT, LHS: read(a, 0), RHS: read(a, 1)}); w != glee.WidthBool {
				t.Fatalf("unexpected width: %d", w)
			}
		})
	})
	t.Run("IteExpr", func(t *testing.T) {
		if w := glee.ExprWidth(&glee.IteExpr{
			Cond: glee.NewBoolConstantExpr(true),
			Then: glee.NewConstantExpr(0, 32),
			Else: glee.NewConstantExpr(0, 32),
		}); w != 32 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
}

func TestBinaryOp_String(t *testing.T) {
	if s := glee.ADD.String(); s != "add" {
		t.Fatalf("unexpected string: %s", s)
	} else if s := glee.SGE.String(); s != "sge" {
		t.Fatalf("unexpected string: %s", s)
	} else if s := glee.BinaryOp(100).String(); s != "BinaryOp<100>" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestBinaryOp_IsArithmetic(t *testing.T) {
	if !glee.ADD.IsArithmetic() || !glee.ASHR.IsArithmetic() {
		t.Fatal("expected arithmetic")
	} else if glee.EQ.IsArithmetic() {
		t.Fatal("expected non-arithmetic")
	}
}

func TestBinaryOp_IsCompare(t *testing.T) {
	if !glee.EQ.IsCompare() || !glee.SGE.IsCompare() {
		t.Fatal("expected compare")
	} else if glee.XOR.IsCompare() {
		t.Fatal("expected non-compare")
	}
}

func TestBinaryExpr_String(t *testing.T) {
	expr := &glee.BinaryExpr{Op: glee.ADD, LHS: glee.NewConstantExpr(0, 32), RHS: glee.NewConstantExpr(1, 32)}
	if s := expr.String(); s != "(add (const 0 32) (const 1 32))" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestNewBinaryExpr_ADD(t *testing.T) {
	x := read(glee.NewArray("x", 1), 0)

	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(10, 8),
			glee.NewBinaryExpr(glee.ADD, glee.NewConstantExpr(6, 8), glee.NewConstantExpr(4, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Overflow", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(44, 8),
			glee.NewBinaryExpr(glee.ADD, glee.NewConstantExpr(200, 8), glee.NewConstantExpr(100, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantLHSZero", func(t *testing.T) {
		if diff := cmp.Diff(x, glee.NewBinaryExpr(glee.ADD, glee.NewConstantExpr(0, 8), x)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantBool", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(0, 1),
			glee.NewBinaryExpr(glee.ADD, glee.NewConstantExpr(1, 1), glee.NewConstantExpr(1, 1)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantRHS", func(t *testing.T) {
		if diff := cmp.Diff(
			&glee.BinaryExpr{Op: glee.ADD, LHS: glee.NewConstantExpr(3, 8), RHS: x},
			glee.NewBinaryExpr(glee.ADD, x, glee.NewConstantExpr(3, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Associative", func(t *testing.T) {
		t.Run("ADD", func(t *testing.T) {
			if diff := cmp.Diff(
				&glee.BinaryExpr{Op: glee.ADD, LHS: glee.NewConstantExpr(4, 8), RHS: x},
				glee.NewBinaryExpr(
					glee.ADD,
					glee.NewConstantExpr(1, 8),
					&glee.BinaryExpr{Op: glee.ADD, LHS: glee.NewConstantExpr(3, 8), RHS: x},
				),
			); diff != "" {
				t.Fatal(diff)
			}
		})
	})
}

func TestNewBinaryExpr_SUB(t *testing.T) {
	x := read(glee.NewArray("x", 1), 0)

	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(6, 8),
			glee.NewBinaryExpr(glee.SUB, glee.NewConstantExpr(10, 8), glee.NewConstantExpr(4, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Underflow", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(255, 8),
			glee.NewBinaryExpr(glee.SUB, glee.NewConstantExpr(0, 8), glee.NewConstantExpr(1, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Self", func(t *testing.T) {
		if diff := cmp.Diff(glee.NewConstantExpr(0, 8), glee.NewBinaryExpr(glee.SUB, x, x)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantRHS", func(t *testing.T) {
		if diff := cmp.Diff(
			&glee.BinaryExpr{Op: glee.ADD, LHS: glee.NewConstantExpr(255, 8), RHS: x},
			glee.NewBinaryExpr(glee.SUB, x, glee.NewConstantExpr(1, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr_MUL(t *testing.T) {
	x := read(glee.NewArray("x", 1), 0)

	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(42, 8),
			glee.NewBinaryExpr(glee.MUL, glee.NewConstantExpr(6, 8), glee.NewConstantExpr(7, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("One", func(t *testing.T) {
		if diff := cmp.Diff(x, glee.NewBinaryExpr(glee.MUL, x, glee.NewConstantExpr(1, 8))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Zero", func(t *testing.T) {
		if diff := cmp.Diff(glee.NewConstantExpr(0, 8), glee.NewBinaryExpr(glee.MUL, x, glee.NewConstantExpr(0, 8))); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr_DIV(t *testing.T) {
	t.Run("Unsigned", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(3, 8),
			glee.NewBinaryExpr(glee.UDIV, glee.NewConstantExpr(7, 8), glee.NewConstantExpr(2, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Signed", func(t *testing.T) {
		// -7 / 2 == -3
		if diff := cmp.Diff(
			glee.NewConstantExpr(0xFD, 8),
			glee.NewBinaryExpr(glee.SDIV, glee.NewConstantExpr(0xF9, 8), glee.NewConstantExpr(2, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("DivideByZero", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(0, 8),
			glee.NewBinaryExpr(glee.UDIV, glee.NewConstantExpr(7, 8), glee.NewConstantExpr(0, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr_REM(t *testing.T) {
	t.Run("Unsigned", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(1, 8),
			glee.NewBinaryExpr(glee.UREM, glee.NewConstantExpr(7, 8), glee.NewConstantExpr(2, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Signed", func(t *testing.T) {
		// -7 % 2 == -1
		if diff := cmp.Diff(
			glee.NewConstantExpr(0xFF, 8),
			glee.NewBinaryExpr(glee.SREM, glee.NewConstantExpr(0xF9, 8), glee.NewConstantExpr(2, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr_Bitwise(t *testing.T) {
	x := read(glee.NewArray("x", 1), 0)

	t.Run("AND", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(0x30, 8),
			glee.NewBinaryExpr(glee.AND, glee.NewConstantExpr(0xF0, 8), glee.NewConstantExpr(0x3C, 8)),
		); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(x, glee.NewBinaryExpr(glee.AND, x, glee.NewConstantExpr(0xFF, 8))); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(glee.NewConstantExpr(0, 8), glee.NewBinaryExpr(glee.AND, glee.NewConstantExpr(0, 8), x)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("OR", func(t *testing.T) {
		if diff := cmp.Diff(x, glee.NewBinaryExpr(glee.OR, x, glee.NewConstantExpr(0, 8))); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(glee.NewConstantExpr(0xFF, 8), glee.NewBinaryExpr(glee.OR, x, glee.NewConstantExpr(0xFF, 8))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("XOR", func(t *testing.T) {
		if diff := cmp.Diff(x, glee.NewBinaryExpr(glee.XOR, x, glee.NewConstantExpr(0, 8))); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(
			glee.NewConstantExpr(0x0F, 8),
			glee.NewBinaryExpr(glee.XOR, glee.NewConstantExpr(0xFF, 8), glee.NewConstantExpr(0xF0, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr_Shift(t *testing.T) {
	t.Run("SHL", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(8, 8),
			glee.NewBinaryExpr(glee.SHL, glee.NewConstantExpr(1, 8), glee.NewConstantExpr(3, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("SHLOvershift", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(0, 8),
			glee.NewBinaryExpr(glee.SHL, glee.NewConstantExpr(1, 8), glee.NewConstantExpr(9, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("LSHR", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(1, 8),
			glee.NewBinaryExpr(glee.LSHR, glee.NewConstantExpr(0x80, 8), glee.NewConstantExpr(7, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ASHR", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewConstantExpr(0xFF, 8),
			glee.NewBinaryExpr(glee.ASHR, glee.NewConstantExpr(0x80, 8), glee.NewConstantExpr(7, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr_EQ(t *testing.T) {
	x := read(glee.NewArray("x", 1), 0)

	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewBoolConstantExpr(true),
			glee.NewBinaryExpr(glee.EQ, glee.NewConstantExpr(3, 8), glee.NewConstantExpr(3, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Self", func(t *testing.T) {
		if diff := cmp.Diff(glee.NewBoolConstantExpr(true), glee.NewBinaryExpr(glee.EQ, x, x)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantRHS", func(t *testing.T) {
		if diff := cmp.Diff(
			&glee.BinaryExpr{Op: glee.EQ, LHS: glee.NewConstantExpr(5, 8), RHS: x},
			glee.NewBinaryExpr(glee.EQ, x, glee.NewConstantExpr(5, 8)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("TrueEQ", func(t *testing.T) {
		cond := glee.NewBinaryExpr(glee.EQ, x, glee.NewConstantExpr(5, 8))
		if diff := cmp.Diff(cond, glee.NewBinaryExpr(glee.EQ, glee.NewBoolConstantExpr(true), cond)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ZExt", func(t *testing.T) {
		if diff := cmp.Diff(
			&glee.BinaryExpr{Op: glee.EQ, LHS: glee.NewConstantExpr(5, 8), RHS: x},
			glee.NewBinaryExpr(glee.EQ, glee.NewCastExpr(x, 32, false), glee.NewConstantExpr(5, 32)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ZExtOutOfRange", func(t *testing.T) {
		if diff := cmp.Diff(
			glee.NewBoolConstantExpr(false),
			glee.NewBinaryExpr(glee.EQ, glee.NewCastExpr(x, 32, false), glee.NewConstantExpr(300, 32)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr_NE(t *testing.T) {
	x := read(glee.NewArray("x", 1), 0)
	if diff := cmp.Diff(
		&glee.BinaryExpr{
			Op:  glee.EQ,
			LHS: glee.NewBoolConstantExpr(false),
			RHS: &glee.BinaryExpr{Op: glee.EQ, LHS: glee.NewConstantExpr(5, 8), RHS: x},
		},
		glee.NewBinaryExpr(glee.NE, x, glee.NewConstantExpr(5, 8)),
	); diff != "" {
		t.Fatal(diff)
	}
}

func TestNewBinaryExpr_Compare(t *testing.T) {
	for _, tt := range []struct {
		name     string
		op       glee.BinaryOp
		lhs, rhs uint64
		exp      bool
	}{
		{"ULT", glee.ULT, 1, 2, true},
		{"ULTNegative", glee.ULT, 0xFF, 1, false},
		{"UGT", glee.UGT, 0xFF, 1, true},
		{"ULE", glee.ULE, 2, 2, true},
		{"UGE", glee.UGE, 1, 2, false},
		{"SLT", glee.SLT, 0xFF, 1, true},
		{"SGT", glee.SGT, 0xFF, 1, false},
		{"SLE", glee.SLE, 0x80, 0x80, true},
		{"SGE", glee.SGE, 0x7F, 0x80, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := glee.NewBinaryExpr(tt.op, glee.NewConstantExpr(tt.lhs, 8), glee.NewConstantExpr(tt.rhs, 8))
			if diff := cmp.Diff(glee.NewBoolConstantExpr(tt.exp), got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestNewConcatExpr(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		got := glee.NewConcatExpr(glee.NewConstantExpr(0x80, 8), glee.NewConstantExpr(0xFF, 8))
		if diff := cmp.Diff(glee.NewConstantExpr(0x80FF, 16), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Extract", func(t *testing.T) {
		src := glee.NewCastExpr(read(glee.NewArray("x", 1), 0), 16, false)
		got := glee.NewConcatExpr(glee.NewExtractExpr(src, 8, 8), glee.NewExtractExpr(src, 0, 8))
		if diff := cmp.Diff(src, got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		a := glee.NewArray("a", 2)
		got := glee.NewConcatExpr(read(a, 1), read(a, 0))
		if diff := cmp.Diff(&glee.ConcatExpr{MSB: read(a, 1), LSB: read(a, 0)}, got); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestConcatExpr_String(t *testing.T) {
	expr := &glee.ConcatExpr{MSB: glee.NewConstantExpr(0, 8), LSB: glee.NewConstantExpr(1, 8)}
	if s := expr.String(); s != "(concat (const 0 8) (const 1 8))" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestNewExtractExpr(t *testing.T) {
	t.Run("SameWidth", func(t *testing.T) {
		got := glee.NewExtractExpr(glee.NewConstantExpr(100, 16), 0, 16)
		if diff := cmp.Diff(glee.NewConstantExpr(100, 16), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Constant", func(t *testing.T) {
		got := glee.NewExtractExpr(glee.NewConstantExpr(0xAABB, 16), 8, 8)
		if diff := cmp.Diff(glee.NewConstantExpr(0xAA, 8), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConcatMSB", func(t *testing.T) {
		a := glee.NewArray("a", 2)
		got := glee.NewExtractExpr(glee.NewConcatExpr(read(a, 1), read(a, 0)), 8, 8)
		if diff := cmp.Diff(read(a, 1), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConcatLSB", func(t *testing.T) {
		a := glee.NewArray("a", 2)
		got := glee.NewExtractExpr(glee.NewConcatExpr(read(a, 1), read(a, 0)), 0, 8)
		if diff := cmp.Diff(read(a, 0), got); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewNotExpr(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(glee.NewConstantExpr(0xF0, 8), glee.NewNotExpr(glee.NewConstantExpr(0x0F, 8))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		x := read(glee.NewArray("x", 1), 0)
		if diff := cmp.Diff(&glee.NotExpr{Expr: x}, glee.NewNotExpr(x)); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewCastExpr(t *testing.T) {
	t.Run("ZExt", func(t *testing.T) {
		if diff := cmp.Diff(glee.NewConstantExpr(0xFF, 16), glee.NewCastExpr(glee.NewConstantExpr(0xFF, 8), 16, false)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("SExt", func(t *testing.T) {
		if diff := cmp.Diff(glee.NewConstantExpr(0xFFFF, 16), glee.NewCastExpr(glee.NewConstantExpr(0xFF, 8), 16, true)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Truncate", func(t *testing.T) {
		if diff := cmp.Diff(glee.NewConstantExpr(0x34, 8), glee.NewCastExpr(glee.NewConstantExpr(0x1234, 16), 8, false)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		x := read(glee.NewArray("x", 1), 0)
		expr := glee.NewCastExpr(x, 16, true)
		if diff := cmp.Diff(&glee.CastExpr{Src: x, Width: 16, Signed: true}, expr); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestCastExpr_String(t *testing.T) {
	expr := &glee.CastExpr{Src: glee.NewConstantExpr(1, 8), Width: 16, Signed: true}
	if s := expr.String(); s != "(sext (const 1 8) 16)" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestConstantExpr_Int64(t *testing.T) {
	if v := glee.NewConstantExpr(0xFF, 8).Int64(); v != -1 {
		t.Fatalf("unexpected value: %d", v)
	} else if v := glee.NewConstantExpr(0x7F, 8).Int64(); v != 127 {
		t.Fatalf("unexpected value: %d", v)
	}
}

func TestConstantExpr_Wide(t *testing.T) {
	t.Run("Add", func(t *testing.T) {
		x := glee.NewConstantExpr(1<<63, 128)
		sum := x.Add(x)
		if sum.Uint64() != 0 {
			t.Fatalf("unexpected low bits: %d", sum.Uint64())
		} else if hi := sum.Extract(64, 64).Uint64(); hi != 1 {
			t.Fatalf("unexpected high bits: %d", hi)
		}
	})
	t.Run("Concat", func(t *testing.T) {
		v := glee.NewConstantExpr64(^uint64(0)).Concat(glee.NewConstantExpr64(0))
		if !v.Extract(64, 64).IsAllOnes() {
			t.Fatalf("unexpected value: %s", v)
		} else if v.Width != 128 {
			t.Fatalf("unexpected width: %d", v.Width)
		}
	})
	t.Run("SExt", func(t *testing.T) {
		v := glee.NewConstantExpr(0x80, 8).SExt(256)
		if v.Extract(0, 8).Uint64() != 0x80 {
			t.Fatalf("unexpected value: %s", v)
		} else if !v.Extract(8, 248).IsAllOnes() {
			t.Fatalf("unexpected value: %s", v)
		}
	})
}

func TestConstantExpr_IsTrue(t *testing.T) {
	if !glee.NewConstantExpr(1, 1).IsTrue() {
		t.Fatal("expected true")
	} else if glee.NewConstantExpr(0, 1).IsTrue() {
		t.Fatal("expected false")
	} else if glee.NewConstantExpr(1, 8).IsTrue() {
		t.Fatal("expected non-boolean to be false")
	}
}

func TestIsConstantFalse(t *testing.T) {
	if !glee.IsConstantFalse(glee.NewBoolConstantExpr(false)) {
		t.Fatal("expected false")
	} else if glee.IsConstantFalse(read(glee.NewArray("x", 1), 0)) {
		t.Fatal("expected symbolic expression to not be constant false")
	}
}

func TestNewIteExpr(t *testing.T) {
	a := glee.NewArray("a", 2)
	x, y := read(a, 0), read(a, 1)
	cond := glee.NewBinaryExpr(glee.EQ, x, glee.NewConstantExpr(5, 8))

	t.Run("ConstantCond", func(t *testing.T) {
		if diff := cmp.Diff(y, glee.NewIteExpr(glee.NewBoolConstantExpr(false), x, y)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("SameBranches", func(t *testing.T) {
		if diff := cmp.Diff(x, glee.NewIteExpr(cond, x, x)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Bool", func(t *testing.T) {
		if diff := cmp.Diff(cond, glee.NewIteExpr(cond, glee.NewBoolConstantExpr(true), glee.NewBoolConstantExpr(false))); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(
			glee.NewIsZeroExpr(cond),
			glee.NewIteExpr(cond, glee.NewBoolConstantExpr(false), glee.NewBoolConstantExpr(true)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		if diff := cmp.Diff(&glee.IteExpr{Cond: cond, Then: x, Else: y}, glee.NewIteExpr(cond, x, y)); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewReadExpr(t *testing.T) {
	t.Run("ConstantArray", func(t *testing.T) {
		a := glee.NewConstantArray("a", 8, []*glee.ConstantExpr{
			glee.NewConstantExpr8(1), glee.NewConstantExpr8(2), glee.NewConstantExpr8(3),
		})
		if diff := cmp.Diff(glee.NewConstantExpr8(2), read(a, 1)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Update", func(t *testing.T) {
		ul := glee.NewUpdateList(glee.NewArray("a", 4)).Extend(glee.NewConstantExpr32(0), glee.NewConstantExpr8(9))
		if diff := cmp.Diff(glee.NewConstantExpr8(9), glee.NewReadExpr(ul, glee.NewConstantExpr32(0))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("SymbolicUpdateIndex", func(t *testing.T) {
		x := read(glee.NewArray("x", 1), 0)
		ul := glee.NewUpdateList(glee.NewArray("a", 4)).Extend(x, glee.NewConstantExpr8(9))
		if _, ok := glee.NewReadExpr(ul, glee.NewConstantExpr32(0)).(*glee.ReadExpr); !ok {
			t.Fatal("expected read expression")
		}
	})
}

func TestCompareExpr(t *testing.T) {
	a := glee.NewArray("a", 2)

	t.Run("Equal", func(t *testing.T) {
		lhs := glee.NewBinaryExpr(glee.ADD, read(a, 0), read(a, 1))
		rhs := glee.NewBinaryExpr(glee.ADD, read(a, 0), read(a, 1))
		if cmp := glee.CompareExpr(lhs, rhs); cmp != 0 {
			t.Fatalf("unexpected comparison: %d", cmp)
		}
	})
	t.Run("Width", func(t *testing.T) {
		if cmp := glee.CompareExpr(glee.NewConstantExpr(1, 8), glee.NewConstantExpr(1, 16)); cmp != -1 {
			t.Fatalf("unexpected comparison: %d", cmp)
		}
	})
	t.Run("Kind", func(t *testing.T) {
		if cmp := glee.CompareExpr(read(a, 0), glee.NewConstantExpr(1, 8)); cmp != 1 {
			t.Fatalf("unexpected comparison: %d", cmp)
		}
	})
}

func TestFindArrays(t *testing.T) {
	a, b := glee.NewArray("a", 1), glee.NewArray("b", 1)
	c := glee.NewConstantArray("c", 8, []*glee.ConstantExpr{glee.NewConstantExpr8(0)})
	expr := glee.NewBinaryExpr(glee.ADD, read(b, 0), read(a, 0))
	other := glee.NewBinaryExpr(glee.EQ, glee.NewReadExpr(glee.NewUpdateList(c), read(a, 0)), glee.NewConstantExpr8(1))

	if diff := cmp.Diff([]*glee.Array{a, b}, glee.FindArrays(expr, other)); diff != "" {
		t.Fatal(diff)
	}
}

func TestExprEvaluator_Evaluate(t *testing.T) {
	a := glee.NewArray("a", 2)

	t.Run("OK", func(t *testing.T) {
		expr := glee.NewBinaryExpr(glee.ADD, read(a, 0), read(a, 1))
		if v, err := glee.NewExprEvaluator([]*glee.Array{a}, [][]byte{{3, 4}}).Evaluate(expr); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 7 {
			t.Fatalf("unexpected value: %s", v)
		}
	})
	t.Run("SymbolicIndex", func(t *testing.T) {
		expr := glee.NewReadExpr(glee.NewUpdateList(a), read(a, 0))
		if v, err := glee.NewExprEvaluator([]*glee.Array{a}, [][]byte{{1, 9}}).Evaluate(expr); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 9 {
			t.Fatalf("unexpected value: %s", v)
		}
	})
	t.Run("ErrArrayNotBound", func(t *testing.T) {
		if _, err := glee.NewExprEvaluator(nil, nil).Evaluate(read(a, 0)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestWalkExpr(t *testing.T) {
	a := glee.NewArray("a", 1)
	expr := glee.NewBinaryExpr(glee.ADD, read(a, 0), glee.NewConstantExpr8(3))

	got := glee.WalkExpr(replaceReads{value: glee.NewConstantExpr8(5)}, expr)
	if diff := cmp.Diff(glee.NewConstantExpr8(8), got); diff != "" {
		t.Fatal(diff)
	}
}

// replaceReads replaces every read expression with a constant.
type replaceReads struct {
	value glee.Expr
}

func (v replaceReads) Visit(expr glee.Expr) (glee.Expr, glee.ExprVisitor) {
	if _, ok := expr.(*glee.ReadExpr); ok {
		return v.value, nil
	}
	return expr, v
}

func TestHashExpr(t *testing.T) {
	a := glee.NewArray("a", 2)
	if glee.HashExpr(read(a, 0)) != glee.HashExpr(read(a, 0)) {
		t.Fatal("expected equal hashes")
	} else if glee.HashExpr(read(a, 0)) == glee.HashExpr(read(a, 1)) {
		t.Fatal("expected different hashes")
	}
}

func TestInterner_Intern(t *testing.T) {
	a := glee.NewArray("a", 2)
	in := glee.NewInterner()

	x := in.Intern(glee.NewBinaryExpr(glee.ADD, read(a, 0), read(a, 1)))
	y := in.Intern(glee.NewBinaryExpr(glee.ADD, read(a, 0), read(a, 1)))
	if x != y {
		t.Fatal("expected shared node")
	} else if hits, _ := in.Stats(); hits == 0 {
		t.Fatal("expected hits")
	}
}

func TestInterner_Release(t *testing.T) {
	a := glee.NewArray("a", 2)
	in := glee.NewInterner()

	// Keep one expression alive and drop the other.
	keep := in.Intern(glee.NewBinaryExpr(glee.ADD, read(a, 0), read(a, 1)))
	func() {
		in.Intern(glee.NewBinaryExpr(glee.MUL, read(a, 1), read(a, 0)))
	}()
	require.Equal(t, 6, in.Len())

	require.Eventually(t, func() bool {
		runtime.GC()
		return in.Len() == 5 // add, two reads, two indices
	}, 5*time.Second, 10*time.Millisecond)

	// Surviving nodes are still shared.
	if other := in.Intern(glee.NewBinaryExpr(glee.ADD, read(a, 0), read(a, 1))); other != keep {
		t.Fatal("expected shared node")
	}
	runtime.KeepAlive(keep)
}

func TestNotOptimizedExpr_String(t *testing.T) {
	expr := glee.NewNotOptimizedExpr(glee.NewConstantExpr(1, 8))
	if s := expr.String(); s != "(no-opt (const 1 8))" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestTuple_String(t *testing.T) {
	tuple := glee.Tuple{glee.NewConstantExpr(1, 8), glee.NewConstantExpr(2, 8)}
	if s := tuple.String(); s != "[(const 1 8) (const 2 8)]" {
		t.Fatalf("unexpected string: %s", s)
	}
}
