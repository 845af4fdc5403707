package glee_test

import (
	"testing"

	"github.com/benbjohnson/glee/v2"
	"github.com/google/go-cmp/cmp"
)

func TestArray(t *testing.T) {
	t.Run("Symbolic", func(t *testing.T) {
		a := glee.NewArray("x", 4)
		if a.IsConstant() {
			t.Fatal("expected symbolic array")
		} else if a.Domain != glee.ArrayDomain || a.Range != glee.ArrayRange {
			t.Fatalf("unexpected widths: %d -> %d", a.Domain, a.Range)
		}
	})

	t.Run("Constant", func(t *testing.T) {
		a := glee.NewConstantArray("c", glee.WidthBool, []*glee.ConstantExpr{
			glee.NewBoolConstantExpr(true),
			glee.NewBoolConstantExpr(false),
		})
		if !a.IsConstant() {
			t.Fatal("expected constant array")
		} else if a.Size != 2 {
			t.Fatalf("unexpected size: %d", a.Size)
		}
	})

	t.Run("EmptyConstant", func(t *testing.T) {
		if a := glee.NewConstantArray("c", 8, nil); !a.IsConstant() {
			t.Fatal("expected constant array")
		}
	})

	t.Run("UniqueID", func(t *testing.T) {
		if glee.NewArray("x", 1).ID == glee.NewArray("x", 1).ID {
			t.Fatal("expected unique ids")
		}
	})
}

func TestUpdateList(t *testing.T) {
	t.Run("Extend", func(t *testing.T) {
		root := glee.NewArray("x", 4)
		ul := glee.NewUpdateList(root)
		other := ul.Extend(glee.NewConstantExpr64(1), glee.NewConstantExpr8(2))

		if ul.Len() != 0 {
			t.Fatalf("unexpected original length: %d", ul.Len())
		} else if other.Len() != 1 {
			t.Fatalf("unexpected length: %d", other.Len())
		} else if diff := cmp.Diff(glee.NewConstantExpr32(1), other.Head.Index); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("SharedTail", func(t *testing.T) {
		ul := glee.NewUpdateList(glee.NewArray("x", 4)).Extend(glee.NewConstantExpr32(0), glee.NewConstantExpr8(1))
		a := ul.Extend(glee.NewConstantExpr32(1), glee.NewConstantExpr8(2))
		b := ul.Extend(glee.NewConstantExpr32(1), glee.NewConstantExpr8(3))
		if a.Head.Next != b.Head.Next {
			t.Fatal("expected shared tail")
		} else if glee.CompareUpdateList(a, b) != -1 {
			t.Fatal("expected a < b")
		}
	})

	t.Run("LatestWins", func(t *testing.T) {
		ul := glee.NewUpdateList(glee.NewArray("x", 4)).
			Extend(glee.NewConstantExpr32(0), glee.NewConstantExpr8(1)).
			Extend(glee.NewConstantExpr32(0), glee.NewConstantExpr8(2))
		if diff := cmp.Diff(glee.NewConstantExpr8(2), glee.NewReadExpr(ul, glee.NewConstantExpr32(0))); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestCompareArray(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if cmp := glee.CompareArray(nil, nil); cmp != 0 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArray(nil, glee.NewArray("", 2)); cmp != -1 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArray(glee.NewArray("", 2), nil); cmp != 1 {
			t.Fatalf("unexpected compare: %d", cmp)
		}
	})

	t.Run("ID", func(t *testing.T) {
		a, b := glee.NewArray("", 2), glee.NewArray("", 2)
		if cmp := glee.CompareArray(a, a); cmp != 0 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArray(a, b); cmp != -1 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArray(b, a); cmp != 1 {
			t.Fatalf("unexpected compare: %d", cmp)
		}
	})
}

func TestCompareArrayUpdate(t *testing.T) {
	newUpdate := func(index, value uint64, next *glee.ArrayUpdate) *glee.ArrayUpdate {
		return &glee.ArrayUpdate{Index: glee.NewConstantExpr32(index), Value: glee.NewConstantExpr8(value), Next: next}
	}

	t.Run("nil", func(t *testing.T) {
		upd := newUpdate(0, 0, nil)
		if cmp := glee.CompareArrayUpdate(nil, nil); cmp != 0 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArrayUpdate(nil, upd); cmp != -1 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArrayUpdate(upd, nil); cmp != 1 {
			t.Fatalf("unexpected compare: %d", cmp)
		}
	})

	t.Run("Index", func(t *testing.T) {
		a, b := newUpdate(0, 0, nil), newUpdate(1, 0, nil)
		if cmp := glee.CompareArrayUpdate(a, a); cmp != 0 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArrayUpdate(a, b); cmp != -1 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArrayUpdate(b, a); cmp != 1 {
			t.Fatalf("unexpected compare: %d", cmp)
		}
	})

	t.Run("Value", func(t *testing.T) {
		a, b := newUpdate(0, 0, nil), newUpdate(0, 1, nil)
		if cmp := glee.CompareArrayUpdate(a, b); cmp != -1 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArrayUpdate(b, a); cmp != 1 {
			t.Fatalf("unexpected compare: %d", cmp)
		}
	})

	t.Run("Next", func(t *testing.T) {
		a, b := newUpdate(0, 0, nil), newUpdate(0, 0, newUpdate(0, 0, nil))
		if cmp := glee.CompareArrayUpdate(a, b); cmp != -1 {
			t.Fatalf("unexpected compare: %d", cmp)
		} else if cmp := glee.CompareArrayUpdate(b, a); cmp != 1 {
			t.Fatalf("unexpected compare: %d", cmp)
		}
	})
}
