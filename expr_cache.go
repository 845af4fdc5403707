package glee

import (
	"encoding/binary"
	"runtime"
	"sync"
	"weak"

	"github.com/cespare/xxhash/v2"
)

// HashExpr returns a structural hash of expr. Structurally equal
// expressions always hash to the same value.
func HashExpr(expr Expr) uint64 {
	return hashExpr(expr, nil)
}

// hashExpr computes the structural hash of expr. If memo is non-nil then
// hashes of previously seen nodes are reused.
func hashExpr(expr Expr, memo map[Expr]uint64) uint64 {
	if memo != nil {
		if h, ok := memo[expr]; ok {
			return h
		}
	}

	d := xxhash.New()
	var buf [8]byte
	write := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}

	write(uint64(exprKind(expr)))
	write(uint64(ExprWidth(expr)))

	switch expr := expr.(type) {
	case *ConstantExpr:
		b := expr.Value.Bytes32()
		d.Write(b[:])
	case *BinaryExpr:
		write(uint64(expr.Op))
		write(hashExpr(expr.LHS, memo))
		write(hashExpr(expr.RHS, memo))
	case *CastExpr:
		if expr.Signed {
			write(1)
		}
		write(hashExpr(expr.Src, memo))
	case *ConcatExpr:
		write(hashExpr(expr.MSB, memo))
		write(hashExpr(expr.LSB, memo))
	case *ExtractExpr:
		write(uint64(expr.Offset))
		write(hashExpr(expr.Expr, memo))
	case *IteExpr:
		write(hashExpr(expr.Cond, memo))
		write(hashExpr(expr.Then, memo))
		write(hashExpr(expr.Else, memo))
	case *NotExpr:
		write(hashExpr(expr.Expr, memo))
	case *NotOptimizedExpr:
		write(hashExpr(expr.Src, memo))
	case *ReadExpr:
		write(expr.Updates.Root.ID)
		write(hashExpr(expr.Index, memo))
		for upd := expr.Updates.Head; upd != nil; upd = upd.Next {
			write(hashExpr(upd.Index, memo))
			write(hashExpr(upd.Value, memo))
		}
	default:
		panic("unreachable")
	}

	h := d.Sum64()
	if memo != nil {
		memo[expr] = h
	}
	return h
}

// Interner deduplicates structurally equal expressions so that equal
// sub-expressions are represented by a single shared node.
//
// Interned expressions are immutable and may be shared between states. The
// interner only holds weak references: a node is released once no state or
// parent node refers to it.
type Interner struct {
	mu    sync.Mutex
	table map[uint64][]weakExpr

	hits   int
	misses int
}

// NewInterner returns a new, empty instance of Interner.
func NewInterner() *Interner {
	return &Interner{
		table: make(map[uint64][]weakExpr),
	}
}

// Intern returns the canonical node for expr.
func (in *Interner) Intern(expr Expr) Expr {
	if expr == nil {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.intern(expr, make(map[Expr]uint64))
}

func (in *Interner) intern(expr Expr, memo map[Expr]uint64) Expr {
	// Rebuild node over canonical children. Constructors are bypassed since
	// the node is already simplified.
	switch e := expr.(type) {
	case *BinaryExpr:
		if lhs, rhs := in.intern(e.LHS, memo), in.intern(e.RHS, memo); lhs != e.LHS || rhs != e.RHS {
			expr = &BinaryExpr{Op: e.Op, LHS: lhs, RHS: rhs}
		}
	case *CastExpr:
		if src := in.intern(e.Src, memo); src != e.Src {
			expr = &CastExpr{Src: src, Width: e.Width, Signed: e.Signed}
		}
	case *ConcatExpr:
		if msb, lsb := in.intern(e.MSB, memo), in.intern(e.LSB, memo); msb != e.MSB || lsb != e.LSB {
			expr = &ConcatExpr{MSB: msb, LSB: lsb}
		}
	case *ExtractExpr:
		if x := in.intern(e.Expr, memo); x != e.Expr {
			expr = &ExtractExpr{Expr: x, Offset: e.Offset, Width: e.Width}
		}
	case *IteExpr:
		cond, then, els := in.intern(e.Cond, memo), in.intern(e.Then, memo), in.intern(e.Else, memo)
		if cond != e.Cond || then != e.Then || els != e.Else {
			expr = &IteExpr{Cond: cond, Then: then, Else: els}
		}
	case *NotExpr:
		if x := in.intern(e.Expr, memo); x != e.Expr {
			expr = &NotExpr{Expr: x}
		}
	case *NotOptimizedExpr:
		if src := in.intern(e.Src, memo); src != e.Src {
			expr = &NotOptimizedExpr{Src: src}
		}
	case *ReadExpr:
		if index := in.intern(e.Index, memo); index != e.Index {
			expr = &ReadExpr{Updates: e.Updates, Index: index}
		}
	}

	h := hashExpr(expr, memo)
	for _, ref := range in.table[h] {
		if other := ref.value(); other == nil {
			continue
		} else if other == expr || CompareExpr(expr, other) == 0 {
			in.hits++
			return other
		}
	}
	in.misses++
	in.table[h] = append(in.table[h], in.makeWeak(expr, h))
	return expr
}

// makeWeak returns a weak reference to expr. The bucket h is pruned once
// expr is reclaimed.
func (in *Interner) makeWeak(expr Expr, h uint64) weakExpr {
	switch e := expr.(type) {
	case *BinaryExpr:
		return newWeakRef(in, e, h)
	case *CastExpr:
		return newWeakRef(in, e, h)
	case *ConcatExpr:
		return newWeakRef(in, e, h)
	case *ConstantExpr:
		return newWeakRef(in, e, h)
	case *ExtractExpr:
		return newWeakRef(in, e, h)
	case *IteExpr:
		return newWeakRef(in, e, h)
	case *NotExpr:
		return newWeakRef(in, e, h)
	case *NotOptimizedExpr:
		return newWeakRef(in, e, h)
	case *ReadExpr:
		return newWeakRef(in, e, h)
	default:
		panic("unreachable")
	}
}

// prune drops reclaimed entries from bucket h.
func (in *Interner) prune(h uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()

	bucket := in.table[h][:0]
	for _, ref := range in.table[h] {
		if ref.value() != nil {
			bucket = append(bucket, ref)
		}
	}
	if len(bucket) == 0 {
		delete(in.table, h)
		return
	}
	in.table[h] = bucket
}

// Len returns the number of distinct live interned expressions.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	var n int
	for _, bucket := range in.table {
		for _, ref := range bucket {
			if ref.value() != nil {
				n++
			}
		}
	}
	return n
}

// Stats returns the number of lookups that found an existing node and the
// number that inserted a new one.
func (in *Interner) Stats() (hits, misses int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.hits, in.misses
}

// weakExpr is a weak reference to an interned expression.
type weakExpr interface {
	value() Expr
}

type weakRef[T any, PT interface {
	*T
	Expr
}] struct {
	p weak.Pointer[T]
}

func newWeakRef[T any, PT interface {
	*T
	Expr
}](in *Interner, e PT, h uint64) weakExpr {
	runtime.AddCleanup((*T)(e), in.prune, h)
	return weakRef[T, PT]{p: weak.Make((*T)(e))}
}

func (r weakRef[T, PT]) value() Expr {
	if v := r.p.Value(); v != nil {
		return PT(v)
	}
	return nil
}
