package glee

import (
	"bytes"
	"fmt"
	"sync/atomic"
)

// Default array widths.
const (
	ArrayDomain = Width32 // index width
	ArrayRange  = Width8  // element width
)

// arrayIDSeq generates unique identifiers for arrays.
var arrayIDSeq uint64

func nextArrayID() uint64 {
	return atomic.AddUint64(&arrayIDSeq, 1)
}

// Array represents the root of a solver array. Symbolic arrays have no
// contents; constant arrays carry their initial element values.
type Array struct {
	ID     uint64 // unique id
	Name   string // user-visible name, not necessarily unique
	Size   uint   // number of elements
	Domain uint   // index width
	Range  uint   // element width

	// Initial values for constant arrays. Nil for symbolic arrays.
	Constants []*ConstantExpr
}

// NewArray returns a new symbolic byte array of the given size.
func NewArray(name string, size uint) *Array {
	return NewArrayWithRange(name, size, ArrayRange)
}

// NewArrayWithRange returns a new symbolic array with elements of rng bits.
func NewArrayWithRange(name string, size, rng uint) *Array {
	return &Array{
		ID:     nextArrayID(),
		Name:   name,
		Size:   size,
		Domain: ArrayDomain,
		Range:  rng,
	}
}

// NewConstantArray returns a new array of rng-bit elements initialized to
// values.
func NewConstantArray(name string, rng uint, values []*ConstantExpr) *Array {
	for _, v := range values {
		assert(v.Width == rng, "constant array width mismatch: %d != %d", v.Width, rng)
	}
	if values == nil {
		values = []*ConstantExpr{}
	}
	return &Array{
		ID:        nextArrayID(),
		Name:      name,
		Size:      uint(len(values)),
		Domain:    ArrayDomain,
		Range:     rng,
		Constants: values,
	}
}

// IsConstant returns true if the array has constant initial contents.
func (a *Array) IsConstant() bool {
	return a.Constants != nil
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.Name != "" {
		return fmt.Sprintf("(array #%d %s %d)", a.ID, a.Name, a.Size)
	}
	return fmt.Sprintf("(array #%d %d)", a.ID, a.Size)
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == b {
		return 0
	}

	if a.ID < b.ID {
		return -1
	} else if a.ID > b.ID {
		return 1
	}

	if a.Size < b.Size {
		return -1
	} else if a.Size > b.Size {
		return 1
	}
	return 0
}

// UpdateList represents a persistent list of writes on top of a root array.
// Extending a list never modifies it, so lists may share tails freely.
type UpdateList struct {
	Root *Array
	Head *ArrayUpdate // most recent update first
}

// NewUpdateList returns an empty update list over root.
func NewUpdateList(root *Array) UpdateList {
	return UpdateList{Root: root}
}

// Extend returns a new list with a write of value at index.
func (ul UpdateList) Extend(index, value Expr) UpdateList {
	assert(ExprWidth(value) == ul.Root.Range, "update width mismatch: %d != %d", ExprWidth(value), ul.Root.Range)
	return UpdateList{
		Root: ul.Root,
		Head: &ArrayUpdate{
			Index: NewCastExpr(index, ul.Root.Domain, false),
			Value: value,
			Next:  ul.Head,
		},
	}
}

// Len returns the number of updates in the list.
func (ul UpdateList) Len() int {
	var n int
	for upd := ul.Head; upd != nil; upd = upd.Next {
		n++
	}
	return n
}

// String returns a string representation of the list.
func (ul UpdateList) String() string {
	var buf bytes.Buffer
	buf.WriteRune('[')
	for upd := ul.Head; upd != nil; upd = upd.Next {
		fmt.Fprintf(&buf, "%s=%s", upd.Index, upd.Value)
		if upd.Next != nil {
			buf.WriteRune(' ')
		}
	}
	buf.WriteRune(']')
	buf.WriteRune('@')
	buf.WriteString(ul.Root.String())
	return buf.String()
}

// ArrayUpdate represents a write to an array element.
type ArrayUpdate struct {
	Index Expr // element index of update
	Value Expr // element value

	Next *ArrayUpdate // older updates
}

// CompareUpdateList returns an integer comparing two update lists.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareUpdateList(a, b UpdateList) int {
	if cmp := CompareArray(a.Root, b.Root); cmp != 0 {
		return cmp
	}
	return CompareArrayUpdate(a.Head, b.Head)
}

// CompareArrayUpdate returns an integer comparing two array updates.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	for {
		if a == b {
			return 0
		} else if a == nil {
			return -1
		} else if b == nil {
			return 1
		}

		if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
			return cmp
		} else if cmp := CompareExpr(a.Value, b.Value); cmp != 0 {
			return cmp
		}
		a, b = a.Next, b.Next
	}
}
