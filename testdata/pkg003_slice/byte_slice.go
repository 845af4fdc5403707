package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func sliceByteSlice() {
	a := sym.Bytes(4)
	b := a[1:3]
	s := string(b)

	if s == "XY" {
		return
	}
	panic("unmatched")
}
