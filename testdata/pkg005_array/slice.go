package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func arraySlice() {
	a := sym.Bytes(4)
	var b [4]byte
	copy(b[:], a)

	if string(b[1:3]) == "XY" {
		return
	}
	panic("unmatched")
}
