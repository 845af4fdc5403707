package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func byteSliceIndexAddr() {
	a := sym.Bytes(4)
	b := make([]byte, 2, 3)
	b[0] = a[2]
	b[1] = a[1]

	if string(b) == "XY" {
		return
	}
	panic("unmatched")
}
