package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func byteSliceMake() {
	i, j := 2, 3
	b := make([]byte, i, j)
	b[0] = sym.Byte()
	b[1] = sym.Byte()

	if string(b) == "XY" {
		return
	}
	panic("unmatched")
}
