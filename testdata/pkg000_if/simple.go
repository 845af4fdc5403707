package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func simple() {
	x := sym.Uint16()
	if x == 0xAABB {
		return
	}
	panic("unmatched")
}

func twice() int {
	x, y := sym.Uint8(), sym.Uint8()
	n := 0
	if x == 1 {
		n++
	}
	if y == 2 {
		n++
	}
	return n
}
