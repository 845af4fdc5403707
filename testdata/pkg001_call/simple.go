package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func caller() {
	x := sym.Int8()
	y := sym.Int8()
	z := callee(x, y)
	if z == 0x0AB1 {
		return
	}
}

func callee(a, b int8) int32 {
	x := int32(a) * int32(b)
	if x > 10 {
		return x + 1
	}
	return x - 1
}
