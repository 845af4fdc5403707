package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func assert() {
	x := sym.Uint8()
	if x > 100 {
		return
	}
	sym.Assert(x != 42)
}

func assume() {
	x := sym.Uint8()
	sym.Assume(x < 10)
	sym.Assume(x > 20)
}

func divide() uint8 {
	x := sym.Uint8()
	return 100 / x
}

func length() int {
	n := sym.Uint8() % 4
	b := sym.Bytes(int(n))
	return len(b)
}
