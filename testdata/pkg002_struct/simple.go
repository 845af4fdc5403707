package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func simple() {
	var t T
	t.A = 5
	t.B = sym.Int8()
	t.C = 7
	t.D = 8

	if int(t.A)+int(t.B) == t.C {
		return
	}
	panic("unmatched")
}

type T struct {
	A, B int8
	C    int
	D    int32
}
