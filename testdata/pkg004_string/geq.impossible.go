package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func geqImpossible() {
	a := sym.String(2)
	sym.Assume(a[0] == 'g')
	sym.Assume(a[1] < 'o') // invalidate geq

	if a >= "go" {
		panic("unreachable")
	}
}
