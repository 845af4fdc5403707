package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func gtrImpossible() {
	a := sym.String(2)
	sym.Assume(a[0] == 'g')
	sym.Assume(a[1] <= 'o') // invalidate gtr

	if a > "go" {
		panic("unreachable")
	}
}
