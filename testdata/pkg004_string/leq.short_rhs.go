package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func leqShortRHS() {
	a := sym.String(2)
	sym.Assume(a[0] == 'g')

	if a <= "g" {
		panic("unreachable")
	}
}
