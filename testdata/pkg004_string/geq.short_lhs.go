package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func geqShortLHS() {
	a := sym.String(1)
	sym.Assume(a[0] == 'g')

	if a >= "go" {
		panic("unreachable")
	}
}
