package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func stringConcat() {
	a := sym.String(1)
	b := a + "o"

	if b == "go" {
		return
	}
	panic("unmatched")
}
