package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func byteSliceOutOfRange() {
	a := make([]byte, 4)
	a[1] = 'X'
	i := sym.Uint8()
	if a[i] == 'X' {
		return
	}
}
