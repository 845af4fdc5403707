package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

func byteSliceAppend() {
	b := make([]byte, 0, 1)
	b = append(b, sym.Bytes(2)...)

	if len(b) != 2 || cap(b) < 2 {
		panic("bad length")
	} else if b[0] == 'g' && b[1] == 'o' {
		return
	}
}
