package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

// dynamic calls through a function value chosen by a symbolic branch.
func dynamic() int32 {
	x := sym.Int8()
	f := inc
	if x > 0 {
		f = dec
	}
	return f(x)
}

func inc(v int8) int32 { return int32(v) + 1 }

func dec(v int8) int32 { return int32(v) - 1 }
