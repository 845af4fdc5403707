package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

var value int8

func fork() {
	value = 1
	if sym.Fork() == 0 {
		value = 2
		return
	}
	if value != 1 {
		panic("child write visible in parent")
	}
}
