package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

var shared int8

func barrier() {
	wl := sym.NewWaitList()
	go reader(wl)
	shared = 1
	sym.Barrier(wl, 2)
}

func reader(wl sym.WaitList) {
	sym.Barrier(wl, 2)
	if shared != 1 {
		panic("lost write")
	}
}
