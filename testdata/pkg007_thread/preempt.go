package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

var flag int8

func preempt() {
	go set()
	sym.Preempt()
	if flag == 1 {
		panic("worker ran first")
	}
}

func set() {
	flag = 1
}
