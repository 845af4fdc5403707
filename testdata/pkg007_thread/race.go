package main

import (
	"github.com/benbjohnson/glee/v2/sym"
)

var counter int8

func race() {
	go increment()
	counter++
	sym.Yield()
}

func increment() {
	counter++
}
