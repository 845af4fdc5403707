// Package sym declares the functions a program under test calls to
// introduce symbolic values and to drive the symbolic scheduler.
//
// Under the executor every call is intercepted. When the program runs
// natively the functions return zero values, threads are ordinary
// goroutines and the scheduling calls do nothing.
package sym

import (
	"os"
	"runtime"
	"unsafe"
)

// Int returns a symbolic int.
func Int() int { return 0 }

// Int8 returns a symbolic int8.
func Int8() int8 { return 0 }

// Int16 returns a symbolic int16.
func Int16() int16 { return 0 }

// Int32 returns a symbolic int32.
func Int32() int32 { return 0 }

// Int64 returns a symbolic int64.
func Int64() int64 { return 0 }

// Uint returns a symbolic uint.
func Uint() uint { return 0 }

// Uint8 returns a symbolic uint8.
func Uint8() uint8 { return 0 }

// Uint16 returns a symbolic uint16.
func Uint16() uint16 { return 0 }

// Uint32 returns a symbolic uint32.
func Uint32() uint32 { return 0 }

// Uint64 returns a symbolic uint64.
func Uint64() uint64 { return 0 }

// Uintptr returns a symbolic uintptr.
func Uintptr() uintptr { return 0 }

// Byte returns a symbolic byte.
func Byte() byte { return 0 }

// Rune returns a symbolic rune.
func Rune() rune { return 0 }

// Bool returns a symbolic bool.
func Bool() bool { return false }

// Bytes returns a slice of n symbolic bytes.
func Bytes(n int) []byte { return make([]byte, n) }

// String returns a string of n symbolic bytes.
func String(n int) string { return string(make([]byte, n)) }

// Assert reports an error on every path where cond can be false.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// Assume restricts the current path to inputs where cond holds. The path
// is reported as an error if cond can never hold.
func Assume(cond bool) {}

// WaitList identifies a set of sleeping threads.
type WaitList uint64

var waitListSeq WaitList

// NewWaitList returns a new, empty wait list.
func NewWaitList() WaitList {
	waitListSeq++
	return waitListSeq
}

// Yield schedules another enabled thread.
func Yield() { runtime.Gosched() }

// Preempt marks a point where the current thread may be preempted.
func Preempt() {}

// Sleep blocks the current thread on wl until it is notified.
func Sleep(wl WaitList) {}

// NotifyOne wakes a single thread sleeping on wl.
func NotifyOne(wl WaitList) {}

// NotifyAll wakes every thread sleeping on wl.
func NotifyAll(wl WaitList) {}

// Barrier blocks the current thread on wl until n threads have arrived.
// Accesses made by the workgroup before the barrier never race with
// accesses made after it.
func Barrier(wl WaitList, n int) {}

// ThreadID returns the id of the current thread.
func ThreadID() uint64 { return 1 }

// Fork duplicates the current process. Returns the child's pid in the
// parent and zero in the child.
func Fork() uint64 { return 0 }

// Exit ends the current process.
func Exit(code int) { os.Exit(code) }

// SetGroup moves the current thread into workgroup id.
func SetGroup(id uint64) {}

// GroupBytes returns n zeroed bytes shared by the current workgroup.
func GroupBytes(n int) []byte { return make([]byte, n) }

// Free releases a heap object.
func Free(p unsafe.Pointer) {}
