//go:build debug

package debug

import "fmt"

func ON() bool { return true }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
