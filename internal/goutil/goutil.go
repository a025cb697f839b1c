package goutil

import (
	"log"
	"runtime/debug"
)

// SafeGo runs fn on a new goroutine. A panic is logged together with the
// goroutine name and stack before it is re-raised, so it is never lost
// when stderr is redirected.
func SafeGo(logger *log.Logger, name string, fn func()) {
	if logger == nil {
		panic("SafeGo: logger cannot be nil")
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC in %s: %v\n%s", name, r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
