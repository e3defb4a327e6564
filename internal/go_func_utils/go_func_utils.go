package go_func_utils

import (
	"context"
	"log"
	"runtime/debug"
	"runtime/pprof"
)

// SafeGo runs fn on a new goroutine labelled with name (visible in pprof
// goroutine dumps). A panic is written to logger with its stack before the
// process crashes, because the terminal dashboard swallows stderr.
func SafeGo(logger *log.Logger, name string, fn func()) {
	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(context.Background(), labels, func(context.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC in %s: %v\n%s", name, r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	})
}
