// Copyright (c) 2020 The kaspanet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package panics contains goroutine wrappers that recover panics, log
// them, and fail safe instead of taking the whole process down silently.
package panics

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/decred/slog"
)

// HandlePanic recovers a panic, logs it along with the goroutine's stack
// trace, and exits the process. It is meant to be deferred at the top of
// every long-running goroutine.
func HandlePanic(log slog.Logger, goroutineStackTrace []byte) {
	err := recover()
	if err == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		log.Criticalf("Fatal error: %+v", err)
		if goroutineStackTrace != nil {
			log.Criticalf("Goroutine stack trace: %s", goroutineStackTrace)
		}
		log.Criticalf("Stack trace: %s", debug.Stack())
		close(done)
	}()

	const panicHandlerTimeout = 5 * time.Second
	select {
	case <-time.After(panicHandlerTimeout):
		fmt.Fprintln(os.Stderr, "couldn't handle a fatal error, exiting")
	case <-done:
	}
	os.Exit(1)
}

// GoroutineWrapperFunc returns a "spawn" helper that starts f in a new
// goroutine with panic containment bound to log.
func GoroutineWrapperFunc(log slog.Logger) func(name string, f func()) {
	return func(name string, f func()) {
		stackTrace := debug.Stack()
		go func() {
			defer HandlePanic(log, stackTrace)
			f()
		}()
	}
}

// AfterFuncWrapperFunc returns a time.AfterFunc wrapper that handles panics.
func AfterFuncWrapperFunc(log slog.Logger) func(d time.Duration, f func()) *time.Timer {
	return func(d time.Duration, f func()) *time.Timer {
		stackTrace := debug.Stack()
		return time.AfterFunc(d, func() {
			defer HandlePanic(log, stackTrace)
			f()
		})
	}
}

// Exit logs a fatal message and terminates the process. Used for
// unrecoverable startup failures.
func Exit(log slog.Logger, message string) {
	log.Criticalf("%s", message)
	os.Exit(1)
}
