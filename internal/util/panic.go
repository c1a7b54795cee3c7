// SPDX-License-Identifier: MIT

// Package util holds small cross-cutting helpers shared by both stages.
package util

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicContext names the pipeline boundary a recovered goroutine panic
// occurred in: the stage doing the work (e.g. "stage-a-detach",
// "stage-b-pipeline-build") and a domain detail — a mount point, an SRT
// URL, a session ID — identifying which running instance was affected. A
// bare string name cannot answer "which stream" once a process is driving
// more than one factory or bridge concern.
type PanicContext struct {
	Stage  string
	Detail string
}

func (c PanicContext) String() string {
	if c.Detail == "" {
		return c.Stage
	}
	return c.Stage + " " + c.Detail
}

// SafeGo runs fn in a new goroutine, recovering and logging any panic
// instead of letting it crash the process. Required for a pipeline meant
// to keep running across reconnects regardless of a single goroutine's
// failure. A nil logger discards the panic log line but still recovers.
func SafeGo(pc PanicContext, logger *slog.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(pc, logger, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithRecover runs fn in a new goroutine, recovering any panic and
// delivering it — or fn's returned error — on errCh, which is closed
// exactly once as the goroutine exits. A nil errCh is valid when the
// caller only needs the recovery side effect (logging).
func SafeGoWithRecover(pc PanicContext, logger *slog.Logger, fn func() error, errCh chan<- error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(pc, logger, r, debug.Stack())
				if errCh != nil {
					errCh <- fmt.Errorf("panic in %s: %v", pc, r)
					close(errCh)
				}
			}
		}()

		err := fn()
		if errCh != nil {
			if err != nil {
				errCh <- err
			}
			close(errCh)
		}
	}()
}

func logPanic(pc PanicContext, logger *slog.Logger, r any, stack []byte) {
	if logger == nil {
		return
	}
	logger.Error("goroutine panicked", "stage", pc.Stage, "detail", pc.Detail, "recovered", r, "stack", string(stack))
}

// RecoverToPanic runs fn and converts any panic into an error rather than
// letting it unwind past the caller. Useful where a stage's control loop
// must report a failed transition instead of terminating the process.
func RecoverToPanic(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}
