// SPDX-License-Identifier: MIT

package util

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestSafeGo(t *testing.T) {
	t.Run("normal execution", func(t *testing.T) {
		var buf bytes.Buffer
		executed := make(chan bool, 1)

		SafeGo(PanicContext{Stage: "test"}, testLogger(&buf), func() {
			executed <- true
		})

		select {
		case <-executed:
		case <-time.After(time.Second):
			t.Fatal("goroutine did not execute")
		}

		if buf.Len() > 0 {
			t.Errorf("unexpected log output: %s", buf.String())
		}
	})

	t.Run("panic recovery logs stage and detail", func(t *testing.T) {
		var buf bytes.Buffer
		var mu sync.Mutex
		done := make(chan struct{})

		SafeGo(PanicContext{Stage: "stage-a-detach", Detail: "/cam1"}, testLogger(&buf), func() {
			defer close(done)
			panic("test panic")
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("panic was not caught")
		}

		mu.Lock()
		logOutput := buf.String()
		mu.Unlock()
		for _, want := range []string{"goroutine panicked", "stage-a-detach", "/cam1", "test panic"} {
			if !strings.Contains(logOutput, want) {
				t.Errorf("log output missing %q, got: %s", want, logOutput)
			}
		}
	})

	t.Run("panic without logger does not crash", func(t *testing.T) {
		done := make(chan struct{})
		SafeGo(PanicContext{Stage: "test"}, nil, func() {
			defer close(done)
			panic("test panic")
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("panic was not caught")
		}
	})
}

func TestSafeGoWithRecover(t *testing.T) {
	t.Run("normal execution", func(t *testing.T) {
		var buf bytes.Buffer
		errCh := make(chan error, 1)

		SafeGoWithRecover(PanicContext{Stage: "test"}, testLogger(&buf), func() error {
			return nil
		}, errCh)

		err, ok := <-errCh
		if ok && err != nil {
			t.Errorf("expected nil error, got: %v", err)
		}
	})

	t.Run("error return", func(t *testing.T) {
		var buf bytes.Buffer
		errCh := make(chan error, 1)
		testErr := errors.New("test error")

		SafeGoWithRecover(PanicContext{Stage: "test"}, testLogger(&buf), func() error {
			return testErr
		}, errCh)

		if err := <-errCh; !errors.Is(err, testErr) {
			t.Errorf("expected test error, got: %v", err)
		}
	})

	t.Run("panic recovery delivers error and logs context", func(t *testing.T) {
		var buf bytes.Buffer
		errCh := make(chan error, 1)

		SafeGoWithRecover(PanicContext{Stage: "stage-a-detach", Detail: "/cam1"}, testLogger(&buf), func() error {
			panic("test panic")
		}, errCh)

		err := <-errCh
		if err == nil {
			t.Fatal("expected error from panic")
		}
		if !strings.Contains(err.Error(), "panic in stage-a-detach /cam1") {
			t.Errorf("error should name the panic context, got: %v", err)
		}

		logOutput := buf.String()
		if !strings.Contains(logOutput, "goroutine panicked") {
			t.Errorf("log output missing panic entry, got: %s", logOutput)
		}
	})

	t.Run("panic without error channel does not block", func(t *testing.T) {
		var buf bytes.Buffer
		done := make(chan struct{})

		SafeGoWithRecover(PanicContext{Stage: "test"}, testLogger(&buf), func() error {
			defer close(done)
			panic("test panic")
		}, nil)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("panic was not caught")
		}
	})
}

func TestRecoverToPanic(t *testing.T) {
	t.Run("normal execution", func(t *testing.T) {
		err := RecoverToPanic(func() error { return nil })
		if err != nil {
			t.Errorf("expected nil error, got: %v", err)
		}
	})

	t.Run("error return", func(t *testing.T) {
		testErr := errors.New("test error")
		err := RecoverToPanic(func() error { return testErr })
		if !errors.Is(err, testErr) {
			t.Errorf("expected test error, got: %v", err)
		}
	})

	t.Run("panic conversion", func(t *testing.T) {
		err := RecoverToPanic(func() error {
			panic("test panic")
		})
		if err == nil {
			t.Fatal("expected error from panic")
		}
		if !strings.Contains(err.Error(), "panic: test panic") {
			t.Errorf("error should contain panic message, got: %v", err)
		}
	})

	t.Run("panic with non-string value", func(t *testing.T) {
		err := RecoverToPanic(func() error {
			panic(42)
		})
		if err == nil || !strings.Contains(err.Error(), "panic:") {
			t.Errorf("expected a panic: error, got: %v", err)
		}
	})
}

func TestPanicContextString(t *testing.T) {
	if got := (PanicContext{Stage: "stage-b"}).String(); got != "stage-b" {
		t.Errorf("String() = %q, want %q", got, "stage-b")
	}
	if got := (PanicContext{Stage: "stage-b", Detail: "srt://relay/cam1"}).String(); got != "stage-b srt://relay/cam1" {
		t.Errorf("String() = %q, want stage and detail joined", got)
	}
}

func TestSafeGoConcurrency(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	var counter int
	const numGoroutines = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	logger := testLogger(&buf)
	for i := 0; i < numGoroutines; i++ {
		SafeGo(PanicContext{Stage: "worker"}, logger, func() {
			defer wg.Done()
			mu.Lock()
			counter++
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutines did not complete in time")
	}

	if counter != numGoroutines {
		t.Errorf("counter = %d, want %d", counter, numGoroutines)
	}
}

func BenchmarkSafeGo(b *testing.B) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		done := make(chan bool, 1)
		SafeGo(PanicContext{Stage: "bench"}, logger, func() {
			done <- true
		})
		<-done
	}
}

func BenchmarkRecoverToPanic(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = RecoverToPanic(func() error {
			return nil
		})
	}
}
