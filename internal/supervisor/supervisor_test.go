// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubService struct {
	name string
	run  func(ctx context.Context) error
}

func (s stubService) Name() string                 { return s.name }
func (s stubService) Run(ctx context.Context) error { return s.run(ctx) }

func TestSupervisor_ServeReturnsWhenContextCancelled(t *testing.T) {
	sup := New("test")
	started := make(chan struct{})

	sup.Add(stubService{name: "core", run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Serve(ctx) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("service never started")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down")
	}
}

func TestSupervisor_RestartsFailingChildWithoutStoppingSibling(t *testing.T) {
	sup := New("test")

	var failures int
	failing := make(chan struct{}, 1)
	sup.Add(stubService{name: "flaky", run: func(ctx context.Context) error {
		failures++
		select {
		case failing <- struct{}{}:
		default:
		}
		if failures < 3 {
			return errors.New("transient failure")
		}
		<-ctx.Done()
		return nil
	}})

	healthyRuns := make(chan struct{}, 8)
	sup.Add(stubService{name: "steady", run: func(ctx context.Context) error {
		healthyRuns <- struct{}{}
		<-ctx.Done()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Serve(ctx) }()

	require.Eventually(t, func() bool { return failures >= 3 }, 2*time.Second, time.Millisecond)
	require.Len(t, healthyRuns, 1, "the steady sibling must not be restarted by its neighbor's failures")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down")
	}
}

func TestSupervisor_ServeBackgroundDeliversTerminalError(t *testing.T) {
	sup := New("test")
	sup.Add(stubService{name: "core", run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ServeBackground never delivered a terminal value")
	}
}
