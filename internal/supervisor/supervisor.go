// SPDX-License-Identifier: MIT

// Package supervisor provides a thin Erlang/OTP-style supervision tree for
// each composition root: the core service (StreamingService or
// ResilienceController) and the MetricsSurface HTTP server run as
// independent children, so a panic or failure in one does not take down
// the other.
//
// This wraps github.com/thejerf/suture/v4 rather than re-implementing a
// restart loop: suture already solves bounded restart intensity,
// goroutine-leak-free shutdown, and panic recovery, and does so with a
// battle-tested supervision-tree model this package would otherwise
// reinvent poorly.
package supervisor

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// Service is what a composition root supervises: a long-running task that
// blocks until ctx is cancelled or it hits an unrecoverable error.
type Service interface {
	// Run starts the service. It should block until ctx is cancelled or
	// the service encounters an unrecoverable error.
	Run(ctx context.Context) error

	// Name returns the service's identifier, used in suture's logs.
	Name() string
}

// Supervisor is a named suture.Supervisor restricted to the Service
// interface the composition roots use.
type Supervisor struct {
	inner *suture.Supervisor
}

// New returns a Supervisor with suture's default restart-intensity policy
// (bounded restarts within a rolling window before giving up).
func New(name string) *Supervisor {
	return &Supervisor{inner: suture.NewSimple(name)}
}

// Add registers svc as a supervised child. Safe to call before or after
// Serve has started.
func (s *Supervisor) Add(svc Service) {
	s.inner.Add(serviceAdapter{svc})
}

// Serve runs every added service and blocks until ctx is cancelled, at
// which point it stops all children and returns. A child that returns an
// error is restarted by suture according to its restart-intensity policy;
// Serve itself only returns once the whole tree is done (ctx cancellation
// or a fatal restart-budget exhaustion).
func (s *Supervisor) Serve(ctx context.Context) error {
	return s.inner.Serve(ctx)
}

// ServeBackground starts the supervision tree in a goroutine and returns
// a channel that receives the terminal error, mirroring suture's own
// ServeBackground helper.
func (s *Supervisor) ServeBackground(ctx context.Context) <-chan error {
	return s.inner.ServeBackground(ctx)
}

// serviceAdapter satisfies suture.Service (Serve(ctx) error) and
// fmt.Stringer (used for the service's name in suture's logs) on top of
// the composition root's simpler Service interface.
type serviceAdapter struct {
	Service
}

func (a serviceAdapter) Serve(ctx context.Context) error { return a.Run(ctx) }

func (a serviceAdapter) String() string { return a.Name() }

var _ fmt.Stringer = serviceAdapter{}
