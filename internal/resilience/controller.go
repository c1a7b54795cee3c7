// SPDX-License-Identifier: MIT

// Package resilience implements the ResilienceController: the state
// machine that drives Stage B's bridge pipeline through connect, stream,
// reconnect and backoff, classifying every MediaRuntime outcome into an
// allowed ConnectionLifecycle transition.
//
// Reference: mediamtx-stream-manager.sh's restart loop, ported from
// "restart an exec.Cmd on nonzero exit" (internal/stream/manager.go in the
// audio daemon this package is descended from) to "classify a
// mediaruntime.RunOutcome", with the EOS-resets/error-advances split this
// domain requires that the audio daemon's process-exit model did not.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/videobridge/retransport/internal/domain"
	"github.com/videobridge/retransport/internal/mediaruntime"
)

// MetricsReporter receives every state transition the controller makes.
// A nil MetricsReporter is valid: Controller simply stops emitting.
type MetricsReporter interface {
	SetConnectionState(kind domain.ConnectionStateKind)
	IncReconnectAttempts()
	SetBackoffSeconds(seconds float64)
	SetUptimeSeconds(seconds float64)
}

// Config bundles what a Controller needs to run one bridge pipeline.
type Config struct {
	Runtime     mediaruntime.Runtime
	Description string
	Policy      domain.BackoffPolicy
	Metrics     MetricsReporter
	Logger      *slog.Logger // nil = no logging
}

// Controller owns a ConnectionLifecycle and drives it against a
// MediaRuntime according to spec.md §4.3's control loop. It is
// single-consumer: Run must not be called concurrently with itself.
type Controller struct {
	runtime     mediaruntime.Runtime
	description string
	policy      domain.BackoffPolicy
	metrics     MetricsReporter
	logger      *slog.Logger

	lifecycle *domain.ConnectionLifecycle

	mu                 sync.RWMutex
	totalAttempts      uint64
	consecutiveAttempt uint32

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// New returns a Controller ready to Run.
func New(cfg Config) *Controller {
	return &Controller{
		runtime:     cfg.Runtime,
		description: cfg.Description,
		policy:      cfg.Policy,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		lifecycle:   domain.NewConnectionLifecycle(),
		now:         time.Now,
		sleep:       interruptibleSleep,
	}
}

// Current returns the lifecycle's current connection state. Safe to call
// concurrently with Run.
func (c *Controller) Current() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lifecycle.Current()
}

func (c *Controller) logf(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Controller) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}

// Run executes the control loop until ctx is cancelled. It returns nil on
// an orderly shutdown; a non-nil error comes only from a failed
// InitProcess or from a lifecycle-invariant violation (a programming
// error).
func (c *Controller) Run(ctx context.Context) error {
	if err := c.runtime.InitProcess(); err != nil {
		return err
	}

	stopSignal := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stopSignal)
	}()

	c.emit(c.lifecycle.Current())

	delay := c.policy.Initial

	for {
		select {
		case <-ctx.Done():
			return c.finalizeShutdown()
		default:
		}

		if err := c.doTransition(domain.Connecting()); err != nil {
			return err
		}

		pipeline, err := c.runtime.Build(c.description)
		if err != nil {
			c.logError("pipeline build failed, will retry", "error", err, "delay", delay)
			if err := c.enterReconnecting(delay); err != nil {
				return err
			}
			if !c.sleep(ctx, delay) {
				return c.finalizeShutdown()
			}
			delay = c.policy.Next(delay)
			continue
		}

		since := c.now()
		if err := c.doTransition(domain.Streaming(since)); err != nil {
			return err
		}
		c.mu.Lock()
		c.consecutiveAttempt = 0
		c.mu.Unlock()

		outcome, err := c.runtime.RunPipeline(pipeline, stopSignal)
		if err != nil {
			outcome = mediaruntime.PipelineErrorOutcome(err.Error())
		}

		switch outcome.Kind {
		case mediaruntime.OutcomeStopped:
			return c.finalizeShutdown()

		case mediaruntime.OutcomeEndOfStream:
			c.logf("pipeline reached end-of-stream, reconnecting immediately")
			delay = c.policy.Initial
			if err := c.enterReconnecting(0); err != nil {
				return err
			}
			continue

		case mediaruntime.OutcomePipelineError:
			c.logError("pipeline error, backing off", "message", outcome.Message, "delay", delay)
			if err := c.enterReconnecting(delay); err != nil {
				return err
			}
			if !c.sleep(ctx, delay) {
				return c.finalizeShutdown()
			}
			delay = c.policy.Next(delay)
		}
	}
}

// enterReconnecting advances both the cumulative and consecutive attempt
// counters and transitions into Reconnecting. in specifies the delay
// until NextRetryAt, measured from now.
func (c *Controller) enterReconnecting(in time.Duration) error {
	c.mu.Lock()
	c.totalAttempts++
	c.consecutiveAttempt++
	attempt := c.consecutiveAttempt
	c.mu.Unlock()

	return c.doTransition(domain.Reconnecting(attempt, c.now().Add(in)))
}

// finalizeShutdown implements "if !running and in Reconnecting: transition
// Failed(shutdown)" — shutdown arriving at any other point in the loop
// leaves the lifecycle in its last recorded state.
func (c *Controller) finalizeShutdown() error {
	if c.Current().Kind == domain.StateReconnecting {
		return c.doTransition(domain.Failed("shutdown"))
	}
	return nil
}

func (c *Controller) doTransition(next domain.ConnectionState) error {
	c.mu.Lock()
	err := c.lifecycle.Transition(next, c.now())
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.emit(next)
	return nil
}

func (c *Controller) emit(state domain.ConnectionState) {
	if c.metrics == nil {
		return
	}
	c.metrics.SetConnectionState(state.Kind)

	switch state.Kind {
	case domain.StateReconnecting:
		c.metrics.IncReconnectAttempts()
		backoff := state.NextRetryAt.Sub(c.now())
		if backoff < 0 {
			backoff = 0
		}
		c.metrics.SetBackoffSeconds(backoff.Seconds())
	case domain.StateStreaming:
		c.metrics.SetBackoffSeconds(0)
	}

	// Uptime is only meaningful while actively Streaming; every other
	// state (including a fresh Streaming -> Reconnecting transition)
	// reports 0, matching the metric's documented contract.
	if state.Kind == domain.StateStreaming && !state.Since.IsZero() {
		c.metrics.SetUptimeSeconds(c.now().Sub(state.Since).Seconds())
	} else {
		c.metrics.SetUptimeSeconds(0)
	}
}

// interruptibleSleep blocks for d or until ctx is cancelled, returning
// false in the cancelled case. This is the backoff-sleep suspension
// point: cancellation must unwind within the poll granularity the caller
// chooses for d, never waiting out the full delay.
func interruptibleSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
