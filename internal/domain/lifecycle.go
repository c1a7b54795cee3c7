// SPDX-License-Identifier: MIT

package domain

import (
	"fmt"
	"time"
)

// ConnectionStateKind tags a ConnectionState variant. Reconnecting and
// Failed carry data that is meaningless in other states, so the state is
// modeled as a tagged variant rather than parallel booleans.
type ConnectionStateKind int

const (
	StateIdle ConnectionStateKind = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateFailed
)

// Metric returns the numeric value the spec's observability surface maps
// this state kind to: Idle=0, Connecting=1, Streaming=2, Reconnecting=3,
// Failed=4.
func (k ConnectionStateKind) Metric() float64 {
	return float64(k)
}

func (k ConnectionStateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// ConnectionState is the tagged variant describing the bridge's current
// connection to its RTSP source / SRT sink.
type ConnectionState struct {
	Kind ConnectionStateKind

	// Since is set only when Kind == StateStreaming.
	Since time.Time

	// Attempt and NextRetryAt are set only when Kind == StateReconnecting.
	Attempt     uint32
	NextRetryAt time.Time

	// Reason is set only when Kind == StateFailed.
	Reason string
}

// Idle returns the Idle state.
func Idle() ConnectionState { return ConnectionState{Kind: StateIdle} }

// Connecting returns the Connecting state.
func Connecting() ConnectionState { return ConnectionState{Kind: StateConnecting} }

// Streaming returns the Streaming state with the given start time.
func Streaming(since time.Time) ConnectionState {
	return ConnectionState{Kind: StateStreaming, Since: since}
}

// Reconnecting returns the Reconnecting state with the given attempt count
// and scheduled retry time.
func Reconnecting(attempt uint32, nextRetryAt time.Time) ConnectionState {
	return ConnectionState{Kind: StateReconnecting, Attempt: attempt, NextRetryAt: nextRetryAt}
}

// Failed returns the terminal Failed state with the given reason.
func Failed(reason string) ConnectionState {
	return ConnectionState{Kind: StateFailed, Reason: reason}
}

// transitionAllowed holds the set of (from, to) pairs permitted by §3 of the
// spec:
//
//	Idle          -> Connecting
//	Connecting    -> Streaming | Reconnecting
//	Streaming     -> Reconnecting
//	Reconnecting  -> Connecting
//	any           -> Failed
var transitionAllowed = map[ConnectionStateKind]map[ConnectionStateKind]bool{
	StateIdle:         {StateConnecting: true},
	StateConnecting:   {StateStreaming: true, StateReconnecting: true},
	StateStreaming:    {StateReconnecting: true},
	StateReconnecting: {StateConnecting: true},
}

func isAllowedTransition(from, to ConnectionStateKind) bool {
	if to == StateFailed {
		return true
	}
	return transitionAllowed[from][to]
}

// Transition records a single (from, to) change with its timestamp, kept in
// ConnectionLifecycle.History.
type Transition struct {
	From      ConnectionStateKind
	To        ConnectionStateKind
	Timestamp time.Time
}

// maxHistory bounds ConnectionLifecycle.History to the last 100 transitions
// per the spec's FIFO invariant.
const maxHistory = 100

// ConnectionLifecycle is the entity owned exclusively by the
// ResilienceController: it holds the current connection state, a bounded
// transition history, and the time of the first successful Streaming
// transition.
type ConnectionLifecycle struct {
	current   ConnectionState
	history   []Transition
	startedAt time.Time
}

// NewConnectionLifecycle returns a lifecycle starting in Idle.
func NewConnectionLifecycle() *ConnectionLifecycle {
	return &ConnectionLifecycle{current: Idle()}
}

// Current returns the current connection state.
func (l *ConnectionLifecycle) Current() ConnectionState { return l.current }

// History returns a copy of the bounded transition history, oldest first.
func (l *ConnectionLifecycle) History() []Transition {
	out := make([]Transition, len(l.history))
	copy(out, l.history)
	return out
}

// StartedAt returns the time of the first transition into Streaming, or the
// zero time if Streaming has never been reached.
func (l *ConnectionLifecycle) StartedAt() time.Time { return l.startedAt }

// Transition moves the lifecycle to next, appending to history and enforcing
// the allowed-transition table. An attempted invalid transition is a
// programming error: it is rejected and the lifecycle is left unmutated.
func (l *ConnectionLifecycle) Transition(next ConnectionState, now time.Time) error {
	if !isAllowedTransition(l.current.Kind, next.Kind) {
		return &InvalidTransitionError{From: l.current.Kind.String(), To: next.Kind.String()}
	}

	t := Transition{From: l.current.Kind, To: next.Kind, Timestamp: now}
	l.history = append(l.history, t)
	if len(l.history) > maxHistory {
		l.history = l.history[len(l.history)-maxHistory:]
	}

	if next.Kind == StateStreaming && l.startedAt.IsZero() {
		l.startedAt = now
	}
	// Monotonic per spec.md §8: StartedAt, once set, is never rewound by a
	// later Streaming entry — only the first arrival sets it. Successive
	// Streaming transitions after a reconnect keep the original StartedAt.
	// pipeline_uptime_seconds is not derived from StartedAt: the controller
	// computes it from the current Streaming state's Since.

	l.current = next
	return nil
}
