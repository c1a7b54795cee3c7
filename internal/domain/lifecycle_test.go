// SPDX-License-Identifier: MIT

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionLifecycle_AllowedTransitions(t *testing.T) {
	now := time.Now()
	l := NewConnectionLifecycle()
	require.Equal(t, StateIdle, l.Current().Kind)

	require.NoError(t, l.Transition(Connecting(), now))
	require.NoError(t, l.Transition(Streaming(now), now))
	require.NoError(t, l.Transition(Reconnecting(1, now.Add(time.Second)), now))
	require.NoError(t, l.Transition(Connecting(), now))
	require.NoError(t, l.Transition(Failed("shutdown"), now))
}

func TestConnectionLifecycle_InvalidTransitionRejectedWithoutMutation(t *testing.T) {
	now := time.Now()
	l := NewConnectionLifecycle()

	err := l.Transition(Streaming(now), now)
	require.Error(t, err)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	// State must be unmutated: still Idle, no history recorded.
	require.Equal(t, StateIdle, l.Current().Kind)
	require.Empty(t, l.History())
}

func TestConnectionLifecycle_HistoryBoundedTo100(t *testing.T) {
	now := time.Now()
	l := NewConnectionLifecycle()
	require.NoError(t, l.Transition(Connecting(), now))

	// Oscillate Streaming <-> Reconnecting <-> Connecting well past 100 times.
	for i := 0; i < 150; i++ {
		require.NoError(t, l.Transition(Streaming(now), now))
		require.NoError(t, l.Transition(Reconnecting(uint32(i), now), now))
		require.NoError(t, l.Transition(Connecting(), now))
	}

	require.LessOrEqual(t, len(l.History()), 100)
}

func TestConnectionLifecycle_StartedAtSetOnceAndMonotonic(t *testing.T) {
	base := time.Now()
	l := NewConnectionLifecycle()
	require.NoError(t, l.Transition(Connecting(), base))
	require.True(t, l.StartedAt().IsZero())

	require.NoError(t, l.Transition(Streaming(base), base))
	first := l.StartedAt()
	require.False(t, first.IsZero())

	later := base.Add(time.Minute)
	require.NoError(t, l.Transition(Reconnecting(1, later), later))
	require.NoError(t, l.Transition(Connecting(), later))
	require.NoError(t, l.Transition(Streaming(later), later))

	// StartedAt reflects the first arrival into Streaming, not the latest.
	require.Equal(t, first, l.StartedAt())
}

func TestConnectionStateKind_Metric(t *testing.T) {
	cases := map[ConnectionStateKind]float64{
		StateIdle:         0,
		StateConnecting:   1,
		StateStreaming:    2,
		StateReconnecting: 3,
		StateFailed:       4,
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.Metric())
	}
}
