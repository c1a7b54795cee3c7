// SPDX-License-Identifier: MIT

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a StreamSession, distinct from
// ConnectionState: a session tracks whether Stage A's service has been
// asked to run, not the health of any individual RTSP connection.
type SessionState int

const (
	SessionStarting SessionState = iota
	SessionActive
	SessionStopping
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionStopping:
		return "stopping"
	case SessionStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// StreamSession is created by StreamingService when a stream starts, and
// destroyed when it stops. It embeds the configs the session was started
// with so a restart can reconstruct an identical pipeline.
type StreamSession struct {
	ID        string
	Stream    StreamConfig
	Server    ServerConfig
	StartedAt time.Time
	State     SessionState
}

// NewStreamSession creates a StreamSession in the Starting state with a
// freshly generated UUID.
func NewStreamSession(stream StreamConfig, server ServerConfig, startedAt time.Time) *StreamSession {
	return &StreamSession{
		ID:        uuid.NewString(),
		Stream:    stream,
		Server:    server,
		StartedAt: startedAt,
		State:     SessionStarting,
	}
}
