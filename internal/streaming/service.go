// SPDX-License-Identifier: MIT

// Package streaming implements StreamingService, Stage A's passive RTSP
// source server: start/stop/is_streaming over a single shared on-demand
// factory. Unlike Stage B's ResilienceController, Stage A never
// reconnects on its own — client connect/disconnect is handled entirely
// by the media framework's shared factory.
package streaming

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/videobridge/retransport/internal/domain"
	"github.com/videobridge/retransport/internal/mediaruntime"
	"github.com/videobridge/retransport/internal/pipeline"
	"github.com/videobridge/retransport/internal/util"
)

// DefaultStopTimeout is how long Stop waits for the factory's Detach to
// return before it stops waiting.
const DefaultStopTimeout = 5 * time.Second

// Service is Stage A's StreamingService.
type Service struct {
	runtime     mediaruntime.Runtime
	stopTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	session *domain.StreamSession
	factory mediaruntime.FactoryHandle
}

// New returns a Service backed by runtime. A nil logger disables logging.
func New(runtime mediaruntime.Runtime, logger *slog.Logger) *Service {
	return &Service{runtime: runtime, stopTimeout: DefaultStopTimeout, logger: logger}
}

func (s *Service) logf(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

// Start builds the Stage A launch description, attaches it as a shared
// on-demand RTSP factory, and records a StreamSession. Fails with
// *domain.AlreadyStreamingError if already Active.
func (s *Service) Start(ctx context.Context, stream domain.StreamConfig, server domain.ServerConfig) (*domain.StreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.State == domain.SessionActive {
		return nil, &domain.AlreadyStreamingError{}
	}

	if err := s.runtime.InitProcess(); err != nil {
		return nil, err
	}

	description, err := pipeline.BuildSourceDescription(stream)
	if err != nil {
		return nil, err
	}

	session := domain.NewStreamSession(stream, server, time.Now())

	factory, err := s.runtime.AttachRTSPFactory(server.Port(), server.MountPoint(), description, true)
	if err != nil {
		return nil, err
	}

	session.State = domain.SessionActive
	s.session = session
	s.factory = factory

	s.logf("stream started", "mount", server.MountPoint(), "port", server.Port(), "session", session.ID)
	return session, nil
}

// Stop detaches the RTSP factory, waiting up to the configured stop
// timeout (or until ctx is done) for Detach to return. If the wait ends
// first, Stop marks the session Stopped and returns the context's error;
// the Detach call is not interrupted and may still be running. Fails with
// *domain.NotStreamingError if not Active.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil || s.session.State != domain.SessionActive {
		s.mu.Unlock()
		return &domain.NotStreamingError{}
	}
	s.session.State = domain.SessionStopping
	factory := s.factory
	session := s.session
	s.mu.Unlock()

	deadline, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()

	done := make(chan error, 1)
	util.SafeGoWithRecover(util.PanicContext{Stage: "stage-a-detach", Detail: session.Server.MountPoint()}, s.logger, factory.Detach, done)

	var detachErr error
	select {
	case detachErr = <-done:
	case <-deadline.Done():
		detachErr = deadline.Err()
	}

	s.mu.Lock()
	session.State = domain.SessionStopped
	s.factory = nil
	s.mu.Unlock()

	s.logf("stream stopped", "mount", session.Server.MountPoint(), "session", session.ID)
	return detachErr
}

// IsStreaming reports whether the service is currently Active.
func (s *Service) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && s.session.State == domain.SessionActive
}

// Session returns the current session, or nil if none has been started.
func (s *Service) Session() *domain.StreamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}
