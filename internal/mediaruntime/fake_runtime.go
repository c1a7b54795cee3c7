// SPDX-License-Identifier: MIT

package mediaruntime

import (
	"fmt"
	"sync"
)

// FakeRuntime is a pure-Go Runtime used by internal/resilience and
// internal/streaming tests. It never touches GStreamer, so it exercises
// the ResilienceController's control-loop and classification logic
// without requiring the native library to be installed on the test
// machine.
type FakeRuntime struct {
	mu sync.Mutex

	// InitErr, if set, is returned by every InitProcess call.
	InitErr error

	// BuildErr, if set, is returned by every Build call instead of a
	// Pipeline.
	BuildErr error

	// AttachErr, if set, is returned by every AttachRTSPFactory call.
	AttachErr error

	// Outcomes is consumed in order, one per RunPipeline call; once
	// exhausted, RunPipeline blocks until stop fires and returns Stopped.
	Outcomes []RunOutcome

	initCalls   int
	buildCalls  int
	attachCalls int
	runCalls    int
	lastBuilt   string
	detached    []string
}

func (f *FakeRuntime) InitProcess() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.InitErr
}

type fakePipeline struct{ desc string }

func (p *fakePipeline) description() string { return p.desc }

func (f *FakeRuntime) Build(description string) (Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildCalls++
	f.lastBuilt = description
	if f.BuildErr != nil {
		return nil, f.BuildErr
	}
	return &fakePipeline{desc: description}, nil
}

type fakeFactory struct {
	runtime *FakeRuntime
	mount   string
}

func (h *fakeFactory) Detach() error {
	h.runtime.mu.Lock()
	defer h.runtime.mu.Unlock()
	h.runtime.detached = append(h.runtime.detached, h.mount)
	return nil
}

func (f *FakeRuntime) AttachRTSPFactory(port int, mount, description string, shared bool) (FactoryHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.AttachErr != nil {
		return nil, f.AttachErr
	}
	return &fakeFactory{runtime: f, mount: mount}, nil
}

// RunPipeline pops the next scripted outcome. If none remain, it blocks
// until stop fires, returning Stopped — mirroring a pipeline that is
// still healthily streaming when shutdown is requested.
func (f *FakeRuntime) RunPipeline(pipeline Pipeline, stop <-chan struct{}) (RunOutcome, error) {
	f.mu.Lock()
	f.runCalls++
	var next RunOutcome
	var ok bool
	if len(f.Outcomes) > 0 {
		next, f.Outcomes = f.Outcomes[0], f.Outcomes[1:]
		ok = true
	}
	f.mu.Unlock()

	if ok {
		return next, nil
	}
	<-stop
	return Stopped(), nil
}

// Calls returns (init, build, attach, run) invocation counts, useful for
// asserting the control loop retried the right number of times.
func (f *FakeRuntime) Calls() (init, build, attach, run int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.buildCalls, f.attachCalls, f.runCalls
}

// LastBuilt returns the description passed to the most recent Build call.
func (f *FakeRuntime) LastBuilt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBuilt
}

// Detached returns the mount points that have had Detach called on their
// factory handle, in call order.
func (f *FakeRuntime) Detached() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.detached))
	copy(out, f.detached)
	return out
}

var _ Runtime = (*FakeRuntime)(nil)

func (f *FakeRuntime) String() string {
	init, build, attach, run := f.Calls()
	return fmt.Sprintf("FakeRuntime{init=%d build=%d attach=%d run=%d}", init, build, attach, run)
}
