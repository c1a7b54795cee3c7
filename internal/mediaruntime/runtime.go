// SPDX-License-Identifier: MIT

// Package mediaruntime isolates every GStreamer-specific detail behind a
// small capability interface: init_process, build, attach_rtsp_factory,
// run_pipeline. Nothing outside this package touches gst/gst.h directly —
// the ResilienceController and StreamingService only ever see Runtime,
// Pipeline, FactoryHandle and RunOutcome.
//
// The real implementation (GStreamerRuntime, in cgo_runtime.go) links
// against the system GStreamer installation via cgo, the same way the
// reference daemon this package's process-lifecycle code is descended
// from links against the system FFmpeg binary via exec.Command — both
// are "shell out to the installed media framework" at the OS boundary,
// just at different layers (process vs. C ABI).
package mediaruntime

import "time"

// RunOutcomeKind tags the reason run_pipeline returned.
type RunOutcomeKind int

const (
	OutcomeStopped RunOutcomeKind = iota
	OutcomeEndOfStream
	OutcomePipelineError
)

func (k RunOutcomeKind) String() string {
	switch k {
	case OutcomeStopped:
		return "stopped"
	case OutcomeEndOfStream:
		return "end-of-stream"
	case OutcomePipelineError:
		return "pipeline-error"
	default:
		return "unknown"
	}
}

// RunOutcome is the tagged result of a blocking RunPipeline call.
type RunOutcome struct {
	Kind RunOutcomeKind

	// Message is set only when Kind == OutcomePipelineError.
	Message string
}

// Stopped is returned when the stop signal fired before EOS or an error.
func Stopped() RunOutcome { return RunOutcome{Kind: OutcomeStopped} }

// EndOfStream is returned when the pipeline reached end-of-stream cleanly.
func EndOfStream() RunOutcome { return RunOutcome{Kind: OutcomeEndOfStream} }

// PipelineErrorOutcome is returned when the pipeline posted a fatal bus
// error.
func PipelineErrorOutcome(message string) RunOutcome {
	return RunOutcome{Kind: OutcomePipelineError, Message: message}
}

// pollInterval bounds how often RunPipeline checks the stop channel between
// bus polls; it must stay well under the 250ms cancellation-latency budget
// the ResilienceController's suspension points are held to.
const pollInterval = 100 * time.Millisecond

// Pipeline is an opaque built pipeline handle returned by Runtime.Build.
type Pipeline interface {
	// description is the launch string the pipeline was built from, kept
	// for diagnostics/logging only.
	description() string
}

// FactoryHandle is an opaque on-demand RTSP factory handle returned by
// Runtime.AttachRTSPFactory. Detach tears the factory (and its bound
// port, if this was the last mount on the server) down.
type FactoryHandle interface {
	Detach() error
}

// Runtime is the capability boundary every media-framework operation in
// the spec is expressed through.
type Runtime interface {
	// InitProcess performs one-time initialization of the native media
	// framework. Idempotent: safe to call from multiple composition roots
	// in the same process. Fails with *RuntimeInitError.
	InitProcess() error

	// Build parses description into a Pipeline handle. Fails with
	// *PipelineParseError; the ResilienceController retries a failed Build
	// under the same backoff policy as a pipeline error.
	Build(description string) (Pipeline, error)

	// AttachRTSPFactory registers an on-demand RTSP factory on port at
	// mount, serving description. The port is bound as part of this call.
	// shared=true means GStreamer reuses one running pipeline across
	// concurrent subscribers rather than spawning one per client.
	AttachRTSPFactory(port int, mount, description string, shared bool) (FactoryHandle, error)

	// RunPipeline blocks until pipeline reaches end-of-stream, posts a
	// fatal bus error, or stop fires. Cancellation via stop causes an
	// orderly transition to the null state before returning.
	RunPipeline(pipeline Pipeline, stop <-chan struct{}) (RunOutcome, error)
}
