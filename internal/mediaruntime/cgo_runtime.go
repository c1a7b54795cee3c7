// SPDX-License-Identifier: MIT

//go:build cgo

package mediaruntime

/*
#cgo pkg-config: gstreamer-1.0 gstreamer-rtsp-server-1.0
#include <gst/gst.h>
#include <gst/rtsp-server/rtsp-server.h>
#include <stdlib.h>

static GstBus *pipeline_bus(GstElement *pipeline) {
	return gst_element_get_bus(pipeline);
}

static GstMessage *bus_poll(GstBus *bus, guint64 timeout_ns) {
	return gst_bus_timed_pop_filtered(bus, (GstClockTime)timeout_ns,
		GST_MESSAGE_EOS | GST_MESSAGE_ERROR);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/videobridge/retransport/internal/domain"
)

var initOnce sync.Once

// GStreamerRuntime is the production Runtime backed by the system
// GStreamer installation and gst-rtsp-server.
type GStreamerRuntime struct {
	mu      sync.Mutex
	servers map[*C.GstRTSPServer]struct{}
}

// NewGStreamerRuntime returns a Runtime that talks to the real media
// framework. InitProcess must be called once before Build or
// AttachRTSPFactory.
func NewGStreamerRuntime() *GStreamerRuntime {
	return &GStreamerRuntime{servers: make(map[*C.GstRTSPServer]struct{})}
}

// InitProcess calls gst_init exactly once per process, regardless of how
// many times or from how many GStreamerRuntime values it is invoked.
func (r *GStreamerRuntime) InitProcess() error {
	var initErr error
	initOnce.Do(func() {
		var argc C.int
		var argv **C.char
		var gerr *C.GError
		if ok := C.gst_init_check(&argc, &argv, &gerr); ok == 0 {
			initErr = &domain.RuntimeInitError{Reason: goGError(gerr)}
			if gerr != nil {
				C.g_error_free(gerr)
			}
		}
	})
	return initErr
}

type cgoPipeline struct {
	element *C.GstElement
	desc    string
}

func (p *cgoPipeline) description() string { return p.desc }

// Build parses description via gst_parse_launch into a standalone
// top-level pipeline.
func (r *GStreamerRuntime) Build(description string) (Pipeline, error) {
	cdesc := C.CString(description)
	defer C.free(unsafe.Pointer(cdesc))

	var gerr *C.GError
	elem := C.gst_parse_launch(cdesc, &gerr)
	if elem == nil {
		msg := goGError(gerr)
		if gerr != nil {
			C.g_error_free(gerr)
		}
		return nil, &domain.PipelineParseError{Message: msg}
	}
	return &cgoPipeline{element: elem, desc: description}, nil
}

type cgoFactory struct {
	server *C.GstRTSPServer
	runtime *GStreamerRuntime
	sourceID C.guint
}

// Detach stops the RTSP server's attached main-context source and unrefs
// it, releasing the bound port.
func (f *cgoFactory) Detach() error {
	if f.sourceID != 0 {
		C.g_source_remove(f.sourceID)
	}
	f.runtime.mu.Lock()
	delete(f.runtime.servers, f.server)
	f.runtime.mu.Unlock()
	C.g_object_unref(C.gpointer(unsafe.Pointer(f.server)))
	return nil
}

// AttachRTSPFactory creates a GstRTSPServer bound to port, registers an
// on-demand GstRTSPMediaFactory at mount built from description, and
// attaches the server to the default main context so client connections
// are serviced by the process's running GMainContext iteration (driven by
// the composition root's event loop).
func (r *GStreamerRuntime) AttachRTSPFactory(port int, mount, description string, shared bool) (FactoryHandle, error) {
	server := C.gst_rtsp_server_new()

	cport := C.CString(fmt.Sprintf("%d", port))
	defer C.free(unsafe.Pointer(cport))
	C.gst_rtsp_server_set_service(server, cport)

	mounts := C.gst_rtsp_server_get_mount_points(server)
	defer C.g_object_unref(C.gpointer(unsafe.Pointer(mounts)))

	factory := C.gst_rtsp_media_factory_new()
	cdesc := C.CString(description)
	defer C.free(unsafe.Pointer(cdesc))
	C.gst_rtsp_media_factory_set_launch(factory, cdesc)

	var cshared C.gboolean
	if shared {
		cshared = 1
	}
	C.gst_rtsp_media_factory_set_shared(factory, cshared)

	cmount := C.CString(mount)
	defer C.free(unsafe.Pointer(cmount))
	C.gst_rtsp_mount_points_add_factory(mounts, cmount, factory)

	sourceID := C.gst_rtsp_server_attach(server, nil)
	if sourceID == 0 {
		C.g_object_unref(C.gpointer(unsafe.Pointer(server)))
		return nil, &domain.RuntimeInitError{Reason: fmt.Sprintf("failed to bind rtsp server on port %d", port)}
	}

	r.mu.Lock()
	r.servers[server] = struct{}{}
	r.mu.Unlock()

	return &cgoFactory{server: server, runtime: r, sourceID: sourceID}, nil
}

// RunPipeline sets pipeline to PLAYING and polls its bus in pollInterval
// increments, checking stop between polls so cancellation latency is
// bounded by pollInterval rather than by bus activity. On return — for
// every outcome, including PipelineError — the pipeline is always driven
// back to the null state first.
func (r *GStreamerRuntime) RunPipeline(pipeline Pipeline, stop <-chan struct{}) (RunOutcome, error) {
	p, ok := pipeline.(*cgoPipeline)
	if !ok {
		return RunOutcome{}, &domain.PipelineRuntimeError{Message: "pipeline handle not produced by this runtime"}
	}

	if ret := C.gst_element_set_state(p.element, C.GST_STATE_PLAYING); ret == C.GST_STATE_CHANGE_FAILURE {
		C.gst_element_set_state(p.element, C.GST_STATE_NULL)
		return RunOutcome{}, &domain.PipelineRuntimeError{Message: "failed to transition to PLAYING"}
	}
	defer C.gst_element_set_state(p.element, C.GST_STATE_NULL)

	bus := C.pipeline_bus(p.element)
	defer C.gst_object_unref(C.gpointer(unsafe.Pointer(bus)))

	timeoutNs := C.guint64(pollInterval.Nanoseconds())
	for {
		select {
		case <-stop:
			return Stopped(), nil
		default:
		}

		msg := C.bus_poll(bus, timeoutNs)
		if msg == nil {
			continue
		}
		outcome := classifyMessage(msg)
		C.gst_message_unref(msg)
		return outcome, nil
	}
}

func classifyMessage(msg *C.GstMessage) RunOutcome {
	// cgo renames the C "type" field to "type_" because "type" is a Go
	// keyword.
	switch msg.type_ {
	case C.GST_MESSAGE_EOS:
		return EndOfStream()
	case C.GST_MESSAGE_ERROR:
		var gerr *C.GError
		var debug *C.gchar
		C.gst_message_parse_error(msg, &gerr, &debug)
		text := goGError(gerr)
		if gerr != nil {
			C.g_error_free(gerr)
		}
		if debug != nil {
			C.g_free(C.gpointer(unsafe.Pointer(debug)))
		}
		return PipelineErrorOutcome(text)
	default:
		return PipelineErrorOutcome("unexpected bus message type")
	}
}

func goGError(gerr *C.GError) string {
	if gerr == nil {
		return "unknown error"
	}
	return C.GoString((*C.char)(gerr.message))
}
