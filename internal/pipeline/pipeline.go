// SPDX-License-Identifier: MIT

// Package pipeline builds GStreamer launch-description strings from
// validated domain configuration. It performs no I/O and never touches
// the media framework: both are pure functions over domain.StreamConfig
// and domain.BridgeConfig, returning a description MediaRuntime.Build
// can hand to gst_parse_launch.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/videobridge/retransport/internal/domain"
)

// BuildSourceDescription builds Stage A's RTSP factory payload: a file or
// RTSP source feeding an H.264 parse that reinserts SPS/PPS at every
// keyframe (config-interval=-1, for clients that join mid-stream), tagged
// with name=pay0 so GstRTSPMediaFactory picks it up as the stream's single
// payloader.
//
// Fails with *domain.InvalidConfigError if stream.Codec() is not H264 —
// the only codec this pipeline shape supports.
func BuildSourceDescription(stream domain.StreamConfig) (string, error) {
	if stream.Codec() != domain.CodecH264 {
		return "", &domain.InvalidConfigError{Field: "codec", Reason: fmt.Sprintf("unsupported codec %q", stream.Codec())}
	}

	var src string
	if stream.IsFile() {
		src = fmt.Sprintf("filesrc location=%s ! qtdemux", quoteLocation(stream.Source()))
	} else {
		src = fmt.Sprintf("rtspsrc location=%s ! rtph264depay", quoteLocation(stream.Source()))
	}

	elements := []string{
		src,
		"h264parse config-interval=-1",
		"rtph264pay name=pay0 pt=96",
	}
	return strings.Join(elements, " ! "), nil
}

// BuildBridgeDescription builds Stage B's bridge launch: an RTSP client
// source with the configured transport and jitter-buffer latency, depayed
// and reparsed with config-interval=1 (SPS/PPS before every keyframe, since
// there is no factory to ask for it on demand), constrained to access-unit
// aligned byte-stream H.264, muxed into MPEG-TS with alignment=7 (exactly
// 7 TS packets = 1316 bytes per buffer, the SRT payload sweet spot that
// avoids IP fragmentation), and pushed to an SRT sink that does not block
// pipeline startup waiting for a peer.
//
// Fails with *domain.InvalidConfigError if bridge.Transport() is not a
// value returned by domain.ParseTransport.
func BuildBridgeDescription(bridge domain.BridgeConfig) (string, error) {
	switch bridge.Transport() {
	case domain.TransportTCP, domain.TransportUDP:
	default:
		return "", &domain.InvalidConfigError{Field: "transport", Reason: fmt.Sprintf("unrecognized transport %v", bridge.Transport())}
	}

	elements := []string{
		fmt.Sprintf("rtspsrc location=%s latency=%d protocols=%s", quoteLocation(bridge.RTSPURL()), bridge.LatencyMs(), bridge.Transport()),
		"rtph264depay",
		"h264parse config-interval=1",
		"video/x-h264,stream-format=byte-stream,alignment=au",
		"mpegtsmux alignment=7",
		fmt.Sprintf("srtsink uri=%s wait-for-connection=false", quoteLocation(bridge.SRTURL())),
	}
	return strings.Join(elements, " ! "), nil
}

// quoteLocation wraps a URI/path in double quotes per gst-launch syntax,
// required whenever the value may contain query-string characters such as
// '&' or '=' that would otherwise be parsed as element properties.
func quoteLocation(location string) string {
	return fmt.Sprintf("%q", location)
}
