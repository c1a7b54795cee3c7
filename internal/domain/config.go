// SPDX-License-Identifier: MIT

package domain

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// Codec identifies the video codec a StreamConfig declares. Only H264 is
// supported: baseline profile, no B-frames, so timestamps stay monotonic
// and pictures stay in I/P order — a requirement for downstream HLS segment
// generation.
type Codec int

const (
	CodecH264 Codec = iota
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	default:
		return "unknown"
	}
}

// StreamConfig describes a video source: a file path acting as a simulated
// camera, or a live RTSP URL, plus its fixed codec.
//
// Invariant: Source resolves at validation time (file existence, or URL
// syntactic validity). Codec is fixed at construction and never mutated.
type StreamConfig struct {
	source string
	codec  Codec
	isFile bool
}

// NewFileStreamConfig validates path as an existing file and returns a
// StreamConfig sourced from it.
func NewFileStreamConfig(path string) (StreamConfig, error) {
	if path == "" {
		return StreamConfig{}, &InvalidConfigError{Field: "video-path", Reason: "must not be empty"}
	}
	if _, err := os.Stat(path); err != nil {
		return StreamConfig{}, &InvalidConfigError{Field: "video-path", Reason: fmt.Sprintf("does not resolve: %v", err)}
	}
	return StreamConfig{source: path, codec: CodecH264, isFile: true}, nil
}

// NewURLStreamConfig validates rawURL as a syntactically valid RTSP URL and
// returns a StreamConfig sourced from it. Reachability is not checked here
// — that is a runtime concern handled by the ResilienceController.
func NewURLStreamConfig(rawURL string) (StreamConfig, error) {
	if rawURL == "" {
		return StreamConfig{}, &InvalidConfigError{Field: "rtsp-url", Reason: "must not be empty"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return StreamConfig{}, &InvalidConfigError{Field: "rtsp-url", Reason: fmt.Sprintf("malformed URL: %v", err)}
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return StreamConfig{}, &InvalidConfigError{Field: "rtsp-url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return StreamConfig{}, &InvalidConfigError{Field: "rtsp-url", Reason: "missing host"}
	}
	return StreamConfig{source: rawURL, codec: CodecH264, isFile: false}, nil
}

// Source returns the file path or URL the config was constructed from.
func (c StreamConfig) Source() string { return c.source }

// Codec returns the fixed codec.
func (c StreamConfig) Codec() Codec { return c.codec }

// IsFile reports whether Source is a local file path rather than a URL.
func (c StreamConfig) IsFile() bool { return c.isFile }

var mountPointPattern = regexp.MustCompile(`^/[A-Za-z0-9/_\-.~]*$`)

// ServerConfig describes Stage A's RTSP factory: the port it binds, the
// mount point it serves, and a latency hint.
//
// Invariant: mount point begins with '/' and contains only URL-safe
// characters; the RTSP port and the metrics port must differ (checked by
// the caller that holds both, via RequireDistinctPorts, since ServerConfig
// alone has no reference to the metrics port).
type ServerConfig struct {
	port        int
	mountPoint  string
	latencyMs   int
}

// NewServerConfig validates port, mountPoint, and latencyMs and returns a
// ServerConfig.
func NewServerConfig(port int, mountPoint string, latencyMs int) (ServerConfig, error) {
	if port < 1 || port > 65535 {
		return ServerConfig{}, &InvalidConfigError{Field: "rtsp-port", Reason: fmt.Sprintf("must be between 1 and 65535, got %d", port)}
	}
	if !mountPointPattern.MatchString(mountPoint) {
		return ServerConfig{}, &InvalidConfigError{Field: "mount-point", Reason: fmt.Sprintf("must start with '/' and contain only URL-safe characters, got %q", mountPoint)}
	}
	if latencyMs < 0 {
		return ServerConfig{}, &InvalidConfigError{Field: "latency-ms", Reason: "must be nonnegative"}
	}
	return ServerConfig{port: port, mountPoint: mountPoint, latencyMs: latencyMs}, nil
}

// RequireDistinctPorts enforces the invariant that the RTSP port and the
// metrics port must differ. It takes both ports as plain ints, rather than
// living as a method on ServerConfig, because ServerConfig is built before
// the caller's metrics port is known.
func RequireDistinctPorts(rtspPort, metricsPort int) error {
	if rtspPort == metricsPort {
		return &InvalidConfigError{Field: "metrics-port", Reason: fmt.Sprintf("must differ from rtsp-port (%d)", rtspPort)}
	}
	return nil
}

// Port returns the RTSP factory's bound port.
func (c ServerConfig) Port() int { return c.port }

// MountPoint returns the RTSP mount point, e.g. "/cam1".
func (c ServerConfig) MountPoint() string { return c.mountPoint }

// LatencyMs returns the jitter-buffer latency hint in milliseconds.
func (c ServerConfig) LatencyMs() int { return c.latencyMs }

// ToLaunchFragment renders the (port, mount) pair into an
// "rtsp://host:port/mount" URL for the given host. It round-trips with
// ParseLaunchFragment for any valid ServerConfig.
func (c ServerConfig) ToLaunchFragment(host string) string {
	return fmt.Sprintf("rtsp://%s:%d%s", host, c.port, c.mountPoint)
}

// ParseLaunchFragment extracts (port, mount) back out of a URL produced by
// ToLaunchFragment. It is the inverse used by the round-trip test in §8 of
// the spec: ServerConfig::new(p, m).to_launch_fragment() parses back to the
// same (p, m) for all valid inputs.
func ParseLaunchFragment(rtspURL string) (port int, mount string, err error) {
	u, err := url.Parse(rtspURL)
	if err != nil {
		return 0, "", fmt.Errorf("parse launch fragment: %w", err)
	}
	var p int
	if _, err := fmt.Sscanf(u.Port(), "%d", &p); err != nil {
		return 0, "", fmt.Errorf("parse launch fragment: invalid port %q: %w", u.Port(), err)
	}
	return p, u.Path, nil
}

// Transport is the RTP transport preference for Stage B's RTSP client
// source.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUDP
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// ParseTransport parses "tcp" or "udp" (case-insensitive).
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return TransportTCP, nil
	case "udp":
		return TransportUDP, nil
	default:
		return 0, &InvalidConfigError{Field: "transport", Reason: fmt.Sprintf("must be tcp or udp, got %q", s)}
	}
}

// BridgeConfig describes Stage B: the RTSP URL it pulls from, the SRT URL
// it publishes to (including stream-id and mode), transport preference, and
// jitter-buffer latency.
type BridgeConfig struct {
	rtspURL    string
	srtURL     string
	transport  Transport
	latencyMs  int
}

// NewBridgeConfig validates its arguments and returns a BridgeConfig.
func NewBridgeConfig(rtspURL, srtURL string, transport Transport, latencyMs int) (BridgeConfig, error) {
	u, err := url.Parse(rtspURL)
	if err != nil || (u.Scheme != "rtsp" && u.Scheme != "rtsps") || u.Host == "" {
		return BridgeConfig{}, &InvalidConfigError{Field: "rtsp-url", Reason: fmt.Sprintf("malformed RTSP URL %q", rtspURL)}
	}
	su, err := url.Parse(srtURL)
	if err != nil || su.Scheme != "srt" || su.Host == "" {
		return BridgeConfig{}, &InvalidConfigError{Field: "srt-url", Reason: fmt.Sprintf("malformed SRT URL %q", srtURL)}
	}
	q := su.Query()
	if q.Get("streamid") == "" {
		return BridgeConfig{}, &InvalidConfigError{Field: "srt-url", Reason: "missing streamid query parameter"}
	}
	if q.Get("mode") == "" {
		return BridgeConfig{}, &InvalidConfigError{Field: "srt-url", Reason: "missing mode query parameter"}
	}
	if latencyMs < 0 {
		return BridgeConfig{}, &InvalidConfigError{Field: "latency-ms", Reason: "must be nonnegative"}
	}
	return BridgeConfig{rtspURL: rtspURL, srtURL: srtURL, transport: transport, latencyMs: latencyMs}, nil
}

// RTSPURL returns the source RTSP URL Stage B connects to as a client.
func (c BridgeConfig) RTSPURL() string { return c.rtspURL }

// SRTURL returns the destination SRT URL Stage B publishes to.
func (c BridgeConfig) SRTURL() string { return c.srtURL }

// Transport returns the preferred RTP transport.
func (c BridgeConfig) Transport() Transport { return c.transport }

// LatencyMs returns the jitter-buffer latency in milliseconds.
func (c BridgeConfig) LatencyMs() int { return c.latencyMs }

// BackoffPolicy is an immutable exponential-backoff policy with a pure
// transition function: next(current) = min(current * multiplier, max).
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewBackoffPolicy validates and returns a BackoffPolicy.
func NewBackoffPolicy(initial, max time.Duration, multiplier float64) (BackoffPolicy, error) {
	if initial < time.Millisecond {
		return BackoffPolicy{}, &InvalidConfigError{Field: "backoff-initial-ms", Reason: "must be >= 1ms"}
	}
	if max < initial {
		return BackoffPolicy{}, &InvalidConfigError{Field: "backoff-max-ms", Reason: "must be >= initial"}
	}
	if multiplier <= 1.0 {
		return BackoffPolicy{}, &InvalidConfigError{Field: "backoff-multiplier", Reason: "must be > 1.0"}
	}
	return BackoffPolicy{Initial: initial, Max: max, Multiplier: multiplier}, nil
}

// DefaultBackoffPolicy returns the default profile: 1s initial, 30s max,
// 2.0 multiplier, yielding 1, 2, 4, 8, 16, 30, 30, ...
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0}
}

// Next returns the next delay given the current one, capped at Max.
func (p BackoffPolicy) Next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.Max {
		next = p.Max
	}
	if next < current {
		// Guard against pathological overflow of the float64 multiply.
		next = p.Max
	}
	return next
}
