// SPDX-License-Identifier: MIT

// Package config loads Stage A's and Stage B's configuration with
// layered precedence CLI flag > environment variable > YAML file >
// built-in default, the same koanf-backed layering approach as the
// reference daemon's internal/config package, generalized from a single
// nested device map to each stage's flat value set.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/videobridge/retransport/internal/domain"
)

// Source is Stage A's resolved, validated configuration.
type Source struct {
	Stream      domain.StreamConfig
	Server      domain.ServerConfig
	MetricsAddr string
	Verbose     bool
	MediaMTXURL string
	LockDir     string
	LogFile     string
}

// Bridge is Stage B's resolved, validated configuration.
type Bridge struct {
	Bridge      domain.BridgeConfig
	Backoff     domain.BackoffPolicy
	MetricsAddr string
	Verbose     bool
	MediaMTXURL string
	LockDir     string
	LogFile     string
}

// loadLayered merges confmap defaults, an optional YAML file, the
// contractual environment variables named in envKeys, and finally any
// flags the caller explicitly set (fs.Visit only visits flags actually
// passed on the command line, so unset flags never shadow an env var or
// YAML value beneath them).
//
// envKeys maps a literal environment variable name (e.g. "RTSP_PORT") to
// the koanf/flag key it overrides (e.g. "rtsp-port"). The contractual env
// var names documented in spec.md §6 share no common prefix (VIDEO_PATH,
// RTSP_PORT, METRICS_PORT, ...), so they are looked up individually with
// os.LookupEnv and layered in as a second confmap, rather than through a
// single prefixed env.Provider.
func loadLayered(defaults map[string]any, yamlPath string, envKeys map[string]string, fs *flag.FlagSet) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load yaml file %q: %w", yamlPath, err)
		}
	}

	envValues := make(map[string]any, len(envKeys))
	for envName, flagKey := range envKeys {
		if v, ok := os.LookupEnv(envName); ok {
			envValues[flagKey] = v
		}
	}
	if len(envValues) > 0 {
		if err := k.Load(confmap.Provider(envValues, "."), nil); err != nil {
			return nil, fmt.Errorf("load environment: %w", err)
		}
	}

	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		if visitErr != nil {
			return
		}
		if err := k.Set(f.Name, f.Value.String()); err != nil {
			visitErr = fmt.Errorf("apply flag %q: %w", f.Name, err)
		}
	})
	if visitErr != nil {
		return nil, visitErr
	}

	return k, nil
}

// resolveYAMLPath returns the path --config should load: the flag's value
// if the caller explicitly passed it, else the CONFIG_PATH environment
// variable, else the flag's default (typically empty, meaning no YAML
// overlay). --config lives outside sourceEnvKeys/bridgeEnvKeys because it
// is resolved before loadLayered runs (loadLayered needs the path itself
// to load the YAML layer).
func resolveYAMLPath(fs *flag.FlagSet, yamlPath *string) string {
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if explicit {
		return *yamlPath
	}
	if v, ok := os.LookupEnv("CONFIG_PATH"); ok {
		return v
	}
	return *yamlPath
}

// sourceEnvKeys are Stage A's contractual environment variable names, per
// spec.md §6.
var sourceEnvKeys = map[string]string{
	"VIDEO_PATH":       "video-path",
	"RTSP_PORT":        "rtsp-port",
	"RTSP_MOUNT_POINT": "mount-point",
	"METRICS_PORT":     "metrics-port",
}

// bridgeEnvKeys are Stage B's contractual environment variable names, per
// spec.md §6.
var bridgeEnvKeys = map[string]string{
	"RTSP_URL": "rtsp-url",
	"SRT_URL":  "srt-url",
}

// LoadSource parses Stage A's flags (--video-path, --rtsp-port,
// --mount-point, --metrics-port, --verbose, plus the composition root's
// own --config/--mediamtx-url/--lock-dir) against args, layers in the
// contractual VIDEO_PATH/RTSP_PORT/RTSP_MOUNT_POINT/METRICS_PORT
// environment variables and an optional YAML file, and validates the
// merged result into a Source. Defining every flag in one FlagSet keeps
// args parsed exactly once.
func LoadSource(args []string) (*Source, error) {
	fs := flag.NewFlagSet("rtsp-source", flag.ContinueOnError)
	videoPath := fs.String("video-path", "", "path to the source video file")
	rtspPort := fs.Int("rtsp-port", 8554, "RTSP port to bind")
	mountPoint := fs.String("mount-point", "/cam1", "RTSP mount point")
	metricsPort := fs.Int("metrics-port", 9001, "metrics HTTP port")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	yamlPath := fs.String("config", "", "path to an optional YAML config file")
	mediaMTXURL := fs.String("mediamtx-url", "http://localhost:9997", "MediaMTX API base URL")
	lockDir := fs.String("lock-dir", "/var/run/retransport", "directory for the single-instance lock file")
	logFile := fs.String("log-file", "", "optional rotating log file path (default: stderr only)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	k, err := loadLayered(map[string]any{
		"video-path":   *videoPath,
		"rtsp-port":    *rtspPort,
		"mount-point":  *mountPoint,
		"metrics-port": *metricsPort,
		"verbose":      *verbose,
	}, resolveYAMLPath(fs, yamlPath), sourceEnvKeys, fs)
	if err != nil {
		return nil, err
	}

	stream, err := domain.NewFileStreamConfig(k.String("video-path"))
	if err != nil {
		return nil, err
	}
	server, err := domain.NewServerConfig(k.Int("rtsp-port"), k.String("mount-point"), 0)
	if err != nil {
		return nil, err
	}
	if err := domain.RequireDistinctPorts(server.Port(), k.Int("metrics-port")); err != nil {
		return nil, err
	}

	return &Source{
		Stream:      stream,
		Server:      server,
		MetricsAddr: fmt.Sprintf(":%d", k.Int("metrics-port")),
		Verbose:     k.Bool("verbose"),
		MediaMTXURL: *mediaMTXURL,
		LockDir:     *lockDir,
		LogFile:     *logFile,
	}, nil
}

// LoadBridge parses Stage B's flags (--rtsp-url, --srt-url, --latency-ms,
// --transport, --metrics-port, --backoff-initial-ms, --backoff-max-ms,
// --backoff-multiplier, --verbose, plus the composition root's own
// --config/--mediamtx-url/--lock-dir) against args, layers in the
// contractual RTSP_URL/SRT_URL environment variables and an optional YAML
// file, and validates the merged result into a Bridge. Defining every
// flag in one FlagSet keeps args parsed exactly once.
func LoadBridge(args []string) (*Bridge, error) {
	fs := flag.NewFlagSet("srt-bridge", flag.ContinueOnError)
	rtspURL := fs.String("rtsp-url", "", "source RTSP URL")
	srtURL := fs.String("srt-url", "", "destination SRT URL")
	latencyMs := fs.Int("latency-ms", 200, "jitter-buffer latency in milliseconds")
	transport := fs.String("transport", "tcp", "RTP transport preference: tcp or udp")
	metricsPort := fs.Int("metrics-port", 9002, "metrics HTTP port")
	backoffInitialMs := fs.Int("backoff-initial-ms", 1000, "initial backoff delay in milliseconds")
	backoffMaxMs := fs.Int("backoff-max-ms", 30000, "maximum backoff delay in milliseconds")
	backoffMultiplier := fs.Float64("backoff-multiplier", 2.0, "backoff delay multiplier")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	yamlPath := fs.String("config", "", "path to an optional YAML config file")
	mediaMTXURL := fs.String("mediamtx-url", "http://localhost:9997", "MediaMTX API base URL")
	lockDir := fs.String("lock-dir", "/var/run/retransport", "directory for the single-instance lock file")
	logFile := fs.String("log-file", "", "optional rotating log file path (default: stderr only)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	k, err := loadLayered(map[string]any{
		"rtsp-url":           *rtspURL,
		"srt-url":            *srtURL,
		"latency-ms":         *latencyMs,
		"transport":          *transport,
		"metrics-port":       *metricsPort,
		"backoff-initial-ms": *backoffInitialMs,
		"backoff-max-ms":     *backoffMaxMs,
		"backoff-multiplier": *backoffMultiplier,
		"verbose":            *verbose,
	}, resolveYAMLPath(fs, yamlPath), bridgeEnvKeys, fs)
	if err != nil {
		return nil, err
	}

	transportValue, err := domain.ParseTransport(k.String("transport"))
	if err != nil {
		return nil, err
	}

	bridge, err := domain.NewBridgeConfig(k.String("rtsp-url"), k.String("srt-url"), transportValue, k.Int("latency-ms"))
	if err != nil {
		return nil, err
	}

	backoff, err := domain.NewBackoffPolicy(
		time.Duration(k.Int("backoff-initial-ms"))*time.Millisecond,
		time.Duration(k.Int("backoff-max-ms"))*time.Millisecond,
		k.Float64("backoff-multiplier"),
	)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		Bridge:      bridge,
		Backoff:     backoff,
		MetricsAddr: fmt.Sprintf(":%d", k.Int("metrics-port")),
		Verbose:     k.Bool("verbose"),
		MediaMTXURL: *mediaMTXURL,
		LockDir:     *lockDir,
		LogFile:     *logFile,
	}, nil
}
