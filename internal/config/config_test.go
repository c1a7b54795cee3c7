// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camera.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake"), 0o644))
	return path
}

func TestLoadSource_FlagsOnly(t *testing.T) {
	video := writeTempVideo(t)
	cfg, err := LoadSource([]string{
		"--video-path", video,
		"--rtsp-port", "8555",
		"--mount-point", "/cam2",
		"--metrics-port", "9100",
		"--verbose",
	})
	require.NoError(t, err)
	require.Equal(t, video, cfg.Stream.Source())
	require.Equal(t, 8555, cfg.Server.Port())
	require.Equal(t, "/cam2", cfg.Server.MountPoint())
	require.Equal(t, ":9100", cfg.MetricsAddr)
	require.True(t, cfg.Verbose)
}

func TestLoadSource_Defaults(t *testing.T) {
	video := writeTempVideo(t)
	cfg, err := LoadSource([]string{"--video-path", video})
	require.NoError(t, err)
	require.Equal(t, 8554, cfg.Server.Port())
	require.Equal(t, "/cam1", cfg.Server.MountPoint())
	require.Equal(t, ":9001", cfg.MetricsAddr)
	require.False(t, cfg.Verbose)
}

func TestLoadSource_EnvOverridesDefaultButNotFlag(t *testing.T) {
	video := writeTempVideo(t)
	t.Setenv("RTSP_PORT", "8600")
	t.Setenv("RTSP_MOUNT_POINT", "/fromenv")

	cfg, err := LoadSource([]string{"--video-path", video, "--mount-point", "/fromflag"})
	require.NoError(t, err)
	require.Equal(t, 8600, cfg.Server.Port(), "env should override the unset-flag default")
	require.Equal(t, "/fromflag", cfg.Server.MountPoint(), "an explicitly passed flag outranks env")
}

func TestLoadSource_YAMLFillsBelowEnvAndFlags(t *testing.T) {
	video := writeTempVideo(t)
	yamlPath := filepath.Join(t.TempDir(), "source.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("rtsp-port: 8700\nmetrics-port: 9200\n"), 0o644))

	t.Setenv("METRICS_PORT", "9300")

	cfg, err := LoadSource([]string{"--video-path", video, "--config", yamlPath})
	require.NoError(t, err)
	require.Equal(t, 8700, cfg.Server.Port(), "yaml fills in where no flag or env is set")
	require.Equal(t, ":9300", cfg.MetricsAddr, "env outranks yaml")
}

func TestLoadSource_RejectsMissingVideoPath(t *testing.T) {
	_, err := LoadSource(nil)
	require.Error(t, err)
}

func TestLoadSource_VideoPathEnvVarHonored(t *testing.T) {
	video := writeTempVideo(t)
	t.Setenv("VIDEO_PATH", video)

	cfg, err := LoadSource(nil)
	require.NoError(t, err)
	require.Equal(t, video, cfg.Stream.Source())
}

func TestLoadSource_ConfigPathEnvVarUsedWhenFlagNotPassed(t *testing.T) {
	video := writeTempVideo(t)
	yamlPath := filepath.Join(t.TempDir(), "source.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("rtsp-port: 8800\n"), 0o644))
	t.Setenv("CONFIG_PATH", yamlPath)

	cfg, err := LoadSource([]string{"--video-path", video})
	require.NoError(t, err)
	require.Equal(t, 8800, cfg.Server.Port())
}

func TestLoadSource_ConfigFlagOutranksConfigPathEnvVar(t *testing.T) {
	video := writeTempVideo(t)
	envYAML := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(envYAML, []byte("rtsp-port: 8800\n"), 0o644))
	flagYAML := filepath.Join(t.TempDir(), "flag.yaml")
	require.NoError(t, os.WriteFile(flagYAML, []byte("rtsp-port: 8900\n"), 0o644))
	t.Setenv("CONFIG_PATH", envYAML)

	cfg, err := LoadSource([]string{"--video-path", video, "--config", flagYAML})
	require.NoError(t, err)
	require.Equal(t, 8900, cfg.Server.Port())
}

func TestLoadSource_RejectsClashingRTSPAndMetricsPorts(t *testing.T) {
	video := writeTempVideo(t)
	_, err := LoadSource([]string{"--video-path", video, "--rtsp-port", "9001", "--metrics-port", "9001"})
	require.Error(t, err)
}

func TestLoadBridge_FlagsOnly(t *testing.T) {
	cfg, err := LoadBridge([]string{
		"--rtsp-url", "rtsp://camera.local:8554/cam1",
		"--srt-url", "srt://relay.local:9000?streamid=publish:cam1&mode=caller",
		"--latency-ms", "300",
		"--transport", "udp",
		"--metrics-port", "9400",
		"--backoff-initial-ms", "500",
		"--backoff-max-ms", "15000",
		"--backoff-multiplier", "1.5",
	})
	require.NoError(t, err)
	require.Equal(t, "rtsp://camera.local:8554/cam1", cfg.Bridge.RTSPURL())
	require.Equal(t, 300, cfg.Bridge.LatencyMs())
	require.Equal(t, ":9400", cfg.MetricsAddr)
	require.Equal(t, int64(500), cfg.Backoff.Initial.Milliseconds())
	require.Equal(t, int64(15000), cfg.Backoff.Max.Milliseconds())
	require.InDelta(t, 1.5, cfg.Backoff.Multiplier, 0.0001)
}

func TestLoadBridge_DefaultsMatchDocumentedProfile(t *testing.T) {
	cfg, err := LoadBridge([]string{
		"--rtsp-url", "rtsp://camera.local:8554/cam1",
		"--srt-url", "srt://relay.local:9000?streamid=publish:cam1&mode=caller",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), cfg.Backoff.Initial.Milliseconds())
	require.Equal(t, int64(30000), cfg.Backoff.Max.Milliseconds())
	require.InDelta(t, 2.0, cfg.Backoff.Multiplier, 0.0001)
	require.Equal(t, ":9002", cfg.MetricsAddr)
}

func TestLoadBridge_RejectsUnknownTransport(t *testing.T) {
	_, err := LoadBridge([]string{
		"--rtsp-url", "rtsp://camera.local:8554/cam1",
		"--srt-url", "srt://relay.local:9000?streamid=publish:cam1&mode=caller",
		"--transport", "quic",
	})
	require.Error(t, err)
}

func TestLoadBridge_RejectsMissingStreamID(t *testing.T) {
	_, err := LoadBridge([]string{
		"--rtsp-url", "rtsp://camera.local:8554/cam1",
		"--srt-url", "srt://relay.local:9000?mode=caller",
	})
	require.Error(t, err)
}

func TestLoadBridge_EnvOverridesURLDefaults(t *testing.T) {
	t.Setenv("RTSP_URL", "rtsp://fromenv.local:8554/cam1")
	t.Setenv("SRT_URL", "srt://relay.local:9000?streamid=publish:cam1&mode=caller")

	cfg, err := LoadBridge(nil)
	require.NoError(t, err)
	require.Equal(t, "rtsp://fromenv.local:8554/cam1", cfg.Bridge.RTSPURL())
}
