// SPDX-License-Identifier: MIT

// Package metrics exposes the contractual Prometheus metric surface for
// both stages and the /health probe, reusing the bind-then-signal HTTP
// startup pattern from the reference daemon's internal/health package
// (ListenAndServeReady), but backed by prometheus/client_golang instead
// of hand-assembled exposition text — the metric-name table this spec
// fixes is exactly the contract client_golang's typed Gauge/Counter
// objects exist to serve.
package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/videobridge/retransport/internal/domain"
	"github.com/videobridge/retransport/internal/mediamtx"
)

// mediaMTXHealthTimeout bounds how long /health waits on the distributor's
// own reachability check before reporting unhealthy.
const mediaMTXHealthTimeout = 2 * time.Second

// Registry wraps the contractual metric set for both stages. A single
// process only ever populates the subset relevant to the stage it runs;
// the unused gauges simply stay at their zero value.
type Registry struct {
	registry *prometheus.Registry

	activeSessions    prometheus.Gauge
	clientConnections prometheus.Counter
	connectionState   prometheus.Gauge
	reconnectAttempts prometheus.Counter
	reconnectBackoff  prometheus.Gauge
	pipelineUptime    prometheus.Gauge

	mu         sync.RWMutex
	healthy    bool
	mtx        *mediamtx.Client
	streamName string
}

// NewRegistry builds a fresh Registry with all six contractual metrics
// registered under their spec-mandated names.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_active_sessions",
			Help: "Number of active RTSP client sessions on Stage A's shared factory.",
		}),
		clientConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_client_connections_total",
			Help: "Total RTSP client connections accepted by Stage A.",
		}),
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_srt_connection_state",
			Help: "Stage B connection state: 0=idle 1=connecting 2=streaming 3=reconnecting 4=failed.",
		}),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconnect_attempts_total",
			Help: "Total reconnect attempts made by Stage B's resilience controller.",
		}),
		reconnectBackoff: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reconnect_backoff_seconds",
			Help: "Current pending backoff delay before Stage B's next reconnect attempt.",
		}),
		pipelineUptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_uptime_seconds",
			Help: "Seconds since Stage B's pipeline last entered the Streaming state; 0 when not streaming.",
		}),
		healthy: true,
	}
	return r
}

// Handler returns the promhttp handler for GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetConnectionState implements resilience.MetricsReporter.
func (r *Registry) SetConnectionState(kind domain.ConnectionStateKind) {
	r.connectionState.Set(kind.Metric())
	r.mu.Lock()
	r.healthy = kind != domain.StateFailed
	r.mu.Unlock()
}

// IncReconnectAttempts implements resilience.MetricsReporter.
func (r *Registry) IncReconnectAttempts() { r.reconnectAttempts.Inc() }

// SetBackoffSeconds implements resilience.MetricsReporter.
func (r *Registry) SetBackoffSeconds(seconds float64) { r.reconnectBackoff.Set(seconds) }

// SetUptimeSeconds implements resilience.MetricsReporter.
func (r *Registry) SetUptimeSeconds(seconds float64) { r.pipelineUptime.Set(seconds) }

// SetActiveSessions records Stage A's current subscriber count.
func (r *Registry) SetActiveSessions(n int) { r.activeSessions.Set(float64(n)) }

// IncClientConnections records one more Stage A RTSP client accepted.
func (r *Registry) IncClientConnections() { r.clientConnections.Inc() }

// Healthy reports whether /health should return 200: true unless the
// controller has observed a Failed state.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy
}

// SetMediaMTXClient wires a MediaMTX client into the /health handler as a
// secondary readiness signal alongside the controller's own Failed check:
// once set, /health also fails if the distributor's API has become
// unreachable. A nil client (the default) makes /health depend only on
// the controller signal. Stage A, which has no MediaMTX path of its own,
// uses this alone; Stage B layers SetStreamCheck on top of it.
func (r *Registry) SetMediaMTXClient(client *mediamtx.Client) {
	r.mu.Lock()
	r.mtx = client
	r.mu.Unlock()
}

// SetStreamCheck narrows the /health secondary signal from "is the
// distributor API reachable" to "is this specific path Ready and
// receiving data": Stage B's destination path, derived from its SRT
// streamid by mediamtx.StreamPathNameFromSRTURL. An empty pathName falls
// back to the plain reachability check.
func (r *Registry) SetStreamCheck(client *mediamtx.Client, pathName string) {
	r.mu.Lock()
	r.mtx = client
	r.streamName = pathName
	r.mu.Unlock()
}

func (r *Registry) mediaMTXClient() *mediamtx.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mtx
}

func (r *Registry) streamPathName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streamName
}

// healthHandler serves GET /health: 200 "OK" unless the controller is
// Failed, or the secondary MediaMTX signal fails — distributor
// unreachable (SetMediaMTXClient), or, with SetStreamCheck, the specific
// destination path not Ready and receiving data — in which case 503.
func (r *Registry) healthHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !r.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("UNHEALTHY"))
		return
	}
	if client := r.mediaMTXClient(); client != nil {
		ctx, cancel := context.WithTimeout(req.Context(), mediaMTXHealthTimeout)
		defer cancel()

		if name := r.streamPathName(); name != "" {
			healthy, err := client.IsStreamHealthy(ctx, name)
			if err != nil || !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("UNHEALTHY: destination path not receiving data"))
				return
			}
		} else if err := client.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNHEALTHY: distributor unreachable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Mux builds the /metrics and /health HTTP surface.
func (r *Registry) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/health", r.healthHandler)
	return mux
}

// ListenAndServeReady binds addr synchronously — so a port conflict is
// detected before the composition root proceeds — then serves until ctx
// is cancelled, at which point it shuts down gracefully. If ready is
// non-nil it is closed once the listener is bound.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
