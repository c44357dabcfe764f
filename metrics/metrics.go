// Package metrics exports receiver health as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"palrx/decoder"
	"palrx/video"
	"palrx/worker"
)

const namespace = "palrx"

// shutdownTimeout bounds how long Serve waits for open requests to finish.
var shutdownTimeout = 2 * time.Second

// Metrics holds every collector the receiver exports. The Observe methods
// take absolute counter values and publish the increase since the last call.
type Metrics struct {
	registry *prometheus.Registry

	// Ring buffer, fed by the worker's stats observer
	ringFill         prometheus.Gauge
	ringAvailable    prometheus.Gauge
	ringCapacity     prometheus.Gauge
	ringDroppedTotal prometheus.Counter
	ringDroppedBytes prometheus.Counter
	processedTotal   prometheus.Counter

	// Decoder
	samplesTotal prometheus.Counter
	linesTotal   prometheus.Counter
	syncsTotal   prometheus.Counter
	framesTotal  prometheus.Counter
	syncRate     prometheus.Gauge
	agcPeak      prometheus.Gauge
	agcTrough    prometheus.Gauge
	linePeriod   prometheus.Gauge
	confidence   prometheus.Gauge

	// Frame sinks
	sinkFrames *prometheus.CounterVec

	mu   sync.Mutex
	last map[prometheus.Counter]uint64
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		last:     make(map[prometheus.Counter]uint64),

		ringFill: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ring", Name: "fill_ratio",
			Help: "Fraction of the sample ring holding unread bytes",
		}),
		ringAvailable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ring", Name: "available_bytes",
			Help: "Unread bytes in the sample ring",
		}),
		ringCapacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ring", Name: "capacity_bytes",
			Help: "Size of the sample ring in bytes",
		}),
		ringDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ring", Name: "dropped_writes_total",
			Help: "Driver chunks refused because the ring was full",
		}),
		ringDroppedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ring", Name: "dropped_bytes_total",
			Help: "Bytes lost to refused driver chunks",
		}),
		processedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "processed_samples_total",
			Help: "Complex samples handed to the decoder",
		}),

		samplesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "samples_total",
			Help: "Complex input samples decoded",
		}),
		linesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "lines_total",
			Help: "Lines finalized, by sync or by timeout",
		}),
		syncsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "syncs_total",
			Help: "Horizontal sync pulses detected",
		}),
		framesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "frames_total",
			Help: "Frames completed",
		}),
		syncRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "sync_rate_percent",
			Help: "Share of lines closed by a detected sync pulse",
		}),
		agcPeak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "agc_peak",
			Help: "Envelope peak tracked by the AGC",
		}),
		agcTrough: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "agc_trough",
			Help: "Envelope trough tracked by the AGC",
		}),
		linePeriod: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "line_period_samples",
			Help: "Estimated line period in working-rate samples",
		}),
		confidence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "sync_confidence",
			Help: "Sync lock confidence between 0 and 1",
		}),

		sinkFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "frames_total",
			Help: "Frames offered to each display sink, by outcome",
		}, []string{"sink", "result"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// addTotal raises c to the absolute value total. Totals that go backwards
// start counting again from the new value.
func (m *Metrics) addTotal(c prometheus.Counter, total uint64) {
	prev, seen := m.last[c]
	m.last[c] = total
	switch {
	case !seen || total < prev:
		c.Add(float64(total))
	case total > prev:
		c.Add(float64(total - prev))
	}
}

// ObserveBuffer records ring buffer statistics.
func (m *Metrics) ObserveBuffer(st worker.BufferStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ringFill.Set(st.Fill())
	m.ringAvailable.Set(float64(st.Available))
	m.ringCapacity.Set(float64(st.Capacity))
	m.addTotal(m.ringDroppedTotal, st.DroppedFrames)
	m.addTotal(m.ringDroppedBytes, st.DroppedBytes)
	m.addTotal(m.processedTotal, st.Processed)
}

// ObserveDecoder records decoder statistics.
func (m *Metrics) ObserveDecoder(st decoder.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addTotal(m.samplesTotal, st.Samples)
	m.addTotal(m.linesTotal, st.Lines)
	m.addTotal(m.syncsTotal, st.Syncs)
	m.addTotal(m.framesTotal, st.Frames)
	m.syncRate.Set(st.SyncRate)
	m.agcPeak.Set(st.AGCPeak)
	m.agcTrough.Set(st.AGCTrough)
	m.linePeriod.Set(st.LinePeriod)
	m.confidence.Set(st.Confidence)
}

// ObserveSinks records per-sink delivery counts.
func (m *Metrics) ObserveSinks(stats map[string]video.SinkStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, st := range stats {
		m.addTotal(m.sinkFrames.WithLabelValues(name, "sent"), st.Sent)
		m.addTotal(m.sinkFrames.WithLabelValues(name, "dropped"), st.Dropped)
		m.addTotal(m.sinkFrames.WithLabelValues(name, "error"), st.Errors)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := make(chan struct{})
	go func() {
		defer close(shutdown)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Debug("metrics endpoint shutdown", "err", err)
		}
	}()

	logger.Info("metrics endpoint listening", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdown
	return nil
}
