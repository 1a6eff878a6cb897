// Package engine implements the Engine: the coordinator that ties
// Router, ChannelManager, and Stream together, owning lifecycle state
// and statistics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loquat/loquat/pkg/channel"
	"github.com/loquat/loquat/pkg/pipeline"
	"github.com/loquat/loquat/pkg/router"
	"github.com/loquat/loquat/pkg/stream"
)

// ErrNotRunning is returned by Process whenever the Engine's status is
// not Running, including Stopping.
var ErrNotRunning = fmt.Errorf("engine: not running")

// Stats is the plain in-memory processing counters, snapshot under a
// mutex for Stats().
type Stats struct {
	Processed     uint64
	Failed        uint64
	LastLatencyMS int64
	StartedAt     time.Time
}

// Engine coordinates routing, channel lookup, and pipeline traversal
// for every Package submitted to it. It is safe for concurrent use:
// multiple goroutines may call Process simultaneously with no ordering
// guarantee between them.
type Engine struct {
	status atomicStatus

	router   *router.Router
	channels *channel.Manager
	stream   *stream.Stream
	logger   *slog.Logger

	statsMu sync.Mutex
	stats   Stats

	metrics *metrics
}

type metrics struct {
	processed prometheus.Counter
	failed    prometheus.Counter
	latency   prometheus.Histogram
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetricsRegisterer wires Engine stats into a Prometheus registry.
// If not supplied, no metrics are exported (the plain Stats() counters
// are always available regardless).
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		m := &metrics{
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loquat_engine_processed_total",
				Help: "Total Packages successfully processed by the Engine.",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loquat_engine_failed_total",
				Help: "Total Packages that failed processing.",
			}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name: "loquat_engine_process_latency_ms",
				Help: "Package processing latency in milliseconds.",
			}),
		}
		reg.MustRegister(m.processed, m.failed, m.latency)
		e.metrics = m
	}
}

// New constructs an Engine wired to the given Router, ChannelManager,
// and Stream. Its initial status is Stopped.
func New(r *router.Router, cm *channel.Manager, s *stream.Stream, opts ...Option) *Engine {
	e := &Engine{
		router:   r,
		channels: cm,
		stream:   s,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start transitions Stopped→Starting→Running. Any warm-up failure
// transitions to Error.
func (e *Engine) Start(_ context.Context) error {
	if !e.status.CompareAndSwap(StatusStopped, StatusStarting) {
		return fmt.Errorf("engine: cannot start from state %s", e.status.Load())
	}

	e.statsMu.Lock()
	e.stats.StartedAt = time.Now()
	e.statsMu.Unlock()

	e.channels.StartEviction()

	if !e.status.CompareAndSwap(StatusStarting, StatusRunning) {
		e.status.Store(StatusError)
		return fmt.Errorf("engine: state changed unexpectedly during startup")
	}

	e.logger.Info("engine: started")
	return nil
}

// Stop transitions Running→Stopping→Stopped. It is idempotent when
// already Stopped.
func (e *Engine) Stop(_ context.Context) error {
	if e.status.Load() == StatusStopped {
		return nil
	}
	if !e.status.CompareAndSwap(StatusRunning, StatusStopping) {
		return fmt.Errorf("engine: cannot stop from state %s", e.status.Load())
	}

	e.channels.StopEviction()

	e.status.Store(StatusStopped)
	e.logger.Info("engine: stopped")
	return nil
}

// IsRunning is a pure atomic load, safe to call from any goroutine
// without blocking.
func (e *Engine) IsRunning() bool {
	return e.status.Load() == StatusRunning
}

// Stats returns a snapshot of the Engine's counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Process routes pkg, resolves its Channel, and drives it through the
// Stream. It is rejected with ErrNotRunning unless status == Running.
// Processing does not itself change engine status.
func (e *Engine) Process(ctx context.Context, pkg pipeline.Package) (pipeline.Package, error) {
	if !e.IsRunning() {
		return pipeline.Package{}, ErrNotRunning
	}

	start := time.Now()

	decision, err := e.router.Route(pkg)
	if err != nil {
		e.recordFailure(start)
		e.logger.Error("engine: route failed, dropping package", "package_id", pkg.ID, "error", err)
		return pipeline.Package{}, fmt.Errorf("engine: %w", err)
	}

	if _, err := e.channels.GetOrCreate(decision.ChannelKey); err != nil {
		e.recordFailure(start)
		e.logger.Error("engine: channel lookup failed", "package_id", pkg.ID, "channel", decision.ChannelKey.String(), "error", err)
		return pipeline.Package{}, fmt.Errorf("engine: %w", err)
	}

	out, ok := e.stream.RunOne(ctx, pkg)
	if !ok {
		e.recordFailure(start)
		e.logger.Error("engine: stream produced no output", "package_id", pkg.ID)
		return pipeline.Package{}, fmt.Errorf("engine: stream produced no output for %q", pkg.ID)
	}

	e.recordSuccess(start)
	return out, nil
}

func (e *Engine) recordSuccess(start time.Time) {
	elapsed := time.Since(start)
	e.statsMu.Lock()
	e.stats.Processed++
	e.stats.LastLatencyMS = elapsed.Milliseconds()
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.processed.Inc()
		e.metrics.latency.Observe(float64(elapsed.Milliseconds()))
	}
}

func (e *Engine) recordFailure(start time.Time) {
	elapsed := time.Since(start)
	e.statsMu.Lock()
	e.stats.Failed++
	e.stats.LastLatencyMS = elapsed.Milliseconds()
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.failed.Inc()
		e.metrics.latency.Observe(float64(elapsed.Milliseconds()))
	}
}
