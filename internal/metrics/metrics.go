// Package metrics exports engine events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeycumines/behavioral/internal/behavior"
)

const namespace = "behavioral"

// Observer is a [behavior.Observer] recording Prometheus metrics. One
// observer may be shared by several trees; series are labelled by tree.
type Observer struct {
	ticks         *prometheus.CounterVec
	tickDuration  *prometheus.HistogramVec
	wakes         *prometheus.CounterVec
	asyncResults  *prometheus.CounterVec
	asyncDuration *prometheus.HistogramVec
	guardErrors   *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
}

var _ behavior.Observer = (*Observer)(nil)

// New registers the engine metrics with reg.
func New(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed ticks, by root status",
		}, []string{"tree", "status"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time to execute one tick",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"tree"}),
		wakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakes_total",
			Help:      "Wake requests cutting short the wait between ticks",
		}, []string{"tree"}),
		asyncResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_operations_total",
			Help:      "Completed async operations, by outcome",
		}, []string{"tree", "node", "outcome"}),
		asyncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "async_operation_duration_seconds",
			Help:      "Time taken by async operations",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"tree"}),
		guardErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_errors_total",
			Help:      "Guard predicates that failed to evaluate",
		}, []string{"tree", "node"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls run on behalf of the model, by outcome",
		}, []string{"tool", "outcome"}),
	}
}

func (o *Observer) TickCompleted(tree string, _ uint64, status behavior.Status, elapsed time.Duration) {
	o.ticks.WithLabelValues(tree, status.String()).Inc()
	o.tickDuration.WithLabelValues(tree).Observe(elapsed.Seconds())
}

func (o *Observer) WakeRequested(tree string) {
	o.wakes.WithLabelValues(tree).Inc()
}

func (o *Observer) AsyncCompleted(tree, node string, elapsed time.Duration, err error) {
	o.asyncResults.WithLabelValues(tree, node, outcome(err)).Inc()
	o.asyncDuration.WithLabelValues(tree).Observe(elapsed.Seconds())
}

func (o *Observer) GuardError(tree, node string, _ error) {
	o.guardErrors.WithLabelValues(tree, node).Inc()
}

// ToolCalled records the outcome of a tool call.
func (o *Observer) ToolCalled(tool string, err error) {
	o.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve serves g on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving metrics", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
