package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/behavioral/internal/behavior"
)

func TestObserver_Events(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	o := New(reg)

	o.TickCompleted("t", 1, behavior.Running, time.Millisecond)
	o.TickCompleted("t", 2, behavior.Success, time.Millisecond)
	o.TickCompleted("t", 3, behavior.Success, time.Millisecond)
	o.WakeRequested("t")
	o.AsyncCompleted("t", "fetch", time.Second, nil)
	o.AsyncCompleted("t", "fetch", time.Second, errors.New("boom"))
	o.AsyncCompleted("t", "fetch", time.Second, context.Canceled)
	o.GuardError("t", "guarded", errors.New("bad"))
	o.ToolCalled("add", nil)

	require.Equal(t, 2.0, testutil.ToFloat64(o.ticks.WithLabelValues("t", "SUCCESS")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.ticks.WithLabelValues("t", "RUNNING")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.wakes.WithLabelValues("t")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.asyncResults.WithLabelValues("t", "fetch", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.asyncResults.WithLabelValues("t", "fetch", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.asyncResults.WithLabelValues("t", "fetch", "cancelled")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.guardErrors.WithLabelValues("t", "guarded")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.toolCalls.WithLabelValues("add", "ok")))
	require.Equal(t, 1, testutil.CollectAndCount(o.tickDuration))
}

func TestObserver_Tree(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	o := New(reg)

	tree := behavior.New(
		behavior.NewLeaf("ok", behavior.UpdateFunc(func(*behavior.Leaf) behavior.Status { return behavior.Success })),
		behavior.WithName("metrics-tree"),
		behavior.WithObserver(o),
		behavior.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(tree.Close)
	for range 3 {
		require.NoError(t, tree.Tick())
	}
	tree.RequestWake()

	require.Equal(t, 3.0, testutil.ToFloat64(o.ticks.WithLabelValues("metrics-tree", "SUCCESS")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.wakes.WithLabelValues("metrics-tree")))

	expected := `
# HELP behavioral_wakes_total Wake requests cutting short the wait between ticks
# TYPE behavioral_wakes_total counter
behavioral_wakes_total{tree="metrics-tree"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "behavioral_wakes_total"))
}

func TestHandler(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	New(reg).WakeRequested("served")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), `behavioral_wakes_total{tree="served"} 1`)
}

func TestServe_Shutdown(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
