package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCounterIncAndRender(t *testing.T) {
	r := New()
	c := r.Counter("manual2vector_stages_completed_total", "Total stages completed.")
	c.Inc()
	c.Add(2)
	if c.Value() != 3 {
		t.Fatalf("got %d, want 3", c.Value())
	}
	out := r.Render()
	if !strings.Contains(out, "manual2vector_stages_completed_total 3") {
		t.Fatalf("render missing counter line: %s", out)
	}
}

func TestGaugeSetAndRender(t *testing.T) {
	r := New()
	g := r.Gauge("manual2vector_queue_depth", "Current queue depth.")
	g.Set(5)
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("got %d, want 4", g.Value())
	}
	out := r.Render()
	if !strings.Contains(out, "manual2vector_queue_depth 4") {
		t.Fatalf("render missing gauge line: %s", out)
	}
}

func TestHistogramObserveAndRender(t *testing.T) {
	r := New()
	h := r.Histogram("manual2vector_stage_duration_seconds", "Stage duration.", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(5)
	out := r.Render()
	if !strings.Contains(out, "manual2vector_stage_duration_seconds_count") {
		t.Fatalf("render missing histogram count: %s", out)
	}
}

func TestWithLabelsBuildsDistinctSeries(t *testing.T) {
	r := New()
	r.Counter(WithLabels("manual2vector_stage_runs_total", "stage", "upload"), "Stage runs.").Inc()
	r.Counter(WithLabels("manual2vector_stage_runs_total", "stage", "embedding"), "Stage runs.").Inc()
	out := r.Render()
	if !strings.Contains(out, `manual2vector_stage_runs_total{stage="upload"} 1`) {
		t.Fatalf("missing upload series: %s", out)
	}
	if !strings.Contains(out, `manual2vector_stage_runs_total{stage="embedding"} 1`) {
		t.Fatalf("missing embedding series: %s", out)
	}
}

func TestCollectRuntimeStopsOnSignal(t *testing.T) {
	r := New()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		CollectRuntime(r, time.Millisecond, stop)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CollectRuntime did not stop after signal")
	}
	if r.Gauge("manual2vector_runtime_goroutines", "").Value() == 0 {
		t.Fatal("expected goroutine gauge to have been sampled")
	}
}
