package fn

import (
	"context"
	"reflect"
	"testing"
)

func TestParMapPreservesOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	out := ParMap(items, 2, func(i int) int { return i * i })
	want := []int{1, 4, 9, 16, 25}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestParMapResultCollect(t *testing.T) {
	items := []int{1, 2, 3}
	results := ParMapResult(items, 3, func(i int) Result[int] { return Ok(i + 1) })
	collected := Collect(results)
	v, err := collected.Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(v, []int{2, 3, 4}) {
		t.Fatalf("got %v", v)
	}
}

func TestFanOutCollectsResultsInOrder(t *testing.T) {
	out := FanOut(
		func() int { return 1 },
		func() int { return 2 },
		func() int { return 3 },
	)
	if !reflect.DeepEqual(out, []int{1, 2, 3}) {
		t.Fatalf("got %v", out)
	}
}

func TestUniqueByDedupesOnKey(t *testing.T) {
	type chunk struct {
		fp   string
		text string
	}
	items := []chunk{{"a", "first"}, {"b", "second"}, {"a", "dup"}}
	out := UniqueBy(items, func(c chunk) string { return c.fp })
	if len(out) != 2 {
		t.Fatalf("expected 2 unique, got %d", len(out))
	}
	if out[0].text != "first" || out[1].text != "second" {
		t.Fatalf("expected first occurrence retained, got %+v", out)
	}
}

func TestChunkSplitsIntoWindows(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	out := Chunk(items, 2)
	want := [][]int{{1, 2}, {3, 4}, {5}}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestGroupByBucketsPreservingOrder(t *testing.T) {
	items := []string{"a1", "b1", "a2", "b2"}
	grouped := GroupBy(items, func(s string) byte { return s[0] })
	if !reflect.DeepEqual(grouped['a'], []string{"a1", "a2"}) {
		t.Fatalf("got %v", grouped['a'])
	}
}

func TestPipelineShortCircuitsOnError(t *testing.T) {
	calls := 0
	ok := MapStage(func(i int) int { calls++; return i + 1 })
	fail := Stage[int, int](func(ctx context.Context, i int) Result[int] {
		calls++
		return Errf[int]("boom")
	})
	neverRuns := MapStage(func(i int) int { calls++; return i + 100 })

	p := Pipeline(ok, fail, neverRuns)
	res := p(context.Background(), 1)
	if res.IsOk() {
		t.Fatal("expected pipeline to fail")
	}
	if calls != 2 {
		t.Fatalf("expected 2 stages to run before short-circuit, got %d", calls)
	}
}

func TestPipelineRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Pipeline(MapStage(func(i int) int { return i + 1 }))
	res := p(ctx, 1)
	if res.IsOk() {
		t.Fatal("expected cancellation to produce an error result")
	}
}

func TestGuardedRecoversPanic(t *testing.T) {
	panicky := Stage[int, int](func(ctx context.Context, i int) Result[int] {
		panic("boom")
	})
	guarded := Guarded(panicky)
	res := guarded(context.Background(), 1)
	if res.IsOk() {
		t.Fatal("expected guarded stage to convert panic to error")
	}
}

func TestBatchStageRunsAllItems(t *testing.T) {
	stage := Stage[int, int](func(ctx context.Context, i int) Result[int] { return Ok(i * 2) })
	batched := BatchStage(2, stage)
	res := batched(context.Background(), []int{1, 2, 3})
	v, err := res.Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(v, []int{2, 4, 6}) {
		t.Fatalf("got %v", v)
	}
}
