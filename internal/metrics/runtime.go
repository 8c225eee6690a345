package metrics

import (
	"runtime"
	"time"
)

// CollectRuntime periodically samples Go runtime stats (heap bytes,
// goroutine count, GC pause count) into gauges on r, until stop is
// closed. The worker runs one long-lived pipeline executor per process,
// so goroutine counts double as a rough proxy for in-flight stage work.
func CollectRuntime(r *Registry, interval time.Duration, stop <-chan struct{}) {
	heapBytes := r.Gauge("manual2vector_runtime_heap_bytes", "Bytes of allocated heap memory.")
	goroutines := r.Gauge("manual2vector_runtime_goroutines", "Number of live goroutines.")
	gcCount := r.Gauge("manual2vector_runtime_gc_count", "Number of completed garbage collection cycles.")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var mem runtime.MemStats
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			runtime.ReadMemStats(&mem)
			heapBytes.Set(int64(mem.HeapAlloc))
			goroutines.Set(int64(runtime.NumGoroutine()))
			gcCount.Set(int64(mem.NumGC))
		}
	}
}
