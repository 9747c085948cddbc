package main

import (
	"context"
	"runtime"
	"time"

	app "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/pkg/metrics"
)

const (
	runtimeSampleInterval = 10 * time.Second
	serviceSampleInterval = 5 * time.Second
)

// every calls fn once per interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// runtimeSampler feeds memory, goroutine and GC pause metrics. Each GC
// cycle's pause is observed once, as long as fewer than 256 cycles run
// between samples.
type runtimeSampler struct {
	seenGC uint32
}

func (s *runtimeSampler) sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	from := s.seenGC
	if m.NumGC-from > uint32(len(m.PauseNs)) {
		from = m.NumGC - uint32(len(m.PauseNs))
	}
	for gc := from; gc < m.NumGC; gc++ {
		pause := time.Duration(m.PauseNs[gc%uint32(len(m.PauseNs))])
		metrics.RecordSystemGCPauseTime(float64(pause.Microseconds()) / 1000)
	}
	s.seenGC = m.NumGC
}

// sampleService refreshes gauges the service does not keep current itself.
// GetStats already updates queue length and the assessment count.
func sampleService(ctx context.Context, svc *app.Service) {
	if partitions, ok := svc.GetStats(ctx)["partitions"].(int); ok {
		metrics.UpdateQueuePartitions(partitions)
	}
}

// startSamplers runs the runtime and service samplers until ctx is done.
func startSamplers(ctx context.Context, svc *app.Service) {
	rs := &runtimeSampler{}
	go every(ctx, runtimeSampleInterval, rs.sample)
	go every(ctx, serviceSampleInterval, func() { sampleService(ctx, svc) })
}
