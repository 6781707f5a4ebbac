package pool

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// cpuBoundWork simulates parsing a page
func cpuBoundWork(iterations, seed int) Task[int] {
	return func(ctx context.Context) (int, error) {
		result := 0
		for i := 0; i < iterations; i++ {
			result += i * seed
		}
		return result, nil
	}
}

// ioBoundWork simulates a fetch with a fixed latency
func ioBoundWork(delay time.Duration) Task[int] {
	return func(ctx context.Context) (int, error) {
		select {
		case <-time.After(delay):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func benchLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func runBatch(b *testing.B, capacity, taskCount int, task func(i int) Task[int], opts ...Option) {
	b.Helper()

	p, err := New(capacity, append([]Option{WithLogger(benchLogger())}, opts...)...)
	if err != nil {
		b.Fatal(err)
	}
	futures := make([]*Future[int], taskCount)
	for j := range futures {
		futures[j] = Push(p, task(j))
	}
	if _, err := All(context.Background(), futures...); err != nil {
		b.Fatal(err)
	}
	p.Stop()
}

func BenchmarkThroughput_CapacityScaling(b *testing.B) {
	capacities := []int{1, 2, 4, 8, 16, 32, 64}
	taskCount := 10000

	for _, capacity := range capacities {
		b.Run(fmt.Sprintf("capacity_%d", capacity), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				runBatch(b, capacity, taskCount, func(j int) Task[int] { return cpuBoundWork(100, j) })
			}
			b.StopTimer()

			nsPerOp := float64(b.Elapsed().Nanoseconds()) / float64(b.N)
			b.ReportMetric(float64(taskCount)/nsPerOp*1e9, "tasks/sec")
		})
	}
}

func BenchmarkThroughput_LoadScaling(b *testing.B) {
	taskCounts := []int{100, 1000, 10000, 100000}

	for _, taskCount := range taskCounts {
		b.Run(fmt.Sprintf("tasks_%d", taskCount), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				runBatch(b, 8, taskCount, func(j int) Task[int] { return cpuBoundWork(100, j) })
			}
			b.StopTimer()

			nsPerOp := float64(b.Elapsed().Nanoseconds()) / float64(b.N)
			b.ReportMetric(float64(taskCount)/nsPerOp*1e9, "tasks/sec")
		})
	}
}

// BenchmarkAdmissionModes compares the reactive loop with single
// admission per cycle and with ticker polling on latency bound tasks.
func BenchmarkAdmissionModes(b *testing.B) {
	modes := []struct {
		name string
		opts []Option
	}{
		{"reactive", nil},
		{"single_admit", []Option{WithAdmitPerCycle(1)}},
		{"polling_1ms", []Option{WithAdmitPerCycle(1), WithPollInterval(time.Millisecond)}},
	}

	for _, m := range modes {
		b.Run(m.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				runBatch(b, 16, 256, func(int) Task[int] { return ioBoundWork(time.Millisecond) }, m.opts...)
			}
		})
	}
}

func BenchmarkPush(b *testing.B) {
	p, err := New(64, WithLogger(benchLogger()))
	if err != nil {
		b.Fatal(err)
	}
	defer p.Stop()

	task := func(ctx context.Context) (int, error) { return 0, nil }
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Push(p, task)
	}
	b.StopTimer()

	if err := p.WaitProcessed(context.Background(), int64(b.N)); err != nil {
		b.Fatal(err)
	}
}
