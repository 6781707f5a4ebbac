package pool

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

// modeConfig defines a test configuration for an admission mode
type modeConfig struct {
	name string
	opts []Option
}

// getAllModes returns every admission loop mode worth testing.
// Each mode must give the same observable results.
func getAllModes() []modeConfig {
	return []modeConfig{
		{
			name: "Reactive",
		},
		{
			name: "SingleAdmit",
			opts: []Option{WithAdmitPerCycle(1)},
		},
		{
			name: "Polling",
			opts: []Option{
				WithAdmitPerCycle(1),
				WithPollInterval(time.Millisecond),
			},
		},
	}
}

func runModeTest(t *testing.T, testFunc func(t *testing.T, m modeConfig), additionalOpts ...Option) {
	for _, mode := range getAllModes() {
		mode.opts = append(append([]Option{}, mode.opts...), additionalOpts...)
		t.Run(mode.name, func(t *testing.T) {
			testFunc(t, mode)
		})
	}
}

// newTestPool builds a pool with a discarding logger and stops it when
// the test ends.
func newTestPool(t *testing.T, capacity int, opts ...Option) *Pool {
	t.Helper()

	logger, _ := test.NewNullLogger()
	p, err := New(capacity, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	t.Cleanup(p.Stop)
	return p
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// assertNotSettled checks that f stays pending for d.
func assertNotSettled[T any](t *testing.T, f *Future[T], d time.Duration) {
	t.Helper()

	select {
	case <-f.Done():
		v, err := f.Get()
		t.Fatalf("future %d settled unexpectedly: value=%v err=%v", f.ID(), v, err)
	case <-time.After(d):
	}
}
