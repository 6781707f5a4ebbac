// Package pool provides a small, bounded, generic task pool for
// concurrent page fetching and similar I/O-bound work.
//
// The primary type is Pool, a fixed-capacity pool which accepts
// asynchronous tasks, admits them in FIFO order while at most capacity
// of them are in flight, and reports every completion to subscribed
// listeners. Each push returns a Future carrying the task's outcome.
//
// # Basic Usage
//
//	p, err := pool.New(4)
//	if err != nil {
//	    return err
//	}
//	defer p.Stop()
//
//	f := pool.Push(p, func(ctx context.Context) (string, error) {
//	    return fetch(ctx, url)
//	})
//	body, err := f.Get()
//
// # Draining
//
// A scraper usually knows how many tasks it pushed. It can wait for the
// drain and stop the pool itself, or let the pool stop on its own:
//
//	done := p.NotifyWhenProcessed(int64(len(pages)))
//	for _, page := range pages {
//	    pool.Push(p, fetchPage(page))
//	}
//	<-done
//	p.Stop()
//
//	// or
//	p.StopWhenProcessed(int64(len(pages)))
//
// # Events
//
// Listeners subscribe to one event kind and are invoked synchronously in
// the goroutine completing the task, after the pool counters have been
// updated and before the task's future settles:
//
//	sub := p.Subscribe(pool.EventTaskEnded, func(e pool.Event) {
//	    log.Infof("progress %d/%d", e.Completed, total)
//	})
//	defer sub.Unsubscribe()
//
// Completions are serialised, so listeners always observe strictly
// increasing Completed values.
//
// # Stopping
//
// Stop is a one-way transition. Tasks already in flight run to
// completion and still settle their futures; queued tasks are never
// admitted. By default their futures stay pending forever. With
// WithRejectOnStop they are rejected with ErrPoolStopped instead.
//
// # Retry and Timeouts
//
// The pool never retries and never times out a task. Both belong to the
// task itself:
//
//	task := pool.Retry(fetchPage(page), pool.RetryPolicy{
//	    MaxAttempts:  5,
//	    InitialDelay: 10 * time.Second,
//	})
//	pool.Push(p, pool.WithTimeout(task, time.Minute))
//
// # Configuration Options
//
//   - WithLogger(l): logrus logger for lifecycle debug output
//   - WithContext(ctx): base context handed to every task
//   - WithPollInterval(d): also wake the admission loop on a fixed tick
//   - WithAdmitPerCycle(n): cap admissions per loop iteration
//   - WithRateLimit(rps, burst): rate limit admissions
//   - WithRejectOnStop(): reject queued tasks on Stop
//   - WithName(name): pool name used in logs and metrics
package pool
