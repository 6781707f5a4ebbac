package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pool is a fixed-capacity task pool. Tasks are admitted in push order
// while fewer than Capacity of them are in flight; each admitted task runs
// in its own goroutine.
//
// A Pool must be created with New and is safe for concurrent use.
type Pool struct {
	capacity int
	conf     *poolConfig
	log      log.FieldLogger

	mu          sync.Mutex
	queue       *fifo[*entry]
	nextID      uint64
	inFlight    int
	maxInFlight int
	pushed      int64
	admitted    int64
	completed   int64
	succeeded   int64
	failed      int64
	abandoned   int64
	stopped     bool

	// emitMu serialises completion steps and event delivery.
	emitMu sync.Mutex
	events eventBus

	wake       chan struct{}
	stopCtx    context.Context
	stopCancel context.CancelFunc
	stopOnce   sync.Once
	loopDone   chan struct{}
}

// New creates a pool running at most capacity tasks at once and starts
// its admission loop.
//
// Parameters:
//   - capacity: Maximum number of in-flight tasks, at least 1
//   - opts: Variadic set of Option values
//
// Returns:
//   - *Pool: A running pool
//   - error: ErrInvalidCapacity if capacity < 1
//
// Example:
//
//	p, err := pool.New(4, pool.WithRateLimit(2, 1))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop()
func New(capacity int, opts ...Option) (*Pool, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())
	p := &Pool{
		capacity:   capacity,
		conf:       cfg,
		log:        cfg.logger.WithFields(log.Fields{"pool": cfg.name, "capacity": capacity}),
		queue:      newFIFO[*entry](minQueueSize),
		wake:       make(chan struct{}, 1),
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
		loopDone:   make(chan struct{}),
	}
	p.events.logger = p.log

	go p.loop()
	p.log.Debug("pool started")
	return p, nil
}

// MustNew is like New but panics on an invalid capacity.
func MustNew(capacity int, opts ...Option) *Pool {
	p, err := New(capacity, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Push appends task to the pool queue and returns its future. It never
// blocks and never fails.
//
// After Stop the task is queued but never admitted, so its future never
// settles, unless the pool was built with WithRejectOnStop, in which
// case the future is rejected with ErrPoolStopped right away.
//
// Example:
//
//	f := pool.Push(p, func(ctx context.Context) ([]string, error) {
//	    return fetchRow(ctx, id)
//	})
//	row, err := f.Get()
func Push[T any](p *Pool, task Task[T]) *Future[T] {
	p.mu.Lock()
	p.nextID++
	p.pushed++
	id := p.nextID
	f := newFuture[T](id)
	e := &entry{
		id: id,
		call: func(ctx context.Context) (func(), error) {
			v, err := task(ctx)
			return func() { f.complete(v, err) }, err
		},
		drop: func(err error) {
			var zero T
			f.complete(zero, err)
		},
	}

	if p.stopped && p.conf.rejectOnStop {
		p.abandoned++
		p.mu.Unlock()
		e.drop(ErrPoolStopped)
		return f
	}

	p.queue.PushBack(e)
	p.mu.Unlock()

	p.signal()
	return f
}

// Go pushes a task that only reports an error.
func (p *Pool) Go(fn func(ctx context.Context) error) *Future[struct{}] {
	return Push(p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Stop stops admitting tasks. It is idempotent and returns immediately.
// In-flight tasks run to completion and still emit events and settle
// their futures. Queued tasks are left pending, or rejected with
// ErrPoolStopped under WithRejectOnStop.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		var dropped []*entry
		if p.conf.rejectOnStop {
			dropped = p.queue.Drain()
			p.abandoned += int64(len(dropped))
		}
		queued := p.queue.Len()
		inFlight := p.inFlight
		p.mu.Unlock()

		p.stopCancel()
		for _, e := range dropped {
			e.drop(ErrPoolStopped)
		}

		p.log.WithFields(log.Fields{
			"in-flight": inFlight,
			"queued":    queued,
			"rejected":  len(dropped),
		}).Debug("pool stopped")
	})
}

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Name returns the pool name set with WithName.
func (p *Pool) Name() string {
	return p.conf.name
}

// Capacity returns the maximum number of in-flight tasks.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Completed returns the cumulative number of settled tasks.
func (p *Pool) Completed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Queued returns the number of tasks waiting for admission.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Stats returns a snapshot of all counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:        p.conf.name,
		Capacity:    p.capacity,
		InFlight:    p.inFlight,
		MaxInFlight: p.maxInFlight,
		Queued:      p.queue.Len(),
		Pushed:      p.pushed,
		Admitted:    p.admitted,
		Completed:   p.completed,
		Succeeded:   p.succeeded,
		Failed:      p.failed,
		Abandoned:   p.abandoned,
		Stopped:     p.stopped,
	}
}

// Subscribe registers h for every event of the given kind. Handlers of
// one kind run in subscription order, synchronously, in the goroutine
// that caused the event.
func (p *Pool) Subscribe(kind EventKind, h Handler) *Subscription {
	return p.events.add(kind, h)
}

// SubscribeN is like Subscribe but unsubscribes after n deliveries.
// For n < 1 the returned subscription is already inactive.
func (p *Pool) SubscribeN(kind EventKind, n int, h Handler) *Subscription {
	if n < 1 || h == nil {
		return p.events.add(kind, nil)
	}

	var fired atomic.Int64
	var self atomic.Pointer[Subscription]
	sub := p.events.add(kind, func(e Event) {
		c := fired.Add(1)
		if c > int64(n) {
			return
		}
		if c == int64(n) {
			self.Load().Unsubscribe()
		}
		h(e)
	})
	self.Store(sub)
	if fired.Load() >= int64(n) {
		sub.Unsubscribe()
	}
	return sub
}

// NotifyWhenProcessed returns a channel closed once the cumulative
// completed count reaches n. The pool keeps running.
func (p *Pool) NotifyWhenProcessed(n int64) <-chan struct{} {
	ch := make(chan struct{})
	p.whenProcessed(n, func() { close(ch) })
	return ch
}

// StopWhenProcessed stops the pool as soon as the cumulative completed
// count reaches n. Stop runs inside the completion step of the n-th task,
// so no further task is admitted after it.
func (p *Pool) StopWhenProcessed(n int64) {
	p.whenProcessed(n, func() {
		p.log.WithField("processed", n).Debug("processed target reached")
		p.Stop()
	})
}

// WaitProcessed blocks until the cumulative completed count reaches n or
// ctx is done.
func (p *Pool) WaitProcessed(ctx context.Context, n int64) error {
	ch := make(chan struct{})
	sub := p.whenProcessed(n, func() { close(ch) })
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		sub.Unsubscribe()
		return ctx.Err()
	}
}

// whenProcessed runs fn exactly once, either now if n completions already
// happened, or inside the completion step that reaches n.
func (p *Pool) whenProcessed(n int64, fn func()) *Subscription {
	var once sync.Once
	run := func() { once.Do(fn) }

	var self atomic.Pointer[Subscription]
	sub := p.events.add(EventTaskEnded, func(e Event) {
		if e.Completed < n {
			return
		}
		run()
		self.Load().Unsubscribe()
	})
	self.Store(sub)

	if p.Completed() >= n {
		run()
		sub.Unsubscribe()
	}
	return sub
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// loop is the admission driver. It wakes on push, on completion, on the
// optional poll tick, and exits on Stop.
func (p *Pool) loop() {
	defer close(p.loopDone)

	var tick <-chan time.Time
	if p.conf.pollInterval > 0 {
		t := time.NewTicker(p.conf.pollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-p.stopCtx.Done():
			return
		case <-p.wake:
		case <-tick:
		}
		p.admit()
	}
}

// admit moves queued entries to in-flight while capacity allows, at most
// admitPerCycle of them when that limit is set. If work is left behind
// because of the limit, the loop is woken again right away.
func (p *Pool) admit() {
	limit := p.conf.admitPerCycle
	for n := 0; limit == 0 || n < limit; n++ {
		if !p.admissible() {
			return
		}
		if p.conf.rateLimiter != nil {
			if err := p.conf.rateLimiter.Wait(p.stopCtx); err != nil {
				return
			}
		}

		// Holding emitMu keeps a slot freed by a completion step unused
		// until that step's listeners have run.
		p.emitMu.Lock()
		e, ev, ok := p.admitHead()
		if ok {
			p.events.emit(ev)
		}
		p.emitMu.Unlock()
		if !ok {
			return
		}
		go p.run(e)
	}

	if p.admissible() {
		p.signal()
	}
}

func (p *Pool) admissible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && p.inFlight < p.capacity && p.queue.Len() > 0
}

func (p *Pool) admitHead() (*entry, Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.inFlight >= p.capacity {
		return nil, Event{}, false
	}
	e, ok := p.queue.PopFront()
	if !ok {
		return nil, Event{}, false
	}

	p.inFlight++
	p.admitted++
	p.maxInFlight = max(p.maxInFlight, p.inFlight)

	return e, Event{
		Kind:      EventTaskAdmitted,
		TaskID:    e.id,
		Completed: p.completed,
		InFlight:  p.inFlight,
		Queued:    p.queue.Len(),
	}, true
}

// run executes an admitted entry and performs its completion step.
func (p *Pool) run(e *entry) {
	settle, err := p.invoke(e)
	p.finish(e, settle, err)
}

// invoke calls the task, converting a panic into a *PanicError failure.
func (p *Pool) invoke(e *entry) (settle func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := newPanicError(r)
			settle = func() { e.drop(perr) }
			err = perr
		}
	}()
	return e.call(p.conf.ctx)
}

// finish is the completion step: counters first, then taskEnded and the
// outcome event, then the caller's future. Steps of different tasks never
// interleave.
func (p *Pool) finish(e *entry, settle func(), err error) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.inFlight--
	p.completed++
	outcome := EventTaskSucceeded
	if err != nil {
		p.failed++
		outcome = EventTaskFailed
	} else {
		p.succeeded++
	}
	ev := Event{
		Kind:      EventTaskEnded,
		TaskID:    e.id,
		Err:       err,
		Completed: p.completed,
		InFlight:  p.inFlight,
		Queued:    p.queue.Len(),
	}
	p.mu.Unlock()

	if err != nil {
		p.log.WithFields(log.Fields{"task": e.id, "completed": ev.Completed}).WithError(err).Debug("task failed")
	} else {
		p.log.WithFields(log.Fields{"task": e.id, "completed": ev.Completed}).Debug("task succeeded")
	}

	p.events.emit(ev)
	ev.Kind = outcome
	p.events.emit(ev)

	settle()
	p.signal()
}
