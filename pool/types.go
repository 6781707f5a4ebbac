package pool

import "context"

// Task is a unit of asynchronous work pushed into the pool.
// It receives the pool's base context and returns a value or an error.
// The pool knows nothing else about it.
//
// Type parameters:
//   - T: The type of the value produced by the task
type Task[T any] func(ctx context.Context) (T, error)

// Stats is a point-in-time snapshot of the pool counters.
//
// Fields:
//   - Pushed: every task ever handed to Push
//   - Admitted: tasks moved from the queue to in-flight
//   - Completed: settled tasks, Succeeded + Failed
//   - Abandoned: tasks rejected with ErrPoolStopped (WithRejectOnStop only)
//   - MaxInFlight: high-water mark of InFlight, never above Capacity
type Stats struct {
	Name        string `json:"name"`
	Capacity    int    `json:"capacity"`
	InFlight    int    `json:"in_flight"`
	MaxInFlight int    `json:"max_in_flight"`
	Queued      int    `json:"queued"`
	Pushed      int64  `json:"pushed"`
	Admitted    int64  `json:"admitted"`
	Completed   int64  `json:"completed"`
	Succeeded   int64  `json:"succeeded"`
	Failed      int64  `json:"failed"`
	Abandoned   int64  `json:"abandoned"`
	Stopped     bool   `json:"stopped"`
}

// entry is a queued task together with the closures that settle its
// future. call runs the task and returns the settle step separately, so
// the pool can update counters and notify listeners before the caller
// sees the outcome.
type entry struct {
	id   uint64
	call func(ctx context.Context) (settle func(), err error)
	drop func(err error)
}
