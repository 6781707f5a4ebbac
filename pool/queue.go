package pool

const (
	minQueueSize = 16
	maxQueueHint = 1024
)

// fifo is a growable ring buffer of pending entries.
// It is not safe for concurrent use; the pool guards it with its mutex.
type fifo[E any] struct {
	buf  []E
	head int
	size int
}

// newFIFO returns an empty queue with room for at least hint entries
// before its first growth. hint is capped at maxQueueHint; the ring grows
// on demand past it.
func newFIFO[E any](hint int) *fifo[E] {
	return &fifo[E]{buf: make([]E, nextPowerOfTwo(clampInt(hint, minQueueSize, maxQueueHint)))}
}

// PushBack appends v at the tail, doubling the ring when it is full.
func (q *fifo[E]) PushBack(v E) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)&(len(q.buf)-1)] = v
	q.size++
}

// PopFront removes and returns the head. ok is false on an empty queue.
func (q *fifo[E]) PopFront() (v E, ok bool) {
	if q.size == 0 {
		return v, false
	}
	var zero E
	v = q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) & (len(q.buf) - 1)
	q.size--
	return v, true
}

// Drain empties the queue and returns its entries in FIFO order.
func (q *fifo[E]) Drain() []E {
	out := make([]E, 0, q.size)
	for {
		v, ok := q.PopFront()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func (q *fifo[E]) Len() int {
	return q.size
}

func (q *fifo[E]) grow() {
	next := make([]E, len(q.buf)*2)
	for i := range q.size {
		next[i] = q.buf[(q.head+i)&(len(q.buf)-1)]
	}
	q.buf = next
	q.head = 0
}
