package canvas

import "sync"

// Outbound is a session's queue of serialized frames, written by the
// coordinator goroutine and drained by the session's write loop. The queue
// is unbounded: Push never blocks and never drops, so history replay and
// broadcasts reach every registered session intact. A peer that stops
// draining is closed by the session heartbeat, not throttled here.
type Outbound struct {
	mu    sync.Mutex
	buf   []string
	ready chan struct{}
}

// NewOutbound creates an empty queue.
func NewOutbound() *Outbound {
	return &Outbound{ready: make(chan struct{}, 1)}
}

// Push appends one frame.
func (o *Outbound) Push(msg string) {
	o.mu.Lock()
	o.buf = append(o.buf, msg)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// Pop removes the oldest frame, reporting false when the queue is empty.
func (o *Outbound) Pop() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.buf) == 0 {
		return "", false
	}
	msg := o.buf[0]
	o.buf = o.buf[1:]
	return msg, true
}

// Ready signals after a Push. A receive may be stale; consumers must Pop
// until empty before waiting again.
func (o *Outbound) Ready() <-chan struct{} {
	return o.ready
}
