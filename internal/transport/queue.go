package transport

import (
	"context"
	"sync"
)

const defaultQueueCapacity = 64

// QueueChannel is the server-side channel for transports whose outbound
// leg is pull-based (HTTP polling drains it, the pub/sub relay streams
// it). Send enqueues, Dispatch feeds inbound frames to the registered
// handler.
type QueueChannel struct {
	kind     Kind
	capacity int

	mu      sync.Mutex
	queue   []Frame
	handler func(Frame)
	closed  bool
	notify  chan struct{}
}

// NewQueueChannel builds a queue-backed channel of the given kind.
func NewQueueChannel(kind Kind, capacity int) *QueueChannel {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &QueueChannel{
		kind:     kind,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Kind reports the transport variant this queue serves.
func (c *QueueChannel) Kind() Kind { return c.kind }

// Send enqueues an outbound frame. A full queue reports a timeout so the
// caller can retry; a closed queue reports disconnection.
func (c *QueueChannel) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	if len(c.queue) >= c.capacity {
		return ErrTimeout
	}
	c.queue = append(c.queue, frame)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// OnMessage registers the inbound handler. Frames arriving before a
// handler is set are dropped, matching at-most-once semantics.
func (c *QueueChannel) OnMessage(handler func(Frame)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Dispatch delivers one inbound frame to the registered handler.
func (c *QueueChannel) Dispatch(frame Frame) {
	c.mu.Lock()
	handler := c.handler
	closed := c.closed
	c.mu.Unlock()
	if closed || handler == nil {
		return
	}
	handler(frame)
}

// Drain returns and clears all queued outbound frames in send order.
func (c *QueueChannel) Drain() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// Wait blocks until at least one frame is queued, the channel closes, or
// the context ends. It reports whether frames are ready.
func (c *QueueChannel) Wait(ctx context.Context) bool {
	for {
		c.mu.Lock()
		ready := len(c.queue) > 0
		closed := c.closed
		c.mu.Unlock()
		if ready {
			return true
		}
		if closed {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.notify:
		}
	}
}

// Closed reports whether the channel has been released.
func (c *QueueChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the queue; pending frames stay drainable.
func (c *QueueChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}
