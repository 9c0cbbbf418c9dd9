package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// How many consecutive send timeouts a channel absorbs before it is
// treated as lost.
const defaultTimeoutTolerance = 3

// FailoverChannel keeps a probed channel alive across transport failures.
// When the underlying channel reports a disconnect, or times out too many
// sends in a row, the wrapper silently re-runs the probe from the top of
// the preference list, rebinds the inbound handler, and retries the send
// on whichever transport wins. Callers observe the switch only through
// Kind.
type FailoverChannel struct {
	probe            *Probe
	timeoutTolerance int

	mu       sync.Mutex
	current  Channel
	handler  func(Frame)
	timeouts int
	closed   bool
}

// NewFailoverChannel probes for the initial channel and wraps it.
func NewFailoverChannel(ctx context.Context, probe *Probe) (*FailoverChannel, error) {
	ch, err := probe.Select(ctx)
	if err != nil {
		return nil, err
	}
	return &FailoverChannel{
		probe:            probe,
		timeoutTolerance: defaultTimeoutTolerance,
		current:          ch,
	}, nil
}

// Kind reports the transport currently carrying the channel; it changes
// after a failover.
func (c *FailoverChannel) Kind() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Kind()
}

// Send delivers the frame, recovering the channel first if the current
// transport has dropped. Fatal errors are surfaced without retry; an
// isolated timeout is returned to the caller, only a run of them forces
// a re-probe.
func (c *FailoverChannel) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	err := c.current.Send(frame)
	switch {
	case err == nil:
		c.timeouts = 0
		return nil
	case errors.Is(err, ErrTimeout):
		c.timeouts++
		if c.timeouts < c.timeoutTolerance {
			return err
		}
	case errors.Is(err, ErrDisconnected), errors.Is(err, ErrClosed):
	default:
		return err
	}

	if err := c.reprobeLocked(); err != nil {
		return err
	}
	return c.current.Send(frame)
}

func (c *FailoverChannel) reprobeLocked() error {
	log.Printf("[failover] %s dropped, re-probing", c.current.Kind())
	_ = c.current.Close()

	ch, err := c.probe.Select(context.Background())
	if err != nil {
		return fmt.Errorf("%w: re-probe found no transport: %v", ErrDisconnected, err)
	}
	c.current = ch
	c.timeouts = 0
	if c.handler != nil {
		ch.OnMessage(c.handler)
	}
	log.Printf("[failover] continuing on %s", ch.Kind())
	return nil
}

// OnMessage registers the inbound handler; it survives failovers.
func (c *FailoverChannel) OnMessage(handler func(Frame)) {
	c.mu.Lock()
	c.handler = handler
	current := c.current
	c.mu.Unlock()
	current.OnMessage(handler)
}

// Close releases the wrapper and the underlying channel.
func (c *FailoverChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	current := c.current
	c.mu.Unlock()
	return current.Close()
}
