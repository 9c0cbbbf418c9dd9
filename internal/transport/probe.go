package transport

import (
	"context"
	"errors"
	"log"
	"time"
)

// ErrNoTransport is returned only when every candidate fails; a preference
// list ending in HTTP polling never sees it.
var ErrNoTransport = errors.New("transport: no usable transport")

const defaultConnectTimeout = 3 * time.Second

// Probe walks an ordered preference list and yields the first transport
// that connects. Re-probing after a disconnect starts again from the top
// of the list, never from the transport that failed.
type Probe struct {
	candidates     []Transport
	connectTimeout time.Duration
}

// NewProbe builds a probe over the supplied preference order.
func NewProbe(candidates []Transport, connectTimeout time.Duration) *Probe {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &Probe{candidates: candidates, connectTimeout: connectTimeout}
}

// Select attempts each candidate in order with a bounded connect timeout
// and returns the first connected channel.
func (p *Probe) Select(ctx context.Context) (Channel, error) {
	for _, candidate := range p.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !candidate.Available() {
			log.Printf("[probe] skipping %s: unavailable", candidate.Kind())
			continue
		}

		connectCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
		ch, err := candidate.Connect(connectCtx)
		cancel()
		if err != nil {
			log.Printf("[probe] connect %s failed: %v", candidate.Kind(), err)
			continue
		}

		log.Printf("[probe] selected transport %s", ch.Kind())
		return ch, nil
	}
	return nil, ErrNoTransport
}
