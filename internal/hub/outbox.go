/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hub

import (
	"sync"

	"github.com/friendsincode/homefm/internal/protocol"
)

// Outbox is a buffered Channel. The owner drains C until Done is closed.
type Outbox struct {
	C chan protocol.Envelope

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewOutbox creates an outbox holding up to size undelivered messages.
func NewOutbox(size int) *Outbox {
	return &Outbox{
		C:    make(chan protocol.Envelope, size),
		done: make(chan struct{}),
	}
}

// Deliver queues msg without blocking.
func (o *Outbox) Deliver(msg protocol.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrChannelClosed
	}
	select {
	case o.C <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close marks the outbox dead. Later deliveries fail with ErrChannelClosed.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
}

// Done is closed once the outbox is closed.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}
