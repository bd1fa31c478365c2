/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hub fans server messages out to connected clients.
package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/protocol"
	"github.com/friendsincode/homefm/internal/telemetry"
)

var (
	// ErrChannelClosed reports that a client is gone. The hub prunes it.
	ErrChannelClosed = errors.New("client channel closed")
	// ErrChannelFull reports that a client is not keeping up. The message is
	// dropped for that client only.
	ErrChannelFull = errors.New("client channel full")
)

// Channel is one connected client's outbound sink.
type Channel interface {
	Deliver(protocol.Envelope) error
}

// Mirror receives a copy of every published message for consumers outside
// this process.
type Mirror interface {
	Mirror(protocol.Envelope)
}

// Token identifies a registered channel.
type Token uint64

// Hub maintains the set of connected client channels.
type Hub struct {
	mu       sync.RWMutex
	next     Token
	channels map[Token]Channel
	tokens   map[Channel]Token
	mirror   Mirror
	logger   zerolog.Logger
}

// New creates an empty hub. mirror may be nil.
func New(mirror Mirror, logger zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[Token]Channel),
		tokens:   make(map[Channel]Token),
		mirror:   mirror,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds ch and returns its token. Registering the same channel twice
// returns the original token.
func (h *Hub) Register(ch Channel) Token {
	h.mu.Lock()
	defer h.mu.Unlock()

	if token, ok := h.tokens[ch]; ok {
		return token
	}
	h.next++
	h.channels[h.next] = ch
	h.tokens[ch] = h.next
	telemetry.WebSocketClients.Set(float64(len(h.channels)))
	return h.next
}

// Unregister removes the channel for token. Unknown tokens are ignored.
func (h *Hub) Unregister(token Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(token)
}

func (h *Hub) removeLocked(token Token) bool {
	ch, ok := h.channels[token]
	if !ok {
		return false
	}
	delete(h.channels, token)
	delete(h.tokens, ch)
	telemetry.WebSocketClients.Set(float64(len(h.channels)))
	return true
}

// Publish delivers msg to every registered channel. Closed channels are
// pruned; a failing client never affects delivery to the others.
func (h *Hub) Publish(msg protocol.Envelope) {
	h.mu.RLock()
	targets := make(map[Token]Channel, len(h.channels))
	for token, ch := range h.channels {
		targets[token] = ch
	}
	h.mu.RUnlock()

	var dead []Token
	for token, ch := range targets {
		if err := h.deliver(token, ch, msg); errors.Is(err, ErrChannelClosed) {
			dead = append(dead, token)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, token := range dead {
			if h.removeLocked(token) {
				telemetry.HubPrunedTotal.Inc()
				h.logger.Debug().Uint64("token", uint64(token)).Msg("pruned closed client channel")
			}
		}
		h.mu.Unlock()
	}

	telemetry.BroadcastsTotal.WithLabelValues(string(msg.Action)).Inc()
	if h.mirror != nil {
		h.mirror.Mirror(msg)
	}
}

// Send delivers msg to a single client. Unknown tokens are ignored.
func (h *Hub) Send(token Token, msg protocol.Envelope) {
	h.mu.RLock()
	ch, ok := h.channels[token]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if errors.Is(h.deliver(token, ch, msg), ErrChannelClosed) {
		h.Unregister(token)
	}
}

// Len returns the number of registered channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) deliver(token Token, ch Channel, msg protocol.Envelope) error {
	err := ch.Deliver(msg)
	if errors.Is(err, ErrChannelFull) {
		h.logger.Warn().Uint64("token", uint64(token)).Str("action", string(msg.Action)).Msg("client too slow, message dropped")
	}
	return err
}
