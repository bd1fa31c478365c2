/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/protocol"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL     string
	Token   string
	Subject string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       NATSSubject,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSMirror publishes broadcasts to a NATS subject. The client buffers
// outgoing messages, so Mirror does not block on the network.
type NATSMirror struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewNATSMirror connects to NATS.
func NewNATSMirror(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSMirror, error) {
	if cfg.Subject == "" {
		cfg.Subject = NATSSubject
	}
	logger = logger.With().Str("component", "nats_mirror").Logger()

	opts := []nats.Option{
		nats.Name("homefm-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("NATS event mirror initialized")

	return &NATSMirror{
		conn:    conn,
		subject: cfg.Subject,
		nodeID:  nodeID,
		logger:  logger,
	}, nil
}

// Mirror publishes env to the configured subject.
func (nm *NATSMirror) Mirror(env protocol.Envelope) {
	data, err := marshalMessage(env, nm.nodeID)
	if err != nil {
		nm.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}
	if err := nm.conn.Publish(nm.subject, data); err != nil {
		nm.logger.Error().Err(err).Str("action", string(env.Action)).Msg("failed to publish to NATS")
	}
}

// Subscribe delivers mirrored messages to fn until ctx is cancelled.
func (nm *NATSMirror) Subscribe(ctx context.Context, fn func(*Message)) error {
	sub, err := nm.conn.Subscribe(nm.subject, func(m *nats.Msg) {
		msg, err := DecodeMessage(m.Data)
		if err != nil {
			nm.logger.Warn().Err(err).Msg("skipping malformed mirrored message")
			return
		}
		fn(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", nm.subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

// Close flushes pending messages and closes the connection.
func (nm *NATSMirror) Close() error {
	if err := nm.conn.Drain(); err != nil {
		nm.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	nm.logger.Info().Msg("NATS event mirror closed")
	return nil
}
