/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors hub broadcasts to Redis pub/sub or NATS so that
// processes outside the server can follow the station.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/homefm/internal/protocol"
)

const (
	// RedisChannel is the pub/sub channel broadcasts are mirrored to.
	RedisChannel = "homefm:events"
	// NATSSubject is the subject broadcasts are mirrored to.
	NATSSubject = "homefm.events"
)

// Message is the mirrored form of a broadcast envelope.
type Message struct {
	Action    protocol.Action `json:"action"`
	Success   bool            `json:"success"`
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	NodeID    string          `json:"node_id"`
	MessageID string          `json:"message_id"`
}

func marshalMessage(env protocol.Envelope, nodeID string) ([]byte, error) {
	value, err := json.Marshal(env.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return json.Marshal(Message{
		Action:    env.Action,
		Success:   env.Success,
		Value:     value,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// DecodeMessage parses a mirrored message.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal mirrored message: %w", err)
	}
	return &msg, nil
}

// NodeID returns instanceID, or hostname plus a short random suffix.
func NodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "homefm"
	}
	return host + "-" + uuid.NewString()[:8]
}
