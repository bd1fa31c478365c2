package eventbus

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/protocol"
)

func TestMarshalMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		env   protocol.Envelope
		value string
	}{
		{
			name:  "next song",
			env:   protocol.OK(protocol.ActionNextSong, map[string]any{"name": "Blizny"}),
			value: `{"name":"Blizny"}`,
		},
		{
			name:  "no songs available",
			env:   protocol.OK(protocol.ActionNoSongsAvailable, nil),
			value: `null`,
		},
		{
			name:  "delete",
			env:   protocol.OK(protocol.ActionDeleteSongFromQueue, protocol.DeletePayload{UUID: "abc"}),
			value: `{"uuid":"abc"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := marshalMessage(tt.env, "node-1")
			if err != nil {
				t.Fatalf("marshalMessage: %v", err)
			}
			msg, err := DecodeMessage(data)
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if msg.Action != tt.env.Action || msg.Success != tt.env.Success {
				t.Errorf("envelope mismatch: %+v", msg)
			}
			if msg.NodeID != "node-1" || msg.MessageID == "" {
				t.Errorf("missing identity fields: %+v", msg)
			}
			if time.Since(msg.Timestamp) > time.Minute {
				t.Errorf("timestamp not set: %v", msg.Timestamp)
			}
			if string(msg.Value) != tt.value {
				t.Errorf("value = %s, want %s", msg.Value, tt.value)
			}
		})
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	env := protocol.OK(protocol.ActionNoSongsAvailable, nil)
	a, _ := marshalMessage(env, "n")
	b, _ := marshalMessage(env, "n")

	var ma, mb Message
	_ = json.Unmarshal(a, &ma)
	_ = json.Unmarshal(b, &mb)
	if ma.MessageID == mb.MessageID {
		t.Fatal("expected distinct message IDs")
	}
}

func TestNodeID(t *testing.T) {
	if got := NodeID("studio-1"); got != "studio-1" {
		t.Fatalf("NodeID = %q", got)
	}
	generated := NodeID("")
	if generated == "" || !strings.Contains(generated, "-") {
		t.Fatalf("unexpected generated node id %q", generated)
	}
	if NodeID("") == generated {
		t.Fatal("generated node ids should differ")
	}
}

func TestRedisMirrorWithoutRedisDoesNotBlock(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.QueueSize = 2

	rm := NewRedisMirror(cfg, "node", zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			rm.Mirror(protocol.OK(protocol.ActionNoSongsAvailable, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Mirror blocked with Redis down")
	}

	if err := rm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewNATSMirrorFailsWithoutServer(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 100 * time.Millisecond
	cfg.MaxReconnects = 0

	if _, err := NewNATSMirror(cfg, "node", zerolog.Nop()); err == nil {
		t.Fatal("expected connection error")
	}
}
