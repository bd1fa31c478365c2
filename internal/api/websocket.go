/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/homefm/internal/hub"
	"github.com/friendsincode/homefm/internal/protocol"
	"github.com/friendsincode/homefm/internal/queue"
)

const outboxSize = 64

func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	ctx := r.Context()

	outbox := hub.NewOutbox(outboxSize)
	token := a.hub.Register(outbox)
	defer func() {
		a.hub.Unregister(token)
		outbox.Close()
	}()

	a.logger.Debug().Uint64("token", uint64(token)).Str("remote", r.RemoteAddr).Msg("websocket client connected")

	state, err := a.queue.State(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("queue state for new client failed")
		conn.Close(ws.StatusInternalError, "queue unavailable")
		return
	}
	if err := writeEnvelope(ctx, conn, protocol.OK(protocol.ActionQueueState, state)); err != nil {
		a.logger.Debug().Err(err).Msg("send queue state failed")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) != ws.StatusNormalClosure {
					a.logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
			a.dispatch(token, data)
		}
	}()

	pingTicker := time.NewTicker(a.heartbeat.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, a.heartbeat.ClientTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				a.logger.Debug().Err(err).Uint64("token", uint64(token)).Msg("client heartbeat timed out")
				conn.Close(ws.StatusPolicyViolation, "heartbeat timeout")
				return
			}

		case msg := <-outbox.C:
			if err := writeEnvelope(ctx, conn, msg); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *ws.Conn, msg protocol.Envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

// dispatch handles one client message. Replies go to the sender only.
func (a *API) dispatch(token hub.Token, data []byte) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		a.hub.Send(token, protocol.OK(protocol.ActionIncompleteData, nil))
		return
	}

	var err error
	switch req.Action {
	case protocol.ActionRequestSong:
		var p protocol.SongRequestPayload
		if json.Unmarshal(req.Payload, &p) != nil || strings.TrimSpace(p.Name) == "" {
			a.hub.Send(token, protocol.OK(protocol.ActionIncompleteData, nil))
			return
		}
		err = a.queue.Request(queue.SongRequest{
			Name:         p.Name,
			Artists:      p.Artists,
			ThumbnailURL: p.ThumbnailURL,
		}, token)

	case protocol.ActionSkipSong:
		err = a.queue.Skip()

	case protocol.ActionDeleteSongFromQueue:
		var p protocol.DeletePayload
		if json.Unmarshal(req.Payload, &p) != nil || p.UUID == "" {
			a.hub.Send(token, protocol.OK(protocol.ActionIncompleteData, nil))
			return
		}
		err = a.queue.Delete(p.UUID)

	default:
		a.hub.Send(token, protocol.Fail(protocol.ActionUnknownAction, req.Action))
		return
	}

	if err != nil {
		a.logger.Warn().Err(err).Str("action", string(req.Action)).Msg("client action failed")
	}
}
