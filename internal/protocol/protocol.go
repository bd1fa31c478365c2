/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package protocol defines the JSON messages exchanged with websocket clients.
package protocol

import "encoding/json"

// Action names a message type on the wire.
type Action string

// Client to server actions.
const (
	ActionRequestSong Action = "request_song"
	ActionSkipSong    Action = "skip_song"
	// ActionDeleteSongFromQueue is also broadcast back once the entry is removed.
	ActionDeleteSongFromQueue Action = "delete_song_from_queue"
)

// Server to client actions.
const (
	ActionNextSong             Action = "next_song"
	ActionSongDownloadFinished Action = "song_download_finished"
	ActionSongDownloadFailed   Action = "song_download_failed"
	ActionNoSongsAvailable     Action = "no_songs_available"
	ActionQueueState           Action = "queue_state"
	ActionStartSongDownload    Action = "start_song_download"
	ActionIncompleteData       Action = "incomplete_data"
	ActionUnknownAction        Action = "unknown_action"
)

// Envelope is the server to client message.
type Envelope struct {
	Success bool   `json:"success"`
	Action  Action `json:"action"`
	Value   any    `json:"value"`
}

// Request is the client to server message. Payload is decoded per action.
type Request struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SongRequestPayload is the payload of request_song.
type SongRequestPayload struct {
	Name         string `json:"name"`
	Artists      string `json:"artists"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// DeletePayload carries a queue-scoped entry id.
type DeletePayload struct {
	UUID string `json:"uuid"`
}

// DownloadFailure is the value of song_download_failed.
type DownloadFailure struct {
	Name    string `json:"name"`
	Artists string `json:"artists"`
	Reason  string `json:"reason"`
}

// OK builds a successful envelope.
func OK(action Action, value any) Envelope {
	return Envelope{Success: true, Action: action, Value: value}
}

// Fail builds a failed envelope.
func Fail(action Action, value any) Envelope {
	return Envelope{Success: false, Action: action, Value: value}
}
