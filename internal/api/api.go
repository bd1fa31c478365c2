/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the station over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/hub"
	"github.com/friendsincode/homefm/internal/logbuffer"
	"github.com/friendsincode/homefm/internal/models"
	"github.com/friendsincode/homefm/internal/queue"
)

// Songs is the song repository. *store.Store implements it.
type Songs interface {
	All(ctx context.Context) ([]models.Song, error)
	Get(ctx context.Context, id string) (*models.Song, error)
	Delete(ctx context.Context, id string) (*models.Song, error)
	SetSensitive(ctx context.Context, id string, sensitive bool) (*models.Song, error)
	ToggleSensitive(ctx context.Context, id string) (*models.Song, error)
}

// Queue is the playback queue. *queue.Orchestrator implements it.
type Queue interface {
	Request(req queue.SongRequest, from hub.Token) error
	Skip() error
	Delete(id string) error
	State(ctx context.Context) (models.QueueState, error)
}

// Tuner holds the transmit frequency. *playback.Executor implements it.
type Tuner interface {
	Frequency() float64
	SetFrequency(f float64)
}

// FileRemover deletes a song's files. *media.Library implements it.
type FileRemover interface {
	Remove(songPath string) error
}

// ObjectRemover deletes a mirrored copy of a song. *media.S3Mirror implements it.
type ObjectRemover interface {
	Delete(ctx context.Context, songPath string) error
}

// Heartbeat controls websocket keepalive.
type Heartbeat struct {
	PingInterval  time.Duration
	ClientTimeout time.Duration
}

// API wires HTTP handlers to the station.
type API struct {
	songs     Songs
	queue     Queue
	hub       *hub.Hub
	tuner     Tuner
	files     FileRemover
	objects   ObjectRemover
	heartbeat Heartbeat
	logs      *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(songs Songs, q Queue, h *hub.Hub, tuner Tuner, files FileRemover, logger zerolog.Logger) *API {
	return &API{
		songs: songs,
		queue: q,
		hub:   h,
		tuner: tuner,
		files: files,
		heartbeat: Heartbeat{
			PingInterval:  5 * time.Second,
			ClientTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// SetObjectRemover enables deletion of mirrored song objects.
func (a *API) SetObjectRemover(objects ObjectRemover) {
	a.objects = objects
}

// SetLogBuffer exposes recent log lines at /api/v1/logs.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logs = buf
}

// SetHeartbeat overrides the websocket keepalive timings.
func (a *API) SetHeartbeat(hb Heartbeat) {
	a.heartbeat = hb
}

// Routes registers API routes on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/ws", a.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/songs", func(r chi.Router) {
			r.Get("/", a.handleSongsList)
			r.Route("/{songID}", func(r chi.Router) {
				r.Get("/", a.handleSongsGet)
				r.Delete("/", a.handleSongsDelete)
				r.Put("/sensitive", a.handleSongsSetSensitive)
				r.Post("/sensitive/toggle", a.handleSongsToggleSensitive)
			})
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", a.handleQueueState)
			r.Post("/skip", a.handleQueueSkip)
			r.Delete("/{uuid}", a.handleQueueDelete)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", a.handleConfigGet)
			r.Put("/", a.handleConfigUpdate)
		})

		r.Get("/logs", a.handleLogs)
		r.Get("/logs/stats", a.handleLogStats)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
