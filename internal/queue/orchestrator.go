/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue owns the station's playback queue. All state changes go
// through a single inbox processed by Run.
package queue

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/friendsincode/homefm/internal/acquisition"
	"github.com/friendsincode/homefm/internal/hub"
	"github.com/friendsincode/homefm/internal/models"
	"github.com/friendsincode/homefm/internal/playback"
	"github.com/friendsincode/homefm/internal/protocol"
	"github.com/friendsincode/homefm/internal/telemetry"
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("queue orchestrator stopped")

const inboxSize = 64

// SongRequest is a client's ask for a song. RequestedAt is set by the
// orchestrator when it accepts the request.
type SongRequest struct {
	Name         string
	Artists      string
	ThumbnailURL string
	RequestedAt  time.Time
}

// Broadcaster delivers envelopes to clients. *hub.Hub implements it.
type Broadcaster interface {
	Publish(msg protocol.Envelope)
	Send(token hub.Token, msg protocol.Envelope)
}

// Acquirer resolves a request to a stored song.
type Acquirer interface {
	Acquire(ctx context.Context, q acquisition.Query) (*models.Song, error)
}

// Picker chooses a fallback song when nothing is pending.
type Picker interface {
	RandomPick(ctx context.Context, excludeSensitive bool) (*models.Song, error)
}

// Player is the playback executor.
type Player interface {
	Play(song models.Song) (playback.Handle, error)
	Skip(h playback.Handle) bool
	Events() <-chan playback.Finished
}

// Config tunes the orchestrator.
type Config struct {
	// IncludeSensitive lets the random fallback choose sensitive songs.
	IncludeSensitive bool
}

type queued struct {
	entry models.ScheduledEntry
	seq   uint64
}

type onAir struct {
	song   models.Song
	handle playback.Handle
}

// Orchestrator sequences requested songs onto the player.
type Orchestrator struct {
	cfg      Config
	hub      Broadcaster
	acquirer Acquirer
	picker   Picker
	player   Player
	logger   zerolog.Logger
	now      func() time.Time

	inbox   chan any
	stopped chan struct{}
	wg      sync.WaitGroup

	// Owned by Run.
	active  *onAir
	pending []queued
	picking bool
	seq     uint64
}

// New creates an orchestrator. Call Run to start processing.
func New(cfg Config, b Broadcaster, acquirer Acquirer, picker Picker, player Player, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		hub:      b,
		acquirer: acquirer,
		picker:   picker,
		player:   player,
		logger:   logger.With().Str("component", "queue").Logger(),
		now:      time.Now,
		inbox:    make(chan any, inboxSize),
		stopped:  make(chan struct{}),
	}
}

type requestMsg struct {
	req  SongRequest
	from hub.Token
}

type skipMsg struct{}

type deleteMsg struct {
	uuid string
}

type stateMsg struct {
	reply chan models.QueueState
}

type acquiredMsg struct {
	req  SongRequest
	seq  uint64
	from hub.Token
	song *models.Song
	err  error
}

type pickedMsg struct {
	song *models.Song
	err  error
}

func (o *Orchestrator) post(msg any) error {
	select {
	case o.inbox <- msg:
		return nil
	case <-o.stopped:
		return ErrStopped
	}
}

// Request asks for a song on behalf of the client identified by from.
func (o *Orchestrator) Request(req SongRequest, from hub.Token) error {
	return o.post(requestMsg{req: req, from: from})
}

// Skip ends the song on air. It does nothing when the station is idle.
func (o *Orchestrator) Skip() error {
	return o.post(skipMsg{})
}

// Delete removes a pending entry. Unknown ids are ignored.
func (o *Orchestrator) Delete(id string) error {
	return o.post(deleteMsg{uuid: id})
}

// State returns a snapshot of the queue.
func (o *Orchestrator) State(ctx context.Context) (models.QueueState, error) {
	reply := make(chan models.QueueState, 1)
	if err := o.post(stateMsg{reply: reply}); err != nil {
		return models.QueueState{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return models.QueueState{}, ctx.Err()
	case <-o.stopped:
		return models.QueueState{}, ErrStopped
	}
}

// Run processes the inbox until ctx is cancelled. It starts the station by
// advancing once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		close(o.stopped)
		o.wg.Wait()
	}()

	o.logger.Info().Msg("queue orchestrator started")
	o.advance(ctx)

	events := o.player.Events()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("queue orchestrator stopping")
			return nil
		case ev := <-events:
			o.finished(ctx, ev)
		case msg := <-o.inbox:
			o.handle(ctx, msg)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case requestMsg:
		o.request(ctx, m)
	case skipMsg:
		o.skip()
	case deleteMsg:
		o.delete(m.uuid)
	case stateMsg:
		m.reply <- o.snapshot()
	case acquiredMsg:
		o.acquired(ctx, m)
	case pickedMsg:
		o.picked(m)
	default:
		o.logger.Error().Type("message", msg).Msg("unknown queue message")
	}
}

// spawn runs fn in a goroutine and feeds its result back into the inbox.
func (o *Orchestrator) spawn(ctx context.Context, fn func() any) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		msg := fn()
		select {
		case o.inbox <- msg:
		case <-ctx.Done():
		}
	}()
}

func (o *Orchestrator) request(ctx context.Context, m requestMsg) {
	req := m.req
	req.Name = strings.TrimSpace(req.Name)
	req.Artists = strings.TrimSpace(req.Artists)
	req.RequestedAt = o.now()
	o.seq++
	seq := o.seq

	o.hub.Send(m.from, protocol.OK(protocol.ActionStartSongDownload, protocol.SongRequestPayload{
		Name:         req.Name,
		Artists:      req.Artists,
		ThumbnailURL: req.ThumbnailURL,
	}))
	o.logger.Debug().Str("name", req.Name).Str("artists", req.Artists).Msg("song requested")

	q := acquisition.Query{Name: req.Name, Artist: req.Artists, ThumbnailURL: req.ThumbnailURL}
	o.spawn(ctx, func() any {
		song, err := o.acquirer.Acquire(ctx, q)
		return acquiredMsg{req: req, seq: seq, from: m.from, song: song, err: err}
	})
}

func (o *Orchestrator) acquired(ctx context.Context, m acquiredMsg) {
	if m.err != nil {
		o.hub.Send(m.from, protocol.Fail(protocol.ActionSongDownloadFailed, protocol.DownloadFailure{
			Name:    m.req.Name,
			Artists: m.req.Artists,
			Reason:  acquisition.FailureReason(m.err),
		}))
		return
	}

	o.enqueue(ctx, queued{
		entry: models.ScheduledEntry{
			UUID:        uuid.NewString(),
			Song:        *m.song,
			RequestedAt: m.req.RequestedAt,
		},
		seq: m.seq,
	})
}

// enqueue inserts q keeping pending ordered by request time, then request order.
func (o *Orchestrator) enqueue(ctx context.Context, q queued) {
	i := sort.Search(len(o.pending), func(i int) bool {
		p := o.pending[i]
		if !p.entry.RequestedAt.Equal(q.entry.RequestedAt) {
			return p.entry.RequestedAt.After(q.entry.RequestedAt)
		}
		return p.seq > q.seq
	})
	o.pending = slices.Insert(o.pending, i, q)
	telemetry.QueuePending.Set(float64(len(o.pending)))

	o.hub.Publish(protocol.OK(protocol.ActionSongDownloadFinished, q.entry))
	o.logger.Info().
		Str("uuid", q.entry.UUID).
		Str("song_id", q.entry.Song.ID).
		Int("position", i).
		Msg("song queued")

	if o.active == nil {
		o.advance(ctx)
	}
}

func (o *Orchestrator) advance(ctx context.Context) {
	if o.active != nil {
		return
	}

	for len(o.pending) > 0 {
		next := o.pending[0]
		o.pending = o.pending[1:]
		telemetry.QueuePending.Set(float64(len(o.pending)))
		if o.play(next.entry.Song) {
			return
		}
	}

	if o.picking {
		return
	}
	o.picking = true
	exclude := !o.cfg.IncludeSensitive
	o.spawn(ctx, func() any {
		song, err := o.picker.RandomPick(ctx, exclude)
		return pickedMsg{song: song, err: err}
	})
}

func (o *Orchestrator) play(song models.Song) bool {
	handle, err := o.player.Play(song)
	if err != nil {
		o.logger.Error().Err(err).Str("song_id", song.ID).Msg("failed to start playback")
		return false
	}
	o.active = &onAir{song: song, handle: handle}
	o.hub.Publish(protocol.OK(protocol.ActionNextSong, song))
	return true
}

func (o *Orchestrator) picked(m pickedMsg) {
	o.picking = false
	if o.active != nil {
		return
	}
	if m.err != nil {
		o.logger.Info().Err(m.err).Msg("no song available for random pick")
		o.hub.Publish(protocol.OK(protocol.ActionNoSongsAvailable, nil))
		return
	}
	o.play(*m.song)
}

func (o *Orchestrator) finished(ctx context.Context, ev playback.Finished) {
	if o.active == nil || o.active.handle != ev.Handle {
		o.logger.Debug().Uint64("handle", uint64(ev.Handle)).Msg("ignoring stale playback event")
		return
	}
	o.active = nil
	o.advance(ctx)
}

func (o *Orchestrator) skip() {
	if o.active == nil {
		return
	}
	o.player.Skip(o.active.handle)
}

func (o *Orchestrator) delete(id string) {
	_, i, ok := lo.FindIndexOf(o.pending, func(q queued) bool {
		return q.entry.UUID == id
	})
	if !ok {
		return
	}
	o.pending = slices.Delete(o.pending, i, i+1)
	telemetry.QueuePending.Set(float64(len(o.pending)))
	o.hub.Publish(protocol.OK(protocol.ActionDeleteSongFromQueue, protocol.DeletePayload{UUID: id}))
}

func (o *Orchestrator) snapshot() models.QueueState {
	st := models.QueueState{
		Pending: lo.Map(o.pending, func(q queued, _ int) models.ScheduledEntry {
			return q.entry
		}),
	}
	if o.active != nil {
		song := o.active.song
		st.Active = &song
	}
	return st
}
