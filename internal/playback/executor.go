/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback drives the external transmitter one song at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/models"
	"github.com/friendsincode/homefm/internal/telemetry"
)

var (
	// ErrBusy is returned by Play while another song is on air.
	ErrBusy = errors.New("playback already in progress")
	// ErrNoDuration is returned for songs without a positive duration.
	ErrNoDuration = errors.New("song has no duration")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("executor closed")
)

// Transmitter plays a file at a frequency until it ends or ctx is done.
type Transmitter interface {
	Transmit(ctx context.Context, path string, frequency float64) error
}

// Handle identifies a single Play call.
type Handle uint64

// Reason describes how a playback ended.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonTimeout   Reason = "timeout"
	ReasonSkipped   Reason = "skipped"
	ReasonFailed    Reason = "failed"
)

// Finished is emitted exactly once per successful Play.
type Finished struct {
	Handle Handle
	Song   models.Song
	Reason Reason
	Err    error
}

type run struct {
	handle  Handle
	cancel  context.CancelFunc
	skipped atomic.Bool
}

// Executor runs at most one transmission at a time and reports each one's
// end on Events.
type Executor struct {
	tx     Transmitter
	logger zerolog.Logger

	events chan Finished
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	frequency float64
	next      Handle
	active    *run
	closed    bool
}

// NewExecutor creates an executor transmitting at frequency.
func NewExecutor(tx Transmitter, frequency float64, logger zerolog.Logger) *Executor {
	return &Executor{
		tx:        tx,
		logger:    logger.With().Str("component", "playback").Logger(),
		events:    make(chan Finished, 1),
		done:      make(chan struct{}),
		frequency: frequency,
	}
}

// Events returns the channel Finished events are delivered on.
func (e *Executor) Events() <-chan Finished {
	return e.events
}

// Frequency returns the frequency the next Play will use.
func (e *Executor) Frequency() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frequency
}

// SetFrequency changes the frequency for subsequent plays. The song on air
// keeps its frequency.
func (e *Executor) SetFrequency(f float64) {
	e.mu.Lock()
	e.frequency = f
	e.mu.Unlock()
	e.logger.Info().Float64("frequency", f).Msg("frequency updated")
}

// Active returns the handle of the in-flight playback, if any.
func (e *Executor) Active() (Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return 0, false
	}
	return e.active.handle, true
}

// Play starts transmitting song. The transmission is cut off once the song's
// duration has elapsed.
func (e *Executor) Play(song models.Song) (Handle, error) {
	if song.Duration <= 0 {
		return 0, fmt.Errorf("play %s: %w", song.ID, ErrNoDuration)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	if e.active != nil {
		e.mu.Unlock()
		return 0, ErrBusy
	}
	e.next++
	ctx, cancel := context.WithTimeout(context.Background(), song.PlayDuration())
	r := &run{handle: e.next, cancel: cancel}
	e.active = r
	freq := e.frequency
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info().
		Uint64("handle", uint64(r.handle)).
		Str("song_id", song.ID).
		Str("name", song.Name).
		Float64("frequency", freq).
		Int("duration", song.Duration).
		Msg("playback started")

	go e.transmit(ctx, r, song, freq)
	return r.handle, nil
}

func (e *Executor) transmit(ctx context.Context, r *run, song models.Song, freq float64) {
	defer e.wg.Done()
	defer r.cancel()

	err := e.tx.Transmit(ctx, song.Path, freq)

	var reason Reason
	switch {
	case r.skipped.Load():
		reason = ReasonSkipped
	case err == nil:
		reason = ReasonCompleted
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = ReasonTimeout
	default:
		reason = ReasonFailed
		e.logger.Error().Err(err).Str("song_id", song.ID).Msg("transmitter failed, holding slot")
		// Keep the slot for the rest of the song so a broken device does
		// not spin through the queue.
		<-ctx.Done()
		if r.skipped.Load() {
			reason = ReasonSkipped
		}
	}

	e.mu.Lock()
	if e.active == r {
		e.active = nil
	}
	e.mu.Unlock()

	telemetry.SongsPlayedTotal.WithLabelValues(string(reason)).Inc()
	e.logger.Info().
		Uint64("handle", uint64(r.handle)).
		Str("song_id", song.ID).
		Str("reason", string(reason)).
		Msg("playback finished")

	select {
	case e.events <- Finished{Handle: r.handle, Song: song, Reason: reason, Err: err}:
	case <-e.done:
	}
}

// Skip cancels the playback identified by h. Stale handles are ignored.
func (e *Executor) Skip(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.handle != h {
		return false
	}
	e.active.skipped.Store(true)
	e.active.cancel()
	return true
}

// Close stops any playback and waits for its goroutine to exit. Events not
// yet consumed are discarded.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.active != nil {
		e.active.cancel()
	}
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
	return nil
}
