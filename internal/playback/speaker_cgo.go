//go:build (linux && cgo) || windows || darwin

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog"
)

// SpeakerAvailable reports whether this build can drive local audio.
const SpeakerAvailable = true

// SpeakerTransmitter plays songs on the local sound card instead of FM. The
// frequency is ignored.
type SpeakerTransmitter struct {
	sampleRate beep.SampleRate
	logger     zerolog.Logger

	initOnce sync.Once
	initErr  error
}

// NewSpeakerTransmitter creates a speaker output at 44.1kHz.
func NewSpeakerTransmitter(logger zerolog.Logger) *SpeakerTransmitter {
	return &SpeakerTransmitter{
		sampleRate: beep.SampleRate(44100),
		logger:     logger.With().Str("component", "speaker").Logger(),
	}
}

func (s *SpeakerTransmitter) init() error {
	s.initOnce.Do(func() {
		s.initErr = speaker.Init(s.sampleRate, s.sampleRate.N(time.Second/10))
	})
	return s.initErr
}

// Transmit decodes the mp3 at path and plays it until it ends or ctx is done.
func (s *SpeakerTransmitter) Transmit(ctx context.Context, path string, _ float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open song: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()

	if err := s.init(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	done := make(chan struct{})
	resampled := beep.Resample(4, format.SampleRate, s.sampleRate, streamer)
	speaker.Play(beep.Seq(resampled, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		s.logger.Debug().Str("path", path).Msg("speaker playback interrupted")
		return ctx.Err()
	}
}
