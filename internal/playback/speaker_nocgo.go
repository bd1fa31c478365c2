//go:build !((linux && cgo) || windows || darwin)

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// SpeakerAvailable reports whether this build can drive local audio.
const SpeakerAvailable = false

// ErrSpeakerUnavailable is returned when the binary was built without audio support.
var ErrSpeakerUnavailable = errors.New("speaker output requires a cgo build")

// SpeakerTransmitter is a stub for builds without audio support.
type SpeakerTransmitter struct {
	logger zerolog.Logger
}

// NewSpeakerTransmitter creates the stub output.
func NewSpeakerTransmitter(logger zerolog.Logger) *SpeakerTransmitter {
	return &SpeakerTransmitter{logger: logger.With().Str("component", "speaker").Logger()}
}

// Transmit always fails; the executor then holds the slot for the song's duration.
func (s *SpeakerTransmitter) Transmit(context.Context, string, float64) error {
	return ErrSpeakerUnavailable
}
