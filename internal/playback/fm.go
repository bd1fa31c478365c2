/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWaitDelay is how long the transmitter gets to exit after SIGINT.
const DefaultWaitDelay = 5 * time.Second

// FMTransmitter runs an fm_transmitter style binary: <bin> -f <MHz> <file>.
type FMTransmitter struct {
	Bin       string
	WaitDelay time.Duration
	logger    zerolog.Logger
}

// NewFMTransmitter creates a transmitter around bin.
func NewFMTransmitter(bin string, logger zerolog.Logger) *FMTransmitter {
	return &FMTransmitter{
		Bin:       bin,
		WaitDelay: DefaultWaitDelay,
		logger:    logger.With().Str("component", "fm_transmitter").Logger(),
	}
}

// Transmit blocks until the binary exits or ctx is done. Cancellation sends
// SIGINT and kills the process if it has not exited after WaitDelay.
func (t *FMTransmitter) Transmit(ctx context.Context, path string, frequency float64) error {
	cmd := exec.CommandContext(ctx, t.Bin, "-f", strconv.FormatFloat(frequency, 'f', 1, 64), path)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = t.WaitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start transmitter: %w", err)
	}
	t.logger.Debug().Int("pid", cmd.Process.Pid).Str("path", path).Msg("transmitter started")

	err := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("transmitter exited: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
