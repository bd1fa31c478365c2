/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package acquisition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/media"
	"github.com/friendsincode/homefm/internal/models"
)

// YTDLP downloads the first search hit for a query with yt-dlp.
type YTDLP struct {
	Bin     string
	library *media.Library
	logger  zerolog.Logger
}

// NewYTDLP creates a fetcher writing into library.
func NewYTDLP(bin string, library *media.Library, logger zerolog.Logger) *YTDLP {
	return &YTDLP{
		Bin:     bin,
		library: library,
		logger:  logger.With().Str("component", "ytdlp").Logger(),
	}
}

// Fetch downloads q as mp3. Files already on disk with a sidecar are reused.
func (y *YTDLP) Fetch(ctx context.Context, q Query) (models.Song, error) {
	if err := y.library.EnsureRoot(); err != nil {
		return models.Song{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	stem := y.library.Stem(q.Name, q.Artist)
	songPath := y.library.SongPath(q.Name, q.Artist)

	if media.Exists(songPath) {
		if song, err := media.ReadSidecar(songPath); err == nil {
			y.logger.Debug().Str("path", songPath).Msg("song already on disk")
			return y.finish(song, q), nil
		}
	}

	search := "ytsearch1:" + strings.TrimSpace(q.Name+" "+q.Artist)
	cmd := exec.CommandContext(ctx, y.Bin,
		search,
		"-x",
		"--audio-format", "mp3",
		"--write-info-json",
		"--no-playlist",
		"-o", stem+".%(ext)s",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	y.logger.Info().Str("query", search).Msg("downloading song")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return models.Song{}, fmt.Errorf("%w: %w", ErrTransferFailed, ctx.Err())
		}
		return models.Song{}, fmt.Errorf("%w: %s: %w: %s", ErrTransferFailed, y.Bin, err, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(songPath); err != nil {
		return models.Song{}, fmt.Errorf("%w: no audio for %q", ErrNotFound, search)
	}
	song, err := media.ReadSidecar(songPath)
	if errors.Is(err, media.ErrNoSidecar) {
		return models.Song{}, fmt.Errorf("%w: no metadata for %q", ErrNotFound, search)
	}
	if err != nil {
		return models.Song{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	song = y.finish(song, q)
	if err := media.WriteSidecar(song); err != nil {
		y.logger.Warn().Err(err).Str("path", songPath).Msg("could not rewrite sidecar")
	}
	return song, nil
}

// finish stores the song under the requested identity so later lookups by
// the same (name, artist) hit.
func (y *YTDLP) finish(song models.Song, q Query) models.Song {
	song.Name = q.Name
	song.Artist = q.Artist
	if q.ThumbnailURL != "" {
		song.ThumbnailURL = q.ThumbnailURL
	}
	return song
}
