/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package acquisition turns song requests into stored, playable songs.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/homefm/internal/models"
	"github.com/friendsincode/homefm/internal/store"
	"github.com/friendsincode/homefm/internal/telemetry"
)

const tracerName = "homefm/acquisition"

// Query identifies the song to acquire.
type Query struct {
	Name         string
	Artist       string
	ThumbnailURL string
}

// Fetcher downloads a song. The returned song has no ID yet.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (models.Song, error)
}

// Store is the persistence the pipeline needs. *store.Store implements it.
type Store interface {
	Find(ctx context.Context, name, artist string) (*models.Song, error)
	Insert(ctx context.Context, song *models.Song) (*models.Song, error)
}

// Uploader mirrors a downloaded file elsewhere. *media.S3Mirror implements it.
type Uploader interface {
	Upload(ctx context.Context, songPath string) error
}

// Pipeline looks songs up and downloads the ones it does not have.
type Pipeline struct {
	store    Store
	fetcher  Fetcher
	uploader Uploader
	group    singleflight.Group
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline. uploader may be nil.
func NewPipeline(st Store, fetcher Fetcher, uploader Uploader, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:    st,
		fetcher:  fetcher,
		uploader: uploader,
		logger:   logger.With().Str("component", "acquisition").Logger(),
	}
}

// Acquire returns the stored song for q, downloading it first if needed.
// Concurrent calls for the same song share one download. Errors wrap
// ErrNotFound, ErrTransferFailed or ErrStoreUnavailable.
func (p *Pipeline) Acquire(ctx context.Context, q Query) (*models.Song, error) {
	q.Name = strings.TrimSpace(q.Name)
	q.Artist = strings.TrimSpace(q.Artist)

	ctx, span := telemetry.StartSpan(ctx, tracerName, "acquisition.Acquire",
		attribute.String("song.name", q.Name),
		attribute.String("song.artist", q.Artist),
	)
	defer span.End()

	start := time.Now()
	song, result, err := p.acquire(ctx, q)
	telemetry.AcquisitionsTotal.WithLabelValues(result).Inc()
	telemetry.AcquisitionDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("acquisition.result", result))

	if err != nil {
		telemetry.RecordError(span, err)
		p.logger.Warn().Err(err).Str("name", q.Name).Str("artist", q.Artist).Msg("acquisition failed")
		return nil, err
	}
	return song, nil
}

func (p *Pipeline) acquire(ctx context.Context, q Query) (*models.Song, string, error) {
	song, err := p.lookup(ctx, q)
	if err == nil {
		return song, "hit", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, ReasonStoreUnavailable, err
	}

	key := strings.ToLower(q.Name) + "|" + strings.ToLower(q.Artist)
	v, err, shared := p.group.Do(key, func() (any, error) {
		// Detached so one requester going away does not fail the others.
		return p.download(context.WithoutCancel(ctx), q)
	})
	if err != nil {
		return nil, FailureReason(err), err
	}
	if !shared {
		return v.(*models.Song), "downloaded", nil
	}

	song, err = p.lookup(ctx, q)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: shared download left no record", ErrStoreUnavailable)
		}
		return nil, ReasonStoreUnavailable, err
	}
	return song, "shared", nil
}

func (p *Pipeline) lookup(ctx context.Context, q Query) (*models.Song, error) {
	song, err := p.store.Find(ctx, q.Name, q.Artist)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return song, err
	}
	return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (p *Pipeline) download(ctx context.Context, q Query) (*models.Song, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "acquisition.fetch",
		attribute.String("song.name", q.Name),
		attribute.String("song.artist", q.Artist),
	)
	defer span.End()

	fetched, err := p.fetcher.Fetch(ctx, q)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTransferFailed) {
			err = fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}
	if fetched.Name == "" {
		fetched.Name = q.Name
		fetched.Artist = q.Artist
	}

	song, err := p.store.Insert(ctx, &fetched)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	p.logger.Info().
		Str("song_id", song.ID).
		Str("name", song.Name).
		Str("artist", song.Artist).
		Int("duration", song.Duration).
		Msg("song acquired")

	if p.uploader != nil {
		if err := p.uploader.Upload(ctx, song.Path); err != nil {
			p.logger.Warn().Err(err).Str("song_id", song.ID).Msg("song mirror upload failed")
		}
	}
	return song, nil
}
