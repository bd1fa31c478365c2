/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package acquisition

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/models"
)

type fetchResult struct {
	song models.Song
	err  error
}

type fetchJob struct {
	ctx    context.Context
	query  Query
	result chan fetchResult
}

// Pool bounds the number of concurrent downloads. It implements Fetcher.
type Pool struct {
	fetcher Fetcher
	workers int
	jobs    chan fetchJob
	stopped chan struct{}
	logger  zerolog.Logger
}

// NewPool creates a pool of workers around fetcher. Run must be called for
// jobs to be processed.
func NewPool(fetcher Fetcher, workers int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		fetcher: fetcher,
		workers: workers,
		jobs:    make(chan fetchJob),
		stopped: make(chan struct{}),
		logger:  logger.With().Str("component", "fetch_pool").Logger(),
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight download has returned.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info().Int("workers", p.workers).Msg("fetch pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.jobs:
					job.result <- p.fetch(ctx, workerID, job)
				}
			}
		}(i)
	}

	<-ctx.Done()
	close(p.stopped)
	wg.Wait()
	p.logger.Info().Msg("fetch pool stopped")
}

func (p *Pool) fetch(poolCtx context.Context, workerID int, job fetchJob) fetchResult {
	ctx, cancel := context.WithCancel(job.ctx)
	defer cancel()
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()

	p.logger.Debug().
		Int("worker", workerID).
		Str("name", job.query.Name).
		Str("artist", job.query.Artist).
		Msg("fetching song")

	song, err := p.fetcher.Fetch(ctx, job.query)
	return fetchResult{song: song, err: err}
}

// Fetch queues q and waits for a worker to download it.
func (p *Pool) Fetch(ctx context.Context, q Query) (models.Song, error) {
	job := fetchJob{ctx: ctx, query: q, result: make(chan fetchResult, 1)}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return models.Song{}, ctx.Err()
	case <-p.stopped:
		return models.Song{}, ErrPoolStopped
	}

	select {
	case r := <-job.result:
		return r.song, r.err
	case <-ctx.Done():
		return models.Song{}, ctx.Err()
	}
}
