/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/protocol"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration

	// Messages buffered between the hub and the publisher goroutine.
	QueueSize int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
		QueueSize:     256,
	}
}

// RedisMirror publishes broadcasts to a Redis channel. Publishing happens on
// its own goroutine so the hub never waits on the network.
type RedisMirror struct {
	client *redis.Client
	logger zerolog.Logger
	nodeID string
	cfg    RedisConfig

	queue chan protocol.Envelope

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// Circuit breaker state
	useFallback bool
	failCount   int
	lastCheck   time.Time
}

// NewRedisMirror connects to Redis. If Redis is unreachable the mirror starts
// with the breaker open and retries every CheckInterval.
func NewRedisMirror(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisMirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm := &RedisMirror{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		logger: logger.With().Str("component", "redis_mirror").Logger(),
		nodeID: nodeID,
		cfg:    cfg,
		queue:  make(chan protocol.Envelope, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rm.client.Ping(pingCtx).Err(); err != nil {
		rm.logger.Warn().Err(err).Msg("Redis connection failed, mirror paused")
		rm.useFallback = true
		rm.lastCheck = time.Now()
	} else {
		rm.logger.Info().Str("addr", cfg.Addr).Msg("Redis event mirror initialized")
	}

	rm.wg.Add(1)
	go rm.run()
	return rm
}

// Mirror queues env for publishing. A full queue drops the message.
func (rm *RedisMirror) Mirror(env protocol.Envelope) {
	select {
	case rm.queue <- env:
	default:
		rm.logger.Warn().Str("action", string(env.Action)).Msg("mirror queue full, dropping message")
	}
}

func (rm *RedisMirror) run() {
	defer rm.wg.Done()
	for {
		select {
		case <-rm.ctx.Done():
			return
		case env := <-rm.queue:
			rm.publish(env)
		}
	}
}

func (rm *RedisMirror) publish(env protocol.Envelope) {
	if rm.breakerOpen() {
		return
	}

	data, err := marshalMessage(env, rm.nodeID)
	if err != nil {
		rm.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	ctx, cancel := context.WithTimeout(rm.ctx, 2*time.Second)
	defer cancel()

	if err := rm.client.Publish(ctx, RedisChannel, data).Err(); err != nil {
		rm.logger.Error().Err(err).Str("action", string(env.Action)).Msg("failed to publish to Redis")
		rm.handleFailure()
		return
	}

	rm.mu.Lock()
	rm.failCount = 0
	rm.mu.Unlock()

	rm.logger.Debug().Str("action", string(env.Action)).Msg("mirrored event to Redis")
}

// breakerOpen reports whether publishing is suspended, probing Redis again
// once CheckInterval has passed.
func (rm *RedisMirror) breakerOpen() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.useFallback {
		return false
	}
	if time.Since(rm.lastCheck) < rm.cfg.CheckInterval {
		return true
	}
	rm.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(rm.ctx, 2*time.Second)
	defer cancel()
	if err := rm.client.Ping(ctx).Err(); err != nil {
		rm.logger.Debug().Err(err).Msg("Redis still unavailable")
		return true
	}

	rm.useFallback = false
	rm.failCount = 0
	rm.logger.Info().Msg("reconnected to Redis, resuming mirror")
	return false
}

// handleFailure implements circuit breaker logic.
func (rm *RedisMirror) handleFailure() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.failCount++
	if rm.failCount >= rm.cfg.MaxFailures && !rm.useFallback {
		rm.logger.Warn().
			Int("fail_count", rm.failCount).
			Msg("Redis failure threshold reached, pausing mirror")
		rm.useFallback = true
		rm.lastCheck = time.Now()
	}
}

// Subscribe delivers mirrored messages to fn until ctx is cancelled.
func (rm *RedisMirror) Subscribe(ctx context.Context, fn func(*Message)) error {
	pubsub := rm.client.Subscribe(ctx, RedisChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", RedisChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := DecodeMessage([]byte(m.Payload))
			if err != nil {
				rm.logger.Warn().Err(err).Msg("skipping malformed mirrored message")
				continue
			}
			fn(msg)
		}
	}
}

// Close stops the publisher and closes the Redis client.
func (rm *RedisMirror) Close() error {
	rm.cancel()
	rm.wg.Wait()

	if err := rm.client.Close(); err != nil {
		rm.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	rm.logger.Info().Msg("Redis event mirror closed")
	return nil
}
