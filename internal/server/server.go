/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/homefm/internal/acquisition"
	"github.com/friendsincode/homefm/internal/api"
	"github.com/friendsincode/homefm/internal/cache"
	"github.com/friendsincode/homefm/internal/config"
	"github.com/friendsincode/homefm/internal/db"
	"github.com/friendsincode/homefm/internal/eventbus"
	"github.com/friendsincode/homefm/internal/hub"
	"github.com/friendsincode/homefm/internal/logbuffer"
	"github.com/friendsincode/homefm/internal/media"
	"github.com/friendsincode/homefm/internal/playback"
	"github.com/friendsincode/homefm/internal/queue"
	"github.com/friendsincode/homefm/internal/store"
	"github.com/friendsincode/homefm/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error
	logBuffer  *logbuffer.Buffer

	db       *gorm.DB
	cache    *cache.Cache
	store    *store.Store
	library  *media.Library
	hub      *hub.Hub
	executor *playback.Executor
	pool     *acquisition.Pool
	queue    *queue.Orchestrator
	api      *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("homefm-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Websocket sessions outlive any request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self' data: blob: https:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	s.library = media.NewLibrary(s.cfg.SongsDir, s.logger)
	if err := s.library.EnsureRoot(); err != nil {
		return fmt.Errorf("prepare songs dir: %w", err)
	}

	var songCache store.SongCache
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		c, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		s.cache = c
		songCache = c
		s.DeferClose(c.Close)
	}
	s.store = store.New(database, songCache, s.logger)

	var uploader acquisition.Uploader
	var objects api.ObjectRemover
	if s.cfg.S3Bucket != "" {
		mirror, err := media.NewS3Mirror(context.Background(), media.S3Config{
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			Region:          s.cfg.S3Region,
			Bucket:          s.cfg.S3Bucket,
			Endpoint:        s.cfg.S3Endpoint,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("init s3 mirror: %w", err)
		}
		uploader = mirror
		objects = mirror
	}

	eventMirror, err := s.initEventMirror()
	if err != nil {
		return err
	}
	s.hub = hub.New(eventMirror, s.logger)

	var tx playback.Transmitter
	switch s.cfg.Output {
	case config.OutputSpeaker:
		if !playback.SpeakerAvailable {
			s.logger.Warn().Msg("speaker output is not available in this build; songs will be timed but silent")
		}
		tx = playback.NewSpeakerTransmitter(s.logger)
	default:
		tx = playback.NewFMTransmitter(s.cfg.TransmitterBin, s.logger)
	}
	s.executor = playback.NewExecutor(tx, s.cfg.Frequency, s.logger)
	s.DeferClose(s.executor.Close)

	fetcher := acquisition.NewYTDLP(s.cfg.FetcherBin, s.library, s.logger)
	s.pool = acquisition.NewPool(fetcher, s.cfg.FetchWorkers, s.logger)
	pipeline := acquisition.NewPipeline(s.store, s.pool, uploader, s.logger)

	s.queue = queue.New(queue.Config{
		IncludeSensitive: s.cfg.RandomIncludeSensitive,
	}, s.hub, pipeline, s.store, s.executor, s.logger)

	s.api = api.New(s.store, s.queue, s.hub, s.executor, s.library, s.logger)
	s.api.SetHeartbeat(api.Heartbeat{
		PingInterval:  s.cfg.WSPingInterval,
		ClientTimeout: s.cfg.WSClientTimeout,
	})
	if objects != nil {
		s.api.SetObjectRemover(objects)
	}
	if s.logBuffer != nil {
		s.api.SetLogBuffer(s.logBuffer)
	}

	return nil
}

// initEventMirror returns nil when mirroring is disabled.
func (s *Server) initEventMirror() (hub.Mirror, error) {
	nodeID := eventbus.NodeID(s.cfg.InstanceID)

	switch s.cfg.EventMirror {
	case config.EventMirrorRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		rm := eventbus.NewRedisMirror(redisCfg, nodeID, s.logger)
		s.DeferClose(rm.Close)
		s.logger.Info().Str("addr", redisCfg.Addr).Str("node_id", nodeID).Msg("mirroring broadcasts to redis")
		return rm, nil
	case config.EventMirrorNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		if s.cfg.NATSURL != "" {
			natsCfg.URL = s.cfg.NATSURL
		}
		nm, err := eventbus.NewNATSMirror(natsCfg, nodeID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("init nats mirror: %w", err)
		}
		s.DeferClose(nm.Close)
		s.logger.Info().Str("url", natsCfg.URL).Str("node_id", nodeID).Msg("mirroring broadcasts to nats")
		return nm, nil
	default:
		return nil, nil
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.pool.Run(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("queue orchestrator exited")
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := s.ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","database":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

func (s *Server) ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
