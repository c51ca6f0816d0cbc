package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/framesync/internal/config"
	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/replication/delta"
	"github.com/zeusync/framesync/internal/core/storage/component"
	"github.com/zeusync/framesync/internal/core/transport"
	"github.com/zeusync/framesync/internal/host"
)

// Entity churn of the demo world.
const (
	InitialEntities = 32
	churnEvery      = 100
)

// Server runs the demo world and replicates it to observers.
type Server struct {
	config   config.Config
	registry *component.Registry
	world    *World

	authority *host.Authority
	listener  transport.Listener

	running atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runErr  error
	ticks   atomic.Uint64
	logger  log.Log
}

func NewServer(cfg config.Config, reg *component.Registry, logger log.Log) *Server {
	logger = log.OrProvide(logger)
	return &Server{
		config:   cfg,
		registry: reg,
		world:    NewWorld(reg, storeConfig(cfg), uint64(time.Now().UnixNano()), logger),
		logger:   logger.With(log.String("component", "server")),
	}
}

func storeConfig(cfg config.Config) component.StoreConfig {
	return component.StoreConfig{
		SlotAlignment: cfg.Storage.Alignment,
		IndexHint:     cfg.Storage.IndexHint,
	}
}

// Start listens with the configured transport and starts ticking.
func (s *Server) Start(ctx context.Context) error {
	listener, err := Listen(s.config, s.logger)
	if err != nil {
		return err
	}
	return s.StartWithListener(ctx, listener)
}

// StartWithListener starts the server on an existing listener.
func (s *Server) StartWithListener(ctx context.Context, listener transport.Listener) error {
	if s.closed.Load() {
		_ = listener.Close()
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		_ = listener.Close()
		return ErrServerAlreadyRunning
	}

	s.listener = listener
	s.authority = host.NewAuthority(listener, delta.NewCodec(s.registry), host.AuthorityConfig{
		History:   s.config.Replication.History,
		QueueSize: s.config.Replication.QueueSize,
	}, s.logger)

	for i := 0; i < InitialEntities; i++ {
		s.world.SpawnRandom()
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.authority.Run(ctx); err != nil {
			s.logger.Error("authority stopped", log.Error(err))
			s.runErr = err
			s.cancel()
		}
	}()
	go func() {
		defer s.wg.Done()
		s.tickLoop(ctx)
	}()

	s.logger.Info("server started",
		log.String("addr", listener.Addr()),
		log.String("transport", s.config.Transport.Kind),
		log.Int("tick_rate", s.config.Replication.TickRate),
	)
	return nil
}

// tickLoop is the simulation goroutine. It owns the world.
func (s *Server) tickLoop(ctx context.Context) {
	interval := s.config.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dt := float32(interval.Seconds())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tick := s.ticks.Add(1)
		if tick%churnEvery == 0 {
			if id, ok := s.world.Oldest(); ok {
				s.world.Despawn(id)
			}
			s.world.SpawnRandom()
		}
		s.world.Step(dt)

		snap, err := s.world.Capture()
		if err != nil {
			s.logger.Error("failed to capture world", log.Error(err))
			continue
		}
		s.authority.Publish(snap)
	}
}

// Ticks returns the number of simulation ticks so far.
func (s *Server) Ticks() uint64 { return s.ticks.Load() }

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

// Authority exposes replication counters.
func (s *Server) Authority() *host.Authority { return s.authority }

// Stop halts ticking and disconnects every observer.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}

	s.logger.Info("stopping server")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("server stopped", log.Uint64("ticks", s.ticks.Load()))
	return s.runErr
}

// Close stops the server if needed and releases the world.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.running.Load() {
		_ = s.Stop()
	}
	s.world.Close()
	return nil
}
