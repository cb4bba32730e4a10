package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrServerRunning  = errors.New("server: already running")
	ErrServerClosed   = errors.New("server: closed")
	ErrHeaderTooLarge = errors.New("server: request header too large")
	ErrBodyTooLarge   = errors.New("server: request body too large")
)

const (
	defaultMaxHeaderBytes = 8 << 10
	defaultMaxBodyBytes   = 10 << 20

	shutdownPollInterval = 10 * time.Millisecond
)

// Config is the listening surface of a Server. The version triple is only
// logged; it never goes on the wire.
type Config struct {
	Host         string
	Port         uint16
	VersionMajor int
	VersionMinor int
	VersionPatch int

	ReadTimeout    time.Duration // per read; 0 disables
	WriteTimeout   time.Duration // for the whole response; 0 disables
	MaxHeaderBytes int           // default 8 KiB
	MaxBodyBytes   int64         // default 10 MiB
}

func (c Config) Version() string {
	return fmt.Sprintf("%d.%d.%d", c.VersionMajor, c.VersionMinor, c.VersionPatch)
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Server accepts connections and serves one request on each. The embedded
// Router is used for registration, which must be finished before Start.
type Server struct {
	*Router

	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	mu      sync.Mutex
	ln      net.Listener
	conns   map[*conn]struct{}
	running atomic.Bool
	done    chan struct{}
}

func New(cfg Config, log zerolog.Logger) *Server {
	return &Server{
		Router:  NewRouter(log),
		cfg:     cfg,
		log:     log.With().Str("component", "server").Logger(),
		metrics: NewMetrics(),
		conns:   make(map[*conn]struct{}),
	}
}

func (s *Server) Config() Config { return s.cfg }

// EnableStaticCache serves static files from memory, invalidated by
// watching every mounted directory. Call it after the ServeStatic calls.
func (s *Server) EnableStaticCache(maxFileBytes int64) error {
	dirs := make([]string, 0, len(s.mounts))
	for _, m := range s.mounts {
		dirs = append(dirs, canonicalDir(m.Dir))
	}

	c := NewFileCache(maxFileBytes, s.log)
	if err := c.Watch(dirs...); err != nil {
		return fmt.Errorf("watch static dirs: %w", err)
	}
	s.EnableFileCache(c)
	s.log.Info().Strs("dirs", dirs).Msg("static file cache enabled")
	return nil
}

// Start binds the configured address and accepts in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		s.log.Warn().Msg("server is already running")
		return ErrServerRunning
	}

	ln, err := listen(s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}

	s.log.Info().Str("version", s.cfg.Version()).Msg("server version")
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	ready := make(chan error, 1)
	go func() {
		if err := s.serve(ln, ready); err != nil && !errors.Is(err, ErrServerClosed) {
			s.log.Error().Err(err).Msg("serve")
		}
	}()
	return <-ready
}

// Serve accepts on ln until Shutdown or Stop. It always returns a non-nil
// error; after a shutdown that error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(ln, nil)
}

// ListenAndServe is Start followed by waiting for the server to stop.
func (s *Server) ListenAndServe() error {
	if err := s.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	<-done
	return ErrServerClosed
}

func (s *Server) serve(ln net.Listener, ready chan<- error) error {
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		if ready != nil {
			ready <- ErrServerRunning
		}
		return ErrServerRunning
	}
	// A previous Shutdown closed the cache; watch the mounts again so a
	// restarted server does not serve stale files.
	if s.cache != nil && s.cache.Closed() {
		if err := s.cache.Reopen(); err != nil {
			s.log.Error().Err(err).Msg("rewatch static dirs, serving from disk")
		}
	}
	s.ln = ln
	s.done = make(chan struct{})
	done := s.done
	s.running.Store(true)
	s.mu.Unlock()
	defer close(done)

	if ready != nil {
		ready <- nil
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("accepting connections")

	var backoff time.Duration
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return ErrServerClosed
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.log.Error().Err(err).Dur("retry_in", backoff).Msg("accept")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		c := newConn(s, rwc)
		if !s.track(c) {
			_ = rwc.Close()
			return ErrServerClosed
		}
		c.log.Debug().Msg("new connection")
		go c.serve()
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Running() bool { return s.running.Load() }

// ActiveConnections reports how many connections are being served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Metrics returns a snapshot of the request counters.
func (s *Server) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Shutdown stops accepting and waits for in-flight connections. When ctx
// ends first the remaining connections are closed and ctx.Err() is
// returned at once; handlers that ignore the closed socket may still be
// running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil
	}
	s.running.Store(false)
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if s.cache != nil {
		if cerr := s.cache.Close(); cerr != nil {
			s.log.Error().Err(cerr).Msg("close file cache")
		}
	}
	s.log.Info().Msg("server stopped accepting")

	poll := time.NewTicker(shutdownPollInterval)
	defer poll.Stop()
	for {
		if s.ActiveConnections() == 0 {
			s.log.Info().Msg("server stopped")
			return err
		}
		select {
		case <-ctx.Done():
			n := s.closeConns()
			s.log.Warn().Int("connections", n).Msg("server stopped with connections forced closed")
			return ctx.Err()
		case <-poll.C:
		}
	}
}

// Stop closes the listener and every open connection immediately.
func (s *Server) Stop() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) closeConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.rwc.Close()
	}
	return len(s.conns)
}

func (s *Server) headerLimit() int {
	if s.cfg.MaxHeaderBytes <= 0 {
		return defaultMaxHeaderBytes
	}
	return s.cfg.MaxHeaderBytes
}

func (s *Server) bodyLimit() int64 {
	if s.cfg.MaxBodyBytes <= 0 {
		return defaultMaxBodyBytes
	}
	return s.cfg.MaxBodyBytes
}
