package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pulsarbroker/internal/net/ratelimit"
)

// MaxConnectionsPerSecond bounds how fast one remote address may open
// new connections, guarding against a single misbehaving client
// exhausting the worker pool's connection set.
const MaxConnectionsPerSecond = 20

// Server is the broker's TCP front door: it accepts connections on one
// listening socket and hands each to its own Connection, backed by a
// shared Router dispatched through a shared WorkerPool. Stopping the
// server (via ctx cancellation) closes the listener and every live
// connection, matching the source's shared stop_signal propagating from
// the listener down to every connection thread.
type Server struct {
	Addr   string
	Router *Router

	listener  net.Listener
	pool      *WorkerPool
	admission *ratelimit.Limiter
	nextID    atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]*Connection
}

// ListenAndServe binds Addr, starts the worker pool, and accepts
// connections until ctx is cancelled or the listener errs. It blocks;
// callers typically run it in its own goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.conns = make(map[uint64]*Connection)
	s.pool = NewWorkerPool(ctx, s.Router)
	s.admission = ratelimit.NewLimiter(MaxConnectionsPerSecond, MaxConnectionsPerSecond)

	go func() {
		<-ctx.Done()
		// Unblock Accept(): closing the listener is the Go-idiomatic
		// equivalent of the source's self-connect wakeup trick, which
		// exists only because Rust's blocking accept has no context
		// parameter.
		_ = ln.Close()
	}()

	log.Info().Str("addr", s.Addr).Msg("transport: listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				return nil
			}
			return err
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if !s.admission.Allow(host) {
			log.Warn().Str("remote", host).Msg("transport: connection admission rate exceeded, rejecting")
			_ = conn.Close()
			continue
		}

		id := s.nextID.Add(1)
		c := NewConnection(ctx, id, conn, s.pool)
		s.mu.Lock()
		s.conns[id] = c
		s.mu.Unlock()
		log.Debug().Uint64("connection_id", id).Str("remote", conn.RemoteAddr().String()).Msg("transport: accepted connection")
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		_ = c.Close()
		delete(s.conns, id)
	}
}
