package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// MaxIdleDuration is how long a connection may go without receiving a
// frame before it self-terminates; outgoing responses do not reset it.
const MaxIdleDuration = 30 * time.Second

// readDeadlineSlice bounds each individual blocking read, giving the
// reader goroutine a chance to notice ctx cancellation or idle timeout
// between frames instead of blocking forever on a quiet socket.
const readDeadlineSlice = 5 * time.Second

// Connection owns one accepted socket for its lifetime: a reader
// goroutine decodes frames and submits them to the pool, a writer
// goroutine serializes outgoing responses back onto the wire. The two
// never touch each other's half of the socket, matching the source's
// split between try_send and try_receive on a single connection thread,
// expressed here as Go's idiomatic one-goroutine-per-direction instead
// of a single poll loop.
type Connection struct {
	id     uint64
	conn   net.Conn
	pool   *WorkerPool
	outbox chan wire.Response
}

// NewConnection starts the reader and writer goroutines for conn and
// returns immediately; both goroutines exit when ctx is cancelled, the
// socket errs, or the connection has been idle for MaxIdleDuration.
func NewConnection(ctx context.Context, id uint64, conn net.Conn, pool *WorkerPool) *Connection {
	c := &Connection{
		id:     id,
		conn:   conn,
		pool:   pool,
		outbox: make(chan wire.Response, 64),
	}
	connCtx, cancel := context.WithCancel(ctx)
	go c.writeLoop(connCtx, cancel)
	go c.readLoop(connCtx, cancel)
	return c
}

func (c *Connection) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	lastActivity := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		if idle := time.Since(lastActivity); idle > MaxIdleDuration {
			log.Debug().Uint64("connection_id", c.id).Dur("idle", idle).Msg("transport: connection idle timeout")
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadlineSlice))
		body, err := wire.ReadFrame(c.conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug().Uint64("connection_id", c.id).Err(err).Msg("transport: read failed")
			}
			return
		}
		lastActivity = time.Now()

		req, err := wire.DecodeRequest(body)
		if err != nil {
			log.Warn().Uint64("connection_id", c.id).Err(err).Msg("transport: malformed frame")
			continue
		}
		c.pool.Submit(ctx, req, c.outbox)
	}
}

func (c *Connection) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-c.outbox:
			frame, err := wire.EncodeResponse(resp)
			if err != nil {
				log.Warn().Uint64("connection_id", c.id).Err(err).Msg("transport: failed to encode response")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(readDeadlineSlice))
			if err := wire.WriteFrame(c.conn, frame); err != nil {
				log.Debug().Uint64("connection_id", c.id).Err(err).Msg("transport: write failed")
				return
			}
		}
	}
}

// Close tears down the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
