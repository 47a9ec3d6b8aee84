package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// Future is the Go stand-in for the source's waker-based
// FutureResponse<T>: a single-value channel the background receiver
// goroutine writes to exactly once. Get blocks (respecting ctx) until
// the matching response arrives or the connection dies.
type Future[T any] struct {
	ch chan result[T]
}

type result[T any] struct {
	value T
	err   error
}

func newFuture[T any]() (*Future[T], chan<- result[T]) {
	ch := make(chan result[T], 1)
	return &Future[T]{ch: ch}, ch
}

// Get blocks until the future resolves or ctx is cancelled.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case r := <-f.ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, newError(ErrRecvError, "context cancelled waiting for response: %v", ctx.Err())
	}
}

// pendingTables mirrors the source's FutureHashMap: one table per
// response variant, keyed by request id, each entry removed once its
// future resolves.
type pendingTables struct {
	mu       sync.Mutex
	publish  map[wire.RequestId]chan<- result[wire.PublishResultData]
	consume  map[wire.RequestId]chan<- result[wire.ConsumeResultData]
	ack      map[wire.RequestId]chan<- result[wire.AckResultData]
	nack     map[wire.RequestId]chan<- result[wire.NackResultData]
}

func newPendingTables() *pendingTables {
	return &pendingTables{
		publish: make(map[wire.RequestId]chan<- result[wire.PublishResultData]),
		consume: make(map[wire.RequestId]chan<- result[wire.ConsumeResultData]),
		ack:     make(map[wire.RequestId]chan<- result[wire.AckResultData]),
		nack:    make(map[wire.RequestId]chan<- result[wire.NackResultData]),
	}
}

// AsyncClient keeps a single connection and a single background
// receiver goroutine that dispatches every incoming response to the
// future registered for its request id, so an arbitrary number of
// Publish/Consume/Ack/Nack calls can be outstanding at once, resolved
// in whatever order the broker's worker pool happens to complete them
// (never necessarily request order — see internal/transport's reverse
// round-robin dispatch).
type AsyncClient struct {
	conn    *rawConn
	pending *pendingTables
	// reconnect guards reconnect attempts behind a circuit breaker so a
	// broker that is down doesn't get hammered with dial attempts by
	// every caller that notices the connection died.
	reconnect *gobreaker.CircuitBreaker
	addr      string

	closeOnce sync.Once
	closed    chan struct{}
}

// DialAsync connects to addr, negotiates the wire contract, and starts
// the background receiver goroutine.
func DialAsync(ctx context.Context, addr string) (*AsyncClient, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := conn.negotiate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &AsyncClient{
		conn:    conn,
		pending: newPendingTables(),
		addr:    addr,
		closed:  make(chan struct{}),
		reconnect: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "async-client-reconnect:" + addr,
			MaxRequests: 1,
		}),
	}
	go c.receiveLoop()
	return c, nil
}

func (c *AsyncClient) Version() wire.ContractVersionNumber { return c.conn.version }

func (c *AsyncClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

// receiveLoop is the single reader for this connection: it owns the
// socket's read half for the client's lifetime and fans every response
// out to the future waiting on its request id.
func (c *AsyncClient) receiveLoop() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		resp, err := c.conn.recv()
		if err != nil {
			c.failAllPending(err)
			return
		}
		c.dispatch(resp)
	}
}

func (c *AsyncClient) dispatch(resp wire.Response) {
	c.pending.mu.Lock()
	defer c.pending.mu.Unlock()

	switch resp.TypeId {
	case wire.TypeV1Publish:
		if ch, ok := c.pending.publish[resp.RequestId]; ok {
			delete(c.pending.publish, resp.RequestId)
			ch <- resolveResult[wire.PublishResultData](resp)
		}
	case wire.TypeV1Consume:
		if ch, ok := c.pending.consume[resp.RequestId]; ok {
			delete(c.pending.consume, resp.RequestId)
			ch <- resolveResult[wire.ConsumeResultData](resp)
		}
	case wire.TypeV1Ack:
		if ch, ok := c.pending.ack[resp.RequestId]; ok {
			delete(c.pending.ack, resp.RequestId)
			ch <- resolveResult[wire.AckResultData](resp)
		}
	case wire.TypeV1Nack:
		if ch, ok := c.pending.nack[resp.RequestId]; ok {
			delete(c.pending.nack, resp.RequestId)
			ch <- resolveResult[wire.NackResultData](resp)
		}
	default:
		log.Warn().Uint16("type_id", resp.TypeId).Uint32("request_id", resp.RequestId).Msg("async client: response for unknown type id")
	}
}

func resolveResult[T any](resp wire.Response) result[T] {
	if !resp.Outcome.IsSuccess() {
		return result[T]{err: outcomeToError(resp.Outcome)}
	}
	data, ok := resp.Data.(T)
	if !ok {
		var zero T
		return result[T]{value: zero, err: newError(ErrIncorrectResponseType, "unexpected response payload type")}
	}
	return result[T]{value: data}
}

// failAllPending resolves every still-outstanding future with err, run
// once when the receive loop's socket read fails — every in-flight
// request on a dead connection must be unblocked, not left hanging.
func (c *AsyncClient) failAllPending(err error) {
	c.pending.mu.Lock()
	defer c.pending.mu.Unlock()
	for id, ch := range c.pending.publish {
		ch <- result[wire.PublishResultData]{err: err}
		delete(c.pending.publish, id)
	}
	for id, ch := range c.pending.consume {
		ch <- result[wire.ConsumeResultData]{err: err}
		delete(c.pending.consume, id)
	}
	for id, ch := range c.pending.ack {
		ch <- result[wire.AckResultData]{err: err}
		delete(c.pending.ack, id)
	}
	for id, ch := range c.pending.nack {
		ch <- result[wire.NackResultData]{err: err}
		delete(c.pending.nack, id)
	}
}

func (c *AsyncClient) Publish(topicId ids.TopicId, partitionId ids.PartitionId, key string, timestamp *ids.Timestamp, attributes map[string]string) (*Future[wire.PublishResultData], error) {
	reqId := c.conn.allocateRequestId()
	future, ch := newFuture[wire.PublishResultData]()
	c.pending.mu.Lock()
	c.pending.publish[reqId] = ch
	c.pending.mu.Unlock()

	if err := c.conn.send(wire.Request{RequestId: reqId, TypeId: wire.TypeV1Publish, Payload: wire.PublishRequest{
		TopicId: topicId, PartitionId: partitionId, Key: key, Timestamp: timestamp, Attributes: attributes,
	}}); err != nil {
		c.pending.mu.Lock()
		delete(c.pending.publish, reqId)
		c.pending.mu.Unlock()
		return nil, err
	}
	return future, nil
}

func (c *AsyncClient) Consume(topicId ids.TopicId, subscriptionId ids.SubscriptionId, consumerId *ids.ConsumerId, maxMessages uint32) (*Future[wire.ConsumeResultData], error) {
	reqId := c.conn.allocateRequestId()
	future, ch := newFuture[wire.ConsumeResultData]()
	c.pending.mu.Lock()
	c.pending.consume[reqId] = ch
	c.pending.mu.Unlock()

	if err := c.conn.send(wire.Request{RequestId: reqId, TypeId: wire.TypeV1Consume, Payload: wire.ConsumeRequest{
		TopicId: topicId, SubscriptionId: subscriptionId, ConsumerId: consumerId, MaxMessages: maxMessages,
	}}); err != nil {
		c.pending.mu.Lock()
		delete(c.pending.consume, reqId)
		c.pending.mu.Unlock()
		return nil, err
	}
	return future, nil
}

func (c *AsyncClient) Ack(messageRefKey string, subscriptionId ids.SubscriptionId, consumerId ids.ConsumerId) (*Future[wire.AckResultData], error) {
	reqId := c.conn.allocateRequestId()
	future, ch := newFuture[wire.AckResultData]()
	c.pending.mu.Lock()
	c.pending.ack[reqId] = ch
	c.pending.mu.Unlock()

	if err := c.conn.send(wire.Request{RequestId: reqId, TypeId: wire.TypeV1Ack, Payload: wire.AckRequest{
		MessageRefKey: messageRefKey, SubscriptionId: subscriptionId, ConsumerId: consumerId,
	}}); err != nil {
		c.pending.mu.Lock()
		delete(c.pending.ack, reqId)
		c.pending.mu.Unlock()
		return nil, err
	}
	return future, nil
}

func (c *AsyncClient) Nack(messageRefKey string, subscriptionId ids.SubscriptionId, consumerId ids.ConsumerId) (*Future[wire.NackResultData], error) {
	reqId := c.conn.allocateRequestId()
	future, ch := newFuture[wire.NackResultData]()
	c.pending.mu.Lock()
	c.pending.nack[reqId] = ch
	c.pending.mu.Unlock()

	if err := c.conn.send(wire.Request{RequestId: reqId, TypeId: wire.TypeV1Nack, Payload: wire.NackRequest{
		MessageRefKey: messageRefKey, SubscriptionId: subscriptionId, ConsumerId: consumerId,
	}}); err != nil {
		c.pending.mu.Lock()
		delete(c.pending.nack, reqId)
		c.pending.mu.Unlock()
		return nil, err
	}
	return future, nil
}

// Reconnect dials addr again through the reconnect circuit breaker,
// replacing this client's connection and restarting its receive loop.
// Any futures still pending on the old connection were already failed
// by failAllPending when its read loop noticed the disconnect.
func (c *AsyncClient) Reconnect(ctx context.Context) error {
	_, err := c.reconnect.Execute(func() (any, error) {
		conn, err := dial(ctx, c.addr)
		if err != nil {
			return nil, err
		}
		if err := conn.negotiate(); err != nil {
			_ = conn.Close()
			return nil, err
		}
		c.conn = conn
		c.pending = newPendingTables()
		go c.receiveLoop()
		return nil, nil
	})
	return err
}
