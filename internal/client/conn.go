package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// MinSupportedVersion/MaxSupportedVersion bound the contract versions
// this client build will offer to negotiate, mirroring
// internal/transport's broker-side constants.
const (
	MinSupportedVersion wire.ContractVersionNumber = 1
	MaxSupportedVersion wire.ContractVersionNumber = 1
)

const dialTimeout = 5 * time.Second

// rawConn is the shared low-level transport both BlockingClient and
// AsyncClient are built on: a dialed socket, a monotone per-connection
// request-id counter, and the framed encode/decode helpers from
// internal/wire.
type rawConn struct {
	conn          net.Conn
	nextRequestId atomic.Uint32
	writeMu       sync.Mutex
	version       wire.ContractVersionNumber
}

func dial(ctx context.Context, addr string) (*rawConn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(ErrNotConnected, "dial %s: %v", addr, err)
	}
	return &rawConn{conn: conn}, nil
}

// allocateRequestId returns the next request id for this connection,
// wrapping MAX back to 1 (0 is reserved for NegotiateVersion).
func (c *rawConn) allocateRequestId() wire.RequestId {
	for {
		id := c.nextRequestId.Add(1)
		if id != 0 {
			return wire.RequestId(id)
		}
	}
}

func (c *rawConn) send(req wire.Request) error {
	body, err := wire.EncodeRequest(req)
	if err != nil {
		return newError(ErrSendError, "encode request: %v", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wire.WriteFrame(c.conn, body); err != nil {
		return newError(ErrSendError, "write frame: %v", err)
	}
	return nil
}

func (c *rawConn) recv() (wire.Response, error) {
	body, err := wire.ReadFrame(c.conn)
	if err != nil {
		return wire.Response{}, newError(ErrRecvError, "read frame: %v", err)
	}
	resp, err := wire.DecodeResponse(body)
	if err != nil {
		return wire.Response{}, newError(ErrDeserializeError, "decode response: %v", err)
	}
	return resp, nil
}

func (c *rawConn) Close() error {
	return c.conn.Close()
}

// negotiate runs the synchronous NegotiateVersion handshake every
// connection must complete before any other request; req_id 0 is
// reserved for it.
func (c *rawConn) negotiate() error {
	req := wire.Request{
		RequestId: 0,
		TypeId:    wire.TypeNegotiateVersion,
		Payload:   wire.NegotiateVersionRequest{MinVersion: MinSupportedVersion, MaxVersion: MaxSupportedVersion},
	}
	if err := c.send(req); err != nil {
		return err
	}
	resp, err := c.recv()
	if err != nil {
		return err
	}
	switch resp.Outcome.Kind {
	case wire.OutcomeSuccess, wire.OutcomeWarning:
		data, ok := resp.Data.(wire.NegotiateVersionData)
		if !ok {
			return newError(ErrIncorrectResponseType, "negotiate-version response carried no version data")
		}
		c.version = data.Version
		return nil
	case wire.OutcomeNoData:
		return newError(ErrNoData, "%s", resp.Outcome.Message)
	default:
		if resp.Outcome.Code == wire.ErrorCodeNoCompatibleVersion {
			return &Error{Kind: ErrIncompatibleVersion, Message: resp.Outcome.Message, Code: resp.Outcome.Code}
		}
		return &Error{Kind: ErrServer, Message: resp.Outcome.Message, Code: resp.Outcome.Code}
	}
}

// outcomeToError maps a non-success wire.Outcome to the client Error a
// typed Publish/Consume/Ack/Nack call should fail with.
func outcomeToError(o wire.Outcome) error {
	switch o.Kind {
	case wire.OutcomeNoData:
		return newError(ErrNoData, "%s", o.Message)
	case wire.OutcomeError:
		if o.Code == wire.ErrorCodeIncorrectNode {
			return &Error{Kind: ErrIncorrectNode, Message: o.Message, Code: o.Code}
		}
		return &Error{Kind: ErrServer, Message: o.Message, Code: o.Code}
	default:
		return newError(ErrBadOutcome, "unexpected outcome kind %d", o.Kind)
	}
}
