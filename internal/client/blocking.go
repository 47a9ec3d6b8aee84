package client

import (
	"context"

	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// BlockingClient sends one request and waits for its response before
// the caller may send the next; it is only safe when the caller itself
// serializes calls (no concurrent Publish/Consume/Ack/Nack from
// multiple goroutines against the same client). Use AsyncClient when
// more than one request needs to be in flight at once.
type BlockingClient struct {
	conn *rawConn
}

// DialBlocking connects to addr and negotiates the wire contract
// version before returning.
func DialBlocking(ctx context.Context, addr string) (*BlockingClient, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := conn.negotiate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &BlockingClient{conn: conn}, nil
}

func (c *BlockingClient) Close() error { return c.conn.Close() }

// Version returns the contract version negotiated with the broker.
func (c *BlockingClient) Version() wire.ContractVersionNumber { return c.conn.version }

func (c *BlockingClient) call(typeId uint16, payload any) (wire.Response, error) {
	req := wire.Request{RequestId: c.conn.allocateRequestId(), TypeId: typeId, Payload: payload}
	if err := c.conn.send(req); err != nil {
		return wire.Response{}, err
	}
	resp, err := c.conn.recv()
	if err != nil {
		return wire.Response{}, err
	}
	if resp.RequestId != req.RequestId {
		return wire.Response{}, newError(ErrIncorrectResponseType, "response request_id %d does not match request %d", resp.RequestId, req.RequestId)
	}
	return resp, nil
}

func (c *BlockingClient) Publish(topicId ids.TopicId, partitionId ids.PartitionId, key string, timestamp *ids.Timestamp, attributes map[string]string) (wire.PublishResultData, error) {
	resp, err := c.call(wire.TypeV1Publish, wire.PublishRequest{
		TopicId: topicId, PartitionId: partitionId, Key: key, Timestamp: timestamp, Attributes: attributes,
	})
	if err != nil {
		return wire.PublishResultData{}, err
	}
	if !resp.Outcome.IsSuccess() {
		return wire.PublishResultData{}, outcomeToError(resp.Outcome)
	}
	data, ok := resp.Data.(wire.PublishResultData)
	if !ok {
		return wire.PublishResultData{}, newError(ErrIncorrectResponseType, "publish response carried no PublishResultData")
	}
	return data, nil
}

func (c *BlockingClient) Consume(topicId ids.TopicId, subscriptionId ids.SubscriptionId, consumerId *ids.ConsumerId, maxMessages uint32) (wire.ConsumeResultData, error) {
	resp, err := c.call(wire.TypeV1Consume, wire.ConsumeRequest{
		TopicId: topicId, SubscriptionId: subscriptionId, ConsumerId: consumerId, MaxMessages: maxMessages,
	})
	if err != nil {
		return wire.ConsumeResultData{}, err
	}
	if !resp.Outcome.IsSuccess() {
		return wire.ConsumeResultData{}, outcomeToError(resp.Outcome)
	}
	data, ok := resp.Data.(wire.ConsumeResultData)
	if !ok {
		return wire.ConsumeResultData{}, newError(ErrIncorrectResponseType, "consume response carried no ConsumeResultData")
	}
	return data, nil
}

func (c *BlockingClient) Ack(messageRefKey string, subscriptionId ids.SubscriptionId, consumerId ids.ConsumerId) (bool, error) {
	resp, err := c.call(wire.TypeV1Ack, wire.AckRequest{MessageRefKey: messageRefKey, SubscriptionId: subscriptionId, ConsumerId: consumerId})
	if err != nil {
		return false, err
	}
	if !resp.Outcome.IsSuccess() {
		return false, outcomeToError(resp.Outcome)
	}
	data, ok := resp.Data.(wire.AckResultData)
	if !ok {
		return false, newError(ErrIncorrectResponseType, "ack response carried no AckResultData")
	}
	return data.Success, nil
}

func (c *BlockingClient) Nack(messageRefKey string, subscriptionId ids.SubscriptionId, consumerId ids.ConsumerId) (bool, error) {
	resp, err := c.call(wire.TypeV1Nack, wire.NackRequest{MessageRefKey: messageRefKey, SubscriptionId: subscriptionId, ConsumerId: consumerId})
	if err != nil {
		return false, err
	}
	if !resp.Outcome.IsSuccess() {
		return false, outcomeToError(resp.Outcome)
	}
	data, ok := resp.Data.(wire.NackResultData)
	if !ok {
		return false, newError(ErrIncorrectResponseType, "nack response carried no NackResultData")
	}
	return data.Success, nil
}
