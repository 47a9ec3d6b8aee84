// Package wire defines the binary request/response contracts exchanged
// between clients and brokers, and between brokers themselves. Every
// message on the wire is framed as:
//
//	len(u16 LE) | type_id(u16 LE) | request_id(u32 LE) | msgpack(payload)
//
// type_id selects which request or response struct the msgpack payload
// deserializes into; request_id correlates a response back to the
// request that produced it (0 is reserved for the initial, synchronous
// version negotiation handshake).
package wire

import (
	"github.com/sawpanic/pulsarbroker/internal/ids"
)

// Type ids, stable across versions. A V2* family can be added later
// without breaking V1 clients still on the wire.
const (
	TypeNegotiateVersion uint16 = 1
	TypeV1Publish        uint16 = 2
	TypeV1Consume        uint16 = 3
	TypeV1Ack            uint16 = 4
	TypeV1Nack           uint16 = 5
)

// Error codes returned in an Error outcome.
const (
	ErrorCodeGeneralFailure    ids.ErrorCode = 0
	ErrorCodeIncorrectNode     ids.ErrorCode = 1
	ErrorCodeNoCompatibleVersion ids.ErrorCode = 2
	ErrorCodeBacklogFull       ids.ErrorCode = 3
	ErrorCodeNoSubscribers     ids.ErrorCode = 4
)

// ContractVersionNumber identifies a supported wire contract revision.
type ContractVersionNumber = uint16

// RequestId correlates requests to responses within one connection.
type RequestId = uint32

// OutcomeKind classifies a response outcome.
type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeWarning
	OutcomeNoData
	OutcomeError
)

// Outcome mirrors the source's RequestOutcome enum: every response carries
// one, and only Success/Warning responses are guaranteed to carry Data.
type Outcome struct {
	Kind    OutcomeKind `msgpack:"kind"`
	Message string      `msgpack:"message,omitempty"`
	Code    ids.ErrorCode `msgpack:"code,omitempty"`
}

func SuccessOutcome() Outcome { return Outcome{Kind: OutcomeSuccess} }

func WarningOutcome(msg string) Outcome { return Outcome{Kind: OutcomeWarning, Message: msg} }

func NoDataOutcome(msg string) Outcome { return Outcome{Kind: OutcomeNoData, Message: msg} }

func ErrorOutcome(msg string, code ids.ErrorCode) Outcome {
	return Outcome{Kind: OutcomeError, Message: msg, Code: code}
}

func (o Outcome) IsSuccess() bool { return o.Kind == OutcomeSuccess || o.Kind == OutcomeWarning }

// --- Requests ---

type NegotiateVersionRequest struct {
	MinVersion ContractVersionNumber `msgpack:"min_version"`
	MaxVersion ContractVersionNumber `msgpack:"max_version"`
}

type PublishRequest struct {
	TopicId     ids.TopicId       `msgpack:"topic_id"`
	PartitionId ids.PartitionId   `msgpack:"partition_id"`
	Key         string            `msgpack:"key"`
	Timestamp   *ids.Timestamp    `msgpack:"timestamp,omitempty"`
	Attributes  map[string]string `msgpack:"attributes"`
}

type ConsumeRequest struct {
	TopicId        ids.TopicId        `msgpack:"topic_id"`
	SubscriptionId ids.SubscriptionId `msgpack:"subscription_id"`
	ConsumerId     *ids.ConsumerId    `msgpack:"consumer_id,omitempty"`
	MaxMessages    uint32             `msgpack:"max_messages"`
}

type AckRequest struct {
	MessageRefKey  string             `msgpack:"message_ref_key"`
	SubscriptionId ids.SubscriptionId `msgpack:"subscription_id"`
	ConsumerId     ids.ConsumerId     `msgpack:"consumer_id"`
}

type NackRequest struct {
	MessageRefKey  string             `msgpack:"message_ref_key"`
	SubscriptionId ids.SubscriptionId `msgpack:"subscription_id"`
	ConsumerId     ids.ConsumerId     `msgpack:"consumer_id"`
}

// --- Response data ---

type NegotiateVersionData struct {
	Version ContractVersionNumber `msgpack:"version"`
}

type PublishResultData struct {
	MessageRef ids.MessageRef `msgpack:"message_ref"`
}

type MessageData struct {
	MessageRef     ids.MessageRef    `msgpack:"message_ref"`
	MessageKey     string            `msgpack:"message_key"`
	MessageAckKey  string            `msgpack:"message_ack_key"`
	Published      ids.Timestamp     `msgpack:"published"`
	Delivered      ids.Timestamp     `msgpack:"delivered"`
	DeliveryCount  int               `msgpack:"delivery_count"`
	Attributes     map[string]string `msgpack:"attributes"`
}

type ConsumeResultData struct {
	ConsumerId ids.ConsumerId `msgpack:"consumer_id"`
	Messages   []MessageData  `msgpack:"messages"`
}

type AckResultData struct {
	Success bool `msgpack:"success"`
}

type NackResultData struct {
	Success bool `msgpack:"success"`
}

// --- Envelopes ---

// Request is the decoded form of one incoming frame.
type Request struct {
	RequestId RequestId
	TypeId    uint16
	Payload   any
}

// Response is the decoded (or about-to-be-encoded) form of one outgoing
// frame. Data is only guaranteed on Success/Warning outcomes; on
// Error/NoData it may be nil or the service's partial result.
type Response struct {
	RequestId RequestId
	TypeId    uint16
	Outcome   Outcome
	Data      any
}

// responseEnvelope is the actual msgpack wire shape for the outcome+data
// pairing; Response above is the ergonomic Go form the rest of the broker
// works with. Requests have no envelope: the payload is marshalled as is.
type responseEnvelope struct {
	Outcome Outcome `msgpack:"outcome"`
	Data    any     `msgpack:"data,omitempty"`
}
