package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameLen bounds a single wire frame (the length prefix is a u16, so
// this is also its hard ceiling).
const MaxFrameLen = 65535

// EncodeRequest serializes a request into a frame body: type_id(u16 LE) |
// request_id(u32 LE) | msgpack(payload). The caller (ReadFrame/WriteFrame)
// adds the outer length prefix.
func EncodeRequest(req Request) ([]byte, error) {
	body, err := msgpack.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal request payload: %w", err)
	}
	return packHeader(req.TypeId, req.RequestId, body), nil
}

// DecodeRequest parses a frame body produced by EncodeRequest.
func DecodeRequest(frame []byte) (Request, error) {
	typeId, requestId, body, err := unpackHeader(frame)
	if err != nil {
		return Request{}, err
	}
	payload, err := decodeRequestPayload(typeId, body)
	if err != nil {
		return Request{}, err
	}
	return Request{RequestId: requestId, TypeId: typeId, Payload: payload}, nil
}

// EncodeResponse serializes a response into a frame body.
func EncodeResponse(resp Response) ([]byte, error) {
	body, err := msgpack.Marshal(responseEnvelope{Outcome: resp.Outcome, Data: resp.Data})
	if err != nil {
		return nil, fmt.Errorf("wire: marshal response envelope: %w", err)
	}
	return packHeader(resp.TypeId, resp.RequestId, body), nil
}

// DecodeResponse parses a frame body produced by EncodeResponse.
func DecodeResponse(frame []byte) (Response, error) {
	typeId, requestId, body, err := unpackHeader(frame)
	if err != nil {
		return Response{}, err
	}

	var env struct {
		Outcome Outcome         `msgpack:"outcome"`
		Data    msgpack.RawMessage `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return Response{}, fmt.Errorf("wire: unmarshal response envelope: %w", err)
	}

	data, err := decodeResponseData(typeId, env.Data)
	if err != nil {
		return Response{}, err
	}
	return Response{RequestId: requestId, TypeId: typeId, Outcome: env.Outcome, Data: data}, nil
}

func packHeader(typeId uint16, requestId uint32, body []byte) []byte {
	out := make([]byte, 6+len(body))
	binary.LittleEndian.PutUint16(out[0:2], typeId)
	binary.LittleEndian.PutUint32(out[2:6], requestId)
	copy(out[6:], body)
	return out
}

func unpackHeader(frame []byte) (typeId uint16, requestId uint32, body []byte, err error) {
	if len(frame) < 6 {
		return 0, 0, nil, fmt.Errorf("wire: frame too short: %d bytes", len(frame))
	}
	typeId = binary.LittleEndian.Uint16(frame[0:2])
	requestId = binary.LittleEndian.Uint32(frame[2:6])
	return typeId, requestId, frame[6:], nil
}

func decodeRequestPayload(typeId uint16, body []byte) (any, error) {
	switch typeId {
	case TypeNegotiateVersion:
		var p NegotiateVersionRequest
		return p, msgpack.Unmarshal(body, &p)
	case TypeV1Publish:
		var p PublishRequest
		return p, msgpack.Unmarshal(body, &p)
	case TypeV1Consume:
		var p ConsumeRequest
		return p, msgpack.Unmarshal(body, &p)
	case TypeV1Ack:
		var p AckRequest
		return p, msgpack.Unmarshal(body, &p)
	case TypeV1Nack:
		var p NackRequest
		return p, msgpack.Unmarshal(body, &p)
	default:
		return nil, fmt.Errorf("wire: unknown request type id %d", typeId)
	}
}

func decodeResponseData(typeId uint16, raw msgpack.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch typeId {
	case TypeNegotiateVersion:
		var d NegotiateVersionData
		return d, msgpack.Unmarshal(raw, &d)
	case TypeV1Publish:
		var d PublishResultData
		return d, msgpack.Unmarshal(raw, &d)
	case TypeV1Consume:
		var d ConsumeResultData
		return d, msgpack.Unmarshal(raw, &d)
	case TypeV1Ack:
		var d AckResultData
		return d, msgpack.Unmarshal(raw, &d)
	case TypeV1Nack:
		var d NackResultData
		return d, msgpack.Unmarshal(raw, &d)
	default:
		return nil, fmt.Errorf("wire: unknown response type id %d", typeId)
	}
}

// WriteFrame writes a length-prefixed frame: len(u16 LE) | body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameLen {
		return fmt.Errorf("wire: frame body too large: %d bytes", len(body))
	}
	var lenPrefix [2]byte
	binary.LittleEndian.PutUint16(lenPrefix[:], uint16(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenPrefix [2]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
