// Package transport implements the broker's TCP front door: per-connection
// length-prefixed framing, a reverse round-robin worker pool that decouples
// socket I/O from request processing, and per-remote-address connection
// admission limiting.
package transport

import (
	"context"

	"github.com/sawpanic/pulsarbroker/internal/services"
	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// MinSupportedVersion/MaxSupportedVersion bound the contract versions this
// build's NegotiateVersion handshake will accept.
const (
	MinSupportedVersion wire.ContractVersionNumber = 1
	MaxSupportedVersion wire.ContractVersionNumber = 1
)

// Router dispatches a decoded wire.Request to the service that owns it and
// builds the wire.Response. It holds no connection state: a single Router
// is shared by every worker in the pool.
type Router struct {
	Pub   *services.PubService
	Sub   *services.SubService
	Admin *services.AdminService
}

// Dispatch runs one request to completion. It never panics on a malformed
// or unsupported payload; those become ErrorOutcome responses.
func (r *Router) Dispatch(ctx context.Context, req wire.Request) wire.Response {
	resp := wire.Response{RequestId: req.RequestId, TypeId: req.TypeId}

	switch req.TypeId {
	case wire.TypeNegotiateVersion:
		p, ok := req.Payload.(wire.NegotiateVersionRequest)
		if !ok {
			resp.Outcome = wire.ErrorOutcome("malformed negotiate-version request", wire.ErrorCodeGeneralFailure)
			return resp
		}
		version, ok := negotiate(p)
		if !ok {
			resp.Outcome = wire.ErrorOutcome("no compatible contract version", wire.ErrorCodeNoCompatibleVersion)
			return resp
		}
		resp.Outcome = wire.SuccessOutcome()
		resp.Data = wire.NegotiateVersionData{Version: version}

	case wire.TypeV1Publish:
		p, ok := req.Payload.(wire.PublishRequest)
		if !ok {
			resp.Outcome = wire.ErrorOutcome("malformed publish request", wire.ErrorCodeGeneralFailure)
			return resp
		}
		data, outcome := r.Pub.Publish(ctx, p)
		resp.Outcome, resp.Data = outcome, data

	case wire.TypeV1Consume:
		p, ok := req.Payload.(wire.ConsumeRequest)
		if !ok {
			resp.Outcome = wire.ErrorOutcome("malformed consume request", wire.ErrorCodeGeneralFailure)
			return resp
		}
		data, outcome := r.Sub.Consume(ctx, p)
		resp.Outcome, resp.Data = outcome, data

	case wire.TypeV1Ack:
		p, ok := req.Payload.(wire.AckRequest)
		if !ok {
			resp.Outcome = wire.ErrorOutcome("malformed ack request", wire.ErrorCodeGeneralFailure)
			return resp
		}
		data, outcome := r.Sub.Ack(ctx, p)
		resp.Outcome, resp.Data = outcome, data

	case wire.TypeV1Nack:
		p, ok := req.Payload.(wire.NackRequest)
		if !ok {
			resp.Outcome = wire.ErrorOutcome("malformed nack request", wire.ErrorCodeGeneralFailure)
			return resp
		}
		data, outcome := r.Sub.Nack(ctx, p)
		resp.Outcome, resp.Data = outcome, data

	default:
		resp.Outcome = wire.ErrorOutcome("unknown request type", wire.ErrorCodeGeneralFailure)
	}

	return resp
}

func negotiate(req wire.NegotiateVersionRequest) (wire.ContractVersionNumber, bool) {
	lo, hi := req.MinVersion, req.MaxVersion
	if hi < MinSupportedVersion || lo > MaxSupportedVersion {
		return 0, false
	}
	best := MaxSupportedVersion
	if hi < best {
		best = hi
	}
	return best, true
}
