// Package relay performs best-effort delivery of live frames to online
// peers. The Dispatcher is the single chokepoint through which every
// channel handler pushes updates, so eviction of stale connections happens
// uniformly instead of per handler.
package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus/internal/observability"
	"github.com/nexuschat/nexus/internal/registry"
)

// queueDepth bounds the async delivery queue. Requests beyond it are
// dropped and logged; delivery is best-effort by contract.
const queueDepth = 256

type request struct {
	target  string
	payload []byte
}

// Dispatcher delivers frames to live connections through a channel's
// registry. It supports synchronous delivery with an explicit result and a
// fire-and-forget queue drained by Run, which decouples HTTP request
// handling from connection I/O.
type Dispatcher struct {
	reg    *registry.Registry
	logger zerolog.Logger
	queue  chan request
}

// NewDispatcher creates a dispatcher bound to one channel registry.
func NewDispatcher(reg *registry.Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		reg:    reg,
		logger: logger.With().Str("component", "dispatcher").Str("channel", string(reg.Channel())).Logger(),
		queue:  make(chan request, queueDepth),
	}
}

// Deliver attempts to push payload to target's live connection.
//
// The result distinguishes the three outcomes: (true, nil) the frame was
// enqueued on the peer's connection; (false, nil) the target has no live
// connection; (false, err) the connection was live but the send faulted, in
// which case the stale entry has been evicted. Callers are expected to have
// persisted the message already, so offline recipients retrieve it later
// through a pull API; none of the outcomes is an error to the sender.
func (d *Dispatcher) Deliver(target string, payload []byte) (bool, error) {
	h, ok := d.reg.Lookup(target)
	if !ok {
		observability.RecordDelivery(string(d.reg.Channel()), observability.OutcomeOffline)
		return false, nil
	}

	if err := h.Send(payload); err != nil {
		// Peer gone but not yet detected: evict, compare-and-remove so a
		// concurrent reconnect is never collateral damage.
		d.reg.Unregister(target, h)
		observability.RecordDelivery(string(d.reg.Channel()), observability.OutcomeSendFault)
		d.logger.Warn().Err(err).Str("target", target).Msg("send failed, connection evicted")
		return false, fmt.Errorf("send to %s: %w", target, err)
	}

	observability.RecordDelivery(string(d.reg.Channel()), observability.OutcomeDelivered)
	return true, nil
}

// DeliverMessage encodes msg and delivers it to target.
func (d *Dispatcher) DeliverMessage(target string, msg Message) (bool, error) {
	payload, err := msg.Encode()
	if err != nil {
		return false, fmt.Errorf("encode relay message: %w", err)
	}
	return d.Deliver(target, payload)
}

// Enqueue hands a delivery request to the queue without blocking the
// caller. A full queue drops the request; live delivery is advisory.
func (d *Dispatcher) Enqueue(target string, payload []byte) {
	select {
	case d.queue <- request{target: target, payload: payload}:
	default:
		d.logger.Warn().Str("target", target).Msg("delivery queue full, frame dropped")
	}
}

// EnqueueMessage encodes msg and queues it for target.
func (d *Dispatcher) EnqueueMessage(target string, msg Message) {
	payload, err := msg.Encode()
	if err != nil {
		d.logger.Error().Err(err).Str("target", target).Msg("encoding relay message")
		return
	}
	d.Enqueue(target, payload)
}

// Run drains the delivery queue until ctx is cancelled. Each service starts
// exactly one Run goroutine next to its HTTP server.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.queue:
			if _, err := d.Deliver(req.target, req.payload); err != nil {
				d.logger.Debug().Err(err).Str("target", req.target).Msg("queued delivery failed")
			}
		}
	}
}
