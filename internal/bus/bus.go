package bus

import "context"

// defaultBuffer is the per-queue capacity. Publishing to a full queue blocks,
// which back-pressures producers instead of dropping messages.
const defaultBuffer = 256

// MessageBus is the in-process queue pair connecting channels and the agent
// loop. Inbound flows channel → loop, outbound flows loop → channel.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a bus with the default queue capacity.
func New() *MessageBus {
	return NewWithBuffer(defaultBuffer)
}

// NewWithBuffer creates a bus with the given per-queue capacity.
func NewWithBuffer(n int) *MessageBus {
	if n <= 0 {
		n = defaultBuffer
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, n),
		outbound: make(chan OutboundMessage, n),
	}
}

// PublishInbound queues a message for the agent loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until an inbound message is available or ctx is done.
// Returns false when the context was cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a message for delivery to its channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks until an outbound message is available or ctx is done.
// Returns false when the context was cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
