package session

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/rabbitmq/amqp10-bridge/internal/frames"
)

// FrameSink is the narrow facade the session core uses to emit 1.0
// performatives toward the peer. Encoding a performative to wire bytes is
// the 1.0 frame codec's job, an external collaborator not implemented here.
type FrameSink interface {
	SendBegin(*frames.Begin) error
	SendAttach(*frames.Attach) error
	SendFlow(*frames.Flow) error
	SendTransfer(*frames.Transfer) error
	SendDisposition(*frames.Disposition) error
	SendDetach(*frames.Detach) error
	SendEnd(*frames.End) error
}

// MessageDecoder recovers the AMQP 1.0 message's Subject (used as a
// fallback routing key, §4.2 step 2-3) and the broker-normalized body from
// the reassembled transfer payload. The 1.0 message codec itself is out of
// scope for this package; MessageDecoder is the seam a real codec plugs
// into.
type MessageDecoder interface {
	Decode(raw []byte) (subject string, normalizedBody []byte, err error)
}

// BackingChannel is the narrow facade over the 0-9-1 channel that backs this
// session. Its method set mirrors github.com/rabbitmq/amqp091-go's
// *amqp091.Channel closely enough that a production adapter is a thin
// pass-through (see internal/bridge.Channel); a second, independent
// declaring-channel implementation is used for passive-declare/bind traffic
// per §4.9's "declaring channel" pattern, isolating its synchronous failure
// modes from the data-path channel.
type BackingChannel interface {
	// QueueDeclarePassive asserts that a queue exists without creating it.
	QueueDeclarePassive(name string) (amqp091.Queue, error)
	// QueueDeclare creates a queue, used for dynamic/auto-delete sources and targets.
	QueueDeclare(name string, durable, autoDelete, exclusive bool) (amqp091.Queue, error)
	// ExchangeDeclarePassive asserts that an exchange exists without creating it.
	ExchangeDeclarePassive(name string) error
	// QueueBind binds queue to exchange with the given routing key.
	QueueBind(queue, routingKey, exchange string) error

	// Confirm puts the channel into confirm mode. Safe to call more than once.
	Confirm() error
	// NotifyPublish registers the channel to receive confirm notifications.
	NotifyPublish(chan amqp091.Confirmation)
	// NotifyCreditState registers the channel to receive RabbitMQ's
	// basic.credit-state notifications, the asynchronous counterpart to
	// Credit. amqp091-go has no typed event for this extension method, so
	// frames.CreditState is this module's own shape for it.
	NotifyCreditState(chan frames.CreditState)

	// Publish casts (fire-and-forget with respect to the broker's own I/O,
	// but may still block briefly on internal backpressure) a message.
	Publish(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error

	// Consume starts delivery of messages on queue under consumerTag. It
	// does not set the consumer's credit itself: the session calls Credit
	// with zero credit first, so nothing ships until link-credit is granted.
	Consume(queue, consumerTag string) (<-chan amqp091.Delivery, error)
	// Credit delegates 1.0 link-credit to the broker's per-consumer credit
	// extension.
	Credit(consumerTag string, credit uint32, drain bool) error
	// Ack acknowledges a single delivery by tag.
	Ack(deliveryTag uint64, multiple bool) error
	// Reject rejects (optionally requeueing) a single delivery by tag.
	Reject(deliveryTag uint64, requeue bool) error

	// Qos sets the channel-wide prefetch count, used to bound broker
	// deliveries in flight to roughly the negotiated session window.
	Qos(prefetchCount int) error
}

// PassthroughDecoder is a MessageDecoder that performs no 1.0 message
// decoding: it reports no Subject and forwards the raw transfer payload
// unchanged. Useful for tests and for deployments where the peer always
// supplies an explicit routing key on the target address, making Subject
// fallback unnecessary.
type PassthroughDecoder struct{}

func (PassthroughDecoder) Decode(raw []byte) (subject string, normalizedBody []byte, err error) {
	return "", raw, nil
}

// consumerTagPrefix plus a 4-byte big-endian handle makes the consumer tag
// reversible: given a broker delivery's consumer tag, the session recovers
// the outgoing link handle it belongs to without any extra bookkeeping.
const consumerTagPrefix = "ctag-"

// encodeConsumerTag renders the reversible consumer-tag format for handle h.
func encodeConsumerTag(h uint32) string {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, h)
	return consumerTagPrefix + string(buf)
}

// decodeConsumerTag recovers the handle encoded by encodeConsumerTag. It
// fails if tag does not have the expected prefix and length — a malformed
// consumer tag from the broker is treated as illegal-state by the caller.
func decodeConsumerTag(tag string) (uint32, error) {
	if len(tag) != len(consumerTagPrefix)+4 || tag[:len(consumerTagPrefix)] != consumerTagPrefix {
		return 0, errors.Errorf("malformed consumer tag %q", tag)
	}
	return binary.BigEndian.Uint32([]byte(tag[len(consumerTagPrefix):])), nil
}
