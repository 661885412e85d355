package session

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rabbitmq/amqp10-bridge/internal/debug"
	"github.com/rabbitmq/amqp10-bridge/internal/frames"
)

// DistributionMode is the negotiated distribution mode for a source: "move"
// for queues, "copy" for exchanges. No other mode is supported.
type DistributionMode string

const (
	DistributionMove DistributionMode = "move"
	DistributionCopy DistributionMode = "copy"
)

// resolvedTerminus is what address resolution produces: enough to drive
// either an incoming link's publish routing or an outgoing link's
// subscription, plus the address string to echo back to the peer (which
// differs from the request only when dynamic was set).
type resolvedTerminus struct {
	exchange     string // "" means the default exchange
	routingKey   string
	routingKeySet bool
	queue        string // populated for sources, and for dynamic targets
	distribution DistributionMode
	address      string // the address to echo back in the reply attach
}

// resolveTarget implements §4.1 for an incoming link's target (peer sends,
// we publish).
func (s *Session) resolveTarget(chan_ BackingChannel, t *frames.Target) (*resolvedTerminus, error) {
	if t == nil {
		return nil, &AddressError{Reason: errUnknownAddress}
	}
	if t.Dynamic {
		if t.Address != "" {
			return nil, &AddressError{Address: t.Address, Reason: errBothDynamicAndAddrSupplied}
		}
		return s.declareDynamic(chan_)
	}
	return s.resolveAddress(chan_, t.Address, true)
}

// resolveSource implements §4.1 for an outgoing link's source (we consume,
// peer receives).
func (s *Session) resolveSource(chan_ BackingChannel, src *frames.Source) (*resolvedTerminus, error) {
	if src == nil {
		return nil, &AddressError{Reason: errUnknownAddress}
	}
	if src.Dynamic {
		if src.Address != "" {
			return nil, &AddressError{Address: src.Address, Reason: errBothDynamicAndAddrSupplied}
		}
		return s.declareDynamic(chan_)
	}
	return s.resolveAddress(chan_, src.Address, false)
}

// resolveAddress implements the grammar in §4.1:
//
//	target  := "/queue" | "/queue/" NAME | "/exchange/" NAME | "/exchange/" NAME "/" ROUTING_KEY
//	source  := "/queue/" NAME | "/exchange/" NAME "/" ROUTING_KEY
func (s *Session) resolveAddress(chan_ BackingChannel, address string, isTarget bool) (*resolvedTerminus, error) {
	parts := strings.Split(address, "/")
	if len(parts) < 2 || parts[0] != "" {
		return nil, &AddressError{Address: address, Reason: errUnknownAddress}
	}

	switch parts[1] {
	case "queue":
		switch len(parts) {
		case 2:
			if !isTarget {
				return nil, &AddressError{Address: address, Reason: errUnknownAddress}
			}
			// "/queue": default exchange, Subject-as-routing-key at publish time.
			return &resolvedTerminus{exchange: "", distribution: DistributionMove, address: address}, nil
		case 3:
			name := parts[2]
			if err := s.assertQueueExists(chan_, name); err != nil {
				return nil, err
			}
			return &resolvedTerminus{
				exchange:      "",
				routingKey:    name,
				routingKeySet: true,
				queue:         name,
				distribution:  DistributionMove,
				address:       address,
			}, nil
		default:
			return nil, &AddressError{Address: address, Reason: errUnknownAddress}
		}

	case "exchange":
		switch len(parts) {
		case 3:
			// "/exchange/NAME" with no routing key is target-only: a source
			// needs a routing key to bind its private queue against (§4.1's
			// grammar only admits the 4-part form for source).
			if !isTarget {
				return nil, &AddressError{Address: address, Reason: errUnknownAddress}
			}
			name := parts[2]
			if err := s.assertExchangeExists(chan_, name); err != nil {
				return nil, err
			}
			return &resolvedTerminus{exchange: name, distribution: DistributionCopy, address: address}, nil
		case 4:
			name := parts[2]
			if err := s.assertExchangeExists(chan_, name); err != nil {
				return nil, err
			}
			rt := &resolvedTerminus{
				exchange:      name,
				routingKey:    parts[3],
				routingKeySet: true,
				distribution:  DistributionCopy,
				address:       address,
			}
			if !isTarget {
				// exchange source: a private auto-delete queue is bound to
				// the exchange and is what the outgoing-link consumer
				// subscribes to.
				q, err := s.declarePrivateQueue(chan_)
				if err != nil {
					return nil, err
				}
				if err := chan_.QueueBind(q, rt.routingKey, name); err != nil {
					s.discardDeclaringChannel()
					return nil, errors.Wrap(err, "binding private exchange-source queue")
				}
				rt.queue = q
			}
			return rt, nil
		default:
			return nil, &AddressError{Address: address, Reason: errUnknownAddress}
		}
	}

	return nil, &AddressError{Address: address, Reason: errUnknownAddress}
}

func (s *Session) assertQueueExists(chan_ BackingChannel, name string) error {
	if _, err := chan_.QueueDeclarePassive(name); err != nil {
		s.discardDeclaringChannel()
		return &AddressError{Address: "/queue/" + name, Reason: errNotFound}
	}
	return nil
}

func (s *Session) assertExchangeExists(chan_ BackingChannel, name string) error {
	if err := chan_.ExchangeDeclarePassive(name); err != nil {
		s.discardDeclaringChannel()
		return &AddressError{Address: "/exchange/" + name, Reason: errNotFound}
	}
	return nil
}

// declareDynamic declares a fresh auto-delete queue for a dynamic
// source/target and renders its returned address per §6 ("/queue/" ||
// queueName).
func (s *Session) declareDynamic(chan_ BackingChannel) (*resolvedTerminus, error) {
	q, err := chan_.QueueDeclare("", false /* durable */, true /* autoDelete */, true /* exclusive */)
	if err != nil {
		s.discardDeclaringChannel()
		return nil, errors.Wrap(err, "declaring dynamic queue")
	}
	return &resolvedTerminus{
		exchange:      "",
		routingKey:    q.Name,
		routingKeySet: true,
		queue:         q.Name,
		distribution:  DistributionMove,
		address:       "/queue/" + q.Name,
	}, nil
}

// declarePrivateQueue declares the private auto-delete queue used to back an
// exchange source's outgoing-link subscription. Its lifetime is tied to the
// link via RabbitMQ's "delete-on-close" extension argument in a full
// implementation; here the queue is named with a uuid suffix (amq.gen-…)
// so it is recognizable as bridge-owned in broker management tooling.
func (s *Session) declarePrivateQueue(chan_ BackingChannel) (string, error) {
	name := "amq.gen-" + uuid.NewString()
	if _, err := chan_.QueueDeclare(name, false, true, true); err != nil {
		s.discardDeclaringChannel()
		return "", errors.Wrap(err, "declaring private exchange-source queue")
	}
	debug.Log(s.ctx, slog.LevelDebug, "declared private exchange-source queue", "queue", name)
	return name, nil
}
