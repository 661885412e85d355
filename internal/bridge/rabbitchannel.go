// Package bridge adapts a real github.com/rabbitmq/amqp091-go channel to the
// session.BackingChannel contract. It is intentionally thin: all policy
// (confirm-mode selection, window sizing, credit translation) lives in the
// session core, not here.
package bridge

import (
	"context"

	"github.com/pkg/errors"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/rabbitmq/amqp10-bridge/internal/frames"
)

// Channel wraps *amqp091.Channel to satisfy session.BackingChannel.
type Channel struct {
	ch *amqp091.Channel
}

// New wraps an already-open amqp091 channel.
func New(ch *amqp091.Channel) *Channel {
	return &Channel{ch: ch}
}

func (c *Channel) QueueDeclarePassive(name string) (amqp091.Queue, error) {
	q, err := c.ch.QueueDeclarePassive(name, false, false, false, false, nil)
	return q, errors.Wrapf(err, "queue.declare{passive} %q", name)
}

func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive bool) (amqp091.Queue, error) {
	q, err := c.ch.QueueDeclare(name, durable, autoDelete, exclusive, false, nil)
	return q, errors.Wrapf(err, "queue.declare %q", name)
}

func (c *Channel) ExchangeDeclarePassive(name string) error {
	err := c.ch.ExchangeDeclarePassive(name, "", false, false, false, false, nil)
	return errors.Wrapf(err, "exchange.declare{passive} %q", name)
}

func (c *Channel) QueueBind(queue, routingKey, exchange string) error {
	err := c.ch.QueueBind(queue, routingKey, exchange, false, nil)
	return errors.Wrapf(err, "queue.bind %q -> %q/%q", queue, exchange, routingKey)
}

func (c *Channel) Confirm() error {
	return errors.Wrap(c.ch.Confirm(false), "confirm.select")
}

func (c *Channel) NotifyPublish(confirms chan amqp091.Confirmation) {
	c.ch.NotifyPublish(confirms)
}

func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	return errors.Wrap(c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg), "basic.publish")
}

func (c *Channel) Consume(queue, consumerTag string) (<-chan amqp091.Delivery, error) {
	deliveries, err := c.ch.Consume(queue, consumerTag, false, false, false, false, nil)
	return deliveries, errors.Wrapf(err, "basic.consume %q", queue)
}

func (c *Channel) Credit(consumerTag string, credit uint32, drain bool) error {
	// Maps to RabbitMQ's basic.credit method extension. Its asynchronous
	// reply, basic.credit-state, has no client-library exposure yet; see
	// NotifyCreditState below.
	err := c.ch.Credit(consumerTag, int(credit), drain)
	return errors.Wrapf(err, "basic.credit %q", consumerTag)
}

// NotifyCreditState has no counterpart on amqp091.Channel's public surface:
// the library exposes basic.credit but not the broker's asynchronous
// basic.credit-state reply. Until that lands upstream, this is a documented
// no-op so session.BackingChannel stays satisfiable by a real channel; a
// deployment that needs credit-state delivery must supply its own
// amqp091.Channel fork or a NotifyPublish-style patch upstream.
func (c *Channel) NotifyCreditState(chan frames.CreditState) {}

func (c *Channel) Ack(deliveryTag uint64, multiple bool) error {
	return errors.Wrap(c.ch.Ack(deliveryTag, multiple), "basic.ack")
}

func (c *Channel) Reject(deliveryTag uint64, requeue bool) error {
	return errors.Wrap(c.ch.Reject(deliveryTag, requeue), "basic.reject")
}

func (c *Channel) Qos(prefetchCount int) error {
	return errors.Wrap(c.ch.Qos(prefetchCount, 0, false), "basic.qos")
}
