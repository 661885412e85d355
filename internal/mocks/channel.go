package mocks

import (
	"context"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/rabbitmq/amqp10-bridge/internal/frames"
)

// Channel is a scriptable BackingChannel double. Every method has a
// function field defaulting to a harmless success; tests override only the
// fields they care about.
type Channel struct {
	mu sync.Mutex

	QueueDeclarePassiveFunc func(name string) (amqp091.Queue, error)
	QueueDeclareFunc        func(name string, durable, autoDelete, exclusive bool) (amqp091.Queue, error)
	ExchangeDeclarePassiveFunc func(name string) error
	QueueBindFunc           func(queue, routingKey, exchange string) error
	ConfirmFunc             func() error
	PublishFunc             func(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error
	ConsumeFunc             func(queue, consumerTag string) (<-chan amqp091.Delivery, error)
	CreditFunc              func(consumerTag string, credit uint32, drain bool) error
	AckFunc                 func(deliveryTag uint64, multiple bool) error
	RejectFunc              func(deliveryTag uint64, requeue bool) error
	QosFunc                 func(prefetchCount int) error

	Confirms    chan amqp091.Confirmation
	CreditStates chan frames.CreditState

	Published []Publication
	Acked     []Ack
	Rejected  []Ack
	Credits   []CreditCall
}

type Publication struct {
	Exchange, RoutingKey string
	Msg                  amqp091.Publishing
}

type Ack struct {
	DeliveryTag uint64
	Multiple    bool // also used for requeue, on Rejected entries
}

type CreditCall struct {
	ConsumerTag string
	Credit      uint32
	Drain       bool
}

func NewChannel() *Channel {
	return &Channel{}
}

func (c *Channel) QueueDeclarePassive(name string) (amqp091.Queue, error) {
	if c.QueueDeclarePassiveFunc != nil {
		return c.QueueDeclarePassiveFunc(name)
	}
	return amqp091.Queue{Name: name}, nil
}

func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive bool) (amqp091.Queue, error) {
	if c.QueueDeclareFunc != nil {
		return c.QueueDeclareFunc(name, durable, autoDelete, exclusive)
	}
	if name == "" {
		name = "amq.gen-mock"
	}
	return amqp091.Queue{Name: name}, nil
}

func (c *Channel) ExchangeDeclarePassive(name string) error {
	if c.ExchangeDeclarePassiveFunc != nil {
		return c.ExchangeDeclarePassiveFunc(name)
	}
	return nil
}

func (c *Channel) QueueBind(queue, routingKey, exchange string) error {
	if c.QueueBindFunc != nil {
		return c.QueueBindFunc(queue, routingKey, exchange)
	}
	return nil
}

func (c *Channel) Confirm() error {
	if c.ConfirmFunc != nil {
		return c.ConfirmFunc()
	}
	return nil
}

func (c *Channel) NotifyPublish(confirms chan amqp091.Confirmation) {
	c.Confirms = confirms
}

func (c *Channel) NotifyCreditState(states chan frames.CreditState) {
	c.CreditStates = states
}

func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	c.mu.Lock()
	c.Published = append(c.Published, Publication{exchange, routingKey, msg})
	c.mu.Unlock()
	if c.PublishFunc != nil {
		return c.PublishFunc(ctx, exchange, routingKey, msg)
	}
	return nil
}

func (c *Channel) Consume(queue, consumerTag string) (<-chan amqp091.Delivery, error) {
	if c.ConsumeFunc != nil {
		return c.ConsumeFunc(queue, consumerTag)
	}
	return make(chan amqp091.Delivery), nil
}

func (c *Channel) Credit(consumerTag string, credit uint32, drain bool) error {
	c.mu.Lock()
	c.Credits = append(c.Credits, CreditCall{consumerTag, credit, drain})
	c.mu.Unlock()
	if c.CreditFunc != nil {
		return c.CreditFunc(consumerTag, credit, drain)
	}
	return nil
}

func (c *Channel) Ack(deliveryTag uint64, multiple bool) error {
	c.mu.Lock()
	c.Acked = append(c.Acked, Ack{deliveryTag, multiple})
	c.mu.Unlock()
	if c.AckFunc != nil {
		return c.AckFunc(deliveryTag, multiple)
	}
	return nil
}

func (c *Channel) Reject(deliveryTag uint64, requeue bool) error {
	c.mu.Lock()
	c.Rejected = append(c.Rejected, Ack{deliveryTag, requeue})
	c.mu.Unlock()
	if c.RejectFunc != nil {
		return c.RejectFunc(deliveryTag, requeue)
	}
	return nil
}

func (c *Channel) Qos(prefetchCount int) error {
	if c.QosFunc != nil {
		return c.QosFunc(prefetchCount)
	}
	return nil
}
