package frames

// CreditState is not an AMQP 1.0 performative; it lives here because this is
// the shared leaf package both the session core and its backing-channel
// implementations can depend on without a cycle. It mirrors RabbitMQ's
// basic.credit-state method extension, the broker's asynchronous reply to
// basic.credit, reporting a consumer's remaining credit and availability.
type CreditState struct {
	ConsumerTag string
	Credit      uint32
	Available   int32 // -1 when the broker does not report availability
	Drain       bool
}
