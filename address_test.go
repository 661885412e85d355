package session

import (
	"testing"

	"github.com/pkg/errors"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/rabbitmq/amqp10-bridge/internal/frames"
	"github.com/rabbitmq/amqp10-bridge/internal/mocks"
)

func newAddressTestSession(ch *mocks.Channel) *Session {
	return New(Config{
		Sink:        &mocks.Sink{},
		DataChannel: ch,
		NewDeclaringChannel: func() (BackingChannel, error) {
			return ch, nil
		},
	})
}

func TestResolveTargetDefaultQueue(t *testing.T) {
	ch := mocks.NewChannel()
	s := newAddressTestSession(ch)

	rt, err := s.resolveTarget(ch, &frames.Target{Address: "/queue"})
	require.NoError(t, err)
	require.Equal(t, "", rt.exchange)
	require.False(t, rt.routingKeySet)
	require.Equal(t, "/queue", rt.address)
}

func TestResolveTargetNamedQueueMissingIsNotFound(t *testing.T) {
	ch := mocks.NewChannel()
	ch.QueueDeclarePassiveFunc = func(name string) (amqp091.Queue, error) {
		return amqp091.Queue{}, errors.New("NOT_FOUND - no queue 'missing'")
	}
	s := newAddressTestSession(ch)

	_, err := s.resolveTarget(ch, &frames.Target{Address: "/queue/missing"})
	require.Error(t, err)
	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	require.ErrorIs(t, addrErr.Reason, errNotFound)
}

func TestResolveSourceExchangeBindsPrivateQueue(t *testing.T) {
	ch := mocks.NewChannel()
	s := newAddressTestSession(ch)

	rt, err := s.resolveSource(ch, &frames.Source{Address: "/exchange/orders/urgent"})
	require.NoError(t, err)
	require.Equal(t, "orders", rt.exchange)
	require.Equal(t, "urgent", rt.routingKey)
	require.True(t, rt.routingKeySet)
	require.NotEmpty(t, rt.queue)
	require.Len(t, ch.Published, 0)
}

func TestResolveSourceBareExchangeWithoutRoutingKeyIsUnknownAddress(t *testing.T) {
	ch := mocks.NewChannel()
	s := newAddressTestSession(ch)

	// "/exchange/NAME" has no routing key for the private queue bind, so it
	// is valid as a target but not as a source (spec.md §4.1's grammar).
	_, err := s.resolveSource(ch, &frames.Source{Address: "/exchange/orders"})
	require.Error(t, err)
	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	require.ErrorIs(t, addrErr.Reason, errUnknownAddress)
}

func TestResolveTargetBareExchangeIsValid(t *testing.T) {
	ch := mocks.NewChannel()
	s := newAddressTestSession(ch)

	rt, err := s.resolveTarget(ch, &frames.Target{Address: "/exchange/orders"})
	require.NoError(t, err)
	require.Equal(t, "orders", rt.exchange)
	require.False(t, rt.routingKeySet)
}

func TestResolveAddressUnknownGrammarIsUnknownAddress(t *testing.T) {
	ch := mocks.NewChannel()
	s := newAddressTestSession(ch)

	_, err := s.resolveAddress(ch, "not-a-valid-address", true)
	require.Error(t, err)
	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	require.ErrorIs(t, addrErr.Reason, errUnknownAddress)
}

func TestResolveTargetDynamicAndAddressConflict(t *testing.T) {
	ch := mocks.NewChannel()
	s := newAddressTestSession(ch)

	_, err := s.resolveTarget(ch, &frames.Target{Address: "/queue/x", Dynamic: true})
	require.Error(t, err)
	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	require.ErrorIs(t, addrErr.Reason, errBothDynamicAndAddrSupplied)
}

func TestResolveTargetDynamicDeclaresQueue(t *testing.T) {
	ch := mocks.NewChannel()
	s := newAddressTestSession(ch)

	rt, err := s.resolveTarget(ch, &frames.Target{Dynamic: true})
	require.NoError(t, err)
	require.True(t, rt.routingKeySet)
	require.NotEmpty(t, rt.queue)
}
