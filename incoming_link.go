package session

import (
	"context"
	"log/slog"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/rabbitmq/amqp10-bridge/internal/debug"
	"github.com/rabbitmq/amqp10-bridge/internal/frames"
	"github.com/rabbitmq/amqp10-bridge/internal/queue"
)

// incomingLink is the peer-is-sender half of a link: the peer transfers
// messages to us and we publish them to the backing exchange.
type incomingLink struct {
	handle uint32
	name   string

	exchange      string
	routingKey    string
	routingKeySet bool

	deliveryCount uint32
	creditUsed    uint32

	// confirmRequired is true when the attach's sender-settle-mode was
	// unsettled or mixed, meaning every transfer needs a broker confirm
	// before the bridge can dispose of it toward the peer.
	confirmRequired bool

	fragments *queue.Queue[[]byte]
}

// attachIncoming implements §4.2's Attach handling: resolve the target,
// choose confirm policy from sender-settle-mode, and produce the reply
// attach plus the initial credit-granting flow.
func (s *Session) attachIncoming(chan_ BackingChannel, at *frames.Attach) (*frames.Attach, *frames.Flow, error) {
	if _, taken := s.incomingLinks[at.Handle]; taken {
		return nil, nil, protocolError(ErrCondIllegalState, "handle %d already attached", at.Handle)
	}
	if _, taken := s.outgoingLinks[at.Handle]; taken {
		return nil, nil, protocolError(ErrCondIllegalState, "handle %d already attached", at.Handle)
	}

	rt, err := s.resolveTarget(chan_, at.Target)
	if err != nil {
		return s.attachErrorReply(at), nil, nil
	}

	link := &incomingLink{
		handle:        at.Handle,
		name:          at.Name,
		exchange:      rt.exchange,
		routingKey:    rt.routingKey,
		routingKeySet: rt.routingKeySet,
		creditUsed:    s.incomingCredit / 2,
		fragments:     queue.New[[]byte](4),
	}

	switch at.SenderSettleMode {
	case frames.SenderSettleModeSettled:
		// fire-and-forget; next_publish_id stays 0 (confirm mode untouched).
	case frames.SenderSettleModeUnsettled, frames.SenderSettleModeMixed:
		link.confirmRequired = true
		if err := s.registerConfirms(); err != nil {
			return nil, nil, err
		}
		if s.nextPublishID == 0 {
			s.nextPublishID = 1
		}
	}

	s.incomingLinks[at.Handle] = link

	reply := &frames.Attach{
		Name:   at.Name,
		Handle: at.Handle,
		Role:   frames.RoleReceiver,
		Target: &frames.Target{Address: rt.address},
	}
	flow := &frames.Flow{
		Handle:        &at.Handle,
		DeliveryCount: &link.deliveryCount,
		LinkCredit:    ptrUint32(s.incomingCredit),
		Drain:         false,
		Echo:          false,
	}
	return reply, flow, nil
}

func (s *Session) attachErrorReply(at *frames.Attach) *frames.Attach {
	return &frames.Attach{
		Name:   at.Name,
		Handle: at.Handle,
		Role:   !at.Role,
	}
}

// onIncomingTransfer implements §4.2's Transfer handling for a single physical
// transfer frame on this link. transferID is the session-assigned
// transfer-id for this physical frame (session.nextIncomingID before
// advancing). It returns the publish-id to record in incoming_unsettled, or
// 0 if the transfer does not require tracking (settled, or more=true).
func (s *Session) onIncomingTransfer(ctx context.Context, link *incomingLink, t *frames.Transfer, transferID uint32) (publishID uint64, err error) {
	if t.More {
		link.fragments.Enqueue(append([]byte(nil), t.Payload...))
		return 0, nil
	}

	fragments := link.fragments.DequeueAll()
	body := make([]byte, 0, len(t.Payload))
	for _, f := range fragments {
		body = append(body, f...)
	}
	body = append(body, t.Payload...)

	subject, normalized, err := s.messageDecoder.Decode(body)
	if err != nil {
		return 0, err
	}

	routingKey := ""
	switch {
	case link.routingKeySet:
		routingKey = link.routingKey
	case subject != "":
		routingKey = subject
	}

	if err := s.dataChannel.Publish(ctx, link.exchange, routingKey, amqp091.Publishing{Body: normalized}); err != nil {
		return 0, err
	}

	link.deliveryCount = frames.SerialAdd(link.deliveryCount, 1)
	if link.creditUsed > 0 {
		link.creditUsed--
	}
	if link.creditUsed == 0 {
		flow := &frames.Flow{
			Handle:        &link.handle,
			DeliveryCount: &link.deliveryCount,
			LinkCredit:    ptrUint32(s.incomingCredit),
		}
		s.fillSessionFlowFields(flow)
		if err := s.sink.SendFlow(flow); err != nil {
			return 0, err
		}
		link.creditUsed = s.incomingCredit / 2
		debug.Log(ctx, slog.LevelDebug, "incoming link credit replenished", "handle", link.handle)
	}

	if !t.Settled && link.confirmRequired {
		publishID = s.nextPublishID
		s.nextPublishID++
		return publishID, nil
	}
	return 0, nil
}

func ptrUint32(v uint32) *uint32 { return &v }
