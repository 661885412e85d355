package session

import (
	"context"
	"encoding/binary"
	"log/slog"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/rabbitmq/amqp10-bridge/internal/debug"
	"github.com/rabbitmq/amqp10-bridge/internal/frames"
)

// outgoingUnsettledEntry is the value type of Session.outgoingUnsettled:
// per §3, every broker delivery-tag recorded here corresponds to exactly one
// outgoing transfer-id.
type outgoingUnsettledEntry struct {
	deliveryTag     uint64
	expectedOutcome frames.Outcome
}

// outgoingLink is the peer-is-receiver half of a link: the broker delivers
// messages to us and we forward them as transfers to the peer.
type outgoingLink struct {
	handle uint32
	name   string

	queue         string
	transferCount uint32
	transferUnit  uint32 // 0 means count messages, not bytes (spec.md §3)

	noAck          bool
	defaultOutcome frames.Outcome
	outcomes       map[frames.Outcome]bool

	consumerTag string
	creditor    creditor
}

// attachOutgoing implements §4.3's Attach handling.
func (s *Session) attachOutgoing(chan_ BackingChannel, at *frames.Attach) (*frames.Attach, error) {
	if _, taken := s.incomingLinks[at.Handle]; taken {
		return nil, protocolError(ErrCondIllegalState, "handle %d already attached", at.Handle)
	}
	if _, taken := s.outgoingLinks[at.Handle]; taken {
		return nil, protocolError(ErrCondIllegalState, "handle %d already attached", at.Handle)
	}

	rt, err := s.resolveSource(chan_, at.Source)
	if err != nil {
		return s.attachErrorReply(at), nil
	}

	outcomes, defaultOutcome, err := negotiateOutcomes(at.Source)
	if err != nil {
		// An unsupported outcome fails only this attach (spec.md §4.5, §7):
		// the session stays up, unlike the fatal SessionEndError path in
		// dispatch.
		debug.Log(s.ctx, slog.LevelWarn, "rejecting attach: outcome negotiation failed", "handle", at.Handle, "error", err)
		return s.attachErrorReply(at), nil
	}

	link := &outgoingLink{
		handle:         at.Handle,
		name:           at.Name,
		queue:          rt.queue,
		defaultOutcome: defaultOutcome,
		outcomes:       outcomes,
		noAck:          defaultOutcome == frames.OutcomeAccepted && len(outcomes) == 1 && outcomes[frames.OutcomeAccepted],
	}
	link.consumerTag = encodeConsumerTag(at.Handle)

	// zero broker-side credit: nothing ships until the peer grants
	// link-credit via flow.
	if err := s.dataChannel.Credit(link.consumerTag, 0, false); err != nil {
		return s.attachErrorReply(at), nil
	}
	deliveries, err := s.dataChannel.Consume(link.queue, link.consumerTag)
	if err != nil {
		return s.attachErrorReply(at), nil
	}

	s.outgoingLinks[at.Handle] = link
	s.registerCreditState()
	s.pumpDeliveries(link.consumerTag, deliveries)

	return &frames.Attach{
		Name:   at.Name,
		Handle: at.Handle,
		Role:   frames.RoleSender,
		Source: &frames.Source{Address: rt.address, DefaultOutcome: defaultOutcome, Outcomes: outcomeSlice(outcomes)},
	}, nil
}

// negotiateOutcomes implements §4.5.
func negotiateOutcomes(src *frames.Source) (map[frames.Outcome]bool, frames.Outcome, error) {
	if src == nil || len(src.Outcomes) == 0 {
		return map[frames.Outcome]bool{frames.OutcomeAccepted: true}, frames.OutcomeReleased, nil
	}
	set := make(map[frames.Outcome]bool, len(src.Outcomes))
	for _, o := range src.Outcomes {
		if !frames.SupportedOutcomes[o] {
			return nil, "", protocolError(ErrCondNotImplemented, "unsupported outcome %q", o)
		}
		set[o] = true
	}
	def := src.DefaultOutcome
	if def == "" {
		def = frames.OutcomeReleased
	}
	return set, def, nil
}

func outcomeSlice(set map[frames.Outcome]bool) []frames.Outcome {
	out := make([]frames.Outcome, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	return out
}

// onOutgoingFlow implements §4.3's "On flow targeting this link": delegate to
// broker credit.
func (s *Session) onOutgoingFlow(link *outgoingLink, f *frames.Flow) error {
	if f.LinkCredit != nil {
		link.creditor.RequestFlow(*f.LinkCredit, f.Drain)
	}
	credit, drain := link.creditor.Pending()
	if drain {
		link.creditor.BeginDrain()
	}
	return s.dataChannel.Credit(link.consumerTag, credit, drain)
}

// onOutgoingCreditState implements the broker-credit-state half of §4.3's flow
// delegation: translate the broker's credit_state back into a 1.0 flow,
// unless available is unknown (-1), in which case the echo is suppressed.
func (s *Session) onOutgoingCreditState(ctx context.Context, link *outgoingLink, creditRemaining uint32, available int32, drain bool) error {
	if link.creditor.IsDraining() {
		link.creditor.EndDrain()
	}
	if available < 0 {
		debug.Log(ctx, slog.LevelDebug, "suppressing flow echo: broker reports unknown availability", "handle", link.handle)
		return nil
	}

	flow := &frames.Flow{
		Handle:        &link.handle,
		DeliveryCount: &link.transferCount,
		LinkCredit:    ptrUint32(creditRemaining),
		Available:     ptrUint32(uint32(available)),
		Drain:         drain,
	}
	s.fillSessionFlowFields(flow)
	return s.sink.SendFlow(flow)
}

// onOutgoingDelivery implements §4.3's "On broker delivery" admission, emission and
// bookkeeping logic.
func (s *Session) onOutgoingDelivery(link *outgoingLink, d amqp091.Delivery) error {
	transferID := s.nextOutgoingID
	admitted := frames.SerialLess(transferID, s.maxOutgoingID) && uint32(s.outgoingUnsettled.Len()) < s.windowSize

	if !admitted {
		if link.noAck {
			// protocol limitation: the peer reduced credit after the
			// broker already committed to delivering this message; there
			// is nothing to settle so the message is simply dropped.
			return nil
		}
		return s.dataChannel.Reject(d.DeliveryTag, true)
	}

	deliveryTag := make([]byte, 8)
	binary.BigEndian.PutUint64(deliveryTag, d.DeliveryTag)

	xfer := &frames.Transfer{
		Handle:      link.handle,
		DeliveryID:  ptrUint32(transferID),
		DeliveryTag: deliveryTag,
		Settled:     link.noAck,
		More:        false,
		Resume:      false,
		Aborted:     false,
		Payload:     d.Body,
	}
	if err := s.sink.SendTransfer(xfer); err != nil {
		return err
	}

	if !link.noAck {
		s.outgoingUnsettled.Put(transferID, outgoingUnsettledEntry{
			deliveryTag:     d.DeliveryTag,
			expectedOutcome: link.defaultOutcome,
		})
	}
	link.transferCount = frames.SerialAdd(link.transferCount, 1)
	s.nextOutgoingID = frames.SerialAdd(s.nextOutgoingID, 1)
	return nil
}
