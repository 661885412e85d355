// Package session implements a per-session actor that bridges AMQP 1.0
// link/session semantics onto an AMQP 0-9-1 backing channel: session-window
// accounting, per-link attach/detach, credit replenishment and delegation,
// ordered transfer numbering, multi-fragment reassembly, and the
// disposition/settlement mapping between the two protocols.
package session

import (
	"context"
	"log/slog"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/rabbitmq/amqp10-bridge/internal/debug"
	"github.com/rabbitmq/amqp10-bridge/internal/frames"
	"github.com/rabbitmq/amqp10-bridge/internal/unsettled"
)

// DefaultMaxSessionBufferSize bounds the session window regardless of what
// the peer requests at begin, unless Config.MaxSessionBufferSize overrides it.
const DefaultMaxSessionBufferSize = 4096

// DefaultIncomingCredit is the link-credit an incoming link is granted on
// attach, and regranted once half of it has been consumed, unless
// Config.IncomingCredit overrides it.
const DefaultIncomingCredit = 65536

// Config carries everything the session needs from its caller: the
// collaborators named as external in §6, plus the handful of tunables §6
// lists as session-begin parameters. There is deliberately no file/env
// configuration surface — the core is a library component (spec.md §6).
type Config struct {
	// Sink emits 1.0 performatives toward the peer.
	Sink FrameSink
	// DataChannel carries publish/consume/ack/credit/confirm traffic.
	DataChannel BackingChannel
	// NewDeclaringChannel lazily opens the secondary channel used for
	// passive-declare/bind traffic (§4.9's "declaring channel" pattern). It
	// is called at most once per discard cycle.
	NewDeclaringChannel func() (BackingChannel, error)
	// MessageDecoder recovers Subject/body from a reassembled transfer
	// payload. Defaults to PassthroughDecoder if nil.
	MessageDecoder MessageDecoder

	// MaxSessionBufferSize caps the session's incoming/outgoing window
	// regardless of what the peer requests at begin. Zero means
	// DefaultMaxSessionBufferSize.
	MaxSessionBufferSize uint32
	// IncomingCredit is the link-credit granted to an incoming link on
	// attach and on replenishment. Zero means DefaultIncomingCredit.
	IncomingCredit uint32
}

// Session is the per-session actor described in the design's component D.
// All fields below are touched only from the goroutine running Run; there
// is no internal locking (§5).
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	sink           FrameSink
	dataChannel    BackingChannel
	newDeclaring   func() (BackingChannel, error)
	declaringChan  BackingChannel
	messageDecoder MessageDecoder

	nextOutgoingID uint32
	nextIncomingID uint32
	maxOutgoingID  uint32
	windowSize     uint32

	maxSessionBufferSize uint32
	incomingCredit       uint32

	nextPublishID uint64
	confirmEnabled bool
	creditStateRegistered bool

	incomingUnsettled *unsettled.Map[uint32]
	outgoingUnsettled *unsettled.Map[outgoingUnsettledEntry]

	incomingLinks map[uint32]*incomingLink
	outgoingLinks map[uint32]*outgoingLink

	inbox chan sessionEvent
	done  chan struct{}
	err   *SessionEndError
}

// New creates a session actor. Call Run to start servicing events; the
// session does nothing until the peer's Begin arrives via PostPeerBegin.
func New(cfg Config) *Session {
	decoder := cfg.MessageDecoder
	if decoder == nil {
		decoder = PassthroughDecoder{}
	}
	maxBuf := cfg.MaxSessionBufferSize
	if maxBuf == 0 {
		maxBuf = DefaultMaxSessionBufferSize
	}
	incomingCredit := cfg.IncomingCredit
	if incomingCredit == 0 {
		incomingCredit = DefaultIncomingCredit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctx:                  ctx,
		cancel:               cancel,
		sink:                 cfg.Sink,
		dataChannel:          cfg.DataChannel,
		newDeclaring:         cfg.NewDeclaringChannel,
		messageDecoder:       decoder,
		maxSessionBufferSize: maxBuf,
		incomingCredit:       incomingCredit,
		incomingUnsettled:    unsettled.New[uint32](),
		outgoingUnsettled:    unsettled.New[outgoingUnsettledEntry](),
		incomingLinks:        make(map[uint32]*incomingLink),
		outgoingLinks:        make(map[uint32]*outgoingLink),
		inbox:                make(chan sessionEvent, 64),
		done:                 make(chan struct{}),
	}
}

// Err returns the terminal error, if the session ended abnormally. It is
// only meaningful after Run has returned.
func (s *Session) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// Done is closed once Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// --- sessionEvent: the single serialized inbox (§5) ---

type sessionEvent interface{ isSessionEvent() }

type beginEvent struct{ frame *frames.Begin }
type attachEvent struct{ frame *frames.Attach }
type flowEvent struct{ frame *frames.Flow }
type transferEvent struct {
	handle uint32
	frame  *frames.Transfer
}
type dispositionEvent struct{ frame *frames.Disposition }
type detachEvent struct{ frame *frames.Detach }
type endEvent struct{ frame *frames.End }

type brokerDeliveryEvent struct {
	consumerTag string
	delivery    amqp091.Delivery
}
type brokerConfirmEvent struct {
	deliveryTag uint64
	multiple    bool
	ack         bool
}
type brokerCreditStateEvent struct {
	consumerTag string
	credit      uint32
	available   int32
	drain       bool
}
type transportClosedEvent struct{ err error }

func (beginEvent) isSessionEvent()             {}
func (attachEvent) isSessionEvent()            {}
func (flowEvent) isSessionEvent()              {}
func (transferEvent) isSessionEvent()          {}
func (dispositionEvent) isSessionEvent()       {}
func (detachEvent) isSessionEvent()            {}
func (endEvent) isSessionEvent()               {}
func (brokerDeliveryEvent) isSessionEvent()    {}
func (brokerConfirmEvent) isSessionEvent()     {}
func (brokerCreditStateEvent) isSessionEvent() {}
func (transportClosedEvent) isSessionEvent()   {}

// Post enqueues an externally observed event (peer frame, broker callback,
// transport failure) for the session actor to process. It is the only
// thread-safe entry point into a running Session.
func (s *Session) Post(e sessionEvent) {
	select {
	case s.inbox <- e:
	case <-s.ctx.Done():
	}
}

// PostPeerBegin, PostPeerAttach, ... are typed convenience wrappers around
// Post, matching the "Frames recognized" list in spec.md §6.
func (s *Session) PostPeerBegin(f *frames.Begin)           { s.Post(beginEvent{f}) }
func (s *Session) PostPeerAttach(f *frames.Attach)         { s.Post(attachEvent{f}) }
func (s *Session) PostPeerFlow(f *frames.Flow)             { s.Post(flowEvent{f}) }
func (s *Session) PostPeerTransfer(handle uint32, f *frames.Transfer) {
	s.Post(transferEvent{handle, f})
}
func (s *Session) PostPeerDisposition(f *frames.Disposition) { s.Post(dispositionEvent{f}) }
func (s *Session) PostPeerDetach(f *frames.Detach)           { s.Post(detachEvent{f}) }
func (s *Session) PostPeerEnd(f *frames.End)                 { s.Post(endEvent{f}) }

func (s *Session) PostBrokerDelivery(consumerTag string, d amqp091.Delivery) {
	s.Post(brokerDeliveryEvent{consumerTag, d})
}
func (s *Session) PostBrokerConfirm(deliveryTag uint64, multiple, ack bool) {
	s.Post(brokerConfirmEvent{deliveryTag, multiple, ack})
}
func (s *Session) PostBrokerCreditState(consumerTag string, credit uint32, available int32, drain bool) {
	s.Post(brokerCreditStateEvent{consumerTag, credit, available, drain})
}
func (s *Session) PostTransportClosed(err error) { s.Post(transportClosedEvent{err}) }

// Run drains the inbox until the session ends (peer End, local protocol
// error, or transport failure), servicing exactly one event at a time —
// the cooperative-actor discipline of §5.
func (s *Session) Run() {
	defer close(s.done)
	defer s.closeDeclaringChannel()
	defer s.cancel()

	for {
		select {
		case e := <-s.inbox:
			if stop := s.dispatch(e); stop {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) dispatch(e sessionEvent) (stop bool) {
	var err error
	switch ev := e.(type) {
	case beginEvent:
		err = s.handleBegin(ev.frame)
	case attachEvent:
		err = s.handleAttach(ev.frame)
	case flowEvent:
		err = s.handleFlow(ev.frame)
	case transferEvent:
		err = s.handleTransfer(ev.handle, ev.frame)
	case dispositionEvent:
		err = s.handleDisposition(ev.frame)
	case detachEvent:
		err = s.handleDetach(ev.frame)
	case endEvent:
		s.handleEnd(ev.frame)
		return true
	case brokerDeliveryEvent:
		err = s.handleBrokerDelivery(ev.consumerTag, ev.delivery)
	case brokerConfirmEvent:
		err = s.handleBrokerConfirm(ev.deliveryTag, ev.multiple, ev.ack)
	case brokerCreditStateEvent:
		err = s.handleBrokerCreditState(ev.consumerTag, ev.credit, ev.available, ev.drain)
	case transportClosedEvent:
		s.err = &SessionEndError{Local: true, RemoteError: &Error{Description: errTransportMessage(ev.err)}}
		return true
	}

	if protoErr, ok := err.(*SessionEndError); ok {
		s.err = protoErr
		_ = s.sink.SendEnd(&frames.End{Error: protoErr.RemoteError})
		return true
	}
	if err != nil {
		debug.Log(s.ctx, slog.LevelWarn, "session event failed", "error", err)
	}
	return false
}

func errTransportMessage(err error) string {
	if err == nil {
		return ErrTransportClosed.Error()
	}
	return err.Error()
}

// --- Begin (§4.4) ---

func (s *Session) handleBegin(b *frames.Begin) error {
	w := b.IncomingWindow
	if w > s.maxSessionBufferSize {
		w = s.maxSessionBufferSize
	}
	if err := s.dataChannel.Qos(int(w)); err != nil {
		return err
	}

	if err := s.sink.SendBegin(&frames.Begin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: w,
		OutgoingWindow: w,
	}); err != nil {
		return err
	}

	s.nextIncomingID = b.NextOutgoingID
	s.maxOutgoingID = frames.SerialAdd(b.NextOutgoingID, w)
	s.windowSize = w
	return nil
}

// fillSessionFlowFields populates the four session-level fields every flow
// this session emits must carry, per §4.4.
func (s *Session) fillSessionFlowFields(f *frames.Flow) {
	f.NextOutgoingID = s.nextOutgoingID
	f.OutgoingWindow = s.windowSize - uint32(s.outgoingUnsettled.Len())
	f.NextIncomingID = ptrUint32(s.nextIncomingID)
	f.IncomingWindow = s.windowSize
}

// --- Attach ---

func (s *Session) handleAttach(at *frames.Attach) error {
	if at.Role == frames.RoleSender {
		reply, flow, err := s.attachIncoming(s.declaringChannel(), at)
		if err != nil {
			return err
		}
		if err := s.sink.SendAttach(reply); err != nil {
			return err
		}
		if flow != nil {
			s.fillSessionFlowFields(flow)
			return s.sink.SendFlow(flow)
		}
		return nil
	}

	reply, err := s.attachOutgoing(s.declaringChannel(), at)
	if err != nil {
		return err
	}
	return s.sink.SendAttach(reply)
}

// --- Flow (§4.4) ---

func (s *Session) handleFlow(f *frames.Flow) error {
	if f.NextOutgoingID != s.nextIncomingID {
		return protocolError(ErrCondInvalidField, "flow.next-outgoing-id %d != session.next-incoming-id %d", f.NextOutgoingID, s.nextIncomingID)
	}

	rNin := s.nextOutgoingID
	if f.NextIncomingID != nil {
		rNin = *f.NextIncomingID
		if !frames.SerialLessOrEqual(rNin, s.nextOutgoingID) {
			return protocolError(ErrCondInvalidField, "flow.next-incoming-id %d exceeds session.next-outgoing-id %d", rNin, s.nextOutgoingID)
		}
	}
	s.maxOutgoingID = frames.SerialAdd(rNin, f.IncomingWindow)

	if f.Handle == nil {
		return nil
	}
	handle := *f.Handle
	if link, ok := s.outgoingLinks[handle]; ok {
		return s.onOutgoingFlow(link, f)
	}
	if _, ok := s.incomingLinks[handle]; ok {
		return nil // informational only, per §4.4
	}
	return protocolError(ErrCondInvalidField, "flow references unknown handle %d", handle)
}

// --- Transfer (§4.2, §4.4) ---

func (s *Session) handleTransfer(handle uint32, t *frames.Transfer) error {
	link, ok := s.incomingLinks[handle]
	if !ok {
		return protocolError(ErrCondIllegalState, "transfer on unknown handle %d", handle)
	}

	transferID := s.nextIncomingID
	s.nextIncomingID = frames.SerialAdd(transferID, 1)

	publishID, err := s.onIncomingTransfer(s.ctx, link, t, transferID)
	if err != nil {
		return err
	}
	if publishID != 0 {
		s.incomingUnsettled.Put(uint32(publishID), transferID)
	}
	return nil
}

// --- Disposition (§4.4, inbound, role=receiver) ---

func (s *Session) handleDisposition(d *frames.Disposition) error {
	if s.outgoingUnsettled.Len() == 0 {
		return nil
	}
	lwm, _ := s.outgoingUnsettled.Min()
	hwm, _ := s.outgoingUnsettled.Max()

	last := d.LastOrFirst()
	if frames.SerialLess(last, lwm) {
		return nil
	}
	if frames.SerialLess(hwm, d.First) {
		return nil // tolerated per spec.md §4.4 step 2
	}

	lo := d.First
	if frames.SerialLess(lo, lwm) {
		lo = lwm
	}
	hi := last
	if frames.SerialLess(hwm, hi) {
		hi = hwm
	}

	var toRemove []uint32
	s.outgoingUnsettled.RangeInclusive(lo, hi, func(transferID uint32, entry outgoingUnsettledEntry) bool {
		if err := s.applyOutcome(entry.deliveryTag, d.Outcome); err != nil {
			debug.Log(s.ctx, slog.LevelWarn, "applying disposition outcome failed", "transfer_id", transferID, "error", err)
		}
		toRemove = append(toRemove, transferID)
		return true
	})
	for _, id := range toRemove {
		s.outgoingUnsettled.Delete(id)
	}

	if !d.Settled {
		echo := &frames.Disposition{Role: frames.RoleSender, First: lo, Last: ptrUint32(hi), Settled: true, Outcome: d.Outcome}
		return s.sink.SendDisposition(echo)
	}
	return nil
}

func (s *Session) applyOutcome(deliveryTag uint64, outcome frames.Outcome) error {
	switch outcome {
	case frames.OutcomeAccepted:
		return s.dataChannel.Ack(deliveryTag, false)
	case frames.OutcomeRejected:
		return s.dataChannel.Reject(deliveryTag, false)
	case frames.OutcomeReleased:
		return s.dataChannel.Reject(deliveryTag, true)
	default:
		return protocolError(ErrCondNotImplemented, "unsupported outcome %q", outcome)
	}
}

// --- Detach / End ---

func (s *Session) handleDetach(d *frames.Detach) error {
	if d.Error != nil {
		debug.Log(s.ctx, slog.LevelWarn, "link detached by peer with error", "handle", d.Handle, "error", d.Error)
	}
	// Outstanding unsettled entries tied to this handle are left in the
	// session maps until dispositions arrive, per spec.md §4.4/§9's
	// resolution of the "fate of unsettled entries at detach" open
	// question: best-effort settlement continues after detach since the
	// broker-side state (confirm/delivery) does not depend on the link.
	delete(s.incomingLinks, d.Handle)
	delete(s.outgoingLinks, d.Handle)
	return s.sink.SendDetach(&frames.Detach{Handle: d.Handle})
}

func (s *Session) handleEnd(e *frames.End) {
	if e.Error != nil {
		s.err = &SessionEndError{RemoteError: e.Error}
	}
	_ = s.sink.SendEnd(&frames.End{})
}

// --- Broker-origin events (§4.3, §4.4) ---

func (s *Session) handleBrokerDelivery(consumerTag string, d amqp091.Delivery) error {
	handle, err := decodeConsumerTag(consumerTag)
	if err != nil {
		return protocolError(ErrCondIllegalState, "%s", err)
	}
	link, ok := s.outgoingLinks[handle]
	if !ok {
		return protocolError(ErrCondIllegalState, "delivery for unattached handle %d", handle)
	}
	return s.onOutgoingDelivery(link, d)
}

func (s *Session) handleBrokerCreditState(consumerTag string, credit uint32, available int32, drain bool) error {
	handle, err := decodeConsumerTag(consumerTag)
	if err != nil {
		return protocolError(ErrCondIllegalState, "%s", err)
	}
	link, ok := s.outgoingLinks[handle]
	if !ok {
		return nil // link already detached; credit-state races with detach are tolerated
	}
	return s.onOutgoingCreditState(s.ctx, link, credit, available, drain)
}

// handleBrokerConfirm implements §4.4's "Broker confirm (ack) for an
// incoming transfer."
func (s *Session) handleBrokerConfirm(deliveryTag uint64, multiple, ack bool) error {
	if !ack {
		// nack: the bridge is at-least-once when unsettled (spec.md §1
		// non-goals); a failed publish simply never gets disposed toward
		// the peer, who will eventually redeliver or time out.
		return nil
	}

	upTo := uint32(deliveryTag)
	matched := s.incomingUnsettled.UpToInclusive(upTo)
	if !multiple && len(matched) > 0 && matched[len(matched)-1] != upTo {
		matched = nil
	}
	if len(matched) == 0 {
		return nil
	}

	var minID, maxID uint32
	found := false
	for _, publishID := range matched {
		transferID, ok := s.incomingUnsettled.Get(publishID)
		if !ok {
			continue
		}
		if !found || frames.SerialLess(transferID, minID) {
			minID = transferID
		}
		if !found || frames.SerialLess(maxID, transferID) {
			maxID = transferID
		}
		found = true
		s.incomingUnsettled.Delete(publishID)
	}
	if !found {
		return nil
	}

	return s.sink.SendDisposition(&frames.Disposition{
		Role:    frames.RoleSender,
		First:   minID,
		Last:    ptrUint32(maxID),
		Settled: true,
		Outcome: frames.OutcomeAccepted,
	})
}

// --- declaring channel (§4.9) ---

func (s *Session) declaringChannel() BackingChannel {
	if s.declaringChan != nil {
		return s.declaringChan
	}
	ch, err := s.newDeclaring()
	if err != nil {
		debug.Log(s.ctx, slog.LevelWarn, "failed to open declaring channel", "error", err)
		return failingChannel{err}
	}
	s.declaringChan = ch
	return ch
}

// discardDeclaringChannel implements §4.9: on any failure reply from the
// broker, the declaring channel is discarded so the next attach opens a
// fresh one.
func (s *Session) discardDeclaringChannel() {
	s.declaringChan = nil
}

func (s *Session) closeDeclaringChannel() {
	s.declaringChan = nil
}

// pumpDeliveries forwards a consumer's delivery channel into the session's
// event inbox. One such goroutine runs per outgoing link for the link's
// lifetime; it exits when the broker closes the delivery channel (consumer
// cancelled) or the session itself shuts down.
func (s *Session) pumpDeliveries(consumerTag string, deliveries <-chan amqp091.Delivery) {
	go func() {
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				s.PostBrokerDelivery(consumerTag, d)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// pumpConfirms forwards the data channel's publish-confirm notifications into
// the session's event inbox. Registered once, the first time an incoming
// link needs unsettled/mixed delivery, mirroring pumpDeliveries' shape for
// the outgoing side.
func (s *Session) pumpConfirms(confirms <-chan amqp091.Confirmation) {
	go func() {
		for {
			select {
			case c, ok := <-confirms:
				if !ok {
					return
				}
				// amqp091.Confirmation reports exactly one delivery tag per
				// event; RabbitMQ's confirm extension never batches acks the
				// way a raw basic.ack with multiple=true would.
				s.PostBrokerConfirm(c.DeliveryTag, false, c.Ack)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// registerConfirms puts the data channel into confirm mode and starts
// pumping its confirmations into the session, exactly once per session.
func (s *Session) registerConfirms() error {
	if s.confirmEnabled {
		return nil
	}
	if err := s.dataChannel.Confirm(); err != nil {
		return err
	}
	confirms := make(chan amqp091.Confirmation, 64)
	s.dataChannel.NotifyPublish(confirms)
	s.pumpConfirms(confirms)
	s.confirmEnabled = true
	return nil
}

// pumpCreditState forwards the data channel's basic.credit-state
// notifications into the session's event inbox.
func (s *Session) pumpCreditState(states <-chan frames.CreditState) {
	go func() {
		for {
			select {
			case cs, ok := <-states:
				if !ok {
					return
				}
				s.PostBrokerCreditState(cs.ConsumerTag, cs.Credit, cs.Available, cs.Drain)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// registerCreditState subscribes the session to the data channel's
// credit-state notifications, exactly once per session regardless of how
// many outgoing links attach afterward.
func (s *Session) registerCreditState() {
	if s.creditStateRegistered {
		return
	}
	s.creditStateRegistered = true
	states := make(chan frames.CreditState, 64)
	s.dataChannel.NotifyCreditState(states)
	s.pumpCreditState(states)
}

// failingChannel stands in for a declaring channel that could not be
// opened: every method fails immediately so attach resolution falls
// through to its ordinary "reply with empty linkage" error path instead of
// panicking on a nil BackingChannel.
type failingChannel struct{ err error }

func (f failingChannel) QueueDeclarePassive(string) (amqp091.Queue, error) { return amqp091.Queue{}, f.err }
func (f failingChannel) QueueDeclare(string, bool, bool, bool) (amqp091.Queue, error) {
	return amqp091.Queue{}, f.err
}
func (f failingChannel) ExchangeDeclarePassive(string) error { return f.err }
func (f failingChannel) QueueBind(string, string, string) error { return f.err }
func (f failingChannel) Confirm() error { return f.err }
func (f failingChannel) NotifyPublish(chan amqp091.Confirmation) {}
func (f failingChannel) NotifyCreditState(chan frames.CreditState) {}
func (f failingChannel) Publish(context.Context, string, string, amqp091.Publishing) error {
	return f.err
}
func (f failingChannel) Consume(string, string) (<-chan amqp091.Delivery, error) { return nil, f.err }
func (f failingChannel) Credit(string, uint32, bool) error                       { return f.err }
func (f failingChannel) Ack(uint64, bool) error                                  { return f.err }
func (f failingChannel) Reject(uint64, bool) error                               { return f.err }
func (f failingChannel) Qos(int) error                                           { return f.err }
