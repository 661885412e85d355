// Package frames defines the AMQP 1.0 performatives the session core
// exchanges with its peer. It is data only: encoding the performatives to
// and from wire bytes is the 1.0 frame codec, an external collaborator per
// the design (out of scope here — see Session's FrameSink contract).
package frames

// Role identifies which end of a link a peer is playing.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// SenderSettleMode is the delivery settlement policy proposed/used by a sender.
type SenderSettleMode uint8

const (
	SenderSettleModeUnsettled SenderSettleMode = 0
	SenderSettleModeSettled   SenderSettleMode = 1
	SenderSettleModeMixed     SenderSettleMode = 2
)

// ReceiverSettleMode is the settlement policy proposed/used by a receiver.
type ReceiverSettleMode uint8

const (
	ReceiverSettleModeFirst  ReceiverSettleMode = 0
	ReceiverSettleModeSecond ReceiverSettleMode = 1
)

// Outcome is the terminal disposition of a transfer.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeReleased Outcome = "released"
)

// SupportedOutcomes is the outcome set this bridge understands. Anything
// outside this set fails attach negotiation with not-implemented.
var SupportedOutcomes = map[Outcome]bool{
	OutcomeAccepted: true,
	OutcomeRejected: true,
	OutcomeReleased: true,
}

// ErrCond is an AMQP 1.0 error condition symbol.
type ErrCond string

const (
	ErrCondInvalidField   ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented ErrCond = "amqp:not-implemented"
	ErrCondIllegalState   ErrCond = "amqp:illegal-state"
	ErrCondInternalError  ErrCond = "amqp:internal-error"
	ErrCondNotFound       ErrCond = "amqp:not-found"
)

// Error is the AMQP 1.0 error structure carried on detach/end.
type Error struct {
	Condition   ErrCond
	Description string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return string(e.Condition) + ": " + e.Description
}

// Source describes the originating terminus of a link.
type Source struct {
	Address          string
	Dynamic          bool
	DynamicNodeProps map[string]any
	DistributionMode string
	DefaultOutcome   Outcome
	Outcomes         []Outcome
}

// Target describes the terminating terminus of a link.
type Target struct {
	Address string
	Dynamic bool
}

// Begin is the session-establishing performative.
type Begin struct {
	RemoteChannel  *uint16
	NextOutgoingID uint32
	IncomingWindow uint32
	OutgoingWindow uint32
}

// Attach establishes a link on an open session.
type Attach struct {
	Name               string
	Handle             uint32
	Role               Role
	SenderSettleMode   SenderSettleMode
	ReceiverSettleMode ReceiverSettleMode
	Source             *Source
	Target             *Target
	InitialDeliveryCount *uint32
}

// Flow carries session-window and, optionally, per-link credit state.
type Flow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32

	Handle        *uint32
	DeliveryCount *uint32
	LinkCredit    *uint32
	Available     *uint32
	Drain         bool
	Echo          bool
}

// Transfer carries (a fragment of) a message payload.
type Transfer struct {
	Handle      uint32
	DeliveryID  *uint32
	DeliveryTag []byte
	Settled     bool
	More        bool
	Resume      bool
	Aborted     bool
	Payload     []byte
}

// Disposition communicates settlement/outcome state for a transfer-id range.
type Disposition struct {
	Role    Role
	First   uint32
	Last    *uint32
	Settled bool
	Outcome Outcome
}

// LastOrFirst returns Last if set, else First, per the AMQP 1.0 default.
func (d *Disposition) LastOrFirst() uint32 {
	if d.Last != nil {
		return *d.Last
	}
	return d.First
}

// Detach ends a single link.
type Detach struct {
	Handle uint32
	Closed bool
	Error  *Error
}

// End terminates a session.
type End struct {
	Error *Error
}
