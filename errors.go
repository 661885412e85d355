package session

import (
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp10-bridge/internal/frames"
)

// ErrCond is an AMQP 1.0 error condition.
// See http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#type-amqp-error
type ErrCond = frames.ErrCond

// Error conditions the session core can raise. This is exactly the
// taxonomy of the design's error-handling table — no condition here lacks a
// row there, and no row there lacks a condition here.
const (
	ErrCondInvalidField   ErrCond = frames.ErrCondInvalidField
	ErrCondNotImplemented ErrCond = frames.ErrCondNotImplemented
	ErrCondIllegalState   ErrCond = frames.ErrCondIllegalState
	ErrCondInternalError  ErrCond = frames.ErrCondInternalError
	ErrCondNotFound       ErrCond = frames.ErrCondNotFound
)

// Error is the AMQP 1.0 error carried on a detach or end frame.
type Error = frames.Error

// DetachError describes a link detach, whether graceful or with an Error
// attached by the peer. The session core does not return it: a peer detach
// is answered with a detach frame and, when it carries an Error, logged.
type DetachError struct {
	RemoteError *Error
}

func (e *DetachError) Error() string {
	if e.RemoteError == nil {
		return "amqp10-bridge: link detached"
	}
	return fmt.Sprintf("amqp10-bridge: link detached, reason: %+v", e.RemoteError)
}

// SessionEndError is returned by Session.Err after Run returns, when the
// peer sent an End carrying a non-nil Error, or when the session raised a
// protocol error of its own.
type SessionEndError struct {
	RemoteError *Error
	// Local is true when the session raised this error itself rather than
	// receiving it from the peer's End frame.
	Local bool
}

func (e *SessionEndError) Error() string {
	if e.Local {
		return fmt.Sprintf("amqp10-bridge: session terminated: %+v", e.RemoteError)
	}
	return fmt.Sprintf("amqp10-bridge: session ended by peer: %+v", e.RemoteError)
}

func protocolError(cond ErrCond, format string, args ...any) *SessionEndError {
	return &SessionEndError{
		RemoteError: &Error{Condition: cond, Description: fmt.Sprintf(format, args...)},
		Local:       true,
	}
}

// Top-level sentinel errors.
var (
	// ErrSessionClosed reports that the session has already ended. The
	// session core does not return it: Post drops events that arrive after
	// shutdown without reporting an error.
	ErrSessionClosed = errors.New("amqp10-bridge: session closed")

	// ErrTransportClosed is propagated when the frame writer or backing
	// channel reports an unrecoverable write/connection failure.
	ErrTransportClosed = errors.New("amqp10-bridge: transport closed")
)

// Address-resolution failure reasons (§4.1). These classify an AddressError
// without pinning it to a specific malformed address string, so callers can
// compare with errors.Is.
var (
	errUnknownAddress             = errors.New("address does not match the supported grammar")
	errBothDynamicAndAddrSupplied = errors.New("dynamic and an explicit address are mutually exclusive")
	errNotFound                   = errors.New("queue or exchange does not exist")
)

// AddressError reports why an attach's source or target address could not
// be resolved (§4.1). Resolution failures never terminate the session: the
// caller replies to the attach with an empty linkage and carries on.
type AddressError struct {
	Address string
	Reason  error
}

func (e *AddressError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("amqp10-bridge: address resolution failed: %v", e.Reason)
	}
	return fmt.Sprintf("amqp10-bridge: address %q: %v", e.Address, e.Reason)
}

func (e *AddressError) Unwrap() error { return e.Reason }
